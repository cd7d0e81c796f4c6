//go:build !windows

package pathing

import (
	"errors"

	"golang.org/x/sys/unix"
)

// isCrossDevice reports whether err is the platform's cross-device rename
// error (EXDEV), the trigger for the copy-then-unlink fallback in Move.
func isCrossDevice(err error) bool {
	return errors.Is(err, unix.EXDEV)
}
