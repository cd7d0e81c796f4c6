//go:build windows

package pathing

import (
	"errors"

	"golang.org/x/sys/windows"
)

// isCrossDevice reports whether err is the platform's cross-device rename
// error, the trigger for the copy-then-unlink fallback in Move.
func isCrossDevice(err error) bool {
	return errors.Is(err, windows.ERROR_NOT_SAME_DEVICE)
}
