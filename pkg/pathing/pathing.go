// Package pathing sanitizes filenames and resolves destination paths
// beneath a configured mount root, including duplicate-safe renaming.
package pathing

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var defaultSanitizeRE = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Service resolves filenames and directories beneath a mount root.
type Service struct {
	mountPath  string
	sanitizeRE *regexp.Regexp
}

// New creates a Service rooted at mountPath.
func New(mountPath string) *Service {
	return &Service{
		mountPath:  mountPath,
		sanitizeRE: defaultSanitizeRE,
	}
}

// Sanitize replaces every byte not matching [A-Za-z0-9._-] with an
// underscore. Idempotent: Sanitize(Sanitize(x)) == Sanitize(x).
func (s *Service) Sanitize(name string) string {
	return s.sanitizeRE.ReplaceAllString(name, "_")
}

// Normalize strips leading/trailing separators from a destination
// subdirectory. Empty input yields empty output; non-empty output always
// ends with a separator.
func (s *Service) Normalize(destPath string) string {
	trimmed := strings.Trim(destPath, "/")
	if trimmed == "" {
		return ""
	}
	return trimmed + "/"
}

// DestinationDir returns the directory a destPath resolves to beneath the
// mount root.
func (s *Service) DestinationDir(destPath string) string {
	return filepath.Join(s.mountPath, filepath.FromSlash(s.Normalize(destPath)))
}

// FullPath returns the path a filename resolves to beneath destPath,
// inside the mount root.
func (s *Service) FullPath(filename, destPath string) string {
	return filepath.Join(s.DestinationDir(destPath), filename)
}

// Exists reports whether filename already exists beneath destPath.
func (s *Service) Exists(filename, destPath string) bool {
	_, err := os.Stat(s.FullPath(filename, destPath))
	return err == nil
}

// UniqueName ensures dir exists and returns the first name of the form
// base(n).ext that does not collide with an existing file in dir, probing
// n = 1, 2, 3, ... Callers are responsible for the small TOCTOU window
// between this call and actually placing the file; acceptable for a
// single-writer server.
func (s *Service) UniqueName(filename, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s(%d)%s", base, n, ext)
		if _, err := os.Stat(filepath.Join(dir, candidate)); os.IsNotExist(err) {
			return candidate, nil
		}
	}
}

// Move relocates src to dst, creating dst's parent directory on demand.
// It first attempts an in-place rename; on cross-device failure it falls
// back to a copy-then-unlink.
func (s *Service) Move(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	if err := os.Rename(src, dst); err == nil {
		return nil
	} else if !isCrossDevice(err) {
		return fmt.Errorf("failed to move file: %w", err)
	}

	if err := copyThenUnlink(src, dst); err != nil {
		return fmt.Errorf("failed to move file across devices: %w", err)
	}
	return nil
}

func copyThenUnlink(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Dir(dst), ".tusway-move-*")
	if err != nil {
		return err
	}
	tmpPath := out.Name()

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Remove(src)
}
