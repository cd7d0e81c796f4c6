// Package strategy implements the filename and duplicate-resolution
// strategy registries: open dispatch tables from a policy name to a pure
// function, extensible at startup, that never fail on an unknown name —
// they fall back to the documented default instead.
package strategy

import (
	"github.com/tusway/tusway/pkg/metadata"
	"github.com/tusway/tusway/pkg/pathing"
)

const (
	// DuplicatePrevent rejects a colliding name outright (the rejection
	// itself happens at create-time, not inside this handler).
	DuplicatePrevent = "prevent"
	// DuplicateNumber appends a numeric suffix to avoid a collision.
	DuplicateNumber = "number"

	// FilenameDefault names the destination file after the staging id.
	FilenameDefault = "default"
	// FilenameOriginal names the destination file after the caller-supplied
	// filename, sanitized and run through the duplicate handler.
	FilenameOriginal = "original"
)

// DuplicateHandler resolves a filename that may collide with an existing
// file in dir into one that is safe to use.
type DuplicateHandler func(filename, dir string) (string, error)

// FilenameHandler derives the final filename for an upload from its
// metadata and staging id.
type FilenameHandler func(m metadata.Metadata, stagingID string) (string, error)

// Registry holds named filename and duplicate-resolution policies.
type Registry struct {
	paths      *pathing.Service
	duplicate  map[string]DuplicateHandler
	filename   map[string]FilenameHandler
}

// NewRegistry builds a Registry with the built-in policies registered,
// ready for callers to register additional named policies before use.
func NewRegistry(paths *pathing.Service) *Registry {
	r := &Registry{
		paths:     paths,
		duplicate: make(map[string]DuplicateHandler),
		filename:  make(map[string]FilenameHandler),
	}

	r.RegisterDuplicateHandler(DuplicatePrevent, func(filename, dir string) (string, error) {
		return filename, nil
	})
	r.RegisterDuplicateHandler(DuplicateNumber, func(filename, dir string) (string, error) {
		return paths.UniqueName(filename, dir)
	})

	r.RegisterFilenameHandler(FilenameDefault, func(m metadata.Metadata, stagingID string) (string, error) {
		return stagingID, nil
	})
	r.RegisterFilenameHandler(FilenameOriginal, func(m metadata.Metadata, stagingID string) (string, error) {
		name := m.Filename
		if name == "" {
			name = stagingID
		}
		name = paths.Sanitize(name)

		onDuplicate := m.OnDuplicate
		if onDuplicate == "" {
			onDuplicate = DuplicatePrevent
		}
		handler := r.duplicateHandler(onDuplicate)

		dir := paths.DestinationDir(m.DestinationPath)
		return handler(name, dir)
	})

	return r
}

// RegisterDuplicateHandler adds or replaces a named duplicate-resolution
// policy.
func (r *Registry) RegisterDuplicateHandler(name string, h DuplicateHandler) {
	r.duplicate[name] = h
}

// RegisterFilenameHandler adds or replaces a named filename policy.
func (r *Registry) RegisterFilenameHandler(name string, h FilenameHandler) {
	r.filename[name] = h
}

func (r *Registry) duplicateHandler(name string) DuplicateHandler {
	if h, ok := r.duplicate[name]; ok {
		return h
	}
	return r.duplicate[DuplicatePrevent]
}

func (r *Registry) filenameHandler(name string) FilenameHandler {
	if h, ok := r.filename[name]; ok {
		return h
	}
	return r.filename[FilenameDefault]
}

// FinalFilename dispatches to the filename handler named by
// m.WithFilename, falling back to FilenameDefault when unset or unknown.
func (r *Registry) FinalFilename(m metadata.Metadata, stagingID string) (string, error) {
	name := m.WithFilename
	if name == "" {
		name = FilenameDefault
	}
	return r.filenameHandler(name)(m, stagingID)
}

// UsesOriginalFilename reports whether the upload is named after its
// caller-supplied filename: true iff the filename strategy is "original"
// and a filename was actually supplied. The TUS handler uses it to decide
// whether the create-time duplicate check applies. Finalization does not
// consult it: the staging sidecar is removed in every case and no copy is
// placed beside the moved file.
func (r *Registry) UsesOriginalFilename(m metadata.Metadata) bool {
	return m.WithFilename == FilenameOriginal && m.Filename != ""
}
