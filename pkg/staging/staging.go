// Package staging manages the raw payload file and sidecar metadata for
// each in-progress TUS upload.
package staging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tusway/tusway/pkg/metadata"
)

// Info is the sidecar metadata persisted alongside a staged upload's
// payload file.
type Info struct {
	ID           string            `json:"id"`
	Size         int64             `json:"size"`
	Offset       int64             `json:"offset"`
	Metadata     metadata.Metadata `json:"metadata"`
	CreationDate time.Time         `json:"creation_date"`
}

// Complete reports whether the payload file has received every byte it
// was declared to hold.
func (i Info) Complete() bool { return i.Offset >= i.Size }

// Store manages staged upload payloads and their sidecars on local disk.
type Store struct {
	dir string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates a Store rooted at dir, creating dir if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	return &Store{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// Dir returns the staging directory.
func (s *Store) Dir() string { return s.dir }

// lockFor returns the per-staging-id mutex, creating it on first use. This
// is the serialization point spec.md requires for concurrent appends to the
// same upload; distinct staging ids never contend with each other.
func (s *Store) lockFor(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Store) forget(id string) {
	s.locksMu.Lock()
	delete(s.locks, id)
	s.locksMu.Unlock()
}

func (s *Store) payloadPath(id string) string { return filepath.Join(s.dir, id) }
func (s *Store) sidecarPath(id string) string { return filepath.Join(s.dir, id+".json") }

// Create allocates a fresh staging id, an empty payload file, and an
// initial sidecar with offset 0.
func (s *Store) Create(size int64, m metadata.Metadata) (Info, error) {
	id := uuid.NewString()

	f, err := os.Create(s.payloadPath(id))
	if err != nil {
		return Info{}, fmt.Errorf("failed to create payload file: %w", err)
	}
	if err := f.Close(); err != nil {
		return Info{}, fmt.Errorf("failed to close payload file: %w", err)
	}

	info := Info{
		ID:           id,
		Size:         size,
		Offset:       0,
		Metadata:     m,
		CreationDate: time.Now(),
	}

	if err := s.save(info); err != nil {
		return Info{}, err
	}

	return info, nil
}

// Load reads an upload's sidecar. Returns false if no such upload exists.
func (s *Store) Load(id string) (Info, bool, error) {
	data, err := os.ReadFile(s.sidecarPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Info{}, false, nil
		}
		return Info{}, false, fmt.Errorf("failed to read sidecar: %w", err)
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, false, fmt.Errorf("failed to parse sidecar: %w", err)
	}
	return info, true, nil
}

func (s *Store) save(info Info) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal sidecar: %w", err)
	}
	if err := os.WriteFile(s.sidecarPath(info.ID), data, 0o644); err != nil {
		return fmt.Errorf("failed to write sidecar: %w", err)
	}
	return nil
}

// Append writes body at the upload's current offset, advances and
// persists the offset, and returns the updated Info. Append checks that
// clientOffset matches the stored offset under the per-id lock, so the
// read-mutate-write sequence is guarded against concurrent requests; a
// mismatch returns an error for which IsOffsetMismatch reports true.
func (s *Store) Append(id string, clientOffset int64, body io.Reader) (Info, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	info, ok, err := s.Load(id)
	if err != nil {
		return Info{}, err
	}
	if !ok {
		return Info{}, fmt.Errorf("upload %q not found", id)
	}
	if clientOffset != info.Offset {
		return Info{}, &offsetMismatchError{want: info.Offset, got: clientOffset}
	}

	f, err := os.OpenFile(s.payloadPath(id), os.O_WRONLY, 0o644)
	if err != nil {
		return Info{}, fmt.Errorf("failed to open payload file: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(info.Offset, io.SeekStart); err != nil {
		return Info{}, fmt.Errorf("failed to seek payload file: %w", err)
	}

	written, err := io.Copy(f, body)
	if err != nil {
		return Info{}, fmt.Errorf("failed to append to payload file: %w", err)
	}

	info.Offset += written
	if err := s.save(info); err != nil {
		return Info{}, err
	}

	return info, nil
}

// offsetMismatchError signals a client Upload-Offset that disagrees with
// the server's recorded offset.
type offsetMismatchError struct {
	want, got int64
}

func (e *offsetMismatchError) Error() string {
	return fmt.Sprintf("offset mismatch: server has %d, client sent %d", e.want, e.got)
}

// IsOffsetMismatch reports whether err is an offset-mismatch error.
func IsOffsetMismatch(err error) bool {
	_, ok := err.(*offsetMismatchError)
	return ok
}

// PayloadPath returns the path of an upload's raw payload file inside the
// staging directory.
func (s *Store) PayloadPath(id string) string { return s.payloadPath(id) }

// OpenPayload opens an upload's payload file for reading.
func (s *Store) OpenPayload(id string) (*os.File, error) {
	return os.Open(s.payloadPath(id))
}

// SaveInfo persists an externally constructed Info as the sidecar for
// info.ID, overwriting any existing one.
func (s *Store) SaveInfo(info Info) error {
	return s.save(info)
}

// Remove deletes an upload's payload and sidecar and releases its lock.
func (s *Store) Remove(id string) error {
	defer s.forget(id)

	var firstErr error
	if err := os.Remove(s.payloadPath(id)); err != nil && !os.IsNotExist(err) {
		firstErr = err
	}
	if err := os.Remove(s.sidecarPath(id)); err != nil && !os.IsNotExist(err) {
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RemoveSidecarOnly deletes just the sidecar, used once an upload's payload
// has already been relocated to its final destination and only the
// bookkeeping entry remains to be cleaned up.
func (s *Store) RemoveSidecarOnly(id string) error {
	err := os.Remove(s.sidecarPath(id))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Finalize releases an id's lock and removes its sidecar after the payload
// has already been moved to its final destination by the caller.
func (s *Store) Finalize(id string) error {
	defer s.forget(id)
	return s.RemoveSidecarOnly(id)
}

// ListSidecars returns the staging ids of every sidecar currently present,
// used by the assembler to rehydrate in-flight multipart groups on
// startup.
func (s *Store) ListSidecars() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read staging directory: %w", err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		const suffix = ".json"
		if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
			ids = append(ids, name[:len(name)-len(suffix)])
		}
	}
	return ids, nil
}
