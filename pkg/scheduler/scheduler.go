// Package scheduler drives a queue of files through pkg/tusclient: it
// selects a knapsack-maximal batch of pending files against a fixed
// concurrent-stream budget, splits oversized files into parts, uploads a
// batch in parallel, and waits for the whole batch to resolve before
// re-planning.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tusway/tusway/pkg/metadata"
	"github.com/tusway/tusway/pkg/partition"
	"github.com/tusway/tusway/pkg/tusclient"
)

// Status is a QueuedFile's position in its upload lifecycle.
type Status int

const (
	StatusPending Status = iota
	StatusUploading
	StatusCompleted
	StatusError
)

// Config holds the scheduler's tunables, all sourced from the public
// protocol's creation metadata defaults and stream budget.
type Config struct {
	Endpoint         string
	ChunkSize        int64
	RetryDelays      []time.Duration
	MaxStreamCount   int
	MaxFileSelection int
	WithFilename     string
	OnDuplicate      string
	DestinationPath  string
}

// QueuedFile is one file awaiting or undergoing upload.
type QueuedFile struct {
	ID       string
	Handle   io.ReaderAt
	Size     int64
	Filename string
	Filetype string

	Status        Status
	UploadedBytes int64
	Err           error

	parts int
}

// Progress returns the fraction of bytes uploaded so far, in [0,1].
// Clamped to 0.99 until Status reaches StatusCompleted, so a multipart
// upload whose parts land their final bytes slightly ahead of the
// completion check never reports 100% before it has actually finished.
func (f *QueuedFile) Progress() float64 {
	if f.Status == StatusCompleted {
		return 1
	}
	if f.Size == 0 {
		return 0.99
	}
	p := float64(atomic.LoadInt64(&f.UploadedBytes)) / float64(f.Size)
	if p > 0.99 {
		p = 0.99
	}
	return p
}

// Scheduler drives QueuedFiles through a tusclient.Client.
type Scheduler struct {
	cfg    Config
	client *tusclient.Client

	mu       sync.Mutex
	queue    []*QueuedFile
	sessions map[string]context.CancelFunc // {fileId} or {fileId}-{partIndex} -> cancel
}

// New builds a Scheduler bound to client.
func New(cfg Config, client *tusclient.Client) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		client:   client,
		sessions: make(map[string]context.CancelFunc),
	}
}

// Enqueue adds f to the pending queue, annotating it with its part count.
func (s *Scheduler) Enqueue(f *QueuedFile) {
	f.parts = partition.Count(f.Size)
	f.Status = StatusPending

	s.mu.Lock()
	s.queue = append(s.queue, f)
	s.mu.Unlock()
}

// Cancel aborts every outstanding session belonging to fileID and removes
// the file from the queue if it has not started uploading.
func (s *Scheduler) Cancel(fileID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, cancel := range s.sessions {
		if key == fileID || strings.HasPrefix(key, fileID+"-") {
			cancel()
			delete(s.sessions, key)
		}
	}

	for i, f := range s.queue {
		if f.ID == fileID && f.Status == StatusPending {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
}

// ClearCompleted drops every completed file from the queue.
func (s *Scheduler) ClearCompleted() {
	s.filterOut(StatusCompleted)
}

// ClearPending drops every not-yet-started file from the queue.
func (s *Scheduler) ClearPending() {
	s.filterOut(StatusPending)
}

func (s *Scheduler) filterOut(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.queue[:0]
	for _, f := range s.queue {
		if f.Status != status {
			kept = append(kept, f)
		}
	}
	s.queue = kept
}

func (s *Scheduler) pendingLocked() []*QueuedFile {
	var pending []*QueuedFile
	for _, f := range s.queue {
		if f.Status == StatusPending {
			pending = append(pending, f)
		}
	}
	return pending
}

// Run drives the scheduler until the queue holds no pending or uploading
// files, or ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.mu.Lock()
		pending := s.pendingLocked()
		s.mu.Unlock()

		if len(pending) == 0 {
			return nil
		}

		if len(pending) > s.cfg.MaxFileSelection {
			pending = pending[:s.cfg.MaxFileSelection]
		}

		batch := selectBatch(pending, s.cfg.MaxStreamCount)
		s.runBatch(ctx, batch)
	}
}

func (s *Scheduler) runBatch(ctx context.Context, batch []*QueuedFile) {
	var wg sync.WaitGroup
	for _, f := range batch {
		f.Status = StatusUploading
		wg.Add(1)
		go func(f *QueuedFile) {
			defer wg.Done()
			s.uploadFile(ctx, f)
		}(f)
	}
	wg.Wait()
}

func (s *Scheduler) uploadFile(ctx context.Context, f *QueuedFile) {
	if f.parts <= 1 {
		m := metadata.Metadata{
			Filename:         f.Filename,
			Filetype:         f.Filetype,
			WithFilename:     s.cfg.WithFilename,
			OnDuplicate:      s.cfg.OnDuplicate,
			DestinationPath:  s.cfg.DestinationPath,
			OriginalFileSize: -1,
		}
		if err := s.uploadSession(ctx, f, f.ID, 0, f.Size, m); err != nil {
			f.Status = StatusError
			f.Err = err
			return
		}
		f.Status = StatusCompleted
		return
	}

	multipartID := uuid.NewString()
	sliceSize := (f.Size + int64(f.parts) - 1) / int64(f.parts)

	fileCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var once sync.Once
	var partWG sync.WaitGroup
	for i := 0; i < f.parts; i++ {
		start := int64(i) * sliceSize
		length := sliceSize
		if start+length > f.Size {
			length = f.Size - start
		}
		if length <= 0 {
			continue
		}

		partWG.Add(1)
		go func(idx int, start, length int64) {
			defer partWG.Done()

			m := metadata.Metadata{
				Filename:         f.Filename,
				Filetype:         f.Filetype,
				WithFilename:     s.cfg.WithFilename,
				OnDuplicate:      s.cfg.OnDuplicate,
				DestinationPath:  s.cfg.DestinationPath,
				MultipartID:      multipartID,
				PartIndex:        idx + 1,
				TotalParts:       f.parts,
				OriginalFileSize: f.Size,
			}

			sessionKey := fmt.Sprintf("%s-%d", f.ID, idx+1)
			if err := s.uploadSession(fileCtx, f, sessionKey, start, length, m); err != nil {
				once.Do(func() {
					f.Status = StatusError
					f.Err = err
					cancel()
				})
			}
		}(i, start, length)
	}
	partWG.Wait()

	if f.Status != StatusError {
		f.Status = StatusCompleted
	}
}

func (s *Scheduler) uploadSession(ctx context.Context, f *QueuedFile, sessionKey string, start, length int64, m metadata.Metadata) error {
	sessionCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.sessions[sessionKey] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sessionKey)
		s.mu.Unlock()
		cancel()
	}()

	stagingID, err := s.client.Create(sessionCtx, length, m)
	if err != nil {
		return fmt.Errorf("failed to create upload session %q: %w", sessionKey, err)
	}

	chunkSize := s.cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = length
	}
	if chunkSize <= 0 {
		chunkSize = 1
	}

	var offset int64
	for offset < length {
		n := chunkSize
		if offset+n > length {
			n = length - offset
		}

		chunk := io.NewSectionReader(f.Handle, start+offset, n)
		newOffset, err := s.client.Append(sessionCtx, stagingID, offset, chunk, n)
		if err != nil {
			return fmt.Errorf("failed to append to upload session %q: %w", sessionKey, err)
		}

		atomic.AddInt64(&f.UploadedBytes, newOffset-offset)
		offset = newOffset
	}

	return nil
}

// selectBatch picks the subset of pending whose summed part counts is
// ≤ capacity and maximal: no other subset with sum ≤ capacity has a
// strictly greater sum. Exhaustive backtracking in declaration order,
// pruned by a running best and each suffix's remaining capacity. If no
// non-empty subset fits (every file's own part count already exceeds
// capacity), the first pending file is forced through to guarantee
// progress.
func selectBatch(pending []*QueuedFile, capacity int) []*QueuedFile {
	if len(pending) == 0 {
		return nil
	}

	suffixSum := make([]int, len(pending)+1)
	for i := len(pending) - 1; i >= 0; i-- {
		suffixSum[i] = suffixSum[i+1] + pending[i].parts
	}

	var best []int
	bestSum := 0
	current := make([]int, 0, len(pending))
	currentSum := 0

	var backtrack func(i int)
	backtrack = func(i int) {
		if currentSum > bestSum {
			bestSum = currentSum
			best = append(best[:0], current...)
		}
		if i >= len(pending) || currentSum+suffixSum[i] <= bestSum {
			return
		}

		if currentSum+pending[i].parts <= capacity {
			current = append(current, i)
			currentSum += pending[i].parts
			backtrack(i + 1)
			currentSum -= pending[i].parts
			current = current[:len(current)-1]
		}

		backtrack(i + 1)
	}
	backtrack(0)

	if len(best) == 0 {
		return []*QueuedFile{pending[0]}
	}

	result := make([]*QueuedFile, len(best))
	for i, idx := range best {
		result[i] = pending[idx]
	}
	return result
}
