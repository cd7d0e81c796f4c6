// Package assembly finalizes completed uploads: a solo upload's payload is
// moved straight to its destination, while a multipart upload's payload is
// held until every sibling part has landed, then concatenated in strict
// part-index order before the move. Grounded on the teacher's
// MultipartManager (pkg/storage/multipart.go), generalized from S3 part
// bookkeeping to index-ordered byte concatenation.
package assembly

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tusway/tusway/pkg/metadata"
	"github.com/tusway/tusway/pkg/pathing"
	"github.com/tusway/tusway/pkg/staging"
	"github.com/tusway/tusway/pkg/strategy"
)

// group tracks the parts seen so far for one multipart upload.
type group struct {
	mu        sync.Mutex
	total     int
	parts     map[int]staging.Info // partIndex -> completed part
	assembled bool
}

func (g *group) complete() bool {
	return len(g.parts) >= g.total
}

// Assembler finalizes completed staged uploads.
type Assembler struct {
	store      *staging.Store
	paths      *pathing.Service
	strategies *strategy.Registry
	log        zerolog.Logger

	groupsMu sync.Mutex
	groups   map[string]*group // multipartId -> group
}

// New builds an Assembler.
func New(store *staging.Store, paths *pathing.Service, strategies *strategy.Registry, log zerolog.Logger) *Assembler {
	return &Assembler{
		store:      store,
		paths:      paths,
		strategies: strategies,
		log:        log,
		groups:     make(map[string]*group),
	}
}

func (a *Assembler) groupFor(multipartID string, total int) *group {
	a.groupsMu.Lock()
	defer a.groupsMu.Unlock()

	g, ok := a.groups[multipartID]
	if !ok {
		g = &group{total: total, parts: make(map[int]staging.Info)}
		a.groups[multipartID] = g
	}
	return g
}

func (a *Assembler) forgetGroup(multipartID string) {
	a.groupsMu.Lock()
	delete(a.groups, multipartID)
	a.groupsMu.Unlock()
}

// Complete is called after a staged upload's Append brings it to
// info.Complete(). It returns done=true with the final path once
// the logical upload (solo file, or every part of a multipart upload) has
// been moved to its destination.
func (a *Assembler) Complete(info staging.Info) (done bool, finalPath string, err error) {
	if !info.Complete() {
		return false, "", nil
	}

	if !info.Metadata.IsMultipartPart() {
		finalPath, err = a.finalizeSolo(info)
		if err != nil {
			return false, "", err
		}
		return true, finalPath, nil
	}

	return a.completePart(info)
}

func (a *Assembler) finalizeSolo(info staging.Info) (string, error) {
	name, err := a.strategies.FinalFilename(info.Metadata, info.ID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve final filename: %w", err)
	}

	dest := a.paths.FullPath(name, info.Metadata.DestinationPath)
	if err := a.paths.Move(a.store.PayloadPath(info.ID), dest); err != nil {
		return "", fmt.Errorf("failed to move completed upload: %w", err)
	}
	if err := a.store.Finalize(info.ID); err != nil {
		return "", fmt.Errorf("failed to finalize staging entry: %w", err)
	}

	a.log.Info().Str("staging_id", info.ID).Str("destination", dest).Msg("upload finalized")
	return dest, nil
}

func (a *Assembler) completePart(info staging.Info) (bool, string, error) {
	m := info.Metadata
	g := a.groupFor(m.MultipartID, m.TotalParts)

	g.mu.Lock()
	defer g.mu.Unlock()

	g.parts[m.PartIndex] = info
	if !g.complete() || g.assembled {
		return false, "", nil
	}

	dest, err := a.reassemble(m.MultipartID, g.parts, m)
	if err != nil {
		return false, "", err
	}
	g.assembled = true
	a.forgetGroup(m.MultipartID)

	return true, dest, nil
}

// reassemble concatenates every part's payload in strict index order into
// a temporary file beside the destination, then moves it into place.
func (a *Assembler) reassemble(multipartID string, parts map[int]staging.Info, m metadata.Metadata) (string, error) {
	indexes := make([]int, 0, len(parts))
	for idx := range parts {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	name, err := a.strategies.FinalFilename(m, parts[indexes[0]].ID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve final filename: %w", err)
	}
	destDir := a.paths.DestinationDir(m.DestinationPath)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create destination directory: %w", err)
	}

	tmp, err := os.CreateTemp(destDir, ".tusway-assemble-*")
	if err != nil {
		return "", fmt.Errorf("failed to create assembly file: %w", err)
	}
	tmpPath := tmp.Name()

	for _, idx := range indexes {
		part := parts[idx]
		if err := appendPart(tmp, a.store.PayloadPath(part.ID)); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return "", fmt.Errorf("failed to append part %d of multipart upload %q: %w", idx, multipartID, err)
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to close assembly file: %w", err)
	}

	dest := filepath.Join(destDir, name)
	if err := a.paths.Move(tmpPath, dest); err != nil {
		return "", fmt.Errorf("failed to move assembled upload: %w", err)
	}

	for _, idx := range indexes {
		if err := a.store.Remove(parts[idx].ID); err != nil {
			a.log.Warn().Err(err).Str("multipart_id", multipartID).Int("part", idx).Msg("failed to clean up part staging entry")
		}
	}

	a.log.Info().Str("multipart_id", multipartID).Int("parts", len(indexes)).Str("destination", dest).Msg("multipart upload assembled")
	return dest, nil
}

func appendPart(dst *os.File, partPath string) error {
	src, err := os.Open(partPath)
	if err != nil {
		return err
	}
	defer src.Close()

	_, err = io.Copy(dst, src)
	return err
}

// Rehydrate scans the staging directory for in-flight multipart parts and
// rebuilds their groups, so that a server restart mid-upload does not
// strand an otherwise-complete set of parts unassembled. Any group found
// already complete is assembled immediately. Returns the number of
// in-flight groups recovered (assembled or still awaiting parts).
func (a *Assembler) Rehydrate() (int, error) {
	ids, err := a.store.ListSidecars()
	if err != nil {
		return 0, err
	}

	seen := make(map[string]bool)
	for _, id := range ids {
		info, ok, err := a.store.Load(id)
		if err != nil {
			return 0, fmt.Errorf("failed to load staging entry %q: %w", id, err)
		}
		if !ok || !info.Metadata.IsMultipartPart() {
			continue
		}

		seen[info.Metadata.MultipartID] = true

		if !info.Complete() {
			a.groupFor(info.Metadata.MultipartID, info.Metadata.TotalParts)
			continue
		}

		if _, _, err := a.completePart(info); err != nil {
			a.log.Error().Err(err).Str("multipart_id", info.Metadata.MultipartID).Msg("failed to rehydrate multipart upload")
		}
	}

	return len(seen), nil
}
