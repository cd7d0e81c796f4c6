package integration

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tusway/tusway/pkg/assembly"
	"github.com/tusway/tusway/pkg/metadata"
	"github.com/tusway/tusway/pkg/pathing"
	"github.com/tusway/tusway/pkg/scheduler"
	"github.com/tusway/tusway/pkg/staging"
	"github.com/tusway/tusway/pkg/strategy"
	"github.com/tusway/tusway/pkg/tus"
	"github.com/tusway/tusway/pkg/tusclient"
)

func setupIntegrationTest(t *testing.T) (*httptest.Server, string, func()) {
	t.Helper()
	stagingDir, err := os.MkdirTemp("", "tusway-staging-*")
	if err != nil {
		t.Fatalf("Failed to create staging dir: %v", err)
	}
	mountDir, err := os.MkdirTemp("", "tusway-mount-*")
	if err != nil {
		os.RemoveAll(stagingDir)
		t.Fatalf("Failed to create mount dir: %v", err)
	}

	store, err := staging.New(stagingDir)
	if err != nil {
		t.Fatalf("staging.New: %v", err)
	}
	paths := pathing.New(mountDir)
	registry := strategy.NewRegistry(paths)
	asm := assembly.New(store, paths, registry, zerolog.Nop())
	handler := tus.NewHandler(store, asm, registry, paths, 0, zerolog.Nop())

	server := httptest.NewServer(handler)

	cleanup := func() {
		server.Close()
		os.RemoveAll(stagingDir)
		os.RemoveAll(mountDir)
	}

	return server, mountDir, cleanup
}

func TestSoloUploadEndToEnd(t *testing.T) {
	server, mountDir, cleanup := setupIntegrationTest(t)
	defer cleanup()

	m := metadata.Metadata{Filename: "hello.txt", WithFilename: strategy.FilenameOriginal, OnDuplicate: strategy.DuplicatePrevent}

	createReq, _ := http.NewRequest(http.MethodPost, server.URL+"/api/upload", nil)
	createReq.Header.Set("Upload-Length", "11")
	createReq.Header.Set("Upload-Metadata", metadata.Encode(m))
	createResp, err := http.DefaultClient.Do(createReq)
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}
	createResp.Body.Close()
	if createResp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", createResp.StatusCode, http.StatusCreated)
	}

	uploadURL := server.URL + createResp.Header.Get("Location")
	patchReq, _ := http.NewRequest(http.MethodPatch, uploadURL, bytes.NewReader([]byte("hello world")))
	patchReq.Header.Set("Content-Type", "application/offset+octet-stream")
	patchReq.Header.Set("Upload-Offset", "0")
	patchResp, err := http.DefaultClient.Do(patchReq)
	if err != nil {
		t.Fatalf("append request failed: %v", err)
	}
	patchResp.Body.Close()
	if patchResp.StatusCode != http.StatusNoContent {
		t.Fatalf("append status = %d, want %d", patchResp.StatusCode, http.StatusNoContent)
	}

	data, err := os.ReadFile(filepath.Join(mountDir, "hello.txt"))
	if err != nil {
		t.Fatalf("expected finalized file: %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("content = %q, want %q", data, "hello world")
	}
}

func TestDuplicateFilenamePreventAndNumber(t *testing.T) {
	server, mountDir, cleanup := setupIntegrationTest(t)
	defer cleanup()

	upload := func(m metadata.Metadata, content string) *http.Response {
		t.Helper()
		createReq, _ := http.NewRequest(http.MethodPost, server.URL+"/api/upload", nil)
		createReq.Header.Set("Upload-Length", "5")
		createReq.Header.Set("Upload-Metadata", metadata.Encode(m))
		resp, err := http.DefaultClient.Do(createReq)
		if err != nil {
			t.Fatalf("create request failed: %v", err)
		}
		if resp.StatusCode != http.StatusCreated {
			return resp
		}
		defer resp.Body.Close()

		uploadURL := server.URL + resp.Header.Get("Location")
		patchReq, _ := http.NewRequest(http.MethodPatch, uploadURL, bytes.NewReader([]byte(content)))
		patchReq.Header.Set("Content-Type", "application/offset+octet-stream")
		patchReq.Header.Set("Upload-Offset", "0")
		patchResp, err := http.DefaultClient.Do(patchReq)
		if err != nil {
			t.Fatalf("append request failed: %v", err)
		}
		return patchResp
	}

	first := metadata.Metadata{Filename: "dup.txt", WithFilename: strategy.FilenameOriginal, OnDuplicate: strategy.DuplicatePrevent}
	resp := upload(first, "aaaaa")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("first upload status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}

	preventResp := upload(first, "bbbbb")
	preventResp.Body.Close()
	if preventResp.StatusCode != http.StatusConflict {
		t.Errorf("prevent-duplicate status = %d, want %d", preventResp.StatusCode, http.StatusConflict)
	}

	second := metadata.Metadata{Filename: "dup.txt", WithFilename: strategy.FilenameOriginal, OnDuplicate: strategy.DuplicateNumber}
	numberResp := upload(second, "ccccc")
	numberResp.Body.Close()
	if numberResp.StatusCode != http.StatusNoContent {
		t.Fatalf("number-duplicate status = %d, want %d", numberResp.StatusCode, http.StatusNoContent)
	}

	if _, err := os.Stat(filepath.Join(mountDir, "dup(1).txt")); err != nil {
		t.Errorf("expected numbered file dup(1).txt: %v", err)
	}
}

func TestThreePartMultipartOutOfOrderCompletion(t *testing.T) {
	server, mountDir, cleanup := setupIntegrationTest(t)
	defer cleanup()

	base := metadata.Metadata{
		Filename:         "video.bin",
		WithFilename:     strategy.FilenameOriginal,
		OnDuplicate:      strategy.DuplicatePrevent,
		MultipartID:      "multipart-abc",
		TotalParts:       3,
		OriginalFileSize: 9,
	}

	uploadPart := func(partIndex int, content string) int {
		t.Helper()
		m := base
		m.PartIndex = partIndex

		createReq, _ := http.NewRequest(http.MethodPost, server.URL+"/api/upload", nil)
		createReq.Header.Set("Upload-Length", "3")
		createReq.Header.Set("Upload-Metadata", metadata.Encode(m))
		resp, err := http.DefaultClient.Do(createReq)
		if err != nil {
			t.Fatalf("create part %d failed: %v", partIndex, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("create part %d status = %d", partIndex, resp.StatusCode)
		}

		uploadURL := server.URL + resp.Header.Get("Location")
		patchReq, _ := http.NewRequest(http.MethodPatch, uploadURL, bytes.NewReader([]byte(content)))
		patchReq.Header.Set("Content-Type", "application/offset+octet-stream")
		patchReq.Header.Set("Upload-Offset", "0")
		patchResp, err := http.DefaultClient.Do(patchReq)
		if err != nil {
			t.Fatalf("append part %d failed: %v", partIndex, err)
		}
		patchResp.Body.Close()
		return patchResp.StatusCode
	}

	if status := uploadPart(3, "ccc"); status != http.StatusNoContent {
		t.Fatalf("part 3 status = %d", status)
	}
	if status := uploadPart(1, "aaa"); status != http.StatusNoContent {
		t.Fatalf("part 1 status = %d", status)
	}
	if status := uploadPart(2, "bbb"); status != http.StatusNoContent {
		t.Fatalf("part 2 status = %d", status)
	}

	data, err := os.ReadFile(filepath.Join(mountDir, "video.bin"))
	if err != nil {
		t.Fatalf("expected assembled file: %v", err)
	}
	if string(data) != "aaabbbccc" {
		t.Errorf("assembled content = %q, want %q", data, "aaabbbccc")
	}
}

func TestOffsetMismatchReturnsConflict(t *testing.T) {
	server, _, cleanup := setupIntegrationTest(t)
	defer cleanup()

	createReq, _ := http.NewRequest(http.MethodPost, server.URL+"/api/upload", nil)
	createReq.Header.Set("Upload-Length", "5")
	resp, err := http.DefaultClient.Do(createReq)
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}
	resp.Body.Close()

	uploadURL := server.URL + resp.Header.Get("Location")
	patchReq, _ := http.NewRequest(http.MethodPatch, uploadURL, bytes.NewReader([]byte("x")))
	patchReq.Header.Set("Content-Type", "application/offset+octet-stream")
	patchReq.Header.Set("Upload-Offset", "2")
	patchResp, err := http.DefaultClient.Do(patchReq)
	if err != nil {
		t.Fatalf("append request failed: %v", err)
	}
	patchResp.Body.Close()

	if patchResp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want %d", patchResp.StatusCode, http.StatusConflict)
	}
}

// repeatingReaderAt satisfies io.ReaderAt over an arbitrarily large virtual
// file without holding its bytes in memory, so a test can exercise a
// genuinely oversized upload without allocating gigabytes.
type repeatingReaderAt struct{ b byte }

func (r repeatingReaderAt) ReadAt(p []byte, off int64) (int, error) {
	for i := range p {
		p[i] = r.b
	}
	return len(p), nil
}

func TestSchedulerForcedSingletonForOversizedFile(t *testing.T) {
	server, mountDir, cleanup := setupIntegrationTest(t)
	defer cleanup()

	// Sized just past partition.Count's single-part threshold (512 MiB) so
	// the scheduler genuinely splits it into 2 parts, and MaxStreamCount is
	// pinned to 1 so that those 2 parts exceed the batch's stream budget,
	// exercising selectBatch's forced-singleton fallback for real rather
	// than via a pre-set parts field.
	const size = (512 << 20) + 1024
	handle := repeatingReaderAt{b: 'z'}

	client := tusclient.New(server.URL+"/api/upload", nil)
	cfg := scheduler.Config{
		ChunkSize:        256 << 20,
		MaxStreamCount:   1,
		MaxFileSelection: 60,
		WithFilename:     strategy.FilenameOriginal,
		OnDuplicate:      strategy.DuplicatePrevent,
	}
	sched := scheduler.New(cfg, client)

	qf := &scheduler.QueuedFile{ID: "big", Handle: handle, Size: size, Filename: "big.bin"}
	sched.Enqueue(qf)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if err := sched.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if qf.Status != scheduler.StatusCompleted {
		t.Fatalf("status = %v, want StatusCompleted (err=%v)", qf.Status, qf.Err)
	}

	info, err := os.Stat(filepath.Join(mountDir, "big.bin"))
	if err != nil {
		t.Fatalf("expected assembled file: %v", err)
	}
	if info.Size() != size {
		t.Errorf("assembled size = %d, want %d", info.Size(), size)
	}

	f, err := os.Open(filepath.Join(mountDir, "big.bin"))
	if err != nil {
		t.Fatalf("failed to open assembled file: %v", err)
	}
	defer f.Close()
	sample := make([]byte, 4096)
	if _, err := f.ReadAt(sample, size/2); err != nil {
		t.Fatalf("failed to sample assembled file: %v", err)
	}
	if !bytes.Equal(sample, bytes.Repeat([]byte{'z'}, len(sample))) {
		t.Errorf("assembled content mismatch at midpoint")
	}
}
