// Command tusway-bench drives the client scheduler against a running
// tusway server, uploading every regular file in a directory and
// rendering per-file progress bars for load-shape testing.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/tusway/tusway/pkg/scheduler"
	"github.com/tusway/tusway/pkg/strategy"
	"github.com/tusway/tusway/pkg/tusclient"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		endpoint         string
		dir              string
		chunkSize        int64
		maxStreamCount   int
		maxFileSelection int
		retryDelaysRaw   string
	)

	cmd := &cobra.Command{
		Use:   "tusway-bench",
		Short: "Drive the tusway client scheduler against a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(endpoint, dir, chunkSize, maxStreamCount, maxFileSelection, parseRetryDelays(retryDelaysRaw))
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "http://localhost:8080/api/upload", "TUS creation endpoint")
	cmd.Flags().StringVar(&dir, "dir", ".", "directory of files to upload")
	cmd.Flags().Int64Var(&chunkSize, "chunk-size", 8<<20, "bytes per PATCH request")
	cmd.Flags().IntVar(&maxStreamCount, "max-stream-count", 8, "concurrent-stream budget")
	cmd.Flags().IntVar(&maxFileSelection, "max-file-selection", 60, "candidate files considered per batch selection")
	cmd.Flags().StringVar(&retryDelaysRaw, "retry-delays", "0,1000,3000,5000", "comma-separated retry backoff schedule in milliseconds")

	return cmd
}

func parseRetryDelays(raw string) []time.Duration {
	var delays []time.Duration
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var ms int64
		if _, err := fmt.Sscanf(part, "%d", &ms); err == nil {
			delays = append(delays, time.Duration(ms)*time.Millisecond)
		}
	}
	return delays
}

func run(endpoint, dir string, chunkSize int64, maxStreamCount, maxFileSelection int, retryDelays []time.Duration) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read directory: %w", err)
	}

	client := tusclient.New(endpoint, retryDelays)
	cfg := scheduler.Config{
		Endpoint:         endpoint,
		ChunkSize:        chunkSize,
		RetryDelays:      retryDelays,
		MaxStreamCount:   maxStreamCount,
		MaxFileSelection: maxFileSelection,
		WithFilename:     strategy.FilenameOriginal,
		OnDuplicate:      strategy.DuplicateNumber,
	}
	sched := scheduler.New(cfg, client)

	progress := mpb.New(mpb.WithWidth(48))
	var queued []*scheduler.QueuedFile
	var handles []*os.File
	type tracked struct {
		file *scheduler.QueuedFile
		bar  *mpb.Bar
	}
	var bars []tracked

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		info, err := e.Info()
		if err != nil {
			return fmt.Errorf("failed to stat %q: %w", path, err)
		}

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %q: %w", path, err)
		}
		handles = append(handles, f)

		qf := &scheduler.QueuedFile{
			ID:       path,
			Handle:   f,
			Size:     info.Size(),
			Filename: e.Name(),
			Filetype: mimeByExt(e.Name()),
		}
		sched.Enqueue(qf)
		queued = append(queued, qf)

		bar := progress.AddBar(info.Size(),
			mpb.PrependDecorators(decor.Name(e.Name())),
			mpb.AppendDecorators(decor.Percentage()),
		)
		bars = append(bars, tracked{file: qf, bar: bar})
	}
	defer func() {
		for _, f := range handles {
			f.Close()
		}
	}()

	if len(queued) == 0 {
		fmt.Println("no files found to upload")
		return nil
	}

	overall := progressbar.Default(int64(len(queued)), "files completed")

	done := make(chan error, 1)
	go func() { done <- sched.Run(context.Background()) }()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	refresh := func() {
		finished := 0
		for _, t := range bars {
			t.bar.SetCurrent(atomic.LoadInt64(&t.file.UploadedBytes))
			if t.file.Status == scheduler.StatusCompleted || t.file.Status == scheduler.StatusError {
				finished++
			}
		}
		overall.Set(finished)
	}

	for {
		select {
		case err := <-done:
			refresh()
			progress.Wait()
			return reportErrors(queued, err)
		case <-ticker.C:
			refresh()
		}
	}
}

func reportErrors(queued []*scheduler.QueuedFile, runErr error) error {
	if runErr != nil {
		return runErr
	}
	for _, f := range queued {
		if f.Status == scheduler.StatusError {
			fmt.Fprintf(os.Stderr, "%s: %v\n", f.ID, f.Err)
		}
	}
	return nil
}

func mimeByExt(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt":
		return "text/plain"
	case ".json":
		return "application/json"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
