// Command tusway runs the resumable-upload server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tusway/tusway/internal/config"
	"github.com/tusway/tusway/internal/logging"
	"github.com/tusway/tusway/pkg/assembly"
	"github.com/tusway/tusway/pkg/pathing"
	"github.com/tusway/tusway/pkg/staging"
	"github.com/tusway/tusway/pkg/strategy"
	"github.com/tusway/tusway/pkg/tus"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tusway",
		Short: "Resumable upload server with multipart parallelization",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
	return cmd
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logging.New("server", cfg.Verbose)

	store, err := staging.New(cfg.StagingDir)
	if err != nil {
		return err
	}

	paths := pathing.New(cfg.MountPath)
	registry := strategy.NewRegistry(paths)
	assembler := assembly.New(store, paths, registry, log)

	recovered, err := assembler.Rehydrate()
	if err != nil {
		return err
	}
	if recovered > 0 {
		log.Info().Int("groups", recovered).Msg("recovered in-flight multipart uploads")
	}

	handler := tus.NewHandler(store, assembler, registry, paths, cfg.MaxFileSize, log)

	mux := http.NewServeMux()
	mux.Handle("/api/upload", handler)
	mux.Handle("/api/upload/", handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:    cfg.Address(),
		Handler: mux,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("address", cfg.Address()).Str("staging_dir", cfg.StagingDir).Str("mount_path", cfg.MountPath).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-shutdown
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}

	log.Info().Msg("server stopped")
	return nil
}
