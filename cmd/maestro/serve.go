package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/maestro/internal/di"
	"github.com/aristath/maestro/internal/scheduler"
	"github.com/aristath/maestro/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the review API and run scheduled jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Info().Str("version", version).Msg("Starting Maestro")

		container, jobs, err := di.Wire(cfg, log)
		if err != nil {
			return err
		}
		defer container.Close()

		sched := scheduler.New(log)
		if err := di.RegisterJobs(sched, jobs, cfg); err != nil {
			return err
		}
		sched.Start()

		srv := server.New(server.Config{
			Log:       log,
			Container: container,
			Jobs:      jobs,
			Port:      cfg.Port,
			DevMode:   cfg.DevMode,
		})

		serverErr := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			log.Info().Str("signal", sig.String()).Msg("Shutting down")
		case err := <-serverErr:
			log.Error().Err(err).Msg("HTTP server failed")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		sched.Stop()
		if err := container.Orchestrator.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Active run did not stop in time")
		}

		log.Info().Msg("Maestro stopped")
		return nil
	},
}
