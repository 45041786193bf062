// Package main is the maestro command line: it serves the review API and
// scheduler, and runs, resumes, inspects and exports advisory runs.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aristath/maestro/internal/config"
	"github.com/aristath/maestro/internal/di"
	"github.com/aristath/maestro/pkg/logger"
)

var version = "dev"

var (
	logLevel string
	pretty   bool
	cfg      *config.Config
	log      zerolog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "maestro",
	Short:         "Daily advisory pipeline orchestrator",
	Long:          "Maestro turns a free-text market view into per-client portfolio recommendations for advisor review.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		log = logger.New(logger.Config{Level: cfg.LogLevel, Pretty: pretty})
		logger.SetGlobalLogger(log)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override LOG_LEVEL (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", true, "Human readable log output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(snapshotCmd)
}

// wire builds the container for one-shot commands
func wire() (*di.Container, error) {
	container, _, err := di.Wire(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("wiring dependencies: %w", err)
	}
	return container, nil
}
