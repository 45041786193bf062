package di

import (
	"context"
	"fmt"

	"github.com/aristath/maestro/internal/clients/llm"
	"github.com/aristath/maestro/internal/clients/mfapi"
	"github.com/aristath/maestro/internal/clients/yahoo"
	"github.com/aristath/maestro/internal/config"
	"github.com/aristath/maestro/internal/database"
	"github.com/aristath/maestro/internal/events"
	"github.com/aristath/maestro/internal/modules/approval"
	"github.com/aristath/maestro/internal/modules/maestro"
	"github.com/aristath/maestro/internal/modules/marketdata"
	"github.com/aristath/maestro/internal/modules/parser"
	"github.com/aristath/maestro/internal/modules/signals"
	"github.com/aristath/maestro/internal/modules/snapshots"
	"github.com/aristath/maestro/internal/modules/stages"
	"github.com/aristath/maestro/internal/modules/synthesizer"
	"github.com/aristath/maestro/internal/reliability"
	"github.com/rs/zerolog"
)

// InitializeServices builds the clients, the stage adapters and the services on top of them
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	// Events
	container.EventBus = events.NewBus(log)
	container.EventManager = events.NewManager(container.EventBus, log)

	// Clients
	container.YahooClient = yahoo.NewClient(container.CacheRepo, cfg.MarketDataTTL, log)
	container.MFAPIClient = mfapi.NewClient(cfg.MFAPIBaseURL, container.CacheRepo, cfg.MarketDataTTL, log)
	if cfg.AnthropicAPIKey != "" {
		anthropic := llm.NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.AnthropicBaseURL, log)
		container.LLMProvider = llm.NewCachedProvider(anthropic, container.CacheRepo, cfg.AnthropicModel, cfg.MarketDataTTL, log)
	}

	// Stage adapters
	container.Pipeline = maestro.Pipeline{
		Parser:        parser.New(container.LLMProvider, log),
		MarketData:    marketdata.NewFetcher(container.YahooClient, container.MFAPIClient, cfg.FetchConcurrency, cfg.FetchLookback, log),
		Signals:       signals.NewEngine(cfg.Policy.SignalThresholds, cfg.Policy.SectorIndices, log),
		Synthesizer:   synthesizer.New(container.LLMProvider, cfg.Policy.RiskLimits, log),
		SectorIndices: cfg.Policy.SectorIndices,
	}

	// Orchestrator and review
	container.Orchestrator = maestro.New(
		container.LedgerRepo,
		container.SnapshotStore,
		maestro.Sources{
			Clients:  snapshots.FileSource{Path: cfg.ClientsFile},
			Holdings: snapshots.FileSource{Path: cfg.HoldingsFile},
		},
		container.Pipeline,
		stages.PoliciesFromConfig(cfg.Policy),
		container.EventManager,
		log,
	)
	container.ReviewService = approval.NewService(container.LedgerDB, container.EventManager, log)

	// Backups
	if cfg.Backup.Enabled {
		store, err := reliability.NewS3Store(context.Background(), cfg.Backup, log)
		if err != nil {
			return fmt.Errorf("failed to create backup store: %w", err)
		}
		container.BackupService = reliability.NewBackupService(
			store,
			[]*database.DB{container.LedgerDB},
			cfg.DataDir,
			cfg.Backup.Prefix,
			cfg.Backup.Keep,
			container.EventManager,
			log,
		)
	}

	log.Debug().Msg("Services initialized")
	return nil
}
