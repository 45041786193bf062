package di

import (
	"github.com/aristath/maestro/internal/clientdata"
	"github.com/aristath/maestro/internal/config"
	"github.com/aristath/maestro/internal/modules/ledger"
	"github.com/aristath/maestro/internal/modules/snapshots"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates the repositories over the open databases
func InitializeRepositories(container *Container, cfg *config.Config, log zerolog.Logger) error {
	container.LedgerRepo = ledger.NewRepository(container.LedgerDB, log)
	container.SnapshotStore = snapshots.NewStore(container.LedgerDB, cfg.AllocationTolerance, log)
	container.CacheRepo = clientdata.NewRepository(container.CacheDB)

	log.Debug().Msg("Repositories initialized")
	return nil
}
