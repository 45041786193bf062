package snapshots

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/maestro/internal/database"
	"github.com/aristath/maestro/internal/domain"
	"github.com/aristath/maestro/internal/modules/ledger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store creates and loads snapshots in the ledger database
type Store struct {
	db        *database.DB
	tolerance float64
	log       zerolog.Logger
	now       func() time.Time
}

// NewStore creates a snapshot store. tolerancePct is the allowed deviation of
// a client's summed allocation from 100, in percentage points.
func NewStore(db *database.DB, tolerancePct float64, log zerolog.Logger) *Store {
	return &Store{
		db:        db,
		tolerance: tolerancePct,
		log:       log.With().Str("service", "snapshots").Logger(),
		now:       time.Now,
	}
}

// Load reads and validates the two sources without persisting anything.
// Every violation found is returned in one *domain.DataIntegrityError.
func (s *Store) Load(ctx context.Context, clientSource, holdingsSource Source) ([]domain.Client, []domain.Holding, error) {
	clientTable, err := s.read(ctx, clientSource, clientColumns)
	if err != nil {
		return nil, nil, err
	}
	holdingTable, err := s.read(ctx, holdingsSource, holdingColumns)
	if err != nil {
		return nil, nil, err
	}

	var violations domain.ValidationErrors
	violations = append(violations, clientTable.violations...)
	violations = append(violations, holdingTable.violations...)

	var clients []domain.Client
	var holdings []domain.Holding
	if clientTable.table != nil {
		var v domain.ValidationErrors
		clients, v = parseClients(clientTable.table, clientSource.Name())
		violations = append(violations, v...)
	}
	if holdingTable.table != nil {
		var v domain.ValidationErrors
		holdings, v = parseHoldings(holdingTable.table, holdingsSource.Name())
		violations = append(violations, v...)
	}
	if clientTable.table != nil && holdingTable.table != nil {
		violations = append(violations, Validate(clients, holdings, s.tolerance)...)
	}

	if len(violations) > 0 {
		return nil, nil, &domain.DataIntegrityError{Violations: violations}
	}
	return clients, holdings, nil
}

type readResult struct {
	table      *table
	violations domain.ValidationErrors
}

func (s *Store) read(ctx context.Context, src Source, required []string) (readResult, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return readResult{}, fmt.Errorf("failed to open source %s: %w", src.Name(), err)
	}
	defer rc.Close()

	t, violations := readTable(rc, src.Name(), required)
	return readResult{table: t, violations: violations}, nil
}

// Create reads, validates and stores a snapshot. When the latest snapshot
// with identical content exists it is returned instead of a new one.
func (s *Store) Create(ctx context.Context, clientSource, holdingsSource Source) (*domain.Snapshot, error) {
	clients, holdings, err := s.Load(ctx, clientSource, holdingsSource)
	if err != nil {
		return nil, err
	}

	hash, err := ledger.Ref("snapshot", struct {
		Clients  []domain.Client
		Holdings []domain.Holding
	}{clients, holdings})
	if err != nil {
		return nil, err
	}

	snap := &domain.Snapshot{
		ContentHash:    hash,
		ClientSource:   clientSource.Name(),
		HoldingsSource: holdingsSource.Name(),
		Clients:        clients,
		Holdings:       holdings,
	}

	reused := false
	err = s.db.WriteTx(ctx, func(tx *sql.Tx) error {
		var existingID string
		var createdAt int64
		err := tx.QueryRowContext(ctx, `
			SELECT id, created_at FROM snapshots WHERE content_hash = ?
			ORDER BY created_at DESC, rowid DESC LIMIT 1
		`, hash).Scan(&existingID, &createdAt)
		if err == nil {
			snap.ID = existingID
			snap.CreatedAt = time.Unix(createdAt, 0).UTC()
			reused = true
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to look up snapshot by hash: %w", err)
		}

		snap.ID = uuid.New().String()
		snap.CreatedAt = time.Unix(s.now().Unix(), 0).UTC()
		return insertSnapshot(ctx, tx, snap)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("snapshot_id", snap.ID).
		Bool("reused", reused).
		Int("clients", len(clients)).
		Int("holdings", len(holdings)).
		Msg("Snapshot ready")

	return snap, nil
}

func insertSnapshot(ctx context.Context, tx *sql.Tx, snap *domain.Snapshot) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots (id, content_hash, client_source, holdings_source, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, snap.ID, snap.ContentHash, snap.ClientSource, snap.HoldingsSource, snap.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	for _, c := range snap.Clients {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO snapshot_clients (snapshot_id, client_id, name, risk_profile, strategy_type, total_aum, relationship_manager)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, snap.ID, c.ID, c.Name, string(c.RiskProfile), c.StrategyType, c.TotalAUM, c.RelationshipManager)
		if err != nil {
			return fmt.Errorf("failed to insert client %s: %w", c.ID, err)
		}
	}

	for i, h := range snap.Holdings {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO snapshot_holdings (snapshot_id, position, client_id, instrument_code, instrument_name,
				instrument_type, sector_tag, current_value, cost_basis, units, allocation_pct, sip_active, sip_amount)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, snap.ID, i, h.ClientID, h.InstrumentCode, h.InstrumentName, h.InstrumentType, h.SectorTag,
			h.CurrentValue, h.CostBasis, h.Units, h.AllocationPct, h.SIPActive, h.SIPAmount)
		if err != nil {
			return fmt.Errorf("failed to insert holding %d: %w", i, err)
		}
	}
	return nil
}

// Get loads a snapshot with its clients and holdings
func (s *Store) Get(ctx context.Context, id string) (*domain.Snapshot, error) {
	snap := &domain.Snapshot{ID: id}
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT content_hash, client_source, holdings_source, created_at FROM snapshots WHERE id = ?
	`, id).Scan(&snap.ContentHash, &snap.ClientSource, &snap.HoldingsSource, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", id, err)
	}
	snap.CreatedAt = time.Unix(createdAt, 0).UTC()

	clientRows, err := s.db.QueryContext(ctx, `
		SELECT client_id, name, risk_profile, strategy_type, total_aum, relationship_manager
		FROM snapshot_clients WHERE snapshot_id = ? ORDER BY rowid
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot clients: %w", err)
	}
	defer clientRows.Close()
	for clientRows.Next() {
		var c domain.Client
		var risk string
		if err := clientRows.Scan(&c.ID, &c.Name, &risk, &c.StrategyType, &c.TotalAUM, &c.RelationshipManager); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot client: %w", err)
		}
		c.RiskProfile = domain.RiskProfile(risk)
		snap.Clients = append(snap.Clients, c)
	}
	if err := clientRows.Err(); err != nil {
		return nil, err
	}

	holdingRows, err := s.db.QueryContext(ctx, `
		SELECT client_id, instrument_code, instrument_name, instrument_type, sector_tag, current_value,
			cost_basis, units, allocation_pct, sip_active, sip_amount
		FROM snapshot_holdings WHERE snapshot_id = ? ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot holdings: %w", err)
	}
	defer holdingRows.Close()
	for holdingRows.Next() {
		var h domain.Holding
		if err := holdingRows.Scan(&h.ClientID, &h.InstrumentCode, &h.InstrumentName, &h.InstrumentType,
			&h.SectorTag, &h.CurrentValue, &h.CostBasis, &h.Units, &h.AllocationPct, &h.SIPActive, &h.SIPAmount); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot holding: %w", err)
		}
		snap.Holdings = append(snap.Holdings, h)
	}
	return snap, holdingRows.Err()
}
