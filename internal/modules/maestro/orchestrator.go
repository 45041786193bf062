// Package maestro runs the daily pipeline: it binds a run to a client data
// snapshot, drives Parse, Fetch, Score and Synthesize strictly in order
// through the stage adapters, retries transient failures with backoff and
// records every attempt and artifact in the ledger.
//
// Only one run executes at a time. The human review of the resulting drafts
// happens outside the orchestrator, through the approval package.
package maestro

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/aristath/maestro/internal/config"
	"github.com/aristath/maestro/internal/domain"
	"github.com/aristath/maestro/internal/events"
	"github.com/aristath/maestro/internal/modules/ledger"
	"github.com/aristath/maestro/internal/modules/snapshots"
	"github.com/aristath/maestro/internal/modules/stages"
	"github.com/rs/zerolog"
)

const module = "maestro"

// Pipeline holds the four stage adapters. SectorIndices, when configured,
// adds the benchmark and sector index codes to every fetch.
type Pipeline struct {
	Parser        stages.Parser
	MarketData    stages.MarketData
	Signals       stages.Signals
	Synthesizer   stages.Synthesizer
	SectorIndices config.SectorIndices
}

// SnapshotStore creates and loads the snapshot a run is bound to
type SnapshotStore interface {
	Create(ctx context.Context, clientSource, holdingsSource snapshots.Source) (*domain.Snapshot, error)
	Get(ctx context.Context, id string) (*domain.Snapshot, error)
}

// Sources are the client master and holdings records read at run start
type Sources struct {
	Clients  snapshots.Source
	Holdings snapshots.Source
}

// activeRun is the run this process is executing
type activeRun struct {
	id        string
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// Orchestrator owns the single active run
type Orchestrator struct {
	ledger    *ledger.Repository
	snapshots SnapshotStore
	sources   Sources
	pipeline  Pipeline
	policies  stages.Policies
	events    *events.Manager
	log       zerolog.Logger

	mu       sync.Mutex
	active   *activeRun
	starting bool
	wg       sync.WaitGroup

	base context.Context
	stop context.CancelFunc
}

// New creates an orchestrator. eventManager may be nil.
func New(
	ledgerRepo *ledger.Repository,
	snapshotStore SnapshotStore,
	sources Sources,
	pipeline Pipeline,
	policies stages.Policies,
	eventManager *events.Manager,
	log zerolog.Logger,
) *Orchestrator {
	base, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		ledger:    ledgerRepo,
		snapshots: snapshotStore,
		sources:   sources,
		pipeline:  pipeline,
		policies:  policies,
		events:    eventManager,
		log:       log.With().Str("service", "maestro").Logger(),
		base:      base,
		stop:      stop,
	}
}

// StartRun starts a run for the market view on behalf of the API
func (o *Orchestrator) StartRun(ctx context.Context, marketView string) (*domain.Run, error) {
	return o.StartRunAs(ctx, marketView, "api")
}

// StartRunAs creates a snapshot and a run, expires the drafts of every
// earlier run and launches the stage sequence in the background. It fails
// with *domain.ConcurrentRunError while another run is starting or running.
func (o *Orchestrator) StartRunAs(ctx context.Context, marketView, trigger string) (*domain.Run, error) {
	o.mu.Lock()
	if err := o.busyLocked(); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	o.starting = true
	o.mu.Unlock()

	// o.mu is not held during snapshot I/O
	run, snap, err := o.prepare(ctx, marketView, trigger)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.starting = false
	if err != nil {
		return nil, err
	}

	o.log.Info().
		Str("run_id", run.ID).
		Str("snapshot_id", snap.ID).
		Str("trigger", trigger).
		Msg("Run started")
	o.events.Emit(module, &events.RunData{Type: events.RunStarted, RunID: run.ID, Status: string(run.Status)})

	o.launch(run, snap, nil)
	return run, nil
}

// prepare binds a new run to a fresh snapshot and marks it running
func (o *Orchestrator) prepare(ctx context.Context, marketView, trigger string) (*domain.Run, *domain.Snapshot, error) {
	if running, err := o.ledger.ActiveRun(ctx); err != nil {
		return nil, nil, err
	} else if running != nil {
		return nil, nil, &domain.ConcurrentRunError{ActiveRunID: running.ID}
	}

	snap, err := o.snapshots.Create(ctx, o.sources.Clients, o.sources.Holdings)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create snapshot: %w", err)
	}

	run, expired, err := o.ledger.CreateRun(ctx, ledger.NewRun{
		MarketView: marketView,
		SnapshotID: snap.ID,
		Trigger:    trigger,
	})
	if err != nil {
		return nil, nil, err
	}
	if expired > 0 {
		o.events.Emit(module, &events.RecommendationsBatchData{Type: events.RecommendationsExpired, Count: expired})
	}

	started, err := o.ledger.TransitionRun(ctx, run.ID, domain.RunStatusRunning, "")
	if err != nil {
		if _, ferr := o.ledger.TransitionRun(context.WithoutCancel(ctx), run.ID, domain.RunStatusFailed, err.Error()); ferr != nil {
			o.log.Error().Err(ferr).Msg("Failed to fail run that could not start")
		}
		return nil, nil, err
	}
	return started, snap, nil
}

// busyLocked must be called with o.mu held
func (o *Orchestrator) busyLocked() error {
	if o.active != nil {
		return &domain.ConcurrentRunError{ActiveRunID: o.active.id}
	}
	if o.starting {
		return &domain.ConcurrentRunError{}
	}
	return nil
}

// ResumeRun continues a failed run from its first unsettled stage, reusing
// the snapshot and every settled output. Settled stages are never executed again.
func (o *Orchestrator) ResumeRun(ctx context.Context, runID string) (*domain.Run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.busyLocked(); err != nil {
		return nil, err
	}

	state, err := o.ledger.GetRunState(ctx, runID)
	if err != nil {
		return nil, err
	}
	if state.Run.Status != domain.RunStatusFailed {
		return nil, &domain.NotResumableError{RunID: runID, Reason: fmt.Sprintf("status is %s", state.Run.Status)}
	}
	settled := state.SettledStages()
	if len(settled) == 0 {
		return nil, &domain.NotResumableError{RunID: runID, Reason: "no stage completed; start a new run instead"}
	}
	latest, err := o.ledger.LatestRun(ctx)
	if err != nil {
		return nil, err
	}
	if latest != nil && latest.ID != runID {
		return nil, &domain.NotResumableError{RunID: runID, Reason: fmt.Sprintf("superseded by run %s", latest.ID)}
	}

	snap, err := o.snapshots.Get(ctx, state.Run.SnapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", state.Run.SnapshotID, err)
	}

	run, err := o.ledger.TransitionRun(ctx, runID, domain.RunStatusRunning, "")
	if err != nil {
		return nil, err
	}

	o.log.Info().
		Str("run_id", runID).
		Int("settled_stages", len(settled)).
		Msg("Run resumed")
	o.events.Emit(module, &events.RunData{Type: events.RunResumed, RunID: runID, Status: string(run.Status)})

	o.launch(run, snap, settled)
	return run, nil
}

// CancelRun cancels a run. The adapter call in flight is allowed to finish
// and its result is discarded; no further stage starts. Cancelling a run
// that already finished is a no-op.
func (o *Orchestrator) CancelRun(ctx context.Context, runID string) error {
	run, err := o.ledger.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if !run.Status.CanTransitionTo(domain.RunStatusCancelled) {
		o.log.Debug().Str("run_id", runID).Str("status", string(run.Status)).Msg("Cancel ignored for finished run")
		return nil
	}

	_, err = o.ledger.TransitionRun(ctx, runID, domain.RunStatusCancelled, "cancelled by request")
	var invalid *domain.InvalidTransitionError
	if errors.As(err, &invalid) {
		return nil
	}
	if err != nil {
		return err
	}

	// flagged only once the ledger holds the run as cancelled
	o.mu.Lock()
	if ar := o.active; ar != nil && ar.id == runID {
		ar.cancelled.Store(true)
		ar.cancel()
	}
	o.mu.Unlock()

	o.log.Info().Str("run_id", runID).Msg("Run cancelled")
	o.events.Emit(module, &events.RunData{Type: events.RunCancelled, RunID: runID, Status: string(domain.RunStatusCancelled)})
	return nil
}

// GetRunState returns the run with its stage executions
func (o *Orchestrator) GetRunState(ctx context.Context, runID string) (*domain.RunState, error) {
	return o.ledger.GetRunState(ctx, runID)
}

// ListRuns returns the newest runs first
func (o *Orchestrator) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	return o.ledger.ListRuns(ctx, limit)
}

// DeleteRun removes a finished run that holds no accepted recommendations
func (o *Orchestrator) DeleteRun(ctx context.Context, runID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != nil && o.active.id == runID {
		return &domain.ConcurrentRunError{ActiveRunID: runID}
	}
	if err := o.ledger.DeleteRun(ctx, runID); err != nil {
		return err
	}
	o.log.Info().Str("run_id", runID).Msg("Run deleted")
	return nil
}

// ActiveRunID returns the id of the run this process is executing, if any
func (o *Orchestrator) ActiveRunID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return ""
	}
	return o.active.id
}

// Recover fails runs a previous process left running so they can be resumed
func (o *Orchestrator) Recover(ctx context.Context) error {
	_, err := o.ledger.RecoverInterrupted(ctx)
	return err
}

// Wait blocks until no run is executing
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown interrupts the active run, which is failed so that it can be
// resumed later, and waits for it to stop or for ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.stop()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// launch must be called with o.mu held
func (o *Orchestrator) launch(run *domain.Run, snap *domain.Snapshot, settled map[domain.Stage]bool) {
	// ctx only interrupts backoff waits; adapter calls run under o.base
	ctx, cancel := context.WithCancel(o.base)
	ar := &activeRun{id: run.ID, cancel: cancel}
	o.active = ar

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.release(ar)
		o.finish(ctx, ar, o.execute(ctx, ar, run, snap, settled))
	}()
}

func (o *Orchestrator) release(ar *activeRun) {
	ar.cancel()
	o.mu.Lock()
	if o.active == ar {
		o.active = nil
	}
	o.mu.Unlock()
}

// finish records the outcome of the stage sequence on the run
func (o *Orchestrator) finish(ctx context.Context, ar *activeRun, err error) {
	store := context.WithoutCancel(ctx)
	runLog := o.log.With().Str("run_id", ar.id).Logger()

	if ar.cancelled.Load() || errors.Is(err, errCancelled) {
		runLog.Info().Msg("Run stopped after cancellation")
		return
	}

	var invalid *domain.InvalidTransitionError
	if err == nil {
		if _, terr := o.ledger.TransitionRun(store, ar.id, domain.RunStatusSucceeded, ""); terr != nil {
			if errors.As(terr, &invalid) {
				runLog.Info().Str("status", string(invalid.From)).Msg("Run changed status before it could succeed")
				return
			}
			runLog.Error().Err(terr).Msg("Failed to mark run succeeded")
			return
		}
		count := 0
		if recs, rerr := o.ledger.Recommendations(store, ar.id); rerr == nil {
			count = len(recs)
		}
		runLog.Info().Int("recommendations", count).Msg("Run succeeded")
		o.events.Emit(module, &events.RunData{Type: events.RunSucceeded, RunID: ar.id, Status: string(domain.RunStatusSucceeded)})
		o.events.Emit(module, &events.RecommendationsReadyData{RunID: ar.id, Count: count})
		return
	}

	reason := err.Error()
	if errors.Is(err, errShutdown) {
		reason = "interrupted by shutdown"
	}
	if _, terr := o.ledger.TransitionRun(store, ar.id, domain.RunStatusFailed, reason); terr != nil {
		if errors.As(terr, &invalid) {
			runLog.Info().Str("status", string(invalid.From)).Msg("Run changed status before it could fail")
			return
		}
		runLog.Error().Err(terr).Msg("Failed to mark run failed")
		return
	}
	runLog.Error().Err(err).Msg("Run failed")
	o.events.Emit(module, &events.RunData{Type: events.RunFailed, RunID: ar.id, Status: string(domain.RunStatusFailed), Error: reason})
}
