package maestro

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aristath/maestro/internal/config"
	"github.com/aristath/maestro/internal/domain"
	"github.com/aristath/maestro/internal/events"
	"github.com/aristath/maestro/internal/modules/ledger"
	"github.com/aristath/maestro/internal/modules/stages"
)

var (
	errCancelled = errors.New("run cancelled")
	errShutdown  = errors.New("orchestrator shutting down")
)

// StageFailedError is returned by the stage sequence when a stage exhausted
// its attempts or failed permanently
type StageFailedError struct {
	Stage domain.Stage
	Err   *domain.StageError
}

func (e *StageFailedError) Error() string {
	return fmt.Sprintf("stage %s failed: %s", e.Stage, e.Err.Error())
}

func (e *StageFailedError) Unwrap() error {
	return e.Err
}

// execute runs every unsettled stage in order, loading the outputs of
// settled stages from the ledger instead of recomputing them
func (o *Orchestrator) execute(ctx context.Context, ar *activeRun, run *domain.Run, snap *domain.Snapshot, settled map[domain.Stage]bool) error {
	store := context.WithoutCancel(ctx)

	var (
		directives []domain.Directive
		err        error
	)
	if settled[domain.StageParse] {
		directives, err = o.ledger.Directives(store, run.ID)
	} else {
		directives, err = runStage(ctx, o, ar, domain.StageParse, o.pipeline.Parser,
			stages.ParseInput{MarketView: run.MarketView, Universe: snap.Universe()},
			nil, o.ledger.CompleteParse)
	}
	if err != nil {
		return err
	}

	var series map[string]domain.MarketSeries
	if settled[domain.StageFetch] {
		series, err = o.ledger.MarketSeries(store, run.ID)
	} else {
		codes := fetchCodes(snap, directives, o.pipeline.SectorIndices)
		series, err = runStage(ctx, o, ar, domain.StageFetch, o.pipeline.MarketData,
			stages.FetchInput{Codes: codes},
			seriesComplete(codes), o.ledger.CompleteFetch)
	}
	if err != nil {
		return err
	}

	var scores map[string]domain.SignalScore
	if settled[domain.StageScore] {
		scores, err = o.ledger.SignalScores(store, run.ID)
	} else {
		scores, err = runStage(ctx, o, ar, domain.StageScore, o.pipeline.Signals, series,
			scoresComplete(series), o.ledger.CompleteScore)
	}
	if err != nil {
		return err
	}

	if settled[domain.StageSynthesize] {
		return nil
	}
	_, err = runStage(ctx, o, ar, domain.StageSynthesize, o.pipeline.Synthesizer,
		stages.SynthesizeInput{
			Directives: directives,
			Scores:     scores,
			Series:     series,
			Clients:    snap.Clients,
			Holdings:   snap.Holdings,
		},
		nil, o.ledger.CompleteSynthesize)
	return err
}

// runStage drives the attempts of one stage. Each attempt is recorded as
// running before the adapter is invoked, and its output is stored in the
// same transaction that marks it succeeded. An output rejected by check
// fails the attempt like an adapter error.
func runStage[I, O any](
	ctx context.Context,
	o *Orchestrator,
	ar *activeRun,
	stage domain.Stage,
	adapter stages.Adapter[I, O],
	in I,
	check func(O) error,
	complete func(ctx context.Context, execID int64, out O) (string, error),
) (O, error) {
	var zero O
	store := context.WithoutCancel(ctx)
	policy := o.policies.For(stage)
	log := o.log.With().Str("run_id", ar.id).Str("stage", string(stage)).Logger()

	inputRef, err := ledger.Ref(string(stage)+"-input", in)
	if err != nil {
		return zero, fmt.Errorf("failed to hash %s input: %w", stage, err)
	}

	for try := 1; ; try++ {
		if ar.cancelled.Load() {
			return zero, errCancelled
		}
		if o.base.Err() != nil {
			return zero, errShutdown
		}

		ex, err := o.ledger.BeginStage(store, ar.id, stage, inputRef)
		if errors.Is(err, ledger.ErrRunNotRunning) {
			return zero, errCancelled
		}
		if err != nil {
			return zero, err
		}
		log.Info().Int("attempt", ex.Attempt).Msg("Stage attempt started")
		o.events.Emit(module, &events.StageData{Type: events.StageStarted, RunID: ar.id, Stage: string(stage), Attempt: ex.Attempt})

		out, execErr := invoke(o.base, adapter, in, policy.Timeout)

		if ar.cancelled.Load() {
			if aerr := o.ledger.AbandonStage(store, ex.ID, "run cancelled"); aerr != nil {
				log.Warn().Err(aerr).Msg("Failed to abandon stage execution")
			}
			log.Info().Int("attempt", ex.Attempt).Msg("Stage result discarded after cancellation")
			return zero, errCancelled
		}

		if execErr == nil && check != nil {
			execErr = check(out)
		}

		if execErr == nil {
			ref, cerr := complete(store, ex.ID, out)
			if errors.Is(cerr, ledger.ErrRunNotRunning) {
				return zero, errCancelled
			}
			if cerr != nil {
				if ferr := o.ledger.FailStage(store, ex.ID, domain.StageErrorPermanent, "recording output: "+cerr.Error()); ferr != nil {
					log.Warn().Err(ferr).Msg("Failed to record stage failure")
				}
				return zero, fmt.Errorf("failed to record %s output: %w", stage, cerr)
			}
			log.Info().Int("attempt", ex.Attempt).Str("output_ref", ref).Msg("Stage succeeded")
			o.events.Emit(module, &events.StageData{Type: events.StageSucceeded, RunID: ar.id, Stage: string(stage), Attempt: ex.Attempt})
			return out, nil
		}

		if o.base.Err() != nil {
			if aerr := o.ledger.AbandonStage(store, ex.ID, "process shutting down"); aerr != nil {
				log.Warn().Err(aerr).Msg("Failed to abandon stage execution")
			}
			return zero, errShutdown
		}

		se := stages.Classify(execErr)
		if ferr := o.ledger.FailStage(store, ex.ID, se.Kind, se.Error()); ferr != nil {
			return zero, ferr
		}

		if !policy.ShouldRetry(try, se) {
			log.Error().
				Int("attempt", ex.Attempt).
				Str("kind", string(se.Kind)).
				Err(se).
				Msg("Stage failed")
			o.events.Emit(module, &events.StageData{
				Type: events.StageFailed, RunID: ar.id, Stage: string(stage),
				Attempt: ex.Attempt, ErrorKind: string(se.Kind), Error: se.Error(),
			})
			return zero, &StageFailedError{Stage: stage, Err: se}
		}

		delay := policy.Backoff(try)
		log.Warn().
			Int("attempt", ex.Attempt).
			Str("kind", string(se.Kind)).
			Dur("retry_in", delay).
			Err(se).
			Msg("Stage attempt failed, retrying")
		o.events.Emit(module, &events.StageData{
			Type: events.StageRetrying, RunID: ar.id, Stage: string(stage),
			Attempt: ex.Attempt, ErrorKind: string(se.Kind), Error: se.Error(),
			RetryInMS: delay.Milliseconds(),
		})

		if err := sleep(ctx, delay); err != nil {
			if ar.cancelled.Load() {
				return zero, errCancelled
			}
			return zero, errShutdown
		}
	}
}

// invoke calls the adapter under the per-attempt timeout. ctx is the
// orchestrator's base context: shutdown interrupts the call, cancelling the
// run does not.
func invoke[I, O any](ctx context.Context, adapter stages.Adapter[I, O], in I, timeout time.Duration) (O, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return adapter.Execute(ctx, in)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fetchCodes is the snapshot universe plus every instrument a directive
// names, plus the benchmark and sector index codes when configured
func fetchCodes(snap *domain.Snapshot, directives []domain.Directive, indices config.SectorIndices) []string {
	seen := make(map[string]bool)
	for _, inst := range snap.Universe() {
		seen[inst.Code] = true
	}
	for _, d := range directives {
		if d.ScopeType == domain.ScopeInstrument && d.Scope != "" {
			seen[d.Scope] = true
		}
	}
	for _, code := range indices.Codes() {
		seen[code] = true
	}
	codes := make([]string, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// seriesComplete rejects a fetch result that silently dropped a requested
// code or marked a series available without bars
func seriesComplete(codes []string) func(map[string]domain.MarketSeries) error {
	return func(series map[string]domain.MarketSeries) error {
		var missing, empty []string
		for _, code := range codes {
			s, ok := series[code]
			switch {
			case !ok:
				missing = append(missing, code)
			case s.Available && len(s.Bars) == 0:
				empty = append(empty, code)
			}
		}
		if len(missing) > 0 {
			return domain.Permanent("missing series for "+strings.Join(missing, ", "), nil)
		}
		if len(empty) > 0 {
			return domain.Permanent("available series without bars for "+strings.Join(empty, ", "), nil)
		}
		return nil
	}
}

// scoresComplete rejects a score result without one score per available series
func scoresComplete(series map[string]domain.MarketSeries) func(map[string]domain.SignalScore) error {
	return func(scores map[string]domain.SignalScore) error {
		var missing []string
		for code, s := range series {
			if !s.Available {
				continue
			}
			if _, ok := scores[code]; !ok {
				missing = append(missing, code)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return domain.Permanent("missing score for "+strings.Join(missing, ", "), nil)
		}
		return nil
	}
}
