package maestro

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/maestro/internal/config"
	"github.com/aristath/maestro/internal/domain"
	"github.com/aristath/maestro/internal/events"
	"github.com/aristath/maestro/internal/modules/approval"
	"github.com/aristath/maestro/internal/modules/ledger"
	"github.com/aristath/maestro/internal/modules/parser"
	"github.com/aristath/maestro/internal/modules/signals"
	"github.com/aristath/maestro/internal/modules/snapshots"
	"github.com/aristath/maestro/internal/modules/stages"
	"github.com/aristath/maestro/internal/modules/synthesizer"
	testingpkg "github.com/aristath/maestro/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	orch   *Orchestrator
	ledger *ledger.Repository
	review *approval.Service
	bus    *events.Bus
}

func fastPolicies(timeout time.Duration) stages.Policies {
	policies := make(stages.Policies)
	for _, stage := range domain.Stages {
		policies[stage] = stages.RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			Multiplier:  2,
			MaxDelay:    5 * time.Millisecond,
			Timeout:     timeout,
		}
	}
	return policies
}

// unavailableFetch marks every code unavailable
func unavailableFetch() stages.MarketData {
	return stages.AdapterFunc[stages.FetchInput, map[string]domain.MarketSeries](
		func(ctx context.Context, in stages.FetchInput) (map[string]domain.MarketSeries, error) {
			out := make(map[string]domain.MarketSeries, len(in.Codes))
			for _, code := range in.Codes {
				out[code] = domain.UnavailableSeries(code, "fixture")
			}
			return out, nil
		})
}

func defaultPipeline(t *testing.T) Pipeline {
	t.Helper()
	policy, err := config.LoadPolicy("")
	require.NoError(t, err)
	return Pipeline{
		Parser:      parser.NewRuleParser(zerolog.Nop()),
		MarketData:  unavailableFetch(),
		Signals:     signals.NewEngine(policy.SignalThresholds, config.SectorIndices{}, zerolog.Nop()),
		Synthesizer: synthesizer.NewEngine(policy.RiskLimits, zerolog.Nop()),
	}
}

func newHarness(t *testing.T, pipeline Pipeline, policies stages.Policies) *harness {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "ledger")
	t.Cleanup(cleanup)

	bus := events.NewBus(zerolog.Nop())
	manager := events.NewManager(bus, zerolog.Nop())
	repo := ledger.NewRepository(db, zerolog.Nop())
	store := snapshots.NewStore(db, 2.0, zerolog.Nop())
	sources := Sources{
		Clients:  snapshots.StaticSource{Label: "clients.csv", Content: testingpkg.ClientsCSV},
		Holdings: snapshots.StaticSource{Label: "holdings.csv", Content: testingpkg.HoldingsCSV},
	}

	orch := New(repo, store, sources, pipeline, policies, manager, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})

	return &harness{
		orch:   orch,
		ledger: repo,
		review: approval.NewService(db, manager, zerolog.Nop()),
		bus:    bus,
	}
}

func (h *harness) runToEnd(t *testing.T, view string) *domain.RunState {
	t.Helper()
	run, err := h.orch.StartRun(context.Background(), view)
	require.NoError(t, err)
	h.orch.Wait()
	state, err := h.orch.GetRunState(context.Background(), run.ID)
	require.NoError(t, err)
	return state
}

func executionsOf(state *domain.RunState, stage domain.Stage) []domain.StageExecution {
	var out []domain.StageExecution
	for _, ex := range state.Executions {
		if ex.Stage == stage {
			out = append(out, ex)
		}
	}
	return out
}

func pending(t *testing.T, review *approval.Service, runID string) []domain.Recommendation {
	t.Helper()
	var out []domain.Recommendation
	for rec, err := range review.ListPending(context.Background(), runID) {
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

func findRec(recs []domain.Recommendation, client, code string) *domain.Recommendation {
	for i := range recs {
		if recs[i].ClientID == client && recs[i].InstrumentCode == code {
			return &recs[i]
		}
	}
	return nil
}

func TestStartRun_BankingBullishEndToEnd(t *testing.T) {
	h := newHarness(t, defaultPipeline(t), fastPolicies(5*time.Second))
	ctx := context.Background()

	var seen []events.EventType
	var mu sync.Mutex
	h.bus.Subscribe(func(e *events.Event) {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
	}, events.RunStarted, events.RunSucceeded, events.RecommendationsReady)

	state := h.runToEnd(t, "Banking sector bullish")
	require.Equal(t, domain.RunStatusSucceeded, state.Run.Status, state.Run.LastError)
	require.Len(t, state.Executions, 4)
	for i, ex := range state.Executions {
		assert.Equal(t, domain.Stages[i], ex.Stage)
		assert.Equal(t, domain.ExecutionSucceeded, ex.Status)
		assert.Equal(t, 1, ex.Attempt)
		assert.NotNil(t, ex.OutputRef)
	}

	directives, err := h.ledger.Directives(ctx, state.Run.ID)
	require.NoError(t, err)
	require.Len(t, directives, 1)
	assert.Equal(t, "BANKING", directives[0].Scope)
	assert.Equal(t, domain.StanceBullish, directives[0].Stance)

	recs := pending(t, h.review, state.Run.ID)
	require.Len(t, recs, 3)

	c001 := findRec(recs, "C001", "NSE:HDFCBANK")
	require.NotNil(t, c001)
	assert.Equal(t, domain.ActionHold, c001.Action)

	c002 := findRec(recs, "C002", "NSE:ICICIBANK")
	require.NotNil(t, c002)
	assert.Equal(t, domain.ActionAdd, c002.Action)

	c003 := findRec(recs, "C003", "NSE:HDFCBANK")
	require.NotNil(t, c003)
	assert.Equal(t, domain.ActionInitiate, c003.Action)

	_, err = h.review.Decide(ctx, c002.ID, domain.Decision{Verdict: domain.VerdictApprove, DecidedBy: "rm@firm"})
	require.NoError(t, err)
	_, err = h.review.Decide(ctx, c003.ID, domain.Decision{Verdict: domain.VerdictReject, DecidedBy: "rm@firm"})
	require.NoError(t, err)

	exported, err := h.review.ExportApproved(ctx, state.Run.ID)
	require.NoError(t, err)
	require.Len(t, exported, 1)
	assert.Equal(t, c002.ID, exported[0].ID)
	assert.Equal(t, domain.RecommendationExported, exported[0].Status)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []events.EventType{events.RunStarted, events.RunSucceeded, events.RecommendationsReady}, seen)
}

func TestStartRun_ConcurrentStartsOneWins(t *testing.T) {
	release := make(chan struct{})
	pipeline := defaultPipeline(t)
	rules := pipeline.Parser
	pipeline.Parser = stages.AdapterFunc[stages.ParseInput, []domain.Directive](
		func(ctx context.Context, in stages.ParseInput) ([]domain.Directive, error) {
			<-release
			return rules.Execute(ctx, in)
		})
	h := newHarness(t, pipeline, fastPolicies(5*time.Second))

	const callers = 5
	var (
		wg         sync.WaitGroup
		started    atomic.Int32
		concurrent atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.StartRun(context.Background(), "Banking sector bullish")
			var cre *domain.ConcurrentRunError
			switch {
			case err == nil:
				started.Add(1)
			case errors.As(err, &cre):
				concurrent.Add(1)
			}
		}()
	}
	wg.Wait()
	close(release)
	h.orch.Wait()

	assert.Equal(t, int32(1), started.Load())
	assert.Equal(t, int32(callers-1), concurrent.Load())

	runs, err := h.orch.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunStatusSucceeded, runs[0].Status)
}

func TestStartRun_TransientFetchRetried(t *testing.T) {
	var calls atomic.Int32
	pipeline := defaultPipeline(t)
	fetch := pipeline.MarketData
	pipeline.MarketData = stages.AdapterFunc[stages.FetchInput, map[string]domain.MarketSeries](
		func(ctx context.Context, in stages.FetchInput) (map[string]domain.MarketSeries, error) {
			if calls.Add(1) <= 2 {
				return nil, domain.Transient("HTTP 503", nil)
			}
			return fetch.Execute(ctx, in)
		})
	h := newHarness(t, pipeline, fastPolicies(5*time.Second))

	state := h.runToEnd(t, "Banking sector bullish")
	assert.Equal(t, domain.RunStatusSucceeded, state.Run.Status)

	fetches := executionsOf(state, domain.StageFetch)
	require.Len(t, fetches, 3)
	for i, ex := range fetches {
		assert.Equal(t, i+1, ex.Attempt)
	}
	assert.Equal(t, domain.ExecutionFailed, fetches[0].Status)
	assert.Equal(t, domain.StageErrorTransient, *fetches[0].ErrorKind)
	assert.Equal(t, domain.ExecutionFailed, fetches[1].Status)
	assert.Equal(t, domain.ExecutionSucceeded, fetches[2].Status)
	assert.Nil(t, fetches[0].OutputRef)
}

func TestStartRun_PermanentFailure(t *testing.T) {
	pipeline := defaultPipeline(t)
	pipeline.Parser = stages.AdapterFunc[stages.ParseInput, []domain.Directive](
		func(ctx context.Context, in stages.ParseInput) ([]domain.Directive, error) {
			return nil, domain.Permanent("malformed LLM response", nil)
		})
	h := newHarness(t, pipeline, fastPolicies(5*time.Second))

	state := h.runToEnd(t, "Banking sector bullish")
	assert.Equal(t, domain.RunStatusFailed, state.Run.Status)
	assert.Contains(t, state.Run.LastError, "malformed LLM response")
	require.Len(t, state.Executions, 1)
	assert.Equal(t, domain.StageErrorPermanent, *state.Executions[0].ErrorKind)

	_, err := h.orch.ResumeRun(context.Background(), state.Run.ID)
	var notResumable *domain.NotResumableError
	assert.True(t, errors.As(err, &notResumable))
}

func TestStartRun_TimeoutExhaustsAttempts(t *testing.T) {
	pipeline := defaultPipeline(t)
	pipeline.Signals = stages.AdapterFunc[map[string]domain.MarketSeries, map[string]domain.SignalScore](
		func(ctx context.Context, _ map[string]domain.MarketSeries) (map[string]domain.SignalScore, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
	h := newHarness(t, pipeline, fastPolicies(20*time.Millisecond))

	state := h.runToEnd(t, "Banking sector bullish")
	assert.Equal(t, domain.RunStatusFailed, state.Run.Status)

	scores := executionsOf(state, domain.StageScore)
	require.Len(t, scores, 3)
	for _, ex := range scores {
		assert.Equal(t, domain.ExecutionFailed, ex.Status)
		assert.Equal(t, domain.StageErrorTimeout, *ex.ErrorKind)
	}
}

func TestStartRun_IntegrityErrorCreatesNoRun(t *testing.T) {
	h := newHarness(t, defaultPipeline(t), fastPolicies(5*time.Second))
	h.orch.sources.Holdings = snapshots.StaticSource{Label: "holdings.csv", Content: testingpkg.HoldingsOverAllocatedCSV}

	_, err := h.orch.StartRun(context.Background(), "Banking sector bullish")
	var integrity *domain.DataIntegrityError
	require.True(t, errors.As(err, &integrity))
	assert.Contains(t, integrity.Error(), "C002")

	runs, err := h.orch.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestResumeRun_SkipsSettledStages(t *testing.T) {
	var parseCalls, fetchCalls atomic.Int32
	var fetchBroken atomic.Bool
	fetchBroken.Store(true)

	pipeline := defaultPipeline(t)
	rules, fetch := pipeline.Parser, pipeline.MarketData
	pipeline.Parser = stages.AdapterFunc[stages.ParseInput, []domain.Directive](
		func(ctx context.Context, in stages.ParseInput) ([]domain.Directive, error) {
			parseCalls.Add(1)
			return rules.Execute(ctx, in)
		})
	pipeline.MarketData = stages.AdapterFunc[stages.FetchInput, map[string]domain.MarketSeries](
		func(ctx context.Context, in stages.FetchInput) (map[string]domain.MarketSeries, error) {
			fetchCalls.Add(1)
			if fetchBroken.Load() {
				return nil, domain.Permanent("HTTP 401", nil)
			}
			return fetch.Execute(ctx, in)
		})
	h := newHarness(t, pipeline, fastPolicies(5*time.Second))
	ctx := context.Background()

	failed := h.runToEnd(t, "Banking sector bullish")
	require.Equal(t, domain.RunStatusFailed, failed.Run.Status)
	before, err := h.ledger.Directives(ctx, failed.Run.ID)
	require.NoError(t, err)

	fetchBroken.Store(false)
	resumed, err := h.orch.ResumeRun(ctx, failed.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, resumed.Status)
	h.orch.Wait()

	state, err := h.orch.GetRunState(ctx, failed.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, state.Run.Status)
	assert.Equal(t, int32(1), parseCalls.Load())
	assert.Equal(t, int32(2), fetchCalls.Load())
	assert.Len(t, executionsOf(state, domain.StageParse), 1)

	fetches := executionsOf(state, domain.StageFetch)
	require.Len(t, fetches, 2)
	assert.Equal(t, 2, fetches[1].Attempt)

	after, err := h.ledger.Directives(ctx, failed.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Len(t, pending(t, h.review, failed.Run.ID), 3)
}

func TestResumeRun_Refusals(t *testing.T) {
	var fetchBroken atomic.Bool
	fetchBroken.Store(true)
	pipeline := defaultPipeline(t)
	fetch := pipeline.MarketData
	pipeline.MarketData = stages.AdapterFunc[stages.FetchInput, map[string]domain.MarketSeries](
		func(ctx context.Context, in stages.FetchInput) (map[string]domain.MarketSeries, error) {
			if fetchBroken.Load() {
				return nil, domain.Permanent("HTTP 401", nil)
			}
			return fetch.Execute(ctx, in)
		})
	h := newHarness(t, pipeline, fastPolicies(5*time.Second))
	ctx := context.Background()

	failed := h.runToEnd(t, "Banking sector bullish")
	require.Equal(t, domain.RunStatusFailed, failed.Run.Status)

	fetchBroken.Store(false)
	succeeded := h.runToEnd(t, "Banking sector bullish")
	require.Equal(t, domain.RunStatusSucceeded, succeeded.Run.Status)

	var notResumable *domain.NotResumableError
	_, err := h.orch.ResumeRun(ctx, failed.Run.ID)
	require.True(t, errors.As(err, &notResumable))
	assert.Contains(t, notResumable.Reason, "superseded")

	_, err = h.orch.ResumeRun(ctx, succeeded.Run.ID)
	require.True(t, errors.As(err, &notResumable))

	_, err = h.orch.ResumeRun(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestCancelRun_MidSynthesize(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var interrupted atomic.Bool
	pipeline := defaultPipeline(t)
	rules := pipeline.Synthesizer
	pipeline.Synthesizer = stages.AdapterFunc[stages.SynthesizeInput, []domain.Recommendation](
		func(ctx context.Context, in stages.SynthesizeInput) ([]domain.Recommendation, error) {
			close(entered)
			<-release
			interrupted.Store(ctx.Err() != nil)
			return rules.Execute(ctx, in)
		})
	h := newHarness(t, pipeline, fastPolicies(5*time.Second))
	ctx := context.Background()

	run, err := h.orch.StartRun(ctx, "Banking sector bullish")
	require.NoError(t, err)

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("synthesize never started")
	}
	require.NoError(t, h.orch.CancelRun(ctx, run.ID))
	close(release)
	h.orch.Wait()

	assert.False(t, interrupted.Load(), "the call in flight runs to completion")

	state, err := h.orch.GetRunState(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCancelled, state.Run.Status)

	synth := executionsOf(state, domain.StageSynthesize)
	require.Len(t, synth, 1)
	assert.Equal(t, domain.ExecutionAbandoned, synth[0].Status)
	assert.Nil(t, synth[0].OutputRef)
	assert.Empty(t, pending(t, h.review, run.ID))
	assert.Empty(t, h.orch.ActiveRunID())

	// cancelling a finished run is a no-op
	assert.NoError(t, h.orch.CancelRun(ctx, run.ID))

	_, err = h.orch.ResumeRun(ctx, run.ID)
	var notResumable *domain.NotResumableError
	assert.True(t, errors.As(err, &notResumable))
}

func TestCancelRun_LedgerErrorLeavesRunGoing(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	pipeline := defaultPipeline(t)
	rules := pipeline.Synthesizer
	pipeline.Synthesizer = stages.AdapterFunc[stages.SynthesizeInput, []domain.Recommendation](
		func(ctx context.Context, in stages.SynthesizeInput) ([]domain.Recommendation, error) {
			close(entered)
			<-release
			return rules.Execute(ctx, in)
		})
	h := newHarness(t, pipeline, fastPolicies(5*time.Second))
	ctx := context.Background()

	run, err := h.orch.StartRun(ctx, "Banking sector bullish")
	require.NoError(t, err)
	<-entered

	dead, cancel := context.WithCancel(ctx)
	cancel()
	require.Error(t, h.orch.CancelRun(dead, run.ID))

	close(release)
	h.orch.Wait()

	state, err := h.orch.GetRunState(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, state.Run.Status)
	assert.NotEmpty(t, pending(t, h.review, run.ID))
	assert.Empty(t, h.orch.ActiveRunID())

	active, err := h.ledger.ActiveRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)
}

// blockingSource holds Open until released
type blockingSource struct {
	snapshots.StaticSource
	opened  chan struct{}
	release chan struct{}
}

func (s *blockingSource) Open(ctx context.Context) (io.ReadCloser, error) {
	close(s.opened)
	<-s.release
	return s.StaticSource.Open(ctx)
}

func TestStartRun_SnapshotIOHoldsNoLock(t *testing.T) {
	h := newHarness(t, defaultPipeline(t), fastPolicies(5*time.Second))
	ctx := context.Background()
	src := &blockingSource{
		StaticSource: snapshots.StaticSource{Label: "clients.csv", Content: testingpkg.ClientsCSV},
		opened:       make(chan struct{}),
		release:      make(chan struct{}),
	}
	h.orch.sources.Clients = src

	type result struct {
		run *domain.Run
		err error
	}
	done := make(chan result, 1)
	go func() {
		run, err := h.orch.StartRun(ctx, "Banking sector bullish")
		done <- result{run: run, err: err}
	}()
	<-src.opened

	polled := make(chan string, 1)
	go func() { polled <- h.orch.ActiveRunID() }()
	select {
	case id := <-polled:
		assert.Empty(t, id)
	case <-time.After(time.Second):
		t.Fatal("ActiveRunID blocked behind snapshot I/O")
	}

	_, err := h.orch.StartRun(ctx, "Reduce IT exposure")
	var concurrent *domain.ConcurrentRunError
	require.True(t, errors.As(err, &concurrent))
	assert.Empty(t, concurrent.ActiveRunID)
	assert.Equal(t, "another run is starting", concurrent.Error())

	assert.ErrorIs(t, h.orch.CancelRun(ctx, "missing"), domain.ErrRunNotFound)

	close(src.release)
	res := <-done
	require.NoError(t, res.err)
	h.orch.Wait()

	state, err := h.orch.GetRunState(ctx, res.run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, state.Run.Status)
}

func TestStartRun_ExpiresPreviousDrafts(t *testing.T) {
	h := newHarness(t, defaultPipeline(t), fastPolicies(5*time.Second))
	ctx := context.Background()

	first := h.runToEnd(t, "Banking sector bullish")
	old := pending(t, h.review, first.Run.ID)
	require.NotEmpty(t, old)

	second := h.runToEnd(t, "Reduce IT exposure")
	require.Equal(t, domain.RunStatusSucceeded, second.Run.Status)
	assert.Empty(t, pending(t, h.review, first.Run.ID))

	_, err := h.review.Decide(ctx, old[0].ID, domain.Decision{Verdict: domain.VerdictApprove, DecidedBy: "rm@firm"})
	var stale *domain.StaleRunError
	require.True(t, errors.As(err, &stale))
	assert.Equal(t, second.Run.ID, stale.SupersededBy)
}

func TestShutdown_FailsActiveRun(t *testing.T) {
	entered := make(chan struct{})
	pipeline := defaultPipeline(t)
	pipeline.MarketData = stages.AdapterFunc[stages.FetchInput, map[string]domain.MarketSeries](
		func(ctx context.Context, _ stages.FetchInput) (map[string]domain.MarketSeries, error) {
			close(entered)
			<-ctx.Done()
			return nil, ctx.Err()
		})
	h := newHarness(t, pipeline, fastPolicies(5*time.Second))
	ctx := context.Background()

	run, err := h.orch.StartRun(ctx, "Banking sector bullish")
	require.NoError(t, err)
	<-entered

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, h.orch.Shutdown(shutdownCtx))

	state, err := h.orch.GetRunState(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, state.Run.Status)
	assert.Equal(t, "interrupted by shutdown", state.Run.LastError)

	fetches := executionsOf(state, domain.StageFetch)
	require.Len(t, fetches, 1)
	assert.Equal(t, domain.ExecutionAbandoned, fetches[0].Status)
}

func TestFetchCodes(t *testing.T) {
	snap := testingpkg.NewSnapshotFixture()
	directives := []domain.Directive{
		{ScopeType: domain.ScopeInstrument, Scope: "NSE:SBIN"},
		{ScopeType: domain.ScopeInstrument, Scope: "NSE:TCS"},
		{ScopeType: domain.ScopeSector, Scope: "BANKING"},
	}

	codes := fetchCodes(snap, directives, config.SectorIndices{})
	assert.Equal(t, []string{
		"119551", "120503", "NSE:HDFCBANK", "NSE:ICICIBANK", "NSE:INFY", "NSE:RELIANCE", "NSE:SBIN", "NSE:TCS",
	}, codes)

	codes = fetchCodes(snap, directives, config.SectorIndices{
		Benchmark: "INDEX:^NSEI",
		Sectors:   map[string]string{"BANKING": "INDEX:^NSEBANK", "IT": "INDEX:^CNXIT"},
	})
	assert.Equal(t, []string{
		"119551", "120503", "INDEX:^CNXIT", "INDEX:^NSEBANK", "INDEX:^NSEI",
		"NSE:HDFCBANK", "NSE:ICICIBANK", "NSE:INFY", "NSE:RELIANCE", "NSE:SBIN", "NSE:TCS",
	}, codes)
}
