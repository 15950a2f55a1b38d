package hedge

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"opt-hedge-bot/internal/exposure"
	"opt-hedge-bot/internal/holdings"
	"opt-hedge-bot/internal/ledger"
	"opt-hedge-bot/internal/metrics"
	"opt-hedge-bot/internal/state"
	"opt-hedge-bot/internal/venue"

	"go.uber.org/zap"
)

// Dispatcher carries an intent to the hedge venue and reports back.
type Dispatcher interface {
	Execute(ctx context.Context, intent Intent) Outcome
}

// MarketSource supplies venue metadata for sizing and worst-price caps.
type MarketSource interface {
	MarketMeta(ctx context.Context, underlying string) (venue.MarketMeta, error)
}

// Threshold is the per-underlying trigger configuration.
type Threshold struct {
	Tolerance    float64
	MinOrderSize float64
}

type EngineConfig struct {
	MaxQuoteAge time.Duration
	SlippagePct float64
	Thresholds  func(underlying string) Threshold
	AutoStart   bool
	DryRun      bool
}

// Engine reconciles option delta exposure against hedge holdings, one
// pass at a time. A pass evaluates every underlying independently: a
// failure or data gap on one never blocks the others. Dispatch is
// asynchronous with at most one in-flight order per underlying, and a
// paused engine keeps evaluating but stops dispatching. Credential
// failures are not retried: the affected scope is held out of
// reconciliation until an operator resumes.
type Engine struct {
	ledger     *ledger.Ledger
	deltas     venue.DeltaSource
	tracker    *holdings.Tracker
	dispatcher Dispatcher
	markets    MarketSource
	store      state.Store
	metrics    *metrics.Metrics
	cfg        EngineConfig
	log        *zap.Logger

	paused  atomic.Bool
	cycle   atomic.Uint64
	outcome atomic.Value
	auth    atomic.Value

	mu           sync.Mutex
	inFlight     map[string]bool
	known        map[string]bool
	authHalted   map[string]bool
	deltasHalted bool
}

type outcomeHandler func(Outcome)

type authHandler func(underlying string, err error)

func NewEngine(ledg *ledger.Ledger, deltas venue.DeltaSource, tracker *holdings.Tracker, dispatcher Dispatcher, markets MarketSource, store state.Store, m *metrics.Metrics, cfg EngineConfig, log *zap.Logger) *Engine {
	if m == nil {
		m = metrics.NewNoop()
	}
	if cfg.Thresholds == nil {
		cfg.Thresholds = func(string) Threshold { return Threshold{Tolerance: 0.05} }
	}
	e := &Engine{
		ledger:     ledg,
		deltas:     deltas,
		tracker:    tracker,
		dispatcher: dispatcher,
		markets:    markets,
		store:      store,
		metrics:    m,
		cfg:        cfg,
		log:        log,
		inFlight:   make(map[string]bool),
		known:      make(map[string]bool),
		authHalted: make(map[string]bool),
	}
	e.paused.Store(!cfg.AutoStart)
	return e
}

// SetOutcomeHandler registers a callback invoked for every dispatch
// outcome. It runs on the dispatch goroutine.
func (e *Engine) SetOutcomeHandler(fn func(Outcome)) {
	e.outcome.Store(outcomeHandler(fn))
}

// SetAuthHandler registers a callback fired the first time a credential
// failure takes part of the book out of reconciliation.
func (e *Engine) SetAuthHandler(fn func(underlying string, err error)) {
	e.auth.Store(authHandler(fn))
}

func (e *Engine) Pause()       { e.paused.Store(true) }
func (e *Engine) Paused() bool { return e.paused.Load() }

// Resume restarts dispatching and lifts any credential halts, so the
// venues are queried again with whatever keys are now in place.
func (e *Engine) Resume() {
	e.mu.Lock()
	e.authHalted = make(map[string]bool)
	e.deltasHalted = false
	e.mu.Unlock()
	e.paused.Store(false)
}

// Restore loads the last persisted cycle snapshot so the engine keeps
// unwinding hedges for underlyings whose positions were removed before a
// restart.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	snap, ok, err := state.LoadEngineSnapshot(ctx, e.store)
	if err != nil || !ok {
		return err
	}
	e.mu.Lock()
	for u := range snap.Underlyings {
		e.known[u] = true
	}
	e.mu.Unlock()
	e.paused.Store(snap.Paused)
	e.cycle.Store(snap.CycleCount)
	return nil
}

// RunCycle performs one full reconcile pass and returns its report.
func (e *Engine) RunCycle(ctx context.Context) CycleReport {
	report := CycleReport{
		Cycle:     e.cycle.Add(1),
		Paused:    e.paused.Load(),
		StartedAt: time.Now(),
	}
	e.metrics.CyclesRun.Inc()

	e.mu.Lock()
	deltasHalted := e.deltasHalted
	e.mu.Unlock()
	if deltasHalted {
		report.Degraded = true
		return report
	}

	positions := e.ledger.List()
	contracts := make([]string, 0, len(positions))
	for _, pos := range positions {
		contracts = append(contracts, pos.ContractID)
	}

	quotes, err := e.deltas.FetchDeltas(ctx, contracts)
	if err != nil {
		report.Degraded = true
		if errors.Is(err, venue.ErrAuth) {
			e.haltDeltas(err)
		} else {
			e.log.Warn("delta fetch failed, skipping cycle", zap.Error(err))
		}
		return report
	}

	exposures := exposure.Compute(positions, quotes, time.Now(), e.cfg.MaxQuoteAge)

	for _, u := range e.underlyings(exposures) {
		check := e.evaluate(ctx, u, exposures)
		report.Checks = append(report.Checks, check)
	}

	e.persistSnapshot(ctx, report)
	return report
}

// underlyings returns the sorted union of currently exposed underlyings
// and those remembered from earlier cycles, so removed positions still
// get their hedges unwound.
func (e *Engine) underlyings(exposures map[string]exposure.Exposure) []string {
	set := make(map[string]bool)
	e.mu.Lock()
	for u := range e.known {
		set[u] = true
	}
	for u := range exposures {
		set[u] = true
		e.known[u] = true
	}
	e.mu.Unlock()
	out := make([]string, 0, len(set))
	for u := range set {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) evaluate(ctx context.Context, u string, exposures map[string]exposure.Exposure) GapCheck {
	check := GapCheck{Underlying: u}

	e.mu.Lock()
	halted := e.authHalted[u]
	e.mu.Unlock()
	if halted {
		check.State = StateAuthHalted
		check.Reason = "venue auth failed, waiting for operator resume"
		return check
	}

	exp, hasExp := exposures[u]
	if hasExp && exp.Partial {
		e.metrics.PartialSkipped.Inc()
		check.Partial = true
		check.State = StateSkipped
		check.Reason = "partial delta data"
		return check
	}
	check.TargetDelta = exp.TargetDelta
	check.TargetHedge = TargetHedge(exp.TargetDelta)

	held, err := e.tracker.Refresh(ctx, u)
	if err != nil {
		if errors.Is(err, venue.ErrAuth) {
			e.haltAuth(u, err)
			check.State = StateAuthHalted
			check.Reason = err.Error()
			return check
		}
		e.log.Warn("holding refresh failed", zap.String("underlying", u), zap.Error(err))
		check.State = StateFailed
		check.Reason = err.Error()
		return check
	}
	check.Held = held
	check.Gap = Gap(check.TargetHedge, held)
	e.metrics.DeltaGap.Set(u, check.Gap)

	meta, err := e.markets.MarketMeta(ctx, u)
	if err != nil {
		e.log.Warn("market meta unavailable", zap.String("underlying", u), zap.Error(err))
		check.State = StateFailed
		check.Reason = err.Error()
		return check
	}

	th := e.cfg.Thresholds(u)
	minSize := th.MinOrderSize
	if meta.MinBaseAmount > minSize {
		minSize = meta.MinBaseAmount
	}
	size, ok := SizeOrder(check.Gap, th.Tolerance, minSize, meta.SizeDecimals)
	if !ok {
		check.State = StateNoAction
		if !hasExp && held == 0 {
			e.forget(u)
		}
		return check
	}

	side := Direction(check.Gap)
	intent := Intent{
		Underlying:  u,
		Side:        side,
		Size:        size,
		WorstPrice:  WorstPrice(side, meta.LastTradePrice, e.cfg.SlippagePct),
		TargetDelta: check.TargetDelta,
		TargetHedge: check.TargetHedge,
		Held:        held,
		Gap:         check.Gap,
		ClientID:    strconv.FormatInt(time.Now().UnixNano(), 10),
		CreatedAt:   time.Now(),
	}
	check.Intent = &intent

	if e.cfg.DryRun {
		check.State = StateRebalance
		return check
	}
	if e.paused.Load() {
		check.State = StatePaused
		check.Reason = "hedging paused"
		return check
	}
	if !e.markInFlight(u) {
		check.State = StateInFlight
		check.Reason = "order already in flight"
		return check
	}

	e.metrics.IntentsDispatched.Inc()
	e.log.Info("dispatching hedge intent",
		zap.String("underlying", u),
		zap.String("side", string(side)),
		zap.Float64("size", size),
		zap.Float64("gap", check.Gap))
	go e.dispatch(ctx, intent)
	check.State = StateDispatched
	return check
}

func (e *Engine) dispatch(ctx context.Context, intent Intent) {
	defer e.clearInFlight(intent.Underlying)
	outcome := e.dispatcher.Execute(ctx, intent)
	switch outcome.Status {
	case OutcomeFilled:
		e.metrics.OrdersFilled.Inc()
		e.log.Info("hedge order filled",
			zap.String("underlying", intent.Underlying),
			zap.Float64("filled", outcome.Filled))
	case OutcomePartial:
		e.metrics.OrdersPartial.Inc()
		e.log.Warn("hedge order partially filled",
			zap.String("underlying", intent.Underlying),
			zap.Float64("filled", outcome.Filled),
			zap.String("reason", outcome.Reason))
	case OutcomeRejected:
		e.metrics.OrdersRejected.Inc()
		e.log.Error("hedge order rejected",
			zap.String("underlying", intent.Underlying),
			zap.String("reason", outcome.Reason))
	default:
		e.metrics.OrdersFailed.Inc()
		e.log.Error("hedge order failed",
			zap.String("underlying", intent.Underlying),
			zap.String("reason", outcome.Reason))
	}
	if fn, ok := e.outcome.Load().(outcomeHandler); ok && fn != nil {
		fn(outcome)
	}
}

// haltAuth takes an underlying out of reconciliation after a credential
// failure. Retrying cannot help until an operator rotates keys and
// resumes, so the halt sticks and the alert fires once.
func (e *Engine) haltAuth(u string, err error) {
	e.mu.Lock()
	already := e.authHalted[u]
	e.authHalted[u] = true
	e.mu.Unlock()
	if already {
		return
	}
	e.log.Error("venue auth failed, halting underlying until resume",
		zap.String("underlying", u), zap.Error(err))
	e.notifyAuth(u, err)
}

// haltDeltas stops whole cycles when the delta source rejects our
// credentials. The empty underlying marks a source-wide halt.
func (e *Engine) haltDeltas(err error) {
	e.mu.Lock()
	already := e.deltasHalted
	e.deltasHalted = true
	e.mu.Unlock()
	if already {
		return
	}
	e.log.Error("delta source auth failed, halting reconciliation until resume", zap.Error(err))
	e.notifyAuth("", err)
}

func (e *Engine) notifyAuth(u string, err error) {
	if fn, ok := e.auth.Load().(authHandler); ok && fn != nil {
		fn(u, err)
	}
}

func (e *Engine) markInFlight(u string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight[u] {
		return false
	}
	e.inFlight[u] = true
	return true
}

func (e *Engine) clearInFlight(u string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, u)
}

func (e *Engine) forget(u string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.known, u)
}

func (e *Engine) persistSnapshot(ctx context.Context, report CycleReport) {
	if e.store == nil {
		return
	}
	snap := state.EngineSnapshot{
		Paused:      e.paused.Load(),
		CycleCount:  report.Cycle,
		Underlyings: make(map[string]state.GapRecord, len(report.Checks)),
		UpdatedAtMS: time.Now().UnixMilli(),
	}
	for _, check := range report.Checks {
		snap.Underlyings[check.Underlying] = state.GapRecord{
			TargetDelta: check.TargetDelta,
			HedgeHeld:   check.Held,
			Gap:         check.Gap,
			Partial:     check.Partial,
			State:       string(check.State),
		}
	}
	if err := state.SaveEngineSnapshot(ctx, e.store, snap); err != nil {
		e.log.Warn("failed to persist cycle snapshot", zap.Error(err))
	}
}
