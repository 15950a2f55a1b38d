package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"opt-hedge-bot/internal/alerts"
	"opt-hedge-bot/internal/config"
	"opt-hedge-bot/internal/exec"
	"opt-hedge-bot/internal/hedge"
	"opt-hedge-bot/internal/holdings"
	"opt-hedge-bot/internal/ledger"
	"opt-hedge-bot/internal/metrics"
	"opt-hedge-bot/internal/state"
	"opt-hedge-bot/internal/state/sqlite"
	"opt-hedge-bot/internal/timescale"
	"opt-hedge-bot/internal/venue/lighter"
	"opt-hedge-bot/internal/venue/paradex"

	"go.uber.org/zap"
)

type App struct {
	cfg      *config.Config
	log      *zap.Logger
	store    state.Store
	ledger   *ledger.Ledger
	deltas   *paradex.Client
	rest     *lighter.Client
	exchange *lighter.Exchange
	stream   *lighter.PriceStream
	tracker  *holdings.Tracker
	engine   *hedge.Engine
	prom     *metrics.Prometheus
	writer   *timescale.Writer
	alerts   *alerts.Telegram

	opsMu          sync.RWMutex
	interval       time.Duration
	thresholds     map[string]config.Threshold
	lastReport     hedge.CycleReport
	operatorWarned bool

	intervalCh chan time.Duration
	cycleCh    chan chan hedge.CycleReport
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}

	deltaClient := paradex.New(cfg.Paradex.BaseURL, cfg.Paradex.Timeout, log)
	restClient := lighter.NewClient(cfg.Lighter.BaseURL, cfg.Lighter.AccountIndex, cfg.Lighter.Timeout, log)

	privateKey := strings.TrimSpace(cfg.Lighter.PrivateKey)
	if privateKey == "" {
		privateKey = strings.TrimSpace(os.Getenv("LIGHTER_PRIVATE_KEY"))
	}
	if privateKey == "" {
		return nil, errors.New("lighter private key is required (config or LIGHTER_PRIVATE_KEY)")
	}
	signer, err := lighter.NewSigner(privateKey)
	if err != nil {
		return nil, err
	}
	exClient, err := lighter.NewExchange(cfg.Lighter.BaseURL, cfg.Lighter.AccountIndex, cfg.Lighter.Timeout, signer, restClient, log)
	if err != nil {
		return nil, err
	}
	stream := lighter.NewPriceStream(cfg.Lighter.WSURL, cfg.Lighter.ReconnectDelay, cfg.Lighter.PingInterval, log)

	tracker := holdings.NewTracker(restClient, cfg.Lighter.ResyncInterval, log)
	ledg := ledger.New(store, log)

	coordinator := exec.New(exClient, restClient, tracker, store, exec.Config{
		MaxAttempts:  cfg.Exec.MaxAttempts,
		RetryBackoff: cfg.Exec.RetryBackoff,
		FillTimeout:  cfg.Exec.FillTimeout,
		FillPoll:     cfg.Exec.FillPoll,
	}, log)

	var prom *metrics.Prometheus
	m := metrics.NewNoop()
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}

	writer, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:        cfg,
		log:        log,
		store:      store,
		ledger:     ledg,
		deltas:     deltaClient,
		rest:       restClient,
		exchange:   exClient,
		stream:     stream,
		tracker:    tracker,
		prom:       prom,
		writer:     writer,
		alerts:     alerts.NewTelegram(cfg.Telegram, log),
		interval:   cfg.Hedge.Interval,
		thresholds: make(map[string]config.Threshold),
		intervalCh: make(chan time.Duration, 1),
		cycleCh:    make(chan chan hedge.CycleReport, 1),
	}

	a.engine = hedge.NewEngine(ledg, deltaClient, tracker, coordinator, restClient, store, m, hedge.EngineConfig{
		MaxQuoteAge: cfg.Paradex.MaxQuoteAge,
		SlippagePct: cfg.Hedge.SlippagePct,
		Thresholds:  a.thresholdFor,
		AutoStart:   cfg.Hedge.AutoStart,
	}, log)
	a.engine.SetOutcomeHandler(a.handleOutcome)
	a.engine.SetAuthHandler(a.handleAuthFailure)
	return a, nil
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()

	if err := a.exchange.InitNonceStore(ctx, a.store); err != nil {
		a.log.Warn("nonce store init failed", zap.Error(err))
	}
	if err := a.ledger.Load(ctx); err != nil {
		return err
	}
	if err := a.engine.Restore(ctx); err != nil {
		a.log.Warn("engine snapshot restore failed", zap.Error(err))
	}
	if err := a.rest.RefreshMeta(ctx); err != nil {
		a.log.Warn("market catalogue refresh failed", zap.Error(err))
	}
	a.log.Info("ledger loaded", zap.Int("positions", len(a.ledger.List())))

	a.writer.Start(ctx)
	a.startMetrics(ctx)
	a.startPriceStream(ctx)
	a.startOperator(ctx)

	ticker := time.NewTicker(a.cycleInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case next := <-a.intervalCh:
			ticker.Reset(next)
			a.log.Info("cycle interval updated", zap.Duration("interval", next))
		case reply := <-a.cycleCh:
			reply <- a.runCycle(ctx)
		case <-ticker.C:
			a.runCycle(ctx)
		}
	}
}

func (a *App) runCycle(ctx context.Context) hedge.CycleReport {
	report := a.engine.RunCycle(ctx)
	a.opsMu.Lock()
	a.lastReport = report
	a.opsMu.Unlock()
	a.recordReport(report)
	return report
}

// TriggerCycle asks the run loop for an immediate reconcile pass and
// waits for its report.
func (a *App) TriggerCycle(ctx context.Context) (hedge.CycleReport, error) {
	reply := make(chan hedge.CycleReport, 1)
	select {
	case a.cycleCh <- reply:
	case <-ctx.Done():
		return hedge.CycleReport{}, ctx.Err()
	}
	select {
	case report := <-reply:
		return report, nil
	case <-ctx.Done():
		return hedge.CycleReport{}, ctx.Err()
	}
}

func (a *App) cycleInterval() time.Duration {
	a.opsMu.RLock()
	defer a.opsMu.RUnlock()
	return a.interval
}

func (a *App) setCycleInterval(d time.Duration) {
	a.opsMu.Lock()
	a.interval = d
	a.opsMu.Unlock()
	select {
	case a.intervalCh <- d:
	default:
	}
}

// thresholdFor layers runtime operator overrides over the configured
// per-underlying thresholds.
func (a *App) thresholdFor(underlying string) hedge.Threshold {
	a.opsMu.RLock()
	override, ok := a.thresholds[underlying]
	a.opsMu.RUnlock()
	th := a.cfg.Hedge.ThresholdFor(underlying)
	if ok {
		if override.Tolerance > 0 {
			th.Tolerance = override.Tolerance
		}
		if override.MinOrderSize > 0 {
			th.MinOrderSize = override.MinOrderSize
		}
	}
	return hedge.Threshold{Tolerance: th.Tolerance, MinOrderSize: th.MinOrderSize}
}

func (a *App) setThresholdOverride(underlying string, th config.Threshold) {
	a.opsMu.Lock()
	defer a.opsMu.Unlock()
	a.thresholds[underlying] = th
}

func (a *App) startMetrics(ctx context.Context) {
	if a.prom == nil {
		return
	}
	server := &http.Server{Addr: a.cfg.Metrics.ListenAddr, Handler: a.prom.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server failed", zap.Error(err))
		}
	}()
}

// startPriceStream subscribes to trades for every catalogued market and
// feeds last trade prices back into the rest client so worst-price caps
// track the live market.
func (a *App) startPriceStream(ctx context.Context) {
	markets, err := a.rest.Markets(ctx)
	if err != nil {
		a.log.Warn("price stream disabled: catalogue unavailable", zap.Error(err))
		return
	}
	byID := make(map[int]string, len(markets))
	for _, m := range markets {
		byID[m.MarketID] = m.Underlying
	}
	go func() {
		if err := a.stream.Connect(ctx); err != nil {
			a.log.Warn("price stream connect failed", zap.Error(err))
			return
		}
		for _, m := range markets {
			if err := a.stream.SubscribeTrades(ctx, m.MarketID); err != nil {
				a.log.Warn("trade subscription failed", zap.String("underlying", m.Underlying), zap.Error(err))
			}
		}
		err := a.stream.Run(ctx, func(upd lighter.TradeUpdate) {
			if u, ok := byID[upd.MarketID]; ok {
				a.rest.SetLastTradePrice(u, upd.Price)
			}
		})
		if err != nil && ctx.Err() == nil {
			a.log.Warn("price stream stopped", zap.Error(err))
		}
	}()
}
