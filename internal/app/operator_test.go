package app

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"opt-hedge-bot/internal/config"
	"opt-hedge-bot/internal/hedge"
	"opt-hedge-bot/internal/ledger"

	"go.uber.org/zap"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string]string)
	}
	m.data[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStore) List(ctx context.Context, prefix string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for key, val := range m.data {
		if strings.HasPrefix(key, prefix) {
			out[key] = val
		}
	}
	return out, nil
}

func (m *memoryStore) Close() error {
	return nil
}

func newOperatorApp(t *testing.T) (*App, *memoryStore) {
	t.Helper()
	store := &memoryStore{data: make(map[string]string)}
	log := zap.NewNop()
	ledg := ledger.New(store, log)
	engine := hedge.NewEngine(ledg, nil, nil, nil, nil, store, nil, hedge.EngineConfig{AutoStart: true}, log)
	cfg := &config.Config{
		Hedge: config.HedgeConfig{
			Threshold: config.Threshold{Tolerance: 0.05},
		},
	}
	return &App{cfg: cfg, log: log, store: store, ledger: ledg, engine: engine, thresholds: make(map[string]config.Threshold)}, store
}

func TestParseOperatorCommand(t *testing.T) {
	cmd, args, ok := parseOperatorCommand("/threshold SOL 0.1")
	if !ok {
		t.Fatalf("expected ok")
	}
	if cmd != "threshold" {
		t.Fatalf("expected threshold, got %s", cmd)
	}
	if len(args) != 2 || args[0] != "SOL" || args[1] != "0.1" {
		t.Fatalf("unexpected args: %v", args)
	}
	if _, _, ok := parseOperatorCommand("hello there"); ok {
		t.Fatalf("expected non-command text to be ignored")
	}
	if _, _, ok := parseOperatorCommand("   "); ok {
		t.Fatalf("expected blank text to be ignored")
	}
}

func TestOperatorPauseResumeAudit(t *testing.T) {
	app, store := newOperatorApp(t)
	meta := operatorMeta{UserID: 1, ChatID: 2, Raw: "/pause"}

	resp, err := app.handleOperatorCommand(context.Background(), "pause", nil, meta)
	if err != nil {
		t.Fatalf("pause error: %v", err)
	}
	if resp != "hedging paused" {
		t.Fatalf("unexpected pause response: %s", resp)
	}
	if !app.engine.Paused() {
		t.Fatalf("expected paused")
	}

	meta.Raw = "/resume"
	resp, err = app.handleOperatorCommand(context.Background(), "resume", nil, meta)
	if err != nil {
		t.Fatalf("resume error: %v", err)
	}
	if resp != "hedging resumed" {
		t.Fatalf("unexpected resume response: %s", resp)
	}
	if app.engine.Paused() {
		t.Fatalf("expected resumed")
	}
	found := false
	for key := range store.data {
		if strings.HasPrefix(key, "ops:audit:") {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected audit entry")
	}
}

func TestOperatorAddRemovePositions(t *testing.T) {
	app, _ := newOperatorApp(t)
	meta := operatorMeta{UserID: 1, ChatID: 2, Raw: "/add SOL-USD-215-C -2"}

	resp, err := app.handleOperatorCommand(context.Background(), "add", []string{"SOL-USD-215-C", "-2"}, meta)
	if err != nil {
		t.Fatalf("add error: %v", err)
	}
	if resp != "SOL-USD-215-C now -2" {
		t.Fatalf("unexpected add response: %s", resp)
	}

	if _, err := app.handleOperatorCommand(context.Background(), "add", []string{"not-a-contract", "1"}, meta); err == nil {
		t.Fatalf("expected invalid contract error")
	}
	if _, err := app.handleOperatorCommand(context.Background(), "add", []string{"SOL-USD-215-C"}, meta); err == nil {
		t.Fatalf("expected usage error for missing quantity")
	}

	resp, err = app.handleOperatorCommand(context.Background(), "positions", nil, meta)
	if err != nil {
		t.Fatalf("positions error: %v", err)
	}
	if resp != "SOL-USD-215-C: -2" {
		t.Fatalf("unexpected positions response: %s", resp)
	}

	meta.Raw = "/remove SOL-USD-215-C"
	resp, err = app.handleOperatorCommand(context.Background(), "remove", []string{"SOL-USD-215-C"}, meta)
	if err != nil {
		t.Fatalf("remove error: %v", err)
	}
	if resp != "SOL-USD-215-C removed" {
		t.Fatalf("unexpected remove response: %s", resp)
	}
	resp, err = app.handleOperatorCommand(context.Background(), "positions", nil, meta)
	if err != nil {
		t.Fatalf("positions error: %v", err)
	}
	if resp != "ledger is empty" {
		t.Fatalf("unexpected positions response: %s", resp)
	}
}

func TestOperatorOrderHistory(t *testing.T) {
	app, _ := newOperatorApp(t)
	meta := operatorMeta{UserID: 1, ChatID: 2, Raw: "/orders"}

	resp, err := app.handleOperatorCommand(context.Background(), "orders", nil, meta)
	if err != nil {
		t.Fatalf("orders error: %v", err)
	}
	if resp != "no hedge orders recorded" {
		t.Fatalf("unexpected empty response: %s", resp)
	}

	app.recordOrder(hedge.Outcome{
		Intent: hedge.Intent{Underlying: "SOL", Side: hedge.SideBuy, Size: 0.8},
		Status: hedge.OutcomeFilled,
		Filled: 0.8,
	})
	resp, err = app.handleOperatorCommand(context.Background(), "orders", nil, meta)
	if err != nil {
		t.Fatalf("orders error: %v", err)
	}
	if !strings.Contains(resp, "SOL buy 0.8") || !strings.Contains(resp, "status=filled") {
		t.Fatalf("unexpected orders response: %s", resp)
	}
}

func TestOperatorThresholdOverride(t *testing.T) {
	app, _ := newOperatorApp(t)
	meta := operatorMeta{UserID: 1, ChatID: 2, Raw: "/threshold SOL 0.1 0.5"}

	resp, err := app.handleOperatorCommand(context.Background(), "threshold", []string{"SOL", "0.1", "0.5"}, meta)
	if err != nil {
		t.Fatalf("threshold error: %v", err)
	}
	if !strings.Contains(resp, "tolerance=0.1") || !strings.Contains(resp, "min_order_size=0.5") {
		t.Fatalf("unexpected threshold response: %s", resp)
	}
	th := app.thresholdFor("SOL")
	if th.Tolerance != 0.1 || th.MinOrderSize != 0.5 {
		t.Fatalf("unexpected override: %+v", th)
	}
	if got := app.thresholdFor("ETH"); got.Tolerance != 0.05 {
		t.Fatalf("expected default tolerance for ETH, got %+v", got)
	}

	if _, err := app.handleOperatorCommand(context.Background(), "threshold", []string{"SOL", "-1"}, meta); err == nil {
		t.Fatalf("expected error for negative tolerance")
	}
}

func TestOperatorIntervalCommand(t *testing.T) {
	app, _ := newOperatorApp(t)
	app.interval = 10 * time.Second
	app.intervalCh = make(chan time.Duration, 1)
	meta := operatorMeta{UserID: 1, ChatID: 2, Raw: "/interval 30s"}

	resp, err := app.handleOperatorCommand(context.Background(), "interval", []string{"30s"}, meta)
	if err != nil {
		t.Fatalf("interval error: %v", err)
	}
	if resp != "cycle interval now 30s" {
		t.Fatalf("unexpected interval response: %s", resp)
	}
	select {
	case d := <-app.intervalCh:
		if d != 30*time.Second {
			t.Fatalf("unexpected interval: %s", d)
		}
	default:
		t.Fatalf("expected interval update on channel")
	}

	if _, err := app.handleOperatorCommand(context.Background(), "interval", []string{"100ms"}, meta); err == nil {
		t.Fatalf("expected error for sub-second interval")
	}
}
