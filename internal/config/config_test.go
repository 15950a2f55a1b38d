package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "log:\n  level: debug\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected debug level, got %s", cfg.Log.Level)
	}
	if cfg.Paradex.BaseURL == "" || cfg.Lighter.BaseURL == "" {
		t.Fatalf("expected default venue URLs")
	}
	if cfg.Hedge.Interval != 10*time.Second {
		t.Fatalf("expected default hedge interval, got %s", cfg.Hedge.Interval)
	}
	if cfg.Hedge.Threshold.Tolerance != 0.05 {
		t.Fatalf("expected default tolerance 0.05, got %f", cfg.Hedge.Threshold.Tolerance)
	}
	if cfg.Exec.MaxAttempts != 3 {
		t.Fatalf("expected default max attempts 3, got %d", cfg.Exec.MaxAttempts)
	}
}

func TestLoadRejectsBadSlippage(t *testing.T) {
	path := writeConfig(t, "hedge:\n  slippage_pct: 0.9\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for slippage_pct")
	}
}

func TestLoadRejectsTimescaleWithoutDSN(t *testing.T) {
	path := writeConfig(t, "timescale:\n  enabled: true\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for missing dsn")
	}
}

func TestThresholdForOverride(t *testing.T) {
	cfg := HedgeConfig{
		Threshold: Threshold{Tolerance: 0.1, MinOrderSize: 0.01},
		Underlyings: map[string]Threshold{
			"SOL": {Tolerance: 0.2},
		},
	}
	th := cfg.ThresholdFor("SOL")
	if th.Tolerance != 0.2 {
		t.Fatalf("expected override tolerance 0.2, got %f", th.Tolerance)
	}
	if th.MinOrderSize != 0.01 {
		t.Fatalf("expected global min order size 0.01, got %f", th.MinOrderSize)
	}
	th = cfg.ThresholdFor("BTC")
	if th.Tolerance != 0.1 {
		t.Fatalf("expected global tolerance 0.1, got %f", th.Tolerance)
	}
}

func TestLoadParsesUnderlyingOverrides(t *testing.T) {
	path := writeConfig(t, `
hedge:
  threshold:
    tolerance: 0.1
  underlyings:
    BTC:
      tolerance: 0.02
      min_order_size: 0.001
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	th := cfg.Hedge.ThresholdFor("BTC")
	if th.Tolerance != 0.02 || th.MinOrderSize != 0.001 {
		t.Fatalf("unexpected BTC threshold: %+v", th)
	}
}
