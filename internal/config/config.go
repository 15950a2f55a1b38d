package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	Paradex   ParadexConfig   `yaml:"paradex"`
	Lighter   LighterConfig   `yaml:"lighter"`
	State     StateConfig     `yaml:"state"`
	Hedge     HedgeConfig     `yaml:"hedge"`
	Exec      ExecConfig      `yaml:"exec"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Timescale TimescaleConfig `yaml:"timescale"`
	Telegram  TelegramConfig  `yaml:"telegram"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ParadexConfig points at the options venue (read-only market data).
type ParadexConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxQuoteAge time.Duration `yaml:"max_quote_age"`
}

// LighterConfig points at the hedge venue (account state + trading).
type LighterConfig struct {
	BaseURL        string        `yaml:"base_url"`
	WSURL          string        `yaml:"ws_url"`
	AccountIndex   int64         `yaml:"account_index"`
	PrivateKey     string        `yaml:"private_key"`
	Timeout        time.Duration `yaml:"timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	ResyncInterval time.Duration `yaml:"resync_interval"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// Threshold carries the rebalance policy knobs. A zero field in a
// per-underlying override falls back to the global value.
type Threshold struct {
	Tolerance    float64 `yaml:"tolerance"`
	MinOrderSize float64 `yaml:"min_order_size"`
}

type HedgeConfig struct {
	Interval    time.Duration        `yaml:"interval"`
	AutoStart   bool                 `yaml:"auto_start"`
	SlippagePct float64              `yaml:"slippage_pct"`
	Threshold   Threshold            `yaml:"threshold"`
	Underlyings map[string]Threshold `yaml:"underlyings"`
}

type ExecConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	FillTimeout  time.Duration `yaml:"fill_timeout"`
	FillPoll     time.Duration `yaml:"fill_poll"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type TelegramConfig struct {
	Enabled                bool          `yaml:"enabled"`
	Token                  string        `yaml:"token"`
	ChatID                 string        `yaml:"chat_id"`
	OperatorEnabled        bool          `yaml:"operator_enabled"`
	OperatorPollInterval   time.Duration `yaml:"operator_poll_interval"`
	OperatorAllowedUserIDs []int64       `yaml:"operator_allowed_user_ids"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Paradex.BaseURL == "" {
		cfg.Paradex.BaseURL = "https://api.prod.paradex.trade/v1"
	}
	if cfg.Paradex.Timeout == 0 {
		cfg.Paradex.Timeout = 10 * time.Second
	}
	if cfg.Paradex.MaxQuoteAge == 0 {
		cfg.Paradex.MaxQuoteAge = 2 * time.Minute
	}
	if cfg.Lighter.BaseURL == "" {
		cfg.Lighter.BaseURL = "https://mainnet.zklighter.elliot.ai"
	}
	if cfg.Lighter.WSURL == "" {
		cfg.Lighter.WSURL = "wss://mainnet.zklighter.elliot.ai/stream"
	}
	if cfg.Lighter.Timeout == 0 {
		cfg.Lighter.Timeout = 10 * time.Second
	}
	if cfg.Lighter.ReconnectDelay == 0 {
		cfg.Lighter.ReconnectDelay = 3 * time.Second
	}
	if cfg.Lighter.PingInterval == 0 {
		cfg.Lighter.PingInterval = 30 * time.Second
	}
	if cfg.Lighter.ResyncInterval == 0 {
		cfg.Lighter.ResyncInterval = 30 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/opt-hedge-bot.db"
	}
	if cfg.Hedge.Interval == 0 {
		cfg.Hedge.Interval = 10 * time.Second
	}
	if cfg.Hedge.SlippagePct == 0 {
		cfg.Hedge.SlippagePct = 0.01
	}
	if cfg.Hedge.Threshold.Tolerance == 0 {
		cfg.Hedge.Threshold.Tolerance = 0.05
	}
	if cfg.Exec.MaxAttempts == 0 {
		cfg.Exec.MaxAttempts = 3
	}
	if cfg.Exec.RetryBackoff == 0 {
		cfg.Exec.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.Exec.FillTimeout == 0 {
		cfg.Exec.FillTimeout = 15 * time.Second
	}
	if cfg.Exec.FillPoll == 0 {
		cfg.Exec.FillPoll = time.Second
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9090"
	}
	if cfg.Telegram.OperatorPollInterval == 0 {
		cfg.Telegram.OperatorPollInterval = 3 * time.Second
	}
}

func validate(cfg *Config) error {
	if cfg.Hedge.Threshold.Tolerance < 0 {
		return errors.New("hedge.threshold.tolerance must be >= 0")
	}
	if cfg.Hedge.Threshold.MinOrderSize < 0 {
		return errors.New("hedge.threshold.min_order_size must be >= 0")
	}
	if cfg.Hedge.SlippagePct < 0 || cfg.Hedge.SlippagePct > 0.5 {
		return errors.New("hedge.slippage_pct must be in [0, 0.5]")
	}
	for underlying, th := range cfg.Hedge.Underlyings {
		if th.Tolerance < 0 || th.MinOrderSize < 0 {
			return fmt.Errorf("hedge.underlyings.%s: negative threshold", underlying)
		}
	}
	if cfg.Timescale.Enabled && cfg.Timescale.DSN == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	return nil
}

// ThresholdFor resolves the effective threshold for an underlying,
// falling back to the global default per field.
func (c *HedgeConfig) ThresholdFor(underlying string) Threshold {
	th := c.Threshold
	if override, ok := c.Underlyings[underlying]; ok {
		if override.Tolerance > 0 {
			th.Tolerance = override.Tolerance
		}
		if override.MinOrderSize > 0 {
			th.MinOrderSize = override.MinOrderSize
		}
	}
	return th
}
