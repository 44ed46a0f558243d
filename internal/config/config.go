package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"hk-arb-bot/internal/strategy"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log         LoggingConfig   `yaml:"log"`
	Hyperliquid HLConfig        `yaml:"hyperliquid"`
	Kraken      KrakenConfig    `yaml:"kraken"`
	Engine      EngineConfig    `yaml:"engine"`
	Strategy    StrategyConfig  `yaml:"strategy"`
	Assets      []AssetSpec     `yaml:"assets"`
	State       StateConfig     `yaml:"state"`
	Timescale   TimescaleConfig `yaml:"timescale"`
	Telegram    TelegramConfig  `yaml:"telegram"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type HLConfig struct {
	BaseURL      string          `yaml:"base_url"`
	WSURL        string          `yaml:"ws_url"`
	Timeout      time.Duration   `yaml:"timeout"`
	PingInterval time.Duration   `yaml:"ping_interval"`
	Reconnect    ReconnectConfig `yaml:"reconnect"`
}

type ReconnectConfig struct {
	MinDelay    time.Duration `yaml:"min_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

type KrakenConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxCallsPerWindow int           `yaml:"max_calls_per_window"`
	Window            time.Duration `yaml:"window"`
	MinInterval       time.Duration `yaml:"min_interval"`
	OrderPollInterval time.Duration `yaml:"order_poll_interval"`
}

type EngineConfig struct {
	OrderTimeout       time.Duration `yaml:"order_timeout"`
	MaxOrderRetries    int           `yaml:"max_order_retries"`
	SlippageBuffer     float64       `yaml:"slippage_buffer"`
	MinBookDepth       float64       `yaml:"min_book_depth"`
	ExitWindowMinutes  int           `yaml:"exit_window_minutes"`
	SafetyBufferUSD    float64       `yaml:"safety_buffer_usd"`
	MinPerpNotionalUSD float64       `yaml:"min_perp_notional_usd"`
	SyncInterval       time.Duration `yaml:"sync_interval"`
	StatusInterval     time.Duration `yaml:"status_interval"`
	ErrorCooldown      time.Duration `yaml:"error_cooldown"`
	ExtendedCooldown   time.Duration `yaml:"extended_cooldown"`
	MaxConsecutiveErrs int           `yaml:"max_consecutive_errors"`
	MaxPriceDeviation  float64       `yaml:"max_price_deviation"`
	FlashCrashCooldown time.Duration `yaml:"flash_crash_cooldown"`
	MarginPolicy       string        `yaml:"margin_policy"`
	MetricsListen      string        `yaml:"metrics_listen"`
}

type StrategyConfig struct {
	Entry string `yaml:"entry"`
	Exit  string `yaml:"exit"`
	Tier  int    `yaml:"tier"`
}

// AssetSpec is the immutable per-symbol configuration. MarginRatio is the
// spot notional required per unit of perp notional to keep the legs balanced.
type AssetSpec struct {
	Symbol             string  `yaml:"symbol"`
	KrakenPair         string  `yaml:"kraken_pair"`
	MarginRatio        float64 `yaml:"margin_ratio"`
	PricePrecision     int32   `yaml:"price_precision"`
	VolumePrecision    int32   `yaml:"volume_precision"`
	MinPerpNotionalUSD float64 `yaml:"min_perp_notional_usd"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
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
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

// Named policies for how Venue A usable margin is derived.
const (
	MarginPolicyAccountValue = "account_value"
	MarginPolicyWithdrawable = "withdrawable"
)

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
	if cfg.Hyperliquid.BaseURL == "" {
		cfg.Hyperliquid.BaseURL = "https://api.hyperliquid.xyz"
	}
	if cfg.Hyperliquid.WSURL == "" {
		cfg.Hyperliquid.WSURL = "wss://api.hyperliquid.xyz/ws"
	}
	if cfg.Hyperliquid.Timeout == 0 {
		cfg.Hyperliquid.Timeout = 10 * time.Second
	}
	if cfg.Hyperliquid.PingInterval == 0 {
		cfg.Hyperliquid.PingInterval = 30 * time.Second
	}
	if cfg.Hyperliquid.Reconnect.MinDelay == 0 {
		cfg.Hyperliquid.Reconnect.MinDelay = 2 * time.Second
	}
	if cfg.Hyperliquid.Reconnect.MaxDelay == 0 {
		cfg.Hyperliquid.Reconnect.MaxDelay = 60 * time.Second
	}
	if cfg.Hyperliquid.Reconnect.MaxAttempts == 0 {
		cfg.Hyperliquid.Reconnect.MaxAttempts = 10
	}
	if cfg.Kraken.BaseURL == "" {
		cfg.Kraken.BaseURL = "https://api.kraken.com"
	}
	if cfg.Kraken.Timeout == 0 {
		cfg.Kraken.Timeout = 10 * time.Second
	}
	if cfg.Kraken.MaxCallsPerWindow == 0 {
		cfg.Kraken.MaxCallsPerWindow = 46
	}
	if cfg.Kraken.Window == 0 {
		cfg.Kraken.Window = time.Minute
	}
	if cfg.Kraken.MinInterval == 0 {
		cfg.Kraken.MinInterval = 350 * time.Millisecond
	}
	if cfg.Kraken.OrderPollInterval == 0 {
		cfg.Kraken.OrderPollInterval = 3 * time.Second
	}
	if cfg.Engine.OrderTimeout == 0 {
		cfg.Engine.OrderTimeout = 60 * time.Second
	}
	if cfg.Engine.MaxOrderRetries == 0 {
		cfg.Engine.MaxOrderRetries = 3
	}
	if cfg.Engine.SlippageBuffer == 0 {
		cfg.Engine.SlippageBuffer = 0.001
	}
	if cfg.Engine.MinBookDepth == 0 {
		cfg.Engine.MinBookDepth = 1.5
	}
	if cfg.Engine.ExitWindowMinutes == 0 {
		cfg.Engine.ExitWindowMinutes = 15
	}
	if cfg.Engine.MinPerpNotionalUSD == 0 {
		cfg.Engine.MinPerpNotionalUSD = 10
	}
	if cfg.Engine.SyncInterval == 0 {
		cfg.Engine.SyncInterval = 10 * time.Minute
	}
	if cfg.Engine.StatusInterval == 0 {
		cfg.Engine.StatusInterval = 30 * time.Second
	}
	if cfg.Engine.ErrorCooldown == 0 {
		cfg.Engine.ErrorCooldown = 5 * time.Second
	}
	if cfg.Engine.ExtendedCooldown == 0 {
		cfg.Engine.ExtendedCooldown = 30 * time.Second
	}
	if cfg.Engine.MaxConsecutiveErrs == 0 {
		cfg.Engine.MaxConsecutiveErrs = 5
	}
	if cfg.Engine.MaxPriceDeviation == 0 {
		cfg.Engine.MaxPriceDeviation = 0.05
	}
	if cfg.Engine.FlashCrashCooldown == 0 {
		cfg.Engine.FlashCrashCooldown = 5 * time.Minute
	}
	if cfg.Engine.MarginPolicy == "" {
		cfg.Engine.MarginPolicy = MarginPolicyAccountValue
	}
	if cfg.Strategy.Entry == "" {
		cfg.Strategy.Entry = "default"
	}
	if cfg.Strategy.Exit == "" {
		cfg.Strategy.Exit = "default"
	}
	if cfg.Strategy.Tier == 0 {
		cfg.Strategy.Tier = 1
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/hk-arb-bot.db"
	}
	for i := range cfg.Assets {
		if cfg.Assets[i].MarginRatio == 0 {
			cfg.Assets[i].MarginRatio = 1.0
		}
		if cfg.Assets[i].VolumePrecision == 0 {
			cfg.Assets[i].VolumePrecision = 6
		}
	}
}

func validate(cfg *Config) error {
	if len(cfg.Assets) == 0 {
		return errors.New("at least one asset is required")
	}
	seen := make(map[string]bool, len(cfg.Assets))
	for _, spec := range cfg.Assets {
		if spec.Symbol == "" {
			return errors.New("asset symbol is required")
		}
		if seen[spec.Symbol] {
			return fmt.Errorf("duplicate asset %s", spec.Symbol)
		}
		seen[spec.Symbol] = true
		if spec.KrakenPair == "" {
			return fmt.Errorf("asset %s: kraken_pair is required", spec.Symbol)
		}
		if spec.MarginRatio <= 0 {
			return fmt.Errorf("asset %s: margin_ratio must be > 0", spec.Symbol)
		}
	}
	// Unknown strategy names are a startup error, never a silent default.
	if _, err := strategy.ParseEntryStrategy(cfg.Strategy.Entry); err != nil {
		return err
	}
	if _, err := strategy.ParseExitStrategy(cfg.Strategy.Exit); err != nil {
		return err
	}
	if cfg.Strategy.Tier < 1 || cfg.Strategy.Tier > 3 {
		return fmt.Errorf("strategy.tier must be 1, 2 or 3, got %d", cfg.Strategy.Tier)
	}
	switch cfg.Engine.MarginPolicy {
	case MarginPolicyAccountValue, MarginPolicyWithdrawable:
	default:
		return fmt.Errorf("unknown engine.margin_policy %q", cfg.Engine.MarginPolicy)
	}
	if cfg.Engine.SlippageBuffer < 0 || cfg.Engine.SlippageBuffer > 0.05 {
		return errors.New("engine.slippage_buffer must be within [0, 0.05]")
	}
	if cfg.Timescale.Enabled && cfg.Timescale.DSN == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	return nil
}

// MaxSymbols bounds allocation breadth by subscription tier; 0 means no cap.
func (s StrategyConfig) MaxSymbols() int {
	switch s.Tier {
	case 1:
		return 1
	case 2:
		return 2
	default:
		return 0
	}
}
