package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
assets:
  - symbol: ETH
    kraken_pair: ETHUSD
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Kraken.MaxCallsPerWindow != 46 || cfg.Kraken.Window != time.Minute {
		t.Fatalf("kraken rate defaults: %+v", cfg.Kraken)
	}
	if cfg.Kraken.MinInterval != 350*time.Millisecond {
		t.Fatalf("kraken min interval: %v", cfg.Kraken.MinInterval)
	}
	if cfg.Engine.OrderTimeout != 60*time.Second || cfg.Engine.MaxOrderRetries != 3 {
		t.Fatalf("engine order defaults: %+v", cfg.Engine)
	}
	if cfg.Engine.SlippageBuffer != 0.001 || cfg.Engine.MinBookDepth != 1.5 {
		t.Fatalf("engine pricing defaults: %+v", cfg.Engine)
	}
	if cfg.Engine.ExitWindowMinutes != 15 {
		t.Fatalf("exit window: %d", cfg.Engine.ExitWindowMinutes)
	}
	if cfg.Engine.MarginPolicy != MarginPolicyAccountValue {
		t.Fatalf("margin policy: %q", cfg.Engine.MarginPolicy)
	}
	if cfg.Hyperliquid.Reconnect.MaxAttempts != 10 {
		t.Fatalf("reconnect attempts: %d", cfg.Hyperliquid.Reconnect.MaxAttempts)
	}
	if cfg.Strategy.Entry != "default" || cfg.Strategy.Exit != "default" || cfg.Strategy.Tier != 1 {
		t.Fatalf("strategy defaults: %+v", cfg.Strategy)
	}
	spec := cfg.Assets[0]
	if spec.MarginRatio != 1.0 || spec.VolumePrecision != 6 {
		t.Fatalf("asset defaults: %+v", spec)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "no assets",
			body: `log: {level: info}`,
			want: "at least one asset",
		},
		{
			name: "duplicate asset",
			body: minimalYAML + `  - symbol: ETH
    kraken_pair: ETHUSD
`,
			want: "duplicate asset",
		},
		{
			name: "missing pair",
			body: `
assets:
  - symbol: BTC
`,
			want: "kraken_pair",
		},
		{
			name: "unknown entry strategy",
			body: minimalYAML + `
strategy:
  entry: yolo
`,
			want: "yolo",
		},
		{
			name: "unknown exit strategy",
			body: minimalYAML + `
strategy:
  exit: "99"
`,
			want: "99",
		},
		{
			name: "bad tier",
			body: minimalYAML + `
strategy:
  tier: 7
`,
			want: "tier",
		},
		{
			name: "unknown margin policy",
			body: minimalYAML + `
engine:
  margin_policy: spot_only
`,
			want: "margin_policy",
		},
		{
			name: "slippage out of range",
			body: minimalYAML + `
engine:
  slippage_buffer: 0.2
`,
			want: "slippage_buffer",
		},
		{
			name: "timescale without dsn",
			body: minimalYAML + `
timescale:
  enabled: true
`,
			want: "timescale.dsn",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil {
				t.Fatalf("expected error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadFullConfig(t *testing.T) {
	body := `
log:
  level: debug
hyperliquid:
  base_url: https://api.hyperliquid-testnet.xyz
  reconnect:
    max_attempts: 5
engine:
  margin_policy: withdrawable
  slippage_buffer: 0.002
  safety_buffer_usd: 25
strategy:
  entry: "75"
  exit: "35"
  tier: 2
assets:
  - symbol: ETH
    kraken_pair: ETHUSD
    margin_ratio: 0.5
    price_precision: 2
  - symbol: SOL
    kraken_pair: SOLUSD
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.MarginPolicy != MarginPolicyWithdrawable {
		t.Fatalf("margin policy: %q", cfg.Engine.MarginPolicy)
	}
	if cfg.Assets[0].MarginRatio != 0.5 {
		t.Fatalf("explicit margin ratio overridden: %v", cfg.Assets[0].MarginRatio)
	}
	if cfg.Strategy.MaxSymbols() != 2 {
		t.Fatalf("tier2 should allow 2 symbols, got %d", cfg.Strategy.MaxSymbols())
	}
}

func TestMaxSymbols(t *testing.T) {
	cases := []struct {
		tier int
		want int
	}{
		{1, 1},
		{2, 2},
		{3, 0},
	}
	for _, tc := range cases {
		if got := (StrategyConfig{Tier: tc.tier}).MaxSymbols(); got != tc.want {
			t.Fatalf("tier %d: expected %d, got %d", tc.tier, tc.want, got)
		}
	}
}

func TestLoadMissingPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
