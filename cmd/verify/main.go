package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"hk-arb-bot/internal/config"
	"hk-arb-bot/internal/hl/exchange"
	"hk-arb-bot/internal/hl/rest"
	"hk-arb-bot/internal/kraken"
	"hk-arb-bot/internal/logging"
	"hk-arb-bot/internal/percentile"
	"hk-arb-bot/internal/strategy"
)

// verify exercises every external dependency the bot needs, read-only: the
// signer, the perp venue's info endpoint, the spot venue's private API, and
// the percentile tables the configured strategy would trade on.
func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	lookbackHours := flag.Int("lookback-hours", 24*30, "funding history lookback for percentile check")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	privateKey := strings.TrimSpace(os.Getenv("HL_PRIVATE_KEY"))
	if privateKey == "" {
		fatal(fmt.Errorf("HL_PRIVATE_KEY is required"))
	}
	isMainnet := !strings.Contains(strings.ToLower(cfg.Hyperliquid.BaseURL), "testnet")
	signer, err := exchange.NewSigner(privateKey, isMainnet)
	if err != nil {
		fatal(err)
	}
	accountAddress := strings.TrimSpace(os.Getenv("HL_ACCOUNT_ADDRESS"))
	if accountAddress == "" {
		accountAddress = signer.Address().Hex()
	}
	fmt.Printf("signer address: %s\n", signer.Address().Hex())
	fmt.Printf("account:        %s\n", accountAddress)

	restClient := rest.New(cfg.Hyperliquid.BaseURL, cfg.Hyperliquid.Timeout, log)
	st, err := restClient.ClearinghouseState(ctx, accountAddress)
	if err != nil {
		fatal(fmt.Errorf("perp account state: %w", err))
	}
	fmt.Printf("perp account value: %.2f USD (withdrawable %.2f)\n", st.AccountValueUSD, st.WithdrawableUSD)
	for _, pos := range st.Positions {
		fmt.Printf("  open position: %s szi=%g entry=%g\n", pos.Coin, pos.Szi, pos.EntryPx)
	}

	spot, err := kraken.New(kraken.Config{
		BaseURL:           cfg.Kraken.BaseURL,
		APIKey:            strings.TrimSpace(os.Getenv("KRAKEN_API_KEY")),
		APISecret:         strings.TrimSpace(os.Getenv("KRAKEN_API_SECRET")),
		Timeout:           cfg.Kraken.Timeout,
		MaxCallsPerWindow: cfg.Kraken.MaxCallsPerWindow,
		Window:            cfg.Kraken.Window,
		MinInterval:       cfg.Kraken.MinInterval,
	}, log)
	if err != nil {
		fatal(err)
	}
	balances, err := spot.Balance(ctx)
	if err != nil {
		fatal(fmt.Errorf("spot balance: %w", err))
	}
	keys := make([]string, 0, len(balances))
	for k := range balances {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Println("spot balances:")
	for _, k := range keys {
		fmt.Printf("  %-8s %g\n", k, balances[k])
	}

	entry, err := strategy.ParseEntryStrategy(cfg.Strategy.Entry)
	if err != nil {
		fatal(err)
	}
	exit, err := strategy.ParseExitStrategy(cfg.Strategy.Exit)
	if err != nil {
		fatal(err)
	}
	symbols := make([]string, 0, len(cfg.Assets))
	for _, spec := range cfg.Assets {
		symbols = append(symbols, spec.Symbol)
	}
	lookback := time.Duration(*lookbackHours) * time.Hour
	tables := percentile.Build(ctx, restClient, symbols, strategy.Ranks(entry, exit), lookback, log)
	for _, sym := range symbols {
		table, ok := tables[sym]
		if !ok {
			fmt.Printf("%s: no funding history, would be excluded\n", sym)
			continue
		}
		ranks := make([]int, 0, len(table))
		for r := range table {
			ranks = append(ranks, r)
		}
		sort.Ints(ranks)
		fmt.Printf("%s funding percentiles (pct per interval):\n", sym)
		for _, r := range ranks {
			fmt.Printf("  p%-3d %.6f\n", r, table[r])
		}
		if tick, err := spot.Ticker(ctx, pairFor(cfg, sym)); err == nil {
			fmt.Printf("  spot %s bid=%g ask=%g\n", pairFor(cfg, sym), tick.Bid, tick.Ask)
		} else {
			fmt.Printf("  spot ticker failed: %v\n", err)
		}
	}
	_ = log.Sync()
	fmt.Println("verify ok")
}

func pairFor(cfg *config.Config, symbol string) string {
	for _, spec := range cfg.Assets {
		if spec.Symbol == symbol {
			return spec.KrakenPair
		}
	}
	return symbol + "USD"
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
