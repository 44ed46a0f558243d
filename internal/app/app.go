package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"hk-arb-bot/internal/alerts"
	"hk-arb-bot/internal/config"
	"hk-arb-bot/internal/engine"
	"hk-arb-bot/internal/exec"
	"hk-arb-bot/internal/feed"
	"hk-arb-bot/internal/hl/exchange"
	"hk-arb-bot/internal/hl/rest"
	"hk-arb-bot/internal/journal"
	"hk-arb-bot/internal/kraken"
	"hk-arb-bot/internal/metrics"
	"hk-arb-bot/internal/percentile"
	"hk-arb-bot/internal/state/sqlite"
	"hk-arb-bot/internal/strategy"
	"hk-arb-bot/internal/timescale"
)

// percentileLookback bounds the funding-history query; at hourly funding
// this comfortably covers the 500-sample cap.
const percentileLookback = 30 * 24 * time.Hour

type App struct {
	cfg      *config.Config
	log      *zap.Logger
	store    *sqlite.Store
	rest     *rest.Client
	exchange *exchange.Client
	spot     *kraken.Client
	engine   *engine.Engine
	feed     *feed.Manager
	metrics  *metrics.Metrics
	prom     *metrics.Prometheus
	tsWriter *timescale.Writer
}

func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	restClient := rest.New(cfg.Hyperliquid.BaseURL, cfg.Hyperliquid.Timeout, log)

	privateKey := strings.TrimSpace(os.Getenv("HL_PRIVATE_KEY"))
	if privateKey == "" {
		return nil, errors.New("HL_PRIVATE_KEY is required")
	}
	accountAddress := strings.TrimSpace(os.Getenv("HL_ACCOUNT_ADDRESS"))
	vaultAddress := strings.TrimSpace(os.Getenv("HL_VAULT_ADDRESS"))
	isMainnet := !strings.Contains(strings.ToLower(cfg.Hyperliquid.BaseURL), "testnet")
	signer, err := exchange.NewSigner(privateKey, isMainnet)
	if err != nil {
		return nil, err
	}
	if accountAddress == "" {
		accountAddress = signer.Address().Hex()
	}
	exClient, err := exchange.NewClient(cfg.Hyperliquid.BaseURL, cfg.Hyperliquid.Timeout, signer, vaultAddress)
	if err != nil {
		return nil, err
	}
	exClient.SetLogger(log)

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
		return nil, err
	}

	met := metrics.NewNoop()
	var prom *metrics.Prometheus
	if cfg.Engine.MetricsListen != "" {
		prom = metrics.NewPrometheus()
		met = prom.Metrics
	}

	tsWriter, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(cfg.Assets))
	for _, spec := range cfg.Assets {
		symbols = append(symbols, spec.Symbol)
	}
	entryStrat, err := strategy.ParseEntryStrategy(cfg.Strategy.Entry)
	if err != nil {
		return nil, err
	}
	exitStrat, err := strategy.ParseExitStrategy(cfg.Strategy.Exit)
	if err != nil {
		return nil, err
	}
	tables := percentile.Build(ctx, restClient, symbols, strategy.Ranks(entryStrat, exitStrat), percentileLookback, log)
	thresholds := buildThresholds(tables, entryStrat, exitStrat)
	if len(thresholds) == 0 {
		return nil, errors.New("no asset has funding history; nothing to trade")
	}

	meta, err := restClient.Meta(ctx)
	if err != nil {
		return nil, fmt.Errorf("perp meta: %w", err)
	}
	assetMeta := make(map[string]rest.AssetMeta, len(symbols))
	for _, sym := range symbols {
		m, ok := meta[sym]
		if !ok {
			delete(thresholds, sym)
			log.Warn("symbol missing from perp universe, excluded", zap.String("symbol", sym))
			continue
		}
		assetMeta[sym] = m
	}

	wire := engine.NewWireVenue(exClient)
	executor := exec.New(wire, store, cfg.Engine.MaxOrderRetries, log)
	perp := engine.NewPerp(restClient, executor, wire, accountAddress, assetMeta,
		cfg.Engine.SlippageBuffer, cfg.Engine.MinBookDepth, cfg.Engine.MaxOrderRetries, log)

	sink := journal.Sink(journal.NewLogSink(log))
	if tsWriter != nil {
		sink = journal.Multi(sink, tsWriter)
	}
	var alerter engine.Alerter
	if cfg.Telegram.Enabled {
		alerter = alerts.NewTelegram(cfg.Telegram, log)
	}

	eng, err := engine.New(cfg, thresholds, engine.Deps{
		Perp:        perp,
		PerpAccount: perp,
		Sweeper:     perp,
		Spot:        spot,
		Journal:     sink,
		Alerts:      alerter,
		Metrics:     met,
		Log:         log,
	})
	if err != nil {
		return nil, err
	}

	feedMgr := feed.NewManager(feed.Config{
		URL:          cfg.Hyperliquid.WSURL,
		MinDelay:     cfg.Hyperliquid.Reconnect.MinDelay,
		MaxDelay:     cfg.Hyperliquid.Reconnect.MaxDelay,
		MaxAttempts:  cfg.Hyperliquid.Reconnect.MaxAttempts,
		PingInterval: cfg.Hyperliquid.PingInterval,
	}, eng.Symbols(), eng.OnUpdate, met, log)

	return &App{
		cfg:      cfg,
		log:      log,
		store:    store,
		rest:     restClient,
		exchange: exClient,
		spot:     spot,
		engine:   eng,
		feed:     feedMgr,
		metrics:  met,
		prom:     prom,
		tsWriter: tsWriter,
	}, nil
}

// buildThresholds resolves each asset's table against the configured
// strategies. The percentile-based exit reads its rank from the table; the
// predicted-rate exit carries no exit threshold.
func buildThresholds(tables map[string]percentile.Table, entry strategy.EntryStrategy, exit strategy.ExitStrategy) map[string]strategy.Thresholds {
	out := make(map[string]strategy.Thresholds, len(tables))
	for sym, table := range tables {
		th := strategy.Thresholds{EntryValue: table[entry.Rank()]}
		if rank, ok := exit.Rank(); ok {
			th.ExitValue = table[rank]
			th.HasExit = true
		}
		out[sym] = th
	}
	return out
}

// Run blocks until the context is canceled or a fatal condition stops the
// engine.
func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.tsWriter.Close()

	if err := a.exchange.InitNonceStore(ctx, a.store); err != nil {
		a.log.Warn("nonce store init failed", zap.Error(err))
	} else if state, ok := a.exchange.NonceState(); ok {
		a.log.Info("nonce persistence enabled", zap.String("nonce_key", state.Key), zap.Uint64("nonce_seed", state.Last))
	}

	if err := a.engine.Reconcile(ctx); err != nil {
		return fmt.Errorf("startup reconcile: %w", err)
	}
	a.tsWriter.Start(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.engine.RunSyncLoop(runCtx)
	go a.engine.RunStatusLoop(runCtx)
	a.serveMetrics(runCtx)

	a.log.Info("engine started",
		zap.Strings("symbols", a.engine.Symbols()),
		zap.String("entry_strategy", a.cfg.Strategy.Entry),
		zap.String("exit_strategy", a.cfg.Strategy.Exit),
		zap.Int("tier", a.cfg.Strategy.Tier))

	err := a.feed.Run(runCtx)
	for _, snap := range a.engine.Snapshots() {
		if snap.State == engine.StateInPosition {
			a.log.Warn("shutting down with an open position, legs remain on both venues",
				zap.String("symbol", snap.Symbol),
				zap.Float64("perp_qty", snap.PerpQty),
				zap.Float64("spot_qty", snap.SpotQty))
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("feed stopped: %w", err)
	}
	return nil
}

func (a *App) serveMetrics(ctx context.Context) {
	addr := a.cfg.Engine.MetricsListen
	if addr == "" || a.prom == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.prom.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
}
