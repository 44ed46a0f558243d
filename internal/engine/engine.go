package engine

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"hk-arb-bot/internal/config"
	"hk-arb-bot/internal/feed"
	"hk-arb-bot/internal/hl/rest"
	"hk-arb-bot/internal/journal"
	"hk-arb-bot/internal/kraken"
	"hk-arb-bot/internal/metrics"
	"hk-arb-bot/internal/sizing"
	"hk-arb-bot/internal/strategy"
)

// SpotVenue is the long leg as the engine consumes it. *kraken.Client
// satisfies it.
type SpotVenue interface {
	Ticker(ctx context.Context, pair string) (kraken.Ticker, error)
	AddOrder(ctx context.Context, req kraken.OrderRequest) (string, error)
	WaitForFill(ctx context.Context, txid string, pollEvery, timeout time.Duration) (kraken.Fill, error)
	Balance(ctx context.Context) (map[string]float64, error)
}

// PerpAccount reads the perp venue's margin state.
type PerpAccount interface {
	AccountState(ctx context.Context) (rest.AccountState, error)
}

// OrderSweeper cancels every resting order on the perp venue.
type OrderSweeper interface {
	CancelOpenOrders(ctx context.Context) (int, error)
}

type Alerter interface {
	Send(ctx context.Context, message string) error
}

type Deps struct {
	Perp        PerpTrader
	PerpAccount PerpAccount
	Sweeper     OrderSweeper
	Spot        SpotVenue
	Journal     journal.Sink
	Alerts      Alerter
	Metrics     *metrics.Metrics
	Log         *zap.Logger
}

// Engine is the trade orchestrator: it owns the per-asset runtime table,
// evaluates entry/exit conditions on every feed update, sizes eligible
// candidates, and runs the two-leg execution protocols. Only one
// sizing+execution pass runs at a time; overlapping triggers are dropped and
// re-raised by the next market update.
type Engine struct {
	cfg        config.EngineConfig
	kcfg       config.KrakenConfig
	entry      strategy.EntryStrategy
	exit       strategy.ExitStrategy
	maxSymbols int

	assets     map[string]config.AssetSpec
	thresholds map[string]strategy.Thresholds
	table      *runtimeTable

	perp    PerpTrader
	account PerpAccount
	sweeper OrderSweeper
	spot    SpotVenue
	sink    journal.Sink
	alerts  Alerter
	met     *metrics.Metrics
	log     *zap.Logger

	evalBusy atomic.Bool
	errs     *errorTracker
	flash    *flashGuard
	now      func() time.Time
}

// New builds an engine for exactly the symbols present in thresholds.
// Configured assets without a threshold were excluded at startup and never
// trade.
func New(cfg *config.Config, thresholds map[string]strategy.Thresholds, deps Deps) (*Engine, error) {
	entry, err := strategy.ParseEntryStrategy(cfg.Strategy.Entry)
	if err != nil {
		return nil, err
	}
	exit, err := strategy.ParseExitStrategy(cfg.Strategy.Exit)
	if err != nil {
		return nil, err
	}
	assets := make(map[string]config.AssetSpec, len(thresholds))
	symbols := make([]string, 0, len(thresholds))
	for _, spec := range cfg.Assets {
		if _, ok := thresholds[spec.Symbol]; !ok {
			continue
		}
		assets[spec.Symbol] = spec
		symbols = append(symbols, spec.Symbol)
	}
	if len(assets) == 0 {
		return nil, errors.New("engine: no tradable assets")
	}
	return &Engine{
		cfg:        cfg.Engine,
		kcfg:       cfg.Kraken,
		entry:      entry,
		exit:       exit,
		maxSymbols: cfg.Strategy.MaxSymbols(),
		assets:     assets,
		thresholds: thresholds,
		table:      newRuntimeTable(symbols),
		perp:       deps.Perp,
		account:    deps.PerpAccount,
		sweeper:    deps.Sweeper,
		spot:       deps.Spot,
		sink:       deps.Journal,
		alerts:     deps.Alerts,
		met:        deps.Metrics,
		log:        deps.Log,
		errs:       newErrorTracker(cfg.Engine.ErrorCooldown, cfg.Engine.ExtendedCooldown, cfg.Engine.MaxConsecutiveErrs),
		flash:      newFlashGuard(cfg.Engine.MaxPriceDeviation, cfg.Engine.FlashCrashCooldown, deps.Log),
		now:        time.Now,
	}, nil
}

// Symbols lists the tradable symbols.
func (e *Engine) Symbols() []string {
	out := make([]string, 0, len(e.assets))
	for sym := range e.assets {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Snapshots exposes the runtime table for status reporting.
func (e *Engine) Snapshots() []Snapshot {
	return e.table.snapshots()
}

// OnUpdate is the feed handler: apply the update, then re-evaluate the
// asset. This is the sole trigger for entry/exit logic.
func (e *Engine) OnUpdate(ctx context.Context, u feed.Update) {
	if _, ok := e.assets[u.Symbol]; !ok {
		return
	}
	var prevFunding float64
	var hadFunding bool
	applied := e.table.applyMarket(u.Symbol, func(a *assetRuntime) {
		prevFunding, hadFunding = a.funding, a.hasFunding
		if u.HasFunding {
			a.funding = u.Funding
			a.hasFunding = true
		}
		if u.HasPredFunding {
			a.predFunding = u.PredFunding
			a.hasPredFunding = true
		}
		if u.HasImpactPxs {
			a.bestBid = u.ImpactBid
			a.bestAsk = u.ImpactAsk
		}
		if u.HasMarkPx {
			a.markPx = u.MarkPx
		}
		if u.HasOraclePx {
			a.oraclePx = u.OraclePx
		}
	})
	if !applied {
		return
	}
	if u.HasMarkPx {
		e.flash.observe(u.Symbol, "mark", u.MarkPx)
	}
	if u.HasImpactPxs {
		e.flash.observe(u.Symbol, "bid", u.ImpactBid)
		e.flash.observe(u.Symbol, "ask", u.ImpactAsk)
	}
	if u.HasFunding && (!hadFunding || u.Funding != prevFunding) {
		e.sink.Record(ctx, journal.Event{
			Time:       e.now().UTC(),
			Type:       journal.EventFundingSample,
			Symbol:     u.Symbol,
			FundingPct: u.Funding * 100,
		})
	}
	e.evaluate(ctx, u.Symbol)
}

// evaluate runs the per-asset state machine once: entry check when flat,
// exit check when in position.
func (e *Engine) evaluate(ctx context.Context, symbol string) {
	if e.errs.inCooldown() || e.flash.suspended(symbol) {
		return
	}
	snap, ok := e.table.snapshot(symbol)
	if !ok || !snap.HasFunding {
		return
	}
	th := e.thresholds[symbol]
	ratePct := snap.Funding * 100

	if snap.State == StateInPosition {
		predPct := snap.PredFunding * 100
		if strategy.ShouldExit(e.exit, th, ratePct, predPct, snap.HasPred, e.now().UTC(), e.cfg.ExitWindowMinutes) {
			e.runExclusive(func() { e.executeExit(ctx, symbol) })
		}
		return
	}

	candidate := strategy.ShouldEnter(ratePct, th)
	if candidate && strategy.InExitWindow(e.now().UTC(), e.cfg.ExitWindowMinutes) {
		// Too close to the funding boundary to open a fresh position.
		return
	}
	if state, changed := e.table.setCandidate(symbol, candidate); changed {
		e.log.Info("candidate state changed",
			zap.String("symbol", symbol),
			zap.String("state", string(state)),
			zap.Float64("rate_pct", ratePct),
			zap.Float64("entry_threshold_pct", th.EntryValue))
	}
	if candidate {
		e.runExclusive(func() { e.executeEntries(ctx) })
	}
}

// runExclusive is the engine-wide non-reentrancy guard. A pass already in
// flight wins; the dropped trigger re-raises on the next update.
func (e *Engine) runExclusive(fn func()) {
	if !e.evalBusy.CompareAndSwap(false, true) {
		return
	}
	defer e.evalBusy.Store(false)
	fn()
}

// usableBalances reads both venues. The perp figure follows the configured
// margin policy.
func (e *Engine) usableBalances(ctx context.Context) (perpUSD, spotUSD float64, err error) {
	st, err := e.account.AccountState(ctx)
	if err != nil {
		return 0, 0, err
	}
	perpUSD = st.AccountValueUSD
	if e.cfg.MarginPolicy == config.MarginPolicyWithdrawable {
		perpUSD = st.WithdrawableUSD
	}
	balances, err := e.spot.Balance(ctx)
	if err != nil {
		return 0, 0, err
	}
	return perpUSD, usdBalance(balances), nil
}

func usdBalance(balances map[string]float64) float64 {
	for _, key := range []string{"ZUSD", "USD", "USDT"} {
		if v, ok := balances[key]; ok {
			return v
		}
	}
	return 0
}

// sizingInputs converts the candidate set and balances into a sizing pass.
func (e *Engine) sizingPass(ctx context.Context) (map[string]sizing.Legs, error) {
	cands := e.table.candidates()
	if len(cands) == 0 {
		return nil, sizing.ErrNoTrade
	}
	perpUSD, spotUSD, err := e.usableBalances(ctx)
	if err != nil {
		return nil, err
	}
	in := sizing.Inputs{
		PerpBalanceUSD:     perpUSD,
		SpotBalanceUSD:     spotUSD,
		SafetyBufferUSD:    e.cfg.SafetyBufferUSD,
		MinPerpNotionalUSD: e.cfg.MinPerpNotionalUSD,
		MaxSymbols:         e.maxSymbols,
	}
	candidates := make([]sizing.Candidate, 0, len(cands))
	for _, snap := range cands {
		if e.flash.suspended(snap.Symbol) {
			continue
		}
		spec := e.assets[snap.Symbol]
		candidates = append(candidates, sizing.Candidate{
			Symbol:             snap.Symbol,
			FundingRate:        snap.Funding,
			MarginRatio:        spec.MarginRatio,
			MinPerpNotionalUSD: spec.MinPerpNotionalUSD,
		})
	}
	return sizing.Size(in, candidates)
}
