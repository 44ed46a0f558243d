package engine

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"hk-arb-bot/internal/exec"
	"hk-arb-bot/internal/hl/exchange"
	"hk-arb-bot/internal/hl/rest"
)

// PerpFill is the confirmed outcome of a perp leg operation.
type PerpFill struct {
	Qty         float64
	NotionalUSD float64
	OrderID     string
}

// PerpTrader is the short leg as the orchestrator sees it.
type PerpTrader interface {
	Open(ctx context.Context, symbol string, qty float64) (PerpFill, error)
	Close(ctx context.Context, symbol string, qty float64) (PerpFill, error)
	LivePosition(ctx context.Context, symbol string) (float64, error)
}

var errInsufficientDepth = errors.New("insufficient book depth")

// Perp drives the perp venue. Orders are IOC limits priced off the live
// book mid with a slippage buffer that widens on every attempt; partial
// fills carry over, only the remainder is re-attempted. Before submitting it
// checks resting depth at the requested size, and after the venue reports a
// fill it re-reads the position to confirm the expected signed size.
type Perp struct {
	rest   *rest.Client
	wire   *WireVenue
	execu  *exec.Executor
	user   string
	assets map[string]rest.AssetMeta

	slippageBuffer float64
	minBookDepth   float64
	maxAttempts    int
	log            *zap.Logger
}

func NewPerp(restClient *rest.Client, execu *exec.Executor, wire *WireVenue, user string, assets map[string]rest.AssetMeta, slippage, minDepth float64, maxAttempts int, log *zap.Logger) *Perp {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Perp{
		rest:           restClient,
		wire:           wire,
		execu:          execu,
		user:           user,
		assets:         assets,
		slippageBuffer: slippage,
		minBookDepth:   minDepth,
		maxAttempts:    maxAttempts,
		log:            log,
	}
}

func (p *Perp) Open(ctx context.Context, symbol string, qty float64) (PerpFill, error) {
	return p.trade(ctx, symbol, qty, false)
}

func (p *Perp) Close(ctx context.Context, symbol string, qty float64) (PerpFill, error) {
	return p.trade(ctx, symbol, qty, true)
}

// trade works the order down to zero remainder. isBuy=false opens the short
// (hit bids), isBuy=true closes it (lift asks, reduce-only).
func (p *Perp) trade(ctx context.Context, symbol string, qty float64, isBuy bool) (PerpFill, error) {
	meta, ok := p.assets[symbol]
	if !ok {
		return PerpFill{}, fmt.Errorf("perp: unknown asset %s", symbol)
	}
	remaining := roundSize(qty, meta.SzDecimals)
	if remaining <= 0 {
		return PerpFill{}, fmt.Errorf("perp %s: size %g rounds to zero", symbol, qty)
	}
	sizeTolerance := math.Pow(10, -float64(meta.SzDecimals))

	var fill PerpFill
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts && remaining > sizeTolerance/2; attempt++ {
		px, err := p.attemptPrice(ctx, symbol, remaining, isBuy, attempt, meta)
		if err != nil {
			lastErr = err
			p.log.Warn("perp pricing failed",
				zap.String("symbol", symbol),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}
		cloid := newCloid()
		oid, err := p.execu.PlaceOrder(ctx, exec.Order{
			Asset:         meta.Index,
			IsBuy:         isBuy,
			Size:          remaining,
			LimitPrice:    px,
			ReduceOnly:    isBuy,
			ClientOrderID: cloid,
		})
		res, haveRes := p.wire.takeFill(cloid)
		if err != nil {
			lastErr = err
			p.log.Warn("perp order failed",
				zap.String("symbol", symbol),
				zap.Int("attempt", attempt),
				zap.Float64("px", px),
				zap.Error(err))
			continue
		}
		fill.OrderID = oid
		if haveRes && res.FilledSz > 0 {
			fill.Qty += res.FilledSz
			fill.NotionalUSD += res.FilledSz * res.AvgPx
			remaining = roundSize(remaining-res.FilledSz, meta.SzDecimals)
		}
	}
	if remaining > sizeTolerance/2 {
		if lastErr == nil {
			lastErr = errors.New("order not fully filled")
		}
		return fill, fmt.Errorf("perp %s: %g of %g unfilled: %w", symbol, remaining, qty, lastErr)
	}
	if err := p.verifyPosition(ctx, symbol, qty, isBuy, sizeTolerance); err != nil {
		return fill, err
	}
	return fill, nil
}

// attemptPrice reads the book, rejects thin markets, and prices the order
// with a per-attempt widening buffer.
func (p *Perp) attemptPrice(ctx context.Context, symbol string, size float64, isBuy bool, attempt int, meta rest.AssetMeta) (float64, error) {
	book, err := p.rest.L2Book(ctx, symbol)
	if err != nil {
		return 0, err
	}
	bid, okBid := book.BestBid()
	ask, okAsk := book.BestAsk()
	if !okBid || !okAsk {
		return 0, fmt.Errorf("perp %s: empty book", symbol)
	}
	var depth float64
	if isBuy {
		for _, l := range book.Asks {
			depth += l.Sz
		}
	} else {
		depth = book.BidDepth()
	}
	if depth < size*p.minBookDepth {
		return 0, fmt.Errorf("%w: %s has %g resting, need %g", errInsufficientDepth, symbol, depth, size*p.minBookDepth)
	}
	return limitPrice(bid.Px, ask.Px, isBuy, attempt, p.slippageBuffer, meta.SzDecimals), nil
}

// limitPrice anchors at the book mid and widens away from it on every
// attempt: below mid when selling, above when buying.
func limitPrice(bid, ask float64, isBuy bool, attempt int, slippage float64, szDecimals int) float64 {
	mid := (bid + ask) / 2
	buffer := slippage * float64(attempt)
	px := mid * (1 - buffer)
	if isBuy {
		px = mid * (1 + buffer)
	}
	return roundPrice(px, szDecimals)
}

// verifyPosition re-reads the venue position and checks the short moved the
// expected way. A reported fill with a mismatched position is a failure.
func (p *Perp) verifyPosition(ctx context.Context, symbol string, qty float64, closed bool, tolerance float64) error {
	szi, err := p.LivePosition(ctx, symbol)
	if err != nil {
		return fmt.Errorf("perp %s: position verify read: %w", symbol, err)
	}
	if closed {
		if szi < -tolerance {
			return fmt.Errorf("perp %s: still short %g after close", symbol, -szi)
		}
		return nil
	}
	if -szi < qty-tolerance {
		return fmt.Errorf("perp %s: expected short >= %g, venue reports %g", symbol, qty, -szi)
	}
	return nil
}

// LivePosition returns the signed position size for a symbol; zero when
// flat.
func (p *Perp) LivePosition(ctx context.Context, symbol string) (float64, error) {
	st, err := p.rest.ClearinghouseState(ctx, p.user)
	if err != nil {
		return 0, err
	}
	for _, pos := range st.Positions {
		if pos.Coin == symbol {
			return pos.Szi, nil
		}
	}
	return 0, nil
}

// AccountState reads the perp margin summary for the configured account.
func (p *Perp) AccountState(ctx context.Context) (rest.AccountState, error) {
	return p.rest.ClearinghouseState(ctx, p.user)
}

// CancelOpenOrders sweeps every resting order on the account, returning how
// many were canceled. Orders in unconfigured symbols are canceled too; the
// engine owns this account.
func (p *Perp) CancelOpenOrders(ctx context.Context) (int, error) {
	orders, err := p.rest.OpenOrders(ctx, p.user)
	if err != nil {
		return 0, err
	}
	canceled := 0
	for _, o := range orders {
		meta, ok := p.assets[o.Coin]
		if !ok {
			m, err := p.rest.Meta(ctx)
			if err != nil {
				return canceled, err
			}
			meta, ok = m[o.Coin]
			if !ok {
				p.log.Warn("open order in unknown asset, skipping", zap.String("coin", o.Coin), zap.Int64("oid", o.OID))
				continue
			}
		}
		if err := p.execu.CancelOrder(ctx, meta.Index, strconv.FormatInt(o.OID, 10)); err != nil {
			p.log.Warn("stale order cancel failed", zap.String("coin", o.Coin), zap.Int64("oid", o.OID), zap.Error(err))
			continue
		}
		canceled++
	}
	return canceled, nil
}

// WireVenue adapts the signed exchange client to the executor's venue
// interface. IOC results are stashed per client order ID so the caller can
// recover the exact fill after placement.
type WireVenue struct {
	client *exchange.Client

	mu    sync.Mutex
	fills map[string]exchange.OrderResult
}

func NewWireVenue(client *exchange.Client) *WireVenue {
	return &WireVenue{client: client, fills: make(map[string]exchange.OrderResult)}
}

func (w *WireVenue) PlaceOrder(ctx context.Context, order exec.Order) (string, error) {
	wire, err := exchange.LimitOrderWire(order.Asset, order.IsBuy, order.Size, order.LimitPrice, order.ReduceOnly, exchange.TifIoc, order.ClientOrderID)
	if err != nil {
		return "", exec.Permanent(err)
	}
	resp, err := w.client.PlaceOrder(ctx, wire)
	if err != nil {
		return "", err
	}
	res, err := exchange.ParseOrderResult(resp)
	if err != nil {
		return "", err
	}
	if res.Err != "" {
		return "", exec.Permanent(fmt.Errorf("order rejected: %s", res.Err))
	}
	if order.ClientOrderID != "" {
		w.mu.Lock()
		w.fills[order.ClientOrderID] = res
		w.mu.Unlock()
	}
	if !res.Filled {
		// IOC orders never rest; an unfilled IOC means the book moved.
		return "", exec.Permanent(errors.New("ioc order not filled"))
	}
	return res.OID, nil
}

func (w *WireVenue) CancelOrder(ctx context.Context, asset int, orderID string) error {
	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return exec.Permanent(fmt.Errorf("bad order id %q: %w", orderID, err))
	}
	_, err = w.client.CancelOrder(ctx, asset, oid)
	return err
}

func (w *WireVenue) takeFill(cloid string) (exchange.OrderResult, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	res, ok := w.fills[cloid]
	if ok {
		delete(w.fills, cloid)
	}
	return res, ok
}

// newCloid generates the 16-byte hex client order ID format the venue
// expects.
func newCloid() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		binary.BigEndian.PutUint64(b[8:], uint64(time.Now().UnixNano()))
	}
	return "0x" + hex.EncodeToString(b[:])
}

func roundSize(v float64, szDecimals int) float64 {
	scale := math.Pow(10, float64(szDecimals))
	return math.Floor(v*scale) / scale
}

// roundPrice clamps to 5 significant figures, then to the venue's decimal
// limit for perps.
func roundPrice(px float64, szDecimals int) float64 {
	if px <= 0 {
		return px
	}
	sig, err := strconv.ParseFloat(strconv.FormatFloat(px, 'g', 5, 64), 64)
	if err != nil {
		sig = px
	}
	maxDecimals := 6 - szDecimals
	if maxDecimals < 0 {
		maxDecimals = 0
	}
	scale := math.Pow(10, float64(maxDecimals))
	return math.Round(sig*scale) / scale
}
