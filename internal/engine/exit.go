package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"hk-arb-bot/internal/journal"
	"hk-arb-bot/internal/kraken"
)

// executeExit is the two-leg exit protocol, reversed leg priority: the
// margin-bearing short closes first, sized from a live venue read. The spot
// sell only happens after the short is confirmed flat; a spot failure at
// that point is a position mismatch escalated for manual resolution, and the
// in-memory position is kept so no further automated action runs against it.
func (e *Engine) executeExit(ctx context.Context, symbol string) {
	snap, ok := e.table.snapshot(symbol)
	if !ok || snap.State != StateInPosition {
		return
	}
	spec := e.assets[symbol]

	szi, err := e.perp.LivePosition(ctx, symbol)
	if err != nil {
		e.exitFailed(ctx, symbol, fmt.Errorf("live position read: %w", err))
		return
	}
	switch {
	case szi < 0:
		// The venue's signed size, not the stored quantity, is the close
		// target: local state may have drifted and the short must be closed
		// exactly.
		if _, err := e.perp.Close(ctx, symbol, -szi); err != nil {
			e.exitFailed(ctx, symbol, fmt.Errorf("perp close: %w", err))
			return
		}
		e.met.OrdersPlaced.Inc()
	case szi == 0:
		e.log.Warn("exit found no live short, closing spot only",
			zap.String("symbol", symbol),
			zap.Float64("stored_perp_qty", snap.PerpQty))
	default:
		e.escalate(ctx, symbol, snap.SpotQty, szi,
			fmt.Sprintf("exit found unexpected long perp position %g", szi))
		return
	}

	txid, err := e.spot.AddOrder(ctx, kraken.OrderRequest{
		Pair:            spec.KrakenPair,
		Side:            kraken.Sell,
		Volume:          snap.SpotQty,
		VolumePrecision: spec.VolumePrecision,
	})
	var fill kraken.Fill
	if err == nil {
		fill, err = e.spot.WaitForFill(ctx, txid, e.kcfg.OrderPollInterval, e.cfg.OrderTimeout)
	}
	if err != nil {
		// Perp is flat but spot is not. State stays IN_POSITION on purpose.
		e.met.ExitsFailed.Inc()
		e.escalate(ctx, symbol, snap.SpotQty, 0,
			fmt.Sprintf("position mismatch: perp closed, spot sell failed: %v", err))
		return
	}
	e.met.OrdersPlaced.Inc()

	e.table.markFlat(symbol)
	e.errs.success()
	e.met.ExitsCompleted.Inc()
	e.sink.Record(ctx, journal.Event{
		Time:        e.now().UTC(),
		Type:        journal.EventExited,
		Symbol:      symbol,
		PerpQty:     snap.PerpQty,
		SpotQty:     fill.VolExec,
		NotionalUSD: snap.PerpUSD,
		FundingPct:  snap.Funding * 100,
	})
	e.log.Info("position exited",
		zap.String("symbol", symbol),
		zap.Float64("perp_qty", snap.PerpQty),
		zap.Float64("spot_qty", fill.VolExec),
		zap.Duration("held", e.now().Sub(snap.EnteredAt)))
}

func (e *Engine) exitFailed(ctx context.Context, symbol string, err error) {
	e.table.setLastErr(symbol, err.Error())
	e.errs.failure()
	e.met.ExitsFailed.Inc()
	e.sink.Record(ctx, journal.Event{
		Time:   e.now().UTC(),
		Type:   journal.EventExitFailed,
		Symbol: symbol,
		Detail: err.Error(),
	})
	e.log.Warn("exit failed, position unchanged", zap.String("symbol", symbol), zap.Error(err))
}
