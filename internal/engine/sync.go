package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Reconcile aligns local state with the venues at startup: cancel every
// resting perp order left over from a previous run, then adopt any live
// short in a configured symbol as an open position. Base quantities on the
// two legs are equal for a delta-neutral pair, so the venue's short size
// stands in for both.
func (e *Engine) Reconcile(ctx context.Context) error {
	if e.sweeper != nil {
		n, err := e.sweeper.CancelOpenOrders(ctx)
		if err != nil {
			return fmt.Errorf("cancel open orders: %w", err)
		}
		if n > 0 {
			e.log.Info("canceled stale perp orders", zap.Int("count", n))
		}
	}
	st, err := e.account.AccountState(ctx)
	if err != nil {
		return fmt.Errorf("account state: %w", err)
	}
	for _, pos := range st.Positions {
		if _, ok := e.assets[pos.Coin]; !ok {
			continue
		}
		if pos.Szi >= 0 {
			e.log.Warn("ignoring non-short position at startup",
				zap.String("symbol", pos.Coin),
				zap.Float64("szi", pos.Szi))
			continue
		}
		qty := -pos.Szi
		notional := qty * pos.EntryPx
		e.table.markEntered(pos.Coin, qty, qty, notional, notional, "", "")
		e.log.Info("adopted existing position",
			zap.String("symbol", pos.Coin),
			zap.Float64("qty", qty),
			zap.Float64("entry_px", pos.EntryPx))
	}
	return nil
}

// RunSyncLoop periodically compares local position state against the venue
// and escalates divergence. It never trades.
func (e *Engine) RunSyncLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.syncOnce(ctx)
		}
	}
}

func (e *Engine) syncOnce(ctx context.Context) {
	st, err := e.account.AccountState(ctx)
	if err != nil {
		e.log.Warn("position sync read failed", zap.Error(err))
		return
	}
	live := make(map[string]float64, len(st.Positions))
	for _, pos := range st.Positions {
		live[pos.Coin] = pos.Szi
	}
	for _, snap := range e.table.snapshots() {
		szi := live[snap.Symbol]
		switch {
		case snap.State == StateInPosition && szi >= 0:
			e.escalate(ctx, snap.Symbol, snap.SpotQty, szi,
				"position sync: local state in position but venue reports no short")
		case snap.State != StateInPosition && szi < 0:
			e.escalate(ctx, snap.Symbol, 0, -szi,
				"position sync: venue reports a short the engine does not track")
		}
	}
}

// RunStatusLoop logs a periodic per-asset summary.
func (e *Engine) RunStatusLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, snap := range e.table.snapshots() {
				fields := []zap.Field{
					zap.String("symbol", snap.Symbol),
					zap.String("state", string(snap.State)),
					zap.Float64("funding_pct", snap.Funding*100),
					zap.Float64("mark_px", snap.MarkPx),
				}
				if snap.State == StateInPosition {
					fields = append(fields,
						zap.Float64("perp_qty", snap.PerpQty),
						zap.Float64("spot_qty", snap.SpotQty),
						zap.Duration("held", time.Since(snap.EnteredAt)))
				}
				if snap.LastErr != "" {
					fields = append(fields, zap.String("last_err", snap.LastErr))
				}
				e.log.Info("asset status", fields...)
			}
		}
	}
}
