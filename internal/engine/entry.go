package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"hk-arb-bot/internal/config"
	"hk-arb-bot/internal/journal"
	"hk-arb-bot/internal/kraken"
	"hk-arb-bot/internal/sizing"
)

// executeEntries sizes the current candidate set and runs the entry protocol
// for every sized symbol, one at a time.
func (e *Engine) executeEntries(ctx context.Context) {
	intents, err := e.sizingPass(ctx)
	if err != nil {
		if errors.Is(err, sizing.ErrNoTrade) {
			e.log.Debug("sizing produced no trade")
			return
		}
		e.log.Warn("sizing pass failed", zap.Error(err))
		e.errs.failure()
		return
	}
	symbols := make([]string, 0, len(intents))
	for sym := range intents {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		snap, ok := e.table.snapshot(sym)
		if !ok || snap.State != StateCandidate {
			continue
		}
		e.executeEntry(ctx, sym, intents[sym])
	}
}

// executeEntry is the two-leg entry protocol: the spot buy settles first and
// its exact executed quantity sizes the perp short. A perp failure after a
// confirmed spot fill triggers the compensating spot sell; if that also
// fails the asset is escalated for manual resolution and left untouched.
func (e *Engine) executeEntry(ctx context.Context, symbol string, legs sizing.Legs) {
	spec := e.assets[symbol]
	snap, _ := e.table.snapshot(symbol)

	ticker, err := e.spot.Ticker(ctx, spec.KrakenPair)
	if err != nil {
		e.entryFailed(ctx, symbol, 0, fmt.Errorf("spot reference price: %w", err))
		return
	}
	if ticker.Ask <= 0 {
		e.entryFailed(ctx, symbol, 0, fmt.Errorf("spot %s: no ask price", spec.KrakenPair))
		return
	}
	spotQty := legs.SpotNotionalUSD / ticker.Ask

	txid, err := e.spot.AddOrder(ctx, kraken.OrderRequest{
		Pair:            spec.KrakenPair,
		Side:            kraken.Buy,
		Volume:          spotQty,
		VolumePrecision: spec.VolumePrecision,
	})
	if err != nil {
		e.entryFailed(ctx, symbol, 0, fmt.Errorf("spot buy: %w", err))
		return
	}
	fill, err := e.spot.WaitForFill(ctx, txid, e.kcfg.OrderPollInterval, e.cfg.OrderTimeout)
	if err != nil || fill.VolExec <= 0 {
		if err == nil {
			err = errors.New("zero executed volume")
		}
		e.entryFailed(ctx, symbol, 0, fmt.Errorf("spot buy fill: %w", err))
		return
	}
	e.met.OrdersPlaced.Inc()

	// The executed spot quantity, not the target, sizes the short. Slippage
	// on the first leg must not become delta on the second.
	perpFill, perpErr := e.perp.Open(ctx, symbol, fill.VolExec)
	if perpErr != nil {
		e.met.OrdersFailed.Inc()
		e.revertEntry(ctx, symbol, spec, fill, perpFill, perpErr)
		return
	}
	e.met.OrdersPlaced.Inc()

	spotUSD := fill.CostUSD
	if spotUSD <= 0 {
		spotUSD = fill.VolExec * fill.AvgPrice
	}
	e.table.markEntered(symbol, perpFill.Qty, fill.VolExec, perpFill.NotionalUSD, spotUSD, perpFill.OrderID, fill.TxID)
	e.errs.success()
	e.met.EntriesCompleted.Inc()
	e.sink.Record(ctx, journal.Event{
		Time:        e.now().UTC(),
		Type:        journal.EventEntered,
		Symbol:      symbol,
		PerpQty:     perpFill.Qty,
		SpotQty:     fill.VolExec,
		NotionalUSD: perpFill.NotionalUSD,
		FundingPct:  snap.Funding * 100,
	})
	e.log.Info("position entered",
		zap.String("symbol", symbol),
		zap.Float64("perp_qty", perpFill.Qty),
		zap.Float64("spot_qty", fill.VolExec),
		zap.Float64("perp_usd", perpFill.NotionalUSD),
		zap.Float64("spot_usd", spotUSD))
}

// revertEntry is the entry compensation path: sell back the exact spot fill
// and unwind any partial perp fill. Failure here is the manual-intervention
// condition; nothing is retried.
func (e *Engine) revertEntry(ctx context.Context, symbol string, spec config.AssetSpec, fill kraken.Fill, perpFill PerpFill, cause error) {
	e.log.Error("perp leg failed after spot fill, reverting",
		zap.String("symbol", symbol),
		zap.Float64("spot_qty", fill.VolExec),
		zap.Float64("perp_partial_qty", perpFill.Qty),
		zap.Error(cause))

	var revertErr error
	if perpFill.Qty > 0 {
		if _, err := e.perp.Close(ctx, symbol, perpFill.Qty); err != nil {
			revertErr = fmt.Errorf("perp unwind: %w", err)
		}
	}
	if revertErr == nil {
		txid, err := e.spot.AddOrder(ctx, kraken.OrderRequest{
			Pair:            spec.KrakenPair,
			Side:            kraken.Sell,
			Volume:          fill.VolExec,
			VolumePrecision: spec.VolumePrecision,
		})
		if err == nil {
			_, err = e.spot.WaitForFill(ctx, txid, e.kcfg.OrderPollInterval, e.cfg.OrderTimeout)
		}
		if err != nil {
			revertErr = fmt.Errorf("spot sell-back: %w", err)
		}
	}

	if revertErr != nil {
		e.escalate(ctx, symbol, fill.VolExec, perpFill.Qty,
			fmt.Sprintf("entry revert failed: %v (cause: %v)", revertErr, cause))
	} else {
		e.met.Reverts.Inc()
		e.sink.Record(ctx, journal.Event{
			Time:    e.now().UTC(),
			Type:    journal.EventReverted,
			Symbol:  symbol,
			SpotQty: fill.VolExec,
			Detail:  cause.Error(),
		})
	}
	e.entryFailed(ctx, symbol, fill.VolExec, cause)
}

func (e *Engine) entryFailed(ctx context.Context, symbol string, spotQty float64, err error) {
	e.table.setLastErr(symbol, err.Error())
	e.errs.failure()
	e.met.EntriesFailed.Inc()
	e.sink.Record(ctx, journal.Event{
		Time:    e.now().UTC(),
		Type:    journal.EventEntryFailed,
		Symbol:  symbol,
		SpotQty: spotQty,
		Detail:  err.Error(),
	})
	e.log.Warn("entry failed", zap.String("symbol", symbol), zap.Error(err))
}

// escalate surfaces a partial cross-venue failure for human resolution. The
// asset's state is deliberately left as-is so no further automated action
// touches it.
func (e *Engine) escalate(ctx context.Context, symbol string, spotQty, perpQty float64, detail string) {
	e.met.ManualIntervention.Inc()
	e.sink.Record(ctx, journal.Event{
		Time:    e.now().UTC(),
		Type:    journal.EventManualIntervention,
		Symbol:  symbol,
		PerpQty: perpQty,
		SpotQty: spotQty,
		Detail:  detail,
	})
	e.log.Error("MANUAL INTERVENTION REQUIRED",
		zap.String("symbol", symbol),
		zap.Float64("spot_qty", spotQty),
		zap.Float64("perp_qty", perpQty),
		zap.String("detail", detail))
	if e.alerts != nil {
		msg := fmt.Sprintf("manual intervention required: %s %s (spot %.8g, perp %.8g)", symbol, detail, spotQty, perpQty)
		if err := e.alerts.Send(ctx, msg); err != nil {
			e.log.Warn("alert send failed", zap.Error(err))
		}
	}
}
