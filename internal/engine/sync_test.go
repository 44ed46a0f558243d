package engine

import (
	"context"
	"errors"
	"testing"

	"hk-arb-bot/internal/hl/rest"
	"hk-arb-bot/internal/journal"
)

func TestReconcileAdoptsLiveShort(t *testing.T) {
	h := newHarness(t, "default")
	h.account.state.Positions = []rest.Position{
		{Coin: "ETH", Szi: -0.4, EntryPx: 2500},
		{Coin: "DOGE", Szi: -100, EntryPx: 0.1}, // not configured
		{Coin: "BTC", Szi: 0.2, EntryPx: 64000}, // long, ignored
	}

	if err := h.eng.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	snap, _ := h.eng.table.snapshot("ETH")
	if snap.State != StateInPosition || snap.PerpQty != 0.4 || snap.SpotQty != 0.4 {
		t.Fatalf("adopted position: %+v", snap)
	}
	if snap.PerpUSD != 1000 {
		t.Fatalf("adopted notional: %v", snap.PerpUSD)
	}
	btc, _ := h.eng.table.snapshot("BTC")
	if btc.State != StateFlat {
		t.Fatalf("long position must not be adopted: %v", btc.State)
	}
}

func TestReconcileSweepFailureIsFatal(t *testing.T) {
	h := newHarness(t, "default")
	h.sweeper.err = errors.New("sweep failed")

	if err := h.eng.Reconcile(context.Background()); err == nil {
		t.Fatalf("expected error when the order sweep fails")
	}
}

func TestSyncOnceEscalatesDivergence(t *testing.T) {
	h := newHarness(t, "default")
	ctx := context.Background()

	// Local says in position, venue says flat.
	h.eng.table.markEntered("ETH", 0.4, 0.4, 1000, 1000, "123", "TX")
	h.eng.syncOnce(ctx)
	if len(h.sink.byType(journal.EventManualIntervention)) != 1 {
		t.Fatalf("missing venue short must escalate")
	}

	// Venue says short, local says flat.
	h.eng.table.markFlat("ETH")
	h.account.state.Positions = []rest.Position{{Coin: "ETH", Szi: -0.4, EntryPx: 2500}}
	h.eng.syncOnce(ctx)
	if len(h.sink.byType(journal.EventManualIntervention)) != 2 {
		t.Fatalf("untracked venue short must escalate")
	}
}

func TestSyncOnceQuietWhenAligned(t *testing.T) {
	h := newHarness(t, "default")
	h.eng.table.markEntered("ETH", 0.4, 0.4, 1000, 1000, "123", "TX")
	h.account.state.Positions = []rest.Position{{Coin: "ETH", Szi: -0.4, EntryPx: 2500}}

	h.eng.syncOnce(context.Background())
	if len(h.sink.byType(journal.EventManualIntervention)) != 0 {
		t.Fatalf("aligned state must not escalate")
	}
}
