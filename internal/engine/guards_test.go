package engine

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestErrorTrackerEscalation(t *testing.T) {
	clock := time.Unix(1000, 0)
	tr := newErrorTracker(5*time.Second, 30*time.Second, 3)
	tr.now = func() time.Time { return clock }

	if tr.inCooldown() {
		t.Fatalf("fresh tracker must not be in cooldown")
	}
	if d := tr.failure(); d != 5*time.Second {
		t.Fatalf("first failure: expected short cooldown, got %v", d)
	}
	if !tr.inCooldown() {
		t.Fatalf("expected cooldown after failure")
	}

	// Cooldown lapses with time.
	clock = clock.Add(6 * time.Second)
	if tr.inCooldown() {
		t.Fatalf("cooldown should have lapsed")
	}

	tr.failure()
	if d := tr.failure(); d != 30*time.Second {
		t.Fatalf("third consecutive failure: expected extended cooldown, got %v", d)
	}

	// Success resets the streak.
	tr.success()
	if d := tr.failure(); d != 5*time.Second {
		t.Fatalf("after success: expected short cooldown, got %v", d)
	}
}

func TestFlashGuard(t *testing.T) {
	clock := time.Unix(1000, 0)
	g := newFlashGuard(0.05, 5*time.Minute, zap.NewNop())
	g.now = func() time.Time { return clock }

	if g.observe("ETH", "mark", 2500) {
		t.Fatalf("first observation must not trip")
	}
	if g.observe("ETH", "mark", 2510) {
		t.Fatalf("small move must not trip")
	}
	if !g.observe("ETH", "mark", 2250) {
		t.Fatalf("10%% drop must trip")
	}
	if !g.suspended("ETH") {
		t.Fatalf("tripped symbol must be suspended")
	}
	if g.suspended("BTC") {
		t.Fatalf("other symbols unaffected")
	}

	clock = clock.Add(5*time.Minute + time.Second)
	if g.suspended("ETH") {
		t.Fatalf("suspension must lapse after the cooldown")
	}
}

func TestFlashGuardUpwardMove(t *testing.T) {
	g := newFlashGuard(0.05, 5*time.Minute, zap.NewNop())
	g.observe("ETH", "mark", 2500)
	if !g.observe("ETH", "mark", 2700) {
		t.Fatalf("an 8%% spike must trip the guard")
	}
}

func TestFlashGuardTracksSeriesIndependently(t *testing.T) {
	g := newFlashGuard(0.05, 5*time.Minute, zap.NewNop())
	g.observe("ETH", "mark", 2500)
	if g.observe("ETH", "bid", 2400) {
		t.Fatalf("first bid observation must not compare against the mark series")
	}
	g.observe("ETH", "ask", 2502)
	if !g.observe("ETH", "bid", 2200) {
		t.Fatalf("a bid drop must trip even while mark and ask hold steady")
	}
	if !g.suspended("ETH") {
		t.Fatalf("tripped symbol must be suspended")
	}
}

func TestFlashGuardIgnoresBadPrices(t *testing.T) {
	g := newFlashGuard(0.05, 5*time.Minute, zap.NewNop())
	if g.observe("ETH", "mark", 0) || g.observe("ETH", "mark", -1) {
		t.Fatalf("non-positive prices must be ignored")
	}
	g.observe("ETH", "mark", 2500)
	if g.suspended("ETH") {
		t.Fatalf("nothing tripped yet")
	}
}
