package kraken

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

// Known test vector from the venue's API documentation.
func TestSign(t *testing.T) {
	cfg := Config{
		APIKey:    "key",
		APISecret: "kQH5HW/8p1uGOVjbgWA7FunAmGO8lsSUXNsu3eow76sz84Q18fWxnyRzBHCd3pd5nE9qa99HAZtuZuj6F1huXg==",
	}
	c, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	nonce := "1616492376594"
	body := "nonce=1616492376594&ordertype=limit&pair=XBTUSD&price=37500&type=buy&volume=1.25"
	want := "4/dpxb3iT4tp/ZCVEwSnEsLxx0bqyhLpdfOpc6fn7OR8+UClSV5n9E6aSS8MPtnRfp32bAb0nmbRn6H8ndwLUQ=="
	if got := c.sign("/0/private/AddOrder", nonce, body); got != want {
		t.Fatalf("signature mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestNewRejectsBadSecret(t *testing.T) {
	if _, err := New(Config{APISecret: "not base64!!"}, zap.NewNop()); err == nil {
		t.Fatalf("expected error for undecodable secret")
	}
}

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time { return f.t }

func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func TestLimiterMinInterval(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	var slept []time.Duration
	l := newLimiter(46, time.Minute, 350*time.Millisecond)
	l.now = clock.now
	l.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		clock.advance(d)
		return nil
	}

	ctx := context.Background()
	if err := l.wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	if len(slept) != 0 {
		t.Fatalf("first call should not sleep, slept %v", slept)
	}
	if err := l.wait(ctx); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if len(slept) != 1 || slept[0] != 350*time.Millisecond {
		t.Fatalf("expected one 350ms spacing sleep, got %v", slept)
	}
}

func TestLimiterWindowCap(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	var slept []time.Duration
	l := newLimiter(3, time.Minute, 0)
	l.now = clock.now
	l.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		clock.advance(d)
		return nil
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := l.wait(ctx); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
		clock.advance(time.Second)
	}
	if len(slept) != 0 {
		t.Fatalf("budget calls should not sleep, slept %v", slept)
	}

	// Fourth call must wait until the first one slides out of the window.
	if err := l.wait(ctx); err != nil {
		t.Fatalf("fourth wait: %v", err)
	}
	if len(slept) != 1 {
		t.Fatalf("expected exactly one sleep, got %v", slept)
	}
	// First call at t=1000s, fourth attempted at t=1003s, window 60s.
	if slept[0] != 57*time.Second {
		t.Fatalf("expected 57s sleep, got %v", slept[0])
	}
}

func TestLimiterContextCanceled(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := newLimiter(1, time.Minute, 0)
	l.now = clock.now
	l.sleep = func(ctx context.Context, _ time.Duration) error {
		return context.Canceled
	}

	ctx := context.Background()
	if err := l.wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	if err := l.wait(ctx); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
