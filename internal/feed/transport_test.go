package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"hk-arb-bot/internal/metrics"
)

func TestRunReturnsWhenReconnectsExhausted(t *testing.T) {
	// Port 1 refuses the dial, so every attempt fails fast.
	m := NewManager(Config{
		URL:         "ws://127.0.0.1:1",
		MinDelay:    time.Millisecond,
		MaxDelay:    time.Millisecond,
		MaxAttempts: 2,
	}, []string{"ETH"}, nil, metrics.NewNoop(), zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()
	select {
	case err := <-done:
		if !errors.Is(err, ErrReconnectsExhausted) {
			t.Fatalf("expected ErrReconnectsExhausted, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after the transport gave up")
	}
}

func TestRedialWaitsAfterDisconnect(t *testing.T) {
	var mu sync.Mutex
	var accepts []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		accepts = append(accepts, time.Now())
		mu.Unlock()
		// Take the subscribe message, then drop the connection.
		readCtx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		_, _, _ = conn.Read(readCtx)
		_ = conn.Close(websocket.StatusInternalError, "drop")
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	tr := newTransport(wsURL, 60*time.Millisecond, 60*time.Millisecond, 0, 0, zap.NewNop())
	tr.subscribeDelay = time.Millisecond
	tr.addSubscription(subscribeMessage("ETH"))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	err := tr.run(ctx, func(json.RawMessage) {})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected run to stop on the context, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(accepts) < 2 {
		t.Fatalf("expected at least two dials, got %d", len(accepts))
	}
	if gap := accepts[1].Sub(accepts[0]); gap < 50*time.Millisecond {
		t.Fatalf("redial after %v, want at least the backoff minimum", gap)
	}
}
