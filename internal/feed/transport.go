package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ErrReconnectsExhausted means the transport gave up after the configured
// number of consecutive failed reconnect attempts. Callers treat it as
// fatal.
var ErrReconnectsExhausted = errors.New("feed: reconnect attempts exhausted")

// transport owns the websocket connection lifecycle: dial, subscribe replay,
// ping keepalive, and reconnection with exponential backoff. A successful
// connect resets the attempt counter.
type transport struct {
	url            string
	pingInterval   time.Duration
	subscribeDelay time.Duration
	maxAttempts    int
	backoff        *backoff.Backoff
	log            *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	subs []any

	onConnect    func()
	onDisconnect func()
}

func newTransport(url string, minDelay, maxDelay time.Duration, maxAttempts int, pingInterval time.Duration, log *zap.Logger) *transport {
	return &transport{
		url:            url,
		pingInterval:   pingInterval,
		subscribeDelay: 500 * time.Millisecond,
		maxAttempts:    maxAttempts,
		backoff: &backoff.Backoff{
			Min:    minDelay,
			Max:    maxDelay,
			Factor: 2,
		},
		log: log,
	}
}

func (t *transport) addSubscription(sub any) {
	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()
}

func (t *transport) run(ctx context.Context, handler func(json.RawMessage)) error {
	attempts := 0
	for {
		if err := t.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			attempts++
			if t.maxAttempts > 0 && attempts >= t.maxAttempts {
				return fmt.Errorf("%w after %d attempts: %v", ErrReconnectsExhausted, attempts, err)
			}
			delay := t.backoff.Duration()
			t.log.Warn("feed connect failed",
				zap.Int("attempt", attempts),
				zap.Duration("retry_in", delay),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		attempts = 0
		t.backoff.Reset()
		if t.onConnect != nil {
			t.onConnect()
		}

		pingCtx, cancel := context.WithCancel(ctx)
		pingDone := make(chan struct{})
		go func() {
			defer close(pingDone)
			t.pingLoop(pingCtx)
		}()
		err := t.readLoop(ctx, handler)
		cancel()
		<-pingDone
		t.reset()
		if t.onDisconnect != nil {
			t.onDisconnect()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.logReadLoopError(err)
		// Pause one backoff step before redialing so a server that drops
		// connections right after accepting them is not hammered. The
		// disconnect does not count against maxAttempts.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.backoff.Duration()):
		}
	}
}

// connect dials and replays the subscription set. The pause before the first
// subscribe keeps the server from throttling a burst of subscriptions on a
// fresh connection.
func (t *transport) connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, t.url, nil)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.conn = conn
	subs := append([]any(nil), t.subs...)
	t.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(t.subscribeDelay):
	}
	for _, sub := range subs {
		if err := writeJSON(ctx, conn, sub); err != nil {
			t.reset()
			return err
		}
	}
	return nil
}

func (t *transport) readLoop(ctx context.Context, handler func(json.RawMessage)) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return errors.New("feed: not connected")
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		handler(json.RawMessage(data))
	}
}

func (t *transport) pingLoop(ctx context.Context) {
	t.mu.Lock()
	conn := t.conn
	interval := t.pingInterval
	t.mu.Unlock()
	if conn == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeJSON(ctx, conn, pingMessage); err != nil {
				return
			}
		}
	}
}

func (t *transport) logReadLoopError(err error) {
	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure {
		t.log.Info("feed connection closed", zap.Error(err))
		return
	}
	t.log.Warn("feed connection lost", zap.Error(err))
}

func (t *transport) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		_ = t.conn.Close(websocket.StatusNormalClosure, "reset")
		t.conn = nil
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

var pingMessage = map[string]any{"method": "ping"}
