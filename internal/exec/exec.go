package exec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"hk-arb-bot/internal/state"

	"go.uber.org/zap"
)

// Order is a venue-agnostic placement request. ClientOrderID makes the
// placement idempotent: replaying the same ID returns the original venue
// order ID without hitting the venue again.
type Order struct {
	Asset         int
	IsBuy         bool
	Size          float64
	LimitPrice    float64
	ReduceOnly    bool
	ClientOrderID string
}

type Venue interface {
	PlaceOrder(ctx context.Context, order Order) (string, error)
	CancelOrder(ctx context.Context, asset int, orderID string) error
}

// Executor wraps a venue with bounded retries and idempotent placement. Seen
// client order IDs are cached in memory and persisted through the store so a
// restart mid-protocol cannot double-place a leg.
type Executor struct {
	venue       Venue
	store       state.Store
	log         *zap.Logger
	maxAttempts int
	baseDelay   time.Duration

	mu    sync.Mutex
	cache map[string]string
}

func New(venue Venue, store state.Store, maxAttempts int, log *zap.Logger) *Executor {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Executor{
		venue:       venue,
		store:       store,
		log:         log,
		maxAttempts: maxAttempts,
		baseDelay:   200 * time.Millisecond,
		cache:       make(map[string]string),
	}
}

func (e *Executor) PlaceOrder(ctx context.Context, order Order) (string, error) {
	if order.ClientOrderID == "" {
		return e.placeWithRetry(ctx, order)
	}
	cacheKey := "cloid:" + order.ClientOrderID
	e.mu.Lock()
	if oid, ok := e.cache[cacheKey]; ok {
		e.mu.Unlock()
		return oid, nil
	}
	e.mu.Unlock()
	if e.store != nil {
		if oid, ok, err := e.store.Get(ctx, cacheKey); err != nil {
			return "", err
		} else if ok {
			e.mu.Lock()
			e.cache[cacheKey] = oid
			e.mu.Unlock()
			return oid, nil
		}
	}
	orderID, err := e.placeWithRetry(ctx, order)
	if err != nil {
		return "", err
	}
	if e.store != nil {
		if err := e.store.Set(ctx, cacheKey, orderID); err != nil {
			e.log.Warn("failed to persist order id", zap.Error(err))
		}
	}
	e.mu.Lock()
	e.cache[cacheKey] = orderID
	e.mu.Unlock()
	return orderID, nil
}

func (e *Executor) CancelOrder(ctx context.Context, asset int, orderID string) error {
	return e.retry(ctx, func() error {
		return e.venue.CancelOrder(ctx, asset, orderID)
	})
}

func (e *Executor) placeWithRetry(ctx context.Context, order Order) (string, error) {
	var orderID string
	err := e.retry(ctx, func() error {
		var err error
		orderID, err = e.venue.PlaceOrder(ctx, order)
		return err
	})
	if err != nil {
		return "", err
	}
	if orderID == "" {
		return "", errors.New("empty order id")
	}
	return orderID, nil
}

// PermanentError marks a failure that retrying cannot fix, such as a venue
// rejection. The executor returns it immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// retry runs fn up to maxAttempts times with a doubling delay between
// attempts. Permanent errors short-circuit.
func (e *Executor) retry(ctx context.Context, fn func() error) error {
	delay := e.baseDelay
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var perm *PermanentError
		if errors.As(err, &perm) {
			return err
		}
		if attempt >= e.maxAttempts {
			return fmt.Errorf("after %d attempts: %w", attempt, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
			delay *= 2
		}
	}
}
