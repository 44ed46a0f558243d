package exec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap"
)

type fakeVenue struct {
	mu         sync.Mutex
	placeCalls int
	cancels    int
	failFirst  int
	permanent  bool
	nextOID    int
}

func (v *fakeVenue) PlaceOrder(_ context.Context, _ Order) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.placeCalls++
	if v.permanent {
		return "", Permanent(errors.New("venue rejected order"))
	}
	if v.placeCalls <= v.failFirst {
		return "", errors.New("transient network error")
	}
	v.nextOID++
	return fmt.Sprintf("oid-%d", v.nextOID), nil
}

func (v *fakeVenue) CancelOrder(_ context.Context, _ int, _ string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancels++
	return nil
}

type memStore struct {
	mu   sync.Mutex
	data map[string]string
	sets int
}

func newMemStore() *memStore { return &memStore{data: make(map[string]string)} }

func (s *memStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	s.data[key] = value
	return nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *memStore) Close() error { return nil }

func newTestExecutor(v Venue, store *memStore) *Executor {
	e := New(v, store, 3, zap.NewNop())
	e.baseDelay = 0
	return e
}

func TestPlaceOrderIdempotent(t *testing.T) {
	venue := &fakeVenue{}
	store := newMemStore()
	e := newTestExecutor(venue, store)

	order := Order{Asset: 1, IsBuy: false, Size: 0.5, LimitPrice: 2500, ClientOrderID: "0xabc"}
	oid1, err := e.PlaceOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("first place: %v", err)
	}
	oid2, err := e.PlaceOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if oid1 != oid2 {
		t.Fatalf("replay returned a different order id: %s vs %s", oid1, oid2)
	}
	if venue.placeCalls != 1 {
		t.Fatalf("replay must not hit the venue, got %d calls", venue.placeCalls)
	}
}

func TestPlaceOrderRecoversFromStore(t *testing.T) {
	store := newMemStore()
	store.data["cloid:0xdef"] = "oid-77"
	venue := &fakeVenue{}
	e := newTestExecutor(venue, store)

	oid, err := e.PlaceOrder(context.Background(), Order{ClientOrderID: "0xdef"})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if oid != "oid-77" {
		t.Fatalf("expected persisted order id, got %s", oid)
	}
	if venue.placeCalls != 0 {
		t.Fatalf("persisted id must not hit the venue")
	}
}

func TestPlaceOrderRetriesTransient(t *testing.T) {
	venue := &fakeVenue{failFirst: 2}
	e := newTestExecutor(venue, newMemStore())

	oid, err := e.PlaceOrder(context.Background(), Order{ClientOrderID: "0x1"})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if oid == "" {
		t.Fatalf("expected an order id")
	}
	if venue.placeCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", venue.placeCalls)
	}
}

func TestPlaceOrderExhaustsRetries(t *testing.T) {
	venue := &fakeVenue{failFirst: 10}
	e := newTestExecutor(venue, newMemStore())

	if _, err := e.PlaceOrder(context.Background(), Order{ClientOrderID: "0x2"}); err == nil {
		t.Fatalf("expected failure after retry budget")
	}
	if venue.placeCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", venue.placeCalls)
	}
}

func TestPlaceOrderPermanentShortCircuits(t *testing.T) {
	venue := &fakeVenue{permanent: true}
	e := newTestExecutor(venue, newMemStore())

	_, err := e.PlaceOrder(context.Background(), Order{ClientOrderID: "0x3"})
	var perm *PermanentError
	if !errors.As(err, &perm) {
		t.Fatalf("expected a permanent error, got %v", err)
	}
	if venue.placeCalls != 1 {
		t.Fatalf("permanent errors must not be retried, got %d attempts", venue.placeCalls)
	}
}

func TestPlaceOrderFailureNotCached(t *testing.T) {
	venue := &fakeVenue{failFirst: 3}
	store := newMemStore()
	e := newTestExecutor(venue, store)

	if _, err := e.PlaceOrder(context.Background(), Order{ClientOrderID: "0x4"}); err == nil {
		t.Fatalf("expected failure")
	}
	if store.sets != 0 {
		t.Fatalf("failed placement must not be persisted")
	}

	// A later replay with the same ID should reach the venue again.
	venue.failFirst = 0
	if _, err := e.PlaceOrder(context.Background(), Order{ClientOrderID: "0x4"}); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
}

func TestPermanentNil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Fatalf("Permanent(nil) must be nil")
	}
}
