package journal

import (
	"context"
	"sync"
	"testing"
	"time"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureSink) Record(_ context.Context, ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func TestMultiFansOut(t *testing.T) {
	a, b := &captureSink{}, &captureSink{}
	sink := Multi(a, nil, b)

	ev := Event{Time: time.Now(), Type: EventEntered, Symbol: "ETH", PerpQty: 0.4}
	sink.Record(context.Background(), ev)

	for i, c := range []*captureSink{a, b} {
		if len(c.events) != 1 {
			t.Fatalf("sink %d: expected 1 event, got %d", i, len(c.events))
		}
		if c.events[0].Type != EventEntered || c.events[0].Symbol != "ETH" {
			t.Fatalf("sink %d: unexpected event %+v", i, c.events[0])
		}
	}
}

func TestNopAndNilLogSink(t *testing.T) {
	// Neither should panic.
	Nop().Record(context.Background(), Event{Type: EventExited})
	(&LogSink{}).Record(context.Background(), Event{Type: EventExited})
}
