package kraken

import (
	"context"
	"sync"
	"time"
)

// limiter enforces the venue's private-endpoint budget: a sliding-window
// call count plus a minimum spacing between consecutive calls. Both
// constraints are re-checked after every sleep, since waiting for one can
// re-violate the other.
type limiter struct {
	mu          sync.Mutex
	maxCalls    int
	window      time.Duration
	minInterval time.Duration
	calls       []time.Time
	lastCall    time.Time
	now         func() time.Time
	sleep       func(context.Context, time.Duration) error
}

func newLimiter(maxCalls int, window, minInterval time.Duration) *limiter {
	return &limiter{
		maxCalls:    maxCalls,
		window:      window,
		minInterval: minInterval,
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// wait blocks until a call is admissible under both constraints, then
// records it.
func (l *limiter) wait(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		now := l.now()
		l.prune(now)

		var delay time.Duration
		if len(l.calls) >= l.maxCalls {
			delay = l.calls[0].Add(l.window).Sub(now)
		}
		if !l.lastCall.IsZero() {
			if spacing := l.lastCall.Add(l.minInterval).Sub(now); spacing > delay {
				delay = spacing
			}
		}
		if delay <= 0 {
			l.calls = append(l.calls, now)
			l.lastCall = now
			return nil
		}
		l.mu.Unlock()
		err := l.sleep(ctx, delay)
		l.mu.Lock()
		if err != nil {
			return err
		}
	}
}

func (l *limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}
