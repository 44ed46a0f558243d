package engine

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// errorTracker counts consecutive operational failures engine-wide and
// imposes an escalating cooldown: the short one after any failure, the
// extended one once the consecutive count crosses the threshold. Any success
// resets the count.
type errorTracker struct {
	mu            sync.Mutex
	consecutive   int
	cooldownUntil time.Time

	shortCooldown    time.Duration
	extendedCooldown time.Duration
	maxConsecutive   int
	now              func() time.Time
}

func newErrorTracker(short, extended time.Duration, maxConsecutive int) *errorTracker {
	return &errorTracker{
		shortCooldown:    short,
		extendedCooldown: extended,
		maxConsecutive:   maxConsecutive,
		now:              time.Now,
	}
}

func (e *errorTracker) failure() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consecutive++
	cooldown := e.shortCooldown
	if e.consecutive >= e.maxConsecutive {
		cooldown = e.extendedCooldown
	}
	e.cooldownUntil = e.now().Add(cooldown)
	return cooldown
}

func (e *errorTracker) success() {
	e.mu.Lock()
	e.consecutive = 0
	e.mu.Unlock()
}

func (e *errorTracker) inCooldown() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now().Before(e.cooldownUntil)
}

// flashGuard watches per-symbol price moves between consecutive updates and
// suspends trading on a symbol whose price jumped more than the deviation
// limit, until the cooldown lapses. Each price series (mark, bid, ask) is
// tracked separately; a jump on any of them suspends the symbol.
type flashGuard struct {
	mu            sync.Mutex
	lastPx        map[string]float64
	suspendedTill map[string]time.Time

	maxDeviation float64
	cooldown     time.Duration
	now          func() time.Time
	log          *zap.Logger
}

func newFlashGuard(maxDeviation float64, cooldown time.Duration, log *zap.Logger) *flashGuard {
	return &flashGuard{
		lastPx:        make(map[string]float64),
		suspendedTill: make(map[string]time.Time),
		maxDeviation:  maxDeviation,
		cooldown:      cooldown,
		now:           time.Now,
		log:           log,
	}
}

// observe records a price for one series and reports whether this update
// tripped the guard.
func (f *flashGuard) observe(symbol, series string, px float64) bool {
	if px <= 0 {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := symbol + "/" + series
	prev, ok := f.lastPx[key]
	f.lastPx[key] = px
	if !ok || prev <= 0 {
		return false
	}
	deviation := (px - prev) / prev
	if deviation < 0 {
		deviation = -deviation
	}
	if deviation <= f.maxDeviation {
		return false
	}
	until := f.now().Add(f.cooldown)
	f.suspendedTill[symbol] = until
	f.log.Warn("flash move detected, trading suspended",
		zap.String("symbol", symbol),
		zap.String("series", series),
		zap.Float64("prev_px", prev),
		zap.Float64("px", px),
		zap.Float64("deviation", deviation),
		zap.Time("until", until))
	return true
}

func (f *flashGuard) suspended(symbol string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	until, ok := f.suspendedTill[symbol]
	if !ok {
		return false
	}
	if f.now().After(until) {
		delete(f.suspendedTill, symbol)
		return false
	}
	return true
}
