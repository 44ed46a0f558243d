package engine

import (
	"sync"
	"time"
)

// State is the per-asset position lifecycle.
type State string

const (
	StateFlat       State = "FLAT"
	StateCandidate  State = "CANDIDATE"
	StateInPosition State = "IN_POSITION"
)

// assetRuntime is the live per-asset view: market data from the feed plus
// position fields owned by the execution path. in_position implies both leg
// quantities are strictly positive; flat implies both are zero.
type assetRuntime struct {
	symbol string

	funding        float64
	hasFunding     bool
	predFunding    float64
	hasPredFunding bool
	bestBid        float64
	bestAsk        float64
	markPx         float64
	oraclePx       float64
	lastUpdate     time.Time

	state       State
	perpQty     float64
	spotQty     float64
	perpUSD     float64
	spotUSD     float64
	perpOrderID string
	spotTxID    string
	enteredAt   time.Time
	lastErr     string
}

// Snapshot is a copy of one asset's runtime taken under the state lock.
type Snapshot struct {
	Symbol      string
	Funding     float64
	HasFunding  bool
	PredFunding float64
	HasPred     bool
	BestBid     float64
	BestAsk     float64
	MarkPx      float64
	OraclePx    float64
	LastUpdate  time.Time
	State       State
	PerpQty     float64
	SpotQty     float64
	PerpUSD     float64
	SpotUSD     float64
	EnteredAt   time.Time
	LastErr     string
}

// runtimeTable owns every assetRuntime. All access goes through its methods;
// the single mutex is the state lock from the concurrency model and is never
// held across blocking I/O.
type runtimeTable struct {
	mu     sync.Mutex
	assets map[string]*assetRuntime
}

func newRuntimeTable(symbols []string) *runtimeTable {
	t := &runtimeTable{assets: make(map[string]*assetRuntime, len(symbols))}
	for _, sym := range symbols {
		t.assets[sym] = &assetRuntime{symbol: sym, state: StateFlat}
	}
	return t
}

func (t *runtimeTable) snapshot(symbol string) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.assets[symbol]
	if !ok {
		return Snapshot{}, false
	}
	return snapshotOf(a), true
}

func (t *runtimeTable) snapshots() []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Snapshot, 0, len(t.assets))
	for _, a := range t.assets {
		out = append(out, snapshotOf(a))
	}
	return out
}

func snapshotOf(a *assetRuntime) Snapshot {
	return Snapshot{
		Symbol:      a.symbol,
		Funding:     a.funding,
		HasFunding:  a.hasFunding,
		PredFunding: a.predFunding,
		HasPred:     a.hasPredFunding,
		BestBid:     a.bestBid,
		BestAsk:     a.bestAsk,
		MarkPx:      a.markPx,
		OraclePx:    a.oraclePx,
		LastUpdate:  a.lastUpdate,
		State:       a.state,
		PerpQty:     a.perpQty,
		SpotQty:     a.spotQty,
		PerpUSD:     a.perpUSD,
		SpotUSD:     a.spotUSD,
		EnteredAt:   a.enteredAt,
		LastErr:     a.lastErr,
	}
}

// applyMarket merges a feed update. Position fields are untouched.
func (t *runtimeTable) applyMarket(symbol string, apply func(a *assetRuntime)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.assets[symbol]
	if !ok {
		return false
	}
	apply(a)
	a.lastUpdate = time.Now().UTC()
	return true
}

// setCandidate flips between FLAT and CANDIDATE. It refuses to touch an
// asset that is in position. Returns the resulting state and whether a
// transition happened.
func (t *runtimeTable) setCandidate(symbol string, candidate bool) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.assets[symbol]
	if !ok {
		return "", false
	}
	switch {
	case a.state == StateFlat && candidate:
		a.state = StateCandidate
		return a.state, true
	case a.state == StateCandidate && !candidate:
		a.state = StateFlat
		return a.state, true
	default:
		return a.state, false
	}
}

// markEntered records confirmed fills for both legs and transitions to
// IN_POSITION in one critical section.
func (t *runtimeTable) markEntered(symbol string, perpQty, spotQty, perpUSD, spotUSD float64, perpOID, spotTxID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.assets[symbol]
	if !ok {
		return
	}
	a.state = StateInPosition
	a.perpQty = perpQty
	a.spotQty = spotQty
	a.perpUSD = perpUSD
	a.spotUSD = spotUSD
	a.perpOrderID = perpOID
	a.spotTxID = spotTxID
	a.enteredAt = time.Now().UTC()
	a.lastErr = ""
}

// markFlat clears all position fields.
func (t *runtimeTable) markFlat(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.assets[symbol]
	if !ok {
		return
	}
	a.state = StateFlat
	a.perpQty = 0
	a.spotQty = 0
	a.perpUSD = 0
	a.spotUSD = 0
	a.perpOrderID = ""
	a.spotTxID = ""
	a.enteredAt = time.Time{}
}

func (t *runtimeTable) setLastErr(symbol, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a, ok := t.assets[symbol]; ok {
		a.lastErr = msg
	}
}

// candidates returns the symbols currently in CANDIDATE state.
func (t *runtimeTable) candidates() []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Snapshot
	for _, a := range t.assets {
		if a.state == StateCandidate {
			out = append(out, snapshotOf(a))
		}
	}
	return out
}
