package sizing

import (
	"errors"
	"math"
	"sort"
)

// Candidate is one symbol whose funding rate currently clears its entry
// threshold, together with the per-asset constraints sizing must respect.
type Candidate struct {
	Symbol             string
	FundingRate        float64 // decimal fraction, positive for eligible
	MarginRatio        float64 // spot notional per unit of perp notional
	MinPerpNotionalUSD float64 // overrides Inputs.MinPerpNotionalUSD when > 0
}

// Inputs are the live balances and limits for one sizing pass.
type Inputs struct {
	PerpBalanceUSD     float64 // Venue A usable margin (per the margin policy)
	SpotBalanceUSD     float64 // Venue B usable cash
	SafetyBufferUSD    float64 // held back on each venue
	MinPerpNotionalUSD float64 // global floor on the perp leg
	MaxSymbols         int     // tier bound on allocation breadth; 0 = no cap
}

// Legs is the sized pair for one symbol. SpotNotionalUSD is always exactly
// PerpNotionalUSD times the symbol's margin ratio.
type Legs struct {
	PerpNotionalUSD float64
	SpotNotionalUSD float64
}

var ErrNoTrade = errors.New("no tradable size this cycle")

// Size converts balances and the eligible candidate set into per-symbol leg
// notionals. Capital is split proportionally to funding rate across the
// allowed breadth, each symbol is sized by its binding venue constraint, the
// whole book is scaled down if either venue is oversubscribed in aggregate,
// and allocations that fall under the minimum pivot to a single-symbol pass.
func Size(in Inputs, candidates []Candidate) (map[string]Legs, error) {
	eligible := eligibleCandidates(candidates)
	if len(eligible) == 0 {
		return nil, ErrNoTrade
	}
	usablePerp := in.PerpBalanceUSD - in.SafetyBufferUSD
	usableSpot := in.SpotBalanceUSD - in.SafetyBufferUSD
	if usablePerp <= 0 || usableSpot <= 0 {
		return nil, ErrNoTrade
	}

	if in.MaxSymbols > 0 && len(eligible) > in.MaxSymbols {
		eligible = eligible[:in.MaxSymbols]
	}

	out := allocate(in, eligible, usablePerp, usableSpot)
	if len(out) == len(eligible) || len(eligible) == 1 {
		if len(out) == 0 {
			return nil, ErrNoTrade
		}
		return out, nil
	}

	// Some symbol fell under the minimum after scaling: abandon the spread
	// and give the full balances to the single highest-rate symbol.
	single := []Candidate{eligible[0]}
	out = allocate(in, single, usablePerp, usableSpot)
	if len(out) == 0 {
		return nil, ErrNoTrade
	}
	return out, nil
}

// eligibleCandidates filters for strictly positive rates and orders by rate
// descending, so index 0 is always the pivot symbol.
func eligibleCandidates(candidates []Candidate) []Candidate {
	eligible := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.FundingRate > 0 && c.MarginRatio > 0 {
			eligible = append(eligible, c)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].FundingRate > eligible[j].FundingRate
	})
	return eligible
}

func allocate(in Inputs, eligible []Candidate, usablePerp, usableSpot float64) map[string]Legs {
	fractions := allocationFractions(eligible)

	sized := make([]Legs, len(eligible))
	var totalPerp, totalSpot float64
	for i, c := range eligible {
		legs := sizeOne(c, usablePerp*fractions[i], usableSpot*fractions[i])
		sized[i] = legs
		totalPerp += legs.PerpNotionalUSD
		totalSpot += legs.SpotNotionalUSD
	}

	// If either venue is oversubscribed in aggregate, shrink everything by
	// the tighter overflow ratio and re-derive the bound leg so the margin
	// ratio stays exact.
	scale := 1.0
	if totalPerp > usablePerp {
		scale = usablePerp / totalPerp
	}
	if totalSpot > usableSpot {
		if s := usableSpot / totalSpot; s < scale {
			scale = s
		}
	}

	out := make(map[string]Legs, len(eligible))
	for i, c := range eligible {
		perp := sized[i].PerpNotionalUSD * scale
		if perp <= 0 || math.IsNaN(perp) || math.IsInf(perp, 0) {
			continue
		}
		if perp < minPerpFor(in, c) {
			continue
		}
		out[c.Symbol] = Legs{
			PerpNotionalUSD: perp,
			SpotNotionalUSD: perp * c.MarginRatio,
		}
	}
	return out
}

// allocationFractions splits capital proportionally to each candidate's rate.
// A single candidate takes everything; a non-positive rate sum (defensive,
// eligibility already excludes it) collapses to the highest-rate symbol.
func allocationFractions(eligible []Candidate) []float64 {
	fractions := make([]float64, len(eligible))
	if len(eligible) == 1 {
		fractions[0] = 1
		return fractions
	}
	var sum float64
	for _, c := range eligible {
		sum += c.FundingRate
	}
	if sum <= 0 {
		fractions[0] = 1
		return fractions
	}
	for i, c := range eligible {
		fractions[i] = c.FundingRate / sum
	}
	return fractions
}

// sizeOne finds the binding venue for one symbol's budget and derives the
// other leg from it, keeping spot == perp * marginRatio exactly.
func sizeOne(c Candidate, perpBudget, spotBudget float64) Legs {
	perpFromSpot := spotBudget / c.MarginRatio
	perp := perpBudget
	if perpFromSpot < perp {
		perp = perpFromSpot
	}
	if perp < 0 {
		perp = 0
	}
	return Legs{PerpNotionalUSD: perp, SpotNotionalUSD: perp * c.MarginRatio}
}

func minPerpFor(in Inputs, c Candidate) float64 {
	if c.MinPerpNotionalUSD > 0 {
		return c.MinPerpNotionalUSD
	}
	return in.MinPerpNotionalUSD
}
