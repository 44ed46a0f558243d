package percentile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// MaxSamples caps the historical window per asset.
const MaxSamples = 500

// ErrNoHistory marks an asset that cannot be traded because no funding
// history is available; exclusion is fail-closed by design.
var ErrNoHistory = errors.New("no funding history")

// Table maps percentile rank to the funding-rate value (percent) at that rank
// for one asset's historical sample. Computed once at startup; thresholds stay
// fixed for the session.
type Table map[int]float64

// HistorySource provides time-ranged historical funding rates (decimal
// fractions, most recent last).
type HistorySource interface {
	FundingHistory(ctx context.Context, symbol string, start, end time.Time) ([]float64, error)
}

// Value computes the linearly interpolated value at the given rank over the
// sample. The sample is copied and sorted; inputs are untouched.
func Value(sample []float64, rank int) (float64, error) {
	if len(sample) == 0 {
		return 0, errors.New("empty sample")
	}
	if rank < 0 || rank > 100 {
		return 0, fmt.Errorf("rank %d out of range", rank)
	}
	sorted := append([]float64(nil), sample...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0], nil
	}
	pos := float64(rank) / 100 * float64(len(sorted)-1)
	lo := int(pos)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1], nil
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo]), nil
}

// Compute builds a Table for the requested ranks from raw decimal funding
// rates, converting each observation to percent first.
func Compute(rates []float64, ranks []int) (Table, error) {
	if len(rates) == 0 {
		return nil, ErrNoHistory
	}
	sample := make([]float64, 0, len(rates))
	start := 0
	if len(rates) > MaxSamples {
		start = len(rates) - MaxSamples
	}
	for _, r := range rates[start:] {
		sample = append(sample, r*100)
	}
	table := make(Table, len(ranks))
	for _, rank := range ranks {
		v, err := Value(sample, rank)
		if err != nil {
			return nil, err
		}
		table[rank] = v
	}
	return table, nil
}

// Build fetches recent history for each symbol and computes its threshold
// table. Symbols with unavailable or empty history are omitted from the
// result: without a threshold the entry rule has no safe default.
func Build(ctx context.Context, src HistorySource, symbols []string, ranks []int, lookback time.Duration, log *zap.Logger) map[string]Table {
	end := time.Now().UTC()
	start := end.Add(-lookback)
	tables := make(map[string]Table, len(symbols))
	for _, symbol := range symbols {
		rates, err := src.FundingHistory(ctx, symbol, start, end)
		if err != nil {
			log.Warn("funding history unavailable, excluding asset",
				zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		table, err := Compute(rates, ranks)
		if err != nil {
			log.Warn("percentile table not computed, excluding asset",
				zap.String("symbol", symbol), zap.Int("samples", len(rates)), zap.Error(err))
			continue
		}
		log.Info("percentile table computed",
			zap.String("symbol", symbol), zap.Int("samples", min(len(rates), MaxSamples)), zap.Any("table", table))
		tables[symbol] = table
	}
	return tables
}
