package strategy

import "time"

// Thresholds carries the per-asset percentile values (in percent) that the
// configured strategy pair needs. Values are computed once at startup.
type Thresholds struct {
	EntryValue float64
	ExitValue  float64
	HasExit    bool
}

// ShouldEnter reports whether the current funding rate (percent) qualifies the
// asset as an entry candidate: strictly positive and strictly above the entry
// threshold. Candidacy is re-derived on every tick; it is not sticky.
func ShouldEnter(ratePct float64, th Thresholds) bool {
	return ratePct > 0 && ratePct > th.EntryValue
}

// ShouldExit evaluates the configured exit rule against an open position.
// Percentile strategies exit when the rate falls to or below the exit
// threshold. The predicted-rate strategies only evaluate inside the final
// window before the hourly funding boundary, exiting when the predicted
// next-period rate is negative; outside the window no exit check happens at
// all, and the percentile rule is not substituted.
func ShouldExit(s ExitStrategy, th Thresholds, ratePct, predictedPct float64, hasPredicted bool, now time.Time, windowMinutes int) bool {
	if s.UsesPredictedRate() {
		if !InExitWindow(now, windowMinutes) {
			return false
		}
		return hasPredicted && predictedPct < 0
	}
	return th.HasExit && ratePct <= th.ExitValue
}

// InExitWindow reports whether now falls in the last windowMinutes of the
// hour, the span in which funding is about to be settled.
func InExitWindow(now time.Time, windowMinutes int) bool {
	if windowMinutes <= 0 {
		return false
	}
	return 60-now.UTC().Minute() <= windowMinutes
}
