package strategy

import "fmt"

// EntryStrategy selects the historical percentile rank a funding rate must
// exceed before an asset becomes an entry candidate.
type EntryStrategy string

// ExitStrategy selects how an open position is unwound: either when the rate
// falls back under a percentile rank, or ahead of a predicted negative rate.
type ExitStrategy string

const (
	EntryDefault EntryStrategy = "default"
	Entry50      EntryStrategy = "50"
	Entry75      EntryStrategy = "75"
	Entry85      EntryStrategy = "85"
	Entry95      EntryStrategy = "95"
	EntryAbraxas EntryStrategy = "abraxas"
)

const (
	ExitDefault ExitStrategy = "default"
	Exit50      ExitStrategy = "50"
	Exit35      ExitStrategy = "35"
	Exit20      ExitStrategy = "20"
	Exit10      ExitStrategy = "10"
	ExitAbraxas ExitStrategy = "abraxas"
)

var entryRanks = map[EntryStrategy]int{
	EntryDefault: 60,
	Entry50:      50,
	Entry75:      75,
	Entry85:      85,
	Entry95:      95,
	EntryAbraxas: 60,
}

// exitRanks maps percentile exit strategies to their rank. Strategies absent
// from the map use the time-window / predicted-rate rule instead.
var exitRanks = map[ExitStrategy]int{
	Exit50: 50,
	Exit35: 35,
	Exit20: 20,
	Exit10: 10,
}

func ParseEntryStrategy(name string) (EntryStrategy, error) {
	s := EntryStrategy(name)
	if _, ok := entryRanks[s]; !ok {
		return "", fmt.Errorf("unknown entry strategy %q", name)
	}
	return s, nil
}

func ParseExitStrategy(name string) (ExitStrategy, error) {
	s := ExitStrategy(name)
	if s == ExitDefault || s == ExitAbraxas {
		return s, nil
	}
	if _, ok := exitRanks[s]; !ok {
		return "", fmt.Errorf("unknown exit strategy %q", name)
	}
	return s, nil
}

// Rank returns the percentile rank the entry rule compares against.
func (s EntryStrategy) Rank() int {
	return entryRanks[s]
}

// Rank returns the exit percentile rank; ok is false for the predicted-rate
// strategies, which have no rank.
func (s ExitStrategy) Rank() (int, bool) {
	rank, ok := exitRanks[s]
	return rank, ok
}

// UsesPredictedRate reports whether the exit rule is the time-window /
// predicted-next-rate rule rather than a percentile comparison.
func (s ExitStrategy) UsesPredictedRate() bool {
	_, ok := exitRanks[s]
	return !ok
}

// Ranks lists every percentile rank the configured strategy pair needs, so
// the percentile engine computes exactly those at startup.
func Ranks(entry EntryStrategy, exit ExitStrategy) []int {
	ranks := []int{entry.Rank()}
	if rank, ok := exit.Rank(); ok && rank != ranks[0] {
		ranks = append(ranks, rank)
	}
	return ranks
}
