package engine

import (
	"strings"
	"testing"
)

func TestRoundSize(t *testing.T) {
	cases := []struct {
		v          float64
		szDecimals int
		want       float64
	}{
		{0.123456789, 4, 0.1234},
		{0.49999, 2, 0.49},
		{1.0, 3, 1.0},
		{0.00009, 4, 0},
	}
	for _, tc := range cases {
		if got := roundSize(tc.v, tc.szDecimals); got != tc.want {
			t.Fatalf("roundSize(%v, %d): expected %v, got %v", tc.v, tc.szDecimals, tc.want, got)
		}
	}
}

func TestRoundPrice(t *testing.T) {
	cases := []struct {
		px         float64
		szDecimals int
		want       float64
	}{
		// 5 significant figures bind for large prices.
		{64123.456, 5, 64123},
		{2501.567, 4, 2501.6},
		// The decimal cap binds for small prices.
		{0.123456, 0, 0.12346},
		{1.23456789, 2, 1.2346},
		{0, 3, 0},
	}
	for _, tc := range cases {
		if got := roundPrice(tc.px, tc.szDecimals); got != tc.want {
			t.Fatalf("roundPrice(%v, %d): expected %v, got %v", tc.px, tc.szDecimals, tc.want, got)
		}
	}
}

func TestNewCloid(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		cloid := newCloid()
		if !strings.HasPrefix(cloid, "0x") || len(cloid) != 34 {
			t.Fatalf("bad cloid format: %q", cloid)
		}
		if seen[cloid] {
			t.Fatalf("duplicate cloid %q", cloid)
		}
		seen[cloid] = true
	}
}

func TestLimitPrice(t *testing.T) {
	cases := []struct {
		name       string
		bid, ask   float64
		isBuy      bool
		attempt    int
		slippage   float64
		szDecimals int
		want       float64
	}{
		{"sell first attempt below mid", 2499, 2501, false, 1, 0.001, 4, 2497.5},
		{"buy first attempt above mid", 2499, 2501, true, 1, 0.001, 4, 2502.5},
		{"sell widens on retry", 2499, 2501, false, 2, 0.001, 4, 2495},
		{"buy widens on retry", 2499, 2501, true, 2, 0.001, 4, 2505},
		{"sell large buffer", 99, 101, false, 1, 0.25, 4, 75},
		{"buy large buffer", 99, 101, true, 1, 0.25, 4, 125},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := limitPrice(tc.bid, tc.ask, tc.isBuy, tc.attempt, tc.slippage, tc.szDecimals)
			if got != tc.want {
				t.Fatalf("limitPrice(%v, %v, buy=%v, attempt=%d): expected %v, got %v",
					tc.bid, tc.ask, tc.isBuy, tc.attempt, tc.want, got)
			}
		})
	}
}
