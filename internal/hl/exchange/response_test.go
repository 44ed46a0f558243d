package exchange

import (
	"strings"
	"testing"
)

func TestParseOrderResultFilled(t *testing.T) {
	resp := map[string]any{
		"status": "ok",
		"response": map[string]any{
			"type": "order",
			"data": map[string]any{
				"statuses": []any{
					map[string]any{
						"filled": map[string]any{
							"oid":     float64(292577153770),
							"totalSz": "0.4",
							"avgPx":   "2500.5",
						},
					},
				},
			},
		},
	}
	res, err := ParseOrderResult(resp)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !res.Filled || res.Resting {
		t.Fatalf("expected filled, got %+v", res)
	}
	if res.OID != "292577153770" {
		t.Fatalf("expected order id 292577153770, got %s", res.OID)
	}
	if res.FilledSz != 0.4 || res.AvgPx != 2500.5 {
		t.Fatalf("fill fields: sz %v px %v", res.FilledSz, res.AvgPx)
	}
}

func TestParseOrderResultResting(t *testing.T) {
	resp := map[string]any{
		"status": "ok",
		"response": map[string]any{
			"data": map[string]any{
				"statuses": []any{
					map[string]any{
						"resting": map[string]any{"oid": float64(77)},
					},
				},
			},
		},
	}
	res, err := ParseOrderResult(resp)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !res.Resting || res.Filled {
		t.Fatalf("expected resting, got %+v", res)
	}
	if res.OID != "77" {
		t.Fatalf("expected order id 77, got %s", res.OID)
	}
}

func TestParseOrderResultOrderError(t *testing.T) {
	resp := map[string]any{
		"status": "ok",
		"response": map[string]any{
			"data": map[string]any{
				"statuses": []any{
					map[string]any{"error": "Insufficient margin"},
				},
			},
		},
	}
	res, err := ParseOrderResult(resp)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Err != "Insufficient margin" {
		t.Fatalf("expected the venue error carried through, got %+v", res)
	}
}

func TestParseOrderResultRejectsBadResponses(t *testing.T) {
	cases := []struct {
		name string
		resp map[string]any
		want string
	}{
		{"status not ok", map[string]any{"status": "err", "response": "nope"}, "status"},
		{"no statuses", map[string]any{"status": "ok", "response": map[string]any{}}, "no order statuses"},
		{"bad status shape", map[string]any{
			"status": "ok",
			"response": map[string]any{
				"data": map[string]any{"statuses": []any{"weird"}},
			},
		}, "unexpected order status shape"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseOrderResult(tc.resp)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
