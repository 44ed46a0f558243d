package feed

import (
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"

	"hk-arb-bot/internal/metrics"
)

func TestParseAssetCtx(t *testing.T) {
	data := json.RawMessage(`{
		"coin": "ETH",
		"ctx": {
			"funding": "0.0000125",
			"predFunding": -0.00002,
			"markPx": "2501.5",
			"oraclePx": "2500.9",
			"premium": "0.00024",
			"impactPxs": ["2501.1", "2501.9"]
		}
	}`)
	u, ok := parseAssetCtx(data, zap.NewNop())
	if !ok {
		t.Fatalf("expected parseable message")
	}
	if u.Symbol != "ETH" {
		t.Fatalf("symbol: %q", u.Symbol)
	}
	if !u.HasFunding || u.Funding != 0.0000125 {
		t.Fatalf("funding: %v %v", u.Funding, u.HasFunding)
	}
	if !u.HasPredFunding || u.PredFunding != -0.00002 {
		t.Fatalf("predFunding: %v %v", u.PredFunding, u.HasPredFunding)
	}
	if !u.HasMarkPx || u.MarkPx != 2501.5 {
		t.Fatalf("markPx: %v %v", u.MarkPx, u.HasMarkPx)
	}
	if !u.HasImpactPxs || u.ImpactBid != 2501.1 || u.ImpactAsk != 2501.9 {
		t.Fatalf("impactPxs: %v/%v %v", u.ImpactBid, u.ImpactAsk, u.HasImpactPxs)
	}
	if u.Time.IsZero() {
		t.Fatalf("time not stamped")
	}
}

func TestParseAssetCtxPartialFields(t *testing.T) {
	data := json.RawMessage(`{
		"coin": "BTC",
		"ctx": {
			"funding": "0.00005",
			"markPx": "not-a-number",
			"impactPxs": ["64000.5"]
		}
	}`)
	u, ok := parseAssetCtx(data, zap.NewNop())
	if !ok {
		t.Fatalf("one bad field must not discard the message")
	}
	if !u.HasFunding || u.Funding != 0.00005 {
		t.Fatalf("funding should survive: %v %v", u.Funding, u.HasFunding)
	}
	if u.HasMarkPx {
		t.Fatalf("malformed markPx must be flagged absent")
	}
	if u.HasImpactPxs {
		t.Fatalf("short impactPxs array must be flagged absent")
	}
	if u.HasPredFunding || u.HasOraclePx || u.HasPremium {
		t.Fatalf("missing fields must be flagged absent")
	}
}

func TestParseAssetCtxRejects(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"ctx": {"funding": "0.1"}}`,
		`{"coin": "ETH"}`,
	} {
		if _, ok := parseAssetCtx(json.RawMessage(raw), zap.NewNop()); ok {
			t.Fatalf("expected rejection for %s", raw)
		}
	}
}

func TestSubscribeMessage(t *testing.T) {
	msg := subscribeMessage("ETH")
	if msg["method"] != "subscribe" {
		t.Fatalf("method: %v", msg["method"])
	}
	sub, ok := msg["subscription"].(map[string]any)
	if !ok {
		t.Fatalf("subscription shape: %T", msg["subscription"])
	}
	if sub["type"] != "activeAssetCtx" || sub["coin"] != "ETH" {
		t.Fatalf("subscription: %v", sub)
	}
}

func newTestManager(queueSize int, handler Handler) *Manager {
	return NewManager(Config{
		URL:       "wss://example.invalid/ws",
		QueueSize: queueSize,
	}, []string{"ETH"}, handler, metrics.NewNoop(), zap.NewNop())
}

func TestEnqueueDropsOldest(t *testing.T) {
	m := newTestManager(2, nil)
	m.enqueue(json.RawMessage(`1`))
	m.enqueue(json.RawMessage(`2`))
	m.enqueue(json.RawMessage(`3`))

	got := []string{string(<-m.queue), string(<-m.queue)}
	if got[0] != "2" || got[1] != "3" {
		t.Fatalf("expected oldest dropped, got %v", got)
	}
}

func TestSubscriptionAck(t *testing.T) {
	m := newTestManager(4, nil)
	if m.Subscribed("ETH") {
		t.Fatalf("must not report subscribed before the ack")
	}
	m.dispatch(context.Background(), json.RawMessage(
		`{"channel":"subscriptionResponse","data":{"method":"subscribe","subscription":{"type":"activeAssetCtx","coin":"ETH"}}}`))
	if !m.Subscribed("ETH") {
		t.Fatalf("ack should mark the symbol subscribed")
	}
	m.clearSubscribed()
	if m.Subscribed("ETH") {
		t.Fatalf("disconnect should clear subscriptions")
	}
}

func TestDispatchRoutesToHandler(t *testing.T) {
	var got []Update
	m := newTestManager(4, func(_ context.Context, u Update) {
		got = append(got, u)
	})
	m.dispatch(context.Background(), json.RawMessage(
		`{"channel":"activeAssetCtx","data":{"coin":"ETH","ctx":{"funding":"0.0001"}}}`))
	m.dispatch(context.Background(), json.RawMessage(
		`{"channel":"pong"}`))
	m.dispatch(context.Background(), json.RawMessage(
		`{"channel":"somethingElse","data":{}}`))

	if len(got) != 1 {
		t.Fatalf("expected exactly one handled update, got %d", len(got))
	}
	if got[0].Symbol != "ETH" || !got[0].HasFunding || got[0].Funding != 0.0001 {
		t.Fatalf("unexpected update: %+v", got[0])
	}
}
