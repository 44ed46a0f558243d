package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Client talks to the Hyperliquid info endpoint. All queries are POSTs to
// /info with a type-discriminated JSON body.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func New(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

func (c *Client) Info(ctx context.Context, req interface{}) (map[string]any, error) {
	return c.post(ctx, "/info", req)
}

func (c *Client) InfoAny(ctx context.Context, req interface{}) (any, error) {
	return c.postAny(ctx, "/info", req)
}

// FundingHistory returns the asset's historical funding rates between start
// and end, oldest first, as decimal fractions per funding interval.
func (c *Client) FundingHistory(ctx context.Context, coin string, start, end time.Time) ([]float64, error) {
	req := map[string]any{
		"type":      "fundingHistory",
		"coin":      coin,
		"startTime": start.UnixMilli(),
		"endTime":   end.UnixMilli(),
	}
	raw, err := c.postAny(ctx, "/info", req)
	if err != nil {
		return nil, err
	}
	rows, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("fundingHistory %s: unexpected response shape", coin)
	}
	rates := make([]float64, 0, len(rows))
	for _, r := range rows {
		row, ok := r.(map[string]any)
		if !ok {
			continue
		}
		v, ok := asFloat(row["fundingRate"])
		if !ok {
			continue
		}
		rates = append(rates, v)
	}
	return rates, nil
}

// BookLevel is one side level of the L2 book.
type BookLevel struct {
	Px float64
	Sz float64
}

// Book holds the top-of-book snapshot for a coin. Bids are index 0 in the
// wire response, asks index 1.
type Book struct {
	Bids []BookLevel
	Asks []BookLevel
}

// BidDepth sums bid size across all returned levels, in coin units.
func (b Book) BidDepth() float64 {
	var total float64
	for _, l := range b.Bids {
		total += l.Sz
	}
	return total
}

func (b Book) BestBid() (BookLevel, bool) {
	if len(b.Bids) == 0 {
		return BookLevel{}, false
	}
	return b.Bids[0], true
}

func (b Book) BestAsk() (BookLevel, bool) {
	if len(b.Asks) == 0 {
		return BookLevel{}, false
	}
	return b.Asks[0], true
}

// L2Book fetches the current order book for a coin.
func (c *Client) L2Book(ctx context.Context, coin string) (Book, error) {
	raw, err := c.post(ctx, "/info", map[string]any{"type": "l2Book", "coin": coin})
	if err != nil {
		return Book{}, err
	}
	levels, ok := raw["levels"].([]any)
	if !ok || len(levels) < 2 {
		return Book{}, fmt.Errorf("l2Book %s: missing levels", coin)
	}
	return Book{
		Bids: parseLevels(levels[0]),
		Asks: parseLevels(levels[1]),
	}, nil
}

func parseLevels(side any) []BookLevel {
	rows, ok := side.([]any)
	if !ok {
		return nil
	}
	out := make([]BookLevel, 0, len(rows))
	for _, r := range rows {
		row, ok := r.(map[string]any)
		if !ok {
			continue
		}
		px, okPx := asFloat(row["px"])
		sz, okSz := asFloat(row["sz"])
		if !okPx || !okSz {
			continue
		}
		out = append(out, BookLevel{Px: px, Sz: sz})
	}
	return out
}

// AssetMeta is one perp universe entry. Index is the asset id the exchange
// endpoint addresses orders by.
type AssetMeta struct {
	Name       string
	Index      int
	SzDecimals int
}

// Meta fetches the perp universe keyed by coin name.
func (c *Client) Meta(ctx context.Context) (map[string]AssetMeta, error) {
	raw, err := c.post(ctx, "/info", map[string]any{"type": "meta"})
	if err != nil {
		return nil, err
	}
	universe, ok := raw["universe"].([]any)
	if !ok {
		return nil, fmt.Errorf("meta: missing universe")
	}
	out := make(map[string]AssetMeta, len(universe))
	for i, u := range universe {
		row, ok := u.(map[string]any)
		if !ok {
			continue
		}
		name, _ := row["name"].(string)
		if name == "" {
			continue
		}
		m := AssetMeta{Name: name, Index: i}
		if sd, ok := asFloat(row["szDecimals"]); ok {
			m.SzDecimals = int(sd)
		}
		out[name] = m
	}
	return out, nil
}

// Position is one open perp position from the clearinghouse state. Szi is
// signed: negative means short.
type Position struct {
	Coin     string
	Szi      float64
	EntryPx  float64
	Leverage float64
}

// AccountState is the perp margin summary for a user.
type AccountState struct {
	AccountValueUSD float64
	WithdrawableUSD float64
	TotalMarginUsed float64
	Positions       []Position
}

// ClearinghouseState fetches the user's perp account summary and open
// positions.
func (c *Client) ClearinghouseState(ctx context.Context, user string) (AccountState, error) {
	raw, err := c.post(ctx, "/info", map[string]any{"type": "clearinghouseState", "user": user})
	if err != nil {
		return AccountState{}, err
	}
	var st AccountState
	if ms, ok := raw["marginSummary"].(map[string]any); ok {
		st.AccountValueUSD, _ = asFloat(ms["accountValue"])
		st.TotalMarginUsed, _ = asFloat(ms["totalMarginUsed"])
	}
	st.WithdrawableUSD, _ = asFloat(raw["withdrawable"])

	aps, _ := raw["assetPositions"].([]any)
	for _, ap := range aps {
		wrap, ok := ap.(map[string]any)
		if !ok {
			continue
		}
		pos, ok := wrap["position"].(map[string]any)
		if !ok {
			continue
		}
		coin, _ := pos["coin"].(string)
		szi, ok := asFloat(pos["szi"])
		if !ok || szi == 0 {
			continue
		}
		p := Position{Coin: coin, Szi: szi}
		p.EntryPx, _ = asFloat(pos["entryPx"])
		if lev, ok := pos["leverage"].(map[string]any); ok {
			p.Leverage, _ = asFloat(lev["value"])
		}
		st.Positions = append(st.Positions, p)
	}
	return st, nil
}

// OpenOrder is one resting order on the user's account.
type OpenOrder struct {
	Coin  string
	OID   int64
	Side  string
	Px    float64
	Sz    float64
	Cloid string
}

// OpenOrders lists the user's resting orders.
func (c *Client) OpenOrders(ctx context.Context, user string) ([]OpenOrder, error) {
	raw, err := c.postAny(ctx, "/info", map[string]any{"type": "frontendOpenOrders", "user": user})
	if err != nil {
		return nil, err
	}
	rows, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("openOrders: unexpected response shape")
	}
	out := make([]OpenOrder, 0, len(rows))
	for _, r := range rows {
		row, ok := r.(map[string]any)
		if !ok {
			continue
		}
		var o OpenOrder
		o.Coin, _ = row["coin"].(string)
		o.Side, _ = row["side"].(string)
		o.Cloid, _ = row["cloid"].(string)
		if oid, ok := asFloat(row["oid"]); ok {
			o.OID = int64(oid)
		}
		o.Px, _ = asFloat(row["limitPx"])
		o.Sz, _ = asFloat(row["sz"])
		out = append(out, o)
	}
	return out, nil
}

// OrderFill is the resolved status of one order.
type OrderFill struct {
	Status   string // "open", "filled", "canceled", "rejected", ...
	FilledSz float64
	AvgPx    float64
}

// OrderStatus queries one order by exchange order ID.
func (c *Client) OrderStatus(ctx context.Context, user string, oid int64) (OrderFill, error) {
	raw, err := c.post(ctx, "/info", map[string]any{
		"type": "orderStatus",
		"user": user,
		"oid":  oid,
	})
	if err != nil {
		return OrderFill{}, err
	}
	if status, _ := raw["status"].(string); status != "order" {
		return OrderFill{}, fmt.Errorf("orderStatus %d: %s", oid, status)
	}
	var f OrderFill
	order, ok := raw["order"].(map[string]any)
	if !ok {
		return OrderFill{}, fmt.Errorf("orderStatus %d: missing order", oid)
	}
	f.Status, _ = order["status"].(string)
	if inner, ok := order["order"].(map[string]any); ok {
		origSz, _ := asFloat(inner["origSz"])
		sz, _ := asFloat(inner["sz"])
		f.FilledSz = origSz - sz
		f.AvgPx, _ = asFloat(inner["limitPx"])
	}
	return f, nil
}

// asFloat accepts both the JSON number and stringified-decimal encodings the
// info endpoint mixes freely.
func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		var f float64
		if _, err := fmt.Sscanf(t, "%g", &f); err == nil {
			return f, true
		}
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f, true
		}
	}
	return 0, false
}

func (c *Client) post(ctx context.Context, path string, req interface{}) (map[string]any, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	url := c.baseURL + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	var data map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Client) postAny(ctx context.Context, path string, req interface{}) (any, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	url := c.baseURL + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	var data any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}
