package kraken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client is the spot venue. Private calls are form-encoded POSTs signed with
// HMAC-SHA512 over the URI path and a nonce-prefixed digest of the body. All
// private traffic goes through the shared rate limiter.
type Client struct {
	baseURL string
	apiKey  string
	secret  []byte
	http    *http.Client
	limiter *limiter
	log     *zap.Logger
}

type Config struct {
	BaseURL           string
	APIKey            string
	APISecret         string // base64, as issued by the venue
	Timeout           time.Duration
	MaxCallsPerWindow int
	Window            time.Duration
	MinInterval       time.Duration
}

func New(cfg Config, log *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.kraken.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	secret, err := base64.StdEncoding.DecodeString(strings.TrimSpace(cfg.APISecret))
	if err != nil {
		return nil, fmt.Errorf("decode api secret: %w", err)
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		secret:  secret,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: newLimiter(cfg.MaxCallsPerWindow, cfg.Window, cfg.MinInterval),
		log:     log,
	}, nil
}

// Balance returns spendable balances by asset code, e.g. "ZUSD", "XXBT".
func (c *Client) Balance(ctx context.Context) (map[string]float64, error) {
	res, err := c.private(ctx, "/0/private/Balance", url.Values{})
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(res))
	for asset, raw := range res {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			continue
		}
		out[asset] = v
	}
	return out, nil
}

// Ticker holds the top of book for one pair.
type Ticker struct {
	Bid  float64
	Ask  float64
	Last float64
}

func (c *Client) Ticker(ctx context.Context, pair string) (Ticker, error) {
	res, err := c.public(ctx, "/0/public/Ticker", url.Values{"pair": {pair}})
	if err != nil {
		return Ticker{}, err
	}
	// The result is keyed by the venue's canonical pair name, which can
	// differ from the requested one. There is exactly one entry.
	for _, raw := range res {
		row, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		var t Ticker
		t.Bid = firstFloat(row["b"])
		t.Ask = firstFloat(row["a"])
		t.Last = firstFloat(row["c"])
		if t.Bid == 0 && t.Ask == 0 {
			return Ticker{}, fmt.Errorf("ticker %s: empty book", pair)
		}
		return t, nil
	}
	return Ticker{}, fmt.Errorf("ticker %s: no result", pair)
}

// firstFloat pulls element 0 from the venue's [price, wholeLotVolume, ...]
// arrays.
func firstFloat(v any) float64 {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return 0
	}
	s, ok := arr[0].(string)
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func (c *Client) public(ctx context.Context, path string, params url.Values) (map[string]any, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) private(ctx context.Context, path string, params url.Values) (map[string]any, error) {
	if err := c.limiter.wait(ctx); err != nil {
		return nil, err
	}
	nonce := strconv.FormatInt(time.Now().UnixNano()/int64(time.Millisecond), 10)
	params.Set("nonce", nonce)
	body := params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("API-Key", c.apiKey)
	req.Header.Set("API-Sign", c.sign(path, nonce, body))
	return c.do(req)
}

// sign computes base64(HMAC-SHA512(path || SHA256(nonce || body), secret)).
func (c *Client) sign(path, nonce, body string) string {
	inner := sha256.Sum256([]byte(nonce + body))
	mac := hmac.New(sha512.New, c.secret)
	mac.Write([]byte(path))
	mac.Write(inner[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *Client) do(req *http.Request) (map[string]any, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	var envelope struct {
		Error  []string       `json:"error"`
		Result map[string]any `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, err
	}
	if len(envelope.Error) > 0 {
		return nil, &APIError{Messages: envelope.Error}
	}
	return envelope.Result, nil
}

// APIError is an application-level error from the venue's response
// envelope.
type APIError struct {
	Messages []string
}

func (e *APIError) Error() string {
	return "kraken: " + strings.Join(e.Messages, "; ")
}
