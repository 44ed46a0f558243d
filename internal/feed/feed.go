package feed

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"hk-arb-bot/internal/metrics"
)

// Update is one decoded per-asset context message. The Has* flags mark which
// fields the message actually carried with a parseable value; consumers must
// not treat a zero as fresh data.
type Update struct {
	Symbol         string
	Funding        float64
	HasFunding     bool
	PredFunding    float64
	HasPredFunding bool
	ImpactBid      float64
	ImpactAsk      float64
	HasImpactPxs   bool
	MarkPx         float64
	HasMarkPx      bool
	OraclePx       float64
	HasOraclePx    bool
	Premium        float64
	HasPremium     bool
	Time           time.Time
}

// Handler receives every decoded update on the consumer goroutine, after the
// update has been applied. It is the sole trigger for condition
// re-evaluation.
type Handler func(ctx context.Context, u Update)

type Config struct {
	URL          string
	MinDelay     time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	PingInterval time.Duration
	QueueSize    int
}

// Manager keeps one streaming connection to the perp venue subscribed to the
// per-asset context channel of every traded symbol. Transport reads are
// decoupled from message handling by a bounded queue so a slow consumer
// never blocks the socket; when the queue is full the oldest message is
// dropped.
type Manager struct {
	transport *transport
	handler   Handler
	queue     chan json.RawMessage
	met       *metrics.Metrics
	log       *zap.Logger

	mu         sync.Mutex
	subscribed map[string]bool
}

func NewManager(cfg Config, symbols []string, handler Handler, met *metrics.Metrics, log *zap.Logger) *Manager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	m := &Manager{
		transport:  newTransport(cfg.URL, cfg.MinDelay, cfg.MaxDelay, cfg.MaxAttempts, cfg.PingInterval, log),
		handler:    handler,
		queue:      make(chan json.RawMessage, cfg.QueueSize),
		met:        met,
		log:        log,
		subscribed: make(map[string]bool, len(symbols)),
	}
	for _, sym := range symbols {
		m.transport.addSubscription(subscribeMessage(sym))
	}
	m.transport.onConnect = func() {
		met.FeedReconnects.Inc()
	}
	m.transport.onDisconnect = m.clearSubscribed
	return m
}

func subscribeMessage(symbol string) map[string]any {
	return map[string]any{
		"method": "subscribe",
		"subscription": map[string]any{
			"type": "activeAssetCtx",
			"coin": symbol,
		},
	}
}

// Run blocks until the context is canceled or the transport gives up. The
// returned error is fatal for the engine. The consumer is stopped through
// its own derived context so a transport that gives up while the caller's
// context is still live does not strand Run.
func (m *Manager) Run(ctx context.Context) error {
	consumeCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		m.consume(consumeCtx)
	}()
	err := m.transport.run(ctx, m.enqueue)
	stopConsumer()
	<-consumerDone
	return err
}

// Subscribed reports whether the symbol's subscription has been acked on the
// current connection.
func (m *Manager) Subscribed(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribed[symbol]
}

func (m *Manager) clearSubscribed() {
	m.mu.Lock()
	for sym := range m.subscribed {
		delete(m.subscribed, sym)
	}
	m.mu.Unlock()
}

func (m *Manager) enqueue(data json.RawMessage) {
	select {
	case m.queue <- data:
		return
	default:
	}
	// Queue full: make room by dropping the oldest message.
	select {
	case <-m.queue:
		m.met.FeedDrops.Inc()
	default:
	}
	select {
	case m.queue <- data:
	default:
		m.met.FeedDrops.Inc()
	}
}

// consume drains the queue in FIFO order. A message that fails to decode is
// logged and skipped.
func (m *Manager) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-m.queue:
			m.dispatch(ctx, data)
		}
	}
}

func (m *Manager) dispatch(ctx context.Context, data json.RawMessage) {
	var envelope struct {
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		m.log.Warn("feed message decode failed", zap.Error(err))
		return
	}
	switch envelope.Channel {
	case "activeAssetCtx":
		u, ok := parseAssetCtx(envelope.Data, m.log)
		if !ok {
			return
		}
		if m.handler != nil {
			m.handler(ctx, u)
		}
	case "subscriptionResponse":
		m.handleSubscriptionAck(envelope.Data)
	case "pong", "":
	default:
		m.log.Debug("feed message ignored", zap.String("channel", envelope.Channel))
	}
}

func (m *Manager) handleSubscriptionAck(data json.RawMessage) {
	var ack struct {
		Subscription struct {
			Type string `json:"type"`
			Coin string `json:"coin"`
		} `json:"subscription"`
	}
	if err := json.Unmarshal(data, &ack); err != nil || ack.Subscription.Coin == "" {
		return
	}
	m.mu.Lock()
	m.subscribed[ack.Subscription.Coin] = true
	m.mu.Unlock()
	m.log.Info("feed subscribed", zap.String("symbol", ack.Subscription.Coin))
}

// parseAssetCtx decodes one context payload. Each numeric field is parsed
// independently so a single malformed value does not discard the rest of the
// message.
func parseAssetCtx(data json.RawMessage, log *zap.Logger) (Update, bool) {
	var msg struct {
		Coin string                     `json:"coin"`
		Ctx  map[string]json.RawMessage `json:"ctx"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn("asset ctx decode failed", zap.Error(err))
		return Update{}, false
	}
	if msg.Coin == "" || msg.Ctx == nil {
		return Update{}, false
	}
	u := Update{Symbol: msg.Coin, Time: time.Now().UTC()}
	u.Funding, u.HasFunding = ctxFloat(msg.Ctx, "funding", msg.Coin, log)
	u.PredFunding, u.HasPredFunding = ctxFloat(msg.Ctx, "predFunding", msg.Coin, log)
	u.MarkPx, u.HasMarkPx = ctxFloat(msg.Ctx, "markPx", msg.Coin, log)
	u.OraclePx, u.HasOraclePx = ctxFloat(msg.Ctx, "oraclePx", msg.Coin, log)
	u.Premium, u.HasPremium = ctxFloat(msg.Ctx, "premium", msg.Coin, log)
	u.ImpactBid, u.ImpactAsk, u.HasImpactPxs = ctxImpactPxs(msg.Ctx, msg.Coin, log)
	return u, true
}

func ctxFloat(ctx map[string]json.RawMessage, key, coin string, log *zap.Logger) (float64, bool) {
	raw, ok := ctx[key]
	if !ok {
		return 0, false
	}
	f, err := parseNumber(raw)
	if err != nil {
		log.Warn("asset ctx field malformed",
			zap.String("symbol", coin),
			zap.String("field", key),
			zap.Error(err))
		return 0, false
	}
	return f, true
}

func ctxImpactPxs(ctx map[string]json.RawMessage, coin string, log *zap.Logger) (bid, ask float64, ok bool) {
	raw, present := ctx["impactPxs"]
	if !present {
		return 0, 0, false
	}
	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err != nil || len(pair) < 2 {
		log.Warn("asset ctx impactPxs malformed", zap.String("symbol", coin))
		return 0, 0, false
	}
	b, errB := parseNumber(pair[0])
	a, errA := parseNumber(pair[1])
	if errB != nil || errA != nil {
		log.Warn("asset ctx impactPxs malformed", zap.String("symbol", coin))
		return 0, 0, false
	}
	return b, a, true
}

// parseNumber accepts both JSON numbers and the stringified decimals the
// venue mixes in.
func parseNumber(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseFloat(s, 64)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	return f, nil
}
