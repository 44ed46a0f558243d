package journal

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// EventType classifies the engine checkpoints worth an audit record.
type EventType string

const (
	EventEntered            EventType = "entered"
	EventExited             EventType = "exited"
	EventEntryFailed        EventType = "entry_failed"
	EventExitFailed         EventType = "exit_failed"
	EventReverted           EventType = "reverted"
	EventManualIntervention EventType = "manual_intervention"
	EventFundingSample      EventType = "funding_sample"
)

// Event is one audit record. Quantities are base-asset sizes; notional is USD.
type Event struct {
	Time        time.Time
	Type        EventType
	Symbol      string
	PerpQty     float64
	SpotQty     float64
	NotionalUSD float64
	FundingPct  float64
	Detail      string
}

// Sink receives engine audit events. Implementations must not block the
// caller for long; the engine invokes sinks inline at state transitions.
type Sink interface {
	Record(ctx context.Context, ev Event)
}

type nopSink struct{}

func (nopSink) Record(context.Context, Event) {}

func Nop() Sink { return nopSink{} }

// LogSink writes events as structured log lines.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Record(_ context.Context, ev Event) {
	if s.log == nil {
		return
	}
	s.log.Info("journal",
		zap.String("event", string(ev.Type)),
		zap.String("symbol", ev.Symbol),
		zap.Float64("perp_qty", ev.PerpQty),
		zap.Float64("spot_qty", ev.SpotQty),
		zap.Float64("notional_usd", ev.NotionalUSD),
		zap.Float64("funding_pct", ev.FundingPct),
		zap.String("detail", ev.Detail),
	)
}

// Multi fans an event out to several sinks.
func Multi(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type multiSink []Sink

func (m multiSink) Record(ctx context.Context, ev Event) {
	for _, s := range m {
		s.Record(ctx, ev)
	}
}
