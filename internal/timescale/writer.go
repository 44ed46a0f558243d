package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"hk-arb-bot/internal/config"
	"hk-arb-bot/internal/journal"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// Writer persists the audit trail to TimescaleDB: every journal event and
// every funding sample. Writes are queued and flushed by a background
// goroutine; a full queue drops and logs rather than blocking the trading
// path. A nil *Writer is a no-op, so callers can hold one unconditionally.
type Writer struct {
	db      *sql.DB
	log     *zap.Logger
	schema  string
	events  chan journal.Event
	started atomic.Bool
	dropped atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	w := &Writer{
		db:     db,
		log:    log,
		schema: schema,
		events: make(chan journal.Event, queueSize),
	}
	if err := w.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

// Record implements journal.Sink. It never blocks.
func (w *Writer) Record(ctx context.Context, ev journal.Event) {
	if w == nil {
		return
	}
	_ = ctx
	select {
	case w.events <- ev:
	default:
		if w.dropped.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale event queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-w.events:
			if ev.Type == journal.EventFundingSample {
				w.writeFundingSample(ctx, ev)
			} else {
				w.writeTradeEvent(ctx, ev)
			}
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		asset TEXT NOT NULL,
		rate_pct DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (ts, asset)
	)`, w.table("funding_rates"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		event TEXT NOT NULL,
		asset TEXT NOT NULL,
		perp_qty DOUBLE PRECISION NOT NULL,
		spot_qty DOUBLE PRECISION NOT NULL,
		notional_usd DOUBLE PRECISION NOT NULL,
		funding_pct DOUBLE PRECISION NOT NULL,
		detail TEXT NOT NULL DEFAULT ''
	)`, w.table("trade_events"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("funding_rates"))); err != nil && w.log != nil {
		w.log.Warn("timescale funding_rates hypertable create failed", zap.Error(err))
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("trade_events"))); err != nil && w.log != nil {
		w.log.Warn("timescale trade_events hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeFundingSample(ctx context.Context, ev journal.Event) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (ts, asset, rate_pct)
	VALUES ($1,$2,$3)
	ON CONFLICT (ts, asset) DO UPDATE SET rate_pct = EXCLUDED.rate_pct`, w.table("funding_rates"))
	if _, err := w.db.ExecContext(ctx, query, ev.Time, ev.Symbol, ev.FundingPct); err != nil && w.log != nil {
		w.log.Warn("timescale funding insert failed", zap.Error(err))
	}
}

func (w *Writer) writeTradeEvent(ctx context.Context, ev journal.Event) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, event, asset, perp_qty, spot_qty, notional_usd, funding_pct, detail
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, w.table("trade_events"))
	if _, err := w.db.ExecContext(ctx, query,
		ev.Time,
		string(ev.Type),
		ev.Symbol,
		ev.PerpQty,
		ev.SpotQty,
		ev.NotionalUSD,
		ev.FundingPct,
		ev.Detail,
	); err != nil && w.log != nil {
		w.log.Warn("timescale trade event insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
