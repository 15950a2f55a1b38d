package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"opt-hedge-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// ExposureSnapshot is one underlying's line from a reconcile cycle.
type ExposureSnapshot struct {
	Time        time.Time
	Underlying  string
	TargetDelta float64
	TargetHedge float64
	HedgeHeld   float64
	Gap         float64
	Partial     bool
	State       string
	Cycle       uint64
}

// HedgeOrder is the audit record of one dispatched hedge order.
type HedgeOrder struct {
	Time       time.Time
	Underlying string
	Side       string
	Size       float64
	WorstPrice float64
	Filled     float64
	Status     string
	TxHash     string
	Reason     string
	ClientID   string
}

// Writer persists telemetry to TimescaleDB off the hot path. Enqueue
// never blocks; when the queue is full the record is dropped and counted.
type Writer struct {
	db         *sql.DB
	log        *zap.Logger
	schema     string
	exposures  chan ExposureSnapshot
	orders     chan HedgeOrder
	started    atomic.Bool
	dropExp    atomic.Uint64
	dropOrders atomic.Uint64
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
	writer := &Writer{
		db:        db,
		log:       log,
		schema:    schema,
		exposures: make(chan ExposureSnapshot, queueSize),
		orders:    make(chan HedgeOrder, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
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

func (w *Writer) EnqueueExposure(snapshot ExposureSnapshot) {
	if w == nil {
		return
	}
	select {
	case w.exposures <- snapshot:
		return
	default:
		if w.dropExp.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale exposure queue full")
		}
	}
}

func (w *Writer) EnqueueOrder(order HedgeOrder) {
	if w == nil {
		return
	}
	select {
	case w.orders <- order:
		return
	default:
		if w.dropOrders.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale order queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-w.exposures:
			w.writeExposure(ctx, snap)
		case order := <-w.orders:
			w.writeOrder(ctx, order)
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
		underlying TEXT NOT NULL,
		target_delta DOUBLE PRECISION NOT NULL,
		target_hedge DOUBLE PRECISION NOT NULL,
		hedge_held DOUBLE PRECISION NOT NULL,
		gap DOUBLE PRECISION NOT NULL,
		partial BOOLEAN NOT NULL,
		state TEXT NOT NULL,
		cycle BIGINT NOT NULL
	)`, w.table("exposure_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		underlying TEXT NOT NULL,
		side TEXT NOT NULL,
		size DOUBLE PRECISION NOT NULL,
		worst_price DOUBLE PRECISION NOT NULL,
		filled DOUBLE PRECISION NOT NULL,
		status TEXT NOT NULL,
		tx_hash TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		client_id TEXT NOT NULL DEFAULT ''
	)`, w.table("hedge_orders"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("exposure_snapshots"))); err != nil && w.log != nil {
		w.log.Warn("timescale exposure_snapshots hypertable create failed", zap.Error(err))
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("hedge_orders"))); err != nil && w.log != nil {
		w.log.Warn("timescale hedge_orders hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeExposure(ctx context.Context, snap ExposureSnapshot) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, underlying, target_delta, target_hedge, hedge_held, gap, partial, state, cycle
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9
	)`, w.table("exposure_snapshots"))
	if _, err := w.db.ExecContext(ctx, query,
		snap.Time,
		snap.Underlying,
		snap.TargetDelta,
		snap.TargetHedge,
		snap.HedgeHeld,
		snap.Gap,
		snap.Partial,
		snap.State,
		int64(snap.Cycle),
	); err != nil && w.log != nil {
		w.log.Warn("timescale exposure insert failed", zap.Error(err))
	}
}

func (w *Writer) writeOrder(ctx context.Context, order HedgeOrder) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, underlying, side, size, worst_price, filled, status, tx_hash, reason, client_id
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
	)`, w.table("hedge_orders"))
	if _, err := w.db.ExecContext(ctx, query,
		order.Time,
		order.Underlying,
		order.Side,
		order.Size,
		order.WorstPrice,
		order.Filled,
		order.Status,
		order.TxHash,
		order.Reason,
		order.ClientID,
	); err != nil && w.log != nil {
		w.log.Warn("timescale order insert failed", zap.Error(err))
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
