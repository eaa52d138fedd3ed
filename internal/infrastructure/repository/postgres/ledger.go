package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/imagery-acquisition/internal/core/domain"
)

// OrderLedger keeps a per-run history of units and orders so that skipped units
// and failed orders can be re-submitted later.
type OrderLedger struct {
	db  *sql.DB
	now func() time.Time
}

func NewOrderLedger(db *sql.DB) *OrderLedger {
	return &OrderLedger{db: db, now: time.Now}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (l *OrderLedger) EnsureSchema(ctx context.Context) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across concurrent runs.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2021010101)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS acquisition_units (
	run_id TEXT NOT NULL,
	site_id TEXT NOT NULL,
	latitude DOUBLE PRECISION NOT NULL,
	longitude DOUBLE PRECISION NOT NULL,
	window_start DATE NOT NULL,
	window_end DATE NOT NULL,
	outcome TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	recorded_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, site_id, window_start)
);

CREATE TABLE IF NOT EXISTS acquisition_orders (
	order_id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	scene_id TEXT NOT NULL,
	site_id TEXT NOT NULL,
	window_start DATE NOT NULL,
	folder TEXT NOT NULL,
	status TEXT NOT NULL,
	order_state TEXT,
	polls INTEGER NOT NULL DEFAULT 0,
	downloaded JSONB NOT NULL DEFAULT '[]'::jsonb,
	failed_assets JSONB NOT NULL DEFAULT '[]'::jsonb,
	error_message TEXT,
	placed_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_acquisition_units_outcome ON acquisition_units(run_id, outcome);
CREATE INDEX IF NOT EXISTS idx_acquisition_orders_status ON acquisition_orders(run_id, status);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// RecordPlacement upserts the unit row and, for a placed order, inserts the order row.
func (l *OrderLedger) RecordPlacement(ctx context.Context, runID string, outcome domain.PlacementOutcome) error {
	unit := outcome.Unit
	state, errMessage := "placed", ""
	if outcome.Skip != nil {
		state, errMessage = string(outcome.Skip.Reason), outcome.Skip.Error
	}
	now := l.now().UTC()

	_, err := l.db.ExecContext(ctx, `
INSERT INTO acquisition_units (
	run_id, site_id, latitude, longitude, window_start, window_end, outcome, attempts, error_message, recorded_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (run_id, site_id, window_start) DO UPDATE
SET outcome = EXCLUDED.outcome, attempts = EXCLUDED.attempts, error_message = EXCLUDED.error_message, recorded_at = EXCLUDED.recorded_at
`,
		runID, unit.SiteID, unit.Latitude, unit.Longitude, unit.WindowStart, unit.WindowEnd,
		state, outcome.Attempts, errMessage, now,
	)
	if err != nil {
		return fmt.Errorf("upsert unit: %w", err)
	}

	if outcome.Order == nil {
		return nil
	}
	order := outcome.Order
	_, err = l.db.ExecContext(ctx, `
INSERT INTO acquisition_orders (order_id, run_id, scene_id, site_id, window_start, folder, status, placed_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (order_id) DO NOTHING
`, order.OrderID, runID, order.SceneID, unit.SiteID, unit.WindowStart, order.FolderName(), "placed", order.PlacedAt, now)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (l *OrderLedger) RecordFulfillment(ctx context.Context, runID string, outcome domain.FulfillmentOutcome) error {
	downloaded, err := json.Marshal(nonNil(outcome.Downloaded))
	if err != nil {
		return fmt.Errorf("marshal downloaded: %w", err)
	}
	failed, err := json.Marshal(nonNil(outcome.FailedAssets))
	if err != nil {
		return fmt.Errorf("marshal failed assets: %w", err)
	}

	res, err := l.db.ExecContext(ctx, `
UPDATE acquisition_orders
SET status = $3, order_state = $4, polls = $5, downloaded = $6, failed_assets = $7, error_message = $8, updated_at = $9
WHERE order_id = $1 AND run_id = $2
`, outcome.Order.OrderID, runID, string(outcome.Status), outcome.OrderStatus, outcome.Polls,
		downloaded, failed, outcome.Error, l.now().UTC())
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "update order",
			fmt.Errorf("order %s not found for run %s", outcome.Order.OrderID, runID))
	}
	return nil
}

// PendingUnit is a unit that did not end with downloaded imagery.
type PendingUnit struct {
	Unit    domain.WorkUnit
	Outcome string
	Error   string
}

// PendingUnits lists the units of runID that were skipped for a permanent error
// or whose order did not complete, for manual re-submission.
func (l *OrderLedger) PendingUnits(ctx context.Context, runID string) ([]PendingUnit, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT u.site_id, u.latitude, u.longitude, u.window_start, u.window_end,
	COALESCE(o.status, u.outcome), COALESCE(o.error_message, u.error_message, '')
FROM acquisition_units u
LEFT JOIN acquisition_orders o
	ON o.run_id = u.run_id AND o.site_id = u.site_id AND o.window_start = u.window_start
WHERE u.run_id = $1
	AND (u.outcome = $2 OR o.status IN ('failed', 'abandoned', 'partial', 'placed'))
ORDER BY u.site_id, u.window_start
`, runID, string(domain.SkipPermanentError))
	if err != nil {
		return nil, fmt.Errorf("list pending units: %w", err)
	}
	defer rows.Close()

	out := make([]PendingUnit, 0)
	for rows.Next() {
		var p PendingUnit
		if err := rows.Scan(
			&p.Unit.SiteID, &p.Unit.Latitude, &p.Unit.Longitude, &p.Unit.WindowStart, &p.Unit.WindowEnd,
			&p.Outcome, &p.Error,
		); err != nil {
			return nil, fmt.Errorf("scan pending unit: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending units: %w", err)
	}
	return out, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
