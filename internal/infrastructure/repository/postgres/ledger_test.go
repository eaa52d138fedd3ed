package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/imagery-acquisition/internal/core/domain"
)

var fixedNow = time.Date(2021, 2, 1, 12, 0, 0, 0, time.UTC)

func newLedgerWithMock(t *testing.T) (*OrderLedger, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	ledger := NewOrderLedger(db)
	ledger.now = func() time.Time { return fixedNow }
	return ledger, mock, func() { _ = db.Close() }
}

func ledgerUnit() domain.WorkUnit {
	start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	return domain.WorkUnit{SiteID: "S1", Latitude: 1.5, Longitude: 2.5, WindowStart: start, WindowEnd: start.Add(domain.WindowLength)}
}

func TestEnsureSchemaTakesAdvisoryLock(t *testing.T) {
	ledger, mock, done := newLedgerWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs(int64(2021010101)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS acquisition_units").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := ledger.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordPlacementWritesUnitAndOrder(t *testing.T) {
	ledger, mock, done := newLedgerWithMock(t)
	defer done()

	unit := ledgerUnit()
	order := domain.PlacedOrder{OrderID: "o-1", SceneID: "scene-1", Unit: unit, PlacedAt: fixedNow}

	mock.ExpectExec("INSERT INTO acquisition_units").
		WithArgs("run-1", "S1", 1.5, 2.5, unit.WindowStart, unit.WindowEnd, "placed", 2, "", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO acquisition_orders").
		WithArgs("o-1", "run-1", "scene-1", "S1", unit.WindowStart, "1.5_2.5_S1", "placed", fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := ledger.RecordPlacement(context.Background(), "run-1", domain.PlacementOutcome{Unit: unit, Order: &order, Attempts: 2})
	if err != nil {
		t.Fatalf("RecordPlacement() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordPlacementSkipWritesUnitOnly(t *testing.T) {
	ledger, mock, done := newLedgerWithMock(t)
	defer done()

	unit := ledgerUnit()
	skip := domain.Skip{Unit: unit, Reason: domain.SkipNoImagery, Error: "no imagery available", Attempts: 1}

	mock.ExpectExec("INSERT INTO acquisition_units").
		WithArgs("run-1", "S1", 1.5, 2.5, unit.WindowStart, unit.WindowEnd, "no_imagery_available", 1, "no imagery available", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := ledger.RecordPlacement(context.Background(), "run-1", domain.PlacementOutcome{Unit: unit, Skip: &skip, Attempts: 1})
	if err != nil {
		t.Fatalf("RecordPlacement() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordFulfillmentUnknownOrder(t *testing.T) {
	ledger, mock, done := newLedgerWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE acquisition_orders").
		WithArgs("missing", "run-1", "complete", "success", 2, []byte(`["a.tif"]`), []byte(`[]`), "", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := ledger.RecordFulfillment(context.Background(), "run-1", domain.FulfillmentOutcome{
		Order:       domain.PlacedOrder{OrderID: "missing"},
		Status:      domain.FulfillmentComplete,
		OrderStatus: "success",
		Polls:       2,
		Downloaded:  []string{"a.tif"},
	})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordFulfillmentPropagatesDBError(t *testing.T) {
	ledger, mock, done := newLedgerWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE acquisition_orders").WillReturnError(errors.New("conn reset"))

	err := ledger.RecordFulfillment(context.Background(), "run-1", domain.FulfillmentOutcome{Order: domain.PlacedOrder{OrderID: "o-1"}})
	if err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPendingUnits(t *testing.T) {
	ledger, mock, done := newLedgerWithMock(t)
	defer done()

	unit := ledgerUnit()
	rows := sqlmock.NewRows([]string{"site_id", "latitude", "longitude", "window_start", "window_end", "outcome", "error"}).
		AddRow("S1", 1.5, 2.5, unit.WindowStart, unit.WindowEnd, "abandoned", "poll budget exhausted")
	mock.ExpectQuery("SELECT u.site_id").WithArgs("run-1", "permanent_error").WillReturnRows(rows)

	pending, err := ledger.PendingUnits(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("PendingUnits() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Unit.Key() != "1.5_2.5_S1" || pending[0].Outcome != "abandoned" {
		t.Fatalf("unexpected pending units %+v", pending)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
