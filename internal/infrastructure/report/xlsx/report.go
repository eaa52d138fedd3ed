package xlsx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/imagery-acquisition/internal/core/domain"
)

const (
	SheetPlaced    = "Placed"
	SheetSkipped   = "Skipped"
	SheetFulfilled = "Fulfilled"
	SheetSummary   = "Summary"
)

// Report collects run outcomes in memory and writes them out as one workbook.
type Report struct {
	mu        sync.Mutex
	placed    [][]interface{}
	skipped   [][]interface{}
	fulfilled [][]interface{}
	summary   *domain.RunSummary
}

func New() *Report {
	return &Report{}
}

func (r *Report) RecordPlacement(_ context.Context, _ string, outcome domain.PlacementOutcome) error {
	u := outcome.Unit
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case outcome.Order != nil:
		r.placed = append(r.placed, append(unitCells(u),
			outcome.Order.SceneID, outcome.Order.OrderID, outcome.Order.CompositeImageID(), outcome.Attempts))
	case outcome.Skip != nil:
		r.skipped = append(r.skipped, append(unitCells(u),
			string(outcome.Skip.Reason), outcome.Attempts, safeCellValue(outcome.Skip.Error)))
	}
	return nil
}

func (r *Report) RecordFulfillment(_ context.Context, _ string, outcome domain.FulfillmentOutcome) error {
	o := outcome.Order
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fulfilled = append(r.fulfilled, []interface{}{
		o.OrderID, o.SceneID, o.FolderName(), string(outcome.Status), outcome.OrderStatus,
		outcome.Polls, len(outcome.Downloaded), strings.Join(outcome.FailedAssets, ", "),
		safeCellValue(outcome.Error),
	})
	return nil
}

// SetSummary attaches the run totals written to the Summary sheet.
func (r *Report) SetSummary(summary domain.RunSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary = &summary
}

func (r *Report) Save(path string) error {
	if strings.TrimSpace(path) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "save report", fmt.Errorf("empty output path"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	// Reuse the default sheet so the workbook has no stray empty tab.
	if def := f.GetSheetName(0); def != "" {
		if err := f.SetSheetName(def, SheetSummary); err != nil {
			return fmt.Errorf("rename default sheet: %w", err)
		}
	} else if _, err := f.NewSheet(SheetSummary); err != nil {
		return fmt.Errorf("create sheet %s: %w", SheetSummary, err)
	}
	for _, name := range []string{SheetPlaced, SheetSkipped, SheetFulfilled} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}
	f.SetActiveSheet(0)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DDEBF7"}},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	unitHeaders := []string{"site_id", "lat", "lon", "window_start", "window_end"}
	sheets := []struct {
		name    string
		headers []string
		rows    [][]interface{}
	}{
		{SheetSummary, []string{"metric", "value"}, r.summaryRows()},
		{SheetPlaced, append(append([]string{}, unitHeaders...), "scene_id", "order_id", "image_id", "attempts"), r.placed},
		{SheetSkipped, append(append([]string{}, unitHeaders...), "reason", "attempts", "error"), r.skipped},
		{SheetFulfilled, []string{"order_id", "scene_id", "folder", "status", "order_state", "polls", "files", "failed_assets", "error"}, r.fulfilled},
	}
	for _, s := range sheets {
		if err := writeSheetStream(f, s.name, s.headers, s.rows, headerStyle); err != nil {
			return fmt.Errorf("write sheet %s: %w", s.name, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

func (r *Report) summaryRows() [][]interface{} {
	if r.summary == nil {
		return [][]interface{}{{"units_placed", len(r.placed)}, {"units_skipped", len(r.skipped)}}
	}
	s := r.summary
	return [][]interface{}{
		{"run_id", s.RunID},
		{"units", s.Units},
		{"chunks", s.Chunks},
		{"placed", s.Placed},
		{"skipped", s.Skipped},
		{"no_imagery", s.NoImagery},
		{"fulfilled", s.Fulfilled},
		{"partial", s.Partial},
		{"failed_orders", s.FailedOrders},
		{"assets", s.Assets},
		{"started_at", s.StartedAt.Format("2006-01-02 15:04:05")},
		{"finished_at", s.FinishedAt.Format("2006-01-02 15:04:05")},
	}
}

func writeSheetStream(f *excelize.File, sheet string, headers []string, rows [][]interface{}, headerStyle int) error {
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return err
	}
	header := make([]interface{}, len(headers))
	for i, h := range headers {
		header[i] = excelize.Cell{StyleID: headerStyle, Value: h}
	}
	if err := sw.SetRow(cellAxis(1, 1), header); err != nil {
		return err
	}
	for i, row := range rows {
		if err := sw.SetRow(cellAxis(i+2, 1), row); err != nil {
			return err
		}
	}
	return sw.Flush()
}

func unitCells(u domain.WorkUnit) []interface{} {
	return []interface{}{
		u.SiteID, u.Latitude, u.Longitude,
		u.WindowStart.Format(domain.DateLayout), u.WindowEnd.Format(domain.DateLayout),
	}
}

func cellAxis(row, col int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

// Excel caps a cell at 32767 characters.
func safeCellValue(s string) string {
	const maxCell = 32767
	if len(s) > maxCell {
		return s[:maxCell]
	}
	return s
}
