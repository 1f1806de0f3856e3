// Package export writes extraction records to xlsx workbooks.
package export

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/mfenderov/doclens/internal/events"
	"github.com/mfenderov/doclens/internal/extractor"
	"github.com/mfenderov/doclens/pkg/models"
)

// Sheet is the worksheet records are written to.
const Sheet = "Extractions"

// ContentType is the MIME type of xlsx files.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Columns is the header row. Column order drives every export.
var Columns = []string{
	"Extracted At",
	"Document Name",
	"ID",
	"Document Type",
	"Account Type (Head)",
	"Party Names",
	"Start Date",
	"Due Date",
	"Amount",
	"Currency",
	"Frequency",
	"Per Period Amount",
	"Per Month Amount",
	"Period",
	"Risk Score",
	"Record ID",
}

var widths = map[string]float64{
	"A": 20, "B": 32, "C": 28, "D": 12, "E": 28, "F": 40,
	"G": 12, "H": 12, "I": 14, "J": 10, "K": 12,
	"L": 14, "M": 14, "N": 10, "O": 16, "P": 38,
}

// maxCell is the xlsx limit on characters in one cell.
const maxCell = 32767

// Row renders a record in column order.
func Row(rec *models.ExtractionRecord) []any {
	f := rec.Fields
	return []any{
		rec.ExtractedAt.UTC().Format("2006-01-02 15:04:05"),
		rec.Filename,
		DocumentIDs(f),
		string(rec.Type),
		f.Get(models.FieldAccountType),
		truncate(strings.Join(rec.Parties(), ", "), maxCell),
		f.Get(models.FieldStartDate),
		f.Get(models.FieldDueDate),
		f.Get(models.FieldAmount),
		f.Get(models.FieldCurrency),
		f.Get(models.FieldFrequency),
		f.Get(models.FieldPerPeriodAmount),
		f.Get(models.FieldPerMonthAmount),
		f.Get(models.FieldPeriodName),
		fmt.Sprintf("%d/100 (%s)", rec.Risk.Score, rec.Risk.Level()),
		rec.ID,
	}
}

var idLabels = []struct {
	field string
	label string
}{
	{models.FieldInvoiceID, "Invoice"},
	{models.FieldInvoiceNumber, "Invoice"},
	{extractor.FieldContractID, "Contract"},
	{extractor.FieldLeaseID, "Lease"},
	{extractor.FieldNDAID, "NDA"},
}

// DocumentIDs joins the identifiers a record carries. An invoice id hides
// the invoice number.
func DocumentIDs(f models.Fields) string {
	var parts []string
	for _, l := range idLabels {
		v := f.Get(l.field)
		if v == "" {
			continue
		}
		if l.field == models.FieldInvoiceNumber && f.Has(models.FieldInvoiceID) {
			continue
		}
		parts = append(parts, l.label+": "+v)
	}
	return strings.Join(parts, "; ")
}

// Workbook builds a workbook holding every record.
func Workbook(recs []*models.ExtractionRecord) ([]byte, error) {
	f, err := newFile()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	for i, rec := range recs {
		if err := writeRow(f, i+2, Row(rec)); err != nil {
			return nil, err
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func newFile() (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", Sheet); err != nil {
		return nil, err
	}
	if err := writeRow(f, 1, toAny(Columns)); err != nil {
		return nil, err
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		last, _ := excelize.CoordinatesToCellName(len(Columns), 1)
		_ = f.SetCellStyle(Sheet, "A1", last, style)
	}
	for col, w := range widths {
		_ = f.SetColWidth(Sheet, col, col, w)
	}
	_ = f.SetPanes(Sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
	return f, nil
}

func writeRow(f *excelize.File, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(Sheet, cell, &values)
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// Uploader stores a finished workbook, e.g. in object storage.
type Uploader interface {
	PutObject(ctx context.Context, name string, data []byte, contentType string) error
}

// Sink appends each committed record to a workbook on disk.
type Sink struct {
	mu       sync.Mutex
	path     string
	uploader Uploader
}

// NewSink creates a sink writing to path. uploader may be nil.
func NewSink(path string, uploader Uploader) *Sink {
	return &Sink{path: path, uploader: uploader}
}

// Subscribe attaches the sink to the bus.
func (s *Sink) Subscribe(bus *events.Bus) {
	bus.Committed.Subscribe(func(ctx context.Context, ev events.ExtractionCommitted) {
		if err := s.Append(ctx, ev.Record); err != nil {
			slog.Warn("failed to export record", "id", ev.Record.ID, "path", s.path, "error", err)
		}
	})
}

// Append adds one row, creating the workbook when it does not exist.
// An unreadable workbook is replaced.
func (s *Sink) Append(ctx context.Context, rec *models.ExtractionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := excelize.OpenFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		f, err = newFile()
	case err != nil:
		slog.Warn("existing workbook unreadable, creating a new one", "path", s.path, "error", err)
		f, err = newFile()
	}
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := f.GetRows(Sheet)
	if err != nil {
		return fmt.Errorf("read %s: %w", s.path, err)
	}
	if err := writeRow(f, len(rows)+1, Row(rec)); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := f.SaveAs(s.path); err != nil {
		return fmt.Errorf("save %s: %w", s.path, err)
	}
	slog.Debug("record exported", "id", rec.ID, "path", s.path, "row", len(rows)+1)

	if s.uploader != nil {
		data, err := os.ReadFile(s.path)
		if err != nil {
			return err
		}
		name := "exports/" + filepath.Base(s.path)
		if err := s.uploader.PutObject(ctx, name, data, ContentType); err != nil {
			return fmt.Errorf("upload %s: %w", name, err)
		}
	}
	return nil
}

// Path returns the workbook path.
func (s *Sink) Path() string {
	return s.path
}

// Filename is a timestamped default name for one-off exports.
func Filename(now time.Time) string {
	return "doclens-" + now.UTC().Format("20060102-150405") + ".xlsx"
}
