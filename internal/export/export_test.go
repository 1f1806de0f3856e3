package export

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/mfenderov/doclens/internal/events"
	"github.com/mfenderov/doclens/internal/risk"
	"github.com/mfenderov/doclens/pkg/models"
)

func record(id, filename string, fields map[string]string) *models.ExtractionRecord {
	f := models.Fields{}
	for k, v := range fields {
		f.Set(k, v, nil)
	}
	rec := models.NewExtractionRecord(
		&models.ParsedDocument{Filename: filename},
		models.Classification{Type: models.TypeInvoice},
		f, nil)
	rec.ID = id
	rec.ExtractedAt = time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC)
	rec.Risk = risk.Score(rec.Fields)
	return rec
}

func readRows(t *testing.T, f *excelize.File) [][]string {
	t.Helper()
	rows, err := f.GetRows(Sheet)
	require.NoError(t, err)
	return rows
}

func TestRow(t *testing.T) {
	rec := record("r-1", "inv.pdf", map[string]string{
		models.FieldInvoiceID:     "INV-1",
		models.FieldInvoiceNumber: "N-1",
		models.FieldParty1:        "Gamma",
		models.FieldParty2:        "Delta",
		models.FieldAmount:        "1062",
		models.FieldCurrency:      "INR",
	})

	row := Row(rec)
	require.Len(t, row, len(Columns))
	assert.Equal(t, "2024-03-05 10:30:00", row[0])
	assert.Equal(t, "inv.pdf", row[1])
	assert.Equal(t, "Invoice: INV-1", row[2])
	assert.Equal(t, "INVOICE", row[3])
	assert.Equal(t, "Gamma, Delta", row[5])
	assert.Equal(t, "1", row[10], "frequency default")
	assert.Equal(t, "35/100 (Medium)", row[14])
	assert.Equal(t, "r-1", row[15])
}

func TestDocumentIDs(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
		want   string
	}{
		{"none", nil, ""},
		{"number only", map[string]string{models.FieldInvoiceNumber: "N-1"}, "Invoice: N-1"},
		{"lease and contract", map[string]string{"lease_id": "L-1", "contract_id": "C-9"}, "Contract: C-9; Lease: L-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := models.Fields{}
			for k, v := range tt.fields {
				f.Set(k, v, nil)
			}
			assert.Equal(t, tt.want, DocumentIDs(f))
		})
	}
}

func TestWorkbook(t *testing.T) {
	data, err := Workbook([]*models.ExtractionRecord{
		record("a", "a.pdf", nil),
		record("b", "b.pdf", nil),
	})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows := readRows(t, f)
	require.Len(t, rows, 3)
	assert.Equal(t, Columns, rows[0])
	assert.Equal(t, "a.pdf", rows[1][1])
	assert.Equal(t, "b", rows[2][15])
}

type fakeUploader struct {
	names []string
	err   error
}

func (u *fakeUploader) PutObject(_ context.Context, name string, data []byte, contentType string) error {
	u.names = append(u.names, name)
	return u.err
}

func TestSink_AppendsOnCommit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "extractions.xlsx")
	uploader := &fakeUploader{}
	sink := NewSink(path, uploader)

	bus := events.NewBus()
	sink.Subscribe(bus)

	ctx := context.Background()
	bus.Committed.Publish(ctx, events.ExtractionCommitted{Record: record("a", "a.pdf", nil)})
	bus.Committed.Publish(ctx, events.ExtractionCommitted{Record: record("b", "b.pdf", nil)})

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows := readRows(t, f)
	require.Len(t, rows, 3)
	assert.Equal(t, "a.pdf", rows[1][1])
	assert.Equal(t, "b.pdf", rows[2][1])
	assert.Equal(t, []string{"exports/extractions.xlsx", "exports/extractions.xlsx"}, uploader.names)
}

func TestSink_ReplacesUnreadableWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("not a workbook"), 0o644))

	sink := NewSink(path, nil)
	require.NoError(t, sink.Append(context.Background(), record("a", "a.pdf", nil)))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Len(t, readRows(t, f), 2)
}

func TestSink_UploadFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.xlsx")
	sink := NewSink(path, &fakeUploader{err: errors.New("bucket gone")})

	err := sink.Append(context.Background(), record("a", "a.pdf", nil))
	assert.ErrorContains(t, err, "bucket gone")
	assert.FileExists(t, path, "the local workbook is still written")
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "doclens-20240305-103000.xlsx", Filename(time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC)))
}
