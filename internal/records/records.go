// Package records holds committed extraction records and rejects duplicate invoices.
package records

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mfenderov/doclens/internal/storage"
	"github.com/mfenderov/doclens/pkg/models"
)

// Set is the collection of committed records, keyed by record id.
type Set struct {
	mu      sync.Mutex
	records map[string]*models.ExtractionRecord
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{records: make(map[string]*models.ExtractionRecord)}
}

// Commit checks candidate against the guard and inserts it under one lock,
// so exactly one of two racing duplicates commits. On success the record
// gets a fresh id. A nil guard admits everything.
func (s *Set) Commit(candidate *models.ExtractionRecord, guard *Guard) (*models.ExtractionRecord, *Match) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if guard != nil {
		if m := guard.match(candidate, s.records); m != nil {
			return nil, m
		}
	}
	candidate.ID = uuid.NewString()
	s.records[candidate.ID] = candidate
	return candidate, nil
}

// Get returns the record with the given id.
func (s *Set) Get(id string) (*models.ExtractionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	return r, ok
}

// List returns all records, oldest first.
func (s *Set) List() []*models.ExtractionRecord {
	s.mu.Lock()
	out := make([]*models.ExtractionRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return older(out[i], out[j]) })
	return out
}

// older orders records by extraction time, then id.
func older(a, b *models.ExtractionRecord) bool {
	if a.ExtractedAt.Equal(b.ExtractedAt) {
		return a.ID < b.ID
	}
	return a.ExtractedAt.Before(b.ExtractedAt)
}

// Len returns the number of committed records.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Delete removes a record and reports whether it existed.
func (s *Set) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[id]
	delete(s.records, id)
	return ok
}

// Restore inserts previously committed records without checks, keeping
// their ids. Records already present are left alone.
func (s *Set) Restore(recs []*models.ExtractionRecord) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range recs {
		if r == nil || r.ID == "" {
			continue
		}
		if _, ok := s.records[r.ID]; ok {
			continue
		}
		s.records[r.ID] = r
		n++
	}
	return n
}

// Source reads mirrored records.
type Source interface {
	Keys(ctx context.Context, collection string) ([]string, error)
	Get(ctx context.Context, collection, key string, v any) error
}

// Load reads every mirrored record. Unreadable records are skipped.
func Load(ctx context.Context, src Source) ([]*models.ExtractionRecord, error) {
	keys, err := src.Keys(ctx, storage.CollectionRecords)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	recs := make([]*models.ExtractionRecord, 0, len(keys))
	for _, key := range keys {
		var r models.ExtractionRecord
		if err := src.Get(ctx, storage.CollectionRecords, key, &r); err != nil {
			slog.Warn("skipping unreadable record", "id", key, "error", err)
			continue
		}
		recs = append(recs, &r)
	}
	return recs, nil
}

// InvoiceKey is the duplicate-detection key of an invoice: the trimmed,
// case-folded invoice_id, or invoice_number when there is no id.
func InvoiceKey(r *models.ExtractionRecord) string {
	if r == nil || r.Type != models.TypeInvoice {
		return ""
	}
	if k := normalizeKey(r.Fields.Get(models.FieldInvoiceID)); k != "" {
		return k
	}
	return normalizeKey(r.Fields.Get(models.FieldInvoiceNumber))
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
