package records

import (
	"fmt"
	"time"

	"github.com/mfenderov/doclens/pkg/models"
)

// Match describes the committed invoice a candidate duplicates.
type Match struct {
	Key         string    `json:"key"`
	RecordID    string    `json:"record_id"`
	Filename    string    `json:"filename"`
	ExtractedAt time.Time `json:"extracted_at"`
	Vendor      string    `json:"vendor,omitempty"`
	Amount      string    `json:"amount,omitempty"`
	Currency    string    `json:"currency,omitempty"`
}

// Reason is the human-readable rejection message.
func (m *Match) Reason() string {
	msg := fmt.Sprintf("duplicate invoice %q: already extracted from %s at %s",
		m.Key, m.Filename, m.ExtractedAt.Format(time.RFC3339))
	if m.Vendor != "" {
		msg += ", vendor " + m.Vendor
	}
	if m.Amount != "" {
		msg += ", amount " + m.Amount
		if m.Currency != "" {
			msg += " " + m.Currency
		}
	}
	return msg
}

// Guard rejects invoices whose number was already committed.
type Guard struct{}

// NewGuard creates a duplicate guard.
func NewGuard() *Guard {
	return &Guard{}
}

// Check reports whether candidate duplicates a committed invoice in set.
// Only invoices with an id or number are checked.
func (g *Guard) Check(candidate *models.ExtractionRecord, set *Set) *Match {
	set.mu.Lock()
	defer set.mu.Unlock()
	return g.match(candidate, set.records)
}

// match returns the oldest committed invoice with the candidate's key.
func (g *Guard) match(candidate *models.ExtractionRecord, committed map[string]*models.ExtractionRecord) *Match {
	key := InvoiceKey(candidate)
	if key == "" {
		return nil
	}
	var first *models.ExtractionRecord
	for _, r := range committed {
		if r.Type != models.TypeInvoice {
			continue
		}
		if normalizeKey(r.Fields.Get(models.FieldInvoiceID)) != key &&
			normalizeKey(r.Fields.Get(models.FieldInvoiceNumber)) != key {
			continue
		}
		if first == nil || older(r, first) {
			first = r
		}
	}
	if first == nil {
		return nil
	}
	return &Match{
		Key:         key,
		RecordID:    first.ID,
		Filename:    first.Filename,
		ExtractedAt: first.ExtractedAt,
		Vendor:      first.Fields.Get(models.FieldParty1),
		Amount:      first.Fields.Get(models.FieldAmount),
		Currency:    first.Fields.Get(models.FieldCurrency),
	}
}
