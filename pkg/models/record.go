package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Canonical field names shared by every extractor.
const (
	FieldParty1            = "party_1"
	FieldParty2            = "party_2"
	FieldAdditionalParties = "additional_parties"
	FieldStartDate         = "start_date"
	FieldDueDate           = "due_date"
	FieldAmount            = "amount"
	FieldCurrency          = "currency"
	FieldFrequency         = "frequency"
	FieldAccountType       = "account_type"
	FieldInvoiceID         = "invoice_id"
	FieldInvoiceNumber     = "invoice_number"
	FieldPerPeriodAmount   = "per_period_amount"
	FieldPerMonthAmount    = "per_month_amount"
	FieldPeriodName        = "period_name"
)

// DefaultFrequency marks a one-time payment. It is applied when a record is
// built without a frequency so period math always has a non-zero divisor.
const DefaultFrequency = "1"

// SourceRef points at the place in the document a value was found.
type SourceRef struct {
	Page    int    `json:"page,omitempty"`
	Snippet string `json:"snippet"`
}

// Field is one extracted value with its optional source reference.
type Field struct {
	Value  string     `json:"value"`
	Source *SourceRef `json:"source,omitempty"`
}

// Fields maps canonical field names to extracted values.
type Fields map[string]Field

// Get returns the trimmed value of a field, or "" when absent.
func (f Fields) Get(name string) string {
	return strings.TrimSpace(f[name].Value)
}

// Has reports whether a field carries a non-empty value.
func (f Fields) Has(name string) bool {
	return f.Get(name) != ""
}

// Set stores a value. Empty values remove the field.
func (f Fields) Set(name, value string, source *SourceRef) {
	value = strings.TrimSpace(value)
	if value == "" {
		delete(f, name)
		return
	}
	f[name] = Field{Value: value, Source: source}
}

// Clone returns a deep copy.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		if v.Source != nil {
			src := *v.Source
			v.Source = &src
		}
		out[k] = v
	}
	return out
}

// FieldError records a single field that could not be extracted.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ExtractionRecord is the structured result of extracting one document.
type ExtractionRecord struct {
	ID             string         `json:"id"`
	Fingerprint    Fingerprint    `json:"fingerprint"`
	Filename       string         `json:"filename"`
	Type           DocumentType   `json:"document_type"`
	Classification Classification `json:"classification"`
	Fields         Fields         `json:"fields"`
	Risk           Risk           `json:"risk"`
	FieldErrors    []FieldError   `json:"field_errors,omitempty"`
	ExtractedAt    time.Time      `json:"extracted_at"`
}

// NewExtractionRecord builds an uncommitted record. This is the one place the
// frequency default is applied.
func NewExtractionRecord(doc *ParsedDocument, class Classification, fields Fields, fieldErrs []FieldError) *ExtractionRecord {
	if fields == nil {
		fields = Fields{}
	}
	if !fields.Has(FieldFrequency) {
		fields.Set(FieldFrequency, DefaultFrequency, nil)
	}

	rec := &ExtractionRecord{
		Type:           class.Type,
		Classification: class,
		Fields:         fields,
		FieldErrors:    fieldErrs,
		ExtractedAt:    time.Now().UTC(),
	}
	if doc != nil {
		rec.Fingerprint = doc.Fingerprint
		rec.Filename = doc.Filename
	}
	return rec
}

// Parties returns the non-empty party names in order.
func (r *ExtractionRecord) Parties() []string {
	var parties []string
	for _, name := range []string{FieldParty1, FieldParty2, FieldAdditionalParties} {
		if v := r.Fields.Get(name); v != "" {
			parties = append(parties, v)
		}
	}
	return parties
}

// RiskLevel is the band a risk score falls into.
type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskMedium   RiskLevel = "Medium"
	RiskHigh     RiskLevel = "High"
	RiskCritical RiskLevel = "Critical"
)

// RiskLevelOf bands a 0-100 score.
func RiskLevelOf(score int) RiskLevel {
	switch {
	case score < 30:
		return RiskLow
	case score < 60:
		return RiskMedium
	case score < 80:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// RiskFactor is one penalty that contributed to a score.
type RiskFactor struct {
	Factor string `json:"factor"`
	Impact int    `json:"impact"`
}

// Risk is a completeness score. The level is derived from Score on demand.
type Risk struct {
	Score   int          `json:"score"`
	Factors []RiskFactor `json:"factors,omitempty"`
}

// Level returns the band for the score.
func (r Risk) Level() RiskLevel {
	return RiskLevelOf(r.Score)
}

// MarshalJSON includes the derived level for readers of the JSON form.
func (r Risk) MarshalJSON() ([]byte, error) {
	type plain Risk
	return json.Marshal(struct {
		plain
		Level RiskLevel `json:"level"`
	}{plain(r), r.Level()})
}

// UnmarshalJSON ignores the level; it is always recomputed from the score.
func (r *Risk) UnmarshalJSON(data []byte) error {
	type plain Risk
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Risk(p)
	return nil
}
