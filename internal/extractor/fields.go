package extractor

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mfenderov/doclens/pkg/models"
)

// kind decides how a field value is normalized and checked against the text.
type kind int

const (
	kindText      kind = iota // names and identifiers, must occur in the text
	kindClause                // kept verbatim as it appears in the text
	kindDate                  // normalized to YYYY-MM-DD
	kindAmount                // plain numeral, percentages rejected
	kindFrequency             // canonical payment frequency
	kindCurrency              // ISO currency code
	kindList                  // list items, each must occur in the text
)

// field describes one entry of an extractor's schema.
type field struct {
	name        string
	kind        kind
	description string
}

// Type-specific field names. Canonical names live in models.
const (
	FieldPremises          = "premises"
	FieldTerm              = "term"
	FieldEscalationClause  = "escalation_clause"
	FieldTerminationClause = "termination_clause"
	FieldSecurityDeposit   = "security_deposit"
	FieldLeaseID           = "lease_id"
	FieldConfidentiality   = "confidentiality_term"
	FieldGoverningLaw      = "governing_law"
	FieldPermittedUse      = "permitted_use"
	FieldNDAID             = "nda_id"
	FieldScopeOfWork       = "scope_of_work"
	FieldContractID        = "contract_id"
	FieldLineItems         = "line_items"
	FieldSubtotal          = "subtotal"
	FieldTaxAmount         = "tax_amount"
	FieldCGST              = "cgst"
	FieldSGST              = "sgst"
	FieldIGST              = "igst"
	FieldVAT               = "vat"
	FieldTotal             = "total"
	FieldBankName          = "bank_name"
	FieldAccountNumber     = "account_number"
	FieldIFSCCode          = "ifsc_code"
)

// assembler normalizes raw values into fields, checking every value
// against the document text.
type assembler struct {
	doc    *models.ParsedDocument
	fields models.Fields
	errs   []models.FieldError
	// amountSpan remembers where the amount was found, for currency detection.
	amountSpan *span
	rawAmount  string
}

func newAssembler(doc *models.ParsedDocument) *assembler {
	return &assembler{doc: doc, fields: models.Fields{}}
}

func (a *assembler) fail(name, reason string) {
	a.errs = append(a.errs, models.FieldError{Field: name, Reason: reason})
}

// add normalizes and verifies one raw value. Empty values are skipped
// silently; values not backed by the text are dropped with a field error.
func (a *assembler) add(f field, raw any) {
	values := stringify(raw)
	if len(values) == 0 {
		return
	}
	value := strings.Join(values, "; ")
	if isNullish(value) {
		return
	}
	text := a.doc.Text

	switch f.kind {
	case kindText, kindClause:
		s, ok := locateText(text, value)
		if !ok {
			a.fail(f.name, "value not found in document")
			return
		}
		a.fields.Set(f.name, text[s.start:s.end], sourceRef(a.doc, s))

	case kindDate:
		iso, ok := NormalizeDate(value)
		if !ok {
			a.fail(f.name, fmt.Sprintf("unrecognized date %q", value))
			return
		}
		s, ok := locateDate(text, iso)
		if !ok {
			a.fail(f.name, "date not found in document")
			return
		}
		a.fields.Set(f.name, iso, sourceRef(a.doc, s))

	case kindAmount:
		if IsPercentage(value) {
			a.fail(f.name, "percentage is not a monetary amount")
			return
		}
		norm, v, err := NormalizeAmount(value)
		if err != nil {
			a.fail(f.name, err.Error())
			return
		}
		s, err := locateAmount(text, v)
		if err != nil {
			a.fail(f.name, err.Error())
			return
		}
		a.fields.Set(f.name, norm, sourceRef(a.doc, s))
		if f.name == models.FieldAmount {
			a.amountSpan, a.rawAmount = &s, value
		}

	case kindFrequency:
		canonical, ok := NormalizeFrequency(value)
		if !ok {
			a.fail(f.name, fmt.Sprintf("unrecognized frequency %q", value))
			return
		}
		start, end, ok := findFrequency(text, canonical)
		if !ok {
			a.fail(f.name, "frequency not stated in document")
			return
		}
		a.fields.Set(f.name, canonical, sourceRef(a.doc, span{start, end}))

	case kindCurrency:
		code := DetectCurrency(value)
		if code == "" && len(value) == 3 {
			code = strings.ToUpper(value)
		}
		if code == "" {
			a.fail(f.name, "currency not stated in document")
			return
		}
		s, ok := locateCurrency(text, code, a.amountSpan)
		if !ok {
			a.fail(f.name, "currency not stated in document")
			return
		}
		a.fields.Set(f.name, code, sourceRef(a.doc, s))

	case kindList:
		var kept []string
		var first *span
		for _, item := range values {
			s, ok := locateListItem(text, item)
			if !ok {
				a.fail(f.name, fmt.Sprintf("item %q not found in document", truncate(item, 40)))
				continue
			}
			if first == nil {
				first = &s
			}
			kept = append(kept, item)
		}
		if first != nil {
			a.fields.Set(f.name, strings.Join(kept, "; "), sourceRef(a.doc, *first))
		}
	}
}

// finish resolves the currency: from the amount's own text, then next to the
// amount in the document, then anywhere in the document. A currency without
// an amount is dropped.
func (a *assembler) finish() *Result {
	if !a.fields.Has(models.FieldAmount) {
		delete(a.fields, models.FieldCurrency)
	} else if !a.fields.Has(models.FieldCurrency) {
		code := DetectCurrency(a.rawAmount)
		if code == "" && a.amountSpan != nil {
			code = currencyNear(a.doc.Text, *a.amountSpan)
		}
		if code == "" {
			code = DetectCurrency(a.doc.Text)
		}
		var ref *models.SourceRef
		if s, ok := locateCurrency(a.doc.Text, code, a.amountSpan); ok {
			ref = sourceRef(a.doc, s)
		}
		a.fields.Set(models.FieldCurrency, code, ref)
	}
	return &Result{Fields: a.fields, Errors: a.errs}
}

// locateCurrency finds where text names the currency by symbol, code or
// word, preferring the mention closest to near.
func locateCurrency(text, code string, near *span) (span, bool) {
	if code == "" {
		return span{}, false
	}
	var locs [][]int
	for _, c := range currencyPatterns {
		if c.code == code {
			locs = append(locs, c.pattern.FindAllStringIndex(text, -1)...)
		}
	}
	if len(locs) == 0 {
		if i := strings.Index(text, code); i >= 0 {
			locs = append(locs, []int{i, i + len(code)})
		}
	}
	best, found := span{}, false
	for _, loc := range locs {
		s := span{loc[0], loc[1]}
		if !found || closer(s, best, near) {
			best, found = s, true
		}
	}
	return best, found
}

// closer reports whether a lies nearer to near than b, or earlier when
// there is no reference point.
func closer(a, b span, near *span) bool {
	if near == nil {
		return a.start < b.start
	}
	return distance(a, *near) < distance(b, *near)
}

func distance(a, b span) int {
	switch {
	case a.end <= b.start:
		return b.start - a.end
	case b.end <= a.start:
		return a.start - b.end
	}
	return 0
}

// locateListItem looks for an item, or failing that its description part,
// in the text.
func locateListItem(text, item string) (span, bool) {
	if s, ok := locateText(text, item); ok {
		return s, true
	}
	desc, _, _ := strings.Cut(item, " - ")
	if desc != item {
		return locateText(text, desc)
	}
	return span{}, false
}

// stringify turns a decoded JSON value into strings. Objects become
// "description - rest" so list items read naturally.
func stringify(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []string{s}
		}
		return nil
	case float64:
		return []string{FormatAmount(t)}
	case json.Number:
		return []string{t.String()}
	case bool:
		return nil
	case []any:
		var out []string
		for _, item := range t {
			if s := stringify(item); len(s) > 0 {
				out = append(out, strings.Join(s, " "))
			}
		}
		return out
	case map[string]any:
		return []string{objectString(t)}
	default:
		return []string{fmt.Sprint(t)}
	}
}

func objectString(m map[string]any) string {
	var head string
	for _, key := range []string{"description", "item", "name"} {
		if s := stringify(m[key]); len(s) > 0 {
			head = s[0]
			delete(m, key)
			break
		}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var rest []string
	for _, k := range keys {
		if s := stringify(m[k]); len(s) > 0 {
			rest = append(rest, k+": "+strings.Join(s, ", "))
		}
	}
	switch {
	case head == "":
		return strings.Join(rest, ", ")
	case len(rest) == 0:
		return head
	default:
		return head + " - " + strings.Join(rest, ", ")
	}
}

func isNullish(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "null", "none", "n/a", "na", "not found", "not specified", "not mentioned", "unknown", "-":
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:runeFloor(s, n)] + "..."
}
