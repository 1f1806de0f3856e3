package extractor

import (
	"context"
	"regexp"
	"strings"

	"github.com/mfenderov/doclens/pkg/models"
)

var (
	betweenParties  = regexp.MustCompile(`(?i)\bbetween\s+(.+?)\s+and\s+(.+?)\s*(?:[.,;(\n]|$)`)
	firstPartyLine  = regexp.MustCompile(`(?im)^\s*(?:lessor|landlord|vendor|seller|supplier|service provider|disclosing party|from)\s*:\s*(.+?)\s*$`)
	secondPartyLine = regexp.MustCompile(`(?im)^\s*(?:lessee|tenant|bill to|billed to|customer|buyer|client|receiving party|to)\s*:\s*(.+?)\s*$`)

	startDateLabel = regexp.MustCompile(`(?i)\b(?:start|commencement|effective|invoice|issue)\s+date\b`)
	dueDateLabel   = regexp.MustCompile(`(?i)\b(?:due|end|expiry|expiration|termination)\s+date\b|\bdue\s+(?:on|by)\b`)

	invoiceNumberLabel = regexp.MustCompile(`(?i)\binvoice\s*(?:no\b\.?|number|#)\s*[:#]?\s*([A-Z0-9][A-Z0-9\-/]*)`)
	invoiceIDLabel     = regexp.MustCompile(`(?i)\binvoice\s*id\s*[:#]?\s*([A-Z0-9][A-Z0-9\-/]*)`)

	amountValue = `\s*[:=\-]?\s*((?:(?-i:[A-Z]{3})\s?|Rs\.?\s?|[$€£¥₹]\s?)?\d[\d,]*(?:\.\d+)?)(\s*(?:%|percent))?`
)

// amountLabels are tried in order; the first with a usable value wins.
var amountLabels = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:amount\s+due|balance\s+due|total\s+(?:amount\s+)?(?:payable|due))\b` + amountValue),
	regexp.MustCompile(`(?i)\bgrand\s+total\b` + amountValue),
	regexp.MustCompile(`(?i)\btotal(?:\s+amount)?\b` + amountValue),
	regexp.MustCompile(`(?i)\brent\b(?:\s+amount)?` + amountValue),
	regexp.MustCompile(`(?i)\b(?:fees?|consideration|contract\s+value|price)\b` + amountValue),
	regexp.MustCompile(`(?i)\bamount\b` + amountValue),
}

// Rules extracts canonical fields from labelled patterns without a model.
// Every value still goes through the same normalization and text checks as
// model output.
type Rules struct {
	docType models.DocumentType
}

// NewRules creates a rule-based extractor for a document type.
func NewRules(docType models.DocumentType) *Rules {
	return &Rules{docType: docType}
}

// Type returns the document type this extractor handles.
func (r *Rules) Type() models.DocumentType {
	return r.docType
}

// Extract fills what the patterns can find.
func (r *Rules) Extract(ctx context.Context, doc *models.ParsedDocument, _ models.Classification) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text := doc.Text
	a := newAssembler(doc)

	p1, p2 := findParties(text)
	a.add(field{name: models.FieldParty1, kind: kindText}, p1)
	a.add(field{name: models.FieldParty2, kind: kindText}, p2)
	a.add(field{name: models.FieldStartDate, kind: kindDate}, dateAfter(text, startDateLabel))

	if r.docType != models.TypeNDA {
		a.add(field{name: models.FieldDueDate, kind: kindDate}, dateAfter(text, dueDateLabel))
		a.add(field{name: models.FieldAmount, kind: kindAmount}, findAmount(text))
		if r.docType != models.TypeInvoice {
			a.add(field{name: models.FieldFrequency, kind: kindFrequency}, findFrequencyPhrase(text))
		}
	}
	if r.docType == models.TypeInvoice {
		if m := invoiceIDLabel.FindStringSubmatch(text); m != nil {
			a.add(field{name: models.FieldInvoiceID, kind: kindText}, m[1])
		}
		if m := invoiceNumberLabel.FindStringSubmatch(text); m != nil {
			a.add(field{name: models.FieldInvoiceNumber, kind: kindText}, m[1])
		}
	}
	return a.finish(), nil
}

func findParties(text string) (string, string) {
	if m := betweenParties.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	}
	var p1, p2 string
	if m := firstPartyLine.FindStringSubmatch(text); m != nil {
		p1 = m[1]
	}
	if m := secondPartyLine.FindStringSubmatch(text); m != nil {
		p2 = m[1]
	}
	return p1, p2
}

// dateAfter returns the first date written shortly after a label.
func dateAfter(text string, label *regexp.Regexp) string {
	const reach = 40
	for _, loc := range label.FindAllStringIndex(text, -1) {
		end := runeFloor(text, min(len(text), loc[1]+reach))
		if d := dateToken.FindString(text[loc[1]:end]); d != "" {
			return d
		}
	}
	return ""
}

func findAmount(text string) string {
	for _, label := range amountLabels {
		for _, m := range label.FindAllStringSubmatch(text, -1) {
			if m[2] == "" {
				return m[1]
			}
		}
	}
	return ""
}

// findFrequencyPhrase returns the earliest frequency phrase in text.
func findFrequencyPhrase(text string) string {
	best, bestAt := "", len(text)+1
	for _, term := range frequencyTerms {
		if loc := term.pattern.FindStringIndex(text); loc != nil && loc[0] < bestAt {
			best, bestAt = text[loc[0]:loc[1]], loc[0]
		}
	}
	return best
}
