package classifier

import (
	"context"
	"strings"

	"github.com/mfenderov/doclens/pkg/models"
)

var keywordSets = []struct {
	docType  models.DocumentType
	keywords []string
}{
	{models.TypeInvoice, []string{"invoice", "bill to", "tax invoice", "invoice no", "amount due", "gstin", "subtotal"}},
	{models.TypeNDA, []string{"non-disclosure", "nondisclosure", "confidentiality agreement", "confidential information", "proprietary information", "trade secret"}},
	{models.TypeLease, []string{"lease agreement", "lessor", "lessee", "rental agreement", "lease term", "monthly rent", "security deposit", "premises"}},
	{models.TypeContract, []string{"agreement", "contract", "scope of work", "services", "terms and conditions"}},
}

// Keywords classifies by counting type-specific phrases. It needs no model
// and is used when text generation is disabled.
type Keywords struct{}

// NewKeywords creates a keyword classifier.
func NewKeywords() *Keywords {
	return &Keywords{}
}

// Classify returns the type whose phrases occur most often.
func (k *Keywords) Classify(ctx context.Context, text string) (models.Classification, error) {
	if err := ctx.Err(); err != nil {
		return models.Classification{}, err
	}
	if strings.TrimSpace(text) == "" {
		return models.Unclassified("document has no text"), nil
	}

	lower := strings.ToLower(text)
	best, bestScore := models.TypeUnknown, 0
	for _, set := range keywordSets {
		score := 0
		for _, kw := range set.keywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = set.docType, score
		}
	}

	switch {
	case bestScore == 0:
		return models.Unclassified("no type-specific keywords found"), nil
	case bestScore >= 3:
		return models.Classification{Type: best, Confidence: models.ConfidenceHigh, Reasoning: "matched type-specific keywords"}, nil
	default:
		return models.Classification{Type: best, Confidence: models.ConfidenceMedium, Reasoning: "matched type-specific keywords"}, nil
	}
}
