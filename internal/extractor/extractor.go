// Package extractor pulls structured fields out of classified documents.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mfenderov/doclens/internal/llm"
	"github.com/mfenderov/doclens/internal/retry"
	"github.com/mfenderov/doclens/pkg/models"
)

// PromptChars is how much of the document the model sees.
const PromptChars = 12000

// ErrExternalService is returned when the generation service fails after
// all retries.
var ErrExternalService = errors.New("generation service unavailable")

// Extractor extracts the fields of one document type.
type Extractor interface {
	Type() models.DocumentType
	Extract(ctx context.Context, doc *models.ParsedDocument, class models.Classification) (*Result, error)
}

// Result holds extracted fields and the fields that failed to extract.
type Result struct {
	Fields models.Fields
	Errors []models.FieldError
}

// Generator completes prompts.
type Generator interface {
	Complete(ctx context.Context, prompt string, cons llm.Constraints) (string, error)
}

const systemPrompt = "You are a precise document analyst. Extract only information that is explicitly written in the document. Never guess or invent values."

const promptTemplate = `Extract the following fields from this %s.

FIELDS:
%s
RULES:
- Copy names, identifiers and clauses exactly as written in the document.
- Use null for any field that is not explicitly present. Do not infer or calculate values.
- Dates as written in the document; amounts with their currency symbol or code if shown.
- Percentages are not amounts.

DOCUMENT TEXT:
%s

Return ONLY a JSON object with the field names above as keys.`

var responseSchema = llm.MustCompileSchema("extraction.json", map[string]any{
	"type": "object",
})

// schemaExtractor extracts a fixed set of fields with a text-generation model.
type schemaExtractor struct {
	docType models.DocumentType
	subject string
	fields  []field
	gen     Generator
	policy  retry.Policy
}

func newSchemaExtractor(docType models.DocumentType, subject string, fields []field, gen Generator, policy retry.Policy) schemaExtractor {
	if policy.Retryable == nil {
		policy.Retryable = llm.Retryable
	}
	return schemaExtractor{docType: docType, subject: subject, fields: fields, gen: gen, policy: policy}
}

// Type returns the document type this extractor handles.
func (e schemaExtractor) Type() models.DocumentType {
	return e.docType
}

// Extract asks the model for every field and keeps only values that can be
// found in the document text.
func (e schemaExtractor) Extract(ctx context.Context, doc *models.ParsedDocument, _ models.Classification) (*Result, error) {
	if strings.TrimSpace(doc.Text) == "" {
		return &Result{Fields: models.Fields{}}, nil
	}

	prompt := e.prompt(doc.Text)
	raw, err := retry.Do(ctx, e.policy, "extract "+strings.ToLower(string(e.docType)), func(ctx context.Context) (string, error) {
		return e.gen.Complete(ctx, prompt, llm.Constraints{
			System:      systemPrompt,
			Temperature: 0.1,
			JSON:        true,
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrExternalService, err)
	}

	obj, err := responseSchema.Decode(raw)
	if err != nil {
		slog.Warn("unparseable extraction response",
			"type", e.docType,
			"fingerprint", doc.Fingerprint.Short(),
			"error", err)
		return &Result{
			Fields: models.Fields{},
			Errors: []models.FieldError{{Field: "*", Reason: "unparseable model response"}},
		}, nil
	}

	a := newAssembler(doc)
	for _, f := range e.fields {
		a.add(f, obj[f.name])
	}
	result := a.finish()
	slog.Debug("fields extracted",
		"type", e.docType,
		"fingerprint", doc.Fingerprint.Short(),
		"fields", len(result.Fields),
		"failed", len(result.Errors))
	return result, nil
}

func (e schemaExtractor) prompt(text string) string {
	var b strings.Builder
	for _, f := range e.fields {
		fmt.Fprintf(&b, "- %s: %s\n", f.name, f.description)
	}
	sample := text
	if len(sample) > PromptChars {
		sample = sample[:runeFloor(sample, PromptChars)]
	}
	return fmt.Sprintf(promptTemplate, e.subject, b.String(), sample)
}

// Registry maps document types to extractors.
type Registry struct {
	byType   map[models.DocumentType]Extractor
	fallback Extractor
}

// NewRegistry builds model-backed extractors for every type. With a nil
// generator, every type gets the rule-based extractor.
func NewRegistry(gen Generator, policy retry.Policy) *Registry {
	var all []Extractor
	if gen == nil {
		for _, t := range []models.DocumentType{models.TypeLease, models.TypeNDA, models.TypeContract, models.TypeInvoice} {
			all = append(all, NewRules(t))
		}
	} else {
		all = []Extractor{
			NewLease(gen, policy),
			NewNDA(gen, policy),
			NewContract(gen, policy),
			NewInvoice(gen, policy),
		}
	}
	return NewRegistryOf(all...)
}

// NewRegistryOf builds a registry from explicit extractors. UNKNOWN
// documents go to the CONTRACT extractor when one is present.
func NewRegistryOf(extractors ...Extractor) *Registry {
	r := &Registry{byType: make(map[models.DocumentType]Extractor, len(extractors))}
	for _, e := range extractors {
		r.byType[e.Type()] = e
	}
	r.fallback = r.byType[models.TypeContract]
	return r
}

// For returns the extractor for a document type.
func (r *Registry) For(t models.DocumentType) (Extractor, error) {
	if e, ok := r.byType[t]; ok {
		return e, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("no extractor for document type %s", t)
}
