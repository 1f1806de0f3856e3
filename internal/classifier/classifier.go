// Package classifier assigns a document type to extracted text.
package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mfenderov/doclens/internal/llm"
	"github.com/mfenderov/doclens/internal/retry"
	"github.com/mfenderov/doclens/pkg/models"
)

// SampleChars is how much of the document the model sees.
const SampleChars = 3000

// Generator completes prompts.
type Generator interface {
	Complete(ctx context.Context, prompt string, cons llm.Constraints) (string, error)
}

const systemPrompt = "You are a document classification expert. Classify documents as LEASE, NDA, CONTRACT or INVOICE based on their content."

const promptTemplate = `Analyze the following document and classify it as one of these types:
1. LEASE - A lease agreement for property, equipment, or assets
2. NDA - A Non-Disclosure Agreement (also known as Confidentiality Agreement)
3. CONTRACT - A general contract or agreement (service agreement, employment contract, etc.)
4. INVOICE - An invoice, bill or tax invoice requesting payment
5. UNKNOWN - None of the above

DOCUMENT TEXT (sample):
%s

Return ONLY a JSON object:
{"document_type": "LEASE" | "NDA" | "CONTRACT" | "INVOICE" | "UNKNOWN", "confidence": "HIGH" | "MEDIUM" | "LOW", "reasoning": "brief explanation"}

Use HIGH confidence if the type is very clear, MEDIUM if somewhat clear, LOW if uncertain.`

var responseSchema = llm.MustCompileSchema("classification.json", map[string]any{
	"type":     "object",
	"required": []any{"document_type"},
	"properties": map[string]any{
		"document_type": map[string]any{"type": "string"},
		"confidence":    map[string]any{"type": "string"},
		"reasoning":     map[string]any{"type": "string"},
	},
})

// Classifier asks a text-generation model for the document type.
type Classifier struct {
	gen    Generator
	policy retry.Policy
}

// New creates a classifier. Failed calls are retried under policy.
func New(gen Generator, policy retry.Policy) *Classifier {
	if policy.Retryable == nil {
		policy.Retryable = llm.Retryable
	}
	return &Classifier{gen: gen, policy: policy}
}

// Classify returns the type of the text. Service failures and unusable
// responses degrade to UNKNOWN/LOW; the only error returned is the
// context's own.
func (c *Classifier) Classify(ctx context.Context, text string) (models.Classification, error) {
	if strings.TrimSpace(text) == "" {
		return models.Unclassified("document has no text"), nil
	}

	prompt := fmt.Sprintf(promptTemplate, Sample(text, SampleChars))
	raw, err := retry.Do(ctx, c.policy, "classify", func(ctx context.Context) (string, error) {
		return c.gen.Complete(ctx, prompt, llm.Constraints{
			System:      systemPrompt,
			Temperature: 0.1,
			JSON:        true,
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return models.Classification{}, ctx.Err()
		}
		slog.Warn("classification degraded", "error", err)
		result := models.Unclassified("classification service unavailable")
		result.Degraded = true
		return result, nil
	}

	return parseResponse(raw), nil
}

// parseResponse maps a model response onto the closed label set. Anything
// unusable becomes UNKNOWN/LOW.
func parseResponse(raw string) models.Classification {
	obj, err := responseSchema.Decode(raw)
	if err != nil {
		slog.Debug("unparseable classification response", "error", err)
		return models.Unclassified("unparseable classification response")
	}

	label, _ := obj["document_type"].(string)
	docType, ok := models.ParseDocumentType(label)
	if !ok {
		return models.Unclassified(fmt.Sprintf("unrecognized document type %q", label))
	}

	confidence, _ := obj["confidence"].(string)
	reasoning, _ := obj["reasoning"].(string)
	result := models.Classification{
		Type:       docType,
		Confidence: models.ParseConfidence(confidence),
		Reasoning:  strings.TrimSpace(reasoning),
	}
	if docType == models.TypeUnknown {
		result.Confidence = models.ConfidenceLow
	}
	return result
}

// Sample returns at most n characters from the start of text.
func Sample(text string, n int) string {
	count := 0
	for i := range text {
		if count == n {
			return text[:i]
		}
		count++
	}
	return text
}
