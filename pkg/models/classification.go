package models

import "strings"

// DocumentType is the closed set of document kinds the classifier can assign.
type DocumentType string

const (
	TypeLease    DocumentType = "LEASE"
	TypeNDA      DocumentType = "NDA"
	TypeContract DocumentType = "CONTRACT"
	TypeInvoice  DocumentType = "INVOICE"
	TypeUnknown  DocumentType = "UNKNOWN"
)

// DocumentTypes lists the labels a classifier may return, UNKNOWN excluded.
var DocumentTypes = []DocumentType{TypeLease, TypeNDA, TypeContract, TypeInvoice}

// ParseDocumentType maps a label to a DocumentType, ignoring case and surrounding space.
func ParseDocumentType(s string) (DocumentType, bool) {
	switch DocumentType(strings.ToUpper(strings.TrimSpace(s))) {
	case TypeLease:
		return TypeLease, true
	case TypeNDA:
		return TypeNDA, true
	case TypeContract:
		return TypeContract, true
	case TypeInvoice:
		return TypeInvoice, true
	case TypeUnknown:
		return TypeUnknown, true
	}
	return TypeUnknown, false
}

// Confidence is the classifier's certainty tier.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// ParseConfidence maps a label to a Confidence; anything unrecognized is LOW.
func ParseConfidence(s string) Confidence {
	switch Confidence(strings.ToUpper(strings.TrimSpace(s))) {
	case ConfidenceHigh:
		return ConfidenceHigh
	case ConfidenceMedium:
		return ConfidenceMedium
	}
	return ConfidenceLow
}

// Classification is the result of classifying a document's text.
type Classification struct {
	Type       DocumentType `json:"document_type"`
	Confidence Confidence   `json:"confidence"`
	Reasoning  string       `json:"reasoning"`
	// Degraded is set when the classification service failed and the
	// result is the UNKNOWN/LOW fallback.
	Degraded bool `json:"degraded,omitempty"`
}

// Unclassified returns the UNKNOWN/LOW result with the given reasoning.
func Unclassified(reason string) Classification {
	return Classification{
		Type:       TypeUnknown,
		Confidence: ConfidenceLow,
		Reasoning:  reason,
	}
}
