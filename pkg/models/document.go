package models

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// Fingerprint is the content identity of a document: the hex SHA-256 of its bytes.
// It is the cache key for parsed text, classifications and chat indexes.
type Fingerprint string

// FingerprintOf computes the fingerprint of raw document bytes.
func FingerprintOf(data []byte) Fingerprint {
	hash := sha256.Sum256(data)
	return Fingerprint(hex.EncodeToString(hash[:]))
}

// FingerprintOfText computes the fingerprint of already-extracted text.
func FingerprintOfText(text string) Fingerprint {
	return FingerprintOf([]byte(text))
}

// Short returns the first 16 hex characters, used in logs and object keys.
func (f Fingerprint) Short() string {
	if len(f) < 16 {
		return string(f)
	}
	return string(f[:16])
}

func (f Fingerprint) String() string {
	return string(f)
}

// PageBoundary maps the byte range [Start, End) of the document text to a page number.
type PageBoundary struct {
	Page  int `json:"page"`
	Start int `json:"start"`
	End   int `json:"end"`
}

// ParsedDocument is the text extracted from a document's bytes.
// It is created once per fingerprint and never mutated afterwards.
type ParsedDocument struct {
	Fingerprint Fingerprint    `json:"fingerprint"`
	Filename    string         `json:"filename"`
	Text        string         `json:"text"`
	Pages       []PageBoundary `json:"pages,omitempty"`
	Scanned     bool           `json:"scanned"`
	OCRUsed     bool           `json:"ocr_used"`
}

// PageAt returns the page number containing the byte offset, or 0 when
// the document carries no page boundaries.
func (d *ParsedDocument) PageAt(offset int) int {
	if d == nil || len(d.Pages) == 0 || offset < 0 {
		return 0
	}
	i := sort.Search(len(d.Pages), func(i int) bool {
		return d.Pages[i].End > offset
	})
	if i == len(d.Pages) {
		return d.Pages[len(d.Pages)-1].Page
	}
	return d.Pages[i].Page
}

// Chunk is a window of document text used for retrieval.
// Text is always Source[Start:End] of the parsed document.
type Chunk struct {
	ID        string    `json:"id"`
	Index     int       `json:"index"`
	Text      string    `json:"text"`
	Start     int       `json:"start"`
	End       int       `json:"end"`
	Page      int       `json:"page,omitempty"`
	Embedding []float32 `json:"embedding,omitempty"`
}
