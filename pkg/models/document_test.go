package models

import (
	"strings"
	"testing"
)

func TestFingerprintOf_Deterministic(t *testing.T) {
	a := FingerprintOf([]byte("lease agreement"))
	b := FingerprintOf([]byte("lease agreement"))
	c := FingerprintOf([]byte("lease agreement "))

	if a != b {
		t.Errorf("same bytes gave different fingerprints: %q vs %q", a, b)
	}
	if a == c {
		t.Error("different bytes gave the same fingerprint")
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64", len(a))
	}
	if FingerprintOfText("lease agreement") != a {
		t.Error("FingerprintOfText should match FingerprintOf on the same bytes")
	}
}

func TestFingerprint_Short(t *testing.T) {
	fp := FingerprintOf([]byte("x"))
	if got := fp.Short(); len(got) != 16 || !strings.HasPrefix(string(fp), got) {
		t.Errorf("Short() = %q, want 16-char prefix of %q", got, fp)
	}
	if got := Fingerprint("abc").Short(); got != "abc" {
		t.Errorf("Short() on short value = %q, want %q", got, "abc")
	}
}

func TestParsedDocument_PageAt(t *testing.T) {
	doc := &ParsedDocument{
		Text: "page one\npage two\npage three",
		Pages: []PageBoundary{
			{Page: 1, Start: 0, End: 9},
			{Page: 2, Start: 9, End: 18},
			{Page: 3, Start: 18, End: 28},
		},
	}

	tests := []struct {
		offset int
		want   int
	}{
		{0, 1},
		{8, 1},
		{9, 2},
		{17, 2},
		{18, 3},
		{27, 3},
		{500, 3},
		{-1, 0},
	}

	for _, tt := range tests {
		if got := doc.PageAt(tt.offset); got != tt.want {
			t.Errorf("PageAt(%d) = %d, want %d", tt.offset, got, tt.want)
		}
	}

	var empty ParsedDocument
	if got := empty.PageAt(3); got != 0 {
		t.Errorf("PageAt without pages = %d, want 0", got)
	}
}

func TestParseDocumentType(t *testing.T) {
	tests := []struct {
		in     string
		want   DocumentType
		wantOK bool
	}{
		{"LEASE", TypeLease, true},
		{" nda ", TypeNDA, true},
		{"Contract", TypeContract, true},
		{"invoice", TypeInvoice, true},
		{"UNKNOWN", TypeUnknown, true},
		{"memo", TypeUnknown, false},
		{"", TypeUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDocumentType(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseDocumentType(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestParseConfidence(t *testing.T) {
	if ParseConfidence("high") != ConfidenceHigh {
		t.Error("high should parse to HIGH")
	}
	if ParseConfidence("Medium") != ConfidenceMedium {
		t.Error("Medium should parse to MEDIUM")
	}
	if ParseConfidence("certain") != ConfidenceLow {
		t.Error("unrecognized confidence should fall back to LOW")
	}
}
