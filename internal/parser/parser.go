// Package parser turns document bytes into text with page boundaries.
package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/mfenderov/doclens/pkg/models"
)

// ErrParse is returned when a document's content cannot be extracted.
var ErrParse = errors.New("parse error")

// OCR recognizes text on the pages of an image-based document.
type OCR interface {
	Recognize(ctx context.Context, data []byte, filename string) ([]string, error)
}

// Config holds parser configuration.
type Config struct {
	OCR           OCR // optional; scanned PDFs keep their sparse text without it
	CharsPerPage  int // page size estimate for formats without real pages
	ScanThreshold int // average characters per page below which a PDF counts as scanned
}

// DefaultConfig returns the parser defaults.
func DefaultConfig() Config {
	return Config{
		CharsPerPage:  2000,
		ScanThreshold: 100,
	}
}

// Parser extracts text from PDF, DOCX, HTML, markdown and plain text documents.
type Parser struct {
	config Config
}

// New creates a new parser.
func New(config Config) *Parser {
	defaults := DefaultConfig()
	if config.CharsPerPage <= 0 {
		config.CharsPerPage = defaults.CharsPerPage
	}
	if config.ScanThreshold <= 0 {
		config.ScanThreshold = defaults.ScanThreshold
	}
	return &Parser{config: config}
}

// Parse extracts the text of a document. forceOCR sends PDFs through OCR even
// when they carry a text layer.
func (p *Parser) Parse(ctx context.Context, data []byte, filename string, forceOCR bool) (*models.ParsedDocument, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrParse, filename)
	}

	doc := &models.ParsedDocument{
		Fingerprint: models.FingerprintOf(data),
		Filename:    filename,
	}

	format := Detect(filename, data)
	slog.Debug("parsing document", "file", filename, "format", format, "size", len(data))

	var (
		pages []string
		err   error
	)
	switch format {
	case FormatPDF:
		pages, err = p.parsePDF(ctx, doc, data, forceOCR)
	case FormatDOCX:
		var text string
		text, err = parseDOCX(data)
		pages = splitPages(text, p.config.CharsPerPage)
	case FormatHTML:
		var text string
		text, err = ConvertHTML(decodeText(data))
		pages = splitPages(text, p.config.CharsPerPage)
	default:
		pages = splitPages(decodeText(data), p.config.CharsPerPage)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParse, filename, err)
	}

	doc.Text, doc.Pages = joinPages(pages)
	if doc.Scanned && strings.TrimSpace(doc.Text) == "" {
		return nil, fmt.Errorf("%w: %s has no text layer and OCR is not configured", ErrParse, filename)
	}
	return doc, nil
}

func (p *Parser) parsePDF(ctx context.Context, doc *models.ParsedDocument, data []byte, forceOCR bool) ([]string, error) {
	pages, err := pdfPages(data)
	if err != nil && !forceOCR {
		return nil, err
	}

	doc.Scanned = err == nil && isScanned(pages, p.config.ScanThreshold)
	if !forceOCR && !doc.Scanned {
		return pages, nil
	}
	if p.config.OCR == nil {
		if forceOCR {
			slog.Warn("OCR requested but not configured, using text layer", "file", doc.Filename)
		}
		return pages, err
	}

	ocrPages, ocrErr := p.config.OCR.Recognize(ctx, data, doc.Filename)
	if ocrErr != nil {
		return nil, fmt.Errorf("ocr: %w", ocrErr)
	}
	doc.OCRUsed = true
	return ocrPages, nil
}

// isScanned reports whether the first pages carry too little text to be a
// real text layer.
func isScanned(pages []string, threshold int) bool {
	n := min(3, len(pages))
	if n == 0 {
		return true
	}
	total := 0
	for _, page := range pages[:n] {
		total += utf8.RuneCountInString(strings.TrimSpace(page))
	}
	return total/n < threshold
}

// joinPages concatenates page texts with newlines and records each page's span.
func joinPages(pages []string) (string, []models.PageBoundary) {
	var b strings.Builder
	var bounds []models.PageBoundary
	for i, page := range pages {
		if i > 0 {
			b.WriteByte('\n')
		}
		start := b.Len()
		b.WriteString(page)
		bounds = append(bounds, models.PageBoundary{Page: i + 1, Start: start, End: b.Len()})
	}
	return b.String(), bounds
}

// splitPages estimates pages for formats without real ones, breaking at line
// ends once a page exceeds size bytes.
func splitPages(text string, size int) []string {
	if text == "" {
		return nil
	}
	var pages []string
	var current strings.Builder
	for _, line := range strings.SplitAfter(text, "\n") {
		current.WriteString(line)
		if current.Len() > size {
			pages = append(pages, strings.TrimSuffix(current.String(), "\n"))
			current.Reset()
		}
	}
	if current.Len() > 0 || len(pages) == 0 {
		pages = append(pages, current.String())
	}
	return pages
}

// decodeText returns data as UTF-8, reading it as Latin-1 when it is not valid UTF-8.
func decodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "�")
	}
	return string(decoded)
}
