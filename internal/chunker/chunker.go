// Package chunker splits document text into overlapping windows for retrieval.
package chunker

import (
	"fmt"
	"unicode/utf8"

	"github.com/mfenderov/doclens/pkg/models"
)

// Config controls window sizes, in bytes.
type Config struct {
	Size     int // target window length
	Overlap  int // bytes shared by consecutive windows
	Lookback int // how far back from Size a window may end to land on a boundary
}

// DefaultConfig returns 1000-byte windows with 200 bytes of overlap.
func DefaultConfig() Config {
	return Config{Size: 1000, Overlap: 200, Lookback: 200}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.Size <= 0 {
		return d
	}
	if c.Overlap < 0 || c.Overlap >= c.Size {
		c.Overlap = min(d.Overlap, c.Size/2)
	}
	if c.Lookback < 0 || c.Lookback >= c.Size {
		c.Lookback = min(d.Lookback, c.Size/2)
	}
	return c
}

// Split cuts the document text into windows. Each chunk's Text is exactly
// doc.Text[Start:End] and carries the page its start falls on.
func Split(doc *models.ParsedDocument, cfg Config) []models.Chunk {
	if doc == nil || doc.Text == "" {
		return nil
	}
	cfg = cfg.normalized()
	text := doc.Text

	var chunks []models.Chunk
	start := 0
	for start < len(text) {
		end := start + cfg.Size
		if end >= len(text) {
			end = len(text)
		} else {
			end = boundary(text, start, end, cfg.Lookback)
		}

		if span := text[start:end]; !isBlank(span) {
			chunks = append(chunks, models.Chunk{
				ID:    fmt.Sprintf("%s-%d", doc.Fingerprint.Short(), len(chunks)),
				Index: len(chunks),
				Text:  span,
				Start: start,
				End:   end,
				Page:  doc.PageAt(start),
			})
		}

		if end == len(text) {
			break
		}
		next := runeStart(text, end-cfg.Overlap)
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// boundary moves end back to just after the last sentence terminator, or
// failing that the last newline or space, within lookback bytes.
func boundary(text string, start, end, lookback int) int {
	floor := max(start+1, end-lookback)
	for i := end - 1; i >= floor; i-- {
		if isTerminator(text[i-1]) && isSpace(text[i]) {
			return i
		}
	}
	for i := end - 1; i >= floor; i-- {
		if text[i] == '\n' {
			return i + 1
		}
	}
	for i := end - 1; i >= floor; i-- {
		if text[i] == ' ' {
			return i + 1
		}
	}
	if r := runeStart(text, end); r > start {
		return r
	}
	_, size := utf8.DecodeRuneInString(text[start:])
	return start + size
}

// runeStart moves i back to the start of the UTF-8 sequence containing it.
func runeStart(text string, i int) int {
	if i <= 0 {
		return 0
	}
	if i >= len(text) {
		return len(text)
	}
	for i > 0 && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}

func isTerminator(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}

func isBlank(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isSpace(s[i]) {
			return false
		}
	}
	return true
}
