package extractor

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/mfenderov/doclens/pkg/models"
)

const snippetContext = 60

var (
	dateToken = regexp.MustCompile(`(?i)\b(?:` +
		`\d{4}[-/.]\d{1,2}[-/.]\d{1,2}` +
		`|\d{1,2}[-/.]\d{1,2}[-/.]\d{4}` +
		`|\d{1,2}(?:st|nd|rd|th)?(?:\s+of)?[\s-]+(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?,?[\s-]+\d{4}` +
		`|(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}` +
		`)\b`)
	amountToken = regexp.MustCompile(`\d+(?:,\d+)*(?:\.\d+)?`)

	// amountLabel names money in the words just before a number.
	amountLabel = regexp.MustCompile(`(?i)\b(?:amount|total|sub-?total|balance|rent|fees?|price|cost|charges?|deposit|` +
		`consideration|value|payable|sum|tax|gst|cgst|sgst|igst|vat|salary|remuneration|compensation)\b`)
	// notMoneyAfter matches what follows a percentage or a duration.
	notMoneyAfter = regexp.MustCompile(`(?i)^\s*(?:%|per\s?cent\b|(?:days?|weeks?|months?|years?|hours?)\b)`)
)

const labelReach = 40

// span is a byte range of the document text.
type span struct {
	start, end int
}

// locateText finds value in text ignoring case and differences in whitespace.
func locateText(text, value string) (span, bool) {
	words := strings.Fields(value)
	if len(words) == 0 {
		return span{}, false
	}
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	re, err := regexp.Compile(`(?i)` + strings.Join(words, `\s+`))
	if err != nil {
		return span{}, false
	}
	loc := re.FindStringIndex(text)
	if loc == nil {
		return span{}, false
	}
	return span{loc[0], loc[1]}, true
}

// locateDate finds a date in text that reads as iso (YYYY-MM-DD).
func locateDate(text, iso string) (span, bool) {
	for _, loc := range dateToken.FindAllStringIndex(text, -1) {
		for _, reading := range dateReadings(text[loc[0]:loc[1]]) {
			if reading == iso {
				return span{loc[0], loc[1]}, true
			}
		}
	}
	return span{}, false
}

var (
	errAmountNotFound = errors.New("amount not found in document")
	errNotMonetary    = errors.New("number in document is not a monetary amount")
)

// locateAmount finds a monetary number in text equal to v, in any grouping.
// Numbers inside dates, percentages and durations never match, and the
// number needs a currency or an amount label next to it.
func locateAmount(text string, v float64) (span, error) {
	dates := dateToken.FindAllStringIndex(text, -1)
	err := errAmountNotFound
	for _, loc := range amountToken.FindAllStringIndex(text, -1) {
		token := strings.ReplaceAll(text[loc[0]:loc[1]], ",", "")
		if n, perr := strconv.ParseFloat(token, 64); perr != nil || n != v {
			continue
		}
		s := span{loc[0], loc[1]}
		if insideAny(s, dates) || notMoneyAfter.MatchString(text[s.end:]) {
			continue
		}
		if !monetary(text, s) {
			err = errNotMonetary
			continue
		}
		return s, nil
	}
	return span{}, err
}

func insideAny(s span, locs [][]int) bool {
	for _, loc := range locs {
		if s.start < loc[1] && loc[0] < s.end {
			return true
		}
	}
	return false
}

// monetary reports whether a currency sits next to the number or an amount
// label precedes it on the same line.
func monetary(text string, s span) bool {
	if currencyNear(text, s) != "" {
		return true
	}
	start := runeFloor(text, max(0, s.start-labelReach))
	before := text[start:s.start]
	if i := strings.LastIndexByte(before, '\n'); i >= 0 {
		before = before[i+1:]
	}
	return amountLabel.MatchString(before)
}

// currencyNear detects a currency within a few bytes around a span.
func currencyNear(text string, s span) string {
	const window = 12
	start := runeFloor(text, max(0, s.start-window))
	end := runeFloor(text, min(len(text), s.end+window))
	return DetectCurrency(text[start:end])
}

// sourceRef builds the page and snippet for a located span.
func sourceRef(doc *models.ParsedDocument, s span) *models.SourceRef {
	text := doc.Text
	start := runeFloor(text, max(0, s.start-snippetContext))
	end := runeFloor(text, min(len(text), s.end+snippetContext))
	snippet := strings.Join(strings.Fields(text[start:end]), " ")
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(text) {
		snippet += "..."
	}
	return &models.SourceRef{Page: doc.PageAt(s.start), Snippet: snippet}
}

func runeFloor(text string, i int) int {
	for i > 0 && i < len(text) && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}
