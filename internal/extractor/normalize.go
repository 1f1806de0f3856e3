package extractor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ordinalSuffix = regexp.MustCompile(`(?i)\b(\d{1,2})(st|nd|rd|th)\b`)
	ofWord        = regexp.MustCompile(`(?i)\s+of\s+`)
	spaces        = regexp.MustCompile(`\s+`)
	numberToken   = regexp.MustCompile(`\d+(?:,\d+)*(?:\.\d+)?`)
	percentOnly   = regexp.MustCompile(`(?i)^\s*\d+(?:\.\d+)?\s*(?:%|percent)\s*$`)
	numericDate   = regexp.MustCompile(`^(\d{1,2})[/.\-](\d{1,2})[/.\-](\d{4})$`)
)

// dateLayouts are tried in order; the first that parses wins.
var dateLayouts = []string{
	"2006-01-02",
	"2006-1-2",
	"2006/1/2",
	"2006.1.2",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"Jan. 2, 2006",
	"2 January 2006",
	"2 January, 2006",
	"2 Jan 2006",
	"2 Jan, 2006",
	"2-Jan-2006",
	"2-January-2006",
	"2006-01-02T15:04:05Z07:00",
}

// NormalizeDate converts a date in a common layout to YYYY-MM-DD. Numeric
// dates are read month first unless the first part cannot be a month.
func NormalizeDate(s string) (string, bool) {
	dates := dateReadings(s)
	if len(dates) == 0 {
		return "", false
	}
	return dates[0], true
}

// dateReadings returns every YYYY-MM-DD reading of s. Ambiguous numeric
// dates such as 01/02/2024 give both.
func dateReadings(s string) []string {
	s = cleanDate(s)
	if s == "" {
		return nil
	}

	if m := numericDate.FindStringSubmatch(s); m != nil {
		a, _ := strconv.Atoi(m[1])
		b, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		var out []string
		if d, ok := civilDate(year, a, b); ok {
			out = append(out, d)
		}
		if d, ok := civilDate(year, b, a); ok && a != b {
			out = append(out, d)
		}
		return out
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return []string{t.Format("2006-01-02")}
		}
	}
	return nil
}

func civilDate(year, month, day int) (string, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return "", false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		return "", false
	}
	return t.Format("2006-01-02"), true
}

func cleanDate(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ".;:")
	s = ordinalSuffix.ReplaceAllString(s, "$1")
	s = ofWord.ReplaceAllString(s, " ")
	s = spaces.ReplaceAllString(s, " ")
	return s
}

// IsPercentage reports whether a value is only a percentage, like "10%".
func IsPercentage(s string) bool {
	return percentOnly.MatchString(s)
}

// NormalizeAmount extracts the first number from a monetary value and
// returns it as a plain numeral. Decimals are kept; trailing zeros are not.
func NormalizeAmount(s string) (string, float64, error) {
	if IsPercentage(s) {
		return "", 0, fmt.Errorf("percentage is not an amount")
	}
	token := numberToken.FindString(s)
	if token == "" {
		return "", 0, fmt.Errorf("no number in %q", s)
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(token, ",", ""), 64)
	if err != nil {
		return "", 0, fmt.Errorf("parse amount %q: %w", token, err)
	}
	return FormatAmount(v), v, nil
}

// FormatAmount renders an amount without grouping or trailing zeros.
func FormatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Frequency values, canonical form.
const (
	FrequencyMonthly    = "monthly"
	FrequencyQuarterly  = "quarterly"
	FrequencySemiAnnual = "semi-annual"
	FrequencyAnnual     = "annual"
	FrequencyWeekly     = "weekly"
	FrequencyDaily      = "daily"
	FrequencyOneTime    = "one-time"
)

// frequencyTerms is ordered so that longer phrases win over their substrings.
var frequencyTerms = []struct {
	canonical string
	pattern   *regexp.Regexp
}{
	{FrequencySemiAnnual, regexp.MustCompile(`(?i)\b(semi[- ]?annual(ly)?|half[- ]?year(ly)?|bi-?annual(ly)?|every six months)\b`)},
	{FrequencyQuarterly, regexp.MustCompile(`(?i)\b(quarterly|per quarter|each quarter|every quarter|qtr)\b`)},
	{FrequencyMonthly, regexp.MustCompile(`(?i)\b(monthly|per month|each month|every month)\b`)},
	{FrequencyWeekly, regexp.MustCompile(`(?i)\b(weekly|per week|each week|every week)\b`)},
	{FrequencyDaily, regexp.MustCompile(`(?i)\b(daily|per day|each day|every day)\b`)},
	{FrequencyAnnual, regexp.MustCompile(`(?i)\b(annual(ly)?|yearly|per (year|annum)|each year|every year)\b`)},
	{FrequencyOneTime, regexp.MustCompile(`(?i)\b(one[- ]time|lump[- ]sum|single payment|once)\b`)},
}

// NormalizeFrequency maps a payment frequency phrase to its canonical form.
// The record default "1" reads as one-time.
func NormalizeFrequency(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "1" {
		return FrequencyOneTime, true
	}
	for _, term := range frequencyTerms {
		if term.pattern.MatchString(s) {
			return term.canonical, true
		}
	}
	return "", false
}

// findFrequency returns the position of a phrase in text that reads as the
// canonical frequency.
func findFrequency(text, canonical string) (int, int, bool) {
	for _, term := range frequencyTerms {
		if term.canonical != canonical {
			continue
		}
		if loc := term.pattern.FindStringIndex(text); loc != nil {
			return loc[0], loc[1], true
		}
	}
	return 0, 0, false
}

var currencyPatterns = []struct {
	code    string
	pattern *regexp.Regexp
}{
	{"INR", regexp.MustCompile(`(?i)₹|\bINR\b|\brupees?\b|\bRs\.?(\s|\d)`)},
	{"USD", regexp.MustCompile(`(?i)\bUSD\b|US\$|\$|\bdollars?\b`)},
	{"EUR", regexp.MustCompile(`(?i)€|\bEUR\b|\beuros?\b`)},
	{"GBP", regexp.MustCompile(`(?i)£|\bGBP\b|\bpounds? sterling\b`)},
	{"JPY", regexp.MustCompile(`(?i)¥|\bJPY\b|\byen\b`)},
	{"CNY", regexp.MustCompile(`(?i)\bCNY\b|\bRMB\b|\byuan\b`)},
	{"AUD", regexp.MustCompile(`\bAUD\b`)},
	{"CAD", regexp.MustCompile(`\bCAD\b`)},
	{"SGD", regexp.MustCompile(`\bSGD\b`)},
	{"AED", regexp.MustCompile(`\bAED\b`)},
	{"CHF", regexp.MustCompile(`\bCHF\b`)},
}

// DetectCurrency returns the ISO code of the first currency symbol, code or
// word found in s, or "".
func DetectCurrency(s string) string {
	best, bestAt := "", len(s)+1
	for _, c := range currencyPatterns {
		if loc := c.pattern.FindStringIndex(s); loc != nil && loc[0] < bestAt {
			best, bestAt = c.code, loc[0]
		}
	}
	return best
}
