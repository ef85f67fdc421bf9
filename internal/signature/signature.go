// Package signature derives grouping keys that collapse re-publications of the
// same exchange event (result filings, board meetings, contract wins) into one
// notification.
package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var financialTerms = []string{
	"quarter ended", "half year ended", "year ended", "quarterly", "annual",
	"financial results", "unaudited", "audited", "standalone", "consolidated",
}

var contractTerms = []string{"order", "contract", "bagged", "secured", "won", "received"}

var (
	monthNameDateRe = regexp.MustCompile(`(\d{1,2})(?:st|nd|rd|th)?\s+(january|february|march|april|may|june|july|august|september|october|november|december)\s+(\d{4})`)
	dmyDateRe       = regexp.MustCompile(`(\d{1,2})[-/.](\d{1,2})[-/.](\d{4})`)
	ymdDateRe       = regexp.MustCompile(`(\d{4})[-/.](\d{1,2})[-/.](\d{1,2})`)

	contractValueRes = []*regexp.Regexp{
		regexp.MustCompile(`rs\.?\s*\d+(?:,\d{3})*(?:\.\d+)?\s*(?:crore|lakh|million|billion)`),
		regexp.MustCompile(`worth\s+rs\.?\s*\d+(?:,\d{3})*(?:\.\d+)?`),
		regexp.MustCompile(`\d+(?:,\d{3})*(?:\.\d+)?\s*(?:crore|lakh|million|billion)`),
	}

	nonAlnumRe = regexp.MustCompile(`[^a-z0-9]`)
)

var monthNumbers = map[string]int{
	"january": 1, "february": 2, "march": 3, "april": 4, "may": 5, "june": 6,
	"july": 7, "august": 8, "september": 9, "october": 10, "november": 11, "december": 12,
}

// Signature returns the grouping key for a headline/scrip pair. It is a pure
// function: same inputs always produce the same key. Families are checked in
// order financial -> board meeting -> contract -> default; first match wins.
func Signature(headline, scripCode string) string {
	h := strings.ToLower(strings.TrimSpace(headline))
	if h == "" {
		return "empty_" + scripCode
	}

	if containsAny(h, financialTerms) {
		dates := extractDates(h)
		if len(dates) == 0 {
			return fmt.Sprintf("financial_%s_unknown_period", scripCode)
		}
		uniq := dedupeSorted(dates)
		return fmt.Sprintf("financial_%s_%s", scripCode, strings.Join(uniq, "_"))
	}

	if strings.Contains(h, "board meeting") {
		dates := extractDates(h)
		if len(dates) == 0 {
			return fmt.Sprintf("board_meeting_%s_unknown_date", scripCode)
		}
		return fmt.Sprintf("board_meeting_%s_%s", scripCode, dates[0])
	}

	if containsAny(h, contractTerms) {
		value := extractContractValue(h)
		return fmt.Sprintf("contract_%s_%s", scripCode, value)
	}

	sum := sha256.Sum256([]byte(headline))
	return fmt.Sprintf("other_%s_%s", scripCode, hex.EncodeToString(sum[:])[:8])
}

// extractDates finds textual dates in lowercased text and canonicalizes each
// to DD-MM-YYYY, so "15th March 2025", "15/03/2025" and "2025-03-15" all
// collapse to "15-03-2025". Results are in order of appearance per shape:
// month-name dates first, then day-first numerics, then year-first numerics.
func extractDates(h string) []string {
	var out []string
	seenSpans := make([][2]int, 0, 4)

	for _, m := range monthNameDateRe.FindAllStringSubmatchIndex(h, -1) {
		day, _ := strconv.Atoi(h[m[2]:m[3]])
		month := monthNumbers[h[m[4]:m[5]]]
		year, _ := strconv.Atoi(h[m[6]:m[7]])
		out = append(out, canonicalDate(day, month, year))
		seenSpans = append(seenSpans, [2]int{m[0], m[1]})
	}

	for _, m := range dmyDateRe.FindAllStringSubmatchIndex(h, -1) {
		if overlaps(seenSpans, m[0], m[1]) {
			continue
		}
		day, _ := strconv.Atoi(h[m[2]:m[3]])
		month, _ := strconv.Atoi(h[m[4]:m[5]])
		year, _ := strconv.Atoi(h[m[6]:m[7]])
		out = append(out, canonicalDate(day, month, year))
		seenSpans = append(seenSpans, [2]int{m[0], m[1]})
	}

	for _, m := range ymdDateRe.FindAllStringSubmatchIndex(h, -1) {
		if overlaps(seenSpans, m[0], m[1]) {
			continue
		}
		year, _ := strconv.Atoi(h[m[2]:m[3]])
		month, _ := strconv.Atoi(h[m[4]:m[5]])
		day, _ := strconv.Atoi(h[m[6]:m[7]])
		out = append(out, canonicalDate(day, month, year))
	}

	return out
}

func canonicalDate(day, month, year int) string {
	return fmt.Sprintf("%02d-%02d-%04d", day, month, year)
}

func overlaps(spans [][2]int, start, end int) bool {
	for _, s := range spans {
		if start < s[1] && end > s[0] {
			return true
		}
	}
	return false
}

func extractContractValue(h string) string {
	for _, re := range contractValueRes {
		if m := re.FindString(h); m != "" {
			return nonAlnumRe.ReplaceAllString(m, "_")
		}
	}
	return "unknown_value"
}

func containsAny(h string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(h, t) {
			return true
		}
	}
	return false
}

func dedupeSorted(in []string) []string {
	set := make(map[string]struct{}, len(in))
	for _, s := range in {
		set[s] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
