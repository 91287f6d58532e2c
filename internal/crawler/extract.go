// File: internal/crawler/extract.go
package crawler

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	numericRe    = regexp.MustCompile(`[^\d.]`)
	ratingNumRe  = regexp.MustCompile(`(\d+(?:\.\d+)?)`)
	// koreanDateRe matches "2024.03.15", "2024-3-5", "2024년 3월 15일" and
	// the punctuation variants between them.
	koreanDateRe = regexp.MustCompile(`(\d{4})[.\-/년]\s*(\d{1,2})[.\-/월]\s*(\d{1,2})[.\-/일]?`)
)

// CleanText collapses whitespace runs and trims the result.
func CleanText(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// ExtractNumber strips everything but digits and dots before parsing. It is
// the shared policy for prices and other numeric chrome-laden fields like
// "1,234,000원".
func ExtractNumber(s string) (float64, bool) {
	cleaned := numericRe.ReplaceAllString(s, "")
	if cleaned == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// NormalizeRating maps site rating text onto a 5-point scale. Values on a
// 10-point scale are halved; star glyphs are counted literally. Text with
// neither digits nor stars yields ok=false rather than an error.
func NormalizeRating(s string) (float64, bool) {
	if stars := strings.Count(s, "★"); stars > 0 {
		return float64(stars), true
	}

	match := ratingNumRe.FindString(s)
	if match == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	if n > 5 {
		n = n / 2
	}
	if n > 5 {
		return 0, false
	}
	return n, true
}

// ParseKoreanDate accepts the localized numeric date pattern first and a set
// of generic layouts second. Unparseable input returns the zero time, never
// an error; a missing date should not void an otherwise good item.
func ParseKoreanDate(s string) time.Time {
	s = CleanText(s)
	if s == "" {
		return time.Time{}
	}

	if m := koreanDateRe.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		if month >= 1 && month <= 12 && day >= 1 && day <= 31 {
			return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		}
	}

	for _, layout := range []string{
		"2006-01-02",
		"2006.01.02",
		"2006/01/02",
		"06.01.02",
		time.RFC3339,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// firstMatching evaluates an ordered selector list against a selection and
// returns the first selector that matches a non-empty element set. This is
// the extraction-side counterpart of the login flow's affordance probing.
func firstMatching(sel *goquery.Selection, selectors []string) *goquery.Selection {
	for _, s := range selectors {
		if found := sel.Find(s); found.Length() > 0 {
			return found
		}
	}
	return nil
}

// firstText returns the cleaned text of the first selector that yields any.
func firstText(sel *goquery.Selection, selectors []string) string {
	if found := firstMatching(sel, selectors); found != nil {
		return CleanText(found.First().Text())
	}
	return ""
}

// uiChromeWords are button and label texts that must never be captured as
// review content.
var uiChromeWords = []string{"신고", "도움이 되었나요", "평점", "리뷰"}

// bareDateRe matches short date stamps like "24.03.15." that sites render
// inside the review block.
var bareDateRe = regexp.MustCompile(`^\d{2}\.\d{2}\.\d{2}\.?$`)

// longestContentSpan picks the longest text span under sel that is not UI
// chrome and not a bare date. Used when no content selector matches.
func longestContentSpan(sel *goquery.Selection) string {
	best := ""
	sel.Find("span, p, div").Each(func(_ int, s *goquery.Selection) {
		text := CleanText(s.Text())
		if len(text) <= len(best) {
			return
		}
		if bareDateRe.MatchString(text) {
			return
		}
		for _, w := range uiChromeWords {
			if strings.Contains(text, w) && len(text) < len(w)+10 {
				return
			}
		}
		best = text
	})
	return best
}
