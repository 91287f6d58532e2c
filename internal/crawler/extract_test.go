// File: internal/crawler/extract_test.go
package crawler

import (
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRating(t *testing.T) {
	tests := []struct {
		input string
		want  float64
		ok    bool
	}{
		{"8점", 4, true},
		{"10점", 5, true},
		{"★★★★☆", 4, true},
		{"★★★★★", 5, true},
		{"별점 없음", 0, false},
		{"", 0, false},
		{"3", 3, true},
		{"4.5", 4.5, true},
		{"평점 7", 3.5, true},
		{"9999", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := NormalizeRating(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 0.001)
			}
		})
	}
}

func TestExtractNumber(t *testing.T) {
	tests := []struct {
		input string
		want  float64
		ok    bool
	}{
		{"1,234,000원", 1234000, true},
		{"₩15,900", 15900, true},
		{"12.5%", 12.5, true},
		{"무료", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		got, ok := ExtractNumber(tt.input)
		assert.Equal(t, tt.ok, ok, tt.input)
		if tt.ok {
			assert.InDelta(t, tt.want, got, 0.001, tt.input)
		}
	}
}

func TestParseKoreanDate(t *testing.T) {
	tests := []struct {
		input string
		want  time.Time
	}{
		{"2024.03.15", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"2024년 3월 15일", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"2024-3-5", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"2023/12/01 작성", time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)},
		{"2024-01-15", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseKoreanDate(tt.input))
		})
	}
}

func TestParseKoreanDateUnparsedIsZero(t *testing.T) {
	assert.True(t, ParseKoreanDate("어제").IsZero())
	assert.True(t, ParseKoreanDate("").IsZero())
	// An out-of-range month falls through the localized pattern and the
	// generic layouts.
	assert.True(t, ParseKoreanDate("2024.13.40").IsZero())
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "a b c", CleanText("  a\n\tb   c  "))
	assert.Equal(t, "", CleanText(" \n "))
}

func TestFirstMatchingOrder(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<div><p class="second">B</p><p class="first">A</p></div>`))
	require.NoError(t, err)

	found := firstMatching(doc.Selection, []string{".missing", ".first", ".second"})
	require.NotNil(t, found)
	assert.Equal(t, "A", found.First().Text())

	assert.Nil(t, firstMatching(doc.Selection, []string{".nope"}))
}

func TestLongestContentSpanSkipsChromeAndDates(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`
		<div class="review">
			<span>신고</span>
			<span>24.03.15.</span>
			<span>배송이 빨랐고 품질이 기대 이상이었어요. 재구매 의사 있습니다.</span>
			<span>도움이 되었나요</span>
		</div>`))
	require.NoError(t, err)

	got := longestContentSpan(doc.Find(".review"))
	assert.Contains(t, got, "배송이 빨랐고")
	assert.NotContains(t, got, "신고")
}
