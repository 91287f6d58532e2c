// File: internal/crawler/smartstore_test.go
package crawler

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/digduck/collector/internal/config"
)

const reviewPageTemplate = `<html><body class="rating review">
<ul>%s</ul>
</body></html>`

func reviewBlock(id, content, rating, author, date string) string {
	return fmt.Sprintf(`<li class="review_list_item" data-review-id="%s">
		<strong>%s</strong>
		<em>%s</em>
		<span class="review_content">%s</span>
		<span class="review-date">%s</span>
	</li>`, id, author, rating, content, date)
}

func emptyReviewPage() string {
	return fmt.Sprintf(reviewPageTemplate, "")
}

func testCrawlerConfig() config.CrawlerConfig {
	return config.CrawlerConfig{
		MaxPages:      10,
		MaxItems:      2000,
		RequestDelay:  time.Millisecond,
		Timeout:       5 * time.Second,
		Retries:       3,
		BatchSize:     100,
		RatePerSecond: 1000,
	}
}

func newTestEngine(t *testing.T) *SmartStoreEngine {
	t.Helper()
	e := NewSmartStore(testCrawlerConfig(), zap.NewNop(), nil)
	e.retryBaseDelay = time.Millisecond
	httpmock.ActivateNonDefault(e.Client().GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return e
}

func registerPage(page int, body string) {
	httpmock.RegisterResponder(http.MethodGet,
		fmt.Sprintf("https://smartstore.example.com/reviews?page=%d", page),
		httpmock.NewStringResponder(200, body))
}

const startURL = "https://smartstore.example.com/reviews"

func TestCrawlStopsOnEmptyPage(t *testing.T) {
	e := newTestEngine(t)

	registerPage(1, fmt.Sprintf(reviewPageTemplate,
		reviewBlock("r1", "만족합니다", "8점", "kim***", "2024.03.15")+
			reviewBlock("r2", "보통이에요", "★★★☆☆", "lee***", "2024.03.14")))
	registerPage(2, fmt.Sprintf(reviewPageTemplate,
		reviewBlock("r3", "아주 좋아요", "10점", "par***", "2024.03.13")))
	registerPage(3, emptyReviewPage())

	var lastProgress Progress
	items, err := e.Crawl(context.Background(), startURL, Options{}, Callbacks{
		OnProgress: func(p Progress) { lastProgress = p },
	})
	require.NoError(t, err)

	// Pages 1 and 2 yield, page 3 is attempted and empty, page 4 is never
	// fetched.
	assert.Len(t, items, 3)
	assert.Equal(t, 2, lastProgress.CurrentPage, "pagesProcessed counts yielded pages")
	assert.Equal(t, 3, lastProgress.ItemsFound)
	info := httpmock.GetCallCountInfo()
	assert.Equal(t, 1, info[fmt.Sprintf("GET %s?page=3", startURL)])
	assert.Zero(t, info[fmt.Sprintf("GET %s?page=4", startURL)])

	// Rating normalization rides along with extraction.
	require.NotNil(t, items[0].Rating)
	assert.InDelta(t, 4.0, *items[0].Rating, 0.001)
	require.NotNil(t, items[1].Rating)
	assert.InDelta(t, 3.0, *items[1].Rating, 0.001)
	require.NotNil(t, items[2].Rating)
	assert.InDelta(t, 5.0, *items[2].Rating, 0.001)
	assert.Equal(t, "r1", items[0].ID)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), items[0].Date)
}

func TestCrawlContinuesPastFailedPage(t *testing.T) {
	e := newTestEngine(t)

	registerPage(1, fmt.Sprintf(reviewPageTemplate,
		reviewBlock("r1", "좋아요", "5", "a***", "2024.01.01")))
	httpmock.RegisterResponder(http.MethodGet, startURL+"?page=2",
		httpmock.NewStringResponder(404, "not found"))
	registerPage(3, fmt.Sprintf(reviewPageTemplate,
		reviewBlock("r2", "괜찮아요", "4", "b***", "2024.01.02")))
	registerPage(4, emptyReviewPage())

	var pageErrors []error
	items, err := e.Crawl(context.Background(), startURL, Options{}, Callbacks{
		OnError: func(err error) { pageErrors = append(pageErrors, err) },
	})
	require.NoError(t, err, "a single failed page must not fail the crawl")
	assert.Len(t, items, 2)
	require.Len(t, pageErrors, 1)
	assert.Contains(t, pageErrors[0].Error(), "page 2")
}

func TestCrawlRespectsMaxItems(t *testing.T) {
	e := newTestEngine(t)

	var blocks string
	for i := 0; i < 5; i++ {
		blocks += reviewBlock(fmt.Sprintf("r%d", i), "내용", "4", "u***", "2024.01.01")
	}
	registerPage(1, fmt.Sprintf(reviewPageTemplate, blocks))

	items, err := e.Crawl(context.Background(), startURL, Options{MaxItems: 3}, Callbacks{})
	require.NoError(t, err)
	assert.Len(t, items, 3)

	info := httpmock.GetCallCountInfo()
	assert.Zero(t, info[fmt.Sprintf("GET %s?page=2", startURL)], "the item cap ends the run")
}

func TestCrawlRespectsMaxPages(t *testing.T) {
	e := newTestEngine(t)

	for page := 1; page <= 3; page++ {
		registerPage(page, fmt.Sprintf(reviewPageTemplate,
			reviewBlock(fmt.Sprintf("p%d", page), "내용", "4", "u***", "2024.01.01")))
	}

	items, err := e.Crawl(context.Background(), startURL, Options{MaxPages: 2}, Callbacks{})
	require.NoError(t, err)
	assert.Len(t, items, 2)

	info := httpmock.GetCallCountInfo()
	assert.Zero(t, info[fmt.Sprintf("GET %s?page=3", startURL)])
}

func TestCrawlDeduplicatesAcrossPages(t *testing.T) {
	e := newTestEngine(t)

	registerPage(1, fmt.Sprintf(reviewPageTemplate,
		reviewBlock("dup", "첫 페이지", "4", "u***", "2024.01.01")))
	// The site repeats the trailing review on the next page.
	registerPage(2, fmt.Sprintf(reviewPageTemplate,
		reviewBlock("dup", "첫 페이지", "4", "u***", "2024.01.01")+
			reviewBlock("new", "둘째 페이지", "5", "v***", "2024.01.02")))
	registerPage(3, emptyReviewPage())

	items, err := e.Crawl(context.Background(), startURL, Options{}, Callbacks{})
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, "dup", items[0].ID)
	assert.Equal(t, "new", items[1].ID)
}

func TestCrawlAppliesFilters(t *testing.T) {
	e := newTestEngine(t)

	registerPage(1, fmt.Sprintf(reviewPageTemplate,
		reviewBlock("r1", "배송 빨라요", "10점", "a***", "2024.01.01")+
			reviewBlock("r2", "별로예요", "2", "b***", "2024.01.02")))
	registerPage(2, emptyReviewPage())

	opts := Options{Filters: Filters{MinRating: fptr(4)}}
	var emitted []Item
	items, err := e.Crawl(context.Background(), startURL, opts, Callbacks{
		OnItem: func(it Item) { emitted = append(emitted, it) },
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "r1", items[0].ID)
	assert.Equal(t, items, emitted, "OnItem sees exactly the surviving items")
}

func TestCrawlRejectsReentrantInvocation(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.begin())
	defer e.finish()

	_, err := e.Crawl(context.Background(), startURL, Options{}, Callbacks{})
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestCrawlStopIsPageGranular(t *testing.T) {
	e := newTestEngine(t)

	for page := 1; page <= 5; page++ {
		registerPage(page, fmt.Sprintf(reviewPageTemplate,
			reviewBlock(fmt.Sprintf("s%d", page), "내용", "4", "u***", "2024.01.01")))
	}

	items, err := e.Crawl(context.Background(), startURL, Options{}, Callbacks{
		// Stop during page 1; the flag is observed before page 2.
		OnProgress: func(Progress) { e.Stop() },
	})
	require.NoError(t, err)
	assert.Len(t, items, 1, "the in-flight page completes, later pages do not start")
	assert.False(t, e.Running())

	info := httpmock.GetCallCountInfo()
	assert.Zero(t, info[fmt.Sprintf("GET %s?page=2", startURL)])
}

func TestCrawlHonorsStopRequestedBeforeStart(t *testing.T) {
	e := newTestEngine(t)

	for page := 1; page <= 3; page++ {
		registerPage(page, fmt.Sprintf(reviewPageTemplate,
			reviewBlock(fmt.Sprintf("s%d", page), "내용", "4", "u***", "2024.01.01")))
	}

	// A stop landing before the crawl begins must stick; otherwise a job
	// cancelled right after launch would crawl to completion anyway.
	e.Stop()
	items, err := e.Crawl(context.Background(), startURL, Options{}, Callbacks{})
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.False(t, e.Running())

	info := httpmock.GetCallCountInfo()
	assert.Zero(t, info[fmt.Sprintf("GET %s?page=1", startURL)], "no page may be fetched")
}

func TestCrawlClampsToHardCap(t *testing.T) {
	merged := Options{MaxPages: 500}.Merge(testCrawlerConfig())
	assert.Equal(t, config.MaxPagesHardCap, merged.MaxPages)
}

func TestCrawlForwardsSetupFailureToCallback(t *testing.T) {
	// A zero item budget makes the dedupe cache unconstructible; the error
	// must reach OnError like every other early exit.
	e := NewSmartStore(config.CrawlerConfig{MaxPages: 1, Retries: 1}, zap.NewNop(), nil)

	var reported []error
	_, err := e.Crawl(context.Background(), startURL, Options{}, Callbacks{
		OnError: func(cerr error) { reported = append(reported, cerr) },
	})
	require.Error(t, err)
	require.Len(t, reported, 1)
	assert.Equal(t, err, reported[0])
	assert.False(t, e.Running())
}

func TestFetchWithRetryRecoversFromServerErrors(t *testing.T) {
	e := newTestEngine(t)

	calls := 0
	httpmock.RegisterResponder(http.MethodGet, "https://smartstore.example.com/flaky",
		func(*http.Request) (*http.Response, error) {
			calls++
			if calls < 3 {
				return httpmock.NewStringResponse(500, "boom"), nil
			}
			return httpmock.NewStringResponse(200, "ok"), nil
		})

	body, err := e.FetchWithRetry(context.Background(), "https://smartstore.example.com/flaky", 3)
	require.NoError(t, err)
	assert.Equal(t, "ok", body)
	assert.Equal(t, 3, calls)
}

func TestFetchWithRetryDoesNotRetryClientErrors(t *testing.T) {
	e := newTestEngine(t)

	httpmock.RegisterResponder(http.MethodGet, "https://smartstore.example.com/gone",
		httpmock.NewStringResponder(404, "gone"))

	_, err := e.FetchWithRetry(context.Background(), "https://smartstore.example.com/gone", 3)
	require.Error(t, err)
	info := httpmock.GetCallCountInfo()
	assert.Equal(t, 1, info["GET https://smartstore.example.com/gone"])
}

func TestFetchWithRetryExhausts(t *testing.T) {
	e := newTestEngine(t)

	httpmock.RegisterResponder(http.MethodGet, "https://smartstore.example.com/down",
		httpmock.NewStringResponder(503, "down"))

	_, err := e.FetchWithRetry(context.Background(), "https://smartstore.example.com/down", 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exhausted 2 attempts")
}

func TestBuildPageURL(t *testing.T) {
	got, err := buildPageURL("https://shop.example.com/items?sort=new", 7)
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example.com/items?page=7&sort=new", got)

	_, err = buildPageURL("://bad", 1)
	assert.Error(t, err)
}
