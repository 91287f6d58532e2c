// File: internal/crawler/smartstore.go
package crawler

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/digduck/collector/internal/config"
)

// Selector fallbacks, in priority order. The site's markup drifts across
// storefront themes, so every field carries alternatives.
var (
	reviewContainerSelectors = []string{
		".review_list_item",
		".reviewItems",
		`[data-testid="review-item"]`,
		".review-item",
	}
	productContainerSelectors = []string{
		".product_item",
		".item",
		`[data-testid="product-item"]`,
	}
	contentSelectors = []string{".review_content", ".review-text", ".content"}
	ratingSelectors  = []string{".rating", ".star-rating", ".review-rating", "em"}
	authorSelectors  = []string{".reviewer", ".review-author", ".user-name", "strong"}
	dateSelectors    = []string{".review-date", ".date", ".created-at"}
	titleSelectors   = []string{".product_title", ".name", ".title", "strong"}
	priceSelectors   = []string{".price", ".product_price", ".num"}
)

// SmartStoreEngine implements Engine for smart-store review and product
// listing pages.
type SmartStoreEngine struct {
	*Base
	logger *zap.Logger
}

// NewSmartStore builds the adapter.
func NewSmartStore(cfg config.CrawlerConfig, logger *zap.Logger, metrics *Metrics) *SmartStoreEngine {
	l := logger.Named("smartstore")
	return &SmartStoreEngine{
		Base:   NewBase(cfg, l, metrics),
		logger: l,
	}
}

// Site identifies the adapter in the orchestrator's registry.
func (e *SmartStoreEngine) Site() string { return "smartstore" }

// Crawl runs the bounded pagination loop. A page yielding zero pre-filter
// items ends the run (end of results); a page-level error is reported and the
// loop continues with the next page.
func (e *SmartStoreEngine) Crawl(ctx context.Context, startURL string, opts Options, cb Callbacks) ([]Item, error) {
	if err := e.begin(); err != nil {
		cb.error(err)
		return nil, err
	}
	defer e.finish()

	opts = opts.Merge(e.defaults)
	started := time.Now()
	defer func() { e.metrics.ObserveCrawlDuration(time.Since(started).Seconds()) }()

	// Dedupe by stable item ID across pages; sites repeat trailing items
	// when pagination runs past the end.
	seen, err := lru.New[string, struct{}](opts.MaxItems * 2)
	if err != nil {
		err = fmt.Errorf("crawler: dedupe cache: %w", err)
		cb.error(err)
		return nil, err
	}

	e.logger.Info("Starting crawl",
		zap.String("url", startURL),
		zap.Int("maxPages", opts.MaxPages),
		zap.Int("maxItems", opts.MaxItems),
	)

	var (
		results        []Item
		itemsFound     int
		pagesProcessed int
	)

	for page := 1; page <= opts.MaxPages && len(results) < opts.MaxItems; page++ {
		if e.Stopped() {
			e.logger.Info("Crawl stopped cooperatively", zap.Int("page", page))
			break
		}
		if err := ctx.Err(); err != nil {
			cb.error(err)
			return results, err
		}

		pageURL, err := buildPageURL(startURL, page)
		if err != nil {
			cb.error(err)
			return results, err
		}

		html, err := e.FetchWithRetry(ctx, pageURL, opts.Retries)
		if err != nil {
			if ctx.Err() != nil {
				cb.error(ctx.Err())
				return results, ctx.Err()
			}
			// One bad page must not void a multi-page crawl.
			e.metrics.IncError("fetch")
			e.logger.Warn("Page fetch failed, continuing", zap.Int("page", page), zap.Error(err))
			cb.error(fmt.Errorf("page %d: %w", page, err))
			continue
		}

		pageItems, err := e.parsePage(html, pageURL, page)
		if err != nil {
			e.metrics.IncError("parse")
			e.logger.Warn("Page parse failed, continuing", zap.Int("page", page), zap.Error(err))
			cb.error(fmt.Errorf("page %d: %w", page, err))
			continue
		}

		if len(pageItems) == 0 {
			e.logger.Info("Empty page, end of results", zap.Int("page", page))
			break
		}

		// A page counts as processed once it has yielded items.
		pagesProcessed++
		itemsFound += len(pageItems)
		e.metrics.AddItemsExtracted(len(pageItems))

		for _, it := range pageItems {
			if len(results) >= opts.MaxItems {
				break
			}
			if _, dup := seen.Get(it.ID); dup {
				continue
			}
			seen.Add(it.ID, struct{}{})
			if !opts.Filters.Match(it) {
				continue
			}
			results = append(results, it)
			cb.item(it)
		}

		cb.progress(Progress{
			CurrentPage:  pagesProcessed,
			TotalPages:   opts.MaxPages,
			ItemsFound:   itemsFound,
			ItemsCrawled: len(results),
			Message:      fmt.Sprintf("page %d: %d items extracted, %d kept", page, len(pageItems), len(results)),
		})

		if page < opts.MaxPages && len(results) < opts.MaxItems {
			if err := e.PageDelay(ctx, opts.RequestDelay); err != nil {
				cb.error(err)
				return results, err
			}
		}
	}

	e.logger.Info("Crawl finished",
		zap.Int("pagesProcessed", pagesProcessed),
		zap.Int("itemsFound", itemsFound),
		zap.Int("itemsKept", len(results)),
	)
	return results, nil
}

// buildPageURL sets or replaces the page query parameter on the start URL.
func buildPageURL(raw string, page int) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("crawler: invalid url %q: %w", raw, err)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// parsePage classifies the markup as a review page or a product listing and
// extracts accordingly.
func (e *SmartStoreEngine) parsePage(html, pageURL string, page int) ([]Item, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("crawler: parse html: %w", err)
	}

	if isReviewMarkup(html) {
		return e.extractReviews(doc, pageURL, page), nil
	}
	return e.extractProducts(doc, pageURL, page), nil
}

// isReviewMarkup is the content heuristic: review pages carry both review and
// rating markers.
func isReviewMarkup(html string) bool {
	lower := strings.ToLower(html)
	return strings.Contains(lower, "review") && strings.Contains(lower, "rating")
}

func (e *SmartStoreEngine) extractReviews(doc *goquery.Document, pageURL string, page int) []Item {
	containers := firstMatching(doc.Selection, reviewContainerSelectors)
	if containers == nil {
		return nil
	}

	var items []Item
	containers.Each(func(i int, sel *goquery.Selection) {
		it := Item{
			ID:      reviewID(sel, page, i),
			Page:    page,
			Ordinal: i,
			URL:     pageURL,
		}

		it.Content = firstText(sel, contentSelectors)
		if it.Content == "" {
			it.Content = longestContentSpan(sel)
		}

		ratingText := firstText(sel, ratingSelectors)
		if ratingText == "" {
			if label := firstAttr(sel, "[aria-label]", "aria-label"); label != "" {
				ratingText = label
			}
		}
		if r, ok := NormalizeRating(ratingText); ok {
			it.Rating = &r
		}

		it.Author = firstText(sel, authorSelectors)
		it.Date = ParseKoreanDate(firstText(sel, dateSelectors))
		it.Verified = firstMatching(sel, []string{".verified", ".confirmed", ".purchased"}) != nil
		it.Images = reviewImages(sel)

		items = append(items, it)
	})
	return items
}

func (e *SmartStoreEngine) extractProducts(doc *goquery.Document, pageURL string, page int) []Item {
	containers := firstMatching(doc.Selection, productContainerSelectors)
	if containers == nil {
		return nil
	}

	var items []Item
	containers.Each(func(i int, sel *goquery.Selection) {
		it := Item{
			ID:      productID(sel, page, i),
			Page:    page,
			Ordinal: i,
			URL:     pageURL,
		}

		it.Title = firstText(sel, titleSelectors)
		if p, ok := ExtractNumber(firstText(sel, priceSelectors)); ok {
			it.Price = &p
		}
		if r, ok := NormalizeRating(firstText(sel, ratingSelectors)); ok {
			it.Rating = &r
		}
		if href, ok := sel.Find("a").First().Attr("href"); ok {
			it.Payload = map[string]string{"href": href}
		}

		items = append(items, it)
	})
	return items
}

// reviewID prefers the site-native identifier and synthesizes a stable one
// from page and order otherwise.
func reviewID(sel *goquery.Selection, page, ordinal int) string {
	if id, ok := sel.Attr("data-review-id"); ok && id != "" {
		return id
	}
	if id, ok := sel.Attr("id"); ok && id != "" {
		return id
	}
	return fmt.Sprintf("review_%d_%d", page, ordinal)
}

func productID(sel *goquery.Selection, page, ordinal int) string {
	if id, ok := sel.Attr("data-product-id"); ok && id != "" {
		return id
	}
	if id, ok := sel.Attr("id"); ok && id != "" {
		return id
	}
	return fmt.Sprintf("product_%d_%d", page, ordinal)
}

// reviewImages collects attachment URLs, skipping icon and sprite assets.
func reviewImages(sel *goquery.Selection) []string {
	var images []string
	sel.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		if src == "" || strings.Contains(src, "icon") || strings.Contains(src, "sprite") {
			return
		}
		images = append(images, src)
	})
	return images
}

// firstAttr returns the named attribute of the first element matching the
// selector.
func firstAttr(sel *goquery.Selection, selector, attr string) string {
	if found := sel.Find(selector); found.Length() > 0 {
		if v, ok := found.First().Attr(attr); ok {
			return CleanText(v)
		}
	}
	return ""
}
