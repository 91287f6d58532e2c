// File: internal/crawler/engine.go

// Package crawler implements the paginated extraction engine: a bounded,
// cooperatively cancellable crawl loop with retrying fetches, ordered-selector
// extraction, and user-supplied result filters.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/digduck/collector/internal/config"
)

// Engine is the crawl-execution contract, implemented once per target site.
type Engine interface {
	// Crawl runs the pagination loop. It rejects re-entrant invocation on
	// an already-running instance and always clears the running flag on
	// exit. Uncaught errors are forwarded to cb.OnError before returning.
	Crawl(ctx context.Context, url string, opts Options, cb Callbacks) ([]Item, error)
	// Stop requests cooperative cancellation, observed between page
	// iterations.
	Stop()
	Running() bool
	Site() string
}

// ErrAlreadyRunning is returned by a re-entrant Crawl call.
var ErrAlreadyRunning = errors.New("crawler: engine is already running")

// Options are the per-crawl bounds, merged over engine defaults.
type Options struct {
	MaxPages     int
	MaxItems     int
	RequestDelay time.Duration
	Timeout      time.Duration
	Retries      int
	Filters      Filters
}

// Merge fills zero fields from defaults and clamps MaxPages to the hard cap.
func (o Options) Merge(defaults config.CrawlerConfig) Options {
	if o.MaxPages <= 0 {
		o.MaxPages = defaults.MaxPages
	}
	if o.MaxPages > config.MaxPagesHardCap {
		o.MaxPages = config.MaxPagesHardCap
	}
	if o.MaxItems <= 0 {
		o.MaxItems = defaults.MaxItems
	}
	if o.RequestDelay <= 0 {
		o.RequestDelay = defaults.RequestDelay
	}
	if o.Timeout <= 0 {
		o.Timeout = defaults.Timeout
	}
	if o.Retries <= 0 {
		o.Retries = defaults.Retries
	}
	return o
}

// Item is one extracted record, immutable once emitted.
type Item struct {
	ID       string            `json:"id"`
	Title    string            `json:"title,omitempty"`
	Content  string            `json:"content,omitempty"`
	Author   string            `json:"author,omitempty"`
	Rating   *float64          `json:"rating,omitempty"`
	Price    *float64          `json:"price,omitempty"`
	Date     time.Time         `json:"date,omitempty"`
	Verified bool              `json:"verified,omitempty"`
	Images   []string          `json:"images,omitempty"`
	Page     int               `json:"page"`
	Ordinal  int               `json:"ordinal"`
	URL      string            `json:"url,omitempty"`
	Payload  map[string]string `json:"payload,omitempty"`
}

// Progress is emitted after every yielded page.
type Progress struct {
	CurrentPage  int
	TotalPages   int
	ItemsFound   int
	ItemsCrawled int
	Message      string
}

// Callbacks receive crawl events. All fields are optional and all are invoked
// synchronously within the crawl's own goroutine.
type Callbacks struct {
	OnProgress func(Progress)
	OnItem     func(Item)
	OnError    func(error)
}

func (cb Callbacks) progress(p Progress) {
	if cb.OnProgress != nil {
		cb.OnProgress(p)
	}
}

func (cb Callbacks) item(it Item) {
	if cb.OnItem != nil {
		cb.OnItem(it)
	}
}

func (cb Callbacks) error(err error) {
	if cb.OnError != nil {
		cb.OnError(err)
	}
}

// Base carries the shared machinery of every site adapter: the re-entrancy
// guard, the cooperative stop flag, the retrying HTTP client, and pacing.
type Base struct {
	defaults config.CrawlerConfig
	client   *resty.Client
	limiter  *rate.Limiter
	logger   *zap.Logger
	metrics  *Metrics

	running atomic.Bool
	stopped atomic.Bool

	mu  sync.Mutex
	rng *rand.Rand

	// retryBaseDelay is the unit of the exponential backoff schedule.
	// Tests shrink it.
	retryBaseDelay time.Duration
}

// NewBase builds the shared engine core. A nil metrics bundle disables
// instrumentation.
func NewBase(cfg config.CrawlerConfig, logger *zap.Logger, metrics *Metrics) *Base {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36").
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8").
		SetHeader("Accept-Language", "ko-KR,ko;q=0.9,en-US;q=0.8")

	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = 2.0
	}

	return &Base{
		defaults:       cfg,
		client:         client,
		limiter:        rate.NewLimiter(rate.Limit(perSecond), 1),
		logger:         logger,
		metrics:        metrics,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
		retryBaseDelay: time.Second,
	}
}

// Client exposes the underlying resty client so tests can attach transports.
func (b *Base) Client() *resty.Client { return b.client }

// begin flips the running flag, rejecting re-entrant crawls. The stop flag is
// deliberately left alone: engines are one-shot per job, and a Stop requested
// before the crawl starts must still cancel it.
func (b *Base) begin() error {
	if !b.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	return nil
}

// finish clears the running flag. Deferred by every Crawl.
func (b *Base) finish() { b.running.Store(false) }

// Stop sets the cooperative cancellation flag.
func (b *Base) Stop() { b.stopped.Store(true) }

// Running reports whether a crawl is in flight.
func (b *Base) Running() bool { return b.running.Load() }

// Stopped reports whether cancellation has been requested.
func (b *Base) Stopped() bool { return b.stopped.Load() }

// FetchWithRetry GETs url with bounded exponential backoff: 2^attempt units
// per retry, honoring Retry-After on 429 responses when it is shorter than
// the schedule would be.
func (b *Base) FetchWithRetry(ctx context.Context, url string, retries int) (string, error) {
	var lastErr error

	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			backoff := b.retryBaseDelay * (1 << uint(attempt))
			if d, ok := retryAfter(lastErr); ok && d < backoff {
				backoff = d
			}
			b.metrics.IncRetries()
			b.logger.Debug("Retrying fetch",
				zap.String("url", url), zap.Int("attempt", attempt), zap.Duration("backoff", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		if err := b.limiter.Wait(ctx); err != nil {
			return "", err
		}

		resp, err := b.client.R().SetContext(ctx).Get(url)
		if err != nil {
			lastErr = fmt.Errorf("crawler: fetch %s: %w", url, err)
			continue
		}
		if resp.StatusCode() == http.StatusOK {
			b.metrics.IncPageFetched("ok")
			return resp.String(), nil
		}

		lastErr = &httpStatusError{
			status:     resp.StatusCode(),
			url:        url,
			retryAfter: resp.Header().Get("Retry-After"),
		}
		// Client errors other than 429 will not improve with retries.
		if resp.StatusCode() != http.StatusTooManyRequests && resp.StatusCode() < 500 {
			b.metrics.IncPageFetched("client_error")
			return "", lastErr
		}
	}

	b.metrics.IncPageFetched("failed")
	return "", fmt.Errorf("crawler: exhausted %d attempts: %w", retries, lastErr)
}

// httpStatusError carries a non-200 response through the retry loop.
type httpStatusError struct {
	status     int
	url        string
	retryAfter string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("crawler: unexpected status %d fetching %s", e.status, e.url)
}

// retryAfter extracts a server-requested delay from a 429, if any.
func retryAfter(err error) (time.Duration, bool) {
	var se *httpStatusError
	if !errors.As(err, &se) || se.status != http.StatusTooManyRequests || se.retryAfter == "" {
		return 0, false
	}
	secs, perr := strconv.Atoi(se.retryAfter)
	if perr != nil || secs <= 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// PageDelay sleeps the randomized per-page delay: base plus or minus 30%.
func (b *Base) PageDelay(ctx context.Context, base time.Duration) error {
	b.mu.Lock()
	jitter := time.Duration(float64(base) * 0.3 * (b.rng.Float64()*2 - 1))
	b.mu.Unlock()

	select {
	case <-time.After(base + jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
