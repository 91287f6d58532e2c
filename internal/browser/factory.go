// File: internal/browser/factory.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/digduck/collector/internal/config"
)

// ErrPageCapExceeded is returned when page creation would exceed the
// per-session cap. Creation fails fast; it never queues.
var ErrPageCapExceeded = errors.New("browser: maximum concurrent pages limit reached")

// Page is one stealth tab owned by a session. Closing it always decrements
// the session's page counter exactly once.
type Page struct {
	ctx       context.Context
	cancel    context.CancelFunc
	factory   *PageFactory
	closeOnce sync.Once
}

// PageFactory builds stealth pages from a Manager's session and performs
// human-paced navigation.
type PageFactory struct {
	manager *Manager
	persona Persona
	cfg     config.BrowserConfig
	logger  *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPageFactory wires a factory to an initialized session manager.
func NewPageFactory(manager *Manager, persona Persona, cfg config.BrowserConfig, logger *zap.Logger) *PageFactory {
	return &PageFactory{
		manager: manager,
		persona: persona,
		cfg:     cfg,
		logger:  logger.Named("pagefactory"),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// CreatePage opens a new tab with the stealth persona applied. It rejects
// creation when the active-page count is already at the cap. The slot is
// reserved up front and released again if setup fails, so concurrent calls
// can never overshoot the cap.
func (f *PageFactory) CreatePage(ctx context.Context) (*Page, error) {
	if err := f.manager.reservePage(f.cfg.PageCap); err != nil {
		return nil, err
	}

	browserCtx, err := f.manager.Context()
	if err != nil {
		f.manager.TrackPageClosed()
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	p := &Page{ctx: tabCtx, cancel: tabCancel, factory: f}

	vp := f.manager.Viewport()
	setup := chromedp.Tasks{
		applyStealth(f.persona, f.logger),
		emulation.SetDeviceMetricsOverride(int64(vp.Width), int64(vp.Height), 1.0, false),
	}
	if err := p.Run(ctx, setup); err != nil {
		tabCancel()
		f.manager.TrackPageClosed()
		return nil, fmt.Errorf("browser: failed to prepare stealth page: %w", err)
	}

	f.logger.Debug("Stealth page created", zap.Int("activePages", f.manager.ActivePages()))
	return p, nil
}

// Context exposes the tab's chromedp context for callers that need to run
// their own actions.
func (p *Page) Context() context.Context { return p.ctx }

// Run executes actions on the page bounded by the configured operation
// timeout and the caller's context.
func (p *Page) Run(ctx context.Context, actions ...chromedp.Action) error {
	return p.RunWithTimeout(ctx, p.factory.cfg.OperationTimeout, actions...)
}

// RunWithTimeout executes actions with an explicit deadline.
func (p *Page) RunWithTimeout(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- chromedp.Run(runCtx, actions...) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

// Close tears the tab down and releases its slot in the session counter.
func (p *Page) Close() {
	p.closeOnce.Do(func() {
		p.cancel()
		p.factory.manager.TrackPageClosed()
		p.factory.logger.Debug("Page closed")
	})
}

// Navigate performs human-paced navigation: a pre-delay, the navigation
// itself bounded by the navigation timeout, a post-delay, then a small
// pointer drift that mimics a user settling in to read.
func (f *PageFactory) Navigate(ctx context.Context, p *Page, url string) error {
	if err := f.RandomDelay(ctx, f.cfg.NavPreDelayMin, f.cfg.NavPreDelayMax); err != nil {
		return err
	}

	f.logger.Debug("Navigating", zap.String("url", url))
	if err := p.RunWithTimeout(ctx, f.cfg.NavigationTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("browser: navigation to %s failed: %w", url, err)
	}

	if err := f.RandomDelay(ctx, f.cfg.NavPostDelayMin, f.cfg.NavPostDelayMax); err != nil {
		return err
	}
	return f.pointerDrift(ctx, p)
}

// pointerDrift dispatches a couple of idle mouse movements after a page
// settles. Failures are cosmetic and never propagate.
func (f *PageFactory) pointerDrift(ctx context.Context, p *Page) error {
	vp := f.manager.Viewport()
	for i := 0; i < 2; i++ {
		f.mu.Lock()
		x := float64(f.rng.Intn(vp.Width/2) + vp.Width/4)
		y := float64(f.rng.Intn(vp.Height/2) + vp.Height/4)
		f.mu.Unlock()

		move := input.DispatchMouseEvent(input.MouseMoved, x, y)
		if err := p.Run(ctx, move); err != nil {
			f.logger.Debug("Pointer drift failed", zap.Error(err))
			return nil
		}
		if err := f.RandomDelay(ctx, 150*time.Millisecond, 450*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

// RandomDelay waits a uniform random duration in [min, max). It is the shared
// pacing primitive of the automation core and is always awaited.
func (f *PageFactory) RandomDelay(ctx context.Context, min, max time.Duration) error {
	f.mu.Lock()
	d := min
	if max > min {
		d += time.Duration(f.rng.Int63n(int64(max - min)))
	}
	f.mu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
