// File: internal/browser/manager.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/digduck/collector/internal/config"
)

// Viewport is one of the fixed set of window sizes a session may emulate.
type Viewport struct {
	Width  int
	Height int
}

// viewports is the pool a session picks from. Kept small on purpose: rare
// window sizes are themselves a fingerprint.
var viewports = []Viewport{
	{1920, 1080},
	{1366, 768},
	{1536, 864},
	{1440, 900},
}

// SessionStatus reports the observable state of a Manager.
type SessionStatus struct {
	Active      bool
	ActivePages int
	Terminating bool
}

// Manager owns at most one browser process and its allocator. It tracks the
// number of live pages and supports idempotent termination. A Manager is not
// safe for concurrent unmanaged use; callers that need isolated sessions must
// each own their own Manager.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
	rng    *rand.Rand

	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	browserStop context.CancelFunc
	activePages int
	terminating bool
	viewport    Viewport
}

// ErrNotInitialized is returned when a browser context is requested before
// Initialize has succeeded.
var ErrNotInitialized = errors.New("browser: session not initialized")

// NewManager creates a Manager. The browser process itself is launched lazily
// by Initialize.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger.Named("browser"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Initialize launches the browser process if absent, or re-launches it if the
// previous handle is dead. Calling it on a healthy session is a no-op.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.terminating {
		return errors.New("browser: session is terminating")
	}

	if m.browserCtx != nil {
		if m.browserCtx.Err() == nil {
			return nil
		}
		// The previous process died underneath us. Never reuse a dead
		// handle; tear down and start over.
		m.logger.Warn("Browser handle is dead, reinitializing")
		m.teardownLocked()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", m.cfg.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(m.cfg.UserAgent),
	)

	m.viewport = viewports[m.rng.Intn(len(viewports))]
	m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	m.browserCtx, m.browserStop = chromedp.NewContext(m.allocCtx)

	// Spin up the process now so a broken environment fails here, not on
	// the first page interaction. A timeout derived from the browser
	// context still carries the chromedp target, so Run accepts it.
	startCtx, cancel := context.WithTimeout(m.browserCtx, m.cfg.OperationTimeout)
	defer cancel()
	if err := chromedp.Run(startCtx, chromedp.ActionFunc(func(context.Context) error { return nil })); err != nil {
		m.teardownLocked()
		return fmt.Errorf("browser: failed to launch: %w", err)
	}

	m.logger.Info("Browser session initialized",
		zap.Bool("headless", m.cfg.Headless),
		zap.Int("viewportWidth", m.viewport.Width),
		zap.Int("viewportHeight", m.viewport.Height),
	)
	return nil
}

// Context returns the live browser context used to create pages.
func (m *Manager) Context() (context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browserCtx == nil || m.browserCtx.Err() != nil {
		return nil, ErrNotInitialized
	}
	return m.browserCtx, nil
}

// Viewport returns the window size negotiated for this session.
func (m *Manager) Viewport() Viewport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewport
}

// TrackPageOpened increments the active-page counter.
func (m *Manager) TrackPageOpened() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activePages++
	m.logger.Debug("Page opened", zap.Int("activePages", m.activePages))
}

// reservePage claims a page slot, failing fast at the limit. Check and
// increment happen under one lock so concurrent creations cannot both pass
// the cap; callers roll a failed setup back with TrackPageClosed.
func (m *Manager) reservePage(limit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activePages >= limit {
		return fmt.Errorf("%w: %d", ErrPageCapExceeded, limit)
	}
	m.activePages++
	m.logger.Debug("Page slot reserved", zap.Int("activePages", m.activePages))
	return nil
}

// TrackPageClosed decrements the active-page counter, clamping at zero.
func (m *Manager) TrackPageClosed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activePages > 0 {
		m.activePages--
	}
	m.logger.Debug("Page closed", zap.Int("activePages", m.activePages))
}

// ActivePages returns the current live-page count.
func (m *Manager) ActivePages() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activePages
}

// Status reports connectivity, the active-page count, and whether termination
// is in progress.
func (m *Manager) Status() SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return SessionStatus{
		Active:      m.browserCtx != nil && m.browserCtx.Err() == nil,
		ActivePages: m.activePages,
		Terminating: m.terminating,
	}
}

// Terminate shuts the browser down. It is idempotent: close errors are logged
// and swallowed, and the counters are always reset so a failed close can never
// leave the manager stuck mid-termination.
func (m *Manager) Terminate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browserCtx == nil && !m.terminating {
		// Nothing to do, but keep the invariant that counters end at zero.
		m.activePages = 0
		return nil
	}

	m.terminating = true
	defer func() {
		m.activePages = 0
		m.terminating = false
	}()

	if m.browserCtx != nil && m.browserCtx.Err() == nil {
		closeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := chromedp.Cancel(m.browserCtx); err != nil {
			m.logger.Warn("Error closing browser", zap.Error(err))
		}
		select {
		case <-m.browserCtx.Done():
		case <-closeCtx.Done():
			m.logger.Warn("Timed out waiting for browser shutdown")
		}
		cancel()
	}
	m.teardownLocked()

	m.logger.Info("Browser session terminated")
	return nil
}

// teardownLocked releases contexts. Callers must hold m.mu.
func (m *Manager) teardownLocked() {
	if m.browserStop != nil {
		m.browserStop()
	}
	if m.allocCancel != nil {
		m.allocCancel()
	}
	m.browserCtx = nil
	m.browserStop = nil
	m.allocCtx = nil
	m.allocCancel = nil
}
