// File: internal/auth/driver.go
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/digduck/collector/internal/browser"
	"github.com/digduck/collector/internal/humanoid"
)

// PageDriver abstracts the page operations the state machine performs. The
// production implementation drives a stealth page over CDP; tests substitute
// a scripted fake.
type PageDriver interface {
	CurrentURL(ctx context.Context) (string, error)
	// FirstVisible returns the first selector in the list matching a
	// visible, enabled element. Probe failures are swallowed and reported
	// as "not found".
	FirstVisible(ctx context.Context, selectors []string) (string, bool)
	Text(ctx context.Context, selector string) (string, error)
	CookieNames(ctx context.Context) ([]string, error)

	Navigate(ctx context.Context, url string) error
	HoverClick(ctx context.Context, selector string) error
	TypeField(ctx context.Context, selector, value string) error
	FieldValue(ctx context.Context, selector string) (string, error)
	SetFieldValue(ctx context.Context, selector, value string) error
	PressEnter(ctx context.Context, selector string) error

	WaitSettled(ctx context.Context, timeout time.Duration) error
	Delay(ctx context.Context, min, max time.Duration) error
}

// ChromeDriver implements PageDriver on a stealth page, pacing every
// interaction through the humanoid profile.
type ChromeDriver struct {
	page    *browser.Page
	factory *browser.PageFactory
	profile *humanoid.Profile
	logger  *zap.Logger
}

// NewChromeDriver wires a driver to an open page.
func NewChromeDriver(page *browser.Page, factory *browser.PageFactory, profile *humanoid.Profile, logger *zap.Logger) *ChromeDriver {
	return &ChromeDriver{
		page:    page,
		factory: factory,
		profile: profile,
		logger:  logger.Named("authdriver"),
	}
}

func (d *ChromeDriver) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := d.page.Run(ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

// visibleEnabledJS probes one selector without throwing: the element must
// exist, be laid out, and not be disabled.
const visibleEnabledJS = `(() => {
	const el = document.querySelector(%q);
	if (!el) return false;
	if (el.disabled) return false;
	const style = window.getComputedStyle(el);
	if (style.display === 'none' || style.visibility === 'hidden') return false;
	return el.offsetParent !== null || style.position === 'fixed';
})()`

func (d *ChromeDriver) FirstVisible(ctx context.Context, selectors []string) (string, bool) {
	for _, sel := range selectors {
		var visible bool
		probe := chromedp.Evaluate(fmt.Sprintf(visibleEnabledJS, sel), &visible)
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := d.page.RunWithTimeout(probeCtx, 2*time.Second, probe)
		cancel()
		if err != nil {
			// A failed probe means "keep looking", never "abort".
			d.logger.Debug("Selector probe failed", zap.String("selector", sel), zap.Error(err))
			continue
		}
		if visible {
			return sel, true
		}
	}
	return "", false
}

func (d *ChromeDriver) Text(ctx context.Context, selector string) (string, error) {
	var text string
	err := d.page.Run(ctx, chromedp.Text(selector, &text, chromedp.ByQuery, chromedp.AtLeast(0)))
	return strings.TrimSpace(text), err
}

func (d *ChromeDriver) CookieNames(ctx context.Context) ([]string, error) {
	var names []string
	err := d.page.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range cookies {
			names = append(names, c.Name)
		}
		return nil
	}))
	return names, err
}

func (d *ChromeDriver) Navigate(ctx context.Context, url string) error {
	return d.factory.Navigate(ctx, d.page, url)
}

func (d *ChromeDriver) HoverClick(ctx context.Context, selector string) error {
	return d.page.Run(ctx, d.profile.HoverAndClick(selector))
}

func (d *ChromeDriver) TypeField(ctx context.Context, selector, value string) error {
	clear := chromedp.SetValue(selector, "", chromedp.ByQuery)
	if err := d.page.Run(ctx, clear); err != nil {
		return err
	}
	return d.page.Run(ctx, d.profile.TypeText(selector, value))
}

func (d *ChromeDriver) FieldValue(ctx context.Context, selector string) (string, error) {
	var value string
	err := d.page.Run(ctx, chromedp.Value(selector, &value, chromedp.ByQuery))
	return value, err
}

func (d *ChromeDriver) SetFieldValue(ctx context.Context, selector, value string) error {
	return d.page.Run(ctx, chromedp.SetValue(selector, value, chromedp.ByQuery))
}

func (d *ChromeDriver) PressEnter(ctx context.Context, selector string) error {
	return d.page.Run(ctx, d.profile.PressEnter(selector))
}

// WaitSettled approximates network-idle: it waits for the document ready
// state and then a short quiet period. Login redirects on this target settle
// through full navigations, so readiness plus quiet time is sufficient.
func (d *ChromeDriver) WaitSettled(ctx context.Context, timeout time.Duration) error {
	if err := d.page.RunWithTimeout(ctx, timeout,
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return err
	}
	return d.Delay(ctx, 500*time.Millisecond, 1200*time.Millisecond)
}

func (d *ChromeDriver) Delay(ctx context.Context, min, max time.Duration) error {
	return d.factory.RandomDelay(ctx, min, max)
}
