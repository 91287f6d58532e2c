// File: internal/humanoid/keyboard.go
package humanoid

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

// TypeText returns an action that focuses the element matched by selector and
// types text character by character with the profile's speed curve. After the
// third character, each key has a small chance of being mistyped as a
// neighboring key and corrected with a backspace.
func (p *Profile) TypeText(selector, text string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := p.Click(selector).Do(ctx); err != nil {
			return fmt.Errorf("humanoid: failed to focus %q: %w", selector, err)
		}
		if err := chromedp.Sleep(p.ActionPause()).Do(ctx); err != nil {
			return err
		}

		runes := []rune(text)
		for i, r := range runes {
			if err := chromedp.Sleep(p.keyDelay(i, len(runes))).Do(ctx); err != nil {
				return err
			}

			if p.shouldMistype(i) {
				if err := p.mistype(ctx, r); err != nil {
					return err
				}
				continue
			}

			if err := p.sendKey(ctx, string(r)); err != nil {
				return fmt.Errorf("humanoid: failed to send key %q: %w", r, err)
			}
		}
		return nil
	})
}

// mistype sends a neighboring wrong key, pauses long enough to "notice",
// erases it, and sends the intended key.
func (p *Profile) mistype(ctx context.Context, intended rune) error {
	wrong := p.neighborOf(intended)
	if err := p.sendKey(ctx, string(wrong)); err != nil {
		return err
	}
	if err := chromedp.Sleep(p.uniform(p.slow)).Do(ctx); err != nil {
		return err
	}
	if err := p.sendKey(ctx, kb.Backspace); err != nil {
		return err
	}
	if err := chromedp.Sleep(p.uniform(p.fast)).Do(ctx); err != nil {
		return err
	}
	return p.sendKey(ctx, string(intended))
}

// sendKey dispatches one key to whatever element currently holds focus.
func (p *Profile) sendKey(ctx context.Context, key string) error {
	return chromedp.SendKeys("document.activeElement", key, chromedp.ByJSPath).Do(ctx)
}

// PressEnter submits via the keyboard on the focused element.
func (p *Profile) PressEnter(selector string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := chromedp.Focus(selector, chromedp.ByQuery).Do(ctx); err != nil {
			return err
		}
		if err := chromedp.Sleep(p.uniform(p.slow)).Do(ctx); err != nil {
			return err
		}
		return p.sendKey(ctx, kb.Enter)
	})
}
