// File: internal/humanoid/mouse.go
package humanoid

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
)

// Hover moves the pointer to the center of the matched element before any
// interaction, mimicking human intent.
func (p *Profile) Hover(selector string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		x, y, err := elementCenter(ctx, selector)
		if err != nil {
			// Hovering is cosmetic; a miss is not worth failing the flow.
			return nil
		}
		if err := input.DispatchMouseEvent(input.MouseMoved, x, y).Do(ctx); err != nil {
			return err
		}
		return chromedp.Sleep(p.uniform(p.fast)).Do(ctx)
	})
}

// Click presses at the element's computed bounding-box center. When the box
// cannot be resolved it falls back to a direct element click.
func (p *Profile) Click(selector string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		x, y, err := elementCenter(ctx, selector)
		if err != nil {
			return chromedp.Click(selector, chromedp.ByQuery).Do(ctx)
		}

		press := input.DispatchMouseEvent(input.MousePressed, x, y).
			WithButton(input.Left).
			WithClickCount(1)
		if err := press.Do(ctx); err != nil {
			return err
		}
		if err := chromedp.Sleep(p.uniform(p.fast)).Do(ctx); err != nil {
			return err
		}
		release := input.DispatchMouseEvent(input.MouseReleased, x, y).
			WithButton(input.Left).
			WithClickCount(1)
		return release.Do(ctx)
	})
}

// HoverAndClick chains the hover dwell into a center click.
func (p *Profile) HoverAndClick(selector string) chromedp.Action {
	return chromedp.Tasks{
		p.Hover(selector),
		p.Click(selector),
	}
}

// elementCenter resolves the content-box center of the first node matching
// selector.
func elementCenter(ctx context.Context, selector string) (float64, float64, error) {
	var nodes []*cdp.Node
	if err := chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(1)).Do(ctx); err != nil {
		return 0, 0, err
	}

	box, err := dom.GetBoxModel().WithNodeID(nodes[0].NodeID).Do(ctx)
	if err != nil {
		return 0, 0, err
	}
	// Content quad: [x1 y1 x2 y2 x3 y3 x4 y4].
	if len(box.Content) < 8 {
		return 0, 0, fmt.Errorf("humanoid: degenerate box for %q", selector)
	}
	x := (box.Content[0] + box.Content[4]) / 2
	y := (box.Content[1] + box.Content[5]) / 2
	return x, y, nil
}
