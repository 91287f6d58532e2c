// File: internal/browser/stealth.go
package browser

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

//go:embed evasions.js
var evasionsScript string

// Persona defines the browser identity a page presents to the target.
type Persona struct {
	UserAgent string
	Platform  string
	Languages []string
	Timezone  string
	Locale    string
}

// DefaultPersona matches the locale of the target storefront.
var DefaultPersona = Persona{
	UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	Platform:  "Win32",
	Languages: []string{"ko-KR", "ko", "en-US"},
	Timezone:  "Asia/Seoul",
	Locale:    "ko-KR",
}

// PersonaFor derives a Persona from browser configuration, falling back to the
// defaults for anything unset.
func PersonaFor(userAgent, locale, timezone string) Persona {
	p := DefaultPersona
	if userAgent != "" {
		p.UserAgent = userAgent
	}
	if locale != "" {
		p.Locale = locale
	}
	if timezone != "" {
		p.Timezone = timezone
	}
	return p
}

// applyStealth constructs the CDP actions that make a fresh page present as a
// user-operated browser: identity override, the evasion init script, and
// consistent timezone/locale/header state.
func applyStealth(p Persona, logger *zap.Logger) chromedp.Tasks {
	logger.Debug("Applying stealth persona",
		zap.String("userAgent", p.UserAgent),
		zap.String("timezone", p.Timezone),
	)

	acceptLanguage := p.Locale
	if len(p.Languages) >= 2 {
		acceptLanguage = fmt.Sprintf("%s,%s;q=0.9", p.Languages[0], p.Languages[1])
	}

	return chromedp.Tasks{
		emulation.SetUserAgentOverride(p.UserAgent),

		// AddScriptToEvaluateOnNewDocument returns two values, so it needs
		// the ActionFunc wrapper to fit the chromedp.Action interface.
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(evasionsScript).Do(ctx)
			if err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),

		emulation.SetTimezoneOverride(p.Timezone),
		emulation.SetLocaleOverride().WithLocale(p.Locale),

		network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": acceptLanguage,
		}),
	}
}
