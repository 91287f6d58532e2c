// File: internal/auth/authenticator.go

// Package auth drives a multi-step, retryable login flow against an
// adversarial login page. Captcha and security-block detections are
// non-retryable and abort the flow immediately; only a generic verification
// failure consumes retry budget.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/digduck/collector/internal/config"
)

// Credentials are supplied by the caller for a single invocation. The
// password is typed into the page and never stored or logged.
type Credentials struct {
	ID       string
	Password string
}

// Authenticator runs the login state machine on one open page.
type Authenticator struct {
	driver PageDriver
	target Target
	cfg    config.AuthConfig
	logger *zap.Logger
}

// New builds an Authenticator for the given target site.
func New(driver PageDriver, target Target, cfg config.AuthConfig, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		driver: driver,
		target: target,
		cfg:    cfg,
		logger: logger.Named("auth"),
	}
}

// PerformAuthentication executes the full flow:
// status check, navigation to the login page, captcha detection, credential
// entry, submission, verification, and bounded retry. The attempt counter is
// monotonically increasing within one call and is never reset mid-flow.
func (a *Authenticator) PerformAuthentication(ctx context.Context, creds Credentials) (Result, error) {
	a.logger.Info("Starting authentication", zap.String("user", maskID(creds.ID)))

	if a.checkStatus(ctx) {
		a.logger.Info("Session already authenticated")
		return Result{State: StateAlreadyAuthenticated}, nil
	}

	if err := a.navigateToLogin(ctx); err != nil {
		return Result{}, err
	}

	if sel, found := a.driver.FirstVisible(ctx, a.target.CaptchaIndicators); found {
		a.logger.Warn("Captcha challenge present before credential entry", zap.String("indicator", sel))
		return Result{State: StateCaptcha}, ErrCaptchaDetected
	}

	attempts := 0
	for attempts < a.cfg.MaxAttempts {
		attempts++
		a.logger.Info("Login attempt", zap.Int("attempt", attempts), zap.Int("maxAttempts", a.cfg.MaxAttempts))

		if err := a.fillCredentials(ctx, creds); err != nil {
			return Result{Attempts: attempts}, err
		}
		if err := a.submit(ctx); err != nil {
			return Result{Attempts: attempts}, err
		}

		err := a.verify(ctx)
		if err == nil {
			a.logger.Info("Authentication succeeded", zap.Int("attempts", attempts))
			return Result{State: StateAuthenticated, Attempts: attempts}, nil
		}
		if IsNonRetryable(err) {
			state := StateBlocked
			if errors.Is(err, ErrCaptchaDetected) {
				state = StateCaptcha
			}
			return Result{State: state, Attempts: attempts}, err
		}

		a.logger.Warn("Verification failed, backing off before retry",
			zap.Int("attempt", attempts), zap.Error(err))
		if attempts < a.cfg.MaxAttempts {
			if derr := a.driver.Delay(ctx, a.cfg.RetryBackoffMin, a.cfg.RetryBackoffMax); derr != nil {
				return Result{Attempts: attempts}, derr
			}
		}
	}

	return Result{State: StateExhausted, Attempts: attempts},
		fmt.Errorf("%w after %d attempts", ErrAttemptsExhausted, attempts)
}

// checkStatus probes for an existing session. All probe failures are
// swallowed; the answer degrades to "not authenticated".
func (a *Authenticator) checkStatus(ctx context.Context) bool {
	if _, found := a.driver.FirstVisible(ctx, a.target.LoggedInSelectors); found {
		return true
	}

	// Cookie deep check: both session cookies must be present.
	names, err := a.driver.CookieNames(ctx)
	if err != nil || len(a.target.SessionCookies) == 0 {
		return false
	}
	have := make(map[string]bool, len(names))
	for _, n := range names {
		have[n] = true
	}
	for _, required := range a.target.SessionCookies {
		if !have[required] {
			return false
		}
	}
	return true
}

// navigateToLogin clicks the first usable login affordance, or navigates to
// the login URL directly when none is found, then waits for the login host.
func (a *Authenticator) navigateToLogin(ctx context.Context) error {
	if url, err := a.driver.CurrentURL(ctx); err == nil && strings.Contains(url, a.target.LoginHost) {
		return nil
	}

	if sel, found := a.driver.FirstVisible(ctx, a.target.LoginAffordances); found {
		a.logger.Debug("Clicking login affordance", zap.String("selector", sel))
		if err := a.driver.HoverClick(ctx, sel); err != nil {
			a.logger.Warn("Login affordance click failed, falling back to direct navigation", zap.Error(err))
			if err := a.driver.Navigate(ctx, a.target.LoginURL); err != nil {
				return fmt.Errorf("auth: failed to reach login page: %w", err)
			}
		}
	} else {
		if err := a.driver.Navigate(ctx, a.target.LoginURL); err != nil {
			return fmt.Errorf("auth: failed to reach login page: %w", err)
		}
	}

	if err := a.driver.WaitSettled(ctx, a.cfg.VerifyTimeout); err != nil {
		a.logger.Debug("Login page settle wait ended early", zap.Error(err))
	}

	url, err := a.driver.CurrentURL(ctx)
	if err != nil {
		return fmt.Errorf("auth: cannot read location after login navigation: %w", err)
	}
	if !strings.Contains(url, a.target.LoginHost) {
		return fmt.Errorf("auth: expected login host %q, landed on %q", a.target.LoginHost, url)
	}
	return nil
}

// fillCredentials types both fields with human pacing, then re-reads each
// value and force-sets it on mismatch to defend against dropped keystrokes.
func (a *Authenticator) fillCredentials(ctx context.Context, creds Credentials) error {
	idSel, found := a.driver.FirstVisible(ctx, a.target.IDSelectors)
	if !found {
		return fmt.Errorf("auth: no usable id field among %d selectors", len(a.target.IDSelectors))
	}
	if err := a.typeVerified(ctx, idSel, creds.ID); err != nil {
		return fmt.Errorf("auth: failed to enter id: %w", err)
	}

	pwSel, found := a.driver.FirstVisible(ctx, a.target.PasswordSelectors)
	if !found {
		return fmt.Errorf("auth: no usable password field among %d selectors", len(a.target.PasswordSelectors))
	}
	if err := a.typeVerified(ctx, pwSel, creds.Password); err != nil {
		return fmt.Errorf("auth: failed to enter password: %w", err)
	}
	return nil
}

func (a *Authenticator) typeVerified(ctx context.Context, selector, value string) error {
	if err := a.driver.TypeField(ctx, selector, value); err != nil {
		return err
	}

	got, err := a.driver.FieldValue(ctx, selector)
	if err != nil {
		return err
	}
	if got != value {
		a.logger.Debug("Typed value mismatch, force-setting field", zap.String("selector", selector))
		return a.driver.SetFieldValue(ctx, selector, value)
	}
	return nil
}

// submit waits a re-check dwell, then clicks the submit affordance at its
// bounding-box center, falling back to an Enter keypress when no affordance
// exists.
func (a *Authenticator) submit(ctx context.Context) error {
	if err := a.driver.Delay(ctx, a.cfg.SubmitWaitMin, a.cfg.SubmitWaitMax); err != nil {
		return err
	}

	if sel, found := a.driver.FirstVisible(ctx, a.target.SubmitSelectors); found {
		if err := a.driver.HoverClick(ctx, sel); err == nil {
			return nil
		}
		a.logger.Debug("Submit click failed, falling back to Enter", zap.String("selector", sel))
	}

	pwSel, found := a.driver.FirstVisible(ctx, a.target.PasswordSelectors)
	if !found {
		return fmt.Errorf("auth: no submit affordance and no password field for Enter fallback")
	}
	return a.driver.PressEnter(ctx, pwSel)
}

// verify decides the outcome of one submission. The only retryable result is
// the generic verification failure; captcha and security matches are
// terminal.
func (a *Authenticator) verify(ctx context.Context) error {
	if err := a.driver.WaitSettled(ctx, a.cfg.VerifyTimeout); err != nil {
		a.logger.Debug("Settle wait after submit ended early", zap.Error(err))
	}

	if url, err := a.driver.CurrentURL(ctx); err == nil && !strings.Contains(url, a.target.LoginHost) {
		return nil
	}
	if _, found := a.driver.FirstVisible(ctx, a.target.LoggedInSelectors); found {
		return nil
	}

	// Still on the login host: inspect error messages for a hard block.
	for _, sel := range a.target.ErrorSelectors {
		text, err := a.driver.Text(ctx, sel)
		if err != nil || text == "" {
			continue
		}
		lower := strings.ToLower(text)
		for _, phrase := range a.target.SecurityPhrases {
			if strings.Contains(lower, strings.ToLower(phrase)) {
				return ErrSecurityBlocked
			}
		}
	}
	if _, found := a.driver.FirstVisible(ctx, a.target.CaptchaIndicators); found {
		return ErrCaptchaDetected
	}

	return fmt.Errorf("auth: login verification failed")
}

// maskID hides all but the first two characters of a principal identifier.
func maskID(id string) string {
	runes := []rune(id)
	if len(runes) <= 2 {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[:2]) + strings.Repeat("*", len(runes)-2)
}
