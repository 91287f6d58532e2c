// File: internal/auth/errors.go
package auth

import "errors"

// Terminal classifications that must short-circuit the retry loop. Retrying
// against a captcha or a security block only burns budget against an endpoint
// that has already flagged the session.
var (
	ErrCaptchaDetected   = errors.New("auth: captcha challenge detected")
	ErrSecurityBlocked   = errors.New("auth: security block detected")
	ErrAttemptsExhausted = errors.New("auth: maximum login attempts exhausted")
)

// IsNonRetryable reports whether err is one of the classifications for which
// another attempt is known to be futile or harmful.
func IsNonRetryable(err error) bool {
	return errors.Is(err, ErrCaptchaDetected) ||
		errors.Is(err, ErrSecurityBlocked) ||
		errors.Is(err, ErrAttemptsExhausted)
}

// State is the terminal state of one authentication invocation.
type State string

const (
	StateAuthenticated        State = "authenticated"
	StateAlreadyAuthenticated State = "already_authenticated"
	StateCaptcha              State = "captcha_detected"
	StateBlocked              State = "security_blocked"
	StateExhausted            State = "attempts_exhausted"
)

// Result reports how an authentication invocation ended and how many
// submission attempts it made.
type Result struct {
	State    State
	Attempts int
}
