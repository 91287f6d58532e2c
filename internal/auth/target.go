// File: internal/auth/target.go
package auth

// Target describes one site's login surface: where the login flow lives and
// the ordered selector fallbacks for every affordance the state machine
// touches. Selector lists are evaluated in priority order; the first visible
// and enabled match wins.
type Target struct {
	// LoginHost is the host fragment the browser lands on during login;
	// leaving it is the primary success probe.
	LoginHost string
	// LoginURL is the direct fallback when no login affordance is found.
	LoginURL string

	// SessionCookies are cookie names whose presence indicates an already
	// authenticated session.
	SessionCookies []string

	LoggedInSelectors []string
	LoginAffordances  []string
	CaptchaIndicators []string
	IDSelectors       []string
	PasswordSelectors []string
	SubmitSelectors   []string
	ErrorSelectors    []string
	SecurityPhrases   []string
}

// SmartStoreTarget is the login surface of the Naver smart store.
func SmartStoreTarget() Target {
	return Target{
		LoginHost:      "nid.naver.com",
		LoginURL:       "https://nid.naver.com/nidlogin.login",
		SessionCookies: []string{"NID_AUT", "NID_SES"},
		LoggedInSelectors: []string{
			`a[href*="logout"]`,
			`.logout_button`,
			`[class*="my_info"]`,
		},
		LoginAffordances: []string{
			`a[class*="link_login"]`,
			`.login_button`,
			`a[href*="login"]`,
			`button[class*="login"]`,
		},
		CaptchaIndicators: []string{
			`[class*="captcha"]`,
			`[class*="verification"]`,
			`input[name="captcha"]`,
			`.phone_verify`,
			`.email_verify`,
			`[alt*="보안문자"]`,
			`.bot_check`,
		},
		IDSelectors: []string{
			`input[name="id"]`,
			`#id`,
			`input[type="text"]`,
		},
		PasswordSelectors: []string{
			`input[name="password"]`,
			`input[name="pw"]`,
			`input[type="password"]`,
			`#password`,
			`#pw`,
		},
		SubmitSelectors: []string{
			`button[type="submit"]`,
			`.btn_login`,
			`#log\.login`,
			`input[type="submit"]`,
		},
		ErrorSelectors: []string{
			`.error_message`,
			`[class*="error"]`,
			`.login_error`,
		},
		SecurityPhrases: []string{
			"보안",
			"자동입력 방지",
			"일시적으로 제한",
			"captcha",
			"blocked",
		},
	}
}
