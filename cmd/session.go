// File: cmd/session.go
package cmd

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/digduck/collector/internal/auth"
	"github.com/digduck/collector/internal/browser"
	"github.com/digduck/collector/internal/config"
	"github.com/digduck/collector/internal/humanoid"
)

// browserSession bundles the owned browser process with the page the login
// flow drives. It stays open for the lifetime of a crawl so the authenticated
// session cookies stay live.
type browserSession struct {
	manager *browser.Manager
	page    *browser.Page
	auth    *auth.Authenticator
}

// openSession launches the browser, applies the stealth persona to a fresh
// page, and wires the login state machine over it.
func openSession(ctx context.Context, cfg config.Config, logger *zap.Logger) (*browserSession, error) {
	manager := browser.NewManager(cfg.Browser, logger)
	if err := manager.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	persona := browser.PersonaFor(cfg.Browser.UserAgent, cfg.Browser.Locale, cfg.Browser.Timezone)
	factory := browser.NewPageFactory(manager, persona, cfg.Browser, logger)

	page, err := factory.CreatePage(ctx)
	if err != nil {
		terminateCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = manager.Terminate(terminateCtx)
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	profile := humanoid.NewProfile(rand.NewSource(time.Now().UnixNano()))
	driver := auth.NewChromeDriver(page, factory, profile, logger)
	authenticator := auth.New(driver, auth.SmartStoreTarget(), cfg.Auth, logger)

	return &browserSession{manager: manager, page: page, auth: authenticator}, nil
}

// Close tears the page and the browser process down. Safe to call once per
// session.
func (s *browserSession) Close() {
	s.page.Close()
	terminateCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.manager.Terminate(terminateCtx); err != nil {
		fmt.Fprintf(os.Stderr, "browser teardown failed: %v\n", err)
	}
}

// credentialsFromFlags reads the login id from its flag and the password from
// the named environment variable. Passwords never travel on argv.
func credentialsFromFlags(loginID, passwordEnv string) (auth.Credentials, error) {
	if loginID == "" {
		return auth.Credentials{}, fmt.Errorf("--id is required when logging in")
	}
	password := os.Getenv(passwordEnv)
	if password == "" {
		return auth.Credentials{}, fmt.Errorf("environment variable %s is empty; export the account password there", passwordEnv)
	}
	return auth.Credentials{ID: loginID, Password: password}, nil
}
