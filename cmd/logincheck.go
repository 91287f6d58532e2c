// File: cmd/logincheck.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/digduck/collector/internal/auth"
	"github.com/digduck/collector/internal/observability"
)

var (
	loginCheckID          string
	loginCheckPasswordEnv string
)

var loginCheckCmd = &cobra.Command{
	Use:   "login-check",
	Short: "Verify the account can authenticate without running a crawl.",
	RunE:  runLoginCheck,
}

func init() {
	loginCheckCmd.Flags().StringVar(&loginCheckID, "id", "", "login id")
	loginCheckCmd.Flags().StringVar(&loginCheckPasswordEnv, "password-env", "DIGDUCK_PASSWORD", "environment variable holding the login password")
	rootCmd.AddCommand(loginCheckCmd)
}

func runLoginCheck(cmd *cobra.Command, args []string) error {
	logger := observability.GetLogger()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	creds, err := credentialsFromFlags(loginCheckID, loginCheckPasswordEnv)
	if err != nil {
		return err
	}

	session, err := openSession(ctx, appCfg, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	result, err := session.auth.PerformAuthentication(ctx, creds)
	if err != nil {
		if auth.IsNonRetryable(err) {
			logger.Warn("Authentication blocked",
				zap.String("state", string(result.State)),
				zap.Int("attempts", result.Attempts),
			)
		}
		return fmt.Errorf("login check failed: %w", err)
	}

	logger.Info("Login check passed",
		zap.String("state", string(result.State)),
		zap.Int("attempts", result.Attempts),
	)
	return nil
}
