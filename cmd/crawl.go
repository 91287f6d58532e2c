// File: cmd/crawl.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/digduck/collector/internal/crawler"
	"github.com/digduck/collector/internal/jobs"
	"github.com/digduck/collector/internal/observability"
)

var (
	crawlSite        string
	crawlPrincipal   string
	crawlMaxPages    int
	crawlMaxItems    int
	crawlOutput      string
	crawlLogin       bool
	crawlLoginID     string
	crawlPasswordEnv string
	crawlMinRating   float64
	crawlInclude     []string
	crawlExclude     []string
)

var crawlCmd = &cobra.Command{
	Use:   "crawl <url>",
	Short: "Run one crawl job against a listing URL and wait for it to finish.",
	Args:  cobra.ExactArgs(1),
	RunE:  runCrawl,
}

func init() {
	crawlCmd.Flags().StringVar(&crawlSite, "site", "smartstore", "target site adapter")
	crawlCmd.Flags().StringVar(&crawlPrincipal, "principal", "", "account the job runs under (defaults to --id, then \"local\")")
	crawlCmd.Flags().IntVar(&crawlMaxPages, "max-pages", 0, "page budget for this crawl (0 uses the configured default)")
	crawlCmd.Flags().IntVar(&crawlMaxItems, "max-items", 0, "item budget for this crawl (0 uses the configured default)")
	crawlCmd.Flags().StringVarP(&crawlOutput, "output", "o", "", "write extracted items to this JSON file")
	crawlCmd.Flags().BoolVar(&crawlLogin, "login", false, "authenticate through the browser before crawling")
	crawlCmd.Flags().StringVar(&crawlLoginID, "id", "", "login id for --login")
	crawlCmd.Flags().StringVar(&crawlPasswordEnv, "password-env", "DIGDUCK_PASSWORD", "environment variable holding the login password")
	crawlCmd.Flags().Float64Var(&crawlMinRating, "min-rating", 0, "drop items rated below this value")
	crawlCmd.Flags().StringSliceVar(&crawlInclude, "include", nil, "keep only items containing one of these keywords")
	crawlCmd.Flags().StringSliceVar(&crawlExclude, "exclude", nil, "drop items containing any of these keywords")
	rootCmd.AddCommand(crawlCmd)
}

func runCrawl(cmd *cobra.Command, args []string) error {
	logger := observability.GetLogger()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	principal := crawlPrincipal
	if principal == "" {
		principal = crawlLoginID
	}
	if principal == "" {
		principal = "local"
	}

	var (
		store jobs.Store
		mem   *jobs.MemStore
	)
	if appCfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, appCfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pool.Close()
		pg := jobs.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
		store = pg
	} else {
		mem = jobs.NewMemStore()
		store = mem
	}

	metrics := crawler.NewMetrics()
	orch := jobs.NewOrchestrator(store, appCfg.Crawler, logger)
	orch.RegisterEngine("smartstore", func() crawler.Engine {
		return crawler.NewSmartStore(appCfg.Crawler, logger, metrics)
	})

	if crawlLogin {
		creds, err := credentialsFromFlags(crawlLoginID, crawlPasswordEnv)
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
			return fmt.Errorf("login failed: %w", err)
		}
		logger.Info("Login succeeded",
			zap.String("state", string(result.State)),
			zap.Int("attempts", result.Attempts),
		)
	}

	opts := crawler.Options{
		MaxPages: crawlMaxPages,
		MaxItems: crawlMaxItems,
		Filters:  buildFilters(),
	}
	jobID, err := orch.Start(ctx, jobs.Request{
		Principal: principal,
		Site:      crawlSite,
		URL:       args[0],
		Options:   opts,
	})
	if err != nil {
		return err
	}
	logger.Info("Crawl job started", zap.String("jobID", jobID))

	job, err := waitForJob(ctx, orch, jobID, logger)
	if err != nil {
		return err
	}

	logger.Info("Crawl finished",
		zap.String("status", string(job.Status)),
		zap.Int("itemsCrawled", job.ItemsCrawled),
		zap.Int("pagesProcessed", job.PagesProcessed),
	)

	if crawlOutput != "" && mem != nil {
		if err := writeItems(crawlOutput, mem.Items(jobID)); err != nil {
			return err
		}
		logger.Info("Wrote results", zap.String("path", crawlOutput))
	}

	if job.Status == jobs.StatusFailed {
		return fmt.Errorf("crawl failed: %s", job.ErrorMessage)
	}
	return nil
}

// waitForJob polls until the job reaches a terminal state. A cancelled context
// stops the job cooperatively, then keeps waiting for the worker to drain.
func waitForJob(ctx context.Context, orch *jobs.Orchestrator, jobID string, logger *zap.Logger) (*jobs.Job, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Interrupt received, stopping job", zap.String("jobID", jobID))
			drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := orch.Stop(drainCtx, jobID); err != nil {
				logger.Warn("Stop failed", zap.Error(err))
			}
			if err := orch.Cleanup(drainCtx); err != nil {
				return nil, err
			}
			return waitTerminalStatus(drainCtx, orch, jobID)
		case <-ticker.C:
			st, err := orch.Status(ctx, jobID)
			if err != nil {
				return nil, err
			}
			if st.Job.Status.Terminal() && !st.IsActive {
				return st.Job, nil
			}
		}
	}
}

func waitTerminalStatus(ctx context.Context, orch *jobs.Orchestrator, jobID string) (*jobs.Job, error) {
	for {
		st, err := orch.Status(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if st.Job.Status.Terminal() && !st.IsActive {
			return st.Job, nil
		}
		select {
		case <-ctx.Done():
			return st.Job, nil
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func buildFilters() crawler.Filters {
	f := crawler.Filters{
		IncludeKeywords: crawlInclude,
		ExcludeKeywords: crawlExclude,
	}
	if crawlMinRating > 0 {
		bound := crawlMinRating
		f.MinRating = &bound
	}
	return f
}

func writeItems(path string, items []crawler.Item) error {
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode items: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
