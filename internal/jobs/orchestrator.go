// File: internal/jobs/orchestrator.go
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/digduck/collector/internal/config"
	"github.com/digduck/collector/internal/crawler"
)

// EngineFactory builds a fresh engine instance per job; engines reject
// re-entrant crawls, so instances are never shared between jobs.
type EngineFactory func() crawler.Engine

// Request asks the orchestrator to start one crawl job.
type Request struct {
	Principal string
	Site      string
	URL       string
	Options   crawler.Options
}

// JobStatus merges the persisted job with the live-engine view.
type JobStatus struct {
	Job      *Job
	IsActive bool
}

// activeJob is one live registry entry.
type activeJob struct {
	engine    crawler.Engine
	cancelled atomic.Bool
}

// Orchestrator maps job ids to running engines, enforces single-flight per
// principal, relays crawler events to the store, and owns shutdown.
type Orchestrator struct {
	store     Store
	cfg       config.CrawlerConfig
	logger    *zap.Logger
	factories map[string]EngineFactory

	mu     sync.Mutex
	active map[string]*activeJob
	wg     sync.WaitGroup

	// interBatchPause spaces batch inserts out; tests zero it.
	interBatchPause time.Duration
}

// NewOrchestrator builds an orchestrator over the given persistence sink.
func NewOrchestrator(store Store, cfg config.CrawlerConfig, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:           store,
		cfg:             cfg,
		logger:          logger.Named("orchestrator"),
		factories:       make(map[string]EngineFactory),
		active:          make(map[string]*activeJob),
		interBatchPause: 100 * time.Millisecond,
	}
}

// RegisterEngine adds a site adapter to the registry.
func (o *Orchestrator) RegisterEngine(site string, factory EngineFactory) {
	o.factories[site] = factory
}

// Start validates the request, creates the job record, and launches
// execution in a supervised background goroutine. The caller receives the job
// id immediately; the goroutine guarantees a terminal state.
func (o *Orchestrator) Start(ctx context.Context, req Request) (string, error) {
	factory, ok := o.factories[req.Site]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedSite, req.Site)
	}

	// Single-flight per principal, checked before any engine or browser
	// resource is allocated.
	running, err := o.store.HasRunningJob(ctx, req.Principal)
	if err != nil {
		return "", fmt.Errorf("jobs: single-flight check failed: %w", err)
	}
	if running {
		return "", fmt.Errorf("%w: principal %q", ErrJobAlreadyRunning, req.Principal)
	}

	job := &Job{
		ID:        uuid.NewString(),
		Principal: req.Principal,
		Site:      req.Site,
		SourceURL: req.URL,
		Status:    StatusPending,
		Options:   req.Options.Merge(o.cfg),
		CreatedAt: time.Now(),
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("jobs: failed to create job: %w", err)
	}

	aj := &activeJob{engine: factory()}
	o.mu.Lock()
	o.active[job.ID] = aj
	o.mu.Unlock()

	o.wg.Add(1)
	go o.execute(job, aj)

	o.logger.Info("Job started",
		zap.String("jobID", job.ID),
		zap.String("site", job.Site),
		zap.String("principal", job.Principal),
	)
	return job.ID, nil
}

// execute runs one job to a guaranteed terminal state. Registry removal and
// the terminal transition are deferred so neither a crawl error nor a panic
// can leak a live entry or leave the job RUNNING forever.
func (o *Orchestrator) execute(job *Job, aj *activeJob) {
	ctx := context.Background()
	logger := o.logger.With(zap.String("jobID", job.ID))

	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		delete(o.active, job.ID)
		o.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Crawl panicked", zap.Any("panic", r))
			if err := o.store.CompleteJob(ctx, job.ID, false, fmt.Sprintf("internal error: %v", r)); err != nil {
				logger.Error("Failed to record panic failure", zap.Error(err))
			}
		}
	}()

	now := time.Now()
	if err := o.store.UpdateJob(ctx, job.ID, JobUpdate{
		Status:    statusPtr(StatusRunning),
		StartedAt: timePtr(now),
	}); err != nil {
		logger.Error("Failed to mark job running", zap.Error(err))
	}

	batch := make([]crawler.Item, 0, o.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		o.persistBatch(ctx, job.ID, batch, logger)
		batch = batch[:0]
		if o.interBatchPause > 0 {
			time.Sleep(o.interBatchPause)
		}
	}

	cb := crawler.Callbacks{
		OnProgress: func(p crawler.Progress) {
			if err := o.store.UpdateJob(ctx, job.ID, JobUpdate{
				ItemsFound:     intPtr(p.ItemsFound),
				ItemsCrawled:   intPtr(p.ItemsCrawled),
				PagesProcessed: intPtr(p.CurrentPage),
			}); err != nil {
				logger.Warn("Failed to persist progress", zap.Error(err))
			}
		},
		OnItem: func(it crawler.Item) {
			batch = append(batch, it)
			if len(batch) >= o.cfg.BatchSize {
				flush()
			}
		},
		OnError: func(err error) {
			logger.Warn("Crawl reported error", zap.Error(err))
		},
	}

	_, err := aj.engine.Crawl(ctx, job.SourceURL, job.Options, cb)
	flush()

	switch {
	case aj.cancelled.Load():
		// Stop already recorded CANCELLED; the partial results stand.
		logger.Info("Job cancelled")
	case err != nil:
		logger.Warn("Job failed", zap.Error(err))
		if cerr := o.store.CompleteJob(ctx, job.ID, false, err.Error()); cerr != nil {
			logger.Error("Failed to record job failure", zap.Error(cerr))
		}
	default:
		logger.Info("Job completed")
		if cerr := o.store.CompleteJob(ctx, job.ID, true, ""); cerr != nil {
			logger.Error("Failed to record job completion", zap.Error(cerr))
		}
	}
}

// persistBatch writes one batch, falling back to per-item inserts when the
// batch fails so one malformed item cannot drop the rest.
func (o *Orchestrator) persistBatch(ctx context.Context, jobID string, batch []crawler.Item, logger *zap.Logger) {
	_, err := o.store.AppendItems(ctx, jobID, batch)
	if err == nil {
		return
	}
	logger.Warn("Batch insert failed, falling back to per-item inserts",
		zap.Int("batchSize", len(batch)), zap.Error(err))

	for _, it := range batch {
		if _, err := o.store.AppendItems(ctx, jobID, []crawler.Item{it}); err != nil {
			logger.Warn("Dropping item after per-item insert failure",
				zap.String("itemID", it.ID), zap.Error(err))
		}
	}
}

// Stop cooperatively cancels a live job. It returns false when no live engine
// is tracked for the id, which means the job already finished or never
// started.
func (o *Orchestrator) Stop(ctx context.Context, jobID string) (bool, error) {
	o.mu.Lock()
	aj, ok := o.active[jobID]
	if ok {
		delete(o.active, jobID)
	}
	o.mu.Unlock()
	if !ok {
		return false, nil
	}

	aj.cancelled.Store(true)
	aj.engine.Stop()

	if err := o.store.UpdateJob(ctx, jobID, JobUpdate{Status: statusPtr(StatusCancelled)}); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			// The job reached a terminal state while the stop was in
			// flight; the first terminal state wins.
			return true, nil
		}
		return true, fmt.Errorf("jobs: failed to record cancellation: %w", err)
	}
	o.logger.Info("Job stop requested", zap.String("jobID", jobID))
	return true, nil
}

// Status merges the persisted job with the live registry.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (JobStatus, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return JobStatus{}, err
	}

	o.mu.Lock()
	_, isActive := o.active[jobID]
	o.mu.Unlock()

	return JobStatus{Job: job, IsActive: isActive}, nil
}

// ActiveCount reports the number of live jobs.
func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// Cleanup stops every live job concurrently, tolerating individual stop
// failures, then waits for the workers bounded by ctx.
func (o *Orchestrator) Cleanup(ctx context.Context) error {
	o.mu.Lock()
	ids := make([]string, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if _, err := o.Stop(ctx, id); err != nil {
				o.logger.Warn("Cleanup stop failed", zap.String("jobID", id), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("jobs: cleanup timed out waiting for workers: %w", ctx.Err())
	}
}
