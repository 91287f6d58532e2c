// File: internal/jobs/store.go
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/digduck/collector/internal/crawler"
)

var (
	// ErrJobNotFound is returned when a job id is unknown to the store.
	ErrJobNotFound = errors.New("jobs: job not found")
	// ErrJobAlreadyRunning enforces single-flight per principal at the
	// store boundary, before any engine resource is allocated.
	ErrJobAlreadyRunning = errors.New("jobs: a job for this principal is already running")
	// ErrUnsupportedSite is returned for a start request naming a site no
	// engine is registered for.
	ErrUnsupportedSite = errors.New("jobs: unsupported target site")
	// ErrInvalidTransition guards the status machine.
	ErrInvalidTransition = errors.New("jobs: invalid status transition")
)

// JobUpdate is a partial job mutation. Nil fields are left untouched.
type JobUpdate struct {
	Status         *Status
	ItemsFound     *int
	ItemsCrawled   *int
	PagesProcessed *int
	ErrorMessage   *string
	StartedAt      *time.Time
}

// Store is the persistence sink the orchestrator consumes. Beyond
// HasRunningJob it is never queried for business rules.
type Store interface {
	CreateJob(ctx context.Context, job *Job) error
	UpdateJob(ctx context.Context, id string, upd JobUpdate) error
	// AppendItems persists extracted items and returns the inserted count.
	AppendItems(ctx context.Context, id string, items []crawler.Item) (int, error)
	CompleteJob(ctx context.Context, id string, success bool, errMsg string) error
	GetJob(ctx context.Context, id string) (*Job, error)
	HasRunningJob(ctx context.Context, principal string) (bool, error)
}

func statusPtr(s Status) *Status     { return &s }
func intPtr(v int) *int              { return &v }
func timePtr(t time.Time) *time.Time { return &t }
