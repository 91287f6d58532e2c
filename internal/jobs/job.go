// File: internal/jobs/job.go

// Package jobs owns the crawl-job lifecycle: the job model and its status
// machine, the persistence boundary, and the orchestrator that supervises
// background crawl execution.
package jobs

import (
	"time"

	"github.com/digduck/collector/internal/crawler"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether s is an end state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition encodes the legal status machine:
// PENDING -> RUNNING -> {COMPLETED | FAILED | CANCELLED}. A pending job may
// also be cancelled or failed before it starts.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusCancelled || to == StatusFailed
	case StatusRunning:
		return to.Terminal()
	}
	return false
}

// Job is the orchestrator's unit of work. It is mutated only through
// store-mediated transitions.
type Job struct {
	ID             string
	Principal      string
	Site           string
	SourceURL      string
	Status         Status
	Options        crawler.Options
	ItemsFound     int
	ItemsCrawled   int
	PagesProcessed int
	ErrorMessage   string
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}
