// File: internal/jobs/memstore.go
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/digduck/collector/internal/crawler"
)

// MemStore is an in-memory Store with the same semantics as the postgres
// implementation. It backs the CLI when no database is configured, and the
// orchestrator tests.
type MemStore struct {
	mu    sync.Mutex
	jobs  map[string]*Job
	items map[string][]crawler.Item
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		jobs:  make(map[string]*Job),
		items: make(map[string][]crawler.Item),
	}
}

func (s *MemStore) CreateJob(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("jobs: duplicate job id %q", job.ID)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	clone := *job
	s.jobs[job.ID] = &clone
	return nil
}

func (s *MemStore) UpdateJob(_ context.Context, id string, upd JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}

	if upd.Status != nil {
		if !CanTransition(job.Status, *upd.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, *upd.Status)
		}
		job.Status = *upd.Status
	}
	if upd.ItemsFound != nil {
		job.ItemsFound = *upd.ItemsFound
	}
	if upd.ItemsCrawled != nil {
		job.ItemsCrawled = *upd.ItemsCrawled
	}
	if upd.PagesProcessed != nil {
		job.PagesProcessed = *upd.PagesProcessed
	}
	if upd.ErrorMessage != nil {
		job.ErrorMessage = *upd.ErrorMessage
	}
	if upd.StartedAt != nil {
		job.StartedAt = upd.StartedAt
	}
	return nil
}

func (s *MemStore) AppendItems(_ context.Context, id string, items []crawler.Item) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return 0, ErrJobNotFound
	}
	s.items[id] = append(s.items[id], items...)
	return len(items), nil
}

func (s *MemStore) CompleteJob(_ context.Context, id string, success bool, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status.Terminal() {
		// Completion races with cancellation; the first terminal state wins.
		return nil
	}

	if success {
		job.Status = StatusCompleted
	} else {
		job.Status = StatusFailed
		job.ErrorMessage = errMsg
	}
	now := time.Now()
	job.CompletedAt = &now
	return nil
}

func (s *MemStore) GetJob(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	clone := *job
	return &clone, nil
}

func (s *MemStore) HasRunningJob(_ context.Context, principal string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.Principal == principal && (job.Status == StatusRunning || job.Status == StatusPending) {
			return true, nil
		}
	}
	return false, nil
}

// Items returns the persisted items for a job. Used by the CLI output path
// and tests.
func (s *MemStore) Items(id string) []crawler.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]crawler.Item, len(s.items[id]))
	copy(out, s.items[id])
	return out
}
