// File: internal/jobs/orchestrator_test.go
package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/digduck/collector/internal/config"
	"github.com/digduck/collector/internal/crawler"
)

// fakeEngine is a scriptable crawler.Engine. It emits its canned items, then
// optionally blocks on gate until Stop is called, then returns err or panics.
type fakeEngine struct {
	items    []crawler.Item
	err      error
	panicMsg string
	gate     chan struct{}

	stopCh   chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
}

func newFakeEngine(items ...crawler.Item) *fakeEngine {
	return &fakeEngine{items: items, stopCh: make(chan struct{})}
}

func (f *fakeEngine) Crawl(_ context.Context, _ string, _ crawler.Options, cb crawler.Callbacks) ([]crawler.Item, error) {
	f.running.Store(true)
	defer f.running.Store(false)

	if f.panicMsg != "" {
		panic(f.panicMsg)
	}

	emitted := 0
	for _, it := range f.items {
		select {
		case <-f.stopCh:
			return f.items[:emitted], nil
		default:
		}
		if cb.OnItem != nil {
			cb.OnItem(it)
		}
		emitted++
	}
	if cb.OnProgress != nil {
		cb.OnProgress(crawler.Progress{
			CurrentPage:  1,
			ItemsFound:   len(f.items),
			ItemsCrawled: emitted,
		})
	}

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-f.stopCh:
		}
	}
	return f.items, f.err
}

func (f *fakeEngine) Stop()         { f.stopOnce.Do(func() { close(f.stopCh) }) }
func (f *fakeEngine) Running() bool { return f.running.Load() }
func (f *fakeEngine) Site() string  { return "fake" }

func testOrchestrator(t *testing.T, store Store, batchSize int) *Orchestrator {
	t.Helper()
	cfg := config.CrawlerConfig{
		MaxPages:  10,
		MaxItems:  100,
		Retries:   1,
		BatchSize: batchSize,
	}
	o := NewOrchestrator(store, cfg, zap.NewNop())
	o.interBatchPause = 0
	return o
}

func waitTerminal(t *testing.T, o *Orchestrator, jobID string) *Job {
	t.Helper()
	var job *Job
	require.Eventually(t, func() bool {
		st, err := o.Status(context.Background(), jobID)
		if err != nil || !st.Job.Status.Terminal() || st.IsActive {
			return false
		}
		job = st.Job
		return true
	}, 2*time.Second, 10*time.Millisecond)
	return job
}

func TestStartRunsJobToCompletion(t *testing.T) {
	store := NewMemStore()
	o := testOrchestrator(t, store, 2)
	o.RegisterEngine("fake", func() crawler.Engine {
		return newFakeEngine(
			crawler.Item{ID: "a"},
			crawler.Item{ID: "b"},
			crawler.Item{ID: "c"},
		)
	})

	id, err := o.Start(context.Background(), Request{
		Principal: "alice",
		Site:      "fake",
		URL:       "https://example.com/reviews",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job := waitTerminal(t, o, id)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 3, job.ItemsCrawled)
	assert.Equal(t, 1, job.PagesProcessed)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.CompletedAt)
	assert.Len(t, store.Items(id), 3, "batch of two plus final flush of one")
	assert.Equal(t, 0, o.ActiveCount())
}

func TestStartRejectsUnknownSite(t *testing.T) {
	o := testOrchestrator(t, NewMemStore(), 10)

	_, err := o.Start(context.Background(), Request{Principal: "alice", Site: "nope"})
	assert.ErrorIs(t, err, ErrUnsupportedSite)
}

func TestStartSingleFlightPerPrincipal(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, &Job{ID: "live", Principal: "alice", Status: StatusRunning}))

	var built atomic.Int32
	o := testOrchestrator(t, store, 10)
	o.RegisterEngine("fake", func() crawler.Engine {
		built.Add(1)
		return newFakeEngine()
	})

	_, err := o.Start(ctx, Request{Principal: "alice", Site: "fake"})
	assert.ErrorIs(t, err, ErrJobAlreadyRunning)
	assert.Equal(t, int32(0), built.Load(), "rejected before any engine is allocated")

	// A different principal is unaffected.
	id, err := o.Start(ctx, Request{Principal: "bob", Site: "fake"})
	require.NoError(t, err)
	waitTerminal(t, o, id)
}

func TestEngineErrorMarksJobFailed(t *testing.T) {
	store := NewMemStore()
	o := testOrchestrator(t, store, 10)
	o.RegisterEngine("fake", func() crawler.Engine {
		eng := newFakeEngine(crawler.Item{ID: "a"})
		eng.err = errors.New("page 1: fetch exhausted")
		return eng
	})

	id, err := o.Start(context.Background(), Request{Principal: "alice", Site: "fake"})
	require.NoError(t, err)

	job := waitTerminal(t, o, id)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "fetch exhausted")
	assert.Len(t, store.Items(id), 1, "items emitted before the failure are kept")
}

func TestEnginePanicMarksJobFailed(t *testing.T) {
	store := NewMemStore()
	o := testOrchestrator(t, store, 10)
	o.RegisterEngine("fake", func() crawler.Engine {
		eng := newFakeEngine()
		eng.panicMsg = "selector table corrupted"
		return eng
	})

	id, err := o.Start(context.Background(), Request{Principal: "alice", Site: "fake"})
	require.NoError(t, err)

	job := waitTerminal(t, o, id)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "internal error")
	assert.Equal(t, 0, o.ActiveCount(), "panic does not leak a registry entry")
}

func TestStopCancelsLiveJob(t *testing.T) {
	store := NewMemStore()
	eng := newFakeEngine(crawler.Item{ID: "a"})
	eng.gate = make(chan struct{})
	o := testOrchestrator(t, store, 10)
	o.RegisterEngine("fake", func() crawler.Engine { return eng })

	ctx := context.Background()
	id, err := o.Start(ctx, Request{Principal: "alice", Site: "fake"})
	require.NoError(t, err)
	require.Eventually(t, eng.Running, 2*time.Second, 10*time.Millisecond)

	stopped, err := o.Stop(ctx, id)
	require.NoError(t, err)
	assert.True(t, stopped)

	job := waitTerminal(t, o, id)
	assert.Equal(t, StatusCancelled, job.Status)
	assert.Len(t, store.Items(id), 1, "partial results survive cancellation")

	// A second stop, and a stop for an unknown id, both report no live job.
	stopped, err = o.Stop(ctx, id)
	require.NoError(t, err)
	assert.False(t, stopped)
	stopped, err = o.Stop(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, stopped)
}

// flakyBatchStore rejects multi-item batches and one poisoned item id, forcing
// the orchestrator down its per-item fallback path.
type flakyBatchStore struct {
	*MemStore
	poisoned string
}

func (s *flakyBatchStore) AppendItems(ctx context.Context, id string, items []crawler.Item) (int, error) {
	if len(items) > 1 {
		return 0, errors.New("batch insert refused")
	}
	if len(items) == 1 && items[0].ID == s.poisoned {
		return 0, errors.New("malformed payload")
	}
	return s.MemStore.AppendItems(ctx, id, items)
}

func TestBatchFailureFallsBackToPerItem(t *testing.T) {
	store := &flakyBatchStore{MemStore: NewMemStore(), poisoned: "bad"}
	o := testOrchestrator(t, store, 3)
	o.RegisterEngine("fake", func() crawler.Engine {
		return newFakeEngine(
			crawler.Item{ID: "a"},
			crawler.Item{ID: "bad"},
			crawler.Item{ID: "c"},
		)
	})

	id, err := o.Start(context.Background(), Request{Principal: "alice", Site: "fake"})
	require.NoError(t, err)

	job := waitTerminal(t, o, id)
	assert.Equal(t, StatusCompleted, job.Status, "a persistence failure does not fail the crawl")

	items := store.Items(id)
	require.Len(t, items, 2, "only the poisoned item is dropped")
	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, "c", items[1].ID)
}

func TestCleanupStopsAllLiveJobs(t *testing.T) {
	store := NewMemStore()
	o := testOrchestrator(t, store, 10)

	engines := []*fakeEngine{newFakeEngine(), newFakeEngine()}
	for _, eng := range engines {
		eng.gate = make(chan struct{})
	}
	next := make(chan *fakeEngine, len(engines))
	for _, eng := range engines {
		next <- eng
	}
	o.RegisterEngine("fake", func() crawler.Engine { return <-next })

	ctx := context.Background()
	id1, err := o.Start(ctx, Request{Principal: "alice", Site: "fake"})
	require.NoError(t, err)
	id2, err := o.Start(ctx, Request{Principal: "bob", Site: "fake"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return engines[0].Running() && engines[1].Running()
	}, 2*time.Second, 10*time.Millisecond)

	cleanupCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, o.Cleanup(cleanupCtx))
	assert.Equal(t, 0, o.ActiveCount())

	for _, id := range []string{id1, id2} {
		job, err := store.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, job.Status)
	}
}
