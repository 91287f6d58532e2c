// File: internal/browser/factory_test.go
package browser

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestFactory(t *testing.T) (*PageFactory, *Manager) {
	t.Helper()
	m := NewManager(testBrowserConfig(), zap.NewNop())
	f := NewPageFactory(m, DefaultPersona, testBrowserConfig(), zap.NewNop())
	return f, m
}

func TestCreatePageFailsFastAtCap(t *testing.T) {
	f, m := newTestFactory(t)

	// Fill the session to its cap without opening real tabs; the cap check
	// runs before any browser interaction.
	for i := 0; i < 3; i++ {
		m.TrackPageOpened()
	}

	_, err := f.CreatePage(context.Background())
	require.ErrorIs(t, err, ErrPageCapExceeded)
	assert.Equal(t, 3, m.ActivePages(), "a rejected creation must not disturb the counter")
}

func TestCreatePageRequiresSession(t *testing.T) {
	f, m := newTestFactory(t)
	_, err := f.CreatePage(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Equal(t, 0, m.ActivePages(), "a failed creation releases its reserved slot")
}

func TestConcurrentCreationsCannotOvershootCap(t *testing.T) {
	m := NewManager(testBrowserConfig(), zap.NewNop())

	const limit = 3
	var wg sync.WaitGroup
	var granted atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.reservePage(limit) == nil {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(limit), granted.Load())
	assert.Equal(t, limit, m.ActivePages())
}

func TestPageCloseDecrementsExactlyOnce(t *testing.T) {
	f, m := newTestFactory(t)
	m.TrackPageOpened()

	ctx, cancel := context.WithCancel(context.Background())
	p := &Page{ctx: ctx, cancel: cancel, factory: f}

	p.Close()
	assert.Equal(t, 0, m.ActivePages())

	// Double close must not underflow the counter.
	p.Close()
	assert.Equal(t, 0, m.ActivePages())
}

func TestRandomDelayBounds(t *testing.T) {
	f, _ := newTestFactory(t)

	start := time.Now()
	require.NoError(t, f.RandomDelay(context.Background(), 10*time.Millisecond, 30*time.Millisecond))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 10*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestRandomDelayHonorsCancellation(t *testing.T) {
	f, _ := newTestFactory(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.RandomDelay(ctx, time.Minute, 2*time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRandomDelayEqualBounds(t *testing.T) {
	f, _ := newTestFactory(t)
	require.NoError(t, f.RandomDelay(context.Background(), time.Millisecond, time.Millisecond))
}
