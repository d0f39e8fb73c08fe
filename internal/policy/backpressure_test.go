package policy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	mu     sync.Mutex
	depths []int
	err    error
}

func (q *fakeQueue) PendingDepth(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return 0, q.err
	}
	depth := q.depths[0]
	if len(q.depths) > 1 {
		q.depths = q.depths[1:]
	}
	return depth, nil
}

func TestBackpressure_SkipsOffInterval(t *testing.T) {
	q := &fakeQueue{depths: []int{900}}
	b := NewBackpressure(q, BackpressureConfig{MaxPending: 1000, CheckInterval: 100})

	// 50 is not a multiple of the check interval, the queue is never probed
	require.NoError(t, b.CheckAndWait(context.Background(), 50))
	_, _, lastDepth := b.Statistics()
	assert.Zero(t, lastDepth)
}

func TestBackpressure_NoPauseBelowThreshold(t *testing.T) {
	q := &fakeQueue{depths: []int{300}}
	b := NewBackpressure(q, BackpressureConfig{MaxPending: 1000, CheckInterval: 100})

	require.NoError(t, b.CheckAndWait(context.Background(), 100))
	pauses, _, lastDepth := b.Statistics()
	assert.Zero(t, pauses)
	assert.Equal(t, 300, lastDepth)
}

func TestBackpressure_PausesUntilDrained(t *testing.T) {
	// congested on first probe, drained on second
	q := &fakeQueue{depths: []int{900, 400}}
	b := NewBackpressure(q, BackpressureConfig{MaxPending: 1000, CheckInterval: 100})
	b.pollInterval = time.Millisecond

	require.NoError(t, b.CheckAndWait(context.Background(), 100))
	pauses, waited, lastDepth := b.Statistics()
	assert.Equal(t, 1, pauses)
	assert.Greater(t, waited, time.Duration(0))
	assert.Equal(t, 400, lastDepth)
}

func TestBackpressure_CancelWhilePaused(t *testing.T) {
	q := &fakeQueue{depths: []int{900}}
	b := NewBackpressure(q, BackpressureConfig{MaxPending: 1000, CheckInterval: 100})
	b.pollInterval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	err := b.CheckAndWait(ctx, 100)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackpressure_ProbeErrorDoesNotStall(t *testing.T) {
	q := &fakeQueue{err: errors.New("nats down")}
	b := NewBackpressure(q, BackpressureConfig{MaxPending: 1000, CheckInterval: 100})

	require.NoError(t, b.CheckAndWait(context.Background(), 100))
	pauses, _, _ := b.Statistics()
	assert.Zero(t, pauses)
}
