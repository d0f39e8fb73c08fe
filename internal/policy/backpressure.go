package policy

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/blockedby/tg-forwarder/internal/logger"
)

// QueueDepther reports how many tasks are waiting downstream.
type QueueDepther interface {
	PendingDepth(ctx context.Context) (int, error)
}

// Backpressure pauses a producer when the downstream queue fills past a
// high-water mark, resuming once it drains below a low-water mark.
type Backpressure struct {
	queue         QueueDepther
	maxPending    int
	checkInterval int
	pauseAt       float64
	resumeAt      float64
	pollInterval  time.Duration
	log           zerolog.Logger

	mu           sync.Mutex
	pauses       int
	totalWaited  time.Duration
	lastDepth    int
	depthWarning bool
}

// BackpressureConfig tunes the controller thresholds.
type BackpressureConfig struct {
	MaxPending    int     // queue capacity the thresholds scale against
	CheckInterval int     // check queue depth every N processed items
	PauseAt       float64 // fraction of MaxPending that triggers a pause
	ResumeAt      float64 // fraction of MaxPending that ends a pause
}

// NewBackpressure creates a controller over the given queue.
func NewBackpressure(queue QueueDepther, cfg BackpressureConfig) *Backpressure {
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 1000
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 100
	}
	if cfg.PauseAt <= 0 {
		cfg.PauseAt = 0.8
	}
	if cfg.ResumeAt <= 0 {
		cfg.ResumeAt = 0.5
	}
	return &Backpressure{
		queue:         queue,
		maxPending:    cfg.MaxPending,
		checkInterval: cfg.CheckInterval,
		pauseAt:       cfg.PauseAt,
		resumeAt:      cfg.ResumeAt,
		pollInterval:  500 * time.Millisecond,
		log:           logger.Get().With().Str("component", "backpressure").Logger(),
	}
}

// CheckAndWait consults the queue depth when processed crosses a check
// boundary and blocks until the queue drains or ctx is cancelled. It
// returns ctx.Err() on cancellation and nil otherwise.
func (b *Backpressure) CheckAndWait(ctx context.Context, processed int) error {
	if processed == 0 || processed%b.checkInterval != 0 {
		return nil
	}

	depth, err := b.queue.PendingDepth(ctx)
	if err != nil {
		// a depth probe failure must not stall the producer
		b.warnDepthOnce(err)
		return nil
	}
	b.setDepth(depth)

	if depth < int(float64(b.maxPending)*b.pauseAt) {
		return nil
	}

	b.log.Info().Int("depth", depth).Int("max_pending", b.maxPending).
		Msg("queue congested, pausing producer")
	start := time.Now()
	b.mu.Lock()
	b.pauses++
	b.mu.Unlock()

	resumeBelow := int(float64(b.maxPending) * b.resumeAt)
	t := time.NewTicker(b.pollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			b.addWait(time.Since(start))
			return ctx.Err()
		case <-t.C:
			depth, err := b.queue.PendingDepth(ctx)
			if err != nil {
				b.warnDepthOnce(err)
				b.addWait(time.Since(start))
				return nil
			}
			b.setDepth(depth)
			if depth <= resumeBelow {
				waited := time.Since(start)
				b.addWait(waited)
				b.log.Info().Int("depth", depth).Dur("waited", waited).
					Msg("queue drained, resuming producer")
				return nil
			}
		}
	}
}

// Statistics returns pause count, total time paused, and the last
// observed queue depth.
func (b *Backpressure) Statistics() (pauses int, totalWaited time.Duration, lastDepth int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pauses, b.totalWaited, b.lastDepth
}

func (b *Backpressure) setDepth(depth int) {
	b.mu.Lock()
	b.lastDepth = depth
	b.depthWarning = false
	b.mu.Unlock()
}

func (b *Backpressure) addWait(d time.Duration) {
	b.mu.Lock()
	b.totalWaited += d
	b.mu.Unlock()
}

func (b *Backpressure) warnDepthOnce(err error) {
	b.mu.Lock()
	warned := b.depthWarning
	b.depthWarning = true
	b.mu.Unlock()
	if !warned {
		b.log.Warn().Err(err).Msg("queue depth probe failed, skipping backpressure check")
	}
}
