package policy

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/blockedby/tg-forwarder/internal/logger"
)

// FloodWaitSeconds extracts the wait hint from a Telegram FLOOD_WAIT
// error, or 0 when the error carries none.
func FloodWaitSeconds(err error) int {
	if err == nil {
		return 0
	}
	msg := err.Error()
	idx := strings.Index(msg, "FLOOD_WAIT_")
	if idx < 0 {
		return 0
	}
	rest := msg[idx+len("FLOOD_WAIT_"):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	secs, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0
	}
	return secs
}

// ErrorStat tracks failures for one error class.
type ErrorStat struct {
	Count    int
	LastSeen time.Time
}

// Retrier retries an operation with exponential backoff. Rate limit
// errors with a server-provided wait are honored as-is and do not
// consume retry attempts.
type Retrier struct {
	maxRetries int
	baseDelay  time.Duration
	log        zerolog.Logger

	// sleep is swappable in tests
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	mu    sync.Mutex
	stats map[string]*ErrorStat
}

// NewRetrier creates a retrier with the given attempt budget and
// initial delay.
func NewRetrier(maxRetries int, baseDelay time.Duration) *Retrier {
	return &Retrier{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		log:        logger.Get().With().Str("component", "retrier").Logger(),
		sleep:      sleepCtx,
		now:        time.Now,
		stats:      make(map[string]*ErrorStat),
	}
}

// Do runs fn, retrying on error up to the attempt budget.
func (r *Retrier) Do(ctx context.Context, op string, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.baseDelay
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0
	bo.Reset()

	attempt := 0
	for {
		err := fn()
		if err == nil {
			return nil
		}
		r.record(err)

		if wait := FloodWaitSeconds(err); wait > 0 {
			r.log.Warn().Str("op", op).Int("wait_seconds", wait).
				Msg("rate limited, honoring server wait")
			if serr := r.sleep(ctx, time.Duration(wait)*time.Second); serr != nil {
				return serr
			}
			continue
		}

		if attempt >= r.maxRetries {
			r.log.Error().Err(err).Str("op", op).Int("attempts", attempt+1).
				Msg("retries exhausted")
			return err
		}
		attempt++

		delay := bo.NextBackOff()
		r.log.Debug().Err(err).Str("op", op).Int("attempt", attempt).
			Dur("delay", delay).Msg("retrying")
		if serr := r.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
}

func (r *Retrier) record(err error) {
	key := classify(err)
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.stats[key]
	if !ok {
		st = &ErrorStat{}
		r.stats[key] = st
	}
	st.Count++
	st.LastSeen = r.now()
}

// Statistics returns failure counts per error class.
func (r *Retrier) Statistics() map[string]ErrorStat {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]ErrorStat, len(r.stats))
	for k, v := range r.stats {
		out[k] = *v
	}
	return out
}

func classify(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "FLOOD_WAIT"):
		return "flood_wait"
	case strings.Contains(msg, "CHAT_WRITE_FORBIDDEN"),
		strings.Contains(msg, "CHANNEL_PRIVATE"),
		strings.Contains(msg, "USER_BANNED"):
		return "forbidden"
	case strings.Contains(msg, "MESSAGE_ID_INVALID"),
		strings.Contains(msg, "MESSAGE_EMPTY"):
		return "invalid_message"
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"):
		return "timeout"
	case strings.Contains(msg, "connection"):
		return "network"
	default:
		return "other"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
