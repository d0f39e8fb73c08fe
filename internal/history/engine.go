// Package history runs background replays of a chat's message history
// through the forwarding queue.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/blockedby/tg-forwarder/internal/logger"
	"github.com/blockedby/tg-forwarder/internal/models"
	"github.com/blockedby/tg-forwarder/internal/policy"
	"github.com/blockedby/tg-forwarder/internal/queue"
	"github.com/blockedby/tg-forwarder/internal/session"
	"github.com/blockedby/tg-forwarder/internal/telegram"
	"github.com/blockedby/tg-forwarder/internal/timerange"
)

// ChatClient is the slice of the telegram client the engine needs.
type ChatClient interface {
	IterMessages(chatID int64, opts telegram.IterOptions) telegram.Iterator
	GetMessages(ctx context.Context, chatID int64, opts telegram.IterOptions) ([]*telegram.Message, error)
}

// TaskQueue is the downstream queue the engine pushes into.
type TaskQueue interface {
	Push(ctx context.Context, kind string, payload any, priority int) error
	PendingDepth(ctx context.Context) (int, error)
}

// RuleSource loads forward rules with chats preloaded.
type RuleSource interface {
	GetByID(ctx context.Context, id uint) (*models.ForwardRule, error)
}

const (
	historyPriority   = 5
	progressFlushEach = 50
)

// Options tunes the engine.
type Options struct {
	MaxPending        int
	BackpressurePause float64
	BackpressureResume float64
	PushRetries       int
	PushBaseDelay     time.Duration
}

// Engine launches and runs history replay tasks.
type Engine struct {
	client   ChatClient
	tasks    TaskQueue
	rules    RuleSource
	sessions *session.Store
	opts     Options
	log      zerolog.Logger

	// sleep is swappable in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a history engine.
func New(client ChatClient, tasks TaskQueue, rules RuleSource, sessions *session.Store, opts Options) *Engine {
	if opts.MaxPending <= 0 {
		opts.MaxPending = 1000
	}
	if opts.PushRetries <= 0 {
		opts.PushRetries = 3
	}
	if opts.PushBaseDelay <= 0 {
		opts.PushBaseDelay = time.Second
	}
	return &Engine{
		client:   client,
		tasks:    tasks,
		rules:    rules,
		sessions: sessions,
		opts:     opts,
		log:      logger.Get().With().Str("component", "history").Logger(),
		sleep:    sleepCtx,
	}
}

// Start validates the rule and launches the replay in the background.
// It refuses when the user already has a running task.
func (e *Engine) Start(ctx context.Context, userID int64, ruleID uint, tr timerange.Range, dryRun bool) error {
	rule, err := e.rules.GetByID(ctx, ruleID)
	if err != nil {
		return fmt.Errorf("load rule: %w", err)
	}
	if rule == nil || rule.SourceChat == nil || rule.TargetChat == nil {
		return fmt.Errorf("rule %d not found or missing chats", ruleID)
	}

	taskCtx, err := e.sessions.StartHistoryTask(userID, ruleID, dryRun)
	if err != nil {
		return err
	}

	go e.run(taskCtx, userID, rule, tr, dryRun)
	return nil
}

// Stop cancels the user's running replay.
func (e *Engine) Stop(userID int64) bool {
	return e.sessions.StopHistoryTask(userID)
}

func (e *Engine) run(ctx context.Context, userID int64, rule *models.ForwardRule, tr timerange.Range, dryRun bool) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Int64("user_id", userID).
				Msg("history task panicked")
			e.finish(userID, session.StatusFailed, fmt.Sprintf("internal error: %v", r))
		}
	}()

	sourceID := rule.SourceChat.TelegramChatID
	targetID := rule.TargetChat.TelegramChatID
	bounds := timerange.Parse(tr)

	total := e.estimateTotal(ctx, sourceID, bounds)
	e.sessions.UpdateHistoryTask(userID, func(t *session.HistoryTask) {
		t.Total = total
	})

	filter := policy.NewMediaFilter(policy.MediaConfigFromRule(rule))
	retrier := policy.NewRetrier(e.opts.PushRetries, e.opts.PushBaseDelay)
	pressure := policy.NewBackpressure(e.tasks, policy.BackpressureConfig{
		MaxPending: e.opts.MaxPending,
		PauseAt:    e.opts.BackpressurePause,
		ResumeAt:   e.opts.BackpressureResume,
	})

	e.log.Info().Int64("user_id", userID).Uint("rule_id", rule.ID).
		Int64("source", sourceID).Int64("target", targetID).
		Int("estimated_total", total).Bool("dry_run", dryRun).
		Str("range", timerange.FormatDisplay(tr)).Msg("history task started")

	status, errMsg := e.loop(ctx, userID, rule, bounds, dryRun, filter, retrier, pressure)
	e.finish(userID, status, errMsg)

	snap, _ := e.sessions.HistoryProgress(userID)
	e.log.Info().Int64("user_id", userID).Str("status", status).
		Int("done", snap.Done).Int("forwarded", snap.Forwarded).
		Int("filtered", snap.Filtered).Int("failed", snap.Failed).
		Msg("history task finished")
}

func (e *Engine) loop(
	ctx context.Context,
	userID int64,
	rule *models.ForwardRule,
	bounds timerange.Bounds,
	dryRun bool,
	filter *policy.MediaFilter,
	retrier *policy.Retrier,
	pressure *policy.Backpressure,
) (status, errMsg string) {
	sourceID := rule.SourceChat.TelegramChatID
	targetID := rule.TargetChat.TelegramChatID

	iter := e.client.IterMessages(sourceID, telegram.IterOptions{
		Reverse:    true,
		OffsetDate: bounds.Begin,
	})

	processed := 0
	for iter.Next(ctx) {
		if ctx.Err() != nil {
			return session.StatusCancelled, ""
		}
		msg := iter.Value()

		// iteration is oldest to newest, past the upper bound means done
		if bounds.End != nil && msg.Date.After(*bounds.End) {
			break
		}

		e.sessions.UpdateHistoryTask(userID, func(t *session.HistoryTask) {
			t.CurrentMessageID = msg.ID
		})

		if !inDayWindow(msg.Date, bounds) {
			e.bump(userID, func(t *session.HistoryTask) { t.Filtered++ })
		} else if ok, reason := filter.ShouldProcess(msg); !ok {
			e.log.Debug().Int("message_id", msg.ID).Str("reason", reason).
				Msg("message filtered")
			e.bump(userID, func(t *session.HistoryTask) { t.Filtered++ })
		} else if dryRun {
			e.bump(userID, func(t *session.HistoryTask) { t.Forwarded++ })
		} else {
			payload := queue.ForwardPayload{
				ChatID:       sourceID,
				MessageID:    msg.ID,
				RuleID:       rule.ID,
				IsHistory:    true,
				TargetChatID: targetID,
			}
			err := retrier.Do(ctx, "queue push", func() error {
				return e.tasks.Push(ctx, queue.KindProcessMessage, payload, historyPriority)
			})
			switch {
			case ctx.Err() != nil:
				return session.StatusCancelled, ""
			case err != nil:
				e.bump(userID, func(t *session.HistoryTask) { t.Failed++ })
			default:
				e.bump(userID, func(t *session.HistoryTask) { t.Forwarded++ })
			}

			if delay := e.sessions.Delay(userID); delay > 0 {
				if e.sleep(ctx, time.Duration(delay)*time.Second) != nil {
					return session.StatusCancelled, ""
				}
			}
		}

		processed++
		if processed%progressFlushEach == 0 {
			snap, _ := e.sessions.HistoryProgress(userID)
			e.log.Info().Int64("user_id", userID).Int("done", snap.Done).
				Int("total", snap.Total).Int("forwarded", snap.Forwarded).
				Int("filtered", snap.Filtered).Int("failed", snap.Failed).
				Msg("history progress")
		}

		if err := pressure.CheckAndWait(ctx, processed); err != nil {
			return session.StatusCancelled, ""
		}
	}

	if err := iter.Err(); err != nil {
		if ctx.Err() != nil {
			return session.StatusCancelled, ""
		}
		return session.StatusFailed, err.Error()
	}
	if ctx.Err() != nil {
		return session.StatusCancelled, ""
	}
	return session.StatusCompleted, ""
}

// bump increments one counter and done together so progress stays
// consistent: done always equals forwarded + filtered + failed.
func (e *Engine) bump(userID int64, fn func(*session.HistoryTask)) {
	e.sessions.UpdateHistoryTask(userID, func(t *session.HistoryTask) {
		fn(t)
		t.Done++
	})
}

func (e *Engine) finish(userID int64, status, errMsg string) {
	e.sessions.UpdateHistoryTask(userID, func(t *session.HistoryTask) {
		if t.Status == session.StatusRunning {
			t.Status = status
			t.Error = errMsg
		}
	})
}

// estimateTotal derives a coarse message count from the id delta
// between the oldest and newest messages in range. Deleted messages
// leave id gaps, so the estimate may overshoot; 0 means unknown.
func (e *Engine) estimateTotal(ctx context.Context, chatID int64, bounds timerange.Bounds) int {
	newest, err := e.client.GetMessages(ctx, chatID, telegram.IterOptions{Limit: 1})
	if err != nil || len(newest) == 0 {
		return 0
	}
	newestID := newest[0].ID

	oldestOpts := telegram.IterOptions{Limit: 1, Reverse: true}
	if !bounds.Begin.IsZero() {
		oldestOpts.OffsetDate = bounds.Begin
	}
	oldest, err := e.client.GetMessages(ctx, chatID, oldestOpts)
	if err != nil || len(oldest) == 0 {
		return 0
	}
	oldestID := oldest[0].ID

	if bounds.End != nil {
		upper, err := e.client.GetMessages(ctx, chatID, telegram.IterOptions{
			Limit:      1,
			OffsetDate: *bounds.End,
		})
		if err == nil && len(upper) > 0 && upper[0].ID < newestID {
			newestID = upper[0].ID
		}
	}

	if newestID < oldestID {
		return 0
	}
	return newestID - oldestID + 1
}

// QuickStats estimates a replay without starting one.
type QuickStats struct {
	Count       int    `json:"count"`
	TimeRange   string `json:"time_range"`
	SourceTitle string `json:"source_title"`
	TargetTitle string `json:"target_title"`
}

// Stats returns the estimated scope of a replay for the given rule and
// range.
func (e *Engine) Stats(ctx context.Context, ruleID uint, tr timerange.Range) (*QuickStats, error) {
	rule, err := e.rules.GetByID(ctx, ruleID)
	if err != nil {
		return nil, fmt.Errorf("load rule: %w", err)
	}
	if rule == nil || rule.SourceChat == nil || rule.TargetChat == nil {
		return nil, fmt.Errorf("rule %d not found or missing chats", ruleID)
	}

	stats := &QuickStats{
		Count:       e.estimateTotal(ctx, rule.SourceChat.TelegramChatID, timerange.Parse(tr)),
		TimeRange:   timerange.FormatDisplay(tr),
		SourceTitle: rule.SourceChat.Name,
		TargetTitle: rule.TargetChat.Name,
	}
	return stats, nil
}

func inDayWindow(date time.Time, bounds timerange.Bounds) bool {
	if bounds.StartSec == 0 && bounds.EndSec == 0 {
		return true
	}
	sec := date.UTC().Hour()*3600 + date.UTC().Minute()*60 + date.UTC().Second()
	if sec < bounds.StartSec {
		return false
	}
	if bounds.EndSec > 0 && sec > bounds.EndSec {
		return false
	}
	return true
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
