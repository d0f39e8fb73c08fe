// Package scan finds duplicate message groups in a chat's history and
// drives the batch-delete worker that removes them.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/blockedby/tg-forwarder/internal/dedup"
	"github.com/blockedby/tg-forwarder/internal/logger"
	"github.com/blockedby/tg-forwarder/internal/session"
	"github.com/blockedby/tg-forwarder/internal/telegram"
	"github.com/blockedby/tg-forwarder/internal/timerange"
)

// Delete modes.
const (
	ModeAll    = "all"
	ModeKeep   = "keep"
	ModeSelect = "select"
)

// ErrNoScanResults is returned when delete is requested before a scan.
var ErrNoScanResults = errors.New("no scan results for chat, run a scan first")

// ChatClient is the slice of the telegram client the scanner needs.
type ChatClient interface {
	IterMessages(chatID int64, opts telegram.IterOptions) telegram.Iterator
	DeleteMessages(ctx context.Context, chatID int64, ids []int) error
}

// ProgressFunc receives (processed, duplicate_groups) during a scan.
type ProgressFunc func(processed, groups int)

const (
	progressEvery   = 100
	deleteBatchSize = 100
)

// Engine runs duplicate scans and batch deletes.
type Engine struct {
	client    ChatClient
	sessions  *session.Store
	extractor *dedup.Extractor
	log       zerolog.Logger

	// delays between delete batches, swappable in tests
	batchPause time.Duration
	errorPause time.Duration
}

// New creates a scan engine.
func New(client ChatClient, sessions *session.Store, extractor *dedup.Extractor) *Engine {
	return &Engine{
		client:     client,
		sessions:   sessions,
		extractor:  extractor,
		log:        logger.Get().With().Str("component", "scan").Logger(),
		batchPause: time.Second,
		errorPause: 5 * time.Second,
	}
}

// Scan walks the chat history and groups messages by primary signature.
// When cached results exist and no progress callback is given, the
// cache is returned as-is. Groups hold only repeat sightings: the first
// message carrying a signature is never listed.
func (e *Engine) Scan(ctx context.Context, userID, chatID int64, tr timerange.Range, cfg dedup.Config, progress ProgressFunc) (map[string][]int, error) {
	if cached, ok := e.sessions.ScanResults(chatID); ok && progress == nil {
		return cached, nil
	}
	e.sessions.ClearScanResults(chatID)

	bounds := timerange.Parse(tr)
	iter := e.client.IterMessages(chatID, telegram.IterOptions{
		Reverse:    true,
		OffsetDate: bounds.Begin,
	})

	seen := make(map[string]int)
	groups := make(map[string][]int)
	processed := 0

	for iter.Next(ctx) {
		msg := iter.Value()
		if bounds.End != nil && msg.Date.After(*bounds.End) {
			break
		}

		sig, ok := e.primarySignature(ctx, msg, cfg)
		if ok {
			if first, dup := seen[sig]; dup {
				if len(groups[sig]) == 0 {
					e.log.Debug().Str("signature", sig).Int("first_id", first).
						Msg("duplicate group opened")
				}
				groups[sig] = append(groups[sig], msg.ID)
			} else {
				seen[sig] = msg.ID
			}
		}

		processed++
		if progress != nil && processed%progressEvery == 0 {
			progress(processed, len(groups))
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan chat %d: %w", chatID, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.sessions.SetScanResults(userID, chatID, groups)
	e.log.Info().Int64("chat_id", chatID).Int("processed", processed).
		Int("groups", len(groups)).Msg("duplicate scan finished")
	return groups, nil
}

// primarySignature picks the signature used for duplicate grouping:
// the first content-hash signature when one exists, otherwise the
// first signature of the bundle.
func (e *Engine) primarySignature(ctx context.Context, msg *telegram.Message, cfg dedup.Config) (string, bool) {
	sigs, err := e.extractor.Bundle(ctx, msg, cfg)
	if err != nil && len(sigs) == 0 {
		return "", false
	}
	for _, s := range sigs {
		if s.IsContentHash() {
			return s.String(), true
		}
	}
	if len(sigs) == 0 {
		return "", false
	}
	return sigs[0].String(), true
}

// Delete collects message ids per mode and launches the batch-delete
// worker. Mode "keep" only clears the selection. Returns the number of
// messages scheduled for deletion.
func (e *Engine) Delete(ctx context.Context, userID, chatID int64, mode string) (int, error) {
	groups, ok := e.sessions.ScanResults(chatID)
	if !ok {
		return 0, ErrNoScanResults
	}

	var ids []int
	switch mode {
	case ModeAll:
		for _, group := range groups {
			ids = append(ids, group...)
		}
	case ModeKeep:
		e.sessions.ClearScanResults(chatID)
		return 0, nil
	case ModeSelect:
		selected := e.sessions.SelectedSignatures(userID)
		for _, sig := range selected {
			ids = append(ids, groups[sig]...)
		}
	default:
		return 0, fmt.Errorf("unknown delete mode %q", mode)
	}

	if len(ids) == 0 {
		return 0, nil
	}
	sort.Ints(ids)

	taskCtx, err := e.sessions.StartDeleteTask(userID, chatID, len(ids))
	if err != nil {
		return 0, err
	}
	go e.runBatchDelete(taskCtx, userID, chatID, ids)
	return len(ids), nil
}

// StopDelete cancels the user's running batch delete.
func (e *Engine) StopDelete(userID int64) bool {
	return e.sessions.StopDeleteTask(userID)
}

func (e *Engine) runBatchDelete(ctx context.Context, userID, chatID int64, ids []int) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Int64("chat_id", chatID).
				Msg("batch delete panicked")
			e.finishDelete(userID, session.StatusFailed, fmt.Sprintf("internal error: %v", r))
		}
	}()

	for start := 0; start < len(ids); start += deleteBatchSize {
		if ctx.Err() != nil {
			e.finishDelete(userID, session.StatusCancelled, "")
			return
		}

		end := start + deleteBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		if err := e.client.DeleteMessages(ctx, chatID, batch); err != nil {
			if ctx.Err() != nil {
				e.finishDelete(userID, session.StatusCancelled, "")
				return
			}
			e.log.Warn().Err(err).Int64("chat_id", chatID).Int("batch_size", len(batch)).
				Msg("delete batch failed, continuing")
			if !sleepOrDone(ctx, e.errorPause) {
				e.finishDelete(userID, session.StatusCancelled, "")
				return
			}
			continue
		}

		e.sessions.UpdateDeleteTask(userID, func(t *session.DeleteTask) {
			t.Deleted += len(batch)
		})

		if end < len(ids) && !sleepOrDone(ctx, e.batchPause) {
			e.finishDelete(userID, session.StatusCancelled, "")
			return
		}
	}

	e.finishDelete(userID, session.StatusCompleted, "")
	// force a fresh scan next time
	e.sessions.ClearScanResults(chatID)

	snap, _ := e.sessions.DeleteProgress(userID)
	e.log.Info().Int64("chat_id", chatID).Int("deleted", snap.Deleted).
		Int("total", snap.Total).Msg("batch delete finished")
}

func (e *Engine) finishDelete(userID int64, status, errMsg string) {
	e.sessions.UpdateDeleteTask(userID, func(t *session.DeleteTask) {
		if t.Status == session.StatusRunning {
			t.Status = status
			t.Error = errMsg
		}
	})
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
