// Package session owns per-user mutable state: selected rule, time
// range, forward delay, history and delete task progress, and the
// short-id signature mapping used by UI callbacks.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/blockedby/tg-forwarder/internal/dedup"
	"github.com/blockedby/tg-forwarder/internal/logger"
	"github.com/blockedby/tg-forwarder/internal/timerange"
	"github.com/blockedby/tg-forwarder/internal/tombstone"
)

// ErrTaskRunning is returned when a user already has a running task.
var ErrTaskRunning = errors.New("task already running")

// ErrDelayOutOfRange is returned for delays outside [0, 3600] seconds.
var ErrDelayOutOfRange = errors.New("delay must be between 0 and 3600 seconds")

// Task statuses.
const (
	StatusIdle      = "idle"
	StatusRunning   = "running"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Task modes.
const (
	ModeNormal = "normal"
	ModeDryRun = "dry_run"
)

// HistoryTask is the live progress record of one history replay.
type HistoryTask struct {
	Status           string    `json:"status"`
	Mode             string    `json:"mode"`
	RuleID           uint      `json:"rule_id"`
	StartTime        time.Time `json:"start_time"`
	Total            int       `json:"total"`
	Done             int       `json:"done"`
	Forwarded        int       `json:"forwarded"`
	Filtered         int       `json:"filtered"`
	Failed           int       `json:"failed"`
	CurrentMessageID int       `json:"current_message_id"`
	Error            string    `json:"error,omitempty"`

	cancel context.CancelFunc
}

// DeleteTask is the live progress record of one batch delete.
type DeleteTask struct {
	Status  string `json:"status"`
	ChatID  int64  `json:"chat_id"`
	Total   int    `json:"total"`
	Deleted int    `json:"deleted"`
	Error   string `json:"error,omitempty"`

	cancel context.CancelFunc
}

// UserSession is the per-user state bag. All mutation goes through the
// Store's APIs.
type UserSession struct {
	SelectedRuleID     *uint             `json:"selected_rule_id,omitempty"`
	TimeRange          timerange.Range   `json:"time_range"`
	DelaySeconds       int               `json:"delay_seconds"`
	PickerContext      string            `json:"picker_context,omitempty"`
	HistoryTask        *HistoryTask      `json:"history_task,omitempty"`
	DeleteTask         *DeleteTask       `json:"delete_task,omitempty"`
	SelectedSignatures []string          `json:"selected_signatures,omitempty"`
	SigMapping         map[string]string `json:"sig_mapping,omitempty"`
}

// Store holds all user sessions and the per-chat scan result cache.
type Store struct {
	mu          sync.Mutex
	sessions    map[int64]*UserSession
	scanResults map[int64]map[string][]int
	log         zerolog.Logger
}

// New creates a store and registers it with the tombstone manager when
// one is given.
func New(tomb *tombstone.Manager) *Store {
	s := &Store{
		sessions:    make(map[int64]*UserSession),
		scanResults: make(map[int64]map[string][]int),
		log:         logger.Get().With().Str("component", "session").Logger(),
	}
	if tomb != nil {
		tomb.Register("session_store", s.StateDump, s.RestoreState)
	}
	return s
}

// session returns the user's session, creating it lazily. Caller holds mu.
func (s *Store) session(userID int64) *UserSession {
	us, ok := s.sessions[userID]
	if !ok {
		us = &UserSession{SigMapping: make(map[string]string)}
		s.sessions[userID] = us
	}
	return us
}

// SelectedRule returns the user's selected rule id, or 0 when none.
func (s *Store) SelectedRule(userID int64) (uint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	us := s.session(userID)
	if us.SelectedRuleID == nil {
		return 0, false
	}
	return *us.SelectedRuleID, true
}

// SetSelectedRule records the user's rule selection.
func (s *Store) SetSelectedRule(userID int64, ruleID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session(userID).SelectedRuleID = &ruleID
}

// TimeRange returns a copy of the user's time range.
func (s *Store) TimeRange(userID int64) timerange.Range {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session(userID).TimeRange
}

// SetTimeRange replaces the user's time range.
func (s *Store) SetTimeRange(userID int64, tr timerange.Range) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session(userID).TimeRange = tr
}

// SetPickerContext records which flow a chat picker belongs to.
func (s *Store) SetPickerContext(userID int64, picker string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session(userID).PickerContext = picker
}

// PickerContext returns the current picker context.
func (s *Store) PickerContext(userID int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session(userID).PickerContext
}

// Delay returns the user's inter-forward delay in seconds.
func (s *Store) Delay(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session(userID).DelaySeconds
}

// SetDelay validates and stores the inter-forward delay.
func (s *Store) SetDelay(userID int64, seconds int) error {
	if seconds < 0 || seconds > 3600 {
		return ErrDelayOutOfRange
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session(userID).DelaySeconds = seconds
	return nil
}

// StartHistoryTask creates a running history task for the user and
// returns the context its runner must observe for cancellation. Refuses
// when a task for this user is already running.
func (s *Store) StartHistoryTask(userID int64, ruleID uint, dryRun bool) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	us := s.session(userID)
	if us.HistoryTask != nil && us.HistoryTask.Status == StatusRunning {
		return nil, ErrTaskRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	mode := ModeNormal
	if dryRun {
		mode = ModeDryRun
	}
	us.HistoryTask = &HistoryTask{
		Status:    StatusRunning,
		Mode:      mode,
		RuleID:    ruleID,
		StartTime: time.Now().UTC(),
		cancel:    cancel,
	}
	return ctx, nil
}

// StopHistoryTask cancels the user's running history task. Returns
// false when no task is running. The task itself transitions to
// "cancelled" when it observes the context.
func (s *Store) StopHistoryTask(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	us := s.session(userID)
	if us.HistoryTask == nil || us.HistoryTask.Status != StatusRunning {
		return false
	}
	if us.HistoryTask.cancel != nil {
		us.HistoryTask.cancel()
	}
	return true
}

// UpdateHistoryTask applies fn to the user's history task under the
// store lock. No-op when the user has no task.
func (s *Store) UpdateHistoryTask(userID int64, fn func(*HistoryTask)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	us := s.session(userID)
	if us.HistoryTask != nil {
		fn(us.HistoryTask)
	}
}

// HistoryProgress returns a snapshot of the user's history task, not a
// live reference.
func (s *Store) HistoryProgress(userID int64) (HistoryTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	us := s.session(userID)
	if us.HistoryTask == nil {
		return HistoryTask{}, false
	}
	snap := *us.HistoryTask
	snap.cancel = nil
	return snap, true
}

// StartDeleteTask creates a running batch-delete task. At most one
// delete task per chat may run at a time.
func (s *Store) StartDeleteTask(userID, chatID int64, total int) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.sessions {
		if other.DeleteTask != nil && other.DeleteTask.Status == StatusRunning && other.DeleteTask.ChatID == chatID {
			return nil, ErrTaskRunning
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.session(userID).DeleteTask = &DeleteTask{
		Status: StatusRunning,
		ChatID: chatID,
		Total:  total,
		cancel: cancel,
	}
	return ctx, nil
}

// StopDeleteTask cancels the user's running delete task.
func (s *Store) StopDeleteTask(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	us := s.session(userID)
	if us.DeleteTask == nil || us.DeleteTask.Status != StatusRunning {
		return false
	}
	if us.DeleteTask.cancel != nil {
		us.DeleteTask.cancel()
	}
	return true
}

// UpdateDeleteTask applies fn to the user's delete task under the lock.
func (s *Store) UpdateDeleteTask(userID int64, fn func(*DeleteTask)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	us := s.session(userID)
	if us.DeleteTask != nil {
		fn(us.DeleteTask)
	}
}

// DeleteProgress returns a snapshot of the user's delete task.
func (s *Store) DeleteProgress(userID int64) (DeleteTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	us := s.session(userID)
	if us.DeleteTask == nil {
		return DeleteTask{}, false
	}
	snap := *us.DeleteTask
	snap.cancel = nil
	return snap, true
}

// SetScanResults caches a chat's duplicate groups and refreshes the
// user's short-id mapping for every signature found.
func (s *Store) SetScanResults(userID, chatID int64, groups map[string][]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanResults[chatID] = groups

	us := s.session(userID)
	us.SigMapping = make(map[string]string, len(groups))
	us.SelectedSignatures = nil
	for sig := range groups {
		us.SigMapping[dedup.ShortID(sig)] = sig
	}
}

// ScanResults returns the cached duplicate groups for a chat.
func (s *Store) ScanResults(chatID int64) (map[string][]int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	groups, ok := s.scanResults[chatID]
	return groups, ok
}

// ClearScanResults drops the cached groups for a chat, forcing the next
// scan to run fresh.
func (s *Store) ClearScanResults(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scanResults, chatID)
}

// ResolveSignature maps a short-id token back to its full signature.
// A token that is already a full known signature passes through.
func (s *Store) ResolveSignature(userID int64, token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	us := s.session(userID)
	if full, ok := us.SigMapping[token]; ok {
		return full, true
	}
	for _, full := range us.SigMapping {
		if full == token {
			return full, true
		}
	}
	return "", false
}

// ToggleSelectSignature flips a signature's membership in the user's
// selection set. The input may be a short-id or a full signature.
// Returns the new selection state and whether the token resolved.
func (s *Store) ToggleSelectSignature(userID int64, token string) (selected, ok bool) {
	full, ok := s.ResolveSignature(userID, token)
	if !ok {
		return false, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	us := s.session(userID)
	for i, sig := range us.SelectedSignatures {
		if sig == full {
			us.SelectedSignatures = append(us.SelectedSignatures[:i], us.SelectedSignatures[i+1:]...)
			return false, true
		}
	}
	us.SelectedSignatures = append(us.SelectedSignatures, full)
	return true, true
}

// SelectedSignatures returns a copy of the user's selection set.
func (s *Store) SelectedSignatures(userID int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	us := s.session(userID)
	out := make([]string, len(us.SelectedSignatures))
	copy(out, us.SelectedSignatures)
	return out
}

var reIntKey = regexp.MustCompile(`^-?\d+$`)

type storeDump struct {
	Sessions    map[string]*UserSession      `json:"sessions"`
	ScanResults map[string]map[string][]int  `json:"scan_results"`
}

// StateDump produces the tombstone snapshot. Map keys are stringified
// signed integers so chat and user ids round-trip through JSON.
func (s *Store) StateDump() (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dump := storeDump{
		Sessions:    make(map[string]*UserSession, len(s.sessions)),
		ScanResults: make(map[string]map[string][]int, len(s.scanResults)),
	}
	for userID, us := range s.sessions {
		cp := *us
		if cp.HistoryTask != nil {
			task := *cp.HistoryTask
			task.cancel = nil
			cp.HistoryTask = &task
		}
		if cp.DeleteTask != nil {
			task := *cp.DeleteTask
			task.cancel = nil
			cp.DeleteTask = &task
		}
		dump.Sessions[strconv.FormatInt(userID, 10)] = &cp
	}
	for chatID, groups := range s.scanResults {
		dump.ScanResults[strconv.FormatInt(chatID, 10)] = groups
	}
	return dump, nil
}

// RestoreState loads a snapshot produced by StateDump. Tasks found in
// status "running" are marked cancelled: they cannot survive a restart
// and the user must relaunch.
func (s *Store) RestoreState(raw json.RawMessage) error {
	var dump storeDump
	if err := json.Unmarshal(raw, &dump); err != nil {
		return fmt.Errorf("decode session dump: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, us := range dump.Sessions {
		if !reIntKey.MatchString(key) {
			s.log.Warn().Str("key", key).Msg("skipping non-integer session key")
			continue
		}
		userID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		if us.SigMapping == nil {
			us.SigMapping = make(map[string]string)
		}
		if us.HistoryTask != nil && us.HistoryTask.Status == StatusRunning {
			us.HistoryTask.Status = StatusCancelled
			us.HistoryTask.Error = "interrupted by restart"
		}
		if us.DeleteTask != nil && us.DeleteTask.Status == StatusRunning {
			us.DeleteTask.Status = StatusCancelled
			us.DeleteTask.Error = "interrupted by restart"
		}
		s.sessions[userID] = us
	}
	for key, groups := range dump.ScanResults {
		if !reIntKey.MatchString(key) {
			continue
		}
		chatID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		s.scanResults[chatID] = groups
	}
	return nil
}
