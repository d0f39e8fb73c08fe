package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tg-forwarder/internal/dedup"
	"github.com/blockedby/tg-forwarder/internal/timerange"
)

func TestStore_DelayValidation(t *testing.T) {
	s := New(nil)

	require.NoError(t, s.SetDelay(1, 0))
	require.NoError(t, s.SetDelay(1, 3600))
	assert.Equal(t, 3600, s.Delay(1))

	assert.ErrorIs(t, s.SetDelay(1, -1), ErrDelayOutOfRange)
	assert.ErrorIs(t, s.SetDelay(1, 3601), ErrDelayOutOfRange)
	// failed update leaves the previous value
	assert.Equal(t, 3600, s.Delay(1))
}

func TestStore_HistoryTaskLifecycle(t *testing.T) {
	s := New(nil)

	ctx, err := s.StartHistoryTask(1, 42, false)
	require.NoError(t, err)
	require.NotNil(t, ctx)

	// second launch for the same user is refused
	_, err = s.StartHistoryTask(1, 42, false)
	assert.ErrorIs(t, err, ErrTaskRunning)

	// a different user is unaffected
	_, err = s.StartHistoryTask(2, 42, false)
	require.NoError(t, err)

	s.UpdateHistoryTask(1, func(task *HistoryTask) {
		task.Done = 10
		task.Forwarded = 8
		task.Filtered = 2
	})

	snap, ok := s.HistoryProgress(1)
	require.True(t, ok)
	assert.Equal(t, 10, snap.Done)
	assert.Equal(t, StatusRunning, snap.Status)

	// snapshot is a copy, mutating it does not touch the store
	snap.Done = 999
	again, _ := s.HistoryProgress(1)
	assert.Equal(t, 10, again.Done)

	require.True(t, s.StopHistoryTask(1))
	<-ctx.Done()

	// the runner observes cancellation and records the terminal state
	s.UpdateHistoryTask(1, func(task *HistoryTask) {
		task.Status = StatusCancelled
	})
	assert.False(t, s.StopHistoryTask(1))

	// terminal task allows a relaunch
	_, err = s.StartHistoryTask(1, 42, true)
	require.NoError(t, err)
	snap, _ = s.HistoryProgress(1)
	assert.Equal(t, ModeDryRun, snap.Mode)
}

func TestStore_DeleteTaskPerChatExclusion(t *testing.T) {
	s := New(nil)

	_, err := s.StartDeleteTask(1, -100, 50)
	require.NoError(t, err)

	// another user cannot start a delete on the same chat
	_, err = s.StartDeleteTask(2, -100, 10)
	assert.ErrorIs(t, err, ErrTaskRunning)

	// a different chat is fine
	_, err = s.StartDeleteTask(2, -200, 10)
	require.NoError(t, err)
}

func TestStore_SignatureSelection(t *testing.T) {
	s := New(nil)
	sigA := "text-hash:00000000000000aa"
	sigB := "photo-composite:800x600:123:0"
	s.SetScanResults(7, -100, map[string][]int{
		sigA: {2, 4},
		sigB: {9, 11},
	})

	short := dedup.ShortID(sigA)
	full, ok := s.ResolveSignature(7, short)
	require.True(t, ok)
	assert.Equal(t, sigA, full)

	// full signatures pass through
	full, ok = s.ResolveSignature(7, sigB)
	require.True(t, ok)
	assert.Equal(t, sigB, full)

	_, ok = s.ResolveSignature(7, "deadbeef")
	assert.False(t, ok)

	selected, ok := s.ToggleSelectSignature(7, short)
	require.True(t, ok)
	assert.True(t, selected)
	assert.Equal(t, []string{sigA}, s.SelectedSignatures(7))

	selected, ok = s.ToggleSelectSignature(7, short)
	require.True(t, ok)
	assert.False(t, selected)
	assert.Empty(t, s.SelectedSignatures(7))
}

func TestStore_ScanResultsCache(t *testing.T) {
	s := New(nil)
	groups := map[string][]int{"text-hash:aa": {2, 4}}
	s.SetScanResults(1, -100, groups)

	got, ok := s.ScanResults(-100)
	require.True(t, ok)
	assert.Equal(t, groups, got)

	s.ClearScanResults(-100)
	_, ok = s.ScanResults(-100)
	assert.False(t, ok)
}

func TestStore_StateDumpRoundTrip(t *testing.T) {
	s := New(nil)
	s.SetSelectedRule(7, 42)
	s.SetTimeRange(7, timerange.Range{StartYear: 2024, EndYear: 2025})
	require.NoError(t, s.SetDelay(7, 3))
	s.SetScanResults(7, -100, map[string][]int{"text-hash:aa": {2, 4}})
	_, err := s.StartHistoryTask(7, 42, false)
	require.NoError(t, err)

	state, err := s.StateDump()
	require.NoError(t, err)
	raw, err := json.Marshal(state)
	require.NoError(t, err)

	restored := New(nil)
	require.NoError(t, restored.RestoreState(raw))

	ruleID, ok := restored.SelectedRule(7)
	require.True(t, ok)
	assert.Equal(t, uint(42), ruleID)
	assert.Equal(t, 2024, restored.TimeRange(7).StartYear)
	assert.Equal(t, 3, restored.Delay(7))

	groups, ok := restored.ScanResults(-100)
	require.True(t, ok)
	assert.Equal(t, []int{2, 4}, groups["text-hash:aa"])

	// running tasks never survive a restart
	task, ok := restored.HistoryProgress(7)
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, task.Status)
	assert.Equal(t, "interrupted by restart", task.Error)
}

func TestStore_RestoreCorruptDump(t *testing.T) {
	s := New(nil)
	assert.Error(t, s.RestoreState(json.RawMessage(`{broken`)))

	// non-integer keys are skipped, not fatal
	require.NoError(t, s.RestoreState(json.RawMessage(`{"sessions":{"abc":{"delay_seconds":5}}}`)))
	assert.Zero(t, s.Delay(123))
}
