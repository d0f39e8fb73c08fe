package flow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachine_NoStateIgnoresText(t *testing.T) {
	m := NewMachine()
	handled, _, err := m.HandleText(context.Background(), 1, 1, "hello")
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestMachine_CancelClearsState(t *testing.T) {
	m := NewMachine()
	m.SetState(1, 1, "kw_add:5")

	handled, reply, err := m.HandleText(context.Background(), 1, 1, "取消")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, "已取消", reply)

	_, ok := m.ActiveState(1, 1)
	assert.False(t, ok)
}

func TestMachine_LazyExpiry(t *testing.T) {
	m := NewMachine()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.SetState(1, 1, "kw_add:5")
	now = now.Add(4 * time.Minute)
	_, ok := m.ActiveState(1, 1)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = m.ActiveState(1, 1)
	assert.False(t, ok)
}

func TestMachine_BadInputKeepsState(t *testing.T) {
	m := NewMachine()
	m.Handle("kw_add", func(_ context.Context, _ int64, _ []string, text string) (string, error) {
		if text == "bad" {
			return "", fmt.Errorf("%w: nope", ErrBadInput)
		}
		return "ok", nil
	})
	m.SetState(1, 1, "kw_add:5")

	handled, _, err := m.HandleText(context.Background(), 1, 1, "bad")
	assert.True(t, handled)
	assert.ErrorIs(t, err, ErrBadInput)

	// state survived, a second attempt succeeds and clears it
	handled, reply, err := m.HandleText(context.Background(), 1, 1, "good")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, "ok", reply)

	handled, _, _ = m.HandleText(context.Background(), 1, 1, "good")
	assert.False(t, handled)
}

func TestMachine_RetryRestartsTTL(t *testing.T) {
	m := NewMachine()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	m.Handle("kw_add", func(_ context.Context, _ int64, _ []string, _ string) (string, error) {
		return "", fmt.Errorf("%w: nope", ErrBadInput)
	})

	m.SetState(1, 1, "kw_add:5")

	// a failed attempt at minute 4 restarts the window
	now = now.Add(4 * time.Minute)
	handled, _, err := m.HandleText(context.Background(), 1, 1, "bad")
	assert.True(t, handled)
	assert.ErrorIs(t, err, ErrBadInput)

	// minute 8 is past the original deadline but within the restarted one
	now = now.Add(4 * time.Minute)
	_, ok := m.ActiveState(1, 1)
	assert.True(t, ok)

	now = now.Add(6 * time.Minute)
	_, ok = m.ActiveState(1, 1)
	assert.False(t, ok)
}

func TestMachine_HandlerErrorClearsState(t *testing.T) {
	m := NewMachine()
	m.Handle("kw_add", func(_ context.Context, _ int64, _ []string, _ string) (string, error) {
		return "", errors.New("database down")
	})
	m.SetState(1, 1, "kw_add:5")

	handled, _, err := m.HandleText(context.Background(), 1, 1, "text")
	assert.True(t, handled)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrBadInput)

	_, ok := m.ActiveState(1, 1)
	assert.False(t, ok)
}

func TestMachine_ArgsFromStateKey(t *testing.T) {
	m := NewMachine()
	var gotArgs []string
	m.Handle("set_val", func(_ context.Context, _ int64, args []string, _ string) (string, error) {
		gotArgs = args
		return "", nil
	})
	m.SetState(1, 1, "set_val:12:blocked_extensions")

	_, _, err := m.HandleText(context.Background(), 1, 1, "exe")
	require.NoError(t, err)
	assert.Equal(t, []string{"12", "blocked_extensions"}, gotArgs)
}

func TestMachine_PerUserPerChatIsolation(t *testing.T) {
	m := NewMachine()
	m.SetState(1, 10, "kw_add:5")

	_, ok := m.ActiveState(1, 11)
	assert.False(t, ok)
	_, ok = m.ActiveState(2, 10)
	assert.False(t, ok)
	_, ok = m.ActiveState(1, 10)
	assert.True(t, ok)
}
