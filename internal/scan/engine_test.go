package scan

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tg-forwarder/internal/dedup"
	"github.com/blockedby/tg-forwarder/internal/session"
	"github.com/blockedby/tg-forwarder/internal/telegram"
	"github.com/blockedby/tg-forwarder/internal/timerange"
)

type sliceIter struct {
	msgs []*telegram.Message
	pos  int
	cur  *telegram.Message
}

func (it *sliceIter) Next(ctx context.Context) bool {
	if ctx.Err() != nil || it.pos >= len(it.msgs) {
		return false
	}
	it.cur = it.msgs[it.pos]
	it.pos++
	return true
}

func (it *sliceIter) Value() *telegram.Message { return it.cur }
func (it *sliceIter) Err() error               { return nil }

type fakeClient struct {
	msgs []*telegram.Message

	mu      sync.Mutex
	deleted [][]int
	failN   int
}

func (c *fakeClient) IterMessages(_ int64, _ telegram.IterOptions) telegram.Iterator {
	return &sliceIter{msgs: c.msgs}
}

func (c *fakeClient) DeleteMessages(_ context.Context, _ int64, ids []int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failN > 0 {
		c.failN--
		return assert.AnError
	}
	batch := make([]int, len(ids))
	copy(batch, ids)
	c.deleted = append(c.deleted, batch)
	return nil
}

func (c *fakeClient) deletedIDs() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []int
	for _, batch := range c.deleted {
		out = append(out, batch...)
	}
	return out
}

func textMsg(id int, text string) *telegram.Message {
	return &telegram.Message{
		ID:     id,
		ChatID: -999,
		Text:   text,
		Date:   time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Minute),
	}
}

func newEngine(msgs []*telegram.Message) (*Engine, *fakeClient, *session.Store) {
	client := &fakeClient{msgs: msgs}
	sessions := session.New(nil)
	e := New(client, sessions, dedup.NewExtractor(nil))
	e.batchPause = time.Millisecond
	e.errorPause = time.Millisecond
	return e, client, sessions
}

func waitDeleteTerminal(t *testing.T, sessions *session.Store, userID int64) session.DeleteTask {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, ok := sessions.DeleteProgress(userID)
		if ok && snap.Status != session.StatusRunning {
			return snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("delete task did not reach a terminal state")
	return session.DeleteTask{}
}

func TestScan_GroupsRepeatsOnly(t *testing.T) {
	e, _, _ := newEngine([]*telegram.Message{
		textMsg(1, "hello"),
		textMsg(2, "hello"),
		textMsg(3, "world"),
		textMsg(4, "hello"),
	})

	groups, err := e.Scan(context.Background(), 7, -999, timerange.Range{}, dedup.DefaultConfig(), nil)
	require.NoError(t, err)

	// one group: repeats of "hello"; the first sighting is excluded and
	// the unique "world" never forms a group
	require.Len(t, groups, 1)
	for _, ids := range groups {
		assert.Equal(t, []int{2, 4}, ids)
	}
}

func TestScan_EmptyChat(t *testing.T) {
	e, _, _ := newEngine(nil)
	groups, err := e.Scan(context.Background(), 7, -999, timerange.Range{}, dedup.DefaultConfig(), nil)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestScan_CachedResults(t *testing.T) {
	e, client, _ := newEngine([]*telegram.Message{
		textMsg(1, "hello"),
		textMsg(2, "hello"),
	})

	first, err := e.Scan(context.Background(), 7, -999, timerange.Range{}, dedup.DefaultConfig(), nil)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// mutate the chat; a cache hit must not see the new duplicate
	client.msgs = append(client.msgs, textMsg(3, "world"), textMsg(4, "world"))
	cached, err := e.Scan(context.Background(), 7, -999, timerange.Range{}, dedup.DefaultConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, first, cached)

	// a manual scan (progress callback given) bypasses the cache
	var calls int
	fresh, err := e.Scan(context.Background(), 7, -999, timerange.Range{}, dedup.DefaultConfig(), func(processed, groups int) {
		calls++
	})
	require.NoError(t, err)
	assert.Len(t, fresh, 2)
}

func TestScan_ProgressCallback(t *testing.T) {
	msgs := make([]*telegram.Message, 250)
	for i := range msgs {
		msgs[i] = textMsg(i+1, "unique text number "+string(rune('a'+i%26))+time.Duration(i).String())
	}
	e, _, _ := newEngine(msgs)

	var reports []int
	_, err := e.Scan(context.Background(), 7, -999, timerange.Range{}, dedup.DefaultConfig(), func(processed, _ int) {
		reports = append(reports, processed)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{100, 200}, reports)
}

func TestDelete_RequiresScan(t *testing.T) {
	e, _, _ := newEngine(nil)
	_, err := e.Delete(context.Background(), 7, -999, ModeAll)
	assert.ErrorIs(t, err, ErrNoScanResults)
}

func TestDelete_KeepClearsCache(t *testing.T) {
	e, _, sessions := newEngine([]*telegram.Message{
		textMsg(1, "hello"),
		textMsg(2, "hello"),
	})
	_, err := e.Scan(context.Background(), 7, -999, timerange.Range{}, dedup.DefaultConfig(), nil)
	require.NoError(t, err)

	n, err := e.Delete(context.Background(), 7, -999, ModeKeep)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, ok := sessions.ScanResults(-999)
	assert.False(t, ok)
}

func TestDelete_AllMode(t *testing.T) {
	e, client, sessions := newEngine([]*telegram.Message{
		textMsg(1, "hello"),
		textMsg(2, "hello"),
		textMsg(3, "world"),
		textMsg(4, "hello"),
		textMsg(5, "world"),
	})
	_, err := e.Scan(context.Background(), 7, -999, timerange.Range{}, dedup.DefaultConfig(), nil)
	require.NoError(t, err)

	n, err := e.Delete(context.Background(), 7, -999, ModeAll)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	snap := waitDeleteTerminal(t, sessions, 7)
	assert.Equal(t, session.StatusCompleted, snap.Status)
	assert.Equal(t, 3, snap.Deleted)
	assert.ElementsMatch(t, []int{2, 4, 5}, client.deletedIDs())

	// completed delete invalidates the scan cache
	_, ok := sessions.ScanResults(-999)
	assert.False(t, ok)
}

func TestDelete_SelectMode(t *testing.T) {
	e, client, sessions := newEngine([]*telegram.Message{
		textMsg(1, "hello"),
		textMsg(2, "hello"),
		textMsg(3, "world"),
		textMsg(4, "world"),
	})
	groups, err := e.Scan(context.Background(), 7, -999, timerange.Range{}, dedup.DefaultConfig(), nil)
	require.NoError(t, err)
	require.Len(t, groups, 2)

	// select only the "hello" group via its short id
	var helloSig string
	for sig, ids := range groups {
		if ids[0] == 2 {
			helloSig = sig
		}
	}
	require.NotEmpty(t, helloSig)
	_, ok := sessions.ToggleSelectSignature(7, dedup.ShortID(helloSig))
	require.True(t, ok)

	n, err := e.Delete(context.Background(), 7, -999, ModeSelect)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	snap := waitDeleteTerminal(t, sessions, 7)
	assert.Equal(t, session.StatusCompleted, snap.Status)
	assert.Equal(t, []int{2}, client.deletedIDs())
}

func TestDelete_BatchErrorContinues(t *testing.T) {
	msgs := []*telegram.Message{textMsg(1, "hello")}
	for i := 2; i <= 150; i++ {
		msgs = append(msgs, textMsg(i, "hello"))
	}
	e, client, sessions := newEngine(msgs)
	client.failN = 1

	_, err := e.Scan(context.Background(), 7, -999, timerange.Range{}, dedup.DefaultConfig(), nil)
	require.NoError(t, err)

	n, err := e.Delete(context.Background(), 7, -999, ModeAll)
	require.NoError(t, err)
	assert.Equal(t, 149, n)

	snap := waitDeleteTerminal(t, sessions, 7)
	assert.Equal(t, session.StatusCompleted, snap.Status)
	// the failed first batch of 100 is skipped, the remaining 49 land
	assert.Equal(t, 49, snap.Deleted)
	assert.Len(t, client.deletedIDs(), 49)
}

func TestDelete_Cancel(t *testing.T) {
	msgs := []*telegram.Message{textMsg(1, "hello")}
	for i := 2; i <= 301; i++ {
		msgs = append(msgs, textMsg(i, "hello"))
	}
	e, _, sessions := newEngine(msgs)
	e.batchPause = time.Hour

	_, err := e.Scan(context.Background(), 7, -999, timerange.Range{}, dedup.DefaultConfig(), nil)
	require.NoError(t, err)

	_, err = e.Delete(context.Background(), 7, -999, ModeAll)
	require.NoError(t, err)

	// let the first batch land, then cancel during the pause
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if snap, _ := sessions.DeleteProgress(7); snap.Deleted >= deleteBatchSize {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.True(t, e.StopDelete(7))

	snap := waitDeleteTerminal(t, sessions, 7)
	assert.Equal(t, session.StatusCancelled, snap.Status)
	assert.Less(t, snap.Deleted, 300)
}
