package dedup

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blockedby/tg-forwarder/internal/logger"
	"github.com/blockedby/tg-forwarder/internal/telegram"
)

// Reason explains a dedup verdict.
type Reason string

// Verdict reasons.
const (
	ReasonNew           Reason = "NEW"
	ReasonContentDup    Reason = "CONTENT_DUP"
	ReasonTimeWindowDup Reason = "TIME_WINDOW_DUP"
	ReasonSimilarDup    Reason = "SIMILAR_DUP"
)

// Verdict is the result of a duplicate check.
type Verdict struct {
	Duplicate bool   `json:"duplicate"`
	Matched   string `json:"matched,omitempty"`
	Reason    Reason `json:"reason"`
}

// globalKey is the index key used when cross-chat dedup is enabled.
const globalKey = "*"

// entry records one observed signature.
type entry struct {
	ChatID    int64 `json:"chat_id"`
	FirstSeen int64 `json:"first_seen"` // unix seconds
}

// simEntry records one observed simhash fingerprint.
type simEntry struct {
	FP        uint64 `json:"fp"`
	Sig       string `json:"sig"`
	ChatID    int64  `json:"chat_id"`
	FirstSeen int64  `json:"first_seen"`
}

// chatState holds the per-chat (or global) indices. All access goes
// through the mutex so concurrent checks on the same chat serialize.
type chatState struct {
	mu          sync.Mutex
	timeWindow  map[string]entry
	contentHash map[string]entry
	simhashes   []simEntry
	lastSeen    int64
}

func newChatState() *chatState {
	return &chatState{
		timeWindow:  make(map[string]entry),
		contentHash: make(map[string]entry),
	}
}

// Stats is a point-in-time snapshot of the engine indices.
type Stats struct {
	CachedSignatures    int `json:"cached_signatures"`
	CachedContentHashes int `json:"cached_content_hashes"`
	TrackedChats        int `json:"tracked_chats"`
	ActiveChatsToday    int `json:"active_chats_today"`
}

// Engine decides whether a message is a duplicate and records its
// signatures. Checks and inserts for one chat form a single critical
// section: a second caller always sees the first caller's insert.
type Engine struct {
	mu    sync.Mutex
	chats map[string]*chatState

	extractor *Extractor

	// windowHours is the default eviction horizon used by PurgeExpired.
	windowHours int
	// maxEntries caps every index; oldest entries are evicted past it.
	maxEntries int

	now func() time.Time
	log *logger.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMaxEntries overrides the per-index entry cap.
func WithMaxEntries(n int) Option {
	return func(e *Engine) { e.maxEntries = n }
}

// NewEngine creates a dedup engine. windowHours is the default eviction
// horizon for PurgeExpired; <= 0 disables time-based eviction.
func NewEngine(extractor *Extractor, windowHours int, opts ...Option) *Engine {
	e := &Engine{
		chats:       make(map[string]*chatState),
		extractor:   extractor,
		windowHours: windowHours,
		maxEntries:  100000,
		now:         time.Now,
		log:         logger.Get(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CheckAndRecord computes the message's signature bundle, checks it
// against the indices and, if it is new, records every signature.
// Extractor I/O failures degrade to a smaller bundle and are not fatal.
func (e *Engine) CheckAndRecord(ctx context.Context, msg *telegram.Message, chatID int64, cfg Config) Verdict {
	bundle, err := e.extractor.Bundle(ctx, msg, cfg)
	if err != nil {
		e.log.Warn().Err(err).Int64("chat_id", chatID).Int("message_id", msg.ID).
			Msg("dedup: partial signature unavailable, continuing with reduced bundle")
	}
	if len(bundle) == 0 {
		return Verdict{Reason: ReasonNew}
	}

	st := e.state(indexKey(chatID, cfg))
	st.mu.Lock()
	defer st.mu.Unlock()

	now := e.now().Unix()
	st.lastSeen = now

	simBits := ThresholdBits(cfg.SimilarityThreshold)

	for _, sig := range bundle {
		key := sig.String()

		if cfg.EnableContentHash && sig.IsContentHash() {
			if _, ok := st.contentHash[key]; ok {
				return Verdict{Duplicate: true, Matched: key, Reason: ReasonContentDup}
			}
		}

		if cfg.EnableTimeWindow {
			if ent, ok := st.timeWindow[key]; ok {
				if cfg.TimeWindowHours <= 0 || now-ent.FirstSeen <= int64(cfg.TimeWindowHours)*3600 {
					return Verdict{Duplicate: true, Matched: key, Reason: ReasonTimeWindowDup}
				}
			}
		}

		if sig.Kind == KindTextSimhash && cfg.EnableSmartSimilarity {
			for _, se := range st.simhashes {
				if HammingDistance(se.FP, sig.Fingerprint()) <= simBits {
					return Verdict{Duplicate: true, Matched: se.Sig, Reason: ReasonSimilarDup}
				}
			}
		}

		// partial album overlap: enough of the album's items were already
		// seen individually
		if sig.Kind == KindAlbum && cfg.AlbumDuplicateThreshold > 0 {
			parts := strings.Split(sig.Payload, ",")
			matched := 0
			for _, p := range parts {
				if _, ok := st.contentHash[p]; ok {
					matched++
				}
			}
			if float64(matched) >= cfg.AlbumDuplicateThreshold*float64(len(parts)) {
				return Verdict{Duplicate: true, Matched: key, Reason: ReasonContentDup}
			}
		}
	}

	// not a duplicate: record the whole bundle
	for _, sig := range bundle {
		key := sig.String()
		ent := entry{ChatID: chatID, FirstSeen: now}

		if sig.IsContentHash() {
			st.contentHash[key] = ent
		}
		st.timeWindow[key] = ent
		if sig.Kind == KindTextSimhash {
			st.simhashes = append(st.simhashes, simEntry{
				FP: sig.Fingerprint(), Sig: key, ChatID: chatID, FirstSeen: now,
			})
		}
	}
	st.enforceCap(e.maxEntries)

	return Verdict{Reason: ReasonNew}
}

// PurgeExpired removes entries older than the default window from both
// indices. A window of <= 0 hours makes this a no-op (permanent cache).
func (e *Engine) PurgeExpired() {
	if e.windowHours <= 0 {
		return
	}
	cutoff := e.now().Unix() - int64(e.windowHours)*3600

	evicted := 0
	for _, st := range e.states() {
		st.mu.Lock()
		for key, ent := range st.timeWindow {
			if ent.FirstSeen < cutoff {
				delete(st.timeWindow, key)
				evicted++
			}
		}
		for key, ent := range st.contentHash {
			if ent.FirstSeen < cutoff {
				delete(st.contentHash, key)
				evicted++
			}
		}
		kept := st.simhashes[:0]
		for _, se := range st.simhashes {
			if se.FirstSeen >= cutoff {
				kept = append(kept, se)
			} else {
				evicted++
			}
		}
		st.simhashes = kept
		st.mu.Unlock()
	}

	if evicted > 10000 {
		e.log.Warn().Int("evicted", evicted).Msg("dedup: large eviction pass")
	} else if evicted > 0 {
		e.log.Debug().Int("evicted", evicted).Msg("dedup: purged expired entries")
	}
}

// RunCleanup runs PurgeExpired on a ticker until the context is done.
func (e *Engine) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.PurgeExpired()
		}
	}
}

// Statistics returns a snapshot of the index sizes.
func (e *Engine) Statistics() Stats {
	dayAgo := e.now().Add(-24 * time.Hour).Unix()

	var s Stats
	states := e.states()
	s.TrackedChats = len(states)
	for _, st := range states {
		st.mu.Lock()
		s.CachedSignatures += len(st.timeWindow)
		s.CachedContentHashes += len(st.contentHash)
		if st.lastSeen >= dayAgo {
			s.ActiveChatsToday++
		}
		st.mu.Unlock()
	}
	return s
}

// engineDump is the tombstone snapshot format.
type engineDump struct {
	Chats map[string]chatDump `json:"chats"`
}

type chatDump struct {
	TimeWindow  map[string]entry `json:"time_window"`
	ContentHash map[string]entry `json:"content_hash"`
	Simhashes   []simEntry       `json:"simhashes"`
	LastSeen    int64            `json:"last_seen"`
}

// StateDump exports the indices for the tombstone snapshot.
func (e *Engine) StateDump() (any, error) {
	dump := engineDump{Chats: make(map[string]chatDump)}

	e.mu.Lock()
	defer e.mu.Unlock()
	for key, st := range e.chats {
		st.mu.Lock()
		dump.Chats[key] = chatDump{
			TimeWindow:  cloneEntries(st.timeWindow),
			ContentHash: cloneEntries(st.contentHash),
			Simhashes:   append([]simEntry(nil), st.simhashes...),
			LastSeen:    st.lastSeen,
		}
		st.mu.Unlock()
	}
	return dump, nil
}

// RestoreState loads indices from a tombstone snapshot. Safe to call on
// a fresh engine; replaces any existing state.
func (e *Engine) RestoreState(raw json.RawMessage) error {
	var dump engineDump
	if err := json.Unmarshal(raw, &dump); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.chats = make(map[string]*chatState, len(dump.Chats))
	for key, cd := range dump.Chats {
		st := newChatState()
		if cd.TimeWindow != nil {
			st.timeWindow = cd.TimeWindow
		}
		if cd.ContentHash != nil {
			st.contentHash = cd.ContentHash
		}
		st.simhashes = cd.Simhashes
		st.lastSeen = cd.LastSeen
		e.chats[key] = st
	}
	return nil
}

// state returns the index set for a key, creating it on first use.
func (e *Engine) state(key string) *chatState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.chats[key]
	if !ok {
		st = newChatState()
		e.chats[key] = st
	}
	return st
}

func (e *Engine) states() []*chatState {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*chatState, 0, len(e.chats))
	for _, st := range e.chats {
		out = append(out, st)
	}
	return out
}

// enforceCap evicts oldest entries when an index exceeds max. Caller
// holds st.mu.
func (st *chatState) enforceCap(max int) {
	if max <= 0 {
		return
	}
	evictOldest(st.timeWindow, max)
	evictOldest(st.contentHash, max)
	if len(st.simhashes) > max {
		st.simhashes = st.simhashes[len(st.simhashes)-max:]
	}
}

func evictOldest(m map[string]entry, max int) {
	for len(m) > max {
		oldestKey := ""
		oldestTS := int64(0)
		for key, ent := range m {
			if oldestKey == "" || ent.FirstSeen < oldestTS {
				oldestKey = key
				oldestTS = ent.FirstSeen
			}
		}
		delete(m, oldestKey)
	}
}

func cloneEntries(m map[string]entry) map[string]entry {
	out := make(map[string]entry, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func indexKey(chatID int64, cfg Config) string {
	if cfg.EnableGlobalSearch {
		return globalKey
	}
	return strconv.FormatInt(chatID, 10)
}
