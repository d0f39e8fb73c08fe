// Package flow tracks multi-step user input flows: what text the bot
// expects next from a given user in a given chat.
package flow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/blockedby/tg-forwarder/internal/logger"
)

// ErrBadInput marks user input that failed validation. The state stays
// active so the user may retry.
var ErrBadInput = errors.New("bad input")

// CancelWord clears any active state when received as input.
const CancelWord = "取消"

// StateTTL is how long a state stays armed without input.
const StateTTL = 5 * time.Minute

// HandlerFunc processes the user's text for one state prefix. args are
// the colon-separated parts of the state key after the prefix. The
// returned string is the UI reply. Wrap validation failures in
// ErrBadInput to keep the state active.
type HandlerFunc func(ctx context.Context, userID int64, args []string, text string) (string, error)

type stateID struct {
	UserID int64
	ChatID int64
}

type state struct {
	key   string
	setAt time.Time
}

// Machine routes user text to the handler armed for that user+chat.
type Machine struct {
	mu       sync.Mutex
	states   map[stateID]state
	handlers map[string]HandlerFunc
	ttl      time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

// NewMachine creates an empty state machine.
func NewMachine() *Machine {
	return &Machine{
		states:   make(map[stateID]state),
		handlers: make(map[string]HandlerFunc),
		ttl:      StateTTL,
		now:      time.Now,
		log:      logger.Get().With().Str("component", "flow").Logger(),
	}
}

// Handle registers a handler for a state-key prefix, e.g. "kw_add".
func (m *Machine) Handle(prefix string, fn HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[prefix] = fn
}

// SetState arms a state for the user+chat, e.g. "kw_add:12".
func (m *Machine) SetState(userID, chatID int64, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[stateID{userID, chatID}] = state{key: key, setAt: m.now()}
}

// ClearState disarms the user+chat state.
func (m *Machine) ClearState(userID, chatID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, stateID{userID, chatID})
}

// ActiveState returns the armed state key, expiring it lazily.
func (m *Machine) ActiveState(userID, chatID int64) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := stateID{userID, chatID}
	st, ok := m.states[id]
	if !ok {
		return "", false
	}
	if m.now().Sub(st.setAt) > m.ttl {
		delete(m.states, id)
		return "", false
	}
	return st.key, true
}

// HandleText routes a text message. Returns handled=false when no state
// is armed (the text is not for us). On validation errors the state
// stays armed; on success or cancel it is cleared.
func (m *Machine) HandleText(ctx context.Context, userID, chatID int64, text string) (handled bool, reply string, err error) {
	key, ok := m.ActiveState(userID, chatID)
	if !ok {
		return false, "", nil
	}

	if strings.TrimSpace(text) == CancelWord {
		m.ClearState(userID, chatID)
		return true, "已取消", nil
	}

	prefix, args := splitKey(key)
	m.mu.Lock()
	fn, ok := m.handlers[prefix]
	m.mu.Unlock()
	if !ok {
		m.log.Warn().Str("state", key).Msg("no handler for armed state, clearing")
		m.ClearState(userID, chatID)
		return false, "", nil
	}

	reply, err = fn(ctx, userID, args, text)
	if err != nil {
		if errors.Is(err, ErrBadInput) {
			// keep the state armed and restart its ttl so the user can retry
			m.SetState(userID, chatID, key)
			return true, "", err
		}
		m.ClearState(userID, chatID)
		return true, "", err
	}
	m.ClearState(userID, chatID)
	return true, reply, nil
}

func splitKey(key string) (prefix string, args []string) {
	parts := strings.Split(key, ":")
	if len(parts) == 1 {
		return parts[0], nil
	}
	return parts[0], parts[1:]
}
