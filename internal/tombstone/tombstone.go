// Package tombstone snapshots registered component state to disk so a
// restarted process can resume where it left off.
package tombstone

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/blockedby/tg-forwarder/internal/logger"
)

// GetStateFunc exports a component's state as a JSON-serializable value.
type GetStateFunc func() (any, error)

// RestoreFunc loads a component's state from its snapshot fragment.
type RestoreFunc func(json.RawMessage) error

type component struct {
	name    string
	get     GetStateFunc
	restore RestoreFunc
}

// DefaultCooldown is the minimum interval between two freezes.
const DefaultCooldown = 300 * time.Second

// Manager coordinates state snapshots across components. One instance
// per process; freeze and resurrect serialize on a single mutex.
type Manager struct {
	mu         sync.Mutex
	components []component

	path       string
	cooldown   time.Duration
	lastFreeze time.Time
	frozen     bool

	now func() time.Time
	log *logger.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithCooldown overrides the freeze cooldown.
func WithCooldown(d time.Duration) Option {
	return func(m *Manager) { m.cooldown = d }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a tombstone manager writing snapshots to path.
func NewManager(path string, opts ...Option) *Manager {
	m := &Manager{
		path:     path,
		cooldown: DefaultCooldown,
		now:      time.Now,
		log:      logger.Get(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a component. Restore order follows registration order.
func (m *Manager) Register(name string, get GetStateFunc, restore RestoreFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, component{name: name, get: get, restore: restore})
}

// Freeze collects all component states and writes one atomic snapshot.
// A freeze inside the cooldown window, or while already frozen, is
// silently skipped. If any component fails to export, no file is written.
func (m *Manager) Freeze() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frozen {
		return nil
	}
	if !m.lastFreeze.IsZero() && m.now().Sub(m.lastFreeze) < m.cooldown {
		m.log.Debug().Msg("tombstone: freeze skipped, cooldown active")
		return nil
	}

	m.log.Info().Int("components", len(m.components)).Msg("tombstone: freezing state")

	dump := make(map[string]any, len(m.components))
	for _, c := range m.components {
		state, err := c.get()
		if err != nil {
			// abort without writing: a partial snapshot would lose data
			return fmt.Errorf("freeze component %s: %w", c.name, err)
		}
		if state != nil {
			dump[c.name] = state
		}
	}

	data, err := json.Marshal(dump)
	if err != nil {
		return fmt.Errorf("serialize snapshot: %w", err)
	}

	if err := m.writeAtomic(data); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	m.frozen = true
	m.lastFreeze = m.now()

	// hand unused heap back to the OS, like the hibernate it models
	debug.FreeOSMemory()

	m.log.Info().Int("bytes", len(data)).Msg("tombstone: freeze complete")
	return nil
}

// Resurrect restores component states from the snapshot file. A missing
// file means a first boot; a corrupt file is logged and treated as empty.
// Individual component restore failures do not abort the others.
func (m *Manager) Resurrect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read snapshot: %w", err)
	}

	var dump map[string]json.RawMessage
	if err := json.Unmarshal(data, &dump); err != nil {
		m.log.Error().Err(err).Msg("tombstone: snapshot corrupt, starting empty")
		m.frozen = false
		return nil
	}

	restored := 0
	for _, c := range m.components {
		raw, ok := dump[c.name]
		if !ok {
			continue
		}
		if err := c.restore(raw); err != nil {
			m.log.Error().Err(err).Str("component", c.name).Msg("tombstone: component restore failed")
			continue
		}
		restored++
	}

	m.frozen = false
	m.log.Info().Int("restored", restored).Msg("tombstone: resurrect complete")
	return nil
}

// IsFrozen reports whether the last lifecycle event was a freeze.
func (m *Manager) IsFrozen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frozen
}

// writeAtomic writes data via a temp file in the same directory, fsyncs
// and renames it over the target. The file is never left half-written.
func (m *Manager) writeAtomic(data []byte) error {
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(m.path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, m.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
