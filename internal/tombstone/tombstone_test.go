package tombstone

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeComponent struct {
	state    map[string]int
	restored map[string]int
	getErr   error
}

func (f *fakeComponent) get() (any, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.state, nil
}

func (f *fakeComponent) restore(raw json.RawMessage) error {
	return json.Unmarshal(raw, &f.restored)
}

func TestManager_FreezeResurrectRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.bin")

	c := &fakeComponent{state: map[string]int{"a": 1, "b": -2}}
	m := NewManager(path, WithCooldown(0))
	m.Register("comp", c.get, c.restore)

	if err := m.Freeze(); err != nil {
		t.Fatalf("Freeze() error = %v", err)
	}
	if !m.IsFrozen() {
		t.Errorf("IsFrozen() = false after freeze")
	}

	// a fresh manager restores the same state
	c2 := &fakeComponent{}
	m2 := NewManager(path)
	m2.Register("comp", c2.get, c2.restore)

	if err := m2.Resurrect(); err != nil {
		t.Fatalf("Resurrect() error = %v", err)
	}
	if c2.restored["a"] != 1 || c2.restored["b"] != -2 {
		t.Errorf("restored state = %v, want original", c2.restored)
	}
	if m2.IsFrozen() {
		t.Errorf("IsFrozen() = true after resurrect")
	}
}

func TestManager_FreezeAbortsOnComponentError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.bin")

	ok := &fakeComponent{state: map[string]int{"x": 1}}
	bad := &fakeComponent{getErr: errors.New("export failed")}

	m := NewManager(path, WithCooldown(0))
	m.Register("ok", ok.get, ok.restore)
	m.Register("bad", bad.get, bad.restore)

	if err := m.Freeze(); err == nil {
		t.Fatalf("Freeze() error = nil, want export failure")
	}
	if m.IsFrozen() {
		t.Errorf("IsFrozen() = true after failed freeze")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("snapshot file written despite aborted freeze")
	}
}

func TestManager_FreezeCooldown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.bin")
	now := time.Unix(1700000000, 0)

	c := &fakeComponent{state: map[string]int{"n": 1}}
	m := NewManager(path, WithCooldown(300*time.Second), WithClock(func() time.Time { return now }))
	m.Register("comp", c.get, c.restore)

	if err := m.Freeze(); err != nil {
		t.Fatalf("first Freeze() error = %v", err)
	}

	// resurrect so frozen flag is cleared, then try again inside cooldown
	if err := m.Resurrect(); err != nil {
		t.Fatalf("Resurrect() error = %v", err)
	}
	os.Remove(path)

	now = now.Add(100 * time.Second)
	if err := m.Freeze(); err != nil {
		t.Fatalf("second Freeze() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("freeze ran during cooldown window")
	}

	// past the cooldown it runs again
	now = now.Add(300 * time.Second)
	if err := m.Freeze(); err != nil {
		t.Fatalf("third Freeze() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("snapshot missing after cooldown elapsed: %v", err)
	}
}

func TestManager_ResurrectMissingFile(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "absent.bin"))
	if err := m.Resurrect(); err != nil {
		t.Fatalf("Resurrect() on missing file error = %v", err)
	}
}

func TestManager_ResurrectCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.bin")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	c := &fakeComponent{}
	m := NewManager(path)
	m.Register("comp", c.get, c.restore)

	if err := m.Resurrect(); err != nil {
		t.Fatalf("Resurrect() on corrupt file error = %v", err)
	}
	if len(c.restored) != 0 {
		t.Errorf("restored state from corrupt file: %v", c.restored)
	}
}

func TestManager_ResurrectIsolatesComponentFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.bin")

	good := &fakeComponent{state: map[string]int{"v": 7}}
	m := NewManager(path, WithCooldown(0))
	m.Register("bad", func() (any, error) { return "a string", nil }, func(json.RawMessage) error {
		return errors.New("restore failed")
	})
	m.Register("good", good.get, good.restore)

	if err := m.Freeze(); err != nil {
		t.Fatalf("Freeze() error = %v", err)
	}

	good2 := &fakeComponent{}
	m2 := NewManager(path)
	m2.Register("bad", func() (any, error) { return nil, nil }, func(json.RawMessage) error {
		return errors.New("restore failed")
	})
	m2.Register("good", good2.get, good2.restore)

	if err := m2.Resurrect(); err != nil {
		t.Fatalf("Resurrect() error = %v", err)
	}
	if good2.restored["v"] != 7 {
		t.Errorf("good component not restored after sibling failure: %v", good2.restored)
	}
}
