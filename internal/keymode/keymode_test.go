package keymode

import (
	"errors"
	"testing"
)

// TestMemorySwitcher verifies the in-memory switcher tracks applied modes.
func TestMemorySwitcher(t *testing.T) {
	m := NewMemorySwitcher(StateApple)

	cur, err := m.Current()
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if cur != StateApple {
		t.Errorf("expected apple, got %v", cur)
	}

	if err := m.Apply(StateOther); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	cur, _ = m.Current()
	if cur != StateOther {
		t.Errorf("expected other after apply, got %v", cur)
	}

	applied := m.Applied()
	if len(applied) != 1 || applied[0] != StateOther {
		t.Errorf("unexpected applied log: %v", applied)
	}

	ok, _ := m.Available()
	if !ok {
		t.Error("memory switcher should always be available")
	}
}

// TestMemorySwitcherRejectsError verifies StateError never applies.
func TestMemorySwitcherRejectsError(t *testing.T) {
	m := NewMemorySwitcher(StateApple)

	err := m.Apply(StateError)
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}

	if len(m.Applied()) != 0 {
		t.Error("failed apply should not be recorded")
	}

	cur, _ := m.Current()
	if cur != StateApple {
		t.Errorf("state should be unchanged, got %v", cur)
	}
}
