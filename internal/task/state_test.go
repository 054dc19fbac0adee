package task

import "testing"

func TestMachineHappyPath(t *testing.T) {
	m := NewMachine()
	if m.Current() != StateCreated {
		t.Fatalf("initial state = %s, want created", m.Current())
	}
	for _, next := range []State{StateStarting, StateStarted, StateExited, StateDeleting} {
		if err := m.Transition(next); err != nil {
			t.Fatalf("Transition(%s): %v", next, err)
		}
		if m.Current() != next {
			t.Fatalf("Current() = %s, want %s", m.Current(), next)
		}
	}
}

func TestMachineRejectsInvalidTransitions(t *testing.T) {
	cases := []struct {
		from, to State
	}{
		{StateCreated, StateStarted},
		{StateCreated, StateExited},
		{StateStarting, StateCreated},
		{StateStarted, StateStarting},
		{StateExited, StateStarted},
		{StateDeleting, StateCreated},
	}
	for _, c := range cases {
		m := &Machine{s: c.from}
		if err := m.Transition(c.to); err == nil {
			t.Errorf("Transition(%s -> %s): want error, got nil", c.from, c.to)
		}
		if m.Current() != c.from {
			t.Errorf("state changed after rejected transition: got %s, want %s", m.Current(), c.from)
		}
	}
}

func TestMachineDeletingOnlyFallsBackToExited(t *testing.T) {
	m := &Machine{s: StateDeleting}
	for _, next := range []State{StateCreated, StateStarting, StateStarted, StateDeleting} {
		if err := m.Transition(next); err == nil {
			t.Errorf("Transition(deleting -> %s): want error, got nil", next)
		}
	}
	if err := m.Transition(StateExited); err != nil {
		t.Errorf("Transition(deleting -> exited): want nil, got %v", err)
	}
}
