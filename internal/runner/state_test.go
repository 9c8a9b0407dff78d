package runner

import "testing"

func TestStateString(t *testing.T) {
	cases := map[State]string{
		NotStarted: "NOT_STARTED",
		Starting:   "STARTING",
		Reading:    "READING",
		Paused:     "PAUSED",
		Publishing: "PUBLISHING",
		Success:    "SUCCESS",
		Failure:    "FAILURE",
		State(99):  "UNKNOWN",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestStateIsTerminal(t *testing.T) {
	terminal := []State{Success, Failure}
	nonTerminal := []State{NotStarted, Starting, Reading, Paused, Publishing}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
