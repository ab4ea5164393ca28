package lifecycle

import "testing"

func TestValidTransitions(t *testing.T) {
	cases := []struct {
		from, to AgentState
		wantErr  bool
	}{
		{StateAbsent, StateCreated, false},
		{StateCreated, StateRunning, false},
		{StateRunning, StateStopped, false},
		{StateStopped, StateRunning, false},
		{StateRunning, StateRecreating, false},
		{StateRecreating, StateRunning, false},
		{StateRunning, StateGone, false},
		{StateAbsent, StateRunning, true},
		{StateGone, StateRunning, true},
		{StateOrphan, StateRunning, true},
		{StateOrphan, StateStopped, false},
	}
	for _, tc := range cases {
		err := validateTransition(tc.from, tc.to)
		if tc.wantErr && err == nil {
			t.Errorf("%s -> %s: expected error, got nil", tc.from, tc.to)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("%s -> %s: expected no error, got %v", tc.from, tc.to, err)
		}
	}
}

func TestValidateTransitionSameStateIsNoOp(t *testing.T) {
	if err := validateTransition(StateRunning, StateRunning); err != nil {
		t.Fatalf("same-state transition should never error, got %v", err)
	}
}
