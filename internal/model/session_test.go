package model

import "testing"

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from  SessionState
		event SessionEvent
		to    SessionState
		ok    bool
	}{
		{SessionNone, EventStart, SessionActive, true},
		{SessionActive, EventOffline, SessionPaused, true},
		{SessionActive, EventHeartbeatTimeout, SessionPaused, true},
		{SessionActive, EventForcedExit, SessionPaused, true},
		{SessionPaused, EventResume, SessionActive, true},
		{SessionActive, EventViolationLimit, SessionTerminated, true},
		{SessionPaused, EventAbandon, SessionTerminated, true},
		{SessionActive, EventTimeUp, SessionCompleted, true},
		{SessionPaused, EventTimeUp, SessionCompleted, true},
		{SessionActive, EventLastAnswer, SessionCompleted, true},
		{SessionPaused, EventSubmit, SessionCompleted, true},

		{SessionPaused, EventViolationLimit, "", false},
		{SessionActive, EventResume, "", false},
		{SessionPaused, EventOffline, "", false},
		{SessionNone, EventResume, "", false},
		{SessionActive, EventStart, "", false},
	}

	for _, tt := range tests {
		to, ok := Transition(tt.from, tt.event)
		if ok != tt.ok || to != tt.to {
			t.Errorf("Transition(%q, %q) = (%q, %v), want (%q, %v)", tt.from, tt.event, to, ok, tt.to, tt.ok)
		}
	}
}

func TestAbsorbingStatesHaveNoExit(t *testing.T) {
	events := []SessionEvent{
		EventStart, EventOffline, EventHeartbeatTimeout, EventForcedExit, EventStaffPause,
		EventResume, EventViolationLimit, EventAbandon, EventTimeUp, EventLastAnswer, EventSubmit,
	}
	for _, from := range []SessionState{SessionTerminated, SessionCompleted} {
		if !from.Absorbing() {
			t.Fatalf("%q should be absorbing", from)
		}
		for _, ev := range events {
			if to, ok := Transition(from, ev); ok {
				t.Errorf("Transition(%q, %q) escaped to %q", from, ev, to)
			}
		}
	}
}

func TestSources(t *testing.T) {
	got := Sources(EventTimeUp)
	if len(got) != 2 || got[0] != SessionActive || got[1] != SessionPaused {
		t.Errorf("Sources(time_up) = %v", got)
	}
	if got := Sources(EventStart); len(got) != 0 {
		t.Errorf("Sources(start) = %v, want none", got)
	}
}
