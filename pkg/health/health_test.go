package health

import (
	"errors"
	"testing"
)

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateHealthy, "healthy"},
		{StateDegraded, "degraded"},
		{StateUnavailable, "unavailable"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestRegisterComponentStartsHealthy(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.RegisterComponent("storage")

	if got := tracker.GetState("storage"); got != StateHealthy {
		t.Errorf("GetState = %v, want healthy", got)
	}
	if !tracker.IsHealthy("storage") {
		t.Error("IsHealthy = false, want true")
	}
}

func TestUnknownComponentIsUnavailable(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	if got := tracker.GetState("nope"); got != StateUnavailable {
		t.Errorf("GetState for unknown = %v, want unavailable", got)
	}
}

func TestErrorThresholdsDegradeComponent(t *testing.T) {
	tracker := NewTracker(TrackerConfig{
		DegradedThreshold:    2,
		UnavailableThreshold: 4,
		RecoveryThreshold:    2,
	})
	tracker.RegisterComponent("storage")
	failure := errors.New("connection refused")

	tracker.RecordError("storage", failure)
	if got := tracker.GetState("storage"); got != StateHealthy {
		t.Errorf("After 1 error: %v, want healthy", got)
	}

	tracker.RecordError("storage", failure)
	if got := tracker.GetState("storage"); got != StateDegraded {
		t.Errorf("After 2 errors: %v, want degraded", got)
	}

	tracker.RecordError("storage", failure)
	tracker.RecordError("storage", failure)
	if got := tracker.GetState("storage"); got != StateUnavailable {
		t.Errorf("After 4 errors: %v, want unavailable", got)
	}

	snapshot, ok := tracker.GetComponentHealth("storage")
	if !ok {
		t.Fatal("GetComponentHealth: component missing")
	}
	if snapshot.ConsecutiveErrors != 4 {
		t.Errorf("ConsecutiveErrors = %d, want 4", snapshot.ConsecutiveErrors)
	}
	if snapshot.LastErrorMessage != "connection refused" {
		t.Errorf("LastErrorMessage = %q", snapshot.LastErrorMessage)
	}
}

func TestRecoveryRequiresConsecutiveSuccesses(t *testing.T) {
	tracker := NewTracker(TrackerConfig{
		DegradedThreshold:    1,
		UnavailableThreshold: 10,
		RecoveryThreshold:    2,
	})
	tracker.RegisterComponent("storage")

	tracker.RecordError("storage", errors.New("boom"))
	if got := tracker.GetState("storage"); got != StateDegraded {
		t.Fatalf("Expected degraded, got %v", got)
	}

	tracker.RecordSuccess("storage")
	if got := tracker.GetState("storage"); got != StateDegraded {
		t.Errorf("One success should not recover, got %v", got)
	}

	tracker.RecordSuccess("storage")
	if got := tracker.GetState("storage"); got != StateHealthy {
		t.Errorf("Two successes should recover, got %v", got)
	}
}

func TestSetStateBypassesThresholds(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.RegisterComponent("storage")

	tracker.SetState("storage", StateUnavailable)
	if got := tracker.GetState("storage"); got != StateUnavailable {
		t.Errorf("GetState = %v, want unavailable", got)
	}

	tracker.SetState("storage", StateHealthy)
	if got := tracker.GetState("storage"); got != StateHealthy {
		t.Errorf("GetState = %v, want healthy", got)
	}
}

func TestOverallHealthIsWorstComponent(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.RegisterComponent("service")
	tracker.RegisterComponent("storage")

	if got := tracker.GetOverallHealth(); got != StateHealthy {
		t.Errorf("Overall = %v, want healthy", got)
	}

	tracker.SetState("storage", StateDegraded)
	if got := tracker.GetOverallHealth(); got != StateDegraded {
		t.Errorf("Overall = %v, want degraded", got)
	}

	tracker.SetState("storage", StateUnavailable)
	if got := tracker.GetOverallHealth(); got != StateUnavailable {
		t.Errorf("Overall = %v, want unavailable", got)
	}
}

func TestStateChangeCallback(t *testing.T) {
	tracker := NewTracker(TrackerConfig{
		DegradedThreshold:    1,
		UnavailableThreshold: 10,
		RecoveryThreshold:    1,
	})
	tracker.RegisterComponent("storage")

	type change struct {
		component string
		old, new  State
	}
	var changes []change
	tracker.AddStateChangeCallback(func(component string, oldState, newState State) {
		changes = append(changes, change{component, oldState, newState})
	})

	tracker.RecordError("storage", errors.New("boom"))
	tracker.RecordSuccess("storage")

	if len(changes) != 2 {
		t.Fatalf("Expected 2 state changes, got %d", len(changes))
	}
	if changes[0].old != StateHealthy || changes[0].new != StateDegraded {
		t.Errorf("First change = %+v", changes[0])
	}
	if changes[1].old != StateDegraded || changes[1].new != StateHealthy {
		t.Errorf("Second change = %+v", changes[1])
	}
}

func TestCallbackNotFiredWithoutTransition(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.RegisterComponent("storage")

	fired := 0
	tracker.AddStateChangeCallback(func(string, State, State) { fired++ })

	tracker.RecordSuccess("storage")
	tracker.RecordSuccess("storage")
	tracker.SetState("storage", StateHealthy)

	if fired != 0 {
		t.Errorf("Callback fired %d times for no-op transitions", fired)
	}
}
