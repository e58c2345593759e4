package model

import (
	"testing"
	"time"
)

// TestNodeStateString tests the String method of NodeState.
func TestNodeStateString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state NodeState
		want  string
	}{
		{NodeStarting, "starting"},
		{NodeReady, "ready"},
		{NodeInUse, "in_use"},
		{NodeQuarantined, "quarantined"},
		{NodeRetiring, "retiring"},
		{NodeDead, "dead"},
		{NodeState(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("NodeState(%d).String() = %q, expected %q", tt.state, got, tt.want)
		}
	}
}

// TestNodeStateLeasable tests that only Ready nodes are leasable.
func TestNodeStateLeasable(t *testing.T) {
	t.Parallel()

	leasable := map[NodeState]bool{
		NodeStarting:    false,
		NodeReady:       true,
		NodeInUse:       false,
		NodeQuarantined: false,
		NodeRetiring:    false,
		NodeDead:        false,
	}

	for state, want := range leasable {
		if got := state.Leasable(); got != want {
			t.Errorf("%s.Leasable() = %v, expected %v", state, got, want)
		}
	}
}

// TestExitNodeAge tests identity age computation.
func TestExitNodeAge(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	t.Run("age measured from last rotation", func(t *testing.T) {
		t.Parallel()

		node := ExitNode{LastRotatedAt: now.Add(-30 * time.Minute)}
		if got := node.Age(now); got != 30*time.Minute {
			t.Errorf("got %v, expected 30m", got)
		}
	})

	t.Run("zero rotation time yields zero age", func(t *testing.T) {
		t.Parallel()

		var node ExitNode
		if got := node.Age(now); got != 0 {
			t.Errorf("got %v, expected 0", got)
		}
	})
}

// TestExitNodeTimeQuarantined tests cumulative quarantine accounting.
func TestExitNodeTimeQuarantined(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	t.Run("includes current stay", func(t *testing.T) {
		t.Parallel()

		node := ExitNode{
			QuarantinedFor: 5 * time.Minute,
			QuarantinedAt:  now.Add(-2 * time.Minute),
		}
		if got := node.TimeQuarantined(now); got != 7*time.Minute {
			t.Errorf("got %v, expected 7m", got)
		}
	})

	t.Run("past stays only when not quarantined", func(t *testing.T) {
		t.Parallel()

		node := ExitNode{QuarantinedFor: 5 * time.Minute}
		if got := node.TimeQuarantined(now); got != 5*time.Minute {
			t.Errorf("got %v, expected 5m", got)
		}
	})
}
