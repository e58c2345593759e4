package policy

import (
	"testing"
	"time"

	"github.com/torcirc/torcirc/internal/model"
)

var testThresholds = Thresholds{
	MaxAge:            15 * time.Minute,
	FailureThreshold:  3,
	RetireThreshold:   6,
	QuarantineCeiling: 10 * time.Minute,
}

// TestThresholdPolicyShouldRotate tests rotation triggers.
func TestThresholdPolicyShouldRotate(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	p := NewThresholdPolicy(testThresholds)

	tests := []struct {
		name string
		node model.ExitNode
		want bool
	}{
		{
			name: "fresh healthy node",
			node: model.ExitNode{LastRotatedAt: now.Add(-time.Minute)},
			want: false,
		},
		{
			name: "identity past max age",
			node: model.ExitNode{LastRotatedAt: now.Add(-16 * time.Minute)},
			want: true,
		},
		{
			name: "failures at threshold",
			node: model.ExitNode{LastRotatedAt: now, ConsecutiveFailures: 3},
			want: true,
		},
		{
			name: "failures below threshold",
			node: model.ExitNode{LastRotatedAt: now, ConsecutiveFailures: 2},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := p.ShouldRotate(tt.node, now); got != tt.want {
				t.Errorf("ShouldRotate() = %v, expected %v", got, tt.want)
			}
		})
	}
}

// TestThresholdPolicyShouldRetire tests retirement triggers.
func TestThresholdPolicyShouldRetire(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	p := NewThresholdPolicy(testThresholds)

	tests := []struct {
		name string
		node model.ExitNode
		want bool
	}{
		{
			name: "healthy node",
			node: model.ExitNode{LastRotatedAt: now},
			want: false,
		},
		{
			name: "failures at retire threshold",
			node: model.ExitNode{ConsecutiveFailures: 6},
			want: true,
		},
		{
			name: "rotation-worthy but not retire-worthy",
			node: model.ExitNode{ConsecutiveFailures: 4},
			want: false,
		},
		{
			name: "cumulative quarantine past ceiling",
			node: model.ExitNode{QuarantinedFor: 11 * time.Minute},
			want: true,
		},
		{
			name: "current quarantine stay counts",
			node: model.ExitNode{
				QuarantinedFor: 6 * time.Minute,
				QuarantinedAt:  now.Add(-5 * time.Minute),
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := p.ShouldRetire(tt.node, now); got != tt.want {
				t.Errorf("ShouldRetire() = %v, expected %v", got, tt.want)
			}
		})
	}
}

// TestRotateBeforeRetire tests the intended threshold ordering: every
// failure count that retires a node would also have rotated it.
func TestRotateBeforeRetire(t *testing.T) {
	t.Parallel()

	now := time.Now()
	p := NewThresholdPolicy(testThresholds)

	for failures := 0; failures <= 10; failures++ {
		node := model.ExitNode{LastRotatedAt: now, ConsecutiveFailures: failures}
		if p.ShouldRetire(node, now) && !p.ShouldRotate(node, now) {
			t.Errorf("failures=%d retires without rotating first", failures)
		}
	}
}

// TestZeroCeilingsDisableChecks tests that zero MaxAge and ceiling are inert.
func TestZeroCeilingsDisableChecks(t *testing.T) {
	t.Parallel()

	now := time.Now()
	p := NewThresholdPolicy(Thresholds{FailureThreshold: 3, RetireThreshold: 6})

	old := model.ExitNode{
		LastRotatedAt:  now.Add(-24 * time.Hour),
		QuarantinedFor: 24 * time.Hour,
	}
	if p.ShouldRotate(old, now) {
		t.Error("zero MaxAge must disable age-based rotation")
	}
	if p.ShouldRetire(old, now) {
		t.Error("zero QuarantineCeiling must disable quarantine-based retirement")
	}
}
