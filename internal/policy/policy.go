package policy

import (
	"time"

	"github.com/torcirc/torcirc/internal/model"
)

// RotationPolicy decides when a circuit's identity must be replaced and
// when the circuit itself must be destroyed. Implementations are pure:
// they inspect a node snapshot and a clock reading, mutate nothing, and
// may be swapped (for example a stricter policy for targets known to
// fingerprint aggressively) without touching the pool.
type RotationPolicy interface {
	// ShouldRotate reports whether the node needs a fresh identity:
	// the current identity is too old, or it has accumulated enough
	// consecutive failures that the exit is likely blocked.
	ShouldRotate(node model.ExitNode, now time.Time) bool

	// ShouldRetire reports whether the node is beyond saving and its
	// underlying resource should be destroyed.
	ShouldRetire(node model.ExitNode, now time.Time) bool
}

// Thresholds configures a ThresholdPolicy. All values come from
// configuration; nothing here is hardcoded.
type Thresholds struct {
	// MaxAge rotates identities older than this regardless of health.
	MaxAge time.Duration

	// FailureThreshold is the consecutive-failure count that triggers
	// rotation.
	FailureThreshold int

	// RetireThreshold is the consecutive-failure count that triggers
	// retirement. Must exceed FailureThreshold so rotation is always
	// tried before teardown.
	RetireThreshold int

	// QuarantineCeiling retires nodes whose cumulative quarantine time
	// exceeds it, even if they never reach RetireThreshold.
	QuarantineCeiling time.Duration
}

// ThresholdPolicy is the standard RotationPolicy: age- and
// failure-count-based rotation, with retirement as the stricter fallback.
type ThresholdPolicy struct {
	thresholds Thresholds
}

// NewThresholdPolicy creates a ThresholdPolicy from the given thresholds.
func NewThresholdPolicy(t Thresholds) *ThresholdPolicy {
	return &ThresholdPolicy{thresholds: t}
}

// ShouldRotate implements RotationPolicy.
func (p *ThresholdPolicy) ShouldRotate(node model.ExitNode, now time.Time) bool {
	if p.thresholds.MaxAge > 0 && node.Age(now) > p.thresholds.MaxAge {
		return true
	}
	return node.ConsecutiveFailures >= p.thresholds.FailureThreshold
}

// ShouldRetire implements RotationPolicy.
func (p *ThresholdPolicy) ShouldRetire(node model.ExitNode, now time.Time) bool {
	if node.ConsecutiveFailures >= p.thresholds.RetireThreshold {
		return true
	}
	return p.thresholds.QuarantineCeiling > 0 &&
		node.TimeQuarantined(now) > p.thresholds.QuarantineCeiling
}
