package model

import (
	"time"
)

// NodeState represents the lifecycle state of an exit node.
//
// State transitions are owned exclusively by the pool:
//
//	Starting ──(first successful probe)──▶ Ready
//	Ready ──(checkout)──▶ InUse ──(checkin)──▶ Ready | Quarantined | Retiring
//	Quarantined ──(successful probe)──▶ Ready
//	Retiring ──(runtime teardown)──▶ Dead
//
// A node is never lent out while Quarantined, Retiring, or Dead.
type NodeState int

const (
	// NodeStarting means the underlying circuit runtime has been launched
	// but the node has not yet passed its first health probe.
	NodeStarting NodeState = iota

	// NodeReady means the node is healthy and eligible for checkout.
	NodeReady

	// NodeInUse means exactly one outstanding lease exists for the node,
	// held either by a dispatch worker or by the health monitor.
	NodeInUse

	// NodeQuarantined means the node is suspended from job eligibility
	// pending health recovery or in-place identity rotation.
	NodeQuarantined

	// NodeRetiring means the node has been selected for teardown.
	// If a lease is outstanding, teardown happens at checkin.
	NodeRetiring

	// NodeDead means the underlying runtime resource has been destroyed.
	NodeDead
)

// String returns the lowercase state name used in logs and reports.
func (s NodeState) String() string {
	switch s {
	case NodeStarting:
		return "starting"
	case NodeReady:
		return "ready"
	case NodeInUse:
		return "in_use"
	case NodeQuarantined:
		return "quarantined"
	case NodeRetiring:
		return "retiring"
	case NodeDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Leasable reports whether a node in this state may be handed out on checkout.
func (s NodeState) Leasable() bool {
	return s == NodeReady
}

// ExitNode is a point-in-time view of one managed Tor exit identity.
//
// The pool is the single owner of node state; everything outside the pool
// (scheduler, health monitor, report writers) only ever sees value copies
// taken while the pool lock is held. The opaque runtime handle is deliberately
// absent from this type so it cannot leak past the pool boundary.
type ExitNode struct {
	// ID uniquely identifies the node for its whole lifetime.
	// Rotation keeps the ID; retirement destroys it.
	ID string

	// ProxyAddr is the SOCKS5 endpoint callers route traffic through,
	// in "host:port" form.
	ProxyAddr string

	// ControlAddr is the Tor control-port endpoint used internally to
	// request identity rotation. Never exposed to job callers.
	ControlAddr string

	// ExitIP is the external address the circuit currently presents,
	// resolved out-of-band by the health monitor. Empty until discovered.
	ExitIP string

	// State is the node's position in the lifecycle above.
	State NodeState

	// CreatedAt is when the runtime resource was started.
	CreatedAt time.Time

	// LastRotatedAt is when the node last received a fresh identity.
	// Set to CreatedAt on creation and reset by every successful rotation.
	// Checkout prefers the least recently rotated Ready node.
	LastRotatedAt time.Time

	// LastHealthyAt is when the node last passed a probe or served a
	// successful request.
	LastHealthyAt time.Time

	// ConsecutiveFailures counts failed requests and probes since the
	// last success. Reset on success and on rotation.
	ConsecutiveFailures int

	// QuarantinedAt is when the node entered quarantine.
	// Zero while the node is not quarantined.
	QuarantinedAt time.Time

	// QuarantinedFor is the cumulative time the node has spent in
	// quarantine across its lifetime, excluding the current stay.
	QuarantinedFor time.Duration
}

// Age returns how long the current identity has been in use.
func (n ExitNode) Age(now time.Time) time.Duration {
	if n.LastRotatedAt.IsZero() {
		return 0
	}
	return now.Sub(n.LastRotatedAt)
}

// TimeQuarantined returns the node's total quarantine time including the
// current stay, if any.
func (n ExitNode) TimeQuarantined(now time.Time) time.Duration {
	total := n.QuarantinedFor
	if !n.QuarantinedAt.IsZero() {
		total += now.Sub(n.QuarantinedAt)
	}
	return total
}
