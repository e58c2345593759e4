package pool

import (
	"context"

	"github.com/torcirc/torcirc/internal/model"
)

type leaseKind int

const (
	// leaseJob is held by a dispatch worker routing a scrape request.
	leaseJob leaseKind = iota

	// leaseProbe is held by the health monitor. Same exclusivity as a
	// job lease; a node is never probed and dispatched at once.
	leaseProbe
)

// Lease is the exclusive right to use one node until checked in.
// It carries a snapshot of the node taken at checkout; live state stays
// inside the pool.
type Lease struct {
	pool   *Pool
	nodeID string
	kind   leaseKind

	// prev is the state to restore on an aborted checkin. Ready for job
	// leases, Ready or Quarantined for probe leases.
	prev model.NodeState

	node model.ExitNode

	// done guards against double checkin; guarded by pool.mu.
	done bool
}

// NodeID returns the leased node's identifier.
func (l *Lease) NodeID() string {
	return l.nodeID
}

// Node returns the checkout-time snapshot of the leased node.
func (l *Lease) Node() model.ExitNode {
	return l.node
}

// ProxyAddr returns the SOCKS5 endpoint to route traffic through.
func (l *Lease) ProxyAddr() string {
	return l.node.ProxyAddr
}

// Rotate requests a fresh identity for the leased node over its control
// endpoint. Only the lease holder may rotate, which keeps rotation and
// traffic from interleaving on one circuit. The caller still checks the
// lease in, with OutcomeRotated on success.
func (l *Lease) Rotate(ctx context.Context) error {
	if l.pool.rotator == nil {
		return ErrRotationUnsupported
	}

	l.pool.mu.Lock()
	m, ok := l.pool.nodes[l.nodeID]
	if !ok {
		l.pool.mu.Unlock()
		return ErrUnknownNode
	}
	h := m.handle
	l.pool.mu.Unlock()

	return l.pool.rotator.RotateIdentity(ctx, h)
}
