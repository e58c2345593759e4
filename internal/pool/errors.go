package pool

import "errors"

// Pool errors. Exhaustion is transient and drives requeueing in the
// scheduler; shutdown is terminal for new checkouts only.
var (
	// ErrPoolExhausted is returned when no Ready node became available
	// within the checkout timeout. Callers should treat this as a
	// transient condition and retry after a delay.
	ErrPoolExhausted = errors.New("exit node pool exhausted")

	// ErrPoolShuttingDown is returned for checkouts attempted while the
	// pool is draining. In-flight leases are allowed to finish.
	ErrPoolShuttingDown = errors.New("exit node pool shutting down")

	// ErrNodeBusy is returned when a probe lease is requested for a node
	// that is currently checked out. Probing and dispatch are mutually
	// exclusive per node.
	ErrNodeBusy = errors.New("node is currently leased")

	// ErrUnknownNode is returned when a probe lease names a node that is
	// not in the pool.
	ErrUnknownNode = errors.New("unknown node")

	// ErrNodeNotProbeEligible is returned when a probe lease is requested
	// for a node in a state that must not be probed (Starting, Retiring,
	// Dead).
	ErrNodeNotProbeEligible = errors.New("node not eligible for probing")

	// ErrRotationUnsupported is returned by Lease.Rotate when the pool
	// was built without a rotator.
	ErrRotationUnsupported = errors.New("identity rotation not configured")
)
