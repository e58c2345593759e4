package runtime

import (
	"context"
	"time"
)

// Handle is the opaque reference to one running circuit resource.
// It is owned exclusively by the pool and never crosses the pool boundary;
// callers interact with circuits only through the proxy and control
// addresses surfaced on the node model.
type Handle struct {
	// Ref identifies the resource to the backing runtime: a container
	// name for the docker runtime, a process key for the embedded one.
	Ref string

	// ProxyAddr is the circuit's SOCKS5 endpoint in "host:port" form.
	ProxyAddr string

	// ControlAddr is the Tor control-port endpoint in "host:port" form.
	ControlAddr string

	// CookiePath is the control-port auth cookie file, when the runtime
	// uses cookie authentication. Empty means null authentication.
	CookiePath string
}

// NodeConfig carries per-start parameters for a new circuit.
type NodeConfig struct {
	// StartupTimeout bounds how long Start may wait for the circuit to
	// bootstrap and open its SOCKS listener.
	StartupTimeout time.Duration
}

// Runtime instantiates and destroys circuit resources. The pool depends
// only on this contract; docker containers and embedded Tor processes are
// interchangeable behind it.
//
// Implementations must make Stop idempotent: stopping an already-destroyed
// handle is a no-op, not an error.
type Runtime interface {
	// Start launches a new circuit and blocks until its SOCKS endpoint
	// accepts connections or the startup timeout elapses.
	Start(ctx context.Context, cfg NodeConfig) (Handle, error)

	// Stop destroys the circuit resource.
	Stop(ctx context.Context, h Handle) error

	// Probe reports whether the underlying resource is still alive.
	// This checks the resource (process/container), not circuit quality;
	// end-to-end health is the monitor's job.
	Probe(ctx context.Context, h Handle) (bool, error)
}

// Rotator issues the single control-channel command: rotate identity.
// The command must be idempotent and answer within a bounded timeout.
type Rotator interface {
	RotateIdentity(ctx context.Context, h Handle) error
}
