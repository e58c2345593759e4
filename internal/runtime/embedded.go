package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nao1215/tornago"
)

// controlCookieFile is the auth cookie filename inside a Tor data directory.
const controlCookieFile = "control_auth_cookie"

// EmbeddedRuntime realizes circuits as embedded Tor daemons launched
// through tornago, one process per circuit. No docker installation is
// required; each process gets OS-assigned SOCKS and control ports and
// its own data directory.
//
// Starting a circuit takes one to three minutes while the daemon
// downloads directory information and builds its first circuits.
type EmbeddedRuntime struct {
	logger *slog.Logger

	mu    sync.Mutex
	procs map[string]*tornago.TorProcess
}

// EmbeddedOption configures an EmbeddedRuntime.
type EmbeddedOption func(*EmbeddedRuntime)

// WithEmbeddedLogger sets the logger used for process lifecycle events.
func WithEmbeddedLogger(logger *slog.Logger) EmbeddedOption {
	return func(e *EmbeddedRuntime) {
		e.logger = logger
	}
}

// NewEmbeddedRuntime creates a tornago-backed circuit runtime.
func NewEmbeddedRuntime(opts ...EmbeddedOption) *EmbeddedRuntime {
	e := &EmbeddedRuntime{
		procs: make(map[string]*tornago.TorProcess),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Start launches one embedded Tor daemon and blocks until it bootstraps.
func (e *EmbeddedRuntime) Start(ctx context.Context, cfg NodeConfig) (Handle, error) {
	timeout := cfg.StartupTimeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}

	// ":0" lets the OS assign free ports for both listeners.
	launchCfg, err := tornago.NewTorLaunchConfig(
		tornago.WithTorSocksAddr(":0"),
		tornago.WithTorControlAddr(":0"),
		tornago.WithTorStartupTimeout(timeout),
	)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: launch config: %v", ErrCreationFailed, err)
	}

	// Blocks until the daemon is fully bootstrapped or times out.
	process, err := tornago.StartTorDaemon(launchCfg)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: %v", ErrCreationFailed, err)
	}

	// Startup is not cancellable mid-bootstrap; honor a cancellation
	// that arrived while we were waiting by tearing the process down.
	select {
	case <-ctx.Done():
		_ = process.Stop() //nolint:errcheck // best effort cleanup
		return Handle{}, ctx.Err()
	default:
	}

	ref := uuid.NewString()
	e.mu.Lock()
	e.procs[ref] = process
	e.mu.Unlock()

	e.logger.Info("embedded tor circuit started",
		"ref", ref,
		"socks_addr", process.SocksAddr(),
	)

	return Handle{
		Ref:         ref,
		ProxyAddr:   process.SocksAddr(),
		ControlAddr: process.ControlAddr(),
		CookiePath:  filepath.Join(process.DataDir(), controlCookieFile),
	}, nil
}

// Stop shuts down the daemon behind the handle. Unknown handles are a
// no-op so retirement stays idempotent.
func (e *EmbeddedRuntime) Stop(_ context.Context, h Handle) error {
	e.mu.Lock()
	process, ok := e.procs[h.Ref]
	delete(e.procs, h.Ref)
	e.mu.Unlock()

	if !ok {
		return nil
	}

	if err := process.Stop(); err != nil {
		return fmt.Errorf("stop embedded tor %s: %w", h.Ref, err)
	}
	e.logger.Info("embedded tor circuit stopped", "ref", h.Ref)
	return nil
}

// Probe reports whether the process is tracked and its SOCKS listener
// still accepts connections.
func (e *EmbeddedRuntime) Probe(ctx context.Context, h Handle) (bool, error) {
	e.mu.Lock()
	_, ok := e.procs[h.Ref]
	e.mu.Unlock()
	if !ok {
		return false, nil
	}

	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	conn, err := d.DialContext(dialCtx, "tcp", h.ProxyAddr)
	if err != nil {
		return false, nil
	}
	return true, conn.Close()
}

// Len returns the number of live processes. Used by shutdown checks.
func (e *EmbeddedRuntime) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.procs)
}
