package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"os/exec"
	"strings"
	"time"
)

const (
	// socksPortInContainer and controlPortInContainer are where the
	// circuit image exposes its Tor listeners.
	socksPortInContainer   = 9050
	controlPortInContainer = 9051

	// maxPortAttempts bounds random free-port probing per allocation.
	maxPortAttempts = 100

	// portWaitStep is the poll interval while waiting for a freshly
	// started container to open its SOCKS listener.
	portWaitStep = 2 * time.Second

	// containerNameLetters is the random suffix length of container names.
	containerNameLetters = 6
)

// commandRunner executes an external command and returns its combined
// output. Tests substitute a fake to capture invocations.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// DockerRuntime realizes circuits as one Tor container each, driven
// through the docker CLI. Every container maps its SOCKS and control
// ports onto random free host ports so many circuits can coexist on
// one host.
type DockerRuntime struct {
	image    string
	portMin  int
	portMax  int
	logger   *slog.Logger
	run      commandRunner
	randPort func(min, max int) int
}

// DockerOption configures a DockerRuntime.
type DockerOption func(*DockerRuntime)

// WithDockerLogger sets the logger used for container lifecycle events.
func WithDockerLogger(logger *slog.Logger) DockerOption {
	return func(d *DockerRuntime) {
		d.logger = logger
	}
}

// WithPortRange sets the host port range for SOCKS and control mappings.
func WithPortRange(min, max int) DockerOption {
	return func(d *DockerRuntime) {
		d.portMin = min
		d.portMax = max
	}
}

// withCommandRunner substitutes the external command executor. Test hook.
func withCommandRunner(run commandRunner) DockerOption {
	return func(d *DockerRuntime) {
		d.run = run
	}
}

// NewDockerRuntime creates a docker-backed circuit runtime running the
// given image per circuit. The image must run tor with SocksPort 9050
// and ControlPort 9051.
func NewDockerRuntime(image string, opts ...DockerOption) *DockerRuntime {
	d := &DockerRuntime{
		image:   image,
		portMin: 40001,
		portMax: 60001,
		run:     execRunner,
		randPort: func(min, max int) int {
			return min + rand.Intn(max-min) //nolint:gosec // port scatter, not crypto
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Start launches one circuit container and waits for its SOCKS listener.
// On any failure after the container was created, the container is
// force-removed before the error is returned so no orphan keeps the
// name or ports occupied.
func (d *DockerRuntime) Start(ctx context.Context, cfg NodeConfig) (Handle, error) {
	name := randomContainerName()

	socksPort, err := d.freePort()
	if err != nil {
		return Handle{}, err
	}
	controlPort, err := d.freePort()
	if err != nil {
		return Handle{}, err
	}

	args := []string{
		"run", "-d",
		"--name", name,
		"-p", fmt.Sprintf("127.0.0.1:%d:%d", socksPort, socksPortInContainer),
		"-p", fmt.Sprintf("127.0.0.1:%d:%d", controlPort, controlPortInContainer),
		d.image,
	}

	d.logger.Info("starting circuit container", "container", name, "socks_port", socksPort)
	if out, err := d.run(ctx, "docker", args...); err != nil {
		return Handle{}, fmt.Errorf("%w: docker run: %v: %s", ErrCreationFailed, err, strings.TrimSpace(string(out)))
	}

	h := Handle{
		Ref:         name,
		ProxyAddr:   fmt.Sprintf("127.0.0.1:%d", socksPort),
		ControlAddr: fmt.Sprintf("127.0.0.1:%d", controlPort),
	}

	if err := waitForPort(ctx, h.ProxyAddr, cfg.StartupTimeout); err != nil {
		d.removeQuietly(name)
		return Handle{}, fmt.Errorf("%w: %v", ErrCreationFailed, err)
	}

	return h, nil
}

// Stop force-removes the circuit container. Removing a container that no
// longer exists is treated as success so retirement stays idempotent.
func (d *DockerRuntime) Stop(ctx context.Context, h Handle) error {
	out, err := d.run(ctx, "docker", "rm", "-f", h.Ref)
	if err != nil {
		if strings.Contains(strings.ToLower(string(out)), "no such container") {
			return nil
		}
		return fmt.Errorf("docker rm %s: %v: %s", h.Ref, err, strings.TrimSpace(string(out)))
	}
	d.logger.Info("circuit container removed", "container", h.Ref)
	return nil
}

// Probe reports whether the container exists and its State.Running is true.
func (d *DockerRuntime) Probe(ctx context.Context, h Handle) (bool, error) {
	out, err := d.run(ctx, "docker", "inspect", "-f", "{{.State.Running}}", h.Ref)
	if err != nil {
		// Inspect fails for unknown containers; that's a dead resource,
		// not a runtime error.
		return false, nil
	}
	return strings.TrimSpace(strings.ToLower(string(out))) == "true", nil
}

// freePort returns a host port in the configured range that accepts a
// listener right now. The caller races other processes for the port, but
// docker rejects the mapping on collision and Start surfaces that as a
// creation failure.
func (d *DockerRuntime) freePort() (int, error) {
	for range maxPortAttempts {
		port := d.randPort(d.portMin, d.portMax)
		l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			continue
		}
		_ = l.Close() //nolint:errcheck // probe listener
		return port, nil
	}
	return 0, ErrNoFreePort
}

// removeQuietly force-removes a container, best effort.
func (d *DockerRuntime) removeQuietly(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := d.run(ctx, "docker", "rm", "-f", name); err != nil {
		d.logger.Warn("failed to clean up container", "container", name, "error", err)
	}
}

// randomContainerName returns "torcirc_" plus six random lowercase letters.
func randomContainerName() string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	suffix := make([]byte, containerNameLetters)
	for i := range suffix {
		suffix[i] = letters[rand.Intn(len(letters))] //nolint:gosec // name scatter, not crypto
	}
	return "torcirc_" + string(suffix)
}

// waitForPort blocks until addr accepts a TCP connection, polling every
// portWaitStep, or fails when the timeout elapses or ctx is cancelled.
func waitForPort(ctx context.Context, addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var d net.Dialer

	for time.Now().Before(deadline) {
		dialCtx, cancel := context.WithTimeout(ctx, portWaitStep)
		conn, err := d.DialContext(dialCtx, "tcp", addr)
		cancel()
		if err == nil {
			return conn.Close()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(portWaitStep):
		}
	}
	return fmt.Errorf("port %s did not open within %s", addr, timeout)
}
