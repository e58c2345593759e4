package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"
)

// capturedCommand records one external command invocation.
type capturedCommand struct {
	name string
	args []string
}

// TestDockerRuntimeStart tests the docker run command line and the
// cleanup path when the container never opens its SOCKS port.
func TestDockerRuntimeStart(t *testing.T) {
	t.Parallel()

	var commands []capturedCommand
	d := NewDockerRuntime("torcirc/circuit:test",
		withCommandRunner(func(_ context.Context, name string, args ...string) ([]byte, error) {
			commands = append(commands, capturedCommand{name, args})
			return []byte("abc123\n"), nil
		}),
	)
	// Deterministic port selection from verified-free ports. Nothing
	// listens on them, so the startup wait fails and Start must clean up.
	free := findFreePorts(t, 2)
	d.randPort = func(min, max int) int {
		p := free[0]
		if len(free) > 1 {
			free = free[1:]
		}
		return p
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := d.Start(ctx, NodeConfig{StartupTimeout: 100 * time.Millisecond})
	if !errors.Is(err, ErrCreationFailed) {
		t.Fatalf("got %v, expected ErrCreationFailed", err)
	}

	if len(commands) < 1 {
		t.Fatal("docker run was never invoked")
	}
	run := commands[0]
	if run.name != "docker" || run.args[0] != "run" {
		t.Fatalf("first command = %s %v, expected docker run", run.name, run.args)
	}
	joined := strings.Join(run.args, " ")
	if !strings.Contains(joined, "--name torcirc_") {
		t.Errorf("docker run args missing container name: %v", run.args)
	}
	if !strings.Contains(joined, ":9050") || !strings.Contains(joined, ":9051") {
		t.Errorf("docker run args missing port mappings: %v", run.args)
	}
	if run.args[len(run.args)-1] != "torcirc/circuit:test" {
		t.Errorf("docker run args missing image: %v", run.args)
	}

	// Failed startup must clean up the container.
	last := commands[len(commands)-1]
	if last.args[0] != "rm" || last.args[1] != "-f" {
		t.Errorf("expected cleanup docker rm -f, got %v", last.args)
	}
}

// TestDockerRuntimeStopIdempotent tests that removing a gone container
// is not an error.
func TestDockerRuntimeStopIdempotent(t *testing.T) {
	t.Parallel()

	d := NewDockerRuntime("img",
		withCommandRunner(func(_ context.Context, _ string, args ...string) ([]byte, error) {
			return []byte("Error response from daemon: No such container: torcirc_abcdef"),
				errors.New("exit status 1")
		}),
	)

	err := d.Stop(context.Background(), Handle{Ref: "torcirc_abcdef"})
	if err != nil {
		t.Errorf("Stop() on missing container = %v, expected nil", err)
	}
}

// TestDockerRuntimeStopFailure tests that genuine removal failures surface.
func TestDockerRuntimeStopFailure(t *testing.T) {
	t.Parallel()

	d := NewDockerRuntime("img",
		withCommandRunner(func(_ context.Context, _ string, args ...string) ([]byte, error) {
			return []byte("permission denied"), errors.New("exit status 1")
		}),
	)

	if err := d.Stop(context.Background(), Handle{Ref: "torcirc_abcdef"}); err == nil {
		t.Error("expected error, got nil")
	}
}

// TestDockerRuntimeProbe tests liveness interpretation of docker inspect.
func TestDockerRuntimeProbe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		out     string
		cmdErr  error
		healthy bool
	}{
		{"running", "true\n", nil, true},
		{"stopped", "false\n", nil, false},
		{"missing container", "", errors.New("exit status 1"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := NewDockerRuntime("img",
				withCommandRunner(func(_ context.Context, _ string, args ...string) ([]byte, error) {
					if args[0] != "inspect" {
						t.Errorf("expected docker inspect, got %v", args)
					}
					return []byte(tt.out), tt.cmdErr
				}),
			)

			healthy, err := d.Probe(context.Background(), Handle{Ref: "torcirc_abcdef"})
			if err != nil {
				t.Fatalf("Probe() error: %v", err)
			}
			if healthy != tt.healthy {
				t.Errorf("Probe() = %v, expected %v", healthy, tt.healthy)
			}
		})
	}
}

// TestRandomContainerName tests the name shape.
func TestRandomContainerName(t *testing.T) {
	t.Parallel()

	name := randomContainerName()
	if !strings.HasPrefix(name, "torcirc_") {
		t.Errorf("name %q missing torcirc_ prefix", name)
	}
	if len(name) != len("torcirc_")+containerNameLetters {
		t.Errorf("name %q has wrong length", name)
	}
}

// findFreePorts returns n currently-free loopback ports.
func findFreePorts(t *testing.T, n int) []int {
	t.Helper()

	ports := make([]int, 0, n)
	for range n {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		ports = append(ports, l.Addr().(*net.TCPAddr).Port)
		l.Close()
	}
	return ports
}

// TestWaitForPort tests both outcomes of the readiness wait.
func TestWaitForPort(t *testing.T) {
	t.Parallel()

	t.Run("open port succeeds", func(t *testing.T) {
		t.Parallel()

		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		defer l.Close()

		if err := waitForPort(context.Background(), l.Addr().String(), 5*time.Second); err != nil {
			t.Errorf("waitForPort() = %v, expected nil", err)
		}
	})

	t.Run("closed port times out", func(t *testing.T) {
		t.Parallel()

		ports := findFreePorts(t, 1)
		addr := fmt.Sprintf("127.0.0.1:%d", ports[0])
		if err := waitForPort(context.Background(), addr, 10*time.Millisecond); err == nil {
			t.Error("expected timeout error, got nil")
		}
	})
}
