package health

import (
	"context"
	"fmt"
	"net"
	"strings"
)

// ErrExitIPUndiscoverable is returned when no IP-echo service answered
// with a parseable address.
var ErrExitIPUndiscoverable = fmt.Errorf("exit address could not be discovered")

// DefaultIPEchoURLs returns the services asked for the circuit's external
// address. Each returns the caller's IP as plain text.
func DefaultIPEchoURLs() []string {
	return []string{
		"https://checkip.amazonaws.com",
		"https://icanhazip.com",
		"https://api.ipify.org",
	}
}

// discoverExitIP asks the echo services through the node's proxy until
// one returns a valid address.
func (m *Monitor) discoverExitIP(ctx context.Context, proxyAddr string) (string, error) {
	for _, url := range m.ipEchoURLs {
		artifact, err := m.prober.Do(ctx, proxyAddr, url)
		if err != nil {
			continue
		}
		ip := strings.TrimSpace(string(artifact.Body))
		if net.ParseIP(ip) != nil {
			return ip, nil
		}
	}
	return "", ErrExitIPUndiscoverable
}
