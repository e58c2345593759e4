package fetch

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"
)

// startSocks5 runs a minimal SOCKS5 forwarder on loopback for the
// duration of the test. It speaks just enough of the protocol for
// golang.org/x/net/proxy: no-auth negotiation and CONNECT.
func startSocks5(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go serveSocks5(conn)
		}
	}()
	return l.Addr().String()
}

func serveSocks5(conn net.Conn) {
	defer conn.Close()

	// Greeting: version, nmethods, methods. Answer "no auth".
	head := make([]byte, 2)
	if _, err := io.ReadFull(conn, head); err != nil {
		return
	}
	if _, err := io.ReadFull(conn, make([]byte, int(head[1]))); err != nil {
		return
	}
	if _, err := conn.Write([]byte{0x05, 0x00}); err != nil {
		return
	}

	// CONNECT request: version, cmd, reserved, addr type.
	req := make([]byte, 4)
	if _, err := io.ReadFull(conn, req); err != nil {
		return
	}
	var host string
	switch req[3] {
	case 0x01: // IPv4
		addr := make([]byte, 4)
		if _, err := io.ReadFull(conn, addr); err != nil {
			return
		}
		host = net.IP(addr).String()
	case 0x03: // domain
		n := make([]byte, 1)
		if _, err := io.ReadFull(conn, n); err != nil {
			return
		}
		name := make([]byte, int(n[0]))
		if _, err := io.ReadFull(conn, name); err != nil {
			return
		}
		host = string(name)
	default:
		return
	}
	portBytes := make([]byte, 2)
	if _, err := io.ReadFull(conn, portBytes); err != nil {
		return
	}
	port := binary.BigEndian.Uint16(portBytes)

	upstream, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		conn.Write([]byte{0x05, 0x04, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
		return
	}
	defer upstream.Close()

	if _, err := conn.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0}); err != nil {
		return
	}

	done := make(chan struct{}, 2)
	go func() { io.Copy(upstream, conn); done <- struct{}{} }()
	go func() { io.Copy(conn, upstream); done <- struct{}{} }()
	<-done
}

// TestFetcherDo tests a successful fetch through the SOCKS5 proxy.
func TestFetcherDo(t *testing.T) {
	t.Parallel()

	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("X-Probe", "yes")
		fmt.Fprint(w, "hello from target")
	}))
	defer srv.Close()

	proxyAddr := startSocks5(t)
	f := New(WithTimeout(5 * time.Second))

	artifact, err := f.Do(context.Background(), proxyAddr, srv.URL)
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if artifact.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, expected 200", artifact.StatusCode)
	}
	if string(artifact.Body) != "hello from target" {
		t.Errorf("Body = %q, expected hello from target", artifact.Body)
	}
	if artifact.Header.Get("X-Probe") != "yes" {
		t.Error("response header not carried into artifact")
	}
	if artifact.Duration <= 0 {
		t.Error("Duration not recorded")
	}
	if !strings.Contains(gotUA, "Firefox/") {
		t.Errorf("User-Agent = %q, expected a Firefox agent", gotUA)
	}
}

// TestFetcherDoStatusError tests that HTTP error statuses are failures.
func TestFetcherDoStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "blocked", http.StatusForbidden)
	}))
	defer srv.Close()

	f := New(WithTimeout(5 * time.Second))
	_, err := f.Do(context.Background(), startSocks5(t), srv.URL)
	if !errors.Is(err, ErrRequestFailed) {
		t.Errorf("got %v, expected ErrRequestFailed", err)
	}
}

// TestFetcherDoBodyTooLarge tests the response size cap.
func TestFetcherDoBodyTooLarge(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	f := New(WithTimeout(5*time.Second), WithMaxBodySize(1024))
	_, err := f.Do(context.Background(), startSocks5(t), srv.URL)
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Errorf("got %v, expected ErrBodyTooLarge", err)
	}
}

// TestFetcherDoTimeout tests that a stalled target maps to ErrRequestTimeout.
func TestFetcherDoTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(5 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	f := New(WithTimeout(100 * time.Millisecond))
	_, err := f.Do(context.Background(), startSocks5(t), srv.URL)
	if !errors.Is(err, ErrRequestTimeout) {
		t.Errorf("got %v, expected ErrRequestTimeout", err)
	}
}

// TestFetcherDoInvalidProxy tests proxy address validation.
func TestFetcherDoInvalidProxy(t *testing.T) {
	t.Parallel()

	f := New()
	tests := []string{"", "no-port", ":9050", "host:0", "host:99999", "host:abc"}
	for _, addr := range tests {
		if _, err := f.Do(context.Background(), addr, "http://example.onion"); !errors.Is(err, ErrInvalidProxyAddress) {
			t.Errorf("Do(%q) = %v, expected ErrInvalidProxyAddress", addr, err)
		}
	}
}

// TestRandomUserAgent tests the generated agent shape.
func TestRandomUserAgent(t *testing.T) {
	t.Parallel()

	pattern := regexp.MustCompile(`^Mozilla/5\.0 \(.+; rv:14[0-3]\.0\) Gecko/20100101 Firefox/14[0-3]\.0$`)
	for i := 0; i < 50; i++ {
		ua := RandomUserAgent()
		if !pattern.MatchString(ua) {
			t.Fatalf("user agent %q does not match the Firefox desktop shape", ua)
		}
	}
}
