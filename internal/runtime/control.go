package runtime

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Tor control protocol constants. The protocol is line-oriented with CRLF
// termination; replies carry a three-digit status code, with "-" marking
// continuation lines and " " the final line of a reply.
const (
	controlStatusOK         = 250
	controlStatusAuthDenied = 515
)

// ControlRotator speaks the Tor control protocol directly to issue the
// one command this system needs: SIGNAL NEWNYM, the in-place identity
// rotation. Authentication uses the runtime's cookie file when present
// and null authentication otherwise.
//
// NEWNYM is idempotent from the pool's point of view: Tor rate-limits
// the signal internally but still acknowledges it, so repeating a rotate
// never fails the node.
type ControlRotator struct {
	timeout time.Duration
	logger  *slog.Logger
}

// ControlOption configures a ControlRotator.
type ControlOption func(*ControlRotator)

// WithControlTimeout bounds the whole rotate exchange (dial, auth, signal).
func WithControlTimeout(timeout time.Duration) ControlOption {
	return func(c *ControlRotator) {
		c.timeout = timeout
	}
}

// WithControlLogger sets the logger for rotation events.
func WithControlLogger(logger *slog.Logger) ControlOption {
	return func(c *ControlRotator) {
		c.logger = logger
	}
}

// NewControlRotator creates a control-port rotator.
func NewControlRotator(opts ...ControlOption) *ControlRotator {
	c := &ControlRotator{
		timeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// RotateIdentity connects to the node's control endpoint, authenticates,
// and requests a fresh circuit identity. The reply is synchronous; the
// whole exchange is bounded by the configured timeout.
func (c *ControlRotator) RotateIdentity(ctx context.Context, h Handle) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", h.ControlAddr)
	if err != nil {
		return fmt.Errorf("dial control port %s: %w", h.ControlAddr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return fmt.Errorf("set control deadline: %w", err)
		}
	}

	br := bufio.NewReader(conn)

	if err := c.authenticate(conn, br, h.CookiePath); err != nil {
		return err
	}

	if err := sendLine(conn, "SIGNAL NEWNYM"); err != nil {
		return fmt.Errorf("send rotate signal: %w", err)
	}
	code, msg, err := readReply(br)
	if err != nil {
		return err
	}
	if code != controlStatusOK {
		return fmt.Errorf("%w: %d %s", ErrRotationRefused, code, msg)
	}

	// Best effort; the rotation already succeeded.
	_ = sendLine(conn, "QUIT") //nolint:errcheck

	c.logger.Debug("identity rotated", "control_addr", h.ControlAddr)
	return nil
}

// authenticate performs the AUTHENTICATE exchange. With a cookie file the
// cookie bytes are sent hex-encoded; without one, null authentication is
// attempted (Tor accepts it when no auth method is configured).
func (c *ControlRotator) authenticate(conn net.Conn, br *bufio.Reader, cookiePath string) error {
	line := `AUTHENTICATE ""`
	if cookiePath != "" {
		cookie, err := os.ReadFile(cookiePath) //nolint:gosec // path comes from our own runtime
		if err != nil {
			return fmt.Errorf("%w: read cookie: %v", ErrControlAuth, err)
		}
		line = "AUTHENTICATE " + hex.EncodeToString(cookie)
	}

	if err := sendLine(conn, line); err != nil {
		return fmt.Errorf("send authenticate: %w", err)
	}

	code, msg, err := readReply(br)
	if err != nil {
		return err
	}
	switch code {
	case controlStatusOK:
		return nil
	case controlStatusAuthDenied:
		return fmt.Errorf("%w: %s", ErrControlAuth, msg)
	default:
		return fmt.Errorf("%w: %d %s", ErrControlProtocol, code, msg)
	}
}

// sendLine writes one CRLF-terminated command line.
func sendLine(conn net.Conn, line string) error {
	_, err := conn.Write([]byte(line + "\r\n"))
	return err
}

// readReply consumes one full control reply, following "-" continuation
// lines until the final "code SP text" line, and returns the status code
// with the final line's text.
func readReply(br *bufio.Reader) (int, string, error) {
	for {
		raw, err := br.ReadString('\n')
		if err != nil {
			return 0, "", fmt.Errorf("%w: %v", ErrControlProtocol, err)
		}

		line := strings.TrimRight(raw, "\r\n")
		if len(line) < 4 {
			return 0, "", fmt.Errorf("%w: short reply %q", ErrControlProtocol, line)
		}

		code, err := strconv.Atoi(line[:3])
		if err != nil {
			return 0, "", fmt.Errorf("%w: bad status in %q", ErrControlProtocol, line)
		}

		switch line[3] {
		case '-', '+':
			// Continuation or data line; keep reading.
			continue
		case ' ':
			return code, line[4:], nil
		default:
			return 0, "", fmt.Errorf("%w: bad separator in %q", ErrControlProtocol, line)
		}
	}
}
