package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"os"
	"strconv"
	"time"

	"golang.org/x/net/proxy"

	"github.com/torcirc/torcirc/internal/model"
)

const (
	// maxRedirects bounds redirect chains to prevent loops while
	// allowing normal site navigation.
	maxRedirects = 10

	// idleConnTimeout is shorter than the net/http default because each
	// connection rides a Tor circuit, a limited resource.
	idleConnTimeout = 30 * time.Second
)

// Fetcher performs HTTP requests through per-node SOCKS5 proxies.
// It is stateless across nodes; the proxy address is chosen per call so
// one fetcher serves every node in the pool.
type Fetcher struct {
	timeout   time.Duration
	maxBody   int64
	userAgent func() string
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		f.timeout = d
	}
}

// WithMaxBodySize caps how many response bytes are read.
func WithMaxBodySize(n int64) Option {
	return func(f *Fetcher) {
		f.maxBody = n
	}
}

// WithUserAgent overrides the per-request user-agent source.
func WithUserAgent(ua func() string) Option {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// New creates a Fetcher. Defaults: 60s timeout, 5MiB body cap, randomized
// desktop Firefox user agent per request.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		timeout:   60 * time.Second,
		maxBody:   5 << 20,
		userAgent: RandomUserAgent,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Do fetches targetURL through the SOCKS5 proxy at proxyAddr and returns
// the response as an artifact. HTTP error statuses (4xx/5xx) are failures;
// the caller decides whether to retry.
func (f *Fetcher) Do(ctx context.Context, proxyAddr, targetURL string) (model.Artifact, error) {
	client, err := f.newHTTPClient(proxyAddr)
	if err != nil {
		return model.Artifact{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return model.Artifact{}, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	req.Header.Set("User-Agent", f.userAgent())

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			return model.Artifact{}, fmt.Errorf("%w: %s", ErrRequestTimeout, targetURL)
		}
		return model.Artifact{}, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return model.Artifact{}, fmt.Errorf("%w: %s returned %s",
			ErrRequestFailed, targetURL, resp.Status)
	}

	// Read one byte past the cap to distinguish "exactly at the limit"
	// from "truncated".
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			return model.Artifact{}, fmt.Errorf("%w: reading body of %s", ErrRequestTimeout, targetURL)
		}
		return model.Artifact{}, fmt.Errorf("%w: reading body: %w", ErrRequestFailed, err)
	}
	if int64(len(body)) > f.maxBody {
		return model.Artifact{}, fmt.Errorf("%w: %s exceeds %d bytes",
			ErrBodyTooLarge, targetURL, f.maxBody)
	}

	finalURL := targetURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return model.Artifact{
		URL:        finalURL,
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		Duration:   time.Since(start),
		FetchedAt:  start,
	}, nil
}

// newHTTPClient builds an HTTP client routed through the given SOCKS5
// proxy. TLS verification is off because hidden services use self-signed
// certificates; the onion address itself authenticates the peer.
// Compression stays off to avoid response-size side channels on an
// anonymity transport.
func (f *Fetcher) newHTTPClient(proxyAddr string) (*http.Client, error) {
	if !validProxyAddress(proxyAddr) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProxyAddress, proxyAddr)
	}

	dialer, err := proxy.SOCKS5("tcp", proxyAddr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("create SOCKS5 dialer: %w", err)
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cd, ok := dialer.(proxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		},
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // hidden services use self-signed certs
		},
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     idleConnTimeout,
		DisableCompression:  true,
	}

	jar, _ := cookiejar.New(nil) //nolint:errcheck // cookiejar.New only fails with invalid options

	return &http.Client{
		Transport: transport,
		Timeout:   f.timeout,
		Jar:       jar,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}, nil
}

// validProxyAddress checks "host:port" form with a port in [1, 65535].
func validProxyAddress(address string) bool {
	host, port, err := net.SplitHostPort(address)
	if err != nil || host == "" {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 1 && n <= 65535
}
