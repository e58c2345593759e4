package health

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/torcirc/torcirc/internal/model"
	"github.com/torcirc/torcirc/internal/policy"
	"github.com/torcirc/torcirc/internal/pool"
)

// defaultConcurrency bounds how many nodes one sweep probes at once.
const defaultConcurrency = 4

// Prober fetches a URL through the given SOCKS5 proxy. Satisfied by
// fetch.Fetcher.
type Prober interface {
	Do(ctx context.Context, proxyAddr, targetURL string) (model.Artifact, error)
}

// Monitor periodically probes every pool node end to end: a request
// through the node's SOCKS endpoint against a known-reachable target.
// Probes ride the pool's lease machinery, so a node is never probed and
// dispatched at the same time; nodes already leased are skipped, not
// queued behind.
type Monitor struct {
	pool     *pool.Pool
	policy   policy.RotationPolicy
	prober   Prober
	probeURL string
	interval time.Duration

	ipEchoURLs  []string
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = l
	}
}

// WithConcurrency bounds parallel probes per sweep.
func WithConcurrency(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithIPEchoURLs sets the services used to discover a node's exit address.
func WithIPEchoURLs(urls []string) Option {
	return func(m *Monitor) {
		if len(urls) > 0 {
			m.ipEchoURLs = urls
		}
	}
}

// withClock overrides the time source in tests.
func withClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

// New creates a Monitor probing p's nodes every interval against probeURL.
func New(p *pool.Pool, pol policy.RotationPolicy, prober Prober, probeURL string, interval time.Duration, opts ...Option) *Monitor {
	m := &Monitor{
		pool:        p,
		policy:      pol,
		prober:      prober,
		probeURL:    probeURL,
		interval:    interval,
		ipEchoURLs:  DefaultIPEchoURLs(),
		concurrency: defaultConcurrency,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run probes the pool on every tick until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep probes every probeable node once, bounded by the configured
// concurrency.
func (m *Monitor) Sweep(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)

	for _, node := range m.pool.Nodes() {
		if node.State != model.NodeReady && node.State != model.NodeQuarantined {
			continue
		}
		g.Go(func() error {
			m.probeNode(ctx, node.ID)
			return nil
		})
	}
	_ = g.Wait()
}

// probeNode leases one node, probes it, and checks it back in with the
// observed outcome. A failing probe tries in-place identity rotation
// before the pool is left to quarantine or retire the node.
func (m *Monitor) probeNode(ctx context.Context, nodeID string) {
	lease, err := m.pool.CheckoutForProbe(nodeID)
	if err != nil {
		// Leased, retired, or already gone. Next sweep will see it.
		return
	}
	node := lease.Node()
	now := m.now()

	if _, err := m.prober.Do(ctx, lease.ProxyAddr(), m.probeURL); err != nil {
		m.logger.Debug("probe failed",
			"node_id", nodeID, "error", err)

		failed := node
		failed.ConsecutiveFailures++
		if !m.policy.ShouldRetire(failed, now) && m.policy.ShouldRotate(failed, now) {
			if rerr := lease.Rotate(ctx); rerr == nil {
				m.logger.Info("rotated identity of failing node", "node_id", nodeID)
				m.pool.Checkin(lease, model.OutcomeRotated)
				return
			}
			m.logger.Warn("identity rotation failed", "node_id", nodeID)
		}
		m.pool.Checkin(lease, model.OutcomeFailure)
		return
	}

	// Healthy. Old identities still rotate on schedule, but a leftover
	// failure streak must not force one: checkin with OutcomeSuccess
	// clears the streak, so only age counts here.
	aged := node
	aged.ConsecutiveFailures = 0
	if m.policy.ShouldRotate(aged, now) && !m.policy.ShouldRetire(aged, now) {
		if rerr := lease.Rotate(ctx); rerr == nil {
			m.logger.Info("rotated aged identity", "node_id", nodeID)
			m.pool.Checkin(lease, model.OutcomeRotated)
			return
		}
		m.logger.Warn("scheduled rotation failed", "node_id", nodeID)
		m.pool.Checkin(lease, model.OutcomeFailure)
		return
	}

	if node.ExitIP == "" {
		if ip, err := m.discoverExitIP(ctx, lease.ProxyAddr()); err == nil {
			m.pool.SetExitIP(nodeID, ip)
			m.logger.Info("discovered exit address",
				"node_id", nodeID, "exit_ip", ip)
		}
	}
	m.pool.Checkin(lease, model.OutcomeSuccess)
}
