package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/torcirc/torcirc/internal/model"
	"github.com/torcirc/torcirc/internal/policy"
	"github.com/torcirc/torcirc/internal/runtime"
)

// ProbeFunc verifies end-to-end health of a freshly started node before
// the pool promotes it to Ready. The node is still Starting and owned by
// the grow goroutine, so the probe needs no lease.
type ProbeFunc func(ctx context.Context, node model.ExitNode) error

// Recorder observes node lifecycle transitions. The pool calls it with
// the lock released; implementations may block briefly (for example a
// database write) without stalling checkouts.
type Recorder interface {
	NodeCreated(node model.ExitNode)
	NodeRotated(node model.ExitNode)
	NodeRetired(node model.ExitNode)
	NodeExitIPResolved(node model.ExitNode)
}

type noopRecorder struct{}

func (noopRecorder) NodeCreated(model.ExitNode) {}
func (noopRecorder) NodeRotated(model.ExitNode) {}
func (noopRecorder) NodeRetired(model.ExitNode) {}

func (noopRecorder) NodeExitIPResolved(model.ExitNode) {}

// Config holds the pool sizing and timing knobs.
type Config struct {
	// MinSize is the node count the pool maintains when idle. Retirement
	// below this triggers replacement.
	MinSize int

	// MaxSize caps the node count including in-flight creations.
	MaxSize int

	// CheckoutTimeout bounds how long Checkout waits for a Ready node
	// before returning ErrPoolExhausted.
	CheckoutTimeout time.Duration

	// GrowCooldown suspends further growth attempts after a creation
	// failure, so a broken runtime is not hammered in a tight loop.
	GrowCooldown time.Duration

	// StartupTimeout is passed through to the runtime for each creation.
	StartupTimeout time.Duration
}

// Pool manages the set of exit nodes and is the sole authority over their
// state. All transitions happen under one mutex; everything observable
// outside the pool is a value copy taken while the lock is held.
type Pool struct {
	rt       runtime.Runtime
	rotator  runtime.Rotator
	policy   policy.RotationPolicy
	probe    ProbeFunc
	recorder Recorder
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time

	mu               sync.Mutex
	nodes            map[string]*member
	waiters          []*waiter
	growing          int
	growBlockedUntil time.Time
	leases           int
	draining         bool

	// leaseReturned wakes Drain when an outstanding lease comes back.
	leaseReturned chan struct{}
	wg            sync.WaitGroup
}

// member pairs a node snapshot with its private runtime handle.
type member struct {
	node   model.ExitNode
	handle runtime.Handle
}

// waiter is one blocked Checkout call. The channel is buffered so handoff
// under the pool lock never blocks; a waiter that timed out drains it.
type waiter struct {
	ch chan *Lease
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = l
	}
}

// WithRecorder sets the lifecycle event recorder.
func WithRecorder(r Recorder) Option {
	return func(p *Pool) {
		p.recorder = r
	}
}

// WithProbe sets the end-to-end probe that gates promotion of a new node
// from Starting to Ready. Without it, nodes are promoted as soon as the
// runtime reports the SOCKS endpoint open.
func WithProbe(f ProbeFunc) Option {
	return func(p *Pool) {
		p.probe = f
	}
}

// WithRotator sets the control-channel rotator used by Lease.Rotate.
func WithRotator(r runtime.Rotator) Option {
	return func(p *Pool) {
		p.rotator = r
	}
}

// withClock overrides the time source in tests.
func withClock(now func() time.Time) Option {
	return func(p *Pool) {
		p.now = now
	}
}

// New creates a pool over the given runtime and rotation policy.
// Call Start to launch the initial nodes.
func New(rt runtime.Runtime, pol policy.RotationPolicy, cfg Config, opts ...Option) *Pool {
	p := &Pool{
		rt:            rt,
		policy:        pol,
		recorder:      noopRecorder{},
		logger:        slog.Default(),
		cfg:           cfg,
		now:           time.Now,
		nodes:         make(map[string]*member),
		leaseReturned: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches creation of the configured minimum node count. Creation
// is asynchronous; Checkout blocks until the first node passes its probe.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < p.cfg.MinSize; i++ {
		p.growLocked()
	}
}

// Checkout leases the least recently rotated Ready node. If none is
// available it grows the pool (up to MaxSize) and waits until a node is
// handed to it, the checkout timeout elapses (ErrPoolExhausted), or ctx
// is cancelled.
func (p *Pool) Checkout(ctx context.Context) (*Lease, error) {
	deadline := time.NewTimer(p.cfg.CheckoutTimeout)
	defer deadline.Stop()

	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return nil, ErrPoolShuttingDown
	}
	if m := p.pickReadyLocked(); m != nil {
		lease := p.lendLocked(m, leaseJob)
		p.mu.Unlock()
		return lease, nil
	}
	w := &waiter{ch: make(chan *Lease, 1)}
	p.waiters = append(p.waiters, w)
	p.maybeGrowLocked()
	p.mu.Unlock()

	select {
	case lease := <-w.ch:
		if lease == nil {
			return nil, ErrPoolShuttingDown
		}
		return lease, nil
	case <-deadline.C:
		return p.abandonWait(w, ErrPoolExhausted)
	case <-ctx.Done():
		return p.abandonWait(w, ctx.Err())
	}
}

// abandonWait removes a timed-out or cancelled waiter. A lease may have
// been handed off concurrently; if so it wins over the error.
func (p *Pool) abandonWait(w *waiter, cause error) (*Lease, error) {
	p.mu.Lock()
	for i, other := range p.waiters {
		if other == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	select {
	case lease := <-w.ch:
		if lease != nil {
			return lease, nil
		}
		return nil, ErrPoolShuttingDown
	default:
		return nil, cause
	}
}

// CheckoutForProbe leases a specific node for health probing without
// blocking. Ready and Quarantined nodes are eligible; a node already
// leased returns ErrNodeBusy.
func (p *Pool) CheckoutForProbe(nodeID string) (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.draining {
		return nil, ErrPoolShuttingDown
	}
	m, ok := p.nodes[nodeID]
	if !ok {
		return nil, ErrUnknownNode
	}
	switch m.node.State {
	case model.NodeReady, model.NodeQuarantined:
		return p.lendLocked(m, leaseProbe), nil
	case model.NodeInUse:
		return nil, ErrNodeBusy
	default:
		return nil, ErrNodeNotProbeEligible
	}
}

// Checkin returns a lease with the outcome of the work performed on it.
// Checkin is idempotent per lease; second and later calls are no-ops.
func (p *Pool) Checkin(l *Lease, outcome model.Outcome) {
	if l == nil {
		return
	}

	p.mu.Lock()
	if l.done {
		p.mu.Unlock()
		return
	}
	l.done = true
	p.leases--
	p.signalLeaseReturnedLocked()

	m, ok := p.nodes[l.nodeID]
	if !ok {
		p.mu.Unlock()
		return
	}

	// Retire was requested while the lease was out; teardown wins over
	// any outcome.
	if m.node.State == model.NodeRetiring {
		p.teardownLocked(m)
		p.mu.Unlock()
		return
	}

	now := p.now()
	var rotated, retired bool
	switch outcome {
	case model.OutcomeSuccess:
		m.node.ConsecutiveFailures = 0
		m.node.LastHealthyAt = now
		p.endQuarantineLocked(m, now)
		m.node.State = model.NodeReady

	case model.OutcomeRotated:
		m.node.ConsecutiveFailures = 0
		m.node.LastRotatedAt = now
		// The circuit exits elsewhere now; the old address is stale
		// until the monitor rediscovers it.
		m.node.ExitIP = ""
		p.endQuarantineLocked(m, now)
		m.node.State = model.NodeReady
		rotated = true

	case model.OutcomeAborted:
		m.node.State = l.prev

	case model.OutcomeFailure:
		m.node.ConsecutiveFailures++
		switch {
		case p.policy.ShouldRetire(m.node, now):
			p.teardownLocked(m)
			retired = true
		case p.policy.ShouldRotate(m.node, now):
			p.beginQuarantineLocked(m, now)
		default:
			m.node.State = l.prev
		}
	}

	var snapshot model.ExitNode
	if rotated {
		snapshot = m.node
	}
	if !retired {
		p.handoffLocked()
		p.maybeGrowLocked()
	}
	p.mu.Unlock()

	if rotated {
		p.recorder.NodeRotated(snapshot)
	}
}

// Retire removes a node from the pool and destroys its runtime resource.
// If the node is currently leased, teardown is deferred until checkin.
// Retiring an unknown or already-retiring node is a no-op.
func (p *Pool) Retire(nodeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.nodes[nodeID]
	if !ok {
		return
	}
	switch m.node.State {
	case model.NodeRetiring, model.NodeDead:
		return
	case model.NodeInUse:
		m.node.State = model.NodeRetiring
		return
	default:
		p.teardownLocked(m)
	}
}

// SetExitIP records the externally observed exit address for a node.
func (p *Pool) SetExitIP(nodeID, ip string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if m, ok := p.nodes[nodeID]; ok {
		m.node.ExitIP = ip
		p.recorder.NodeExitIPResolved(m.node)
	}
}

// Nodes returns a snapshot of every node currently in the pool.
func (p *Pool) Nodes() []model.ExitNode {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]model.ExitNode, 0, len(p.nodes))
	for _, m := range p.nodes {
		out = append(out, m.node)
	}
	return out
}

// Stats summarizes pool occupancy.
type Stats struct {
	Total       int `json:"total"`
	Ready       int `json:"ready"`
	InUse       int `json:"in_use"`
	Quarantined int `json:"quarantined"`
	Starting    int `json:"starting"`
	Waiters     int `json:"waiters"`
}

// Stats returns current occupancy counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{Total: len(p.nodes), Starting: p.growing, Waiters: len(p.waiters)}
	for _, m := range p.nodes {
		switch m.node.State {
		case model.NodeReady:
			s.Ready++
		case model.NodeInUse:
			s.InUse++
		case model.NodeQuarantined:
			s.Quarantined++
		}
	}
	return s
}

// Drain stops the pool: new checkouts fail immediately, blocked waiters
// are woken with ErrPoolShuttingDown, outstanding leases are allowed to
// finish, and every node is then destroyed. Drain returns when the pool
// is empty or ctx expires.
func (p *Pool) Drain(ctx context.Context) error {
	p.mu.Lock()
	p.draining = true
	for _, w := range p.waiters {
		w.ch <- nil
	}
	p.waiters = nil
	p.mu.Unlock()

	for {
		p.mu.Lock()
		outstanding := p.leases
		p.mu.Unlock()
		if outstanding == 0 {
			break
		}
		select {
		case <-p.leaseReturned:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.mu.Lock()
	for _, m := range p.nodes {
		if m.node.State != model.NodeRetiring && m.node.State != model.NodeDead {
			p.teardownLocked(m)
		}
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pickReadyLocked returns the least recently rotated Ready node, or nil.
func (p *Pool) pickReadyLocked() *member {
	var best *member
	for _, m := range p.nodes {
		if m.node.State != model.NodeReady {
			continue
		}
		if best == nil || m.node.LastRotatedAt.Before(best.node.LastRotatedAt) {
			best = m
		}
	}
	return best
}

func (p *Pool) lendLocked(m *member, kind leaseKind) *Lease {
	prev := m.node.State
	m.node.State = model.NodeInUse
	p.leases++
	return &Lease{
		pool:   p,
		nodeID: m.node.ID,
		kind:   kind,
		prev:   prev,
		node:   m.node,
	}
}

// handoffLocked hands Ready nodes to blocked waiters in FIFO order.
func (p *Pool) handoffLocked() {
	for len(p.waiters) > 0 {
		m := p.pickReadyLocked()
		if m == nil {
			return
		}
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		w.ch <- p.lendLocked(m, leaseJob)
	}
}

// maybeGrowLocked starts creation attempts to cover current demand. The
// pool is grown to minimum unconditionally; beyond that, when nothing is
// Ready, one creation is kept in flight per queued waiter so a waiter
// behind an earlier grow is not left to time out below maximum capacity.
func (p *Pool) maybeGrowLocked() {
	if p.draining || p.now().Before(p.growBlockedUntil) {
		return
	}
	for len(p.nodes)+p.growing < p.cfg.MinSize && len(p.nodes)+p.growing < p.cfg.MaxSize {
		p.growLocked()
	}
	if p.pickReadyLocked() != nil {
		return
	}
	for p.growing < len(p.waiters) && len(p.nodes)+p.growing < p.cfg.MaxSize {
		p.growLocked()
	}
}

func (p *Pool) growLocked() {
	if p.draining || len(p.nodes)+p.growing >= p.cfg.MaxSize {
		return
	}
	p.growing++
	p.wg.Add(1)
	go p.grow()
}

// grow runs one creation attempt off the pool lock: start the runtime
// resource, probe it end to end, then register it Ready.
func (p *Pool) grow() {
	defer p.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.StartupTimeout+30*time.Second)
	defer cancel()

	h, err := p.rt.Start(ctx, runtime.NodeConfig{StartupTimeout: p.cfg.StartupTimeout})
	if err != nil {
		p.logger.Warn("node creation failed", "error", err)
		p.failGrowth()
		return
	}

	now := p.now()
	node := model.ExitNode{
		ID:            uuid.NewString(),
		ProxyAddr:     h.ProxyAddr,
		ControlAddr:   h.ControlAddr,
		State:         model.NodeStarting,
		CreatedAt:     now,
		LastRotatedAt: now,
	}

	if p.probe != nil {
		if err := p.probe(ctx, node); err != nil {
			p.logger.Warn("new node failed first probe",
				"node_id", node.ID, "error", err)
			if stopErr := p.rt.Stop(context.Background(), h); stopErr != nil {
				p.logger.Warn("teardown after failed probe", "error", stopErr)
			}
			p.failGrowth()
			return
		}
		node.LastHealthyAt = p.now()
	}
	node.State = model.NodeReady

	p.mu.Lock()
	p.growing--
	if p.draining {
		p.mu.Unlock()
		if err := p.rt.Stop(context.Background(), h); err != nil {
			p.logger.Warn("teardown of node created during drain", "error", err)
		}
		return
	}
	p.nodes[node.ID] = &member{node: node, handle: h}
	p.handoffLocked()
	p.maybeGrowLocked()
	p.mu.Unlock()

	p.logger.Info("node ready",
		"node_id", node.ID, "proxy_addr", node.ProxyAddr)
	p.recorder.NodeCreated(node)
}

func (p *Pool) failGrowth() {
	p.mu.Lock()
	p.growing--
	p.growBlockedUntil = p.now().Add(p.cfg.GrowCooldown)
	p.mu.Unlock()
}

// teardownLocked marks a node Retiring and destroys its resource off the
// lock. The member is removed from the map once teardown finishes, and a
// replacement is started if the pool fell below minimum.
func (p *Pool) teardownLocked(m *member) {
	m.node.State = model.NodeRetiring
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		if err := p.rt.Stop(context.Background(), m.handle); err != nil {
			p.logger.Warn("node teardown failed",
				"node_id", m.node.ID, "error", err)
		}

		p.mu.Lock()
		m.node.State = model.NodeDead
		snapshot := m.node
		delete(p.nodes, m.node.ID)
		if !p.draining {
			if len(p.nodes)+p.growing < p.cfg.MinSize {
				p.growLocked()
			}
			p.maybeGrowLocked()
		}
		p.mu.Unlock()

		p.logger.Info("node retired", "node_id", snapshot.ID)
		p.recorder.NodeRetired(snapshot)
	}()
}

func (p *Pool) beginQuarantineLocked(m *member, now time.Time) {
	if m.node.QuarantinedAt.IsZero() {
		m.node.QuarantinedAt = now
	}
	m.node.State = model.NodeQuarantined
}

func (p *Pool) endQuarantineLocked(m *member, now time.Time) {
	if !m.node.QuarantinedAt.IsZero() {
		m.node.QuarantinedFor += now.Sub(m.node.QuarantinedAt)
		m.node.QuarantinedAt = time.Time{}
	}
}

func (p *Pool) signalLeaseReturnedLocked() {
	select {
	case p.leaseReturned <- struct{}{}:
	default:
	}
}
