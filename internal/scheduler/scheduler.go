package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/torcirc/torcirc/internal/model"
	"github.com/torcirc/torcirc/internal/pool"
)

// sinkBuffer bounds the result handoff queue. Events beyond it are
// dropped with a log line rather than stalling dispatch.
const sinkBuffer = 64

// NodePool is the slice of the pool the scheduler uses.
type NodePool interface {
	Checkout(ctx context.Context) (*pool.Lease, error)
	Checkin(l *pool.Lease, outcome model.Outcome)
}

// Fetcher performs one request through a node's SOCKS proxy.
// Satisfied by fetch.Fetcher.
type Fetcher interface {
	Do(ctx context.Context, proxyAddr, targetURL string) (model.Artifact, error)
}

// ResultSink receives terminal job results. Calls are made from a single
// delivery goroutine; implementations may block briefly but sustained
// slowness drops events.
type ResultSink interface {
	OnSucceeded(jobID string, artifact model.Artifact)
	OnAbandoned(jobID, reason string)
}

// Config holds scheduler tuning.
type Config struct {
	// Workers is the number of concurrent dispatch workers. Together
	// with the pool's max size it bounds outbound concurrency.
	Workers int

	// BackoffBase, BackoffCap, and BackoffJitter shape retry delays.
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	BackoffJitter time.Duration

	// ExhaustedDelay is the pause before requeueing a job that found the
	// pool exhausted. Not an attempt; the job's budget is untouched.
	ExhaustedDelay time.Duration
}

// Scheduler owns the job queue and state machine. Jobs are dispatched in
// priority order (FIFO within a priority) by a fixed worker set; each
// dispatch leases one node, fetches, and reports the outcome back to the
// pool.
type Scheduler struct {
	pool    NodePool
	fetcher Fetcher
	cfg     Config
	backoff *Backoff
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	jobs   map[string]*model.ScrapeJob
	queue  jobQueue
	seq    uint64
	closed bool
	timers map[string]*time.Timer

	// wake nudges the dispatcher after a push; capacity one is enough
	// for a single consumer.
	wake chan struct{}
	work chan string

	sink   ResultSink
	events chan sinkEvent
}

type sinkEvent struct {
	jobID     string
	artifact  model.Artifact
	reason    string
	abandoned bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// WithSink sets the result sink. Without one, results are logged and
// discarded.
func WithSink(sink ResultSink) Option {
	return func(s *Scheduler) {
		s.sink = sink
	}
}

// withBackoff overrides the backoff in tests.
func withBackoff(b *Backoff) Option {
	return func(s *Scheduler) {
		s.backoff = b
	}
}

// New creates a Scheduler dispatching through p and fetching with f.
func New(p NodePool, f Fetcher, cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		pool:    p,
		fetcher: f,
		cfg:     cfg,
		backoff: NewBackoff(cfg.BackoffBase, cfg.BackoffCap, cfg.BackoffJitter),
		logger:  slog.Default(),
		now:     time.Now,
		jobs:    make(map[string]*model.ScrapeJob),
		timers:  make(map[string]*time.Timer),
		wake:    make(chan struct{}, 1),
		work:    make(chan string),
		events:  make(chan sinkEvent, sinkBuffer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit queues a scrape job and returns its ID. Priority orders
// dispatch (higher first); maxAttempts bounds retries and must be at
// least 1.
func (s *Scheduler) Submit(targetURL string, priority, maxAttempts int) (string, error) {
	if strings.TrimSpace(targetURL) == "" || maxAttempts < 1 {
		return "", ErrInvalidJob
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrSchedulerClosed
	}

	job := &model.ScrapeJob{
		ID:          uuid.NewString(),
		TargetURL:   targetURL,
		Priority:    priority,
		MaxAttempts: maxAttempts,
		Status:      model.JobPending,
		SubmittedAt: s.now(),
	}
	s.jobs[job.ID] = job
	s.pushLocked(job)

	s.logger.Info("job submitted",
		"job_id", job.ID, "target_url", targetURL, "priority", priority)
	return job.ID, nil
}

// Status returns a snapshot of the job.
func (s *Scheduler) Status(jobID string) (model.ScrapeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return model.ScrapeJob{}, ErrUnknownJob
	}
	return *job, nil
}

// Jobs returns a snapshot of every known job.
func (s *Scheduler) Jobs() []model.ScrapeJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.ScrapeJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	return out
}

// Run dispatches jobs until ctx is cancelled. Workers always check
// leases back in before returning, so shutdown never strands a node
// InUse.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.deliverResults(ctx) })
	g.Go(func() error { return s.dispatch(ctx) })
	for i := 0; i < s.cfg.Workers; i++ {
		g.Go(func() error { return s.worker(ctx) })
	}

	err := g.Wait()

	s.mu.Lock()
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// dispatch pops queued jobs in priority order and feeds workers.
func (s *Scheduler) dispatch(ctx context.Context) error {
	for {
		s.mu.Lock()
		var jobID string
		if s.queue.Len() > 0 {
			jobID = heap.Pop(&s.queue).(queued).jobID
		}
		s.mu.Unlock()

		if jobID == "" {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.wake:
				continue
			}
		}

		select {
		case s.work <- jobID:
		case <-ctx.Done():
			s.requeue(jobID)
			return ctx.Err()
		}
	}
}

func (s *Scheduler) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case jobID := <-s.work:
			s.runJob(ctx, jobID)
		}
	}
}

// runJob performs one dispatch attempt for the job.
func (s *Scheduler) runJob(ctx context.Context, jobID string) {
	lease, err := s.pool.Checkout(ctx)
	if err != nil {
		switch {
		case errors.Is(err, pool.ErrPoolExhausted):
			s.logger.Debug("pool exhausted, delaying job", "job_id", jobID)
			s.requeueAfter(jobID, s.cfg.ExhaustedDelay)
		case errors.Is(err, pool.ErrPoolShuttingDown):
			s.requeue(jobID)
		default:
			s.requeue(jobID)
		}
		return
	}

	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		s.pool.Checkin(lease, model.OutcomeAborted)
		return
	}
	job.Status = model.JobDispatched
	job.Attempt++
	job.AssignedNodeID = lease.NodeID()
	target := job.TargetURL
	s.mu.Unlock()

	artifact, err := s.fetcher.Do(ctx, lease.ProxyAddr(), target)

	if ctx.Err() != nil {
		// Shutdown mid-flight: give the attempt back and requeue.
		s.pool.Checkin(lease, model.OutcomeAborted)
		s.mu.Lock()
		job.Status = model.JobPending
		job.Attempt--
		job.AssignedNodeID = ""
		s.mu.Unlock()
		return
	}

	if err != nil {
		s.pool.Checkin(lease, model.OutcomeFailure)
		s.failJob(job, err)
		return
	}

	node := lease.Node()
	s.pool.Checkin(lease, model.OutcomeSuccess)

	artifact.JobID = jobID
	artifact.NodeID = node.ID
	artifact.ExitIP = node.ExitIP

	s.mu.Lock()
	job.Status = model.JobSucceeded
	job.AssignedNodeID = ""
	s.mu.Unlock()

	s.logger.Info("job succeeded",
		"job_id", jobID, "node_id", node.ID, "status_code", artifact.StatusCode)
	s.emit(sinkEvent{jobID: jobID, artifact: artifact})
}

// failJob requeues with backoff or abandons once the budget is spent.
func (s *Scheduler) failJob(job *model.ScrapeJob, cause error) {
	s.mu.Lock()
	job.Status = model.JobFailed
	job.AssignedNodeID = ""
	jobID := job.ID
	attempt := job.Attempt
	retry := job.AttemptsLeft()
	if retry {
		job.Status = model.JobPending
	} else {
		job.Status = model.JobAbandoned
		job.FailureReason = cause.Error()
	}
	s.mu.Unlock()

	if retry {
		delay := s.backoff.Delay(attempt)
		s.logger.Info("job attempt failed, retrying",
			"job_id", jobID, "attempt", attempt, "delay", delay, "error", cause)
		s.requeueAfter(jobID, delay)
		return
	}

	s.logger.Warn("job abandoned",
		"job_id", jobID, "attempts", attempt, "error", cause)
	s.emit(sinkEvent{jobID: jobID, reason: cause.Error(), abandoned: true})
}

// requeue puts a job back in the queue. It re-enters FIFO order within
// its priority with a fresh sequence number.
func (s *Scheduler) requeue(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || s.closed {
		return
	}
	job.Status = model.JobPending
	s.pushLocked(job)
}

func (s *Scheduler) requeueAfter(jobID string, delay time.Duration) {
	if delay <= 0 {
		s.requeue(jobID)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.timers[jobID] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, jobID)
		s.mu.Unlock()
		s.requeue(jobID)
	})
}

func (s *Scheduler) pushLocked(job *model.ScrapeJob) {
	s.seq++
	heap.Push(&s.queue, queued{jobID: job.ID, priority: job.Priority, seq: s.seq})
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// emit hands a result to the sink delivery goroutine without blocking
// dispatch.
func (s *Scheduler) emit(ev sinkEvent) {
	if s.sink == nil {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("result sink backlogged, dropping event", "job_id", ev.jobID)
	}
}

func (s *Scheduler) deliverResults(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.events:
			if s.sink == nil {
				continue
			}
			if ev.abandoned {
				s.sink.OnAbandoned(ev.jobID, ev.reason)
			} else {
				s.sink.OnSucceeded(ev.jobID, ev.artifact)
			}
		}
	}
}
