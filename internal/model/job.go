package model

import (
	"net/http"
	"time"
)

// JobStatus represents the state of a scrape job.
//
// The per-job state machine is:
//
//	Pending ──▶ Dispatched ──▶ Succeeded
//	                      └──▶ Pending (retry with backoff)
//	                      └──▶ Abandoned (attempts exhausted)
type JobStatus int

const (
	// JobPending means the job is queued and waiting for a dispatch worker.
	JobPending JobStatus = iota

	// JobDispatched means a worker holds a node lease and the outbound
	// request is in flight. AssignedNodeID is set exactly in this state.
	JobDispatched

	// JobSucceeded means the request completed and the artifact was
	// handed to the result sink.
	JobSucceeded

	// JobFailed means the most recent attempt failed. This is a transient
	// bookkeeping state; the scheduler immediately requeues (Pending) or
	// abandons the job, so callers normally never observe it.
	JobFailed

	// JobAbandoned means the job failed maxAttempts times and was
	// reported to the result sink with its final failure reason.
	JobAbandoned
)

// String returns the lowercase status name used in logs and API responses.
func (s JobStatus) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobDispatched:
		return "dispatched"
	case JobSucceeded:
		return "succeeded"
	case JobFailed:
		return "failed"
	case JobAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobAbandoned
}

// ScrapeJob is one unit of scraping work.
//
// The scheduler is the single owner of job state; external callers observe
// jobs through value copies only.
type ScrapeJob struct {
	// ID uniquely identifies the job.
	ID string

	// TargetURL is the page to fetch. Opaque to this subsystem beyond
	// being a dialable URL.
	TargetURL string

	// Priority orders the queue; higher values dispatch first.
	// Jobs of equal priority dispatch in submission order.
	Priority int

	// MaxAttempts bounds how many times the job may be dispatched
	// before it is abandoned. Always at least 1.
	MaxAttempts int

	// Attempt counts dispatches so far.
	Attempt int

	// Status is the job's position in the state machine above.
	Status JobStatus

	// AssignedNodeID names the node serving the in-flight request.
	// Invariant: non-empty iff Status == JobDispatched.
	AssignedNodeID string

	// SubmittedAt is when the job entered the queue.
	SubmittedAt time.Time

	// FailureReason records why the job was abandoned. Empty otherwise.
	FailureReason string
}

// AttemptsLeft reports whether the job may be dispatched again.
func (j ScrapeJob) AttemptsLeft() bool {
	return j.Attempt < j.MaxAttempts
}

// Outcome classifies the result of one lease, reported at checkin.
// The pool uses it to update failure counters and consult the
// rotation policy.
type Outcome int

const (
	// OutcomeSuccess means the request or probe completed normally.
	OutcomeSuccess Outcome = iota

	// OutcomeFailure means the request or probe failed or timed out.
	OutcomeFailure

	// OutcomeRotated means the holder rotated the node's identity over
	// its control endpoint while leased. The pool resets the node's age
	// and failure history.
	OutcomeRotated

	// OutcomeAborted means the holder released the lease without using
	// it, for example on scheduler shutdown. Counters are untouched.
	OutcomeAborted
)

// String returns the lowercase outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeRotated:
		return "rotated"
	case OutcomeAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Artifact is the response handle delivered to the result sink when a
// job succeeds. The subsystem does not parse or persist page content
// beyond carrying these bytes to the sink.
type Artifact struct {
	// JobID is the job that produced this artifact.
	JobID string

	// URL is the final URL after redirects.
	URL string

	// StatusCode is the HTTP status of the response.
	StatusCode int

	// Header holds the response headers.
	Header http.Header

	// Body is the response body, truncated to the configured limit.
	Body []byte

	// NodeID and ExitIP identify which circuit served the request.
	NodeID string
	ExitIP string

	// Duration is the wall time of the fetch.
	Duration time.Duration

	// FetchedAt is when the response was received.
	FetchedAt time.Time
}
