package database

import (
	"context"
	"log/slog"
	"time"

	"github.com/torcirc/torcirc/internal/model"
)

// recordTimeout bounds each background write so a wedged disk cannot
// stall pool transitions.
const recordTimeout = 5 * time.Second

// Recorder adapts the Store to the pool's lifecycle observer and the
// scheduler's result sink. Write failures are logged, never propagated:
// persistence is best effort and must not disturb dispatch.
type Recorder struct {
	store  *Store
	logger *slog.Logger
}

// NewRecorder creates a Recorder over the store.
func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger}
}

// NodeCreated implements pool.Recorder.
func (r *Recorder) NodeCreated(node model.ExitNode) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := r.store.InsertNode(ctx, node); err != nil {
		r.logger.Warn("persist node creation", "node_id", node.ID, "error", err)
	}
}

// NodeRotated implements pool.Recorder.
func (r *Recorder) NodeRotated(node model.ExitNode) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := r.store.MarkNodeRotated(ctx, node.ID); err != nil {
		r.logger.Warn("persist node rotation", "node_id", node.ID, "error", err)
	}
}

// NodeRetired implements pool.Recorder.
func (r *Recorder) NodeRetired(node model.ExitNode) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := r.store.MarkNodeRetired(ctx, node); err != nil {
		r.logger.Warn("persist node retirement", "node_id", node.ID, "error", err)
	}
}

// NodeExitIPResolved implements pool.Recorder.
func (r *Recorder) NodeExitIPResolved(node model.ExitNode) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := r.store.SetNodeExitIP(ctx, node.ID, node.ExitIP); err != nil {
		r.logger.Warn("persist node exit ip", "node_id", node.ID, "error", err)
	}
}

// SinkRecorder persists terminal job results. It satisfies the
// scheduler's ResultSink and can wrap another sink for fan-out.
type SinkRecorder struct {
	store  *Store
	logger *slog.Logger
	next   interface {
		OnSucceeded(jobID string, artifact model.Artifact)
		OnAbandoned(jobID, reason string)
	}
}

// NewSinkRecorder creates a SinkRecorder. next may be nil.
func NewSinkRecorder(store *Store, logger *slog.Logger, next interface {
	OnSucceeded(jobID string, artifact model.Artifact)
	OnAbandoned(jobID, reason string)
}) *SinkRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &SinkRecorder{store: store, logger: logger, next: next}
}

// OnSucceeded implements scheduler.ResultSink.
func (s *SinkRecorder) OnSucceeded(jobID string, artifact model.Artifact) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	err := s.store.InsertJobResult(ctx, JobResult{
		JobID:      jobID,
		TargetURL:  artifact.URL,
		Status:     model.JobSucceeded.String(),
		NodeID:     artifact.NodeID,
		ExitIP:     artifact.ExitIP,
		StatusCode: artifact.StatusCode,
		Duration:   artifact.Duration,
		FinishedAt: artifact.FetchedAt,
	})
	if err != nil {
		s.logger.Warn("persist job success", "job_id", jobID, "error", err)
	}
	if s.next != nil {
		s.next.OnSucceeded(jobID, artifact)
	}
}

// OnAbandoned implements scheduler.ResultSink.
func (s *SinkRecorder) OnAbandoned(jobID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	err := s.store.InsertJobResult(ctx, JobResult{
		JobID:         jobID,
		Status:        model.JobAbandoned.String(),
		FailureReason: reason,
	})
	if err != nil {
		s.logger.Warn("persist job abandonment", "job_id", jobID, "error", err)
	}
	if s.next != nil {
		s.next.OnAbandoned(jobID, reason)
	}
}
