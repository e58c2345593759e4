package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/torcirc/torcirc/internal/model"
	"github.com/torcirc/torcirc/internal/pool"
	"github.com/torcirc/torcirc/internal/scheduler"
)

const (
	// shutdownTimeout bounds graceful server shutdown.
	shutdownTimeout = 5 * time.Second

	// readHeaderTimeout guards against slow-header clients.
	readHeaderTimeout = 10 * time.Second

	// maxRequestBody bounds submit payloads.
	maxRequestBody = 1 << 20
)

// JobService is the scheduler surface the API exposes.
type JobService interface {
	Submit(targetURL string, priority, maxAttempts int) (string, error)
	Status(jobID string) (model.ScrapeJob, error)
}

// NodeService is the pool surface the API exposes.
type NodeService interface {
	Nodes() []model.ExitNode
	Stats() pool.Stats
}

// Server is the JSON-over-HTTP intake: submit jobs, query job status,
// inspect pool occupancy. It exposes no node control endpoints; all
// lifecycle decisions stay inside the daemon.
type Server struct {
	jobs   JobService
	nodes  NodeService
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewServer creates a Server over the given services.
func NewServer(jobs JobService, nodes NodeService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		jobs:   jobs,
		nodes:  nodes,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /api/v1/jobs", s.handleSubmit)
	s.mux.HandleFunc("GET /api/v1/jobs/{id}", s.handleJobStatus)
	s.mux.HandleFunc("GET /api/v1/nodes", s.handleNodes)
	return s
}

// Handler returns the route handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type submitRequest struct {
	TargetURL   string `json:"target_url"`
	Priority    int    `json:"priority"`
	MaxAttempts int    `json:"max_attempts"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

type jobResponse struct {
	ID             string    `json:"id"`
	TargetURL      string    `json:"target_url"`
	Priority       int       `json:"priority"`
	MaxAttempts    int       `json:"max_attempts"`
	Attempt        int       `json:"attempt"`
	Status         string    `json:"status"`
	AssignedNodeID string    `json:"assigned_node_id,omitempty"`
	SubmittedAt    time.Time `json:"submitted_at"`
	FailureReason  string    `json:"failure_reason,omitempty"`
}

// nodeResponse deliberately omits the control endpoint; it never leaves
// the daemon.
type nodeResponse struct {
	ID                  string    `json:"id"`
	ProxyAddr           string    `json:"proxy_addr"`
	ExitIP              string    `json:"exit_ip,omitempty"`
	State               string    `json:"state"`
	CreatedAt           time.Time `json:"created_at"`
	LastRotatedAt       time.Time `json:"last_rotated_at"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

type nodesResponse struct {
	Stats pool.Stats     `json:"stats"`
	Nodes []nodeResponse `json:"nodes"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.MaxAttempts == 0 {
		req.MaxAttempts = 1
	}

	jobID, err := s.jobs.Submit(req.TargetURL, req.Priority, req.MaxAttempts)
	if err != nil {
		switch {
		case errors.Is(err, scheduler.ErrInvalidJob):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, scheduler.ErrSchedulerClosed):
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			s.logger.Error("job submit failed", "error", err)
			s.writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	s.writeJSON(w, http.StatusAccepted, submitResponse{JobID: jobID})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Status(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, scheduler.ErrUnknownJob) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("job status failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, jobResponse{
		ID:             job.ID,
		TargetURL:      job.TargetURL,
		Priority:       job.Priority,
		MaxAttempts:    job.MaxAttempts,
		Attempt:        job.Attempt,
		Status:         job.Status.String(),
		AssignedNodeID: job.AssignedNodeID,
		SubmittedAt:    job.SubmittedAt,
		FailureReason:  job.FailureReason,
	})
}

func (s *Server) handleNodes(w http.ResponseWriter, _ *http.Request) {
	nodes := s.nodes.Nodes()
	resp := nodesResponse{
		Stats: s.nodes.Stats(),
		Nodes: make([]nodeResponse, 0, len(nodes)),
	}
	for _, n := range nodes {
		resp.Nodes = append(resp.Nodes, nodeResponse{
			ID:                  n.ID,
			ProxyAddr:           n.ProxyAddr,
			ExitIP:              n.ExitIP,
			State:               n.State.String(),
			CreatedAt:           n.CreatedAt,
			LastRotatedAt:       n.LastRotatedAt,
			ConsecutiveFailures: n.ConsecutiveFailures,
		})
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}
