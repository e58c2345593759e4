package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/torcirc/torcirc/internal/model"
	"github.com/torcirc/torcirc/internal/pool"
	"github.com/torcirc/torcirc/internal/scheduler"
)

// fakeJobs is a canned JobService.
type fakeJobs struct {
	submitID  string
	submitErr error
	jobs      map[string]model.ScrapeJob

	gotURL      string
	gotPriority int
	gotAttempts int
}

func (f *fakeJobs) Submit(targetURL string, priority, maxAttempts int) (string, error) {
	f.gotURL = targetURL
	f.gotPriority = priority
	f.gotAttempts = maxAttempts
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.submitID, nil
}

func (f *fakeJobs) Status(jobID string) (model.ScrapeJob, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return model.ScrapeJob{}, scheduler.ErrUnknownJob
	}
	return job, nil
}

// fakeNodes is a canned NodeService.
type fakeNodes struct {
	nodes []model.ExitNode
	stats pool.Stats
}

func (f *fakeNodes) Nodes() []model.ExitNode { return f.nodes }

func (f *fakeNodes) Stats() pool.Stats { return f.stats }

// TestHandleSubmit tests job submission responses.
func TestHandleSubmit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		submitErr  error
		wantStatus int
	}{
		{
			name:       "accepted",
			body:       `{"target_url":"http://example.onion","priority":5,"max_attempts":3}`,
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "malformed body",
			body:       `{"target_url":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid job",
			body:       `{"target_url":""}`,
			submitErr:  scheduler.ErrInvalidJob,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "scheduler closed",
			body:       `{"target_url":"http://example.onion"}`,
			submitErr:  scheduler.ErrSchedulerClosed,
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			jobs := &fakeJobs{submitID: "job-1", submitErr: tt.submitErr}
			srv := NewServer(jobs, &fakeNodes{}, nil)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, expected %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusAccepted {
				var resp submitResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
					t.Fatalf("invalid JSON response: %v", err)
				}
				if resp.JobID != "job-1" {
					t.Errorf("job_id = %q, expected job-1", resp.JobID)
				}
			}
		})
	}
}

// TestHandleSubmitDefaultsAttempts tests that omitted max_attempts
// defaults to one.
func TestHandleSubmitDefaultsAttempts(t *testing.T) {
	t.Parallel()

	jobs := &fakeJobs{submitID: "job-1"}
	srv := NewServer(jobs, &fakeNodes{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs",
		strings.NewReader(`{"target_url":"http://example.onion"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if jobs.gotAttempts != 1 {
		t.Errorf("max_attempts = %d, expected default 1", jobs.gotAttempts)
	}
}

// TestHandleJobStatus tests status lookup and the 404 path.
func TestHandleJobStatus(t *testing.T) {
	t.Parallel()

	jobs := &fakeJobs{jobs: map[string]model.ScrapeJob{
		"job-1": {
			ID:          "job-1",
			TargetURL:   "http://example.onion",
			MaxAttempts: 3,
			Attempt:     1,
			Status:      model.JobSucceeded,
			SubmittedAt: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
		},
	}}
	srv := NewServer(jobs, &fakeNodes{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, expected 200", rec.Code)
	}
	var resp jobResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp.Status != "succeeded" {
		t.Errorf("status = %q, expected succeeded", resp.Status)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/missing", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, expected 404", rec.Code)
	}
}

// TestHandleNodes tests the pool inspection endpoint and that control
// endpoints never appear in responses.
func TestHandleNodes(t *testing.T) {
	t.Parallel()

	nodes := &fakeNodes{
		nodes: []model.ExitNode{
			{
				ID:          "node-1",
				ProxyAddr:   "127.0.0.1:40001",
				ControlAddr: "127.0.0.1:40002",
				ExitIP:      "93.184.216.34",
				State:       model.NodeReady,
			},
		},
		stats: pool.Stats{Total: 1, Ready: 1},
	}
	srv := NewServer(&fakeJobs{}, nodes, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/nodes", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, expected 200", rec.Code)
	}
	var resp nodesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp.Stats.Ready != 1 {
		t.Errorf("stats.ready = %d, expected 1", resp.Stats.Ready)
	}
	if len(resp.Nodes) != 1 || resp.Nodes[0].State != "ready" {
		t.Errorf("unexpected nodes payload: %+v", resp.Nodes)
	}
	if strings.Contains(rec.Body.String(), "40002") {
		t.Error("control endpoint leaked into the API response")
	}
}
