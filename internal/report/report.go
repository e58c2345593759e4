package report

import (
	"context"
	"fmt"
	"time"

	"github.com/torcirc/torcirc/internal/database"
)

// recentJobLimit bounds the per-job detail section of a report.
const recentJobLimit = 50

// RunReport aggregates the persisted state of one torcirc data directory:
// every node lifetime and the job outcome history.
type RunReport struct {
	// GeneratedAt is when the report was assembled.
	GeneratedAt time.Time `json:"generated_at"`

	// Nodes lists every node lifetime, newest first.
	Nodes []database.NodeRow `json:"nodes"`

	// JobCounts maps job status to the number of stored results.
	JobCounts map[string]int `json:"job_counts"`

	// RecentJobs holds the newest job results, capped.
	RecentJobs []database.JobResult `json:"recent_jobs"`
}

// TotalJobs returns the number of stored job results.
func (r *RunReport) TotalJobs() int {
	total := 0
	for _, n := range r.JobCounts {
		total += n
	}
	return total
}

// ActiveNodes returns how many stored nodes have not been retired.
func (r *RunReport) ActiveNodes() int {
	active := 0
	for _, n := range r.Nodes {
		if n.RetiredAt.IsZero() {
			active++
		}
	}
	return active
}

// Build assembles a RunReport from the store.
func Build(ctx context.Context, store *database.Store) (*RunReport, error) {
	nodes, err := store.ListNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("load node history: %w", err)
	}
	counts, err := store.CountJobsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("load job counts: %w", err)
	}
	recent, err := store.ListRecentJobs(ctx, recentJobLimit)
	if err != nil {
		return nil, fmt.Errorf("load recent jobs: %w", err)
	}

	return &RunReport{
		GeneratedAt: time.Now(),
		Nodes:       nodes,
		JobCounts:   counts,
		RecentJobs:  recent,
	}, nil
}
