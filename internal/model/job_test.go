package model

import "testing"

// TestJobStatusString tests the String method of JobStatus.
func TestJobStatusString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status JobStatus
		want   string
	}{
		{JobPending, "pending"},
		{JobDispatched, "dispatched"},
		{JobSucceeded, "succeeded"},
		{JobFailed, "failed"},
		{JobAbandoned, "abandoned"},
		{JobStatus(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("JobStatus(%d).String() = %q, expected %q", tt.status, got, tt.want)
		}
	}
}

// TestJobStatusTerminal tests terminal status classification.
func TestJobStatusTerminal(t *testing.T) {
	t.Parallel()

	terminal := map[JobStatus]bool{
		JobPending:    false,
		JobDispatched: false,
		JobSucceeded:  true,
		JobFailed:     false,
		JobAbandoned:  true,
	}

	for status, want := range terminal {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, expected %v", status, got, want)
		}
	}
}

// TestScrapeJobAttemptsLeft tests retry budget accounting.
func TestScrapeJobAttemptsLeft(t *testing.T) {
	t.Parallel()

	t.Run("attempts remain", func(t *testing.T) {
		t.Parallel()

		job := ScrapeJob{Attempt: 2, MaxAttempts: 3}
		if !job.AttemptsLeft() {
			t.Error("expected attempts left")
		}
	})

	t.Run("budget exhausted", func(t *testing.T) {
		t.Parallel()

		job := ScrapeJob{Attempt: 3, MaxAttempts: 3}
		if job.AttemptsLeft() {
			t.Error("expected no attempts left")
		}
	})
}

// TestOutcomeString tests the String method of Outcome.
func TestOutcomeString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		outcome Outcome
		want    string
	}{
		{OutcomeSuccess, "success"},
		{OutcomeFailure, "failure"},
		{OutcomeRotated, "rotated"},
		{OutcomeAborted, "aborted"},
		{Outcome(7), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.outcome.String(); got != tt.want {
			t.Errorf("Outcome(%d).String() = %q, expected %q", tt.outcome, got, tt.want)
		}
	}
}
