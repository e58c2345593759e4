package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/torcirc/torcirc/internal/database"
	"github.com/torcirc/torcirc/internal/model"
	"github.com/torcirc/torcirc/internal/report"
)

// seedRunDatabase creates a run database with one node and one finished
// job, returning its directory.
func seedRunDatabase(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	store, err := database.Open(dir, database.Options{CreateIfNotExists: true})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer store.Close() //nolint:errcheck // test cleanup

	ctx := context.Background()
	node := model.ExitNode{
		ID:        "aaaabbbb-1111-2222-3333-444455556666",
		ProxyAddr: "127.0.0.1:40001",
		CreatedAt: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC),
	}
	if err := store.InsertNode(ctx, node); err != nil {
		t.Fatalf("InsertNode() error: %v", err)
	}
	if err := store.InsertJobResult(ctx, database.JobResult{
		JobID:      "eeeeffff-1111-2222-3333-444455556666",
		TargetURL:  "http://example.onion/page",
		Status:     "succeeded",
		Attempts:   1,
		NodeID:     node.ID,
		StatusCode: 200,
		Duration:   1200 * time.Millisecond,
		FinishedAt: time.Date(2026, 8, 25, 11, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("InsertJobResult() error: %v", err)
	}
	return dir
}

// TestReportCmdMarkdown tests the default markdown rendering.
func TestReportCmdMarkdown(t *testing.T) {
	t.Parallel()

	dir := seedRunDatabase(t)

	var buf bytes.Buffer
	cmd := NewReportCmd()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"--db-dir", dir})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"# torcirc Run Report",
		"`aaaabbbb`",
		"http://example.onion/page",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report output missing %q", want)
		}
	}
}

// TestReportCmdJSON tests that --json emits a decodable report.
func TestReportCmdJSON(t *testing.T) {
	t.Parallel()

	dir := seedRunDatabase(t)

	var buf bytes.Buffer
	cmd := NewReportCmd()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"--db-dir", dir, "--json"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var rep report.RunReport
	if err := json.Unmarshal(buf.Bytes(), &rep); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(rep.Nodes) != 1 {
		t.Errorf("decoded %d nodes, expected 1", len(rep.Nodes))
	}
	if rep.JobCounts["succeeded"] != 1 {
		t.Errorf("succeeded count = %d, expected 1", rep.JobCounts["succeeded"])
	}
}

// TestReportCmdExclusiveFormats tests that --json and --markdown cannot
// be combined.
func TestReportCmdExclusiveFormats(t *testing.T) {
	t.Parallel()

	cmd := NewReportCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"--json", "--markdown"})

	if err := cmd.Execute(); err == nil {
		t.Error("expected error for --json with --markdown")
	}
}

// TestReportCmdMissingDatabase tests the error for an absent database.
func TestReportCmdMissingDatabase(t *testing.T) {
	t.Parallel()

	cmd := NewReportCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"--db-dir", t.TempDir()})

	if err := cmd.Execute(); err == nil {
		t.Error("expected error for missing run database")
	}
}
