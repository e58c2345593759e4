package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/torcirc/torcirc/internal/model"
)

// dbFileName is the SQLite file created inside the data directory.
const dbFileName = "torcirc.db"

// Store is SQLite-backed persistence for node lifecycle history and job
// outcomes. The in-memory pool and scheduler stay authoritative; the
// store exists for reporting and post-run inspection.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Options configures Store behavior.
type Options struct {
	// CreateIfNotExists creates the directory and database file when
	// missing.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging for better concurrent
	// read performance.
	EnableWAL bool
}

// DefaultOptions returns the default store options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates the store under dbDir.
func Open(dbDir string, opts Options) (*Store, error) {
	dbPath := filepath.Join(dbDir, dbFileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// mode=rw prevents silently creating a fresh file when the caller
	// expects an existing one.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite supports a single writer; one connection avoids lock
	// contention errors under concurrent recorder calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, dbPath: dbPath}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	schema := `
	-- One row per node lifetime.
	CREATE TABLE IF NOT EXISTS nodes (
		node_id TEXT PRIMARY KEY,
		proxy_addr TEXT NOT NULL,
		control_addr TEXT,
		exit_ip TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		retired_at DATETIME,
		rotations INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_nodes_created ON nodes(created_at);

	-- One row per terminal job outcome.
	CREATE TABLE IF NOT EXISTS job_results (
		job_id TEXT PRIMARY KEY,
		target_url TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		node_id TEXT,
		exit_ip TEXT,
		status_code INTEGER,
		duration_ms INTEGER,
		failure_reason TEXT,
		finished_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON job_results(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_finished ON job_results(finished_at);
	`

	_, err := s.db.ExecContext(context.Background(), schema)
	return err
}

// InsertNode records a newly created node.
func (s *Store) InsertNode(ctx context.Context, node model.ExitNode) error {
	query := `
	INSERT INTO nodes (node_id, proxy_addr, control_addr, exit_ip)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(node_id) DO UPDATE SET
		proxy_addr = excluded.proxy_addr,
		control_addr = excluded.control_addr,
		exit_ip = excluded.exit_ip
	`
	_, err := s.db.ExecContext(ctx, query, node.ID, node.ProxyAddr, node.ControlAddr, node.ExitIP)
	if err != nil {
		return fmt.Errorf("insert node: %w", err)
	}
	return nil
}

// MarkNodeRotated bumps the node's rotation counter and clears its stale
// exit address.
func (s *Store) MarkNodeRotated(ctx context.Context, nodeID string) error {
	query := `UPDATE nodes SET rotations = rotations + 1, exit_ip = '' WHERE node_id = ?`
	if _, err := s.db.ExecContext(ctx, query, nodeID); err != nil {
		return fmt.Errorf("mark node rotated: %w", err)
	}
	return nil
}

// MarkNodeRetired stamps the node's teardown time and final exit address.
func (s *Store) MarkNodeRetired(ctx context.Context, node model.ExitNode) error {
	query := `UPDATE nodes SET retired_at = CURRENT_TIMESTAMP, exit_ip = ? WHERE node_id = ?`
	if _, err := s.db.ExecContext(ctx, query, node.ExitIP, node.ID); err != nil {
		return fmt.Errorf("mark node retired: %w", err)
	}
	return nil
}

// SetNodeExitIP records a discovered exit address.
func (s *Store) SetNodeExitIP(ctx context.Context, nodeID, ip string) error {
	query := `UPDATE nodes SET exit_ip = ? WHERE node_id = ?`
	if _, err := s.db.ExecContext(ctx, query, ip, nodeID); err != nil {
		return fmt.Errorf("set node exit ip: %w", err)
	}
	return nil
}

// JobResult is one terminal job outcome.
type JobResult struct {
	JobID         string
	TargetURL     string
	Status        string
	Attempts      int
	NodeID        string
	ExitIP        string
	StatusCode    int
	Duration      time.Duration
	FailureReason string
	FinishedAt    time.Time
}

// InsertJobResult records a terminal job outcome.
func (s *Store) InsertJobResult(ctx context.Context, r JobResult) error {
	query := `
	INSERT INTO job_results (job_id, target_url, status, attempts, node_id, exit_ip, status_code, duration_ms, failure_reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(job_id) DO UPDATE SET
		status = excluded.status,
		attempts = excluded.attempts,
		node_id = excluded.node_id,
		exit_ip = excluded.exit_ip,
		status_code = excluded.status_code,
		duration_ms = excluded.duration_ms,
		failure_reason = excluded.failure_reason,
		finished_at = CURRENT_TIMESTAMP
	`
	_, err := s.db.ExecContext(ctx, query,
		r.JobID, r.TargetURL, r.Status, r.Attempts, r.NodeID, r.ExitIP,
		r.StatusCode, r.Duration.Milliseconds(), r.FailureReason,
	)
	if err != nil {
		return fmt.Errorf("insert job result: %w", err)
	}
	return nil
}

// NodeRow is one stored node lifetime.
type NodeRow struct {
	NodeID      string
	ProxyAddr   string
	ControlAddr string
	ExitIP      string
	CreatedAt   time.Time
	RetiredAt   time.Time // zero while the node is alive
	Rotations   int
}

// ListNodes returns every stored node, newest first.
func (s *Store) ListNodes(ctx context.Context) ([]NodeRow, error) {
	query := `
	SELECT node_id, proxy_addr, COALESCE(control_addr, ''), COALESCE(exit_ip, ''),
	       created_at, COALESCE(retired_at, ''), rotations
	FROM nodes
	ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var results []NodeRow
	for rows.Next() {
		var row NodeRow
		var created, retired string
		if err := rows.Scan(&row.NodeID, &row.ProxyAddr, &row.ControlAddr, &row.ExitIP,
			&created, &retired, &row.Rotations); err != nil {
			return nil, fmt.Errorf("scan node row: %w", err)
		}
		row.CreatedAt = parseTimestamp(created)
		if retired != "" {
			row.RetiredAt = parseTimestamp(retired)
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// CountJobsByStatus returns the number of stored job results per status.
func (s *Store) CountJobsByStatus(ctx context.Context) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM job_results GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ListRecentJobs returns the most recent job results, newest first.
func (s *Store) ListRecentJobs(ctx context.Context, limit int) ([]JobResult, error) {
	query := `
	SELECT job_id, target_url, status, attempts, COALESCE(node_id, ''), COALESCE(exit_ip, ''),
	       COALESCE(status_code, 0), COALESCE(duration_ms, 0), COALESCE(failure_reason, ''), finished_at
	FROM job_results
	ORDER BY finished_at DESC
	LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent jobs: %w", err)
	}
	defer rows.Close()

	var results []JobResult
	for rows.Next() {
		var r JobResult
		var durationMS int64
		var finished string
		if err := rows.Scan(&r.JobID, &r.TargetURL, &r.Status, &r.Attempts, &r.NodeID,
			&r.ExitIP, &r.StatusCode, &durationMS, &r.FailureReason, &finished); err != nil {
			return nil, fmt.Errorf("scan job result: %w", err)
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		r.FinishedAt = parseTimestamp(finished)
		results = append(results, r)
	}
	return results, rows.Err()
}

// timestampFormats contains the timestamp formats SQLite may return,
// most specific first.
var timestampFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999",
}

// parseTimestamp parses a SQLite timestamp, returning zero time when no
// format matches.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
