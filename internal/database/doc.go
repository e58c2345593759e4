// Package database persists node lifecycle history and job outcomes in
// SQLite. The running pool and scheduler never read from it; it exists
// for the report command and post-run inspection, and all writes are
// best effort.
package database
