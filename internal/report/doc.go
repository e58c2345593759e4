// Package report renders the persisted run history as markdown or JSON.
//
// Reports are built from the SQLite store, not live pool state, so they
// work after the daemon has exited. Writers share one interface and can
// be fanned out to several destinations at once.
package report
