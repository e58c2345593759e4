// Package model defines the core data structures shared across torcirc.
//
// This package contains the following main types:
//   - ExitNode: a point-in-time view of one managed Tor exit identity
//   - ScrapeJob: one unit of scraping work and its retry bookkeeping
//   - Artifact: the response handle delivered to the result sink
//   - Outcome: the result classification reported at lease checkin
//
// The authoritative copies of nodes and jobs live inside the pool and the
// scheduler respectively; every ExitNode and ScrapeJob that crosses a
// package boundary is a value copy. Keeping the types here, free of any
// behavior that mutates shared state, prevents import cycles between the
// pool, scheduler, health, and report packages.
package model
