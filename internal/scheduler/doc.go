// Package scheduler queues scrape jobs and dispatches them through pool
// leases.
//
// Jobs dispatch in priority order, FIFO within a priority. A fixed set of
// workers performs one attempt per lease: checkout, fetch through the
// node's SOCKS proxy, checkin with the outcome. Failed attempts retry
// with capped exponential backoff plus jitter until the attempt budget
// runs out, at which point the job is abandoned and reported to the
// result sink. An exhausted pool delays the job without spending an
// attempt.
package scheduler
