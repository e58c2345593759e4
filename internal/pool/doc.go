// Package pool manages the set of Tor exit nodes behind a single-owner
// lease discipline.
//
// Every node state transition happens inside the pool under one mutex.
// Checkout hands out the least recently rotated Ready node as a Lease;
// exactly one lease exists per node at any time, whether held by a
// dispatch worker or by the health monitor. Checkin reports an outcome
// and the pool applies the configured rotation policy: reset counters on
// success, quarantine or retire on failure, refresh identity bookkeeping
// on rotation.
//
// The pool grows lazily. It starts at the configured minimum, adds nodes
// up to the maximum when checkouts find nothing Ready, and backs off for
// a cooldown after a failed creation. A new node is only promoted to
// Ready after passing an end-to-end probe through its SOCKS endpoint.
package pool
