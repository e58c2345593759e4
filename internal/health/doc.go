// Package health watches pool nodes with end-to-end probes.
//
// A probe is a real request through the node's SOCKS endpoint against a
// known-reachable target, so it exercises the whole circuit rather than
// just the local process. Failing nodes get an in-place identity rotation
// first; the pool's rotation policy decides quarantine and retirement.
// The monitor also resolves each circuit's external exit address through
// public IP-echo services and records it on the node.
package health
