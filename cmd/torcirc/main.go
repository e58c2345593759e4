// Package main provides the entry point for the torcirc CLI.
//
// torcirc maintains a pool of isolated Tor circuits, each with its own
// exit identity, and dispatches scrape jobs across them. Identities are
// rotated or retired as targets push back.
//
// Usage:
//
//	torcirc serve
//	torcirc report --json
//
// See --help for all available options.
package main

// main is the entry point for torcirc.
func main() {
	Execute()
}
