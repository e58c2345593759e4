// Package log provides structured logging for torcirc with automatic
// masking of credential material.
//
// All torcirc components log through log/slog. The RedactingHandler in this
// package wraps any slog backend and masks Tor control-port passwords,
// auth cookies, and HTTP credentials before records are written. The pool
// and health monitor log node endpoints freely; only authentication
// material is withheld.
package log
