// Package policy holds the pure decision logic for circuit rotation and
// retirement.
//
// The pool and the health monitor both consult a RotationPolicy but never
// act on raw thresholds themselves, so operational tuning (and wholesale
// policy swaps) never touch the lifecycle machinery. Rotation is the
// first response to a failing circuit; retirement is the stricter
// fallback for circuits that rotation cannot save.
package policy
