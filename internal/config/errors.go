package config

import "errors"

// Configuration validation errors returned by Config.Validate.
// Package-level sentinels keep errors.Is usable by callers while still
// carrying human-readable messages.
var (
	// ErrInvalidPoolMin is returned when the minimum pool size is below one.
	// A pool that can shrink to zero would stall every checkout.
	ErrInvalidPoolMin = errors.New("invalid pool minimum: must be at least 1")

	// ErrInvalidPoolMax is returned when the maximum pool size is below
	// the minimum.
	ErrInvalidPoolMax = errors.New("invalid pool maximum: must be >= pool minimum")

	// ErrInvalidCheckoutTimeout is returned when the checkout timeout is
	// not positive.
	ErrInvalidCheckoutTimeout = errors.New("invalid checkout timeout: must be positive")

	// ErrInvalidProbeInterval is returned when the probe interval is not
	// positive.
	ErrInvalidProbeInterval = errors.New("invalid probe interval: must be positive")

	// ErrInvalidFailureThreshold is returned when the rotation failure
	// threshold is below one.
	ErrInvalidFailureThreshold = errors.New("invalid failure threshold: must be at least 1")

	// ErrRetireBelowRotate is returned when the retire threshold does not
	// exceed the rotation threshold. Rotation is the first response to
	// failures; retirement must be the stricter fallback.
	ErrRetireBelowRotate = errors.New("invalid retire threshold: must exceed failure threshold")

	// ErrInvalidRequestTimeout is returned when the per-request timeout
	// is not positive.
	ErrInvalidRequestTimeout = errors.New("invalid request timeout: must be positive")

	// ErrInvalidBackoff is returned when the backoff parameters are
	// inconsistent (non-positive base, cap below base, negative jitter).
	ErrInvalidBackoff = errors.New("invalid backoff: base must be positive, cap >= base, jitter >= 0")

	// ErrInvalidWorkerCount is returned when the dispatch worker count is
	// below one.
	ErrInvalidWorkerCount = errors.New("invalid dispatch workers: must be at least 1")

	// ErrUnknownRuntime is returned when the runtime kind is neither
	// "docker" nor "embedded".
	ErrUnknownRuntime = errors.New(`unknown runtime: must be "docker" or "embedded"`)

	// ErrInvalidPortRange is returned when the docker host-port range is
	// empty or reaches into privileged ports.
	ErrInvalidPortRange = errors.New("invalid port range: must be non-empty and above 1023")
)
