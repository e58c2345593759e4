package runtime

import "errors"

// Circuit runtime errors. The pool handles all of these internally;
// none of them ever reach job callers.
var (
	// ErrCreationFailed is returned when a new circuit could not be
	// started. The pool abandons the growth attempt and continues at its
	// current size for a cooldown period.
	ErrCreationFailed = errors.New("circuit runtime failed to start")

	// ErrNoFreePort is returned when no free host port could be found in
	// the configured range after a bounded number of attempts.
	ErrNoFreePort = errors.New("no free port available in configured range")

	// ErrUnknownHandle is returned by Probe when the handle does not
	// belong to this runtime instance.
	ErrUnknownHandle = errors.New("unknown runtime handle")

	// ErrControlAuth is returned when the control port rejects
	// authentication.
	ErrControlAuth = errors.New("control port authentication failed")

	// ErrControlProtocol is returned when the control port answers with
	// something other than the expected reply format.
	ErrControlProtocol = errors.New("unexpected control port reply")

	// ErrRotationRefused is returned when the control port answers the
	// rotate command with a non-success status.
	ErrRotationRefused = errors.New("control port refused identity rotation")
)
