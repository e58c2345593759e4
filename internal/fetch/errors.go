package fetch

import "errors"

var (
	// ErrInvalidProxyAddress is returned when the SOCKS5 address is not
	// in "host:port" form.
	ErrInvalidProxyAddress = errors.New("invalid proxy address")

	// ErrRequestFailed is returned when the target answered with an HTTP
	// error status.
	ErrRequestFailed = errors.New("request failed")

	// ErrRequestTimeout is returned when the request exceeded its
	// deadline before a response arrived.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrBodyTooLarge is returned when the response body exceeds the
	// configured size limit.
	ErrBodyTooLarge = errors.New("response body too large")
)
