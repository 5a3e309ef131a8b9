package relay

import "errors"

// Domain-specific errors for relay operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnClosed is returned by Conn.Send when the connection has been
	// closed and can no longer accept outbound data.
	ErrConnClosed = errors.New("relay: connection closed")

	// ErrSendBufferFull is returned by Conn.Send when the recipient's
	// outbound buffer is full. A full buffer is treated as a failed send;
	// there is no blocking and no retry.
	ErrSendBufferFull = errors.New("relay: send buffer full")

	// ErrDeviceUnavailable is returned when a command targets a device id
	// that is not currently registered, or whose connection failed during
	// the single send attempt.
	ErrDeviceUnavailable = errors.New("relay: device unavailable")

	// ErrInvalidMessage is returned when an inbound payload fails schema
	// validation (not JSON, unknown kind, missing required field).
	ErrInvalidMessage = errors.New("relay: invalid message")
)
