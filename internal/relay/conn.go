package relay

// Conn is one persistent bidirectional message channel, independent of which
// side opened it. Production connections are WebSockets (see internal/api);
// tests use in-memory implementations.
//
// Implementations must guarantee:
//   - Send never blocks the caller on a slow peer. It either enqueues the
//     payload for delivery in submission order, or fails immediately with
//     ErrConnClosed or ErrSendBufferFull.
//   - Payloads accepted by Send are delivered to the peer in the order they
//     were submitted (per-recipient FIFO).
//   - Close releases the connection's resources exactly once; subsequent
//     calls are no-ops.
type Conn interface {
	// Send enqueues one outbound message. A non-nil error means the message
	// was not and will never be delivered.
	Send(data []byte) error

	// Close tears the connection down. Safe to call multiple times.
	Close() error
}
