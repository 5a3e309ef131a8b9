// Package relay implements the connection registry and message relay at the
// heart of ESPLink Core.
//
// It sits between remote ESP32 actuator devices and control-UI frontends,
// both connected over persistent bidirectional channels:
//
//	FRONTEND(S)  <── WS ──>  ESPLINK CORE  <── WS ──>  ESP32(S)
//
// The package is transport-agnostic: connections reach it through the Conn
// interface, so the same router serves WebSocket peers in production and
// in-memory fakes in tests.
//
// # Responsibilities
//
//   - Registry: the authoritative mapping of live device ids and frontend
//     sessions to their connections. Presence in the registry IS the online
//     state; there is no separate liveness flag to drift out of sync.
//   - Router: decodes inbound messages, validates them against the current
//     registry, and dispatches (command forwarding, state forwarding,
//     registration, snapshot).
//   - Broadcaster: fans notifications out to frontends, isolating slow or
//     failed recipients from each other.
//   - Purge: the single code path that removes a device and announces it
//     offline, idempotent under concurrent triggers.
//
// # Failure policy
//
// There is no retry, no queueing, and no server-initiated reconnection
// anywhere in this package. A message that cannot be delivered at send time
// is gone; a connection that fails a send is purged; reconnection is
// entirely the peer's responsibility. The registry reacts only to failures
// it actually observes (closed connection or failed send), never
// pre-emptively.
//
// # Thread safety
//
// The Registry is the only shared mutable state and every access is
// serialised behind its mutex. All other types are safe for concurrent use.
package relay
