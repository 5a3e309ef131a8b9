package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger defines the logging interface used by this package.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Outcome reports what RegisterDevice did with an id.
type Outcome int

const (
	// OutcomeRegistered means the id was not present; a new entry was created.
	OutcomeRegistered Outcome = iota
	// OutcomeReplaced means the id was already present; the previous
	// connection was closed and replaced (last-writer-wins).
	OutcomeReplaced
)

// String returns a human-readable outcome name for logging.
func (o Outcome) String() string {
	if o == OutcomeReplaced {
		return "replaced"
	}
	return "registered"
}

// deviceEntry is a live device connection. Owned exclusively by the Registry.
type deviceEntry struct {
	id           string
	conn         Conn
	lastState    json.RawMessage
	registeredAt time.Time
}

// frontendEntry is a live frontend connection. The selected device id is a
// weak reference: it may point at a device that has since been purged, so
// consumers must re-check existence before acting on it.
type frontendEntry struct {
	sessionID string
	conn      Conn
	selected  string
}

// Frontend is a read-only snapshot of a frontend connection, handed out for
// delivery fan-out after the registry lock is released.
type Frontend struct {
	SessionID string
	Conn      Conn
	Selected  string
}

// Registry is the authoritative mapping of live device ids and frontend
// sessions to their connections; the single source of truth for "online".
//
// A device id present in the registry is defined to mean online; there is
// no separate liveness flag. All mutating operations are atomic with respect
// to concurrent readers: membership and the ordered id list are maintained
// under one mutex, so they can never disagree.
type Registry struct {
	mu        sync.Mutex
	devices   map[string]*deviceEntry
	order     []string // live device ids in registration order
	frontends map[string]*frontendEntry
	logger    Logger
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		devices:   make(map[string]*deviceEntry),
		frontends: make(map[string]*frontendEntry),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RegisterDevice adds or replaces the connection for a device id.
//
// If the id is already present the previous connection is closed and
// replaced (last-writer-wins); two live connections for one id are never
// left behind. A replaced device keeps its original registration slot so
// snapshot ordering stays stable across reconnects.
func (r *Registry) RegisterDevice(id string, conn Conn, state json.RawMessage) Outcome {
	r.mu.Lock()

	prev, existed := r.devices[id]
	entry := &deviceEntry{
		id:           id,
		conn:         conn,
		lastState:    state,
		registeredAt: time.Now().UTC(),
	}
	r.devices[id] = entry
	if !existed {
		r.order = append(r.order, id)
	}
	r.mu.Unlock()

	if existed && prev.conn != conn {
		// Closed outside the lock; Close is required to be non-blocking.
		_ = prev.conn.Close()
	}

	outcome := OutcomeRegistered
	if existed {
		outcome = OutcomeReplaced
	}
	r.logger.Info("device registered", "device_id", id, "outcome", outcome.String())
	return outcome
}

// LookupDevice returns the connection for a live device id.
func (r *Registry) LookupDevice(id string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.devices[id]
	if !ok {
		return nil, false
	}
	return entry.conn, true
}

// DeviceState returns the cached last known state for a live device id.
func (r *Registry) DeviceState(id string) (json.RawMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.devices[id]
	if !ok {
		return nil, false
	}
	return entry.lastState, true
}

// UpdateDeviceState replaces the cached state for a live device id.
// Returns false if the id is not registered (purged mid-flight).
func (r *Registry) UpdateDeviceState(id string, state json.RawMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.devices[id]
	if !ok {
		return false
	}
	entry.lastState = state
	return true
}

// RemoveDevice removes a device id from the registry.
// Returns true if something was removed, false if the id was already absent.
// The bool makes purge idempotent: double-removal is a no-op, not an error.
func (r *Registry) RemoveDevice(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeDeviceLocked(id)
}

// RemoveDeviceConn removes a device id only if it is still mapped to the
// given connection. This guards the closed-connection purge trigger against
// racing a reconnect: a stale connection's teardown must not remove the
// replacement that registered in the meantime.
func (r *Registry) RemoveDeviceConn(id string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.devices[id]
	if !ok || entry.conn != conn {
		return false
	}
	return r.removeDeviceLocked(id)
}

// removeDeviceLocked removes the id from both the map and the order list.
// Caller must hold r.mu.
func (r *Registry) removeDeviceLocked(id string) bool {
	if _, ok := r.devices[id]; !ok {
		return false
	}
	delete(r.devices, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// OnlineDeviceIDs returns the ids of all live devices in registration order.
// The order is deterministic so snapshots are reproducible.
func (r *Registry) OnlineDeviceIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// RegisterFrontend adds a frontend connection and returns its session id.
func (r *Registry) RegisterFrontend(conn Conn) string {
	sessionID := uuid.NewString()

	r.mu.Lock()
	r.frontends[sessionID] = &frontendEntry{
		sessionID: sessionID,
		conn:      conn,
	}
	count := len(r.frontends)
	r.mu.Unlock()

	r.logger.Info("frontend registered", "session_id", sessionID, "frontends", count)
	return sessionID
}

// RemoveFrontend removes a frontend session. Removing an absent session is a
// no-op; frontends have no dependents, so removal has no side effects.
func (r *Registry) RemoveFrontend(sessionID string) {
	r.mu.Lock()
	_, existed := r.frontends[sessionID]
	delete(r.frontends, sessionID)
	count := len(r.frontends)
	r.mu.Unlock()

	if existed {
		r.logger.Info("frontend removed", "session_id", sessionID, "frontends", count)
	}
}

// SetSelected records which device a frontend session is controlling.
// The reference is weak: the device may go offline afterwards, and consumers
// must re-check registry membership before acting on it.
func (r *Registry) SetSelected(sessionID, deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.frontends[sessionID]
	if !ok {
		return false
	}
	entry.selected = deviceID
	return true
}

// SelectedDevice returns the device id a session has selected, if any.
func (r *Registry) SelectedDevice(sessionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.frontends[sessionID]
	if !ok || entry.selected == "" {
		return "", false
	}
	return entry.selected, true
}

// ClearSelection resets the selection of every frontend that pointed at the
// given device id, leaving them with no device selected rather than a
// dangling reference. Returns the affected session ids.
func (r *Registry) ClearSelection(deviceID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var cleared []string
	for _, entry := range r.frontends {
		if entry.selected == deviceID {
			entry.selected = ""
			cleared = append(cleared, entry.sessionID)
		}
	}
	return cleared
}

// Frontend returns a snapshot of one frontend session.
func (r *Registry) Frontend(sessionID string) (Frontend, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.frontends[sessionID]
	if !ok {
		return Frontend{}, false
	}
	return Frontend{SessionID: entry.sessionID, Conn: entry.conn, Selected: entry.selected}, true
}

// Frontends returns a snapshot of all frontend sessions.
// The snapshot is taken under the lock and delivery happens outside it, so a
// slow recipient never blocks registry access.
func (r *Registry) Frontends() []Frontend {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Frontend, 0, len(r.frontends))
	for _, entry := range r.frontends {
		out = append(out, Frontend{SessionID: entry.sessionID, Conn: entry.conn, Selected: entry.selected})
	}
	return out
}

// FrontendsSelecting returns a snapshot of the frontends whose selection
// equals the given device id.
func (r *Registry) FrontendsSelecting(deviceID string) []Frontend {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Frontend
	for _, entry := range r.frontends {
		if entry.selected == deviceID {
			out = append(out, Frontend{SessionID: entry.sessionID, Conn: entry.conn, Selected: entry.selected})
		}
	}
	return out
}

// Counts returns the number of live devices and frontends, for monitoring.
func (r *Registry) Counts() (devices, frontends int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices), len(r.frontends)
}
