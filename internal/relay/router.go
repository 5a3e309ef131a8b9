package relay

import (
	"encoding/json"
	"fmt"
)

// EventSink receives lifecycle and state events after they have been applied
// to the registry and broadcast. Sinks are strictly observational: they run
// after delivery, their errors are not surfaced to peers, and they must not
// block (hand off to a goroutine if the backend is slow).
type EventSink interface {
	DeviceOnline(id string)
	DeviceOffline(id string)
	DeviceState(id string, state json.RawMessage)
}

// Router applies protocol semantics on top of the registry: it dispatches
// decoded messages, drives the online/offline lifecycle, and owns the purge
// path. All methods are safe for concurrent use; per-connection read loops in
// internal/api call into a single shared Router.
type Router struct {
	registry *Registry
	bcast    *Broadcaster
	logger   Logger
	sinks    []EventSink
}

// NewRouter creates a router over the given registry and broadcaster.
func NewRouter(registry *Registry, bcast *Broadcaster) *Router {
	return &Router{
		registry: registry,
		bcast:    bcast,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the router.
func (rt *Router) SetLogger(logger Logger) {
	rt.logger = logger
}

// AddSink attaches an event sink. Must be called before connections are
// served; the sink list is not guarded after startup.
func (rt *Router) AddSink(sink EventSink) {
	rt.sinks = append(rt.sinks, sink)
}

// AttachDevice registers a device connection after its handshake.
//
// The registration ack goes to the device first, then the online
// notification fans out to every frontend. If the id was already registered
// the previous connection is displaced (last-writer-wins) and no duplicate
// online notification is sent: frontends already consider the id online.
func (rt *Router) AttachDevice(id string, state json.RawMessage, conn Conn) Outcome {
	outcome := rt.registry.RegisterDevice(id, conn, state)

	ack, _ := Encode(Message{Type: TypeRegistered, Role: RoleDevice, DeviceID: id})
	if err := conn.Send(ack); err != nil {
		rt.logger.Warn("device ack failed", "device_id", id, "error", err)
	}

	if outcome == OutcomeRegistered {
		online, _ := Encode(Message{Type: TypeOnline, DeviceID: id})
		rt.bcast.ToAll(online)
		for _, s := range rt.sinks {
			s.DeviceOnline(id)
		}
	}
	return outcome
}

// AttachFrontend registers a frontend connection after its handshake and
// returns the assigned session id. The ack carries the session id; the
// snapshot of currently online device ids follows it on the same connection,
// so the frontend's first view of the world is complete before any
// incremental online/offline notifications arrive.
func (rt *Router) AttachFrontend(conn Conn) string {
	sessionID := rt.registry.RegisterFrontend(conn)

	ack, _ := Encode(Message{Type: TypeRegistered, Role: RoleFrontend, SessionID: sessionID})
	if err := conn.Send(ack); err != nil {
		rt.logger.Warn("frontend ack failed", "session_id", sessionID, "error", err)
		return sessionID
	}

	snapshot, _ := Encode(Message{Type: TypeSnapshot, Devices: rt.registry.OnlineDeviceIDs()})
	rt.bcast.ToSession(sessionID, snapshot)
	return sessionID
}

// HandleDeviceMessage dispatches one decoded message from a device
// connection. Unknown kinds are dropped and logged; a malformed message
// never tears the connection down.
func (rt *Router) HandleDeviceMessage(id string, conn Conn, raw []byte) {
	msg, err := Decode(raw)
	if err != nil {
		rt.logger.Warn("dropped malformed device message", "device_id", id, "error", err)
		return
	}

	switch msg.Type {
	case TypePing:
		pong, _ := Encode(Message{Type: TypePong})
		if err := conn.Send(pong); err != nil {
			rt.logger.Debug("pong send failed", "device_id", id, "error", err)
		}

	case TypeState:
		if !rt.registry.UpdateDeviceState(id, msg.State) {
			// Purged mid-flight; the read loop will exit shortly.
			return
		}
		fwd, _ := Encode(Message{Type: TypeState, DeviceID: id, State: msg.State})
		rt.bcast.ToSelecting(id, fwd)
		for _, s := range rt.sinks {
			s.DeviceState(id, msg.State)
		}

	case TypeRegister:
		// Duplicate register on an established connection refreshes the
		// cached state; the registry entry and frontends are unaffected.
		rt.registry.UpdateDeviceState(id, msg.State)
		rt.logger.Debug("duplicate register ignored", "device_id", id)

	default:
		rt.logger.Warn("dropped unexpected device message", "device_id", id, "type", msg.Type)
	}
}

// HandleFrontendMessage dispatches one decoded message from a frontend
// connection. Command and get_state messages may name a device explicitly;
// when they do, the session's selection is updated as a side effect, so
// subsequent state updates from that device reach this session.
func (rt *Router) HandleFrontendMessage(sessionID string, conn Conn, raw []byte) {
	msg, err := Decode(raw)
	if err != nil {
		rt.logger.Warn("dropped malformed frontend message", "session_id", sessionID, "error", err)
		return
	}

	switch msg.Type {
	case TypePing:
		pong, _ := Encode(Message{Type: TypePong})
		if err := conn.Send(pong); err != nil {
			rt.logger.Debug("pong send failed", "session_id", sessionID, "error", err)
		}

	case TypeSelect:
		if msg.DeviceID == "" {
			rt.logger.Warn("dropped select without device_id", "session_id", sessionID)
			return
		}
		// Selection is allowed even for offline ids; it only controls which
		// state updates this session receives if the device (re)appears.
		rt.registry.SetSelected(sessionID, msg.DeviceID)

	case TypeCommand:
		target, ok := rt.resolveTarget(sessionID, msg.DeviceID)
		if !ok {
			rt.logger.Warn("dropped command without target", "session_id", sessionID)
			return
		}
		if err := rt.forwardCommand(target, raw); err != nil {
			rt.replyUnavailable(sessionID, target)
		}

	case TypeGetState:
		target, ok := rt.resolveTarget(sessionID, msg.DeviceID)
		if !ok {
			rt.logger.Warn("dropped get_state without target", "session_id", sessionID)
			return
		}
		state, online := rt.registry.DeviceState(target)
		if !online {
			rt.replyUnavailable(sessionID, target)
			return
		}
		reply, _ := Encode(Message{Type: TypeState, DeviceID: target, State: state})
		rt.bcast.ToSession(sessionID, reply)

	default:
		rt.logger.Warn("dropped unexpected frontend message", "session_id", sessionID, "type", msg.Type)
	}
}

// resolveTarget picks the device a frontend message addresses: the explicit
// device_id when present (updating the session selection), otherwise the
// session's stored selection.
func (rt *Router) resolveTarget(sessionID, explicit string) (string, bool) {
	if explicit != "" {
		rt.registry.SetSelected(sessionID, explicit)
		return explicit, true
	}
	return rt.registry.SelectedDevice(sessionID)
}

// forwardCommand relays the raw command payload to the target device
// verbatim. One attempt only: a failed send purges the device, since a
// connection that cannot accept a buffered write is considered dead.
func (rt *Router) forwardCommand(deviceID string, raw []byte) error {
	conn, ok := rt.registry.LookupDevice(deviceID)
	if !ok {
		return ErrDeviceUnavailable
	}
	if err := conn.Send(raw); err != nil {
		rt.logger.Warn("command send failed, purging device", "device_id", deviceID, "error", err)
		rt.purgeConn(deviceID, conn)
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	return nil
}

// replyUnavailable tells one frontend session its target device is gone.
func (rt *Router) replyUnavailable(sessionID, deviceID string) {
	reply, _ := Encode(Message{
		Type:     TypeError,
		Code:     CodeDeviceUnavailable,
		DeviceID: deviceID,
		Detail:   fmt.Sprintf("device %s is not connected", deviceID),
	})
	rt.bcast.ToSession(sessionID, reply)
}

// InjectCommand forwards a command that arrived outside the WebSocket plane
// (the MQTT ingress). Semantics match a frontend command with an explicit
// device id, minus the session bookkeeping.
func (rt *Router) InjectCommand(deviceID, action string) error {
	raw, err := Encode(Message{Type: TypeCommand, DeviceID: deviceID, Action: action})
	if err != nil {
		return err
	}
	return rt.forwardCommand(deviceID, raw)
}

// DeviceClosed handles the teardown of a device connection, however it
// ended (peer close, read error, displaced by a reconnect). The purge only
// fires if the registry still maps the id to this exact connection, so a
// stale connection's teardown never removes a live replacement.
func (rt *Router) DeviceClosed(id string, conn Conn) {
	if rt.registry.RemoveDeviceConn(id, conn) {
		rt.announceOffline(id)
	}
	_ = conn.Close()
}

// FrontendClosed handles the teardown of a frontend connection.
func (rt *Router) FrontendClosed(sessionID string, conn Conn) {
	rt.registry.RemoveFrontend(sessionID)
	_ = conn.Close()
}

// Purge forcibly removes a device id regardless of which connection holds
// it. Idempotent: only the call that actually removes the entry emits the
// offline notification, so concurrent failure paths produce exactly one.
func (rt *Router) Purge(id string) {
	conn, ok := rt.registry.LookupDevice(id)
	if !ok {
		return
	}
	if rt.registry.RemoveDeviceConn(id, conn) {
		_ = conn.Close()
		rt.announceOffline(id)
	}
}

// purgeConn removes a device only while it is still mapped to the given
// connection, then announces the removal. Used by failure paths that already
// hold the connection they observed the failure on.
func (rt *Router) purgeConn(id string, conn Conn) {
	if rt.registry.RemoveDeviceConn(id, conn) {
		_ = conn.Close()
		rt.announceOffline(id)
	}
}

// announceOffline clears dangling selections and fans out the offline
// notification. Called exactly once per successful removal.
func (rt *Router) announceOffline(id string) {
	cleared := rt.registry.ClearSelection(id)
	if len(cleared) > 0 {
		rt.logger.Debug("cleared selections for offline device", "device_id", id, "sessions", len(cleared))
	}

	offline, _ := Encode(Message{Type: TypeOffline, DeviceID: id})
	rt.bcast.ToAll(offline)
	for _, s := range rt.sinks {
		s.DeviceOffline(id)
	}
	rt.logger.Info("device offline", "device_id", id)
}
