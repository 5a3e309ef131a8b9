package relay

// Broadcaster fans notifications out to frontend connections.
//
// Each delivery attempt is independent: a failed delivery to one frontend
// removes that frontend from the registry (never a retry, mirroring the
// no-retry policy applied to devices) but does not abort delivery to the
// remaining recipients. Delivery order across recipients is unspecified;
// delivery order of multiple notifications to the same recipient preserves
// submission order, which Conn implementations guarantee.
type Broadcaster struct {
	registry *Registry
	logger   Logger
}

// NewBroadcaster creates a broadcaster over the given registry.
func NewBroadcaster(registry *Registry) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the broadcaster.
func (b *Broadcaster) SetLogger(logger Logger) {
	b.logger = logger
}

// ToAll delivers data to every connected frontend.
func (b *Broadcaster) ToAll(data []byte) {
	for _, f := range b.registry.Frontends() {
		b.deliver(f, data)
	}
}

// ToSelecting delivers data to the frontends whose selected device equals
// the given id. State updates are targeted, not blindly broadcast, to avoid
// cross-talk when multiple devices exist.
func (b *Broadcaster) ToSelecting(deviceID string, data []byte) {
	for _, f := range b.registry.FrontendsSelecting(deviceID) {
		b.deliver(f, data)
	}
}

// ToSession delivers data to one frontend session. Unknown sessions are
// ignored (the frontend disconnected between lookup and delivery).
func (b *Broadcaster) ToSession(sessionID string, data []byte) {
	f, ok := b.registry.Frontend(sessionID)
	if !ok {
		return
	}
	b.deliver(f, data)
}

// deliver attempts one send. On failure the frontend is removed and its
// connection closed; the failure never propagates to other recipients.
func (b *Broadcaster) deliver(f Frontend, data []byte) {
	if err := f.Conn.Send(data); err != nil {
		b.registry.RemoveFrontend(f.SessionID)
		_ = f.Conn.Close()
		b.logger.Warn("frontend delivery failed, removed",
			"session_id", f.SessionID,
			"error", err,
		)
	}
}
