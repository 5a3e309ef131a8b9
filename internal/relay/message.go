package relay

import (
	"encoding/json"
	"fmt"
)

// Message kinds exchanged over each persistent connection.
const (
	// Inbound from devices.
	TypeRegister = "register"
	TypeState    = "state"

	// Inbound from frontends.
	TypeCommand  = "command"
	TypeGetState = "get_state"
	TypeSelect   = "select"

	// Keep-alive (either direction).
	TypePing = "ping"
	TypePong = "pong"

	// Outbound from the server.
	TypeRegistered = "registered"
	TypeOnline     = "esp32_online"
	TypeOffline    = "esp32_offline"
	TypeSnapshot   = "snapshot"
	TypeError      = "error"
)

// Peer roles announced in the register handshake.
const (
	RoleDevice   = "esp32"
	RoleFrontend = "frontend"
)

// Error codes carried in TypeError messages.
const (
	CodeDeviceUnavailable = "device_unavailable"
)

// Message is the tagged JSON payload exchanged over every connection.
// Fields are populated per kind; unused fields are omitted on the wire.
// State payloads are opaque to the relay and carried verbatim.
type Message struct {
	Type      string          `json:"type"`
	Role      string          `json:"role,omitempty"`
	DeviceID  string          `json:"device_id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Action    string          `json:"action,omitempty"`
	State     json.RawMessage `json:"state,omitempty"`
	Devices   []string        `json:"devices,omitempty"`
	MAC       string          `json:"mac,omitempty"`
	IP        string          `json:"ip,omitempty"`
	Code      string          `json:"code,omitempty"`
	Detail    string          `json:"message,omitempty"`
}

// Decode parses one inbound payload into a Message.
// It rejects payloads that are not JSON objects or carry no type tag;
// per-kind field validation happens at the dispatch site.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrInvalidMessage)
	}
	return msg, nil
}

// Encode serialises a Message for the wire.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding %s message: %w", msg.Type, err)
	}
	return data, nil
}

// ValidateRegister checks a register handshake message.
// Devices must announce a non-empty id; frontends carry only their role.
func ValidateRegister(msg Message) error {
	if msg.Type != TypeRegister {
		return fmt.Errorf("%w: expected %s as first message, got %s", ErrInvalidMessage, TypeRegister, msg.Type)
	}
	switch msg.Role {
	case RoleDevice:
		if msg.DeviceID == "" {
			return fmt.Errorf("%w: device register requires device_id", ErrInvalidMessage)
		}
		return nil
	case RoleFrontend:
		return nil
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidMessage, msg.Role)
	}
}
