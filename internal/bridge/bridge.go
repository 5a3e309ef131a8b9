// Package bridge mirrors relay events onto an MQTT broker and routes
// broker-originated commands back into the relay.
//
// The bridge is one-way glue in each direction: relay lifecycle and state
// events are published fire-and-forget, and messages on the device command
// topics are injected as if a frontend had issued them. It holds no state of
// its own and the relay is fully functional without it.
package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/mwhittle/esplink/internal/infrastructure/mqtt"
)

// MQTTClient is the broker surface the bridge needs.
// Satisfied by *mqtt.Client; tests substitute a fake.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishRetained(topic string, payload []byte) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// CommandInjector accepts commands that arrived outside the WebSocket plane.
// Satisfied by *relay.Router.
type CommandInjector interface {
	InjectCommand(deviceID, action string) error
}

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// commandPayload is the JSON body expected on esplink/command/{device_id}.
type commandPayload struct {
	Action string `json:"action"`
}

// Bridge connects the relay's event stream to an MQTT broker.
//
// It implements relay.EventSink for the outbound direction. All publishes
// are asynchronous with respect to the relay: a slow or disconnected broker
// never blocks message routing.
type Bridge struct {
	client   MQTTClient
	injector CommandInjector
	topics   mqtt.Topics
	qos      byte
	logger   Logger
}

// New creates a bridge over the given broker client and command injector.
func New(client MQTTClient, injector CommandInjector, qos byte, logger Logger) *Bridge {
	return &Bridge{
		client:   client,
		injector: injector,
		qos:      qos,
		logger:   logger,
	}
}

// Start subscribes to the device command topics. Call once after the relay
// router is wired; inbound commands flow from this point on.
func (b *Bridge) Start() error {
	topic := b.topics.AllDeviceCommands()
	if err := b.client.Subscribe(topic, b.qos, b.handleCommand); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	b.logger.Info("mqtt bridge started", "command_topic", topic)
	return nil
}

// handleCommand routes one broker-originated command into the relay.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	deviceID := mqtt.CommandTopicDeviceID(topic)
	if deviceID == "" {
		b.logger.Warn("command on unroutable topic", "topic", topic)
		return nil
	}

	var cmd commandPayload
	if err := json.Unmarshal(payload, &cmd); err != nil || cmd.Action == "" {
		b.logger.Warn("dropped malformed broker command", "topic", topic, "error", err)
		return nil
	}

	if err := b.injector.InjectCommand(deviceID, cmd.Action); err != nil {
		// The device is gone; there is no broker-side requester to notify.
		b.logger.Warn("broker command undeliverable", "device_id", deviceID, "error", err)
	}
	return nil
}

// DeviceOnline publishes the online event mirror.
// Part of the relay.EventSink interface.
func (b *Bridge) DeviceOnline(id string) {
	go b.publish(b.topics.DeviceOnline(id), []byte(`{"online":true}`), false)
}

// DeviceOffline publishes the offline event mirror.
// Part of the relay.EventSink interface.
func (b *Bridge) DeviceOffline(id string) {
	go b.publish(b.topics.DeviceOffline(id), []byte(`{"online":false}`), false)
}

// DeviceState mirrors a state report onto the broker, retained so new
// subscribers see the device's last known state.
// Part of the relay.EventSink interface.
func (b *Bridge) DeviceState(id string, state json.RawMessage) {
	payload := make([]byte, len(state))
	copy(payload, state)
	go b.publish(b.topics.DeviceState(id), payload, true)
}

// publish sends one mirror message, logging failures and moving on.
func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	var err error
	if retained {
		err = b.client.PublishRetained(topic, payload)
	} else {
		err = b.client.Publish(topic, payload, b.qos, false)
	}
	if err != nil {
		b.logger.Warn("mqtt mirror publish failed", "topic", topic, "error", err)
	}
}
