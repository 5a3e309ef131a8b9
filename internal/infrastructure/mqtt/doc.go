// Package mqtt provides MQTT client connectivity for the ESPLink bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for relay offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The MQTT surface is an optional mirror of the relay's WebSocket plane.
// Device lifecycle events and state reports are published for external
// consumers (dashboards, automations), and commands published to
// esplink/command/{device_id} are injected into the relay as if a frontend
// had issued them. The broker never becomes a source of truth: device
// liveness is still defined solely by the in-memory connection registry.
//
//	ESP32 devices ↔ ESPLink relay ↔ MQTT broker ↔ external consumers
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all device commands
//	err = client.Subscribe(mqtt.Topics{}.AllDeviceCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish a device state mirror
//	client.PublishRetained(mqtt.Topics{}.DeviceState("esp32-garage"), payload)
package mqtt
