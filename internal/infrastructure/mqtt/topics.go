package mqtt

import "fmt"

// Topic prefixes for the ESPLink MQTT surface.
//
// The bridge mirrors relay events onto the broker and accepts commands from
// it. Scheme: esplink/{category}/... with one topic per device where the
// category is device-scoped.
const (
	// TopicPrefix is the base for all ESPLink topics.
	TopicPrefix = "esplink"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "esplink/system"
)

// Topics provides builders for ESPLink MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
type Topics struct{}

// DeviceOnline returns the topic announcing a device registration.
//
// Example: esplink/event/online/esp32-garage
func (Topics) DeviceOnline(deviceID string) string {
	return fmt.Sprintf("%s/event/online/%s", TopicPrefix, deviceID)
}

// DeviceOffline returns the topic announcing a device purge.
//
// Example: esplink/event/offline/esp32-garage
func (Topics) DeviceOffline(deviceID string) string {
	return fmt.Sprintf("%s/event/offline/%s", TopicPrefix, deviceID)
}

// DeviceState returns the topic carrying a device's state reports.
//
// Example: esplink/state/esp32-garage
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, deviceID)
}

// DeviceCommand returns the topic for injecting a command to one device.
//
// Example: esplink/command/esp32-garage
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// AllDeviceCommands returns a pattern matching command topics for every
// device. The bridge subscribes to this to route broker-originated commands.
//
// Pattern: esplink/command/+
func (Topics) AllDeviceCommands() string {
	return fmt.Sprintf("%s/command/+", TopicPrefix)
}

// SystemStatus returns the relay's own status topic (LWT target).
//
// Example: esplink/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// CommandTopicDeviceID extracts the device id from a command topic.
// Returns "" if the topic does not match the command scheme.
func CommandTopicDeviceID(topic string) string {
	prefix := TopicPrefix + "/command/"
	if len(topic) <= len(prefix) || topic[:len(prefix)] != prefix {
		return ""
	}
	id := topic[len(prefix):]
	for _, r := range id {
		// Wildcards and separators never name a concrete device.
		if r == '/' || r == '+' || r == '#' {
			return ""
		}
	}
	return id
}
