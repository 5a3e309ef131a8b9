package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteDeviceEvent records a device lifecycle transition (online/offline).
//
// The write is non-blocking; data is batched and sent asynchronously.
func (c *Client) WriteDeviceEvent(deviceID string, event string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_events",
		map[string]string{
			"device_id": deviceID,
			"event":     event,
		},
		map[string]interface{}{
			"count": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteStateReport records that a device published a state update.
// Only the payload size is recorded; the payload itself is opaque to the
// relay and stays on the WebSocket plane.
func (c *Client) WriteStateReport(deviceID string, payloadBytes int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"state_reports",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"payload_bytes": payloadBytes,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
