// Package influxdb provides time-series telemetry for the ESPLink relay.
//
// This package manages:
//   - Connection to InfluxDB v2 with token authentication
//   - Non-blocking, batched writes of relay telemetry
//   - Health monitoring for the readiness endpoint
//
// Telemetry is optional and observational. The relay records device
// lifecycle transitions and state report counts; it never reads this data
// back to make decisions. When InfluxDB is disabled or unreachable the
// relay runs unaffected.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteDeviceEvent("esp32-garage", "online")
package influxdb
