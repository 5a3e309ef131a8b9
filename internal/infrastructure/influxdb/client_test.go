package influxdb

import (
	"errors"
	"testing"

	"github.com/mwhittle/esplink/internal/infrastructure/config"
)

func TestConnectDisabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v, want nil", err)
	}
}

func TestFlushAfterClose(t *testing.T) {
	client := &Client{}
	// Must be a no-op, not a panic.
	client.Flush()
}
