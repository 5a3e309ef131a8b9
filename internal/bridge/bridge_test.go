package bridge

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mwhittle/esplink/internal/infrastructure/mqtt"
)

type published struct {
	topic    string
	payload  string
	retained bool
}

// fakeBroker records publishes and captures the command subscription handler.
type fakeBroker struct {
	mu        sync.Mutex
	published []published
	handler   mqtt.MessageHandler
	subTopic  string
	subErr    error
}

func (f *fakeBroker) Publish(topic string, payload []byte, _ byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic, string(payload), retained})
	return nil
}

func (f *fakeBroker) PublishRetained(topic string, payload []byte) error {
	return f.Publish(topic, payload, 1, true)
}

func (f *fakeBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	if f.subErr != nil {
		return f.subErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subTopic = topic
	f.handler = handler
	return nil
}

func (f *fakeBroker) waitForPublish(t *testing.T, topic string) published {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		for _, p := range f.published {
			if p.topic == topic {
				f.mu.Unlock()
				return p
			}
		}
		f.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no publish on %s within deadline", topic)
	return published{}
}

// fakeInjector records injected commands.
type fakeInjector struct {
	mu       sync.Mutex
	commands []string
	err      error
}

func (f *fakeInjector) InjectCommand(deviceID, action string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, deviceID+":"+action)
	return f.err
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func TestStartSubscribesToCommands(t *testing.T) {
	broker := &fakeBroker{}
	b := New(broker, &fakeInjector{}, 1, nopLogger{})

	if err := b.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if broker.subTopic != "esplink/command/+" {
		t.Errorf("subscribed to %q, want esplink/command/+", broker.subTopic)
	}
}

func TestStartSubscribeFailure(t *testing.T) {
	broker := &fakeBroker{subErr: errors.New("broker down")}
	b := New(broker, &fakeInjector{}, 1, nopLogger{})

	if err := b.Start(); err == nil {
		t.Error("Start() error = nil, want subscription failure")
	}
}

func TestBrokerCommandInjected(t *testing.T) {
	broker := &fakeBroker{}
	injector := &fakeInjector{}
	b := New(broker, injector, 1, nopLogger{})
	if err := b.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := broker.handler("esplink/command/esp-1", []byte(`{"action":"toggle"}`)); err != nil {
		t.Fatalf("handler error = %v", err)
	}

	injector.mu.Lock()
	defer injector.mu.Unlock()
	if len(injector.commands) != 1 || injector.commands[0] != "esp-1:toggle" {
		t.Errorf("injected commands = %v, want [esp-1:toggle]", injector.commands)
	}
}

func TestBrokerCommandMalformed(t *testing.T) {
	broker := &fakeBroker{}
	injector := &fakeInjector{}
	b := New(broker, injector, 1, nopLogger{})
	if err := b.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	payloads := []string{`not json`, `{}`, `{"action":""}`}
	for _, p := range payloads {
		if err := broker.handler("esplink/command/esp-1", []byte(p)); err != nil {
			t.Errorf("handler(%q) error = %v, want nil (drop and log)", p, err)
		}
	}

	injector.mu.Lock()
	defer injector.mu.Unlock()
	if len(injector.commands) != 0 {
		t.Errorf("malformed payloads injected commands: %v", injector.commands)
	}
}

func TestBrokerCommandUndeliverable(t *testing.T) {
	broker := &fakeBroker{}
	injector := &fakeInjector{err: errors.New("device unavailable")}
	b := New(broker, injector, 1, nopLogger{})
	if err := b.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Injection failure is logged, never surfaced to the broker.
	if err := broker.handler("esplink/command/esp-gone", []byte(`{"action":"toggle"}`)); err != nil {
		t.Errorf("handler error = %v, want nil", err)
	}
}

func TestEventMirrors(t *testing.T) {
	broker := &fakeBroker{}
	b := New(broker, &fakeInjector{}, 1, nopLogger{})

	b.DeviceOnline("esp-1")
	p := broker.waitForPublish(t, "esplink/event/online/esp-1")
	if p.retained {
		t.Error("online event published retained, want non-retained")
	}

	b.DeviceOffline("esp-1")
	broker.waitForPublish(t, "esplink/event/offline/esp-1")

	b.DeviceState("esp-1", json.RawMessage(`{"relay":"on"}`))
	p = broker.waitForPublish(t, "esplink/state/esp-1")
	if !p.retained {
		t.Error("state mirror published non-retained, want retained")
	}
	if p.payload != `{"relay":"on"}` {
		t.Errorf("state mirror payload = %s, want verbatim state", p.payload)
	}
}
