package relay

import (
	"encoding/json"
	"sync"
	"testing"
)

// fakeConn is an in-memory Conn that records sent payloads.
// Setting failSend makes every Send fail without recording.
type fakeConn struct {
	mu       sync.Mutex
	sent     [][]byte
	closed   bool
	failSend error
}

func newFakeConn() *fakeConn {
	return &fakeConn{}
}

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend != nil {
		return c.failSend
	}
	if c.closed {
		return ErrConnClosed
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.sent = append(c.sent, buf)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

// messages decodes everything the conn received, in order.
func (c *fakeConn) messages(t *testing.T) []Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Message, 0, len(c.sent))
	for _, raw := range c.sent {
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("received undecodable payload %q: %v", raw, err)
		}
		out = append(out, msg)
	}
	return out
}

// typesSent returns the type tags of everything the conn received, in order.
func (c *fakeConn) typesSent(t *testing.T) []string {
	t.Helper()
	msgs := c.messages(t)
	types := make([]string, len(msgs))
	for i, m := range msgs {
		types[i] = m.Type
	}
	return types
}

// countType counts received messages of one type.
func (c *fakeConn) countType(t *testing.T, typ string) int {
	t.Helper()
	n := 0
	for _, m := range c.messages(t) {
		if m.Type == typ {
			n++
		}
	}
	return n
}
