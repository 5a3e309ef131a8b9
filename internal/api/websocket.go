package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mwhittle/esplink/internal/infrastructure/config"
	"github.com/mwhittle/esplink/internal/relay"
)

// handshakeTimeout is the maximum time a new connection gets to send its
// register message before the server drops it.
const handshakeTimeout = 10 * time.Second

// directoryWriteTimeout bounds the directory upsert on device registration
// so a slow disk never delays the session loop.
const directoryWriteTimeout = 5 * time.Second

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// wsConn adapts a gorilla WebSocket connection to relay.Conn.
//
// Outbound messages flow through a buffered channel drained by writePump,
// which is the only goroutine that writes to the socket. Send is therefore
// non-blocking: it enqueues or fails, never waits on the peer. Enqueued
// messages are written in submission order.
type wsConn struct {
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(ws *websocket.Conn, bufferSize int) *wsConn {
	return &wsConn{
		ws:   ws,
		send: make(chan []byte, bufferSize),
		done: make(chan struct{}),
	}
}

// Send enqueues one outbound message. A full buffer is a failed send: the
// peer is too slow to keep up and the caller will purge it.
func (c *wsConn) Send(data []byte) error {
	select {
	case <-c.done:
		return relay.ErrConnClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return relay.ErrConnClosed
	default:
		return relay.ErrSendBufferFull
	}
}

// Close signals writePump to send a close frame and tear the socket down.
// Safe to call multiple times and from any goroutine.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

// writePump drains the send channel onto the socket. It also emits
// protocol-level pings as a transport keep-alive; these are not a liveness
// probe, presence in the registry is what "online" means.
func (c *wsConn) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message := <-c.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				_ = c.Close()
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		case <-c.done:
			//nolint:errcheck // Best-effort close message
			c.ws.WriteMessage(websocket.CloseMessage, nil)
			return
		}
	}
}

// handleWebSocket upgrades the HTTP connection and runs the session until
// the peer disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	conn := newWSConn(ws, s.cfg.WebSocket.SendBufferSize)
	go conn.writePump(s.cfg.WebSocket)

	s.serveSession(conn, r.RemoteAddr)
}

// serveSession performs the register handshake and then pumps inbound
// messages into the relay router. Blocks until the connection ends.
func (s *Server) serveSession(conn *wsConn, remoteAddr string) {
	ws := conn.ws
	ws.SetReadLimit(int64(s.cfg.WebSocket.MaxMessageSize))

	// The first message must be a register announcing the peer's role.
	//nolint:errcheck // Best-effort deadline on connection setup
	ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		s.logger.Debug("connection closed before handshake", "remote", remoteAddr, "error", err)
		_ = conn.Close()
		return
	}

	msg, err := relay.Decode(raw)
	if err == nil {
		err = relay.ValidateRegister(msg)
	}
	if err != nil {
		s.logger.Warn("rejected handshake", "remote", remoteAddr, "error", err)
		if reply, encErr := relay.Encode(relay.Message{Type: relay.TypeError, Detail: err.Error()}); encErr == nil {
			_ = conn.Send(reply)
		}
		// Give writePump a moment to flush the rejection before closing.
		time.Sleep(50 * time.Millisecond)
		_ = conn.Close()
		return
	}

	switch msg.Role {
	case relay.RoleDevice:
		s.serveDevice(conn, msg, remoteAddr)
	case relay.RoleFrontend:
		s.serveFrontend(conn, remoteAddr)
	}
}

// serveDevice runs the session loop for a registered device connection.
func (s *Server) serveDevice(conn *wsConn, reg relay.Message, remoteAddr string) {
	id := reg.DeviceID

	s.recordRegistration(id, reg.MAC, remoteAddr)
	s.relay.AttachDevice(id, reg.State, conn)

	s.readLoop(conn, func(raw []byte) {
		s.relay.HandleDeviceMessage(id, conn, raw)
	})

	s.relay.DeviceClosed(id, conn)
}

// serveFrontend runs the session loop for a registered frontend connection.
func (s *Server) serveFrontend(conn *wsConn, remoteAddr string) {
	sessionID := s.relay.AttachFrontend(conn)
	s.logger.Debug("frontend session started", "session_id", sessionID, "remote", remoteAddr)

	s.readLoop(conn, func(raw []byte) {
		s.relay.HandleFrontendMessage(sessionID, conn, raw)
	})

	s.relay.FrontendClosed(sessionID, conn)
}

// readLoop reads inbound messages until the connection ends, passing each
// payload to handle. Any inbound traffic refreshes the read deadline.
func (s *Server) readLoop(conn *wsConn, handle func(raw []byte)) {
	ws := conn.ws
	readWait := time.Duration(s.cfg.WebSocket.PingInterval+s.cfg.WebSocket.PongTimeout) * time.Second

	//nolint:errcheck // Best-effort deadline on connection setup
	ws.SetReadDeadline(time.Now().Add(readWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		ws.SetReadDeadline(time.Now().Add(readWait))
		handle(raw)
	}
}

// recordRegistration upserts the device's directory entry. Failures are
// logged and ignored; the directory is metadata, not a gate on registration.
func (s *Server) recordRegistration(id, mac, remoteAddr string) {
	if s.directory == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), directoryWriteTimeout)
	defer cancel()

	if err := s.directory.RecordRegistration(ctx, id, mac, hostOnly(remoteAddr)); err != nil {
		s.logger.Warn("directory write failed", "device_id", id, "error", err)
	}
}

// hostOnly strips the port from a host:port remote address.
func hostOnly(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
