package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// upgrader allows any origin: the greenhouse UI is served from an arbitrary
// dev-server origin during local use, and there is no cookie-based auth to
// protect against CSRF-style cross-origin hijacking here.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsTransport adapts a gorilla websocket connection to uibridge.Transport,
// serializing writes behind a channel so Broadcast's per-connection delivery
// goroutine never races the inbound read loop over the same socket.
type wsTransport struct {
	conn   *websocket.Conn
	writes chan []byte
	closed chan struct{}
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	t := &wsTransport{
		conn:   conn,
		writes: make(chan []byte, 32),
		closed: make(chan struct{}),
	}
	go t.writeLoop()
	return t
}

func (t *wsTransport) writeLoop() {
	for {
		select {
		case line := <-t.writes:
			if err := t.conn.WriteMessage(websocket.TextMessage, line); err != nil {
				t.Close()
				return
			}
		case <-t.closed:
			return
		}
	}
}

func (t *wsTransport) Send(line []byte) error {
	select {
	case t.writes <- line:
		return nil
	case <-t.closed:
		return websocket.ErrCloseSent
	default:
		return websocket.ErrCloseSent
	}
}

func (t *wsTransport) Close() error {
	select {
	case <-t.closed:
	default:
		close(t.closed)
	}
	return t.conn.Close()
}

// handleWebSocket upgrades the connection and bridges it both ways: outbound
// uibridge events are fanned out via wsTransport, and inbound text frames are
// fed straight to the command plane, matching the stdin pipe's framing.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("httpapi: websocket upgrade failed")
		return
	}

	transport := newWSTransport(conn)
	connID := s.ui.Connect(transport)
	defer s.ui.Disconnect(connID)

	conn.SetReadLimit(64 * 1024)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		s.commands.HandleLine(ctx, msg)
		cancel()
	}
}
