package broadcast

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// Sessions that send nothing (not even a ping) for this long are
	// presumed dead and reaped.
	idleWait = 5 * time.Minute
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The dashboard is served from the same application; origin policy
	// is enforced upstream by the host app.
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeWS upgrades the connection and speaks the subscribe/ping protocol.
// A fresh session starts with an empty filter and receives nothing until
// it subscribes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s := h.register()
	h.logger.Debug("dashboard session opened", "session", s.id)
	s.enqueue(ServerMessage{Type: MsgHello, ServerTime: serverTime()})

	closed := make(chan struct{})
	go h.writeLoop(conn, s, closed)
	h.readLoop(conn, s)

	close(closed)
	h.unregister(s)
	_ = conn.Close()
	h.logger.Debug("dashboard session closed", "session", s.id)
}

func (h *Hub) writeLoop(conn *websocket.Conn, s *session, closed <-chan struct{}) {
	for {
		select {
		case msg := <-s.out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				_ = conn.Close()
				return
			}
		case <-closed:
			return
		}
	}
}

func (h *Hub) readLoop(conn *websocket.Conn, s *session) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(idleWait))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.enqueue(ServerMessage{Type: MsgError, Error: "malformed message"})
			continue
		}

		switch msg.Type {
		case MsgSubscribe:
			s.setSteps(msg.Steps)
			s.enqueue(ServerMessage{Type: MsgSubscribed, Steps: msg.Steps})
		case MsgPing:
			s.enqueue(ServerMessage{Type: MsgPong, ServerTime: serverTime()})
		default:
			s.enqueue(ServerMessage{Type: MsgError, Error: "unknown message type: " + msg.Type})
		}
	}
}
