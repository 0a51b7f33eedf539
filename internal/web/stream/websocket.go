package stream

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcoot/outlier/internal/model"
)

const (
	// Time allowed to read the next pong from the peer
	pongWait = 60 * time.Second

	// Clients only send control frames
	maxMessageSize = 512
)

// Message is one frame sent to WebSocket clients
type Message struct {
	Type    model.EventType `json:"type"`
	Session json.RawMessage `json:"session,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS upgrades the request and streams snapshots to the viewer as
// Message frames until either side closes
func ServeWS(w http.ResponseWriter, r *http.Request, hub *Hub, viewer model.ParticipantID) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		hub.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	client := NewClient(hub, viewer)
	if !hub.Register(client) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "stream closed"))
		return
	}
	defer hub.Unregister(client)

	peerClosed := make(chan struct{})
	go readPump(conn, peerClosed)

	if err := writeFrame(conn, Message{Type: model.EventConnected}); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case session, ok := <-client.send:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := hub.render(session, viewer)
			if err != nil {
				hub.logger.Error("stream render failed", slog.String("error", err.Error()))
				return
			}
			if err := writeFrame(conn, Message{Type: model.EventSession, Session: data}); err != nil {
				return
			}
			if client.removed(session) {
				_ = writeFrame(conn, Message{Type: model.EventRemoved})
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "removed"))
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-peerClosed:
			return

		case <-r.Context().Done():
			return
		}
	}
}

// readPump drains the connection so control frames are processed, and
// closes done when the peer goes away
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, msg Message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}
