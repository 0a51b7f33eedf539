package stream

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mcoot/outlier/internal/model"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time between keepalive pings
	pingPeriod = 30 * time.Second

	// Buffer size for outgoing snapshots
	sendBufferSize = 32

	// Reconnect delay suggested to SSE clients, in milliseconds
	sseRetryMillis = 3000
)

// Client represents one connected stream client
type Client struct {
	hub         *Hub
	viewer      model.ParticipantID
	send        chan *model.Session
	connectedAt time.Time
}

// NewClient creates a new stream client for a viewer
func NewClient(hub *Hub, viewer model.ParticipantID) *Client {
	return &Client{
		hub:         hub,
		viewer:      viewer,
		send:        make(chan *model.Session, sendBufferSize),
		connectedAt: time.Now(),
	}
}

// removed reports whether the snapshot no longer lists the viewer
func (c *Client) removed(s *model.Session) bool {
	return c.viewer != "" && s.Participant(c.viewer) == nil
}

// ServeSSE handles the SSE connection for a viewer. Every snapshot is sent
// as a "session" event; a snapshot without the viewer is followed by a
// "removed" event and ends the stream.
func ServeSSE(w http.ResponseWriter, r *http.Request, hub *Hub, viewer model.ParticipantID) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// Streams outlive the server's write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	client := NewClient(hub, viewer)
	if !hub.Register(client) {
		http.Error(w, "Stream closed", http.StatusServiceUnavailable)
		return
	}
	defer hub.Unregister(client)

	connected, _ := json.Marshal(map[string]string{
		"status":     "connected",
		"session_id": string(hub.sessionID),
	})
	_, _ = w.Write([]byte("retry: " + strconv.Itoa(sseRetryMillis) + "\n\n"))
	_, _ = w.Write(formatSSEMessage(string(model.EventConnected), string(connected)))
	flusher.Flush()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case session, ok := <-client.send:
			if !ok {
				return
			}
			data, err := hub.render(session, viewer)
			if err != nil {
				hub.logger.Error("stream render failed", slog.String("error", err.Error()))
				return
			}
			if _, err := w.Write(formatSSEMessage(string(model.EventSession), string(data))); err != nil {
				return
			}
			if client.removed(session) {
				_, _ = w.Write(formatSSEMessage(string(model.EventRemoved), "{}"))
				flusher.Flush()
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
