// Package stream pushes live session snapshots to connected clients over
// SSE and WebSocket. Each session gets one Hub holding a single store
// subscription that all of that session's clients share.
package stream

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mcoot/outlier/internal/model"
	"github.com/mcoot/outlier/internal/storage"
)

// Renderer encodes the view of a session that one viewer is allowed to see.
// An empty viewer is an observer who is not a participant.
type Renderer func(session *model.Session, viewer model.ParticipantID) ([]byte, error)

// Subscriber is the source of session snapshots for hubs
type Subscriber interface {
	Subscribe(ctx context.Context, id model.SessionID, observer storage.Observer) (func(), error)
}

// Hub manages stream clients for a single session
type Hub struct {
	sessionID model.SessionID
	render    Renderer
	clients   map[*Client]bool
	latest    *model.Session
	mu        sync.RWMutex
	logger    *slog.Logger

	unsubscribe func()
	closeOnce   sync.Once

	// Channels for managing clients
	register   chan *Client
	unregister chan *Client
	broadcast  chan *model.Session
	done       chan struct{}

	// overflow holds the newest snapshot that did not fit in broadcast
	overflow   *model.Session
	overflowMu sync.Mutex
	wake       chan struct{}
}

// broadcastBufferSize is how many snapshots queue before they coalesce
const broadcastBufferSize = 256

// NewHub creates a new Hub for a session
func NewHub(sessionID model.SessionID, render Renderer, logger *slog.Logger) *Hub {
	return &Hub{
		sessionID:  sessionID,
		render:     render,
		clients:    make(map[*Client]bool),
		logger:     logger.With(slog.String("session_id", string(sessionID))),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *model.Session, broadcastBufferSize),
		done:       make(chan struct{}),
		wake:       make(chan struct{}, 1),
	}
}

// Run starts the hub's event loop
func (h *Hub) Run() {
	h.logger.Info("stream hub started")
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			clientCount := len(h.clients)
			latest := h.latest
			h.mu.Unlock()
			// New clients start from the latest snapshot
			if latest != nil {
				client.send <- latest
			}
			h.logger.Info("stream client registered",
				slog.String("viewer", string(client.viewer)),
				slog.Int("total_clients", clientCount))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				clientCount := len(h.clients)
				h.mu.Unlock()
				h.logger.Info("stream client unregistered",
					slog.String("viewer", string(client.viewer)),
					slog.Duration("connection_duration", time.Since(client.connectedAt)),
					slog.Int("total_clients", clientCount))
			} else {
				h.mu.Unlock()
			}

		case session := <-h.broadcast:
			h.deliver(session)

		case <-h.wake:
			h.overflowMu.Lock()
			session := h.overflow
			h.overflow = nil
			h.overflowMu.Unlock()
			if session != nil {
				h.deliver(session)
			}

		case <-h.done:
			h.mu.Lock()
			clientCount := len(h.clients)
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.logger.Info("stream hub stopped", slog.Int("disconnected_clients", clientCount))
			return
		}
	}
}

// deliver fans a snapshot out to every client, skipping anything not newer
// than what they already have
func (h *Hub) deliver(session *model.Session) {
	h.mu.Lock()
	if h.latest != nil && session.Version <= h.latest.Version {
		h.mu.Unlock()
		return
	}
	h.latest = session
	dropped := 0
	for client := range h.clients {
		select {
		case client.send <- session:
		default:
			// A skipped snapshot would leave the client on stale
			// state, so slow clients are disconnected instead
			delete(h.clients, client)
			close(client.send)
			dropped++
			h.logger.Warn("stream client too slow, disconnecting",
				slog.String("viewer", string(client.viewer)))
		}
	}
	h.mu.Unlock()
	if dropped > 0 {
		h.logger.Warn("stream broadcast partial failure",
			slog.Uint64("version", session.Version),
			slog.Int("dropped", dropped))
	}
}

// Register adds a client to the hub. It returns false if the hub has
// already been closed.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues a snapshot for every client. It has the shape of a
// storage.Observer so the hub can subscribe to the store directly. When
// the queue is full, snapshots coalesce so the newest one is still
// delivered.
func (h *Hub) Broadcast(session *model.Session) {
	select {
	case h.broadcast <- session:
		return
	default:
	}

	h.overflowMu.Lock()
	if h.overflow == nil || session.Version > h.overflow.Version {
		h.overflow = session
	}
	h.overflowMu.Unlock()

	select {
	case h.wake <- struct{}{}:
	default:
	}
	h.logger.Debug("stream broadcast coalesced, hub buffer full",
		slog.Uint64("version", session.Version))
}

// Latest returns the most recent snapshot the hub has seen, or nil
func (h *Hub) Latest() *model.Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}

// Close shuts down the hub and its store subscription. Safe to call more
// than once.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		if h.unsubscribe != nil {
			h.unsubscribe()
		}
		close(h.done)
	})
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// formatSSEMessage formats an SSE message with event name and data.
// Multi-line data gets a "data: " prefix on each line.
func formatSSEMessage(eventName, data string) []byte {
	var b strings.Builder
	b.WriteString("event: " + eventName + "\n")
	for _, line := range splitLines(data) {
		b.WriteString("data: " + line + "\n")
	}
	b.WriteString("\n")
	return []byte(b.String())
}

// splitLines splits a string into lines, handling CRLF endings
func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}

// HubManager manages hubs for all sessions with live clients
type HubManager struct {
	hubs       map[model.SessionID]*Hub
	mu         sync.Mutex
	subscriber Subscriber
	render     Renderer
	logger     *slog.Logger
}

// NewHubManager creates a new HubManager
func NewHubManager(subscriber Subscriber, render Renderer, logger *slog.Logger) *HubManager {
	return &HubManager{
		hubs:       make(map[model.SessionID]*Hub),
		subscriber: subscriber,
		render:     render,
		logger:     logger.With(slog.String("component", "stream")),
	}
}

// GetOrCreateHub returns the hub for a session, creating one and
// subscribing it to the session if it doesn't exist
func (m *HubManager) GetOrCreateHub(ctx context.Context, sessionID model.SessionID) (*Hub, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hub, ok := m.hubs[sessionID]; ok {
		return hub, nil
	}

	hub := NewHub(sessionID, m.render, m.logger)
	go hub.Run()

	// The subscription outlives the request that opened it
	unsubscribe, err := m.subscriber.Subscribe(context.WithoutCancel(ctx), sessionID, hub.Broadcast)
	if err != nil {
		hub.Close()
		return nil, err
	}
	hub.unsubscribe = unsubscribe
	m.hubs[sessionID] = hub
	return hub, nil
}

// GetHub returns the hub for a session, or nil if it doesn't exist
func (m *HubManager) GetHub(sessionID model.SessionID) *Hub {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hubs[sessionID]
}

// RemoveHub removes and closes a hub
func (m *HubManager) RemoveHub(sessionID model.SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hub, ok := m.hubs[sessionID]; ok {
		hub.Close()
		delete(m.hubs, sessionID)
		m.logger.Info("stream hub removed", slog.String("session_id", string(sessionID)))
	}
}

// CleanupEmptyHubs removes hubs with no clients
func (m *HubManager) CleanupEmptyHubs() {
	m.mu.Lock()
	defer m.mu.Unlock()

	removedCount := 0
	for id, hub := range m.hubs {
		if hub.ClientCount() == 0 {
			hub.Close()
			delete(m.hubs, id)
			removedCount++
		}
	}
	if removedCount > 0 {
		m.logger.Info("stream empty hubs cleaned up", slog.Int("removed", removedCount))
	}
}

// Close shuts down every hub
func (m *HubManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, hub := range m.hubs {
		hub.Close()
		delete(m.hubs, id)
	}
}

// HubCount returns the number of live hubs
func (m *HubManager) HubCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hubs)
}
