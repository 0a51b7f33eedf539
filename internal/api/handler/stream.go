package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/skip2/go-qrcode"

	"github.com/mcoot/outlier/internal/api/middleware"
	"github.com/mcoot/outlier/internal/api/response"
	"github.com/mcoot/outlier/internal/services/session"
	"github.com/mcoot/outlier/internal/web/stream"
)

const (
	defaultQRSize = 320 // mobile-friendly size
	minQRSize     = 128
	maxQRSize     = 1024
)

// StreamHandler serves live session streams and join QR codes
type StreamHandler struct {
	controller session.ControllerInterface
	hubs       *stream.HubManager
	publicURL  string
	logger     *slog.Logger
}

// NewStreamHandler creates a new stream handler. publicURL, if set, is the
// base of the join links encoded in QR codes; otherwise it is derived from
// the request.
func NewStreamHandler(controller session.ControllerInterface, hubs *stream.HubManager, publicURL string, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{
		controller: controller,
		hubs:       hubs,
		publicURL:  strings.TrimSuffix(publicURL, "/"),
		logger:     logger.With(slog.String("component", "stream_handler")),
	}
}

// Events handles GET /api/v1/sessions/{id}/events
func (h *StreamHandler) Events(w http.ResponseWriter, r *http.Request) {
	hub, ok := h.hub(w, r)
	if !ok {
		return
	}
	stream.ServeSSE(w, r, hub, middleware.GetParticipant(r.Context()))
}

// WebSocket handles GET /api/v1/sessions/{id}/ws
func (h *StreamHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	hub, ok := h.hub(w, r)
	if !ok {
		return
	}
	stream.ServeWS(w, r, hub, middleware.GetParticipant(r.Context()))
}

// QR handles GET /api/v1/sessions/{id}/qr, returning a PNG QR code of the
// session's join link
func (h *StreamHandler) QR(w http.ResponseWriter, r *http.Request) {
	s, err := h.controller.Get(r.Context(), sessionID(r))
	if err != nil {
		WriteError(w, err)
		return
	}

	size := defaultQRSize
	if raw := r.URL.Query().Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < minQRSize || n > maxQRSize {
			WriteError(w, NewInvalidRequestError(fmt.Sprintf("size must be between %d and %d", minQRSize, maxQRSize)))
			return
		}
		size = n
	}

	link := h.joinURL(r, string(s.JoinCode))
	png, err := qrcode.Encode(link, qrcode.Medium, size)
	if err != nil {
		h.logger.Error("qr generation failed", slog.String("error", err.Error()))
		WriteError(w, err)
		return
	}

	w.Header().Set("X-Join-URL", link)
	response.PNG(w, png)
}

// hub checks the session exists before attaching a stream to it
func (h *StreamHandler) hub(w http.ResponseWriter, r *http.Request) (*stream.Hub, bool) {
	id := sessionID(r)
	if _, err := h.controller.Get(r.Context(), id); err != nil {
		WriteError(w, err)
		return nil, false
	}
	hub, err := h.hubs.GetOrCreateHub(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return nil, false
	}
	return hub, true
}

func (h *StreamHandler) joinURL(r *http.Request, code string) string {
	base := h.publicURL
	if base == "" {
		// Respect TLS and X-Forwarded-Proto if present
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + r.Host
	}
	return base + "/join/" + code
}
