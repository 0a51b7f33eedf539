package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/outlier/internal/api/apierr"
	"github.com/mcoot/outlier/internal/api/middleware"
	"github.com/mcoot/outlier/internal/api/request"
	"github.com/mcoot/outlier/internal/api/response"
	"github.com/mcoot/outlier/internal/model"
	"github.com/mcoot/outlier/internal/services/session"
)

// SessionHandler handles session endpoints
type SessionHandler struct {
	controller session.ControllerInterface
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(controller session.ControllerInterface) *SessionHandler {
	return &SessionHandler{controller: controller}
}

// Create handles POST /api/v1/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateSessionRequest
	if err := decodeJSON(r, &req, false); err != nil {
		WriteError(w, err)
		return
	}

	s, participantID, err := h.controller.Create(r.Context(), req.DisplayName)
	if err != nil {
		WriteError(w, err)
		return
	}

	writeJoined(w, http.StatusCreated, s, participantID)
}

// Join handles POST /api/v1/sessions/join
func (h *SessionHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req request.JoinSessionRequest
	if err := decodeJSON(r, &req, false); err != nil {
		WriteError(w, err)
		return
	}

	s, participantID, err := h.controller.Join(r.Context(), req.JoinCode, req.DisplayName)
	if err != nil {
		WriteError(w, err)
		return
	}

	writeJoined(w, http.StatusOK, s, participantID)
}

// Get handles GET /api/v1/sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.controller.Get(r.Context(), sessionID(r))
	if err != nil {
		WriteError(w, err)
		return
	}
	h.writeSession(w, r, s)
}

// GetByCode handles GET /api/v1/sessions/by-code/{code}
func (h *SessionHandler) GetByCode(w http.ResponseWriter, r *http.Request) {
	s, err := h.controller.FindByJoinCode(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		WriteError(w, err)
		return
	}

	// No {id} in the route, so the token is resolved against the result
	var viewer model.ParticipantID
	if p := s.ParticipantByToken(middleware.GetToken(r.Context())); p != nil {
		viewer = p.ID
	}
	response.JSON(w, http.StatusOK, response.SessionFromModel(s, viewer))
}

// Start handles POST /api/v1/sessions/{id}/start
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req request.StartRequest
	if err := decodeJSON(r, &req, true); err != nil {
		WriteError(w, err)
		return
	}

	opts := session.StartOptions{
		CategoryName:   req.CategoryName,
		RevealWordBank: req.RevealWordBank,
	}
	if req.Category != nil {
		opts.Category = &model.Category{Name: req.Category.Name, Words: req.Category.Words}
	}

	s, err := h.controller.Start(r.Context(), sessionID(r), middleware.GetParticipant(r.Context()), opts)
	if err != nil {
		WriteError(w, err)
		return
	}
	h.writeSession(w, r, s)
}

// Restart handles POST /api/v1/sessions/{id}/restart
func (h *SessionHandler) Restart(w http.ResponseWriter, r *http.Request) {
	s, err := h.controller.Restart(r.Context(), sessionID(r), middleware.GetParticipant(r.Context()))
	if err != nil {
		WriteError(w, err)
		return
	}
	h.writeSession(w, r, s)
}

// Leave handles POST /api/v1/sessions/{id}/leave. A token whose holder is
// already gone is a successful no-op.
func (h *SessionHandler) Leave(w http.ResponseWriter, r *http.Request) {
	participant := middleware.GetParticipant(r.Context())
	if participant == "" {
		if middleware.GetToken(r.Context()) == "" {
			WriteError(w, apierr.NewUnauthorizedError())
			return
		}
		response.NoContent(w)
		return
	}

	if err := h.controller.Leave(r.Context(), sessionID(r), participant); err != nil {
		WriteError(w, err)
		return
	}
	response.NoContent(w)
}

// SetReady handles POST /api/v1/sessions/{id}/ready
func (h *SessionHandler) SetReady(w http.ResponseWriter, r *http.Request) {
	var req request.SetReadyRequest
	if err := decodeJSON(r, &req, false); err != nil {
		WriteError(w, err)
		return
	}

	s, err := h.controller.SetReady(r.Context(), sessionID(r), middleware.GetParticipant(r.Context()), req.Ready)
	if err != nil {
		WriteError(w, err)
		return
	}
	h.writeSession(w, r, s)
}

// Kick handles DELETE /api/v1/sessions/{id}/participants/{participant_id}
func (h *SessionHandler) Kick(w http.ResponseWriter, r *http.Request) {
	target := model.ParticipantID(mux.Vars(r)["participant_id"])

	s, err := h.controller.Kick(r.Context(), sessionID(r), middleware.GetParticipant(r.Context()), target)
	if err != nil {
		WriteError(w, err)
		return
	}
	h.writeSession(w, r, s)
}

// writeSession writes the caller's view of s
func (h *SessionHandler) writeSession(w http.ResponseWriter, r *http.Request, s *model.Session) {
	response.JSON(w, http.StatusOK, response.SessionFromModel(s, middleware.GetParticipant(r.Context())))
}

func sessionID(r *http.Request) model.SessionID {
	return model.SessionID(mux.Vars(r)["id"])
}

// writeJoined returns the new participant's view together with their
// token. This is the only response that ever carries a token.
func writeJoined(w http.ResponseWriter, status int, s *model.Session, id model.ParticipantID) {
	var token model.ParticipantToken
	if p := s.Participant(id); p != nil {
		token = p.Token
	}

	// Browser clients identify themselves with the cookie instead of the header
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.TokenCookie,
		Value:    string(token),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	response.JSON(w, status, response.JoinResponse{
		Session:          response.SessionFromModel(s, id),
		ParticipantID:    string(id),
		ParticipantToken: string(token),
	})
}
