package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/outlier/internal/api/handler"
	"github.com/mcoot/outlier/internal/api/middleware"
	"github.com/mcoot/outlier/internal/api/response"
	"github.com/mcoot/outlier/internal/services/category"
	"github.com/mcoot/outlier/internal/services/session"
	"github.com/mcoot/outlier/internal/web/stream"

	rootmiddleware "github.com/mcoot/outlier/internal/middleware"
)

// RouterConfig holds configuration for the API router
type RouterConfig struct {
	Logger            *slog.Logger
	SessionController session.ControllerInterface
	Categories        *category.Provider
	HubManager        *stream.HubManager
	// PublicURL is the base of join links; derived from requests if empty
	PublicURL string
}

// NewRouter creates a new API router with all routes configured
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	// Create handlers
	sessionHandler := handler.NewSessionHandler(cfg.SessionController)
	streamHandler := handler.NewStreamHandler(cfg.SessionController, cfg.HubManager, cfg.PublicURL, cfg.Logger)
	categoryHandler := handler.NewCategoryHandler(cfg.Categories)

	// API subrouter with common middleware
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(rootmiddleware.Tracing())
	api.Use(middleware.Recovery(cfg.Logger))
	api.Use(rootmiddleware.Logging(cfg.Logger))
	api.Use(middleware.Identify)

	// Health check endpoint
	api.HandleFunc("/health", healthHandler).Methods(http.MethodGet)

	api.HandleFunc("/sessions", sessionHandler.Create).Methods(http.MethodPost)
	api.HandleFunc("/sessions/join", sessionHandler.Join).Methods(http.MethodPost)
	api.HandleFunc("/sessions/by-code/{code}", sessionHandler.GetByCode).Methods(http.MethodGet)

	// Routes under a session resolve the caller's token to a participant.
	// Reads are open to anyone holding the id and return an anonymous view
	// when the token does not resolve.
	sessions := api.PathPrefix("/sessions/{id}").Subrouter()
	sessions.Use(middleware.Authenticate(cfg.SessionController))
	sessions.HandleFunc("", sessionHandler.Get).Methods(http.MethodGet)
	sessions.HandleFunc("/events", streamHandler.Events).Methods(http.MethodGet)
	sessions.HandleFunc("/ws", streamHandler.WebSocket).Methods(http.MethodGet)
	sessions.HandleFunc("/qr", streamHandler.QR).Methods(http.MethodGet)
	sessions.HandleFunc("/leave", sessionHandler.Leave).Methods(http.MethodPost)

	// Session actions (require an authenticated participant)
	actions := sessions.NewRoute().Subrouter()
	actions.Use(middleware.RequireParticipant)
	actions.HandleFunc("/start", sessionHandler.Start).Methods(http.MethodPost)
	actions.HandleFunc("/restart", sessionHandler.Restart).Methods(http.MethodPost)
	actions.HandleFunc("/ready", sessionHandler.SetReady).Methods(http.MethodPost)
	actions.HandleFunc("/participants/{participant_id}", sessionHandler.Kick).Methods(http.MethodDelete)

	// Category routes
	api.HandleFunc("/categories", categoryHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/categories/generate", categoryHandler.Generate).Methods(http.MethodPost)
	api.HandleFunc("/categories/{name}", categoryHandler.Get).Methods(http.MethodGet)

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, response.Health{Status: "ok"})
}
