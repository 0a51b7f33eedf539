package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/mcoot/outlier/internal/api/apierr"
	"github.com/mcoot/outlier/internal/model"
)

type contextKey string

const (
	tokenContextKey       contextKey = "participant_token"
	participantContextKey contextKey = "participant"
)

const (
	// TokenHeader carries the caller's secret participant token
	TokenHeader = "X-Participant-Token"
	// TokenCookie is the fallback when the header is absent
	TokenCookie = "participant_token"
)

// Authenticator resolves a participant token within one session
type Authenticator interface {
	Authenticate(ctx context.Context, id model.SessionID, token model.ParticipantToken) (model.ParticipantID, error)
}

// Identify puts the caller's token, if any, into the request context
func Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := extractToken(r); token != "" {
			r = r.WithContext(context.WithValue(r.Context(), tokenContextKey, token))
		}
		next.ServeHTTP(w, r)
	})
}

// Authenticate resolves the caller's token against the session named by
// the {id} route variable. A token that matches nobody leaves the request
// anonymous; lookup failures are written as errors.
func Authenticate(auth Authenticator) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := GetToken(r.Context())
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			id := model.SessionID(mux.Vars(r)["id"])
			participant, err := auth.Authenticate(r.Context(), id, token)
			switch {
			case err == nil:
				r = r.WithContext(WithParticipant(r.Context(), participant))
			case errors.Is(err, model.ErrInvalidCredentials):
				// Stays anonymous
			default:
				apierr.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireParticipant rejects requests whose token did not resolve to a
// participant
func RequireParticipant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetParticipant(r.Context()) == "" {
			apierr.WriteError(w, apierr.NewUnauthorizedError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractToken reads the header first, then the cookie
func extractToken(r *http.Request) model.ParticipantToken {
	if token := strings.TrimSpace(r.Header.Get(TokenHeader)); token != "" {
		return model.ParticipantToken(token)
	}
	if cookie, err := r.Cookie(TokenCookie); err == nil {
		return model.ParticipantToken(strings.TrimSpace(cookie.Value))
	}
	return ""
}

// GetToken returns the token the caller sent, or "" if none
func GetToken(ctx context.Context) model.ParticipantToken {
	token, _ := ctx.Value(tokenContextKey).(model.ParticipantToken)
	return token
}

// WithParticipant returns a context carrying the authenticated participant
func WithParticipant(ctx context.Context, id model.ParticipantID) context.Context {
	return context.WithValue(ctx, participantContextKey, id)
}

// GetParticipant returns the authenticated participant, or "" if the
// caller is anonymous
func GetParticipant(ctx context.Context) model.ParticipantID {
	id, _ := ctx.Value(participantContextKey).(model.ParticipantID)
	return id
}
