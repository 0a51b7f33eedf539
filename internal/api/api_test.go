package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/outlier/internal/api"
	"github.com/mcoot/outlier/internal/api/apierr"
	"github.com/mcoot/outlier/internal/api/middleware"
	"github.com/mcoot/outlier/internal/api/response"
	"github.com/mcoot/outlier/internal/factory"
	"github.com/mcoot/outlier/internal/model"
	"github.com/mcoot/outlier/internal/testutil"
	"github.com/mcoot/outlier/internal/web/stream"
)

// testServer creates a test server with all dependencies
type testServer struct {
	handler http.Handler
	app     *factory.TestApp
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	app := factory.NewTestApp()
	t.Cleanup(func() { _ = app.Close() })

	router := api.NewRouter(api.RouterConfig{
		Logger:            testutil.NopLogger(),
		SessionController: app.SessionController,
		Categories:        app.Categories,
		HubManager:        app.HubManager,
		PublicURL:         "https://outlier.example",
	})

	return &testServer{handler: router, app: app}
}

func (ts *testServer) request(method, path string, body any, token string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		b, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(b)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(middleware.TokenHeader, token)
	}

	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

// createSession creates a session hosted by name and returns the response
func (ts *testServer) createSession(t *testing.T, code, name string) response.JoinResponse {
	t.Helper()
	ts.app.MockRandom.QueueString(code)

	rr := ts.request(http.MethodPost, "/api/v1/sessions", map[string]string{"display_name": name}, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp response.JoinResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func (ts *testServer) joinSession(t *testing.T, code, name string) response.JoinResponse {
	t.Helper()
	rr := ts.request(http.MethodPost, "/api/v1/sessions/join", map[string]string{
		"join_code":    code,
		"display_name": name,
	}, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp response.JoinResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func decodeSession(t *testing.T, rr *httptest.ResponseRecorder) response.Session {
	t.Helper()
	var s response.Session
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &s))
	return s
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) apierr.APIError {
	t.Helper()
	var resp apierr.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.Error
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodGet, "/api/v1/health", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestCreateSession(t *testing.T) {
	ts := newTestServer(t)
	ts.app.MockRandom.QueueString("ABC123")

	rr := ts.request(http.MethodPost, "/api/v1/sessions", map[string]string{"display_name": "  Alice "}, "")
	require.Equal(t, http.StatusCreated, rr.Code)

	var resp response.JoinResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ParticipantID)
	assert.Equal(t, "ABC123", resp.Session.JoinCode)
	assert.Equal(t, "waiting", resp.Session.Status)
	require.Len(t, resp.Session.Participants, 1)
	assert.Equal(t, "Alice", resp.Session.Participants[0].DisplayName)
	assert.True(t, resp.Session.Participants[0].IsHost)
	require.NotNil(t, resp.Session.Participants[0].IsOutlier)
	assert.False(t, *resp.Session.Participants[0].IsOutlier)

	assert.NotEmpty(t, resp.ParticipantToken)
	assert.NotEqual(t, resp.ParticipantID, resp.ParticipantToken)
	assert.NotContains(t, string(mustMarshal(t, resp.Session)), resp.ParticipantToken)

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, middleware.TokenCookie, cookies[0].Name)
	assert.Equal(t, resp.ParticipantToken, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
}

func TestCreateSession_Invalid(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodPost, "/api/v1/sessions", map[string]string{"display_name": "   "}, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, apierr.CodeInvalidDisplayName, decodeError(t, rr).Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", strings.NewReader("{not json"))
	rr = httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, apierr.CodeInvalidRequest, decodeError(t, rr).Code)
}

func TestJoinSession(t *testing.T) {
	ts := newTestServer(t)
	host := ts.createSession(t, "JOIN01", "Alice")

	// Codes are normalised on entry
	joined := ts.joinSession(t, " join01 ", "Bob")
	assert.Equal(t, host.Session.ID, joined.Session.ID)
	assert.NotEqual(t, host.ParticipantID, joined.ParticipantID)
	require.Len(t, joined.Session.Participants, 2)
	assert.False(t, joined.Session.Participants[1].IsHost)
}

func TestJoinSession_Errors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name    string
		code    string
		status  int
		errCode string
	}{
		{name: "unknown code", code: "ZZZ999", status: http.StatusNotFound, errCode: apierr.CodeSessionNotFound},
		{name: "malformed code", code: "abc", status: http.StatusBadRequest, errCode: apierr.CodeInvalidJoinCode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.request(http.MethodPost, "/api/v1/sessions/join", map[string]string{
				"join_code":    tt.code,
				"display_name": "Bob",
			}, "")
			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, tt.errCode, decodeError(t, rr).Code)
		})
	}
}

func TestGetSession(t *testing.T) {
	ts := newTestServer(t)
	host := ts.createSession(t, "GET001", "Alice")

	rr := ts.request(http.MethodGet, "/api/v1/sessions/"+host.Session.ID, nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, host.Session.ID, decodeSession(t, rr).ID)

	rr = ts.request(http.MethodGet, "/api/v1/sessions/by-code/get001", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, host.Session.ID, decodeSession(t, rr).ID)

	rr = ts.request(http.MethodGet, "/api/v1/sessions/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRoundViewsArePerViewer(t *testing.T) {
	ts := newTestServer(t)
	host := ts.createSession(t, "VIEW01", "Alice")
	bob := ts.joinSession(t, "VIEW01", "Bob")
	carol := ts.joinSession(t, "VIEW01", "Carol")
	id := host.Session.ID

	// Bob is the outlier, the secret word is "Koala"
	ts.app.MockRandom.QueueIntn(1, 4)
	rr := ts.request(http.MethodPost, "/api/v1/sessions/"+id+"/start", map[string]any{"category_name": "Animals"}, host.ParticipantToken)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.NotContains(t, rr.Body.String(), "outlier_id")

	view := func(token string) response.Session {
		rr := ts.request(http.MethodGet, "/api/v1/sessions/"+id, nil, token)
		require.Equal(t, http.StatusOK, rr.Code)
		return decodeSession(t, rr)
	}
	outlierFlags := func(s response.Session) map[string]bool {
		flags := map[string]bool{}
		for _, p := range s.Participants {
			if p.IsOutlier != nil {
				flags[p.ID] = *p.IsOutlier
			}
		}
		return flags
	}

	hostView := view(host.ParticipantToken)
	require.NotNil(t, hostView.Round)
	assert.Equal(t, "Animals", hostView.Round.CategoryName)
	assert.Equal(t, "Koala", hostView.Round.SecretWord)
	assert.Empty(t, hostView.Round.WordBank)
	assert.Equal(t, map[string]bool{host.ParticipantID: false}, outlierFlags(hostView))

	outlierView := view(bob.ParticipantToken)
	assert.Equal(t, "Animals", outlierView.Round.CategoryName)
	assert.Empty(t, outlierView.Round.SecretWord)
	assert.Equal(t, map[string]bool{bob.ParticipantID: true}, outlierFlags(outlierView))

	carolView := view(carol.ParticipantToken)
	assert.Equal(t, "Koala", carolView.Round.SecretWord)

	anonymous := view("")
	assert.Empty(t, anonymous.Round.SecretWord)
	assert.Empty(t, outlierFlags(anonymous))

	// Revealing the word bank shows it to participants only
	rr = ts.request(http.MethodPost, "/api/v1/sessions/"+id+"/restart", nil, host.ParticipantToken)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Nil(t, decodeSession(t, rr).Round)

	ts.app.MockRandom.QueueIntn(1, 4)
	rr = ts.request(http.MethodPost, "/api/v1/sessions/"+id+"/start", map[string]any{
		"category_name":    "Animals",
		"reveal_word_bank": true,
	}, host.ParticipantToken)
	require.Equal(t, http.StatusOK, rr.Code)

	assert.Len(t, view(bob.ParticipantToken).Round.WordBank, 16)
	assert.Len(t, view(host.ParticipantToken).Round.WordBank, 16)
	assert.Empty(t, view("").Round.WordBank)
}

func TestStart_CustomCategory(t *testing.T) {
	ts := newTestServer(t)
	host := ts.createSession(t, "CUST01", "Alice")
	ts.joinSession(t, "CUST01", "Bob")

	words := []string{"Red", "Orange", "Yellow", "Green", "Blue", "Indigo", "Violet", "Pink"}
	ts.app.MockRandom.QueueIntn(1, 2)
	rr := ts.request(http.MethodPost, "/api/v1/sessions/"+host.Session.ID+"/start", map[string]any{
		"category": map[string]any{"name": "Colours", "words": words},
	}, host.ParticipantToken)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	round := decodeSession(t, rr).Round
	require.NotNil(t, round)
	assert.Equal(t, "Colours", round.CategoryName)
	assert.Equal(t, "Yellow", round.SecretWord)

	// Too few words is rejected before anything is written
	rr = ts.request(http.MethodPost, "/api/v1/sessions/"+host.Session.ID+"/restart", nil, host.ParticipantToken)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = ts.request(http.MethodPost, "/api/v1/sessions/"+host.Session.ID+"/start", map[string]any{
		"category": map[string]any{"name": "Colours", "words": words[:3]},
	}, host.ParticipantToken)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, apierr.CodeInvalidCategory, decodeError(t, rr).Code)
}

func TestStart_Errors(t *testing.T) {
	ts := newTestServer(t)
	host := ts.createSession(t, "ERR001", "Alice")
	path := "/api/v1/sessions/" + host.Session.ID + "/start"

	rr := ts.request(http.MethodPost, path, nil, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = ts.request(http.MethodPost, path, nil, host.ParticipantToken)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, apierr.CodeInsufficientPlayers, decodeError(t, rr).Code)

	bob := ts.joinSession(t, "ERR001", "Bob")
	rr = ts.request(http.MethodPost, path, nil, bob.ParticipantToken)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, apierr.CodeNotHost, decodeError(t, rr).Code)

	rr = ts.request(http.MethodPost, path, map[string]any{"category_name": "Dinosaurs"}, host.ParticipantToken)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, apierr.CodeCategoryNotFound, decodeError(t, rr).Code)

	rr = ts.request(http.MethodPost, path, nil, host.ParticipantToken)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = ts.request(http.MethodPost, path, nil, host.ParticipantToken)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, apierr.CodeInvalidTransition, decodeError(t, rr).Code)
}

func TestKick(t *testing.T) {
	ts := newTestServer(t)
	host := ts.createSession(t, "KICK01", "Alice")
	bob := ts.joinSession(t, "KICK01", "Bob")
	base := "/api/v1/sessions/" + host.Session.ID + "/participants/"

	rr := ts.request(http.MethodDelete, base+host.ParticipantID, nil, bob.ParticipantToken)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = ts.request(http.MethodDelete, base+host.ParticipantID, nil, host.ParticipantToken)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, apierr.CodeCannotKickHost, decodeError(t, rr).Code)

	rr = ts.request(http.MethodDelete, base+"nobody", nil, host.ParticipantToken)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, apierr.CodeParticipantNotFound, decodeError(t, rr).Code)

	rr = ts.request(http.MethodDelete, base+bob.ParticipantID, nil, host.ParticipantToken)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeSession(t, rr).Participants, 1)
}

func TestLeaveAndReady(t *testing.T) {
	ts := newTestServer(t)
	host := ts.createSession(t, "LEAVE1", "Alice")
	bob := ts.joinSession(t, "LEAVE1", "Bob")
	base := "/api/v1/sessions/" + host.Session.ID

	rr := ts.request(http.MethodPost, base+"/ready", map[string]bool{"ready": true}, bob.ParticipantToken)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decodeSession(t, rr).Participants[1].IsReady)

	rr = ts.request(http.MethodPost, base+"/leave", nil, host.ParticipantToken)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	// Leaving twice is harmless
	rr = ts.request(http.MethodPost, base+"/leave", nil, host.ParticipantToken)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = ts.request(http.MethodGet, base, nil, bob.ParticipantToken)
	require.Equal(t, http.StatusOK, rr.Code)
	s := decodeSession(t, rr)
	require.Len(t, s.Participants, 1)
	assert.True(t, s.Participants[0].IsHost)
}

func TestTokenCookie(t *testing.T) {
	ts := newTestServer(t)
	host := ts.createSession(t, "COOKIE", "Alice")
	ts.joinSession(t, "COOKIE", "Bob")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+host.Session.ID+"/start", nil)
	req.AddCookie(&http.Cookie{Name: middleware.TokenCookie, Value: host.ParticipantToken})
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestPublicIDIsNotACredential(t *testing.T) {
	ts := newTestServer(t)
	host := ts.createSession(t, "REPLAY", "Alice")
	bob := ts.joinSession(t, "REPLAY", "Bob")
	ts.joinSession(t, "REPLAY", "Carol")
	base := "/api/v1/sessions/" + host.Session.ID

	// Bob is the outlier, the secret word is "Koala"
	ts.app.MockRandom.QueueIntn(1, 4)
	rr := ts.request(http.MethodPost, base+"/start", map[string]any{"category_name": "Animals"}, host.ParticipantToken)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	// Every participant ID is visible to every viewer, tokens never are
	rr = ts.request(http.MethodGet, base, nil, bob.ParticipantToken)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), host.ParticipantID)
	assert.NotContains(t, rr.Body.String(), host.ParticipantToken)
	assert.NotContains(t, rr.Body.String(), "token-")

	// Bob replays the host's public ID as a credential
	rr = ts.request(http.MethodGet, base, nil, host.ParticipantID)
	require.Equal(t, http.StatusOK, rr.Code)
	replayed := decodeSession(t, rr)
	require.NotNil(t, replayed.Round)
	assert.Empty(t, replayed.Round.SecretWord)
	for _, p := range replayed.Participants {
		assert.Nil(t, p.IsOutlier, p.DisplayName)
	}

	rr = ts.request(http.MethodPost, base+"/restart", nil, host.ParticipantID)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, apierr.CodeUnauthorized, decodeError(t, rr).Code)

	req := httptest.NewRequest(http.MethodPost, base+"/restart", nil)
	req.AddCookie(&http.Cookie{Name: middleware.TokenCookie, Value: host.ParticipantID})
	rr = httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// Another session's token does not carry over either
	other := ts.createSession(t, "OTHER1", "Dave")
	rr = ts.request(http.MethodPost, base+"/restart", nil, other.ParticipantToken)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// The round is untouched
	rr = ts.request(http.MethodGet, base, nil, host.ParticipantToken)
	require.Equal(t, http.StatusOK, rr.Code)
	s := decodeSession(t, rr)
	require.NotNil(t, s.Round)
	assert.Equal(t, "Koala", s.Round.SecretWord)
}

func TestCategories(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodGet, "/api/v1/categories", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list response.CategoryList
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Contains(t, list.Categories, "Animals")

	rr = ts.request(http.MethodGet, "/api/v1/categories/countries", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var c response.Category
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &c))
	assert.Equal(t, "Countries", c.Name)

	rr = ts.request(http.MethodPost, "/api/v1/categories/generate", map[string]string{"prompt": "space"}, "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, apierr.CodeGeneratorUnavailable, decodeError(t, rr).Code)
}

func TestQRCode(t *testing.T) {
	ts := newTestServer(t)
	host := ts.createSession(t, "QRCODE", "Alice")

	rr := ts.request(http.MethodGet, "/api/v1/sessions/"+host.Session.ID+"/qr", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))
	assert.Equal(t, "https://outlier.example/join/QRCODE", rr.Header().Get("X-Join-URL"))
	assert.True(t, bytes.HasPrefix(rr.Body.Bytes(), []byte("\x89PNG")))

	rr = ts.request(http.MethodGet, "/api/v1/sessions/"+host.Session.ID+"/qr?size=5", nil, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.request(http.MethodGet, "/api/v1/sessions/missing/qr", nil, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStreams_UnknownSession(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/api/v1/sessions/missing/events", "/api/v1/sessions/missing/ws"} {
		rr := ts.request(http.MethodGet, path, nil, "")
		assert.Equal(t, http.StatusNotFound, rr.Code, path)
	}
	assert.Equal(t, 0, ts.app.HubManager.HubCount())
}

func TestWebSocketStream(t *testing.T) {
	ts := newTestServer(t)
	server := httptest.NewServer(ts.handler)
	t.Cleanup(server.Close)

	host := ts.createSession(t, "WSTEST", "Alice")
	bob := ts.joinSession(t, "WSTEST", "Bob")

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/sessions/" + host.Session.ID + "/ws"
	header := http.Header{}
	header.Set(middleware.TokenHeader, bob.ParticipantToken)
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	read := func() stream.Message {
		var msg stream.Message
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	assert.Equal(t, model.EventConnected, read().Type)

	msg := read()
	require.Equal(t, model.EventSession, msg.Type)
	var view response.Session
	require.NoError(t, json.Unmarshal(msg.Session, &view))
	assert.Len(t, view.Participants, 2)

	// Bob is kicked and told so
	rr := ts.request(http.MethodDelete, "/api/v1/sessions/"+host.Session.ID+"/participants/"+bob.ParticipantID, nil, host.ParticipantToken)
	require.Equal(t, http.StatusOK, rr.Code)

	msg = read()
	require.Equal(t, model.EventSession, msg.Type)
	assert.Equal(t, model.EventRemoved, read().Type)
}
