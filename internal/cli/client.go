package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mcoot/outlier/internal/api/apierr"
	"github.com/mcoot/outlier/internal/api/middleware"
	"github.com/mcoot/outlier/internal/api/request"
	"github.com/mcoot/outlier/internal/api/response"
	"github.com/mcoot/outlier/internal/model"
	"github.com/mcoot/outlier/internal/services/session"
	"github.com/mcoot/outlier/internal/sessionclient"
)

// Client is an HTTP client for the API. It implements
// sessionclient.Backend so the session client can drive a remote server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ sessionclient.Backend = (*Client)(nil)

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is an error response from the API. It unwraps to the matching
// model error so callers can use errors.Is across the wire.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

func (e *APIError) Unwrap() error {
	if err, ok := codeErrors[e.Code]; ok {
		return err
	}
	switch {
	case e.Status == http.StatusNotFound:
		return model.ErrNotFound
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return model.ErrUnauthorized
	case e.Status == http.StatusConflict:
		return model.ErrConflict
	case e.Status >= http.StatusInternalServerError:
		return model.ErrTransient
	default:
		return model.ErrInvalid
	}
}

var codeErrors = map[string]error{
	apierr.CodeSessionNotFound:      model.ErrSessionNotFound,
	apierr.CodeParticipantNotFound:  model.ErrParticipantNotFound,
	apierr.CodeCategoryNotFound:     model.ErrCategoryNotFound,
	apierr.CodeNotHost:              model.ErrNotHost,
	apierr.CodeSessionEnded:         model.ErrSessionEnded,
	apierr.CodeInvalidTransition:    model.ErrInvalidTransition,
	apierr.CodeInvalidJoinCode:      model.ErrInvalidJoinCode,
	apierr.CodeInvalidDisplayName:   model.ErrInvalidDisplayName,
	apierr.CodeInvalidCategory:      model.ErrInvalidCategory,
	apierr.CodeCannotKickHost:       model.ErrCannotKickHost,
	apierr.CodeInsufficientPlayers:  model.ErrInsufficientParticipants,
	apierr.CodeGeneratorUnavailable: model.ErrGeneratorUnavailable,
}

// Do performs an HTTP request presenting token (which may be empty) and
// decodes a JSON result
func (c *Client) Do(ctx context.Context, method, path string, token model.ParticipantToken, body, result any) error {
	respBody, err := c.roundTrip(ctx, method, path, token, body)
	if err != nil {
		return err
	}

	// Parse successful response
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, token model.ParticipantToken, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set(middleware.TokenHeader, string(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, model.Transient(fmt.Errorf("request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.Transient(fmt.Errorf("failed to read response: %w", err))
	}

	// Check for error responses
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error APIError `json:"error"`
		}
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Code != "" {
			errResp.Error.Status = resp.StatusCode
			return nil, &errResp.Error
		}
		return nil, &APIError{
			Status:  resp.StatusCode,
			Code:    http.StatusText(resp.StatusCode),
			Message: strings.TrimSpace(string(respBody)),
		}
	}

	return respBody, nil
}

func sessionPath(id model.SessionID, suffix string) string {
	return "/api/v1/sessions/" + url.PathEscape(string(id)) + suffix
}

func (c *Client) join(ctx context.Context, path string, body any) (*model.Session, model.Credentials, error) {
	var result response.JoinResponse
	if err := c.Do(ctx, http.MethodPost, path, "", body, &result); err != nil {
		return nil, model.Credentials{}, err
	}
	s := result.Session.ToModel()
	return s, model.Credentials{
		SessionID:     s.ID,
		ParticipantID: model.ParticipantID(result.ParticipantID),
		Token:         model.ParticipantToken(result.ParticipantToken),
	}, nil
}

func (c *Client) session(ctx context.Context, method, path string, token model.ParticipantToken, body any) (*model.Session, error) {
	var result response.Session
	if err := c.Do(ctx, method, path, token, body, &result); err != nil {
		return nil, err
	}
	return result.ToModel(), nil
}

func (c *Client) Create(ctx context.Context, displayName string) (*model.Session, model.Credentials, error) {
	return c.join(ctx, "/api/v1/sessions", request.CreateSessionRequest{DisplayName: displayName})
}

func (c *Client) Join(ctx context.Context, joinCode string, displayName string) (*model.Session, model.Credentials, error) {
	return c.join(ctx, "/api/v1/sessions/join", request.JoinSessionRequest{JoinCode: joinCode, DisplayName: displayName})
}

func (c *Client) Get(ctx context.Context, caller model.Credentials) (*model.Session, error) {
	return c.session(ctx, http.MethodGet, sessionPath(caller.SessionID, ""), caller.Token, nil)
}

// FindByJoinCode looks a session up by its join code, as an observer
func (c *Client) FindByJoinCode(ctx context.Context, joinCode string) (*model.Session, error) {
	return c.session(ctx, http.MethodGet, "/api/v1/sessions/by-code/"+url.PathEscape(joinCode), "", nil)
}

func (c *Client) Start(ctx context.Context, caller model.Credentials, opts session.StartOptions) (*model.Session, error) {
	req := request.StartRequest{
		CategoryName:   opts.CategoryName,
		RevealWordBank: opts.RevealWordBank,
	}
	if opts.Category != nil {
		req.Category = &request.Category{Name: opts.Category.Name, Words: opts.Category.Words}
	}
	return c.session(ctx, http.MethodPost, sessionPath(caller.SessionID, "/start"), caller.Token, req)
}

func (c *Client) Restart(ctx context.Context, caller model.Credentials) (*model.Session, error) {
	return c.session(ctx, http.MethodPost, sessionPath(caller.SessionID, "/restart"), caller.Token, nil)
}

// Leave is a no-op when the session no longer exists, matching the server's
// handling of a participant who is already gone
func (c *Client) Leave(ctx context.Context, caller model.Credentials) error {
	err := c.Do(ctx, http.MethodPost, sessionPath(caller.SessionID, "/leave"), caller.Token, nil, nil)
	if errors.Is(err, model.ErrSessionNotFound) {
		return nil
	}
	return err
}

func (c *Client) Kick(ctx context.Context, caller model.Credentials, target model.ParticipantID) (*model.Session, error) {
	return c.session(ctx, http.MethodDelete, sessionPath(caller.SessionID, "/participants/"+url.PathEscape(string(target))), caller.Token, nil)
}

func (c *Client) SetReady(ctx context.Context, caller model.Credentials, ready bool) (*model.Session, error) {
	return c.session(ctx, http.MethodPost, sessionPath(caller.SessionID, "/ready"), caller.Token, request.SetReadyRequest{Ready: ready})
}

// Categories lists the server's built-in category names
func (c *Client) Categories(ctx context.Context) ([]string, error) {
	var result response.CategoryList
	if err := c.Do(ctx, http.MethodGet, "/api/v1/categories", "", nil, &result); err != nil {
		return nil, err
	}
	return result.Categories, nil
}

// GenerateCategory asks the server's generator for a category
func (c *Client) GenerateCategory(ctx context.Context, prompt string) (model.Category, error) {
	var result response.Category
	if err := c.Do(ctx, http.MethodPost, "/api/v1/categories/generate", "", request.GenerateCategoryRequest{Prompt: prompt}, &result); err != nil {
		return model.Category{}, err
	}
	return model.Category{Name: result.Name, Words: result.Words}, nil
}

// Health checks the server
func (c *Client) Health(ctx context.Context) (response.Health, error) {
	var result response.Health
	err := c.Do(ctx, http.MethodGet, "/api/v1/health", "", nil, &result)
	return result, err
}

// QRCode downloads the PNG QR code of a session's join link
func (c *Client) QRCode(ctx context.Context, id model.SessionID, size int) ([]byte, error) {
	path := sessionPath(id, "/qr")
	if size > 0 {
		path += "?size=" + strconv.Itoa(size)
	}
	return c.roundTrip(ctx, http.MethodGet, path, "", nil)
}

// Category fetches a built-in category by name
func (c *Client) Category(ctx context.Context, name string) (model.Category, error) {
	var result response.Category
	if err := c.Do(ctx, http.MethodGet, "/api/v1/categories/"+url.PathEscape(name), "", nil, &result); err != nil {
		return model.Category{}, err
	}
	return model.Category{Name: result.Name, Words: result.Words}, nil
}
