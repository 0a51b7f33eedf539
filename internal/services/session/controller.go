package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mcoot/outlier/internal/dependencies/clock"
	"github.com/mcoot/outlier/internal/dependencies/random"
	"github.com/mcoot/outlier/internal/model"
	"github.com/mcoot/outlier/internal/services/category"
	"github.com/mcoot/outlier/internal/storage"
)

const (
	// maxJoinCodeAttempts bounds redraws when a generated code is taken
	maxJoinCodeAttempts = 10
	// MaxDisplayNameLength is the longest display name accepted, in runes
	MaxDisplayNameLength = 40
)

// Config holds state machine settings
type Config struct {
	// MaxUpdateAttempts bounds the read-modify-write retries on version
	// conflicts
	MaxUpdateAttempts int
}

// DefaultConfig returns sensible defaults for the controller
func DefaultConfig() Config {
	return Config{MaxUpdateAttempts: 8}
}

// StartOptions selects the content for a new round. Category takes
// precedence over CategoryName; with neither, a random built-in category is
// used.
type StartOptions struct {
	Category       *model.Category
	CategoryName   string
	RevealWordBank bool
}

// Controller runs the session state machine. All writes are version
// conditioned and retried on conflict, so concurrent participants never
// lose each other's changes.
type Controller struct {
	store      storage.Store
	categories *category.Provider
	clock      clock.Clock
	random     random.Random
	logger     *slog.Logger
	tracer     trace.Tracer
	cfg        Config
}

// NewController creates a new session Controller
func NewController(
	store storage.Store,
	categories *category.Provider,
	clock clock.Clock,
	random random.Random,
	logger *slog.Logger,
	cfg Config,
) *Controller {
	if cfg.MaxUpdateAttempts <= 0 {
		cfg.MaxUpdateAttempts = DefaultConfig().MaxUpdateAttempts
	}
	return &Controller{
		store:      store,
		categories: categories,
		clock:      clock,
		random:     random,
		logger:     logger.With(slog.String("component", "session")),
		tracer:     otel.Tracer("github.com/mcoot/outlier/internal/services/session"),
		cfg:        cfg,
	}
}

// Create starts a new session with the creator as its host
func (c *Controller) Create(ctx context.Context, displayName string) (_ *model.Session, _ model.ParticipantID, err error) {
	ctx, span := c.tracer.Start(ctx, "session.Create")
	defer func() { endSpan(span, err) }()

	name, err := normalizeDisplayName(displayName)
	if err != nil {
		return nil, "", err
	}

	code, err := c.allocateJoinCode(ctx)
	if err != nil {
		return nil, "", err
	}

	now := c.clock.Now()
	hostID := model.ParticipantID(c.random.UUID())
	session := &model.Session{
		JoinCode: code,
		Status:   model.SessionStatusWaiting,
		Participants: []model.Participant{
			{
				ID:          hostID,
				Token:       model.ParticipantToken(c.random.Token()),
				DisplayName: name,
				IsHost:      true,
				JoinedAt:    now,
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	// A fresh UUID colliding twice means something other than chance is wrong
	for attempt := 0; ; attempt++ {
		session.ID = model.SessionID(c.random.UUID())
		created, err := c.store.Create(ctx, session)
		if errors.Is(err, model.ErrSessionExists) && attempt == 0 {
			c.logger.Warn("session id collision, retrying",
				slog.String("session_id", string(session.ID)))
			continue
		}
		if err != nil {
			return nil, "", model.Transient(err)
		}

		span.SetAttributes(attribute.String("session.id", string(created.ID)))
		c.logger.Info("session created",
			slog.String("session_id", string(created.ID)),
			slog.String("join_code", string(created.JoinCode)))
		return created, hostID, nil
	}
}

// Join adds a participant to the session with the given join code
func (c *Controller) Join(ctx context.Context, joinCode string, displayName string) (_ *model.Session, _ model.ParticipantID, err error) {
	ctx, span := c.tracer.Start(ctx, "session.Join")
	defer func() { endSpan(span, err) }()

	name, err := normalizeDisplayName(displayName)
	if err != nil {
		return nil, "", err
	}

	found, err := c.FindByJoinCode(ctx, joinCode)
	if err != nil {
		return nil, "", err
	}
	span.SetAttributes(attribute.String("session.id", string(found.ID)))

	participant := model.Participant{
		ID:          model.ParticipantID(c.random.UUID()),
		Token:       model.ParticipantToken(c.random.Token()),
		DisplayName: name,
		JoinedAt:    c.clock.Now(),
	}
	updated, err := c.mutate(ctx, found.ID, func(s *model.Session) (*storage.Patch, error) {
		if s.Status == model.SessionStatusEnded {
			return nil, model.ErrSessionEnded
		}
		return addParticipant(s, participant), nil
	})
	if err != nil {
		return nil, "", err
	}

	c.logger.Info("participant joined",
		slog.String("session_id", string(updated.ID)),
		slog.String("participant_id", string(participant.ID)),
		slog.Int("participant_count", len(updated.Participants)))
	return updated, participant.ID, nil
}

// Get retrieves a session by ID
func (c *Controller) Get(ctx context.Context, id model.SessionID) (*model.Session, error) {
	s, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, model.Transient(err)
	}
	return s, nil
}

// Authenticate returns the participant in the session holding token.
// A token that matches nobody, including one whose holder has left, is
// ErrInvalidCredentials.
func (c *Controller) Authenticate(ctx context.Context, id model.SessionID, token model.ParticipantToken) (_ model.ParticipantID, err error) {
	ctx, span := c.tracer.Start(ctx, "session.Authenticate",
		trace.WithAttributes(attribute.String("session.id", string(id))))
	defer func() { endSpan(span, err) }()

	s, err := c.Get(ctx, id)
	if err != nil {
		return "", err
	}
	p := s.ParticipantByToken(token)
	if p == nil {
		return "", model.ErrInvalidCredentials
	}
	return p.ID, nil
}

// FindByJoinCode retrieves a session by a join code as typed by a person
func (c *Controller) FindByJoinCode(ctx context.Context, joinCode string) (*model.Session, error) {
	code := model.NormalizeJoinCode(joinCode)
	if !code.Valid() {
		return nil, model.ErrInvalidJoinCode
	}
	s, err := c.store.FindByJoinCode(ctx, code)
	if err != nil {
		return nil, model.Transient(err)
	}
	return s, nil
}

// Start begins a round: one participant is secretly made the outlier and
// everyone else learns the secret word
func (c *Controller) Start(ctx context.Context, id model.SessionID, caller model.ParticipantID, opts StartOptions) (_ *model.Session, err error) {
	ctx, span := c.tracer.Start(ctx, "session.Start",
		trace.WithAttributes(attribute.String("session.id", string(id))))
	defer func() { endSpan(span, err) }()

	content, err := c.resolveCategory(opts)
	if err != nil {
		return nil, err
	}

	updated, err := c.mutate(ctx, id, func(s *model.Session) (*storage.Patch, error) {
		if s.Status != model.SessionStatusWaiting {
			return nil, model.ErrInvalidTransition
		}
		if !s.IsHost(caller) {
			return nil, model.ErrNotHost
		}
		if len(s.Participants) < model.MinParticipants {
			return nil, model.ErrInsufficientParticipants
		}
		outlierIdx := c.random.Intn(len(s.Participants))
		wordIdx := c.random.Intn(len(content.Words))
		return startRound(s, content, outlierIdx, wordIdx, opts.RevealWordBank), nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("round started",
		slog.String("session_id", string(id)),
		slog.String("category", updated.CurrentCategoryName),
		slog.Int("participant_count", len(updated.Participants)))
	return updated, nil
}

// Restart ends the current round and returns the session to waiting
func (c *Controller) Restart(ctx context.Context, id model.SessionID, caller model.ParticipantID) (_ *model.Session, err error) {
	ctx, span := c.tracer.Start(ctx, "session.Restart",
		trace.WithAttributes(attribute.String("session.id", string(id))))
	defer func() { endSpan(span, err) }()

	updated, err := c.mutate(ctx, id, func(s *model.Session) (*storage.Patch, error) {
		if s.Status == model.SessionStatusEnded {
			return nil, model.ErrInvalidTransition
		}
		if !s.IsHost(caller) {
			return nil, model.ErrNotHost
		}
		return resetRound(s), nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("round reset", slog.String("session_id", string(id)))
	return updated, nil
}

// Leave removes a participant. Leaving a missing or ended session, or one
// the participant is not in, is a no-op.
func (c *Controller) Leave(ctx context.Context, id model.SessionID, participantID model.ParticipantID) (err error) {
	ctx, span := c.tracer.Start(ctx, "session.Leave",
		trace.WithAttributes(attribute.String("session.id", string(id))))
	defer func() { endSpan(span, err) }()

	updated, err := c.mutate(ctx, id, func(s *model.Session) (*storage.Patch, error) {
		if s.Status == model.SessionStatusEnded {
			return nil, nil
		}
		return removeParticipant(s, participantID), nil
	})
	if errors.Is(err, model.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	c.logger.Info("participant left",
		slog.String("session_id", string(id)),
		slog.String("participant_id", string(participantID)),
		slog.String("status", string(updated.Status)))
	return nil
}

// Kick removes another participant on behalf of the host
func (c *Controller) Kick(ctx context.Context, id model.SessionID, caller model.ParticipantID, target model.ParticipantID) (_ *model.Session, err error) {
	ctx, span := c.tracer.Start(ctx, "session.Kick",
		trace.WithAttributes(attribute.String("session.id", string(id))))
	defer func() { endSpan(span, err) }()

	updated, err := c.mutate(ctx, id, func(s *model.Session) (*storage.Patch, error) {
		if !s.IsHost(caller) {
			return nil, model.ErrNotHost
		}
		if s.IsHost(target) {
			return nil, model.ErrCannotKickHost
		}
		if s.Participant(target) == nil {
			return nil, model.ErrParticipantNotFound
		}
		return removeParticipant(s, target), nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("participant kicked",
		slog.String("session_id", string(id)),
		slog.String("participant_id", string(target)))
	return updated, nil
}

// SetReady records a participant's ready flag
func (c *Controller) SetReady(ctx context.Context, id model.SessionID, participantID model.ParticipantID, ready bool) (_ *model.Session, err error) {
	ctx, span := c.tracer.Start(ctx, "session.SetReady",
		trace.WithAttributes(attribute.String("session.id", string(id))))
	defer func() { endSpan(span, err) }()

	return c.mutate(ctx, id, func(s *model.Session) (*storage.Patch, error) {
		if s.Participant(participantID) == nil {
			return nil, model.ErrParticipantNotFound
		}
		return setReady(s, participantID, ready), nil
	})
}

// Subscribe calls observer with the current session and after every change
func (c *Controller) Subscribe(ctx context.Context, id model.SessionID, observer storage.Observer) (func(), error) {
	unsubscribe, err := c.store.Subscribe(ctx, id, observer)
	if err != nil {
		return nil, model.Transient(err)
	}
	return unsubscribe, nil
}

// transition derives the write for the current state. It runs again with a
// fresh read after every version conflict.
type transition func(current *model.Session) (*storage.Patch, error)

func (c *Controller) mutate(ctx context.Context, id model.SessionID, fn transition) (*model.Session, error) {
	for attempt := 1; attempt <= c.cfg.MaxUpdateAttempts; attempt++ {
		current, err := c.store.Get(ctx, id)
		if err != nil {
			return nil, model.Transient(err)
		}

		patch, err := fn(current.Clone())
		if err != nil {
			return nil, err
		}
		if patch == nil || patch.Empty() {
			return current, nil
		}
		patch.Set(storage.FieldUpdatedAt, c.clock.Now())

		if err := checkResult(current, patch); err != nil {
			c.logger.Error("transition would break session invariants",
				slog.String("session_id", string(id)),
				slog.String("error", err.Error()))
			return nil, err
		}

		updated, err := c.store.Update(ctx, id, current.Version, patch)
		if errors.Is(err, model.ErrVersionConflict) {
			c.logger.Debug("version conflict, retrying",
				slog.String("session_id", string(id)),
				slog.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, model.Transient(err)
		}
		return updated, nil
	}

	c.logger.Warn("gave up after repeated version conflicts",
		slog.String("session_id", string(id)),
		slog.Int("attempts", c.cfg.MaxUpdateAttempts))
	return nil, model.ErrVersionConflict
}

// checkResult applies patch to a copy of current and verifies the outcome
func checkResult(current *model.Session, patch *storage.Patch) error {
	rec, err := storage.EncodeSession(current)
	if err != nil {
		return err
	}
	next, err := rec.Apply(patch, current.Version+1)
	if err != nil {
		return err
	}
	result, err := storage.DecodeSession(next)
	if err != nil {
		return err
	}
	return result.CheckInvariants()
}

func (c *Controller) allocateJoinCode(ctx context.Context) (model.JoinCode, error) {
	for range maxJoinCodeAttempts {
		code := model.JoinCode(c.random.String(model.JoinCodeLength, model.JoinCodeAlphabet))
		_, err := c.store.FindByJoinCode(ctx, code)
		if errors.Is(err, model.ErrSessionNotFound) {
			return code, nil
		}
		if err != nil {
			return "", model.Transient(err)
		}
	}
	return "", fmt.Errorf("no free join code after %d attempts: %w", maxJoinCodeAttempts, model.ErrConflict)
}

func (c *Controller) resolveCategory(opts StartOptions) (model.Category, error) {
	switch {
	case opts.Category != nil:
		return category.Validate(*opts.Category)
	case strings.TrimSpace(opts.CategoryName) != "":
		return c.categories.Lookup(opts.CategoryName)
	default:
		return c.categories.PickRandomDefault(), nil
	}
}

func normalizeDisplayName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", model.ErrInvalidDisplayName
	}
	if len([]rune(name)) > MaxDisplayNameLength {
		return "", fmt.Errorf("display name longer than %d characters: %w", MaxDisplayNameLength, model.ErrInvalid)
	}
	return name, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Interface for dependency injection
type ControllerInterface interface {
	Create(ctx context.Context, displayName string) (*model.Session, model.ParticipantID, error)
	Join(ctx context.Context, joinCode string, displayName string) (*model.Session, model.ParticipantID, error)
	Get(ctx context.Context, id model.SessionID) (*model.Session, error)
	Authenticate(ctx context.Context, id model.SessionID, token model.ParticipantToken) (model.ParticipantID, error)
	FindByJoinCode(ctx context.Context, joinCode string) (*model.Session, error)
	Start(ctx context.Context, id model.SessionID, caller model.ParticipantID, opts StartOptions) (*model.Session, error)
	Restart(ctx context.Context, id model.SessionID, caller model.ParticipantID) (*model.Session, error)
	Leave(ctx context.Context, id model.SessionID, participantID model.ParticipantID) error
	Kick(ctx context.Context, id model.SessionID, caller model.ParticipantID, target model.ParticipantID) (*model.Session, error)
	SetReady(ctx context.Context, id model.SessionID, participantID model.ParticipantID, ready bool) (*model.Session, error)
	Subscribe(ctx context.Context, id model.SessionID, observer storage.Observer) (func(), error)
}

var _ ControllerInterface = (*Controller)(nil)
