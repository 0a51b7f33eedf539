package sessionclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mcoot/outlier/internal/dependencies/clock"
	"github.com/mcoot/outlier/internal/localstate"
	"github.com/mcoot/outlier/internal/model"
	"github.com/mcoot/outlier/internal/services/session"
)

const (
	// PendingLeaveMaxAge is how old a pending leave may be and still be replayed
	PendingLeaveMaxAge = time.Hour

	maxReconnectDelay = 30 * time.Second
)

// ErrNoActiveSession is returned by actions that need a current identity
var ErrNoActiveSession = fmt.Errorf("no active session: %w", model.ErrInvalid)

// Update is passed to the OnUpdate callback for every observed change
type Update struct {
	Session *model.Session
	// Self is the local participant's entry, nil when Removed
	Self *model.Participant
	// Removed is set when the local participant is no longer in the
	// session (kicked, or the session is gone)
	Removed bool
}

// Client holds one participant identity and at most one live subscription
type Client struct {
	backend  Backend
	state    *localstate.Store
	clock    clock.Clock
	logger   *slog.Logger
	onUpdate func(Update)

	// ctx lives until Close and bounds reconnect attempts
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	creds       *localstate.Credentials
	latest      *model.Session
	unsubscribe func()
	// generation increases whenever the subscription is replaced, so late
	// callbacks from an old subscription can be told apart
	generation uint64
}

// New creates a client. onUpdate may be nil.
func New(backend Backend, state *localstate.Store, clock clock.Clock, logger *slog.Logger, onUpdate func(Update)) *Client {
	if onUpdate == nil {
		onUpdate = func(Update) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		backend:  backend,
		state:    state,
		clock:    clock,
		logger:   logger.With(slog.String("component", "sessionclient")),
		onUpdate: onUpdate,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Resume replays a recent unfinished leave, then reattaches to the saved
// session if the participant is still in it
func (c *Client) Resume(ctx context.Context) error {
	if err := c.replayPendingLeave(ctx); err != nil {
		return err
	}

	creds, ok, err := c.state.LoadCredentials(ctx)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	if !ok {
		return nil
	}

	current, err := c.backend.Get(ctx, creds)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return err
	}
	if err != nil || current.Participant(creds.ParticipantID) == nil {
		c.logger.Info("saved session no longer includes this participant",
			slog.String("session_id", string(creds.SessionID)),
			slog.String("participant_id", string(creds.ParticipantID)))
		return c.state.ClearCredentials(ctx)
	}

	_, err = c.activate(ctx, creds, current, 0)
	return err
}

func (c *Client) replayPendingLeave(ctx context.Context) error {
	pending, ok, err := c.state.LoadPendingLeave(ctx)
	if err != nil {
		return fmt.Errorf("load pending leave: %w", err)
	}
	if !ok {
		return nil
	}

	logger := c.logger.With(
		slog.String("session_id", string(pending.SessionID)),
		slog.String("participant_id", string(pending.ParticipantID)))
	if age := c.clock.Since(pending.RecordedAt); age < PendingLeaveMaxAge {
		if err := c.backend.Leave(ctx, pending.Credentials()); err != nil {
			logger.Warn("replaying pending leave failed", slog.String("error", err.Error()))
		} else {
			logger.Info("replayed pending leave")
		}
	} else {
		logger.Info("discarding stale pending leave", slog.Duration("age", age))
	}

	return c.state.ClearPendingLeave(ctx)
}

// Create starts a new session hosted by this client
func (c *Client) Create(ctx context.Context, displayName string) (*model.Session, error) {
	c.leaveCurrent(ctx)

	created, creds, err := c.backend.Create(ctx, displayName)
	if err != nil {
		return nil, err
	}
	return created, c.adopt(ctx, created, creds)
}

// Join joins the session with the given code
func (c *Client) Join(ctx context.Context, joinCode string, displayName string) (*model.Session, error) {
	c.leaveCurrent(ctx)

	joined, creds, err := c.backend.Join(ctx, joinCode, displayName)
	if err != nil {
		return nil, err
	}
	return joined, c.adopt(ctx, joined, creds)
}

// Leave leaves the current session. A marker is written first so a leave
// interrupted by the process dying is replayed by the next Resume.
func (c *Client) Leave(ctx context.Context) error {
	creds, ok := c.Identity()
	if !ok {
		return ErrNoActiveSession
	}

	pending := localstate.PendingLeave{
		SessionID:     creds.SessionID,
		ParticipantID: creds.ParticipantID,
		Token:         creds.Token,
		RecordedAt:    c.clock.Now(),
	}
	if err := c.state.SavePendingLeave(ctx, pending); err != nil {
		return fmt.Errorf("save pending leave: %w", err)
	}

	c.detach()
	if err := c.state.ClearCredentials(ctx); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}

	if err := c.backend.Leave(ctx, creds); err != nil {
		return fmt.Errorf("leave session: %w", err)
	}

	c.logger.Info("left session", slog.String("session_id", string(creds.SessionID)))
	return c.state.ClearPendingLeave(ctx)
}

// StartRound starts a round as the current participant
func (c *Client) StartRound(ctx context.Context, opts session.StartOptions) (*model.Session, error) {
	creds, ok := c.Identity()
	if !ok {
		return nil, ErrNoActiveSession
	}
	return c.backend.Start(ctx, creds, opts)
}

// Restart resets the round as the current participant
func (c *Client) Restart(ctx context.Context) (*model.Session, error) {
	creds, ok := c.Identity()
	if !ok {
		return nil, ErrNoActiveSession
	}
	return c.backend.Restart(ctx, creds)
}

// Kick removes target from the current session
func (c *Client) Kick(ctx context.Context, target model.ParticipantID) (*model.Session, error) {
	creds, ok := c.Identity()
	if !ok {
		return nil, ErrNoActiveSession
	}
	return c.backend.Kick(ctx, creds, target)
}

// SetReady sets the current participant's ready flag
func (c *Client) SetReady(ctx context.Context, ready bool) (*model.Session, error) {
	creds, ok := c.Identity()
	if !ok {
		return nil, ErrNoActiveSession
	}
	return c.backend.SetReady(ctx, creds, ready)
}

// Identity returns the current credentials, if any
func (c *Client) Identity() (localstate.Credentials, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.creds == nil {
		return localstate.Credentials{}, false
	}
	return *c.creds, true
}

// Snapshot returns the most recently observed session, or nil
func (c *Client) Snapshot() *model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		return nil
	}
	return c.latest.Clone()
}

// Close stops the subscription and any reconnect in progress. Saved
// credentials are kept for Resume.
func (c *Client) Close() {
	c.cancel()
	c.mu.Lock()
	c.generation++
	stop := c.takeSubscriptionLocked()
	c.mu.Unlock()
	stop()
}

// adopt saves a freshly obtained identity and subscribes to it
func (c *Client) adopt(ctx context.Context, s *model.Session, creds localstate.Credentials) error {
	if err := c.state.SaveCredentials(ctx, creds); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	_, err := c.activate(ctx, creds, s, 0)
	return err
}

// leaveCurrent leaves any active session before taking a new identity
func (c *Client) leaveCurrent(ctx context.Context) {
	if _, ok := c.Identity(); !ok {
		return
	}
	if err := c.Leave(ctx); err != nil {
		c.logger.Warn("leaving previous session failed", slog.String("error", err.Error()))
	}
}

// activate replaces the current subscription with one for creds and
// returns the generation it started. With expect set, nothing happens
// unless expect is still the current generation, and 0 is returned.
func (c *Client) activate(ctx context.Context, creds localstate.Credentials, snapshot *model.Session, expect uint64) (uint64, error) {
	c.mu.Lock()
	if expect != 0 && c.generation != expect {
		c.mu.Unlock()
		return 0, nil
	}
	stop := c.takeSubscriptionLocked()
	c.generation++
	gen := c.generation
	c.creds = &creds
	c.latest = snapshot.Clone()
	c.mu.Unlock()
	stop()

	unsubscribe, err := c.backend.Subscribe(ctx, creds,
		func(s *model.Session) { c.observe(gen, s) },
		func(err error) { c.streamEnded(gen, err) })
	if err != nil {
		return gen, fmt.Errorf("subscribe: %w", err)
	}

	c.mu.Lock()
	if c.generation != gen {
		// Replaced or removed while subscribing
		c.mu.Unlock()
		unsubscribe()
		return gen, nil
	}
	c.unsubscribe = unsubscribe
	c.mu.Unlock()

	c.logger.Info("attached to session",
		slog.String("session_id", string(creds.SessionID)),
		slog.String("participant_id", string(creds.ParticipantID)))
	return gen, nil
}

// streamEnded handles a subscription that stopped without being asked to
func (c *Client) streamEnded(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.generation || c.creds == nil {
		c.mu.Unlock()
		return
	}
	creds := *c.creds
	stop := c.takeSubscriptionLocked()
	c.mu.Unlock()
	stop()

	attrs := []any{slog.String("session_id", string(creds.SessionID))}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
	}
	c.logger.Warn("session stream ended, reconnecting", attrs...)
	go c.reconnect(gen, creds)
}

// reconnect re-reads the session and subscribes again, backing off between
// attempts, until it succeeds or the identity is replaced or closed
func (c *Client) reconnect(gen uint64, creds localstate.Credentials) {
	for attempt := 0; ; attempt++ {
		timer := time.NewTimer(reconnectDelay(attempt))
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		current, err := c.backend.Get(c.ctx, creds)
		if errors.Is(err, model.ErrNotFound) {
			current, err = &model.Session{ID: creds.SessionID}, nil
		}
		if err != nil {
			c.logger.Debug("reconnect attempt failed",
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()))
			continue
		}
		if current.Participant(creds.ParticipantID) == nil {
			// Removed while disconnected
			c.observe(gen, current)
			return
		}

		next, err := c.activate(c.ctx, creds, current, gen)
		if next == 0 {
			return
		}
		if err != nil {
			c.logger.Debug("reconnect attempt failed",
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()))
			gen = next
			continue
		}
		c.logger.Info("reconnected to session", slog.Int("attempts", attempt+1))
		return
	}
}

// reconnectDelay retries at once, then backs off up to maxReconnectDelay
func reconnectDelay(attempt int) time.Duration {
	if attempt == 0 {
		return 0
	}
	return min(time.Duration(1<<min(attempt-1, 5))*time.Second, maxReconnectDelay)
}

func (c *Client) observe(gen uint64, s *model.Session) {
	c.mu.Lock()
	if gen != c.generation || c.creds == nil {
		c.mu.Unlock()
		return
	}

	self := s.Participant(c.creds.ParticipantID)
	if self == nil {
		removed := *c.creds
		c.generation++
		c.creds = nil
		c.latest = nil
		stop := c.takeSubscriptionLocked()
		c.mu.Unlock()
		stop()

		c.logger.Warn("participant no longer in session, dropping credentials",
			slog.String("session_id", string(removed.SessionID)),
			slog.String("participant_id", string(removed.ParticipantID)))
		if err := c.state.ClearCredentials(context.Background()); err != nil {
			c.logger.Error("failed to clear credentials", slog.String("error", err.Error()))
		}
		c.onUpdate(Update{Session: s, Removed: true})
		return
	}

	c.latest = s
	selfCopy := *self
	c.mu.Unlock()
	c.onUpdate(Update{Session: s, Self: &selfCopy})
}

// detach drops the in-memory identity and its subscription
func (c *Client) detach() {
	c.mu.Lock()
	c.generation++
	c.creds = nil
	c.latest = nil
	stop := c.takeSubscriptionLocked()
	c.mu.Unlock()
	stop()
}

func (c *Client) takeSubscriptionLocked() func() {
	stop := c.unsubscribe
	c.unsubscribe = nil
	if stop == nil {
		return func() {}
	}
	return stop
}
