package sessionclient

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/outlier/internal/dependencies/mocks"
	"github.com/mcoot/outlier/internal/dependencies/random"
	"github.com/mcoot/outlier/internal/localstate"
	"github.com/mcoot/outlier/internal/model"
	"github.com/mcoot/outlier/internal/services/category"
	"github.com/mcoot/outlier/internal/services/session"
	"github.com/mcoot/outlier/internal/storage"
	"github.com/mcoot/outlier/internal/storage/memory"
	"github.com/mcoot/outlier/internal/testutil"
)

// failingLeave makes every remote leave fail
type failingLeave struct {
	Backend
}

func (f failingLeave) Leave(ctx context.Context, caller model.Credentials) error {
	return errors.New("network unreachable")
}

// droppingBackend lets tests end subscriptions as if the connection had
// dropped
type droppingBackend struct {
	Backend
	mu   sync.Mutex
	ends []func(error)
}

func (d *droppingBackend) Subscribe(ctx context.Context, caller model.Credentials, observer storage.Observer, ended func(error)) (func(), error) {
	unsubscribe, err := d.Backend.Subscribe(ctx, caller, observer, nil)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.ends = append(d.ends, ended)
	d.mu.Unlock()
	return unsubscribe, nil
}

func (d *droppingBackend) subscriptions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ends)
}

// drop ends the nth subscription
func (d *droppingBackend) drop(n int, err error) {
	d.mu.Lock()
	ended := d.ends[n]
	d.mu.Unlock()
	ended(err)
}

type player struct {
	client  *Client
	state   *localstate.Store
	path    string
	updates chan Update
}

type ClientSuite struct {
	suite.Suite
	clock      *mocks.MockClock
	controller *session.Controller
	backend    *Local
	ctx        context.Context
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	logger := testutil.NopLogger()
	rng := random.New()
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.controller = session.NewController(memory.New(), category.New(rng, nil, logger), s.clock, rng, logger, session.DefaultConfig())
	s.backend = NewLocal(s.controller)
	s.ctx = context.Background()
}

func (s *ClientSuite) newPlayer(backend Backend) *player {
	path := filepath.Join(s.T().TempDir(), "state.db")
	state, err := localstate.Open(path)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = state.Close() })

	p := &player{state: state, path: path, updates: make(chan Update, 64)}
	p.client = New(backend, state, s.clock, testutil.NopLogger(), func(u Update) { p.updates <- u })
	s.T().Cleanup(p.client.Close)
	return p
}

// restart simulates the process exiting and starting again on the same
// state file
func (s *ClientSuite) restart(p *player, backend Backend) *player {
	p.client.Close()
	p.client = New(backend, p.state, s.clock, testutil.NopLogger(), func(u Update) { p.updates <- u })
	s.T().Cleanup(p.client.Close)
	return p
}

func (s *ClientSuite) waitFor(p *player, match func(Update) bool) Update {
	s.T().Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u := <-p.updates:
			if match(u) {
				return u
			}
		case <-deadline:
			s.FailNow("timed out waiting for update")
			return Update{}
		}
	}
}

func (s *ClientSuite) participantCount(id model.SessionID) int {
	current, err := s.controller.Get(s.ctx, id)
	s.Require().NoError(err)
	return len(current.Participants)
}

func (s *ClientSuite) TestCreatePersistsIdentityAndSubscribes() {
	host := s.newPlayer(s.backend)

	created, err := host.client.Create(s.ctx, "Alice")
	s.Require().NoError(err)

	creds, ok := host.client.Identity()
	s.Require().True(ok)
	s.Equal(created.ID, creds.SessionID)

	saved, ok, err := host.state.LoadCredentials(s.ctx)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(creds, saved)

	u := s.waitFor(host, func(u Update) bool { return u.Self != nil })
	s.True(u.Self.IsHost)
	s.Equal(creds.ParticipantID, u.Self.ID)
}

func (s *ClientSuite) TestJoinReceivesLaterUpdates() {
	host := s.newPlayer(s.backend)
	created, err := host.client.Create(s.ctx, "Alice")
	s.Require().NoError(err)

	guest := s.newPlayer(s.backend)
	_, err = guest.client.Join(s.ctx, string(created.JoinCode), "Bob")
	s.Require().NoError(err)

	_, err = host.client.StartRound(s.ctx, session.StartOptions{CategoryName: "Animals"})
	s.Require().NoError(err)

	u := s.waitFor(guest, func(u Update) bool { return u.Session.Status == model.SessionStatusPlaying })
	s.True(u.Self.IsReady)
	s.Equal(model.SessionStatusPlaying, guest.client.Snapshot().Status)
}

func (s *ClientSuite) TestResumeReattaches() {
	host := s.newPlayer(s.backend)
	created, err := host.client.Create(s.ctx, "Alice")
	s.Require().NoError(err)
	creds, _ := host.client.Identity()

	s.restart(host, s.backend)
	_, ok := host.client.Identity()
	s.False(ok)

	s.Require().NoError(host.client.Resume(s.ctx))
	resumed, ok := host.client.Identity()
	s.Require().True(ok)
	s.Equal(creds, resumed)

	_, _, err = s.controller.Join(s.ctx, string(created.JoinCode), "Bob")
	s.Require().NoError(err)
	s.waitFor(host, func(u Update) bool { return len(u.Session.Participants) == 2 })
}

func (s *ClientSuite) TestResumeDropsCredentialsWhenKicked() {
	host := s.newPlayer(s.backend)
	created, err := host.client.Create(s.ctx, "Alice")
	s.Require().NoError(err)

	guest := s.newPlayer(s.backend)
	_, err = guest.client.Join(s.ctx, string(created.JoinCode), "Bob")
	s.Require().NoError(err)
	guestCreds, _ := guest.client.Identity()
	guest.client.Close()

	_, err = host.client.Kick(s.ctx, guestCreds.ParticipantID)
	s.Require().NoError(err)

	s.restart(guest, s.backend)
	s.Require().NoError(guest.client.Resume(s.ctx))

	_, ok := guest.client.Identity()
	s.False(ok)
	_, ok, err = guest.state.LoadCredentials(s.ctx)
	s.Require().NoError(err)
	s.False(ok)
}

func (s *ClientSuite) TestResumeDropsCredentialsForMissingSession() {
	p := s.newPlayer(s.backend)
	s.Require().NoError(p.state.SaveCredentials(s.ctx, localstate.Credentials{
		SessionID:     "gone",
		ParticipantID: "p-1",
		Token:         "secret",
	}))

	s.Require().NoError(p.client.Resume(s.ctx))

	_, ok, err := p.state.LoadCredentials(s.ctx)
	s.Require().NoError(err)
	s.False(ok)
}

func (s *ClientSuite) TestResumeReplaysFreshPendingLeave() {
	host := s.newPlayer(s.backend)
	created, err := host.client.Create(s.ctx, "Alice")
	s.Require().NoError(err)

	joined, guestID, err := s.controller.Join(s.ctx, string(created.JoinCode), "Bob")
	s.Require().NoError(err)
	guestToken := joined.Participant(guestID).Token

	guest := s.newPlayer(s.backend)
	s.Require().NoError(guest.state.SavePendingLeave(s.ctx, localstate.PendingLeave{
		SessionID:     created.ID,
		ParticipantID: guestID,
		Token:         guestToken,
		RecordedAt:    s.clock.Now().Add(-10 * time.Minute),
	}))

	s.Require().NoError(guest.client.Resume(s.ctx))

	s.Equal(1, s.participantCount(created.ID))
	_, ok, err := guest.state.LoadPendingLeave(s.ctx)
	s.Require().NoError(err)
	s.False(ok)
}

func (s *ClientSuite) TestResumeDiscardsStalePendingLeave() {
	host := s.newPlayer(s.backend)
	created, err := host.client.Create(s.ctx, "Alice")
	s.Require().NoError(err)

	joined, guestID, err := s.controller.Join(s.ctx, string(created.JoinCode), "Bob")
	s.Require().NoError(err)
	guestToken := joined.Participant(guestID).Token

	guest := s.newPlayer(s.backend)
	s.Require().NoError(guest.state.SavePendingLeave(s.ctx, localstate.PendingLeave{
		SessionID:     created.ID,
		ParticipantID: guestID,
		Token:         guestToken,
		RecordedAt:    s.clock.Now().Add(-2 * time.Hour),
	}))

	s.Require().NoError(guest.client.Resume(s.ctx))

	s.Equal(2, s.participantCount(created.ID))
	_, ok, err := guest.state.LoadPendingLeave(s.ctx)
	s.Require().NoError(err)
	s.False(ok)
}

func (s *ClientSuite) TestResumeLogsFailedPendingLeave() {
	host := s.newPlayer(s.backend)
	created, err := host.client.Create(s.ctx, "Alice")
	s.Require().NoError(err)
	joined, guestID, err := s.controller.Join(s.ctx, string(created.JoinCode), "Bob")
	s.Require().NoError(err)
	guestToken := joined.Participant(guestID).Token

	path := filepath.Join(s.T().TempDir(), "state.db")
	state, err := localstate.Open(path)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = state.Close() })
	s.Require().NoError(state.SavePendingLeave(s.ctx, localstate.PendingLeave{
		SessionID:     created.ID,
		ParticipantID: guestID,
		Token:         guestToken,
		RecordedAt:    s.clock.Now(),
	}))

	logger, logs := testutil.BufferLogger()
	guest := New(failingLeave{s.backend}, state, s.clock, logger, func(Update) {})
	s.T().Cleanup(guest.Close)

	s.Require().NoError(guest.Resume(s.ctx))

	s.Contains(logs.String(), "replaying pending leave failed")
	s.Contains(logs.String(), "network unreachable")
	s.Equal(2, s.participantCount(created.ID))
	_, ok, err := state.LoadPendingLeave(s.ctx)
	s.Require().NoError(err)
	s.False(ok)
}

func (s *ClientSuite) TestLeaveClearsIdentityAndMarker() {
	host := s.newPlayer(s.backend)
	created, err := host.client.Create(s.ctx, "Alice")
	s.Require().NoError(err)

	s.Require().NoError(host.client.Leave(s.ctx))

	_, ok := host.client.Identity()
	s.False(ok)
	_, ok, _ = host.state.LoadCredentials(s.ctx)
	s.False(ok)
	_, ok, _ = host.state.LoadPendingLeave(s.ctx)
	s.False(ok)

	ended, err := s.controller.Get(s.ctx, created.ID)
	s.Require().NoError(err)
	s.Equal(model.SessionStatusEnded, ended.Status)
}

func (s *ClientSuite) TestInterruptedLeaveIsReplayed() {
	host := s.newPlayer(s.backend)
	created, err := host.client.Create(s.ctx, "Alice")
	s.Require().NoError(err)
	_, _, err = s.controller.Join(s.ctx, string(created.JoinCode), "Bob")
	s.Require().NoError(err)

	s.restart(host, failingLeave{s.backend})
	s.Require().NoError(host.client.Resume(s.ctx))
	err = host.client.Leave(s.ctx)
	s.Error(err)

	_, ok, _ := host.state.LoadPendingLeave(s.ctx)
	s.True(ok)
	_, ok, _ = host.state.LoadCredentials(s.ctx)
	s.False(ok)
	s.Equal(2, s.participantCount(created.ID))

	s.restart(host, s.backend)
	s.Require().NoError(host.client.Resume(s.ctx))
	s.Equal(1, s.participantCount(created.ID))
}

func (s *ClientSuite) TestObservedRemovalDropsIdentity() {
	host := s.newPlayer(s.backend)
	created, err := host.client.Create(s.ctx, "Alice")
	s.Require().NoError(err)

	guest := s.newPlayer(s.backend)
	_, err = guest.client.Join(s.ctx, string(created.JoinCode), "Bob")
	s.Require().NoError(err)
	guestCreds, _ := guest.client.Identity()

	_, err = host.client.Kick(s.ctx, guestCreds.ParticipantID)
	s.Require().NoError(err)

	u := s.waitFor(guest, func(u Update) bool { return u.Removed })
	s.Nil(u.Self)

	_, ok := guest.client.Identity()
	s.False(ok)
	s.Nil(guest.client.Snapshot())
	s.Eventually(func() bool {
		_, ok, err := guest.state.LoadCredentials(s.ctx)
		return err == nil && !ok
	}, time.Second, 10*time.Millisecond)
}

func (s *ClientSuite) TestSwitchingSessionsIgnoresOldUpdates() {
	p := s.newPlayer(s.backend)
	first, err := p.client.Create(s.ctx, "Alice")
	s.Require().NoError(err)
	_, _, err = s.controller.Join(s.ctx, string(first.JoinCode), "Bob")
	s.Require().NoError(err)

	other, _, err := s.controller.Create(s.ctx, "Carol")
	s.Require().NoError(err)
	_, err = p.client.Join(s.ctx, string(other.JoinCode), "Alice")
	s.Require().NoError(err)
	s.waitFor(p, func(u Update) bool { return u.Session.ID == other.ID })

	// The first session lives on without us
	s.Equal(1, s.participantCount(first.ID))
	_, _, err = s.controller.Join(s.ctx, string(first.JoinCode), "Dave")
	s.Require().NoError(err)

	select {
	case u := <-p.updates:
		s.NotEqual(first.ID, u.Session.ID)
	case <-time.After(100 * time.Millisecond):
	}
}

func (s *ClientSuite) TestActionsRequireIdentity() {
	p := s.newPlayer(s.backend)

	_, err := p.client.StartRound(s.ctx, session.StartOptions{})
	s.ErrorIs(err, ErrNoActiveSession)
	_, err = p.client.Restart(s.ctx)
	s.ErrorIs(err, ErrNoActiveSession)
	_, err = p.client.Kick(s.ctx, "p-2")
	s.ErrorIs(err, ErrNoActiveSession)
	_, err = p.client.SetReady(s.ctx, true)
	s.ErrorIs(err, ErrNoActiveSession)
	s.ErrorIs(p.client.Leave(s.ctx), ErrNoActiveSession)
}

func (s *ClientSuite) TestSetReadyActsAsSelf() {
	host := s.newPlayer(s.backend)
	_, err := host.client.Create(s.ctx, "Alice")
	s.Require().NoError(err)

	updated, err := host.client.SetReady(s.ctx, true)
	s.Require().NoError(err)
	creds, _ := host.client.Identity()
	s.True(updated.Participant(creds.ParticipantID).IsReady)
}

func (s *ClientSuite) TestPublicIDDoesNotAuthenticate() {
	host := s.newPlayer(s.backend)
	created, err := host.client.Create(s.ctx, "Alice")
	s.Require().NoError(err)
	hostCreds, _ := host.client.Identity()
	s.NotEmpty(hostCreds.Token)

	forged := hostCreds
	forged.Token = model.ParticipantToken(hostCreds.ParticipantID)
	_, err = s.backend.Restart(s.ctx, forged)
	s.ErrorIs(err, model.ErrInvalidCredentials)
	s.ErrorIs(err, model.ErrUnauthorized)

	// A leave with a token that matches nobody changes nothing
	s.Require().NoError(s.backend.Leave(s.ctx, forged))
	s.Equal(1, s.participantCount(created.ID))
}

func (s *ClientSuite) TestDroppedStreamReconnects() {
	backend := &droppingBackend{Backend: s.backend}
	path := filepath.Join(s.T().TempDir(), "state.db")
	state, err := localstate.Open(path)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = state.Close() })

	logger, logs := testutil.BufferLogger()
	p := &player{state: state, path: path, updates: make(chan Update, 64)}
	p.client = New(backend, state, s.clock, logger, func(u Update) { p.updates <- u })
	s.T().Cleanup(p.client.Close)

	created, err := p.client.Create(s.ctx, "Alice")
	s.Require().NoError(err)
	s.waitFor(p, func(u Update) bool { return u.Self != nil })
	s.Require().Equal(1, backend.subscriptions())

	backend.drop(0, errors.New("connection reset"))
	s.Eventually(func() bool { return backend.subscriptions() == 2 }, 2*time.Second, 10*time.Millisecond)

	// Updates made by others keep arriving on the new subscription
	_, _, err = s.controller.Join(s.ctx, string(created.JoinCode), "Bob")
	s.Require().NoError(err)
	s.waitFor(p, func(u Update) bool { return len(u.Session.Participants) == 2 })

	s.Eventually(func() bool {
		return strings.Contains(logs.String(), "reconnected to session")
	}, 2*time.Second, 10*time.Millisecond)
	s.Contains(logs.String(), "session stream ended, reconnecting")
	s.Contains(logs.String(), "connection reset")

	// An end reported by a replaced subscription is ignored
	backend.drop(0, errors.New("late"))
	time.Sleep(50 * time.Millisecond)
	s.Equal(2, backend.subscriptions())
	_, ok := p.client.Identity()
	s.True(ok)
}

func (s *ClientSuite) TestDroppedStreamNoticesRemoval() {
	backend := &droppingBackend{Backend: s.backend}
	host := s.newPlayer(s.backend)
	created, err := host.client.Create(s.ctx, "Alice")
	s.Require().NoError(err)

	guest := s.newPlayer(backend)
	_, err = guest.client.Join(s.ctx, string(created.JoinCode), "Bob")
	s.Require().NoError(err)
	guestCreds, _ := guest.client.Identity()
	s.waitFor(guest, func(u Update) bool { return u.Self != nil })

	// Kicked while the stream is down
	guest.client.mu.Lock()
	stop := guest.client.takeSubscriptionLocked()
	guest.client.mu.Unlock()
	stop()
	_, err = host.client.Kick(s.ctx, guestCreds.ParticipantID)
	s.Require().NoError(err)

	backend.drop(0, errors.New("connection reset"))
	s.waitFor(guest, func(u Update) bool { return u.Removed })
	_, ok := guest.client.Identity()
	s.False(ok)
	s.Equal(1, backend.subscriptions())
}

func TestReconnectDelay(t *testing.T) {
	want := []time.Duration{0, time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second, 30 * time.Second}
	for attempt, d := range want {
		if got := reconnectDelay(attempt); got != d {
			t.Errorf("reconnectDelay(%d) = %v, want %v", attempt, got, d)
		}
	}
}
