// Package storagetest holds the behavior every storage.Store backend must
// share. Backend packages run StoreSuite from their own tests.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"github.com/mcoot/outlier/internal/model"
	"github.com/mcoot/outlier/internal/storage"
)

// StoreSuite exercises a storage.Store. NewStore is called once per test.
type StoreSuite struct {
	suite.Suite
	NewStore func(t *testing.T) storage.Store

	store storage.Store
	ctx   context.Context
	now   time.Time
}

func (s *StoreSuite) SetupTest() {
	s.store = s.NewStore(s.T())
	s.ctx = context.Background()
	s.now = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

func (s *StoreSuite) TearDownTest() {
	if s.store != nil {
		_ = s.store.Close()
	}
}

// NewSession builds a waiting session with a single host
func NewSession(id model.SessionID, code model.JoinCode, at time.Time) *model.Session {
	return &model.Session{
		ID:       id,
		JoinCode: code,
		Status:   model.SessionStatusWaiting,
		Participants: []model.Participant{
			{ID: "host-1", DisplayName: "Alice", IsHost: true, JoinedAt: at},
		},
		CreatedAt: at,
		UpdatedAt: at,
	}
}

// Create / Get

func (s *StoreSuite) TestCreateAndGet() {
	created, err := s.store.Create(s.ctx, NewSession("sess-1", "ABC123", s.now))
	s.Require().NoError(err)
	s.Equal(uint64(1), created.Version)

	got, err := s.store.Get(s.ctx, "sess-1")
	s.Require().NoError(err)
	s.Equal(model.SessionID("sess-1"), got.ID)
	s.Equal(model.JoinCode("ABC123"), got.JoinCode)
	s.Equal(model.SessionStatusWaiting, got.Status)
	s.Equal(uint64(1), got.Version)
	s.WithinDuration(s.now, got.CreatedAt, time.Second)
	s.Require().Len(got.Participants, 1)
	s.Equal("Alice", got.Participants[0].DisplayName)
	s.True(got.Participants[0].IsHost)
}

func (s *StoreSuite) TestCreateIgnoresCallerVersion() {
	session := NewSession("sess-1", "ABC123", s.now)
	session.Version = 42

	created, err := s.store.Create(s.ctx, session)
	s.Require().NoError(err)
	s.Equal(uint64(1), created.Version)
}

func (s *StoreSuite) TestCreateDuplicate() {
	_, err := s.store.Create(s.ctx, NewSession("sess-1", "ABC123", s.now))
	s.Require().NoError(err)

	_, err = s.store.Create(s.ctx, NewSession("sess-1", "XYZ789", s.now))
	s.ErrorIs(err, model.ErrSessionExists)
	s.ErrorIs(err, model.ErrConflict)
}

func (s *StoreSuite) TestGetNotFound() {
	_, err := s.store.Get(s.ctx, "missing")
	s.ErrorIs(err, model.ErrSessionNotFound)
	s.ErrorIs(err, model.ErrNotFound)
}

// FindByJoinCode

func (s *StoreSuite) TestFindByJoinCode() {
	_, err := s.store.Create(s.ctx, NewSession("sess-1", "ABC123", s.now))
	s.Require().NoError(err)

	found, err := s.store.FindByJoinCode(s.ctx, "ABC123")
	s.Require().NoError(err)
	s.Equal(model.SessionID("sess-1"), found.ID)
}

func (s *StoreSuite) TestFindByJoinCodeNotFound() {
	_, err := s.store.FindByJoinCode(s.ctx, "NOPE00")
	s.ErrorIs(err, model.ErrSessionNotFound)
}

func (s *StoreSuite) TestFindByJoinCodeEarliestWins() {
	_, err := s.store.Create(s.ctx, NewSession("sess-1", "ABC123", s.now))
	s.Require().NoError(err)
	_, err = s.store.Create(s.ctx, NewSession("sess-2", "ABC123", s.now.Add(time.Minute)))
	s.Require().NoError(err)

	found, err := s.store.FindByJoinCode(s.ctx, "ABC123")
	s.Require().NoError(err)
	s.Equal(model.SessionID("sess-1"), found.ID)
}

// Update

func (s *StoreSuite) TestUpdateMergesFields() {
	_, err := s.store.Create(s.ctx, NewSession("sess-1", "ABC123", s.now))
	s.Require().NoError(err)

	participants := []model.Participant{
		{ID: "host-1", DisplayName: "Alice", IsHost: true, JoinedAt: s.now},
		{ID: "p-2", DisplayName: "Bob", JoinedAt: s.now},
	}
	updated, err := s.store.Update(s.ctx, "sess-1", 1,
		storage.NewPatch().Set(storage.FieldParticipants, participants))
	s.Require().NoError(err)
	s.Equal(uint64(2), updated.Version)
	s.Len(updated.Participants, 2)
	// Untouched fields keep their stored value
	s.Equal(model.SessionStatusWaiting, updated.Status)
	s.Equal(model.JoinCode("ABC123"), updated.JoinCode)

	got, err := s.store.Get(s.ctx, "sess-1")
	s.Require().NoError(err)
	s.Equal(uint64(2), got.Version)
	s.Len(got.Participants, 2)
}

func (s *StoreSuite) TestUpdateUnsetsRoundFields() {
	_, err := s.store.Create(s.ctx, NewSession("sess-1", "ABC123", s.now))
	s.Require().NoError(err)

	_, err = s.store.Update(s.ctx, "sess-1", 1, storage.NewPatch().
		Set(storage.FieldStatus, model.SessionStatusPlaying).
		Set(storage.FieldCategoryName, "Animals").
		Set(storage.FieldSecretWord, "Tiger").
		Set(storage.FieldWordBank, []string{"Tiger", "Koala"}).
		Set(storage.FieldOutlierID, "host-1").
		Set(storage.FieldRevealWordBank, true))
	s.Require().NoError(err)

	playing, err := s.store.Get(s.ctx, "sess-1")
	s.Require().NoError(err)
	s.Equal("Tiger", playing.CurrentSecretWord)
	s.Equal(model.ParticipantID("host-1"), playing.OutlierID)
	s.True(playing.RevealWordBank)

	patch := storage.NewPatch().Set(storage.FieldStatus, model.SessionStatusWaiting)
	for _, f := range storage.RoundFields {
		patch.Unset(f)
	}
	waiting, err := s.store.Update(s.ctx, "sess-1", 2, patch)
	s.Require().NoError(err)
	s.Equal(uint64(3), waiting.Version)
	s.Empty(waiting.CurrentCategoryName)
	s.Empty(waiting.CurrentSecretWord)
	s.Empty(waiting.CategoryWordBank)
	s.Empty(waiting.OutlierID)
	s.False(waiting.RevealWordBank)
}

func (s *StoreSuite) TestUpdateVersionConflict() {
	_, err := s.store.Create(s.ctx, NewSession("sess-1", "ABC123", s.now))
	s.Require().NoError(err)

	_, err = s.store.Update(s.ctx, "sess-1", 5,
		storage.NewPatch().Set(storage.FieldStatus, model.SessionStatusEnded))
	s.ErrorIs(err, model.ErrVersionConflict)
	s.ErrorIs(err, model.ErrConflict)

	// Nothing was written
	got, err := s.store.Get(s.ctx, "sess-1")
	s.Require().NoError(err)
	s.Equal(uint64(1), got.Version)
	s.Equal(model.SessionStatusWaiting, got.Status)
}

func (s *StoreSuite) TestUpdateAnyVersion() {
	_, err := s.store.Create(s.ctx, NewSession("sess-1", "ABC123", s.now))
	s.Require().NoError(err)
	_, err = s.store.Update(s.ctx, "sess-1", 1,
		storage.NewPatch().Set(storage.FieldUpdatedAt, s.now.Add(time.Second)))
	s.Require().NoError(err)

	updated, err := s.store.Update(s.ctx, "sess-1", storage.AnyVersion,
		storage.NewPatch().Set(storage.FieldStatus, model.SessionStatusEnded))
	s.Require().NoError(err)
	s.Equal(uint64(3), updated.Version)
	s.Equal(model.SessionStatusEnded, updated.Status)
}

func (s *StoreSuite) TestUpdateNotFound() {
	_, err := s.store.Update(s.ctx, "missing", storage.AnyVersion,
		storage.NewPatch().Set(storage.FieldStatus, model.SessionStatusEnded))
	s.ErrorIs(err, model.ErrSessionNotFound)
}

func (s *StoreSuite) TestConcurrentConditionalUpdates() {
	_, err := s.store.Create(s.ctx, NewSession("sess-1", "ABC123", s.now))
	s.Require().NoError(err)

	const writers = 8
	g, ctx := errgroup.WithContext(s.ctx)
	for i := range writers {
		g.Go(func() error {
			for {
				current, err := s.store.Get(ctx, "sess-1")
				if err != nil {
					return err
				}
				participants := append(current.Participants, model.Participant{
					ID:          model.ParticipantID(fmt.Sprintf("p-%d", i)),
					DisplayName: fmt.Sprintf("Player %d", i),
				})
				_, err = s.store.Update(ctx, "sess-1", current.Version,
					storage.NewPatch().Set(storage.FieldParticipants, participants))
				if errors.Is(err, model.ErrVersionConflict) {
					continue
				}
				return err
			}
		})
	}
	s.Require().NoError(g.Wait())

	got, err := s.store.Get(s.ctx, "sess-1")
	s.Require().NoError(err)
	s.Len(got.Participants, writers+1)
	s.Equal(uint64(writers+1), got.Version)
}

// Subscribe

func (s *StoreSuite) TestSubscribeDeliversInitialAndUpdates() {
	_, err := s.store.Create(s.ctx, NewSession("sess-1", "ABC123", s.now))
	s.Require().NoError(err)

	updates := make(chan *model.Session, 16)
	unsubscribe, err := s.store.Subscribe(s.ctx, "sess-1", func(session *model.Session) {
		updates <- session
	})
	s.Require().NoError(err)
	defer unsubscribe()

	s.Equal(uint64(1), s.next(updates).Version)

	_, err = s.store.Update(s.ctx, "sess-1", 1,
		storage.NewPatch().Set(storage.FieldStatus, model.SessionStatusEnded))
	s.Require().NoError(err)

	got := s.next(updates)
	s.Equal(uint64(2), got.Version)
	s.Equal(model.SessionStatusEnded, got.Status)
}

func (s *StoreSuite) TestSubscribeBeforeCreate() {
	updates := make(chan *model.Session, 16)
	unsubscribe, err := s.store.Subscribe(s.ctx, "sess-1", func(session *model.Session) {
		updates <- session
	})
	s.Require().NoError(err)
	defer unsubscribe()

	_, err = s.store.Create(s.ctx, NewSession("sess-1", "ABC123", s.now))
	s.Require().NoError(err)

	s.Equal(uint64(1), s.next(updates).Version)
}

func (s *StoreSuite) TestSubscribeDeliversInVersionOrder() {
	_, err := s.store.Create(s.ctx, NewSession("sess-1", "ABC123", s.now))
	s.Require().NoError(err)

	updates := make(chan *model.Session, 32)
	unsubscribe, err := s.store.Subscribe(s.ctx, "sess-1", func(session *model.Session) {
		updates <- session
	})
	s.Require().NoError(err)
	defer unsubscribe()

	for i := range 5 {
		_, err := s.store.Update(s.ctx, "sess-1", storage.AnyVersion,
			storage.NewPatch().Set(storage.FieldUpdatedAt, s.now.Add(time.Duration(i)*time.Second)))
		s.Require().NoError(err)
	}

	var last uint64
	for last < 6 {
		got := s.next(updates)
		s.Greater(got.Version, last)
		last = got.Version
	}
}

func (s *StoreSuite) TestUnsubscribeStopsDelivery() {
	_, err := s.store.Create(s.ctx, NewSession("sess-1", "ABC123", s.now))
	s.Require().NoError(err)

	updates := make(chan *model.Session, 16)
	unsubscribe, err := s.store.Subscribe(s.ctx, "sess-1", func(session *model.Session) {
		updates <- session
	})
	s.Require().NoError(err)
	s.next(updates)

	unsubscribe()
	unsubscribe()

	_, err = s.store.Update(s.ctx, "sess-1", 1,
		storage.NewPatch().Set(storage.FieldStatus, model.SessionStatusEnded))
	s.Require().NoError(err)

	select {
	case got := <-updates:
		s.Failf("unexpected delivery", "version %d after unsubscribe", got.Version)
	case <-time.After(100 * time.Millisecond):
	}
}

func (s *StoreSuite) next(updates <-chan *model.Session) *model.Session {
	s.T().Helper()
	select {
	case got := <-updates:
		return got
	case <-time.After(2 * time.Second):
		s.FailNow("timed out waiting for session update")
		return nil
	}
}
