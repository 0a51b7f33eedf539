package memory

import (
	"context"
	"errors"
	"maps"
	"sync"

	"github.com/mcoot/outlier/internal/model"
	"github.com/mcoot/outlier/internal/storage"
)

// Storage is an in-memory implementation of the storage interface
type Storage struct {
	mu sync.RWMutex

	records       map[model.SessionID]storage.Record
	joinCodeIndex map[model.JoinCode]model.SessionID
	broker        *storage.Broker
}

// New creates a new in-memory storage instance
func New() *Storage {
	return &Storage{
		records:       make(map[model.SessionID]storage.Record),
		joinCodeIndex: make(map[model.JoinCode]model.SessionID),
		broker:        storage.NewBroker(),
	}
}

// Ensure Storage implements the interface
var _ storage.Store = (*Storage)(nil)

func (s *Storage) Create(ctx context.Context, session *model.Session) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[session.ID]; exists {
		return nil, model.ErrSessionExists
	}

	stored := session.Clone()
	stored.Version = 1
	rec, err := storage.EncodeSession(stored)
	if err != nil {
		return nil, err
	}

	s.records[session.ID] = rec
	// First session to claim a code keeps it
	if _, taken := s.joinCodeIndex[session.JoinCode]; !taken {
		s.joinCodeIndex[session.JoinCode] = session.ID
	}

	s.broker.Publish(stored)
	return stored.Clone(), nil
}

func (s *Storage) Get(ctx context.Context, id model.SessionID) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(id)
}

func (s *Storage) FindByJoinCode(ctx context.Context, code model.JoinCode) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.joinCodeIndex[code]
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	return s.get(id)
}

func (s *Storage) Update(ctx context.Context, id model.SessionID, expectedVersion uint64, patch *storage.Patch) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, model.ErrSessionNotFound
	}

	current, err := rec.Version()
	if err != nil {
		return nil, err
	}
	if expectedVersion != storage.AnyVersion && expectedVersion != current {
		return nil, model.ErrVersionConflict
	}

	next, err := rec.Apply(patch, current+1)
	if err != nil {
		return nil, err
	}
	updated, err := storage.DecodeSession(next)
	if err != nil {
		return nil, err
	}

	s.records[id] = next
	s.broker.Publish(updated)
	return updated, nil
}

func (s *Storage) Subscribe(ctx context.Context, id model.SessionID, observer storage.Observer) (func(), error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Registering under the read lock orders the initial snapshot before
	// any update that follows it
	initial, err := s.get(id)
	if err != nil && !errors.Is(err, model.ErrSessionNotFound) {
		return nil, err
	}

	sub := s.broker.Subscribe(id, observer, initial)
	return sub.Unsubscribe, nil
}

// Record returns a copy of the raw stored record, for inspecting which
// fields are set
func (s *Storage) Record(id model.SessionID) (storage.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return maps.Clone(rec), ok
}

// SubscriberCount returns the number of live subscriptions for a session
func (s *Storage) SubscriberCount(id model.SessionID) int {
	return s.broker.SubscriberCount(id)
}

// Close is a no-op for in-memory storage
func (s *Storage) Close() error {
	return nil
}

func (s *Storage) get(id model.SessionID) (*model.Session, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	return storage.DecodeSession(rec)
}
