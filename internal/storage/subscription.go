package storage

import (
	"sync"

	"github.com/mcoot/outlier/internal/model"
)

// Observer receives the full session record on every change
type Observer func(session *model.Session)

// Subscription delivers snapshots to one observer on its own goroutine,
// serially and in version order. Snapshots at or below the last delivered
// version are dropped.
type Subscription struct {
	observer Observer
	onClose  func()

	mu      sync.Mutex
	pending []*model.Session
	last    uint64

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// NewSubscription starts a delivery goroutine for observer. onClose, if
// set, runs once when the subscription is cancelled.
func NewSubscription(observer Observer, onClose func()) *Subscription {
	sub := &Subscription{
		observer: observer,
		onClose:  onClose,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go sub.run()
	return sub
}

// Deliver queues a snapshot for the observer without blocking
func (s *Subscription) Deliver(session *model.Session) {
	s.mu.Lock()
	if session.Version <= s.last {
		s.mu.Unlock()
		return
	}
	s.last = session.Version
	s.pending = append(s.pending, session.Clone())
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Unsubscribe stops delivery. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		if s.onClose != nil {
			s.onClose()
		}
	})
}

// Done is closed once the subscription is cancelled
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if len(s.pending) == 0 {
				s.mu.Unlock()
				break
			}
			next := s.pending[0]
			s.pending = s.pending[1:]
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			s.observer(next)
		}
	}
}

// Broker fans out published snapshots to in-process subscriptions, keyed
// by session ID. Backends without a native push channel use it.
type Broker struct {
	mu   sync.RWMutex
	subs map[model.SessionID]map[*Subscription]struct{}
}

// NewBroker creates an empty broker
func NewBroker() *Broker {
	return &Broker{
		subs: make(map[model.SessionID]map[*Subscription]struct{}),
	}
}

// Subscribe registers observer for id and queues initial, if non-nil, as
// its first snapshot.
func (b *Broker) Subscribe(id model.SessionID, observer Observer, initial *model.Session) *Subscription {
	var sub *Subscription
	sub = NewSubscription(observer, func() { b.remove(id, sub) })

	b.mu.Lock()
	if b.subs[id] == nil {
		b.subs[id] = make(map[*Subscription]struct{})
	}
	b.subs[id][sub] = struct{}{}
	b.mu.Unlock()

	if initial != nil {
		sub.Deliver(initial)
	}
	return sub
}

// Publish delivers a snapshot to every subscription for its session
func (b *Broker) Publish(session *model.Session) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[session.ID] {
		sub.Deliver(session)
	}
}

// SubscriberCount returns the number of live subscriptions for id
func (b *Broker) SubscriberCount(id model.SessionID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[id])
}

func (b *Broker) remove(id model.SessionID, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[id], sub)
	if len(b.subs[id]) == 0 {
		delete(b.subs, id)
	}
}
