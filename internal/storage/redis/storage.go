package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/outlier/internal/model"
	"github.com/mcoot/outlier/internal/storage"
)

// Storage is a Redis-backed implementation of the storage interface.
// Each session is a HASH with one JSON value per field, so unsetting a
// field deletes it from the hash.
type Storage struct {
	client *redis.Client
	cfg    Config
}

// New creates a new Redis storage instance
func New(cfg Config) (*Storage, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &Storage{
		client: client,
		cfg:    cfg,
	}, nil
}

// NewWithClient creates a Redis storage with an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config) *Storage {
	return &Storage{
		client: client,
		cfg:    cfg,
	}
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ensure Storage implements the interface
var _ storage.Store = (*Storage)(nil)

func (s *Storage) Create(ctx context.Context, session *model.Session) (*model.Session, error) {
	stored := session.Clone()
	stored.Version = 1
	rec, err := storage.EncodeSession(stored)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}

	key := sessionKey(session.ID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return model.ErrSessionExists
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, hashArgs(rec))
			s.expire(ctx, pipe, key)
			// First session to claim a code keeps it
			pipe.SetNX(ctx, joinCodeIndexKey(session.JoinCode), string(session.ID), s.cfg.SessionTTL)
			pipe.Publish(ctx, changesChannel(session.ID), payload)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, model.ErrSessionExists
	}
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *Storage) Get(ctx context.Context, id model.SessionID) (*model.Session, error) {
	vals, err := s.client.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, model.ErrSessionNotFound
	}
	return storage.DecodeSession(storage.Record(vals))
}

func (s *Storage) FindByJoinCode(ctx context.Context, code model.JoinCode) (*model.Session, error) {
	id, err := s.client.Get(ctx, joinCodeIndexKey(code)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, model.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, model.SessionID(id))
}

func (s *Storage) Update(ctx context.Context, id model.SessionID, expectedVersion uint64, patch *storage.Patch) (*model.Session, error) {
	key := sessionKey(id)

	var updated *model.Session
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(vals) == 0 {
			return model.ErrSessionNotFound
		}

		rec := storage.Record(vals)
		current, err := rec.Version()
		if err != nil {
			return err
		}
		if expectedVersion != storage.AnyVersion && expectedVersion != current {
			return model.ErrVersionConflict
		}

		next, err := rec.Apply(patch, current+1)
		if err != nil {
			return err
		}
		updated, err = storage.DecodeSession(next)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(next)
		if err != nil {
			return err
		}

		// The code index lives as long as the session that owns it
		indexKey := joinCodeIndexKey(updated.JoinCode)
		if err := tx.Watch(ctx, indexKey).Err(); err != nil {
			return err
		}
		owner, err := tx.Get(ctx, indexKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		changed, removed := rec.Diff(next)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, hashArgs(changed))
			if len(removed) > 0 {
				pipe.HDel(ctx, key, removed...)
			}
			s.expire(ctx, pipe, key)
			if owner == string(id) {
				s.expire(ctx, pipe, indexKey)
			}
			pipe.Publish(ctx, changesChannel(id), payload)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		// Another writer touched the hash between WATCH and EXEC
		return nil, model.ErrVersionConflict
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Storage) Subscribe(ctx context.Context, id model.SessionID, observer storage.Observer) (func(), error) {
	pubsub := s.client.Subscribe(ctx, changesChannel(id))
	// Wait for the subscription to be confirmed so no publish after the
	// initial read is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	sub := storage.NewSubscription(observer, func() { _ = pubsub.Close() })

	initial, err := s.Get(ctx, id)
	switch {
	case err == nil:
		sub.Deliver(initial)
	case errors.Is(err, model.ErrSessionNotFound):
	default:
		sub.Unsubscribe()
		return nil, err
	}

	go forward(pubsub.Channel(), sub)
	return sub.Unsubscribe, nil
}

// forward decodes published records into the subscription until either
// side closes
func forward(ch <-chan *redis.Message, sub *storage.Subscription) {
	for {
		select {
		case <-sub.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var rec storage.Record
			if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
				continue
			}
			session, err := storage.DecodeSession(rec)
			if err != nil {
				continue
			}
			sub.Deliver(session)
		}
	}
}

func (s *Storage) expire(ctx context.Context, pipe redis.Pipeliner, key string) {
	if s.cfg.SessionTTL > 0 {
		pipe.Expire(ctx, key, s.cfg.SessionTTL)
	}
}

func hashArgs(rec map[string]string) map[string]any {
	args := make(map[string]any, len(rec))
	for k, v := range rec {
		args[k] = v
	}
	return args
}
