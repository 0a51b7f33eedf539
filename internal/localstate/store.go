// Package localstate persists a client's session identity across restarts.
package localstate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/mcoot/outlier/internal/model"
)

const (
	clientBucket = "client"

	credentialsKey  = "credentials"
	pendingLeaveKey = "pending_leave"
)

// Credentials identify the local participant in a session. The token is
// the only secret in the file, which is created owner-only.
type Credentials = model.Credentials

// PendingLeave records a leave that was started but may not have reached
// the server
type PendingLeave struct {
	SessionID     model.SessionID        `json:"sessionId"`
	ParticipantID model.ParticipantID    `json:"participantId"`
	Token         model.ParticipantToken `json:"token"`
	RecordedAt    time.Time              `json:"recordedAt"`
}

// Credentials returns the identity the leave is made as
func (p PendingLeave) Credentials() Credentials {
	return Credentials{SessionID: p.SessionID, ParticipantID: p.ParticipantID, Token: p.Token}
}

// Store is a bbolt-backed store for client state
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if needed) the state file at path
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("state path is required")
	}

	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(clientBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create client bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LoadCredentials returns the saved credentials, if any
func (s *Store) LoadCredentials(ctx context.Context) (Credentials, bool, error) {
	var creds Credentials
	ok, err := s.get(ctx, credentialsKey, &creds)
	return creds, ok, err
}

// SaveCredentials replaces the saved credentials
func (s *Store) SaveCredentials(ctx context.Context, creds Credentials) error {
	return s.put(ctx, credentialsKey, creds)
}

// ClearCredentials removes the saved credentials
func (s *Store) ClearCredentials(ctx context.Context) error {
	return s.delete(ctx, credentialsKey)
}

// LoadPendingLeave returns the pending leave marker, if any
func (s *Store) LoadPendingLeave(ctx context.Context) (PendingLeave, bool, error) {
	var pending PendingLeave
	ok, err := s.get(ctx, pendingLeaveKey, &pending)
	return pending, ok, err
}

// SavePendingLeave writes the pending leave marker
func (s *Store) SavePendingLeave(ctx context.Context, pending PendingLeave) error {
	return s.put(ctx, pendingLeaveKey, pending)
}

// ClearPendingLeave removes the pending leave marker
func (s *Store) ClearPendingLeave(ctx context.Context) error {
	return s.delete(ctx, pendingLeaveKey)
}

func (s *Store) get(ctx context.Context, key string, out any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		payload := tx.Bucket([]byte(clientBucket)).Get([]byte(key))
		if payload == nil {
			return nil
		}
		found = true
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("unmarshal %s: %w", key, err)
		}
		return nil
	})
	return found, err
}

func (s *Store) put(ctx context.Context, key string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(clientBucket)).Put([]byte(key), payload)
	})
}

func (s *Store) delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(clientBucket)).Delete([]byte(key))
	})
}
