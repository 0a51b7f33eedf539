package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/mcoot/outlier/internal/model"
	"github.com/mcoot/outlier/internal/storage"
	"github.com/mcoot/outlier/internal/storage/sqlite/migrations"
)

// Storage is a SQLite-backed implementation of the storage interface.
// Each row holds the session record as a JSON object of field values;
// subscriptions are served in-process.
type Storage struct {
	db     *sql.DB
	broker *storage.Broker
}

// Open opens and migrates a SQLite session store at path
func Open(ctx context.Context, path string) (*Storage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single connection serializes writers so the version check and the
	// write happen atomically
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Storage{
		db:     db,
		broker: storage.NewBroker(),
	}, nil
}

// Close releases the underlying SQLite connection
func (s *Storage) Close() error {
	return s.db.Close()
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
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, join_code, version, record_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		string(stored.ID), string(stored.JoinCode), 1, string(data),
		stored.CreatedAt.UnixMilli(), stored.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, model.ErrSessionExists
	}

	s.broker.Publish(stored)
	return stored, nil
}

func (s *Storage) Get(ctx context.Context, id model.SessionID) (*model.Session, error) {
	rec, err := s.load(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return storage.DecodeSession(rec)
}

func (s *Storage) FindByJoinCode(ctx context.Context, code model.JoinCode) (*model.Session, error) {
	// rowid order is insertion order, so the first claim wins
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT record_json FROM sessions WHERE join_code = ? ORDER BY rowid LIMIT 1`,
		string(code),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find session by join code: %w", err)
	}

	var rec storage.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode session record: %w", err)
	}
	return storage.DecodeSession(rec)
}

func (s *Storage) Update(ctx context.Context, id model.SessionID, expectedVersion uint64, patch *storage.Patch) (*model.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := s.load(ctx, tx, id)
	if err != nil {
		return nil, err
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
	data, err := json.Marshal(next)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET record_json = ?, version = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		string(data), int64(current+1), updated.UpdatedAt.UnixMilli(),
		string(id), int64(current),
	)
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, model.ErrVersionConflict
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}

	s.broker.Publish(updated)
	return updated, nil
}

func (s *Storage) Subscribe(ctx context.Context, id model.SessionID, observer storage.Observer) (func(), error) {
	// Register before reading so an update racing the read is still
	// delivered; stale snapshots are dropped by version
	sub := s.broker.Subscribe(id, observer, nil)

	initial, err := s.Get(ctx, id)
	switch {
	case err == nil:
		sub.Deliver(initial)
	case errors.Is(err, model.ErrSessionNotFound):
	default:
		sub.Unsubscribe()
		return nil, err
	}
	return sub.Unsubscribe, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Storage) load(ctx context.Context, q queryer, id model.SessionID) (storage.Record, error) {
	var raw string
	err := q.QueryRowContext(ctx,
		`SELECT record_json FROM sessions WHERE id = ?`, string(id),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var rec storage.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode session record: %w", err)
	}
	return rec, nil
}
