package storage

import (
	"context"

	"github.com/mcoot/outlier/internal/model"
)

// AnyVersion passed as the expected version makes Update unconditional
// (last write wins).
const AnyVersion uint64 = 0

// Store defines the interface for session persistence
type Store interface {
	// Create stores a new session with version 1.
	// Fails with model.ErrSessionExists if the ID is taken.
	Create(ctx context.Context, session *model.Session) (*model.Session, error)

	// Get returns the session or model.ErrSessionNotFound
	Get(ctx context.Context, id model.SessionID) (*model.Session, error)

	// FindByJoinCode returns the earliest created session with the code,
	// or model.ErrSessionNotFound
	FindByJoinCode(ctx context.Context, code model.JoinCode) (*model.Session, error)

	// Update merges patch into the stored record and bumps its version.
	// Unless expectedVersion is AnyVersion, a stored version that differs
	// fails with model.ErrVersionConflict and writes nothing.
	Update(ctx context.Context, id model.SessionID, expectedVersion uint64, patch *Patch) (*model.Session, error)

	// Subscribe calls observer with the current record (if it exists) and
	// again after every successful update. The returned function
	// unsubscribes and is safe to call more than once.
	Subscribe(ctx context.Context, id model.SessionID, observer Observer) (func(), error)

	// Close releases backend resources
	Close() error
}
