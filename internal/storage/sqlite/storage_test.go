package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/outlier/internal/model"
	"github.com/mcoot/outlier/internal/storage"
	"github.com/mcoot/outlier/internal/storage/storagetest"
)

func openTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	return s
}

func TestStoreContract(t *testing.T) {
	suite.Run(t, &storagetest.StoreSuite{
		NewStore: func(t *testing.T) storage.Store { return openTestStorage(t) },
	})
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "  ")
	assert.ErrorContains(t, err, "storage path is required")
}

func TestOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	first, err := Open(ctx, path)
	require.NoError(t, err)
	_, err = first.Create(ctx, storagetest.NewSession("sess-1", "ABC123", now))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(ctx, path)
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	got, err := second.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, model.JoinCode("ABC123"), got.JoinCode)

	var applied int
	require.NoError(t, second.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+migrationTable).Scan(&applied))
	assert.Equal(t, 1, applied)
}

func TestVersionColumnTracksRecord(t *testing.T) {
	ctx := context.Background()
	s := openTestStorage(t)
	defer func() { _ = s.Close() }()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.Create(ctx, storagetest.NewSession("sess-1", "ABC123", now))
	require.NoError(t, err)
	_, err = s.Update(ctx, "sess-1", 1,
		storage.NewPatch().Set(storage.FieldStatus, model.SessionStatusEnded))
	require.NoError(t, err)

	var version int64
	err = s.db.QueryRowContext(ctx, `SELECT version FROM sessions WHERE id = ?`, "sess-1").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)

	err = s.db.QueryRowContext(ctx, `SELECT version FROM sessions WHERE id = ?`, "missing").Scan(&version)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestExtractUpMigration(t *testing.T) {
	content := "-- +migrate Up\nCREATE TABLE a (x INT);\n-- +migrate Down\nDROP TABLE a;\n"
	assert.Equal(t, "\nCREATE TABLE a (x INT);\n", extractUpMigration(content))
	assert.Equal(t, "SELECT 1;", extractUpMigration("SELECT 1;"))
}
