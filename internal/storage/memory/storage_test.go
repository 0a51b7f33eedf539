package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/outlier/internal/model"
	"github.com/mcoot/outlier/internal/storage"
	"github.com/mcoot/outlier/internal/storage/storagetest"
)

func TestStoreContract(t *testing.T) {
	suite.Run(t, &storagetest.StoreSuite{
		NewStore: func(*testing.T) storage.Store { return New() },
	})
}

func TestUnsetFieldsAreRemovedFromRecord(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.Create(ctx, storagetest.NewSession("sess-1", "ABC123", now))
	require.NoError(t, err)

	_, err = s.Update(ctx, "sess-1", 1, storage.NewPatch().
		Set(storage.FieldStatus, model.SessionStatusPlaying).
		Set(storage.FieldSecretWord, "Tiger"))
	require.NoError(t, err)

	rec, ok := s.Record("sess-1")
	require.True(t, ok)
	assert.True(t, rec.Has(storage.FieldSecretWord))

	_, err = s.Update(ctx, "sess-1", 2, storage.NewPatch().Unset(storage.FieldSecretWord))
	require.NoError(t, err)

	rec, _ = s.Record("sess-1")
	assert.False(t, rec.Has(storage.FieldSecretWord))
	assert.True(t, rec.Has(storage.FieldStatus))
}

func TestUnsubscribeReleasesBrokerEntry(t *testing.T) {
	ctx := context.Background()
	s := New()

	unsubscribe, err := s.Subscribe(ctx, "sess-1", func(*model.Session) {})
	require.NoError(t, err)
	assert.Equal(t, 1, s.SubscriberCount("sess-1"))

	unsubscribe()
	assert.Equal(t, 0, s.SubscriberCount("sess-1"))
}
