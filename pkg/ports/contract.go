package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/marginalia/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSnapshotStoreContract runs a suite of tests that every SnapshotStore implementation
// must pass.
func RunSnapshotStoreContract(t *testing.T, store SnapshotStore) {
	ctx := context.Background()
	sessionID := "contract-test-session-" + time.Now().Format("20060102150405")
	const tracked = `<form id="f1"><?mg1-added-attribute id="f1"?><title lang="en">Old</title></form>`

	t.Run("Save and Load", func(t *testing.T) {
		snap := domain.NewSnapshot(sessionID, tracked)
		snap.Counter = 1

		err := store.Save(ctx, sessionID, snap)
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, sessionID, loaded.SessionID)
		assert.Equal(t, tracked, loaded.Document, "markers must survive persistence byte for byte")
		assert.Equal(t, 1, loaded.Counter)
		assert.Equal(t, snap.Prefix, loaded.Prefix)
	})

	t.Run("Load returns a copy", func(t *testing.T) {
		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err)
		loaded.Document = "<changed/>"
		loaded.Counter = 99

		again, err := store.Load(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, tracked, again.Document)
		assert.Equal(t, 1, again.Counter)
	})

	t.Run("Overwrite", func(t *testing.T) {
		snap := domain.NewSnapshot(sessionID, `<form/>`)
		require.NoError(t, store.Save(ctx, sessionID, snap))

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, `<form/>`, loaded.Document)
		assert.Equal(t, 0, loaded.Counter)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		err := store.Save(ctx, sessionID, domain.NewSnapshot(sessionID, `<a/>`))
		require.NoError(t, err)

		err = store.Delete(ctx, sessionID)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound, "Load after Delete should return ErrSessionNotFound")
	})

	t.Run("List", func(t *testing.T) {
		id1 := sessionID + "-1"
		id2 := sessionID + "-2"
		require.NoError(t, store.Save(ctx, id1, domain.NewSnapshot(id1, `<a/>`)))
		require.NoError(t, store.Save(ctx, id2, domain.NewSnapshot(id2, `<b/>`)))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		sessions, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, sessions, id1)
		assert.Contains(t, sessions, id2)
	})
}
