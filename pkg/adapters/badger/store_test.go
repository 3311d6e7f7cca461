package badger_test

import (
	"context"
	"testing"

	"github.com/aretw0/marginalia/pkg/adapters/badger"
	"github.com/aretw0/marginalia/pkg/domain"
	"github.com/aretw0/marginalia/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerStore_Contract(t *testing.T) {
	store, err := badger.Open(badger.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ports.RunSnapshotStoreContract(t, store)
}

func TestBadgerStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := badger.Open(badger.DefaultConfig(dir))
	require.NoError(t, err)
	snap := domain.NewSnapshot("s1", `<a x="1"><?mg1-added-attribute x="1"?></a>`)
	snap.Counter = 1
	require.NoError(t, store.Save(ctx, "s1", snap))
	require.NoError(t, store.Close())

	store, err = badger.Open(badger.DefaultConfig(dir))
	require.NoError(t, err)
	defer store.Close()

	loaded, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, snap.Document, loaded.Document)
	assert.Equal(t, 1, loaded.Counter)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)
}

func TestBadgerStore_RequiresPath(t *testing.T) {
	_, err := badger.Open(badger.Config{})
	assert.Error(t, err)
}
