package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSetGet(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "v", 0))

	value, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "v", 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemoryStoreSetNX(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	ctx := context.Background()

	ok, err := store.SetNX(ctx, "k", "first", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.SetNX(ctx, "k", "second", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	value, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "first", value)
}

func TestMemoryStoreSetNXAfterExpiry(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	ctx := context.Background()

	ok, err := store.SetNX(ctx, "k", "first", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	ok, err = store.SetNX(ctx, "k", "second", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewStoreSchemes(t *testing.T) {
	store, err := NewStore("memory://")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = NewStore("bolt://data")
	assert.Error(t, err)
}
