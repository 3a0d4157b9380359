package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certportal/internal/models"
)

type countingStore struct {
	Store
	lists int
}

func (s *countingStore) ListUsers(ctx context.Context) ([]models.User, error) {
	s.lists++
	return s.Store.ListUsers(ctx)
}

func TestCachedStoreServesSnapshotUntilWrite(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	inner := &countingStore{Store: newBoltStore(t)}
	store := NewCachedStore(inner, 30*time.Second, func() time.Time { return now })

	require.NoError(t, store.CreateUser(ctx, testUser("u1", "a@example.com")))

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	_, err = store.ListUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.lists, "second read must hit the cache")

	require.NoError(t, store.AddCertificate(ctx, "u1", testCert(t, "c1", "a.pdf")))
	users, err = store.ListUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.lists, "write must invalidate")
	assert.Len(t, users[0].Certificates, 1)

	now = now.Add(31 * time.Second)
	_, err = store.ListUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, inner.lists, "snapshot must expire")
}

func TestCachedStoreInvalidatesOnFailedWrite(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{Store: newBoltStore(t)}
	store := NewCachedStore(inner, time.Minute, nil)

	_, err := store.ListUsers(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, store.DeleteUser(ctx, "missing"), ErrUserNotFound)

	_, err = store.ListUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.lists)
}

// blockingStore parks the first ListUsers after it has read its snapshot.
type blockingStore struct {
	Store
	once    sync.Once
	loaded  chan struct{}
	release chan struct{}
}

func (s *blockingStore) ListUsers(ctx context.Context) ([]models.User, error) {
	users, err := s.Store.ListUsers(ctx)
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.loaded)
		<-s.release
	}
	return users, err
}

func TestCachedStoreDropsSnapshotLoadedBeforeWrite(t *testing.T) {
	ctx := context.Background()
	inner := &blockingStore{
		Store:   newBoltStore(t),
		loaded:  make(chan struct{}),
		release: make(chan struct{}),
	}
	store := NewCachedStore(inner, time.Minute, nil)

	done := make(chan []models.User)
	go func() {
		users, _ := store.ListUsers(ctx)
		done <- users
	}()

	<-inner.loaded
	require.NoError(t, store.CreateUser(ctx, testUser("u1", "a@example.com")))
	close(inner.release)
	assert.Empty(t, <-done)

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1, "user created during the load must be listed")
}
