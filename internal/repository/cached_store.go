package repository

import (
	"context"
	"time"

	"certportal/internal/cache"
	"certportal/internal/models"
)

// CachedStore memoizes the ListUsers snapshot. Every write that passes
// through it drops the snapshot, whether or not the write succeeded.
type CachedStore struct {
	Store
	users *cache.TTL[[]models.User]
}

func NewCachedStore(store Store, ttl time.Duration, now func() time.Time) *CachedStore {
	return &CachedStore{
		Store: store,
		users: cache.NewTTL[[]models.User](ttl, now),
	}
}

func (s *CachedStore) ListUsers(ctx context.Context) ([]models.User, error) {
	if users, ok := s.users.Get(); ok {
		return users, nil
	}
	gen := s.users.Generation()
	users, err := s.Store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	// A write that landed during the load leaves this snapshot stale.
	s.users.SetIfGeneration(users, gen)
	return users, nil
}

func (s *CachedStore) Invalidate() {
	s.users.Invalidate()
}

func (s *CachedStore) CreateUser(ctx context.Context, user models.User) error {
	defer s.Invalidate()
	return s.Store.CreateUser(ctx, user)
}

func (s *CachedStore) UpdateUser(ctx context.Context, id string, update models.UserUpdate) error {
	defer s.Invalidate()
	return s.Store.UpdateUser(ctx, id, update)
}

func (s *CachedStore) DeleteUser(ctx context.Context, id string) error {
	defer s.Invalidate()
	return s.Store.DeleteUser(ctx, id)
}

func (s *CachedStore) AddCertificate(ctx context.Context, userID string, cert models.Certificate) error {
	defer s.Invalidate()
	return s.Store.AddCertificate(ctx, userID, cert)
}

func (s *CachedStore) DeleteCertificate(ctx context.Context, certID string) error {
	defer s.Invalidate()
	return s.Store.DeleteCertificate(ctx, certID)
}

func (s *CachedStore) ReplaceAll(ctx context.Context, users []models.User) error {
	defer s.Invalidate()
	return s.Store.ReplaceAll(ctx, users)
}
