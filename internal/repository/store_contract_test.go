package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certportal/internal/models"
)

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse(models.DateLayout, s)
	require.NoError(t, err)
	return d
}

func testUser(id, email string) models.User {
	return models.User{
		ID:           id,
		Email:        email,
		PasswordHash: "$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA",
		Name:         "Intern " + id,
		Role:         models.UserRoleUser,
		Position:     "Backend",
	}
}

func testCert(t *testing.T, id, file string) models.Certificate {
	return models.Certificate{
		ID:       id,
		Title:    "Certificate " + id,
		File:     file,
		IssuedAt: day(t, "2024-05-01"),
	}
}

func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("create and lookup case-insensitively", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		require.NoError(t, store.CreateUser(ctx, testUser("u1", "Jane.Doe@Example.com")))

		got, err := store.GetUserByEmail(ctx, "jane.doe@example.COM")
		require.NoError(t, err)
		assert.Equal(t, "u1", got.ID)
		assert.Equal(t, "jane.doe@example.com", got.Email)

		_, err = store.GetUserByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, ErrUserNotFound)

		_, err = store.GetUserByID(ctx, "missing")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("duplicate email rejected", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		require.NoError(t, store.CreateUser(ctx, testUser("u1", "dup@example.com")))
		err := store.CreateUser(ctx, testUser("u2", "DUP@example.com"))
		assert.ErrorIs(t, err, ErrEmailTaken)
	})

	t.Run("concurrent creation with one email", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		const workers = 8
		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			ok    int
			taken int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := store.CreateUser(ctx, testUser(fmt.Sprintf("race-%d", i), "race@example.com"))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					ok++
				case errors.Is(err, ErrEmailTaken):
					taken++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, ok)
		assert.Equal(t, workers-1, taken)
	})

	t.Run("update keeps role and enforces uniqueness", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		require.NoError(t, store.CreateUser(ctx, testUser("u1", "a@example.com")))
		require.NoError(t, store.CreateUser(ctx, testUser("u2", "b@example.com")))

		taken := "B@example.com"
		err := store.UpdateUser(ctx, "u1", models.UserUpdate{Email: &taken})
		assert.ErrorIs(t, err, ErrEmailTaken)

		same := "A@EXAMPLE.com"
		name := "Renamed"
		start := day(t, "2024-01-01")
		require.NoError(t, store.UpdateUser(ctx, "u1", models.UserUpdate{Email: &same, Name: &name, InternshipStart: &start}))

		got, err := store.GetUserByID(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Name)
		assert.Equal(t, "a@example.com", got.Email)
		assert.Equal(t, models.UserRoleUser, got.Role)
		require.NotNil(t, got.InternshipStart)
		assert.Equal(t, "2024-01-01", got.InternshipStart.Format(models.DateLayout))

		moved := "c@example.com"
		require.NoError(t, store.UpdateUser(ctx, "u1", models.UserUpdate{Email: &moved}))
		_, err = store.GetUserByEmail(ctx, "a@example.com")
		assert.ErrorIs(t, err, ErrUserNotFound)
		require.NoError(t, store.CreateUser(ctx, testUser("u3", "a@example.com")))

		err = store.UpdateUser(ctx, "missing", models.UserUpdate{Name: &name})
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("certificates keep order and cascade", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		require.NoError(t, store.CreateUser(ctx, testUser("u1", "owner@example.com")))
		require.NoError(t, store.AddCertificate(ctx, "u1", testCert(t, "c1", "one.pdf")))
		require.NoError(t, store.AddCertificate(ctx, "u1", testCert(t, "c2", "two.pdf")))

		err := store.AddCertificate(ctx, "missing", testCert(t, "c3", "three.pdf"))
		assert.ErrorIs(t, err, ErrUserNotFound)

		got, err := store.GetUserByID(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, got.Certificates, 2)
		assert.Equal(t, "c1", got.Certificates[0].ID)
		assert.Equal(t, "c2", got.Certificates[1].ID)

		cert, err := store.GetCertificateByID(ctx, "c2")
		require.NoError(t, err)
		assert.Equal(t, "u1", cert.UserID)
		assert.Equal(t, "two.pdf", cert.File)

		require.NoError(t, store.DeleteCertificate(ctx, "c1"))
		assert.ErrorIs(t, store.DeleteCertificate(ctx, "c1"), ErrCertificateNotFound)

		require.NoError(t, store.DeleteUser(ctx, "u1"))
		_, err = store.GetCertificateByID(ctx, "c2")
		assert.ErrorIs(t, err, ErrCertificateNotFound)
		assert.ErrorIs(t, store.DeleteUser(ctx, "u1"), ErrUserNotFound)

		require.NoError(t, store.CreateUser(ctx, testUser("u9", "owner@example.com")))
	})

	t.Run("replace all", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		require.NoError(t, store.CreateUser(ctx, testUser("old", "old@example.com")))

		admin := testUser("a1", "admin@example.com")
		admin.Role = models.UserRoleAdmin
		intern := testUser("i1", "intern@example.com")
		intern.Certificates = []models.Certificate{testCert(t, "c1", "x.pdf"), testCert(t, "c2", "y.pdf")}

		require.NoError(t, store.ReplaceAll(ctx, []models.User{admin, intern}))

		users, err := store.ListUsers(ctx)
		require.NoError(t, err)
		require.Len(t, users, 2)

		_, err = store.GetUserByID(ctx, "old")
		assert.ErrorIs(t, err, ErrUserNotFound)

		got, err := store.GetUserByEmail(ctx, "intern@example.com")
		require.NoError(t, err)
		require.Len(t, got.Certificates, 2)
		assert.Equal(t, "c1", got.Certificates[0].ID)
	})

	t.Run("replace all is atomic", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		require.NoError(t, store.CreateUser(ctx, testUser("keep", "keep@example.com")))

		err := store.ReplaceAll(ctx, []models.User{
			testUser("x1", "same@example.com"),
			testUser("x2", "same@example.com"),
		})
		require.Error(t, err)

		_, err = store.GetUserByID(ctx, "keep")
		assert.NoError(t, err)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, newStore(t).Ping(context.Background()))
	})
}
