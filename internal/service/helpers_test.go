package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"certportal/internal/models"
	"certportal/internal/repository"
	"certportal/internal/security"
	"certportal/internal/storage"
)

var (
	errMetadataDown = errors.New("metadata store unavailable")
	errBlobDown     = errors.New("blob store unavailable")
)

var fixedNow = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

var adminIdentity = security.Identity{ID: "admin-1", Name: "Admin", Email: "admin@example.com", Role: models.UserRoleAdmin}

// faultyStore fails the nth AddCertificate call when failAddOn > 0.
type faultyStore struct {
	repository.Store
	mu             sync.Mutex
	adds           int
	failAddOn      int
	failCertDelete bool
}

func (s *faultyStore) AddCertificate(ctx context.Context, userID string, cert models.Certificate) error {
	s.mu.Lock()
	s.adds++
	fail := s.failAddOn > 0 && s.adds == s.failAddOn
	s.mu.Unlock()
	if fail {
		return errMetadataDown
	}
	return s.Store.AddCertificate(ctx, userID, cert)
}

func (s *faultyStore) DeleteCertificate(ctx context.Context, certID string) error {
	if s.failCertDelete {
		return errMetadataDown
	}
	return s.Store.DeleteCertificate(ctx, certID)
}

type faultyBlobs struct {
	storage.BlobStore
	mu         sync.Mutex
	saves      int
	failSaveOn int
	failDelete bool
}

func (b *faultyBlobs) Save(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	b.saves++
	fail := b.failSaveOn > 0 && b.saves == b.failSaveOn
	b.mu.Unlock()
	if fail {
		return errBlobDown
	}
	return b.BlobStore.Save(ctx, key, data)
}

func (b *faultyBlobs) Delete(ctx context.Context, key string) error {
	if b.failDelete {
		return errBlobDown
	}
	return b.BlobStore.Delete(ctx, key)
}

type harness struct {
	t        *testing.T
	blobDir  string
	store    *faultyStore
	blobs    *faultyBlobs
	users    *UserService
	certs    *CertificateService
	backups  *BackupService
	reports  *ReportService
	auth     *AuthService
	sessions *security.SessionIssuer
}

func fastHash(password string) (string, error) {
	return security.HashPasswordWithParams(password, security.Argon2Params{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: 32, SaltLen: 16})
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	bolt, err := repository.NewBoltStore(filepath.Join(t.TempDir(), "portal.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bolt.Close() })

	blobDir := t.TempDir()
	files, err := storage.NewFileStore(blobDir)
	require.NoError(t, err)

	store := &faultyStore{Store: bolt}
	blobs := &faultyBlobs{BlobStore: files}
	now := func() time.Time { return fixedNow }
	log := zerolog.Nop()

	sessions, err := security.NewSessionIssuer("test-secret", now)
	require.NoError(t, err)

	users := NewUserService(store, blobs, now, log)
	users.hash = fastHash

	h := &harness{
		t:        t,
		blobDir:  blobDir,
		store:    store,
		blobs:    blobs,
		users:    users,
		certs:    NewCertificateService(store, blobs, DefaultUploadLimits, now, log),
		backups:  NewBackupService(store, now, log),
		reports:  NewReportService(store, now, log),
		auth:     NewAuthService(store, sessions, log),
		sessions: sessions,
	}

	admin, err := fastHash("admin-pass")
	require.NoError(t, err)
	require.NoError(t, store.CreateUser(context.Background(), models.User{
		ID: adminIdentity.ID, Email: adminIdentity.Email, Name: adminIdentity.Name,
		PasswordHash: admin, Role: models.UserRoleAdmin,
	}))
	return h
}

func (h *harness) createIntern(name, email string) models.User {
	h.t.Helper()
	user, err := h.users.Create(context.Background(), adminIdentity, CreateUserInput{
		Name:            name,
		Email:           email,
		Password:        "intern-pass",
		Position:        "Backend Engineer",
		InternshipStart: "2024-01-01",
		InternshipEnd:   "2024-12-31",
	})
	require.NoError(h.t, err)
	return user
}

func (h *harness) blobCount() int {
	h.t.Helper()
	entries, err := os.ReadDir(h.blobDir)
	require.NoError(h.t, err)
	n := 0
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), ".") {
			n++
		}
	}
	return n
}

func (h *harness) certificates(userID string) []models.Certificate {
	h.t.Helper()
	user, err := h.store.GetUserByID(context.Background(), userID)
	require.NoError(h.t, err)
	return user.Certificates
}

func pdfFile(name string, body string) UploadFile {
	data := []byte("%PDF-1.7\n" + body)
	return UploadFile{
		Name: name,
		Size: int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

func identityOf(user models.User) security.Identity {
	return security.IdentityFromUser(user)
}
