package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"certportal/internal/models"
)

var (
	bucketUsers        = []byte("users")
	bucketEmails       = []byte("emails")
	bucketCertificates = []byte("certificates")
)

// BoltStore keeps each user as a JSON document with its certificates
// embedded. The emails bucket indexes normalized email to user id and the
// certificates bucket indexes certificate id to user id. bbolt runs one
// write transaction at a time, so check-then-insert on the email index
// cannot race.
type BoltStore struct {
	db  *bbolt.DB
	now func() time.Time
}

func NewBoltStore(path string, timeout time.Duration) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("open boltdb: %w", err)
	}

	store := &BoltStore{db: db, now: time.Now}
	if err := store.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}
	return store, nil
}

func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketUsers, bucketEmails, bucketCertificates} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

func (s *BoltStore) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(_, v []byte) error {
			var user models.User
			if err := json.Unmarshal(v, &user); err != nil {
				return fmt.Errorf("decode user: %w", err)
			}
			users = append(users, user)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

func (s *BoltStore) GetUserByID(ctx context.Context, id string) (models.User, error) {
	var user models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		user, err = getUser(tx, id)
		return err
	})
	return user, err
}

func (s *BoltStore) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	var user models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketEmails).Get([]byte(NormalizeEmail(email)))
		if id == nil {
			return ErrUserNotFound
		}
		var err error
		user, err = getUser(tx, string(id))
		return err
	})
	return user, err
}

func (s *BoltStore) CreateUser(ctx context.Context, user models.User) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return s.insertUser(tx, user)
	})
}

func (s *BoltStore) insertUser(tx *bbolt.Tx, user models.User) error {
	user.Email = NormalizeEmail(user.Email)

	emails := tx.Bucket(bucketEmails)
	if emails.Get([]byte(user.Email)) != nil {
		return ErrEmailTaken
	}
	if tx.Bucket(bucketUsers).Get([]byte(user.ID)) != nil {
		return fmt.Errorf("user %s already exists", user.ID)
	}

	now := s.now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	user.Certificates = append([]models.Certificate{}, user.Certificates...)

	certs := tx.Bucket(bucketCertificates)
	for i := range user.Certificates {
		user.Certificates[i].UserID = user.ID
		if certs.Get([]byte(user.Certificates[i].ID)) != nil {
			return fmt.Errorf("certificate %s already exists", user.Certificates[i].ID)
		}
		if err := certs.Put([]byte(user.Certificates[i].ID), []byte(user.ID)); err != nil {
			return err
		}
	}

	if err := emails.Put([]byte(user.Email), []byte(user.ID)); err != nil {
		return err
	}
	return putUser(tx, user)
}

func (s *BoltStore) UpdateUser(ctx context.Context, id string, update models.UserUpdate) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		user, err := getUser(tx, id)
		if err != nil {
			return err
		}

		oldEmail := user.Email
		update.Apply(&user)
		user.Email = NormalizeEmail(user.Email)

		if user.Email != oldEmail {
			emails := tx.Bucket(bucketEmails)
			if owner := emails.Get([]byte(user.Email)); owner != nil && string(owner) != id {
				return ErrEmailTaken
			}
			if err := emails.Delete([]byte(oldEmail)); err != nil {
				return err
			}
			if err := emails.Put([]byte(user.Email), []byte(id)); err != nil {
				return err
			}
		}

		user.UpdatedAt = s.now().UTC()
		return putUser(tx, user)
	})
}

func (s *BoltStore) DeleteUser(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		user, err := getUser(tx, id)
		if err != nil {
			return err
		}

		certs := tx.Bucket(bucketCertificates)
		for _, cert := range user.Certificates {
			if err := certs.Delete([]byte(cert.ID)); err != nil {
				return err
			}
		}
		if err := tx.Bucket(bucketEmails).Delete([]byte(user.Email)); err != nil {
			return err
		}
		return tx.Bucket(bucketUsers).Delete([]byte(id))
	})
}

func (s *BoltStore) AddCertificate(ctx context.Context, userID string, cert models.Certificate) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		user, err := getUser(tx, userID)
		if err != nil {
			return err
		}

		certs := tx.Bucket(bucketCertificates)
		if certs.Get([]byte(cert.ID)) != nil {
			return fmt.Errorf("certificate %s already exists", cert.ID)
		}

		cert.UserID = userID
		if cert.CreatedAt.IsZero() {
			cert.CreatedAt = s.now().UTC()
		}
		user.Certificates = append(user.Certificates, cert)

		if err := certs.Put([]byte(cert.ID), []byte(userID)); err != nil {
			return err
		}
		return putUser(tx, user)
	})
}

func (s *BoltStore) DeleteCertificate(ctx context.Context, certID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		certs := tx.Bucket(bucketCertificates)
		owner := certs.Get([]byte(certID))
		if owner == nil {
			return ErrCertificateNotFound
		}

		user, err := getUser(tx, string(owner))
		if err != nil {
			return err
		}

		kept := user.Certificates[:0]
		for _, cert := range user.Certificates {
			if cert.ID != certID {
				kept = append(kept, cert)
			}
		}
		user.Certificates = kept

		if err := certs.Delete([]byte(certID)); err != nil {
			return err
		}
		return putUser(tx, user)
	})
}

func (s *BoltStore) GetCertificateByID(ctx context.Context, certID string) (models.Certificate, error) {
	var found models.Certificate
	err := s.db.View(func(tx *bbolt.Tx) error {
		owner := tx.Bucket(bucketCertificates).Get([]byte(certID))
		if owner == nil {
			return ErrCertificateNotFound
		}
		user, err := getUser(tx, string(owner))
		if err != nil {
			return err
		}
		for _, cert := range user.Certificates {
			if cert.ID == certID {
				found = cert
				return nil
			}
		}
		return ErrCertificateNotFound
	})
	return found, err
}

func (s *BoltStore) ReplaceAll(ctx context.Context, users []models.User) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketUsers, bucketEmails, bucketCertificates} {
			if err := tx.DeleteBucket(name); err != nil {
				return fmt.Errorf("drop bucket %s: %w", name, err)
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		for _, user := range users {
			if err := s.insertUser(tx, user); err != nil {
				return fmt.Errorf("restore user %s: %w", user.ID, err)
			}
		}
		return nil
	})
}

func (s *BoltStore) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketUsers) == nil {
			return fmt.Errorf("bucket %s missing", bucketUsers)
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func getUser(tx *bbolt.Tx, id string) (models.User, error) {
	raw := tx.Bucket(bucketUsers).Get([]byte(id))
	if raw == nil {
		return models.User{}, ErrUserNotFound
	}
	var user models.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return models.User{}, fmt.Errorf("decode user %s: %w", id, err)
	}
	return user, nil
}

func putUser(tx *bbolt.Tx, user models.User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user %s: %w", user.ID, err)
	}
	return tx.Bucket(bucketUsers).Put([]byte(user.ID), raw)
}
