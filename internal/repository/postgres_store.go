package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"certportal/internal/models"
)

type PostgresStore struct {
	pool  *pgxpool.Pool
	users *UserRepository
	certs *CertificateRepository
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool:  pool,
		users: NewUserRepository(pool),
		certs: NewCertificateRepository(pool),
	}
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]models.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	certs, err := s.certs.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}

	byUser := make(map[string][]models.Certificate, len(users))
	for _, cert := range certs {
		byUser[cert.UserID] = append(byUser[cert.UserID], cert)
	}
	for i := range users {
		users[i].Certificates = byUser[users[i].ID]
	}
	return users, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return models.User{}, err
	}
	return s.withCertificates(ctx, user)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return models.User{}, err
	}
	return s.withCertificates(ctx, user)
}

func (s *PostgresStore) withCertificates(ctx context.Context, user models.User) (models.User, error) {
	certs, err := s.certs.ListByUser(ctx, user.ID)
	if err != nil {
		return models.User{}, fmt.Errorf("list certificates: %w", err)
	}
	user.Certificates = certs
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user models.User) error {
	return s.users.Create(ctx, user)
}

func (s *PostgresStore) UpdateUser(ctx context.Context, id string, update models.UserUpdate) error {
	return s.users.Update(ctx, id, update)
}

// DeleteUser relies on ON DELETE CASCADE for the certificate rows.
func (s *PostgresStore) DeleteUser(ctx context.Context, id string) error {
	return s.users.Delete(ctx, id)
}

func (s *PostgresStore) AddCertificate(ctx context.Context, userID string, cert models.Certificate) error {
	cert.UserID = userID
	return s.certs.Create(ctx, cert)
}

func (s *PostgresStore) DeleteCertificate(ctx context.Context, certID string) error {
	return s.certs.Delete(ctx, certID)
}

func (s *PostgresStore) GetCertificateByID(ctx context.Context, certID string) (models.Certificate, error) {
	return s.certs.GetByID(ctx, certID)
}

func (s *PostgresStore) ReplaceAll(ctx context.Context, users []models.User) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		txUsers := NewUserRepository(tx)
		txCerts := NewCertificateRepository(tx)

		if err := txUsers.DeleteAll(ctx); err != nil {
			return fmt.Errorf("clear users: %w", err)
		}
		for _, user := range users {
			if err := txUsers.Create(ctx, user); err != nil {
				return fmt.Errorf("restore user %s: %w", user.ID, err)
			}
			for _, cert := range user.Certificates {
				cert.UserID = user.ID
				if err := txCerts.Create(ctx, cert); err != nil {
					return fmt.Errorf("restore certificate %s: %w", cert.ID, err)
				}
			}
		}
		return nil
	})
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
