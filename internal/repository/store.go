package repository

import (
	"context"
	"errors"
	"strings"

	"certportal/internal/models"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrCertificateNotFound = errors.New("certificate not found")
	ErrEmailTaken          = errors.New("email already registered")
)

// Store persists users together with their certificates. Certificates keep
// insertion order and are removed with their owner.
type Store interface {
	ListUsers(ctx context.Context) ([]models.User, error)
	GetUserByID(ctx context.Context, id string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	CreateUser(ctx context.Context, user models.User) error
	UpdateUser(ctx context.Context, id string, update models.UserUpdate) error
	DeleteUser(ctx context.Context, id string) error
	AddCertificate(ctx context.Context, userID string, cert models.Certificate) error
	DeleteCertificate(ctx context.Context, certID string) error
	GetCertificateByID(ctx context.Context, certID string) (models.Certificate, error)
	ReplaceAll(ctx context.Context, users []models.User) error
	Ping(ctx context.Context) error
	Close() error
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
