package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"certportal/internal/models"
	"certportal/internal/repository"
	"certportal/internal/security"
)

type AuthService struct {
	store    repository.Store
	sessions *security.SessionIssuer
	verify   func(password, encodedHash string) (bool, error)
	log      zerolog.Logger
}

func NewAuthService(store repository.Store, sessions *security.SessionIssuer, log zerolog.Logger) *AuthService {
	return &AuthService{
		store:    store,
		sessions: sessions,
		verify:   security.VerifyPassword,
		log:      log,
	}
}

type LoginInput struct {
	Email    string
	Password string
}

type AuthResult struct {
	Token     string
	ExpiresAt time.Time
	Identity  security.Identity
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (AuthResult, error) {
	email := repository.NormalizeEmail(clean(input.Email, maxEmailLen))
	if email == "" || input.Password == "" {
		return AuthResult{}, invalid("email and password are required")
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			_, _ = s.verify(input.Password, security.DecoyHash())
			return AuthResult{}, ErrInvalidCredentials
		}
		return AuthResult{}, err
	}

	ok, err := s.verify(input.Password, user.PasswordHash)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("password hash could not be verified")
		return AuthResult{}, ErrInvalidCredentials
	}
	if !ok {
		return AuthResult{}, ErrInvalidCredentials
	}

	return s.IssueFor(user)
}

// IssueFor mints a fresh session for user, e.g. after a profile change.
func (s *AuthService) IssueFor(user models.User) (AuthResult, error) {
	identity := security.IdentityFromUser(user)
	token, expiresAt, err := s.sessions.Issue(identity)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{
		Token:     token,
		ExpiresAt: expiresAt,
		Identity:  identity,
	}, nil
}

func (s *AuthService) Verify(token string) (security.Identity, bool) {
	return s.sessions.Verify(token)
}
