package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"certportal/internal/ids"
	"certportal/internal/models"
	"certportal/internal/repository"
	"certportal/internal/security"
	"certportal/internal/storage"
)

type UserService struct {
	store repository.Store
	blobs storage.BlobStore
	hash  func(string) (string, error)
	now   func() time.Time
	log   zerolog.Logger
}

func NewUserService(store repository.Store, blobs storage.BlobStore, now func() time.Time, log zerolog.Logger) *UserService {
	if now == nil {
		now = time.Now
	}
	return &UserService{
		store: store,
		blobs: blobs,
		hash:  security.HashPassword,
		now:   now,
		log:   log,
	}
}

type CreateUserInput struct {
	Name            string
	Email           string
	Password        string
	Position        string
	InternshipStart string
	InternshipEnd   string
}

func (s *UserService) Create(ctx context.Context, actor security.Identity, input CreateUserInput) (models.User, error) {
	if !actor.IsAdmin() {
		return models.User{}, ErrForbidden
	}

	name := clean(input.Name, maxNameLen)
	email := repository.NormalizeEmail(clean(input.Email, maxEmailLen))
	position := clean(input.Position, maxPositionLen)
	startRaw := clean(input.InternshipStart, maxDateLen)
	endRaw := clean(input.InternshipEnd, maxDateLen)

	if name == "" || email == "" || input.Password == "" {
		return models.User{}, invalid("name, email and password are required")
	}
	if !validEmail(email) {
		return models.User{}, invalid("invalid email format")
	}
	if err := validatePassword(input.Password); err != nil {
		return models.User{}, err
	}
	if position == "" {
		return models.User{}, invalid("position is required")
	}
	if startRaw == "" || endRaw == "" {
		return models.User{}, invalid("internship start and end dates are required")
	}
	start, err := parseDate("internship start date", startRaw)
	if err != nil {
		return models.User{}, err
	}
	end, err := parseDate("internship end date", endRaw)
	if err != nil {
		return models.User{}, err
	}
	if err := validatePeriod(&start, &end); err != nil {
		return models.User{}, err
	}

	hash, err := s.hash(input.Password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := models.User{
		ID:              ids.New(),
		Email:           email,
		PasswordHash:    hash,
		Name:            name,
		Role:            models.UserRoleUser,
		Position:        position,
		InternshipStart: &start,
		InternshipEnd:   &end,
		Certificates:    []models.Certificate{},
		CreatedAt:       s.now().UTC(),
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return models.User{}, invalid("email already registered")
		}
		return models.User{}, fmt.Errorf("create user: %w", err)
	}

	s.log.Info().Str("user_id", user.ID).Str("actor_id", actor.ID).Msg("user created")
	return user, nil
}

// UpdateUserInput leaves optional fields unchanged when they are empty.
type UpdateUserInput struct {
	Name            string
	Email           string
	Password        string
	Position        string
	InternshipStart string
	InternshipEnd   string
}

func (s *UserService) Update(ctx context.Context, actor security.Identity, id string, input UpdateUserInput) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	id = clean(id, maxIDLen)

	existing, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("load user: %w", err)
	}

	update, err := s.buildUpdate(input.Name, input.Email, input.Password)
	if err != nil {
		return err
	}

	if position := clean(input.Position, maxPositionLen); position != "" {
		update.Position = &position
	}
	start, err := parseOptionalDate("internship start date", clean(input.InternshipStart, maxDateLen))
	if err != nil {
		return err
	}
	end, err := parseOptionalDate("internship end date", clean(input.InternshipEnd, maxDateLen))
	if err != nil {
		return err
	}
	update.InternshipStart = start
	update.InternshipEnd = end

	effectiveStart, effectiveEnd := existing.InternshipStart, existing.InternshipEnd
	if start != nil {
		effectiveStart = start
	}
	if end != nil {
		effectiveEnd = end
	}
	if err := validatePeriod(effectiveStart, effectiveEnd); err != nil {
		return err
	}

	return s.applyUpdate(ctx, actor, id, update)
}

type ProfileInput struct {
	Name     string
	Email    string
	Password string
}

// UpdateProfile changes the acting admin's own account and returns it.
func (s *UserService) UpdateProfile(ctx context.Context, actor security.Identity, input ProfileInput) (models.User, error) {
	if !actor.IsAdmin() {
		return models.User{}, ErrForbidden
	}

	update, err := s.buildUpdate(input.Name, input.Email, input.Password)
	if err != nil {
		return models.User{}, err
	}
	if err := s.applyUpdate(ctx, actor, actor.ID, update); err != nil {
		return models.User{}, err
	}

	user, err := s.store.GetUserByID(ctx, actor.ID)
	if err != nil {
		return models.User{}, fmt.Errorf("reload profile: %w", err)
	}
	return user, nil
}

func (s *UserService) buildUpdate(nameRaw, emailRaw, password string) (models.UserUpdate, error) {
	name := clean(nameRaw, maxNameLen)
	email := repository.NormalizeEmail(clean(emailRaw, maxEmailLen))

	if name == "" || email == "" {
		return models.UserUpdate{}, invalid("name and email are required")
	}
	if !validEmail(email) {
		return models.UserUpdate{}, invalid("invalid email format")
	}

	update := models.UserUpdate{Name: &name, Email: &email}
	if password != "" {
		if err := validatePassword(password); err != nil {
			return models.UserUpdate{}, err
		}
		hash, err := s.hash(password)
		if err != nil {
			return models.UserUpdate{}, fmt.Errorf("hash password: %w", err)
		}
		update.PasswordHash = &hash
	}
	return update, nil
}

func (s *UserService) applyUpdate(ctx context.Context, actor security.Identity, id string, update models.UserUpdate) error {
	if err := s.store.UpdateUser(ctx, id, update); err != nil {
		switch {
		case errors.Is(err, repository.ErrEmailTaken):
			return invalid("email already registered")
		case errors.Is(err, repository.ErrUserNotFound):
			return ErrNotFound
		}
		return fmt.Errorf("update user: %w", err)
	}
	s.log.Info().Str("user_id", id).Str("actor_id", actor.ID).Msg("user updated")
	return nil
}

// DeleteReport lists blob keys that could not be removed. The metadata
// delete succeeded regardless.
type DeleteReport struct {
	BlobFailures []string
}

func (s *UserService) Delete(ctx context.Context, actor security.Identity, id string) (DeleteReport, error) {
	if !actor.IsAdmin() {
		return DeleteReport{}, ErrForbidden
	}
	id = clean(id, maxIDLen)
	if id == actor.ID {
		return DeleteReport{}, invalid("you cannot delete your own account")
	}

	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return DeleteReport{}, ErrNotFound
		}
		return DeleteReport{}, fmt.Errorf("load user: %w", err)
	}

	var report DeleteReport
	for _, cert := range user.Certificates {
		if err := s.blobs.Delete(ctx, cert.File); err != nil {
			s.log.Warn().Err(err).Str("user_id", id).Str("blob_key", cert.File).Msg("certificate file delete failed")
			report.BlobFailures = append(report.BlobFailures, cert.File)
		}
	}

	if err := s.store.DeleteUser(ctx, id); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return report, ErrNotFound
		}
		return report, fmt.Errorf("delete user: %w", err)
	}

	s.log.Info().Str("user_id", id).Str("actor_id", actor.ID).Int("certificates", len(user.Certificates)).Msg("user deleted")
	return report, nil
}

// List returns every user with expired certificates filtered out.
func (s *UserService) List(ctx context.Context, actor security.Identity) ([]models.User, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	now := s.now()
	out := make([]models.User, 0, len(users))
	for _, user := range users {
		user.Certificates = models.ValidCertificates(user.Certificates, now)
		out = append(out, user)
	}
	return out, nil
}

// Me resolves the session identity to its stored account with valid
// certificates only.
func (s *UserService) Me(ctx context.Context, identity security.Identity) (models.User, error) {
	user, err := s.store.GetUserByID(ctx, identity.ID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("load user: %w", err)
	}
	user.Certificates = models.ValidCertificates(user.Certificates, s.now())
	return user, nil
}

// CreateAdmin bootstraps an administrator account from the command line.
func (s *UserService) CreateAdmin(ctx context.Context, name, email, password string) (models.User, error) {
	name = clean(name, maxNameLen)
	email = repository.NormalizeEmail(clean(email, maxEmailLen))
	if name == "" || email == "" {
		return models.User{}, invalid("name and email are required")
	}
	if !validEmail(email) {
		return models.User{}, invalid("invalid email format")
	}
	if err := validatePassword(password); err != nil {
		return models.User{}, err
	}

	hash, err := s.hash(password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := models.User{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		Role:         models.UserRoleAdmin,
		Certificates: []models.Certificate{},
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return models.User{}, invalid("email already registered")
		}
		return models.User{}, fmt.Errorf("create admin: %w", err)
	}
	return user, nil
}
