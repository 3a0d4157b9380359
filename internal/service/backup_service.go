package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"certportal/internal/models"
	"certportal/internal/repository"
	"certportal/internal/security"
	"certportal/internal/storage"
)

const BackupVersion = "1.0"

type BackupCertificate struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	File       string `json:"file"`
	IssuedAt   string `json:"issuedAt"`
	ExpiryDate string `json:"expiryDate,omitempty"`
}

type BackupUser struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	Email           string              `json:"email"`
	PasswordHash    string              `json:"passwordHash"`
	Role            string              `json:"role"`
	Position        string              `json:"position,omitempty"`
	InternshipStart string              `json:"internshipStart,omitempty"`
	InternshipEnd   string              `json:"internshipEnd,omitempty"`
	CreatedAt       *time.Time          `json:"createdAt,omitempty"`
	Certificates    []BackupCertificate `json:"certificates"`

	// Field names used by older exports.
	LegacyPassword     string `json:"password,omitempty"`
	LegacyPosition     string `json:"posisi,omitempty"`
	LegacyPeriodeStart string `json:"periode_start,omitempty"`
	LegacyPeriodeEnd   string `json:"periode_end,omitempty"`
}

type BackupDocument struct {
	Version           string       `json:"version"`
	ExportedAt        time.Time    `json:"exportedAt"`
	ExportedBy        string       `json:"exportedBy"`
	TotalUsers        int          `json:"totalUsers"`
	TotalCertificates int          `json:"totalCertificates"`
	Users             []BackupUser `json:"users"`
}

type BackupService struct {
	store repository.Store
	now   func() time.Time
	log   zerolog.Logger
}

func NewBackupService(store repository.Store, now func() time.Time, log zerolog.Logger) *BackupService {
	if now == nil {
		now = time.Now
	}
	return &BackupService{store: store, now: now, log: log}
}

func (s *BackupService) Backup(ctx context.Context, actor security.Identity) (BackupDocument, error) {
	if !actor.IsAdmin() {
		return BackupDocument{}, ErrForbidden
	}

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return BackupDocument{}, fmt.Errorf("list users: %w", err)
	}

	doc := BackupDocument{
		Version:    BackupVersion,
		ExportedAt: s.now().UTC(),
		ExportedBy: actor.Email,
		TotalUsers: len(users),
		Users:      make([]BackupUser, 0, len(users)),
	}
	for _, user := range users {
		created := user.CreatedAt
		bu := BackupUser{
			ID:              user.ID,
			Name:            user.Name,
			Email:           user.Email,
			PasswordHash:    user.PasswordHash,
			Role:            string(user.Role),
			Position:        user.Position,
			InternshipStart: formatDate(user.InternshipStart),
			InternshipEnd:   formatDate(user.InternshipEnd),
			CreatedAt:       &created,
			Certificates:    make([]BackupCertificate, 0, len(user.Certificates)),
		}
		for _, cert := range user.Certificates {
			issued := cert.IssuedAt
			bu.Certificates = append(bu.Certificates, BackupCertificate{
				ID:         cert.ID,
				Title:      cert.Title,
				File:       cert.File,
				IssuedAt:   formatDate(&issued),
				ExpiryDate: formatDate(cert.ExpiryDate),
			})
		}
		doc.TotalCertificates += len(user.Certificates)
		doc.Users = append(doc.Users, bu)
	}

	s.log.Info().Str("actor_id", actor.ID).Int("users", doc.TotalUsers).Msg("backup exported")
	return doc, nil
}

type RestoreSummary struct {
	Users        int
	Certificates int
}

// Restore validates raw as a backup document and replaces the whole dataset
// with it. Nothing is written unless every record validates.
func (s *BackupService) Restore(ctx context.Context, actor security.Identity, raw []byte) (RestoreSummary, error) {
	if !actor.IsAdmin() {
		return RestoreSummary{}, ErrForbidden
	}

	var envelope struct {
		Version string          `json:"version"`
		Users   json.RawMessage `json:"users"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return RestoreSummary{}, invalid("backup is not valid JSON")
	}
	if envelope.Version == "" {
		return RestoreSummary{}, invalid("invalid backup format: missing version")
	}
	trimmed := bytes.TrimSpace(envelope.Users)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return RestoreSummary{}, invalid("invalid backup format: users must be an array")
	}

	var records []BackupUser
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return RestoreSummary{}, invalid("invalid backup format: %s", describeJSONError(err))
	}

	users, err := s.convert(records)
	if err != nil {
		return RestoreSummary{}, err
	}

	if err := s.store.ReplaceAll(ctx, users); err != nil {
		return RestoreSummary{}, fmt.Errorf("replace data: %w", err)
	}

	summary := RestoreSummary{Users: len(users)}
	for _, user := range users {
		summary.Certificates += len(user.Certificates)
	}
	s.log.Warn().
		Str("actor_id", actor.ID).
		Int("users", summary.Users).
		Int("certificates", summary.Certificates).
		Msg("dataset restored from backup")
	return summary, nil
}

func (s *BackupService) convert(records []BackupUser) ([]models.User, error) {
	var (
		users    = make([]models.User, 0, len(records))
		userIDs  = make(map[string]struct{}, len(records))
		emails   = make(map[string]struct{}, len(records))
		certIDs  = make(map[string]struct{})
		files    = make(map[string]struct{})
		hasAdmin bool
		now      = s.now().UTC()
	)

	for i, rec := range records {
		pos := i + 1
		hash := rec.PasswordHash
		if hash == "" {
			hash = rec.LegacyPassword
		}
		email := repository.NormalizeEmail(rec.Email)
		role := models.UserRole(rec.Role)

		if rec.ID == "" || email == "" || hash == "" || rec.Role == "" {
			return nil, invalid("invalid user data at position %d: id, email, password and role are required", pos)
		}
		if len(rec.ID) > maxIDLen {
			return nil, invalid("invalid user data at position %d: id too long", pos)
		}
		if !role.Valid() {
			return nil, invalid("invalid user data at position %d: unknown role %q", pos, rec.Role)
		}
		if !validEmail(email) {
			return nil, invalid("invalid user data at position %d: invalid email", pos)
		}
		if !security.IsSupportedHash(hash) {
			return nil, invalid("invalid user data at position %d: password is not a supported hash", pos)
		}
		if _, dup := userIDs[rec.ID]; dup {
			return nil, invalid("duplicate user id %q", rec.ID)
		}
		if _, dup := emails[email]; dup {
			return nil, invalid("duplicate email %q", email)
		}
		userIDs[rec.ID] = struct{}{}
		emails[email] = struct{}{}
		hasAdmin = hasAdmin || role == models.UserRoleAdmin

		position := rec.Position
		if position == "" {
			position = rec.LegacyPosition
		}
		startRaw := firstNonEmpty(rec.InternshipStart, rec.LegacyPeriodeStart)
		endRaw := firstNonEmpty(rec.InternshipEnd, rec.LegacyPeriodeEnd)
		start, err := parseBackupDate(startRaw)
		if err != nil {
			return nil, invalid("invalid user data at position %d: bad internship start", pos)
		}
		end, err := parseBackupDate(endRaw)
		if err != nil {
			return nil, invalid("invalid user data at position %d: bad internship end", pos)
		}

		user := models.User{
			ID:              rec.ID,
			Email:           email,
			PasswordHash:    hash,
			Name:            clean(rec.Name, maxNameLen),
			Role:            role,
			Position:        clean(position, maxPositionLen),
			InternshipStart: start,
			InternshipEnd:   end,
			Certificates:    make([]models.Certificate, 0, len(rec.Certificates)),
			CreatedAt:       now,
		}
		if rec.CreatedAt != nil && !rec.CreatedAt.IsZero() {
			user.CreatedAt = rec.CreatedAt.UTC()
		}

		for j, rc := range rec.Certificates {
			if rc.ID == "" || rc.Title == "" || rc.File == "" {
				return nil, invalid("invalid certificate %d of user %q: id, title and file are required", j+1, rec.ID)
			}
			if storage.ValidKey(rc.File) != nil {
				return nil, invalid("invalid certificate %d of user %q: bad file name", j+1, rec.ID)
			}
			if _, dup := certIDs[rc.ID]; dup {
				return nil, invalid("duplicate certificate id %q", rc.ID)
			}
			if _, dup := files[rc.File]; dup {
				return nil, invalid("duplicate certificate file %q", rc.File)
			}
			certIDs[rc.ID] = struct{}{}
			files[rc.File] = struct{}{}

			issued, err := parseBackupDate(rc.IssuedAt)
			if err != nil || issued == nil {
				return nil, invalid("invalid certificate %d of user %q: bad issue date", j+1, rec.ID)
			}
			expiry, err := parseBackupDate(rc.ExpiryDate)
			if err != nil {
				return nil, invalid("invalid certificate %d of user %q: bad expiry date", j+1, rec.ID)
			}
			user.Certificates = append(user.Certificates, models.Certificate{
				ID:         rc.ID,
				UserID:     rec.ID,
				Title:      clean(rc.Title, maxTitleLen),
				File:       rc.File,
				IssuedAt:   *issued,
				ExpiryDate: expiry,
				CreatedAt:  user.CreatedAt,
			})
		}
		users = append(users, user)
	}

	if !hasAdmin {
		return nil, invalid("backup must contain at least one admin user")
	}
	return users, nil
}

// parseBackupDate accepts plain dates and full timestamps, the latter being
// what some exports wrote for issue dates.
func parseBackupDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if d, err := time.Parse(models.DateLayout, value); err == nil {
		return &d, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, err
	}
	d := models.StartOfDay(t)
	return &d, nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(models.DateLayout)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func describeJSONError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Sprintf("field %q has the wrong type", typeErr.Field)
	}
	return "malformed users"
}
