package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"certportal/internal/models"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type UserRepository struct {
	db dbtx
}

func NewUserRepository(db dbtx) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, password_hash, name, role, position, internship_start, internship_end, created_at, updated_at`

func (r *UserRepository) Create(ctx context.Context, user models.User) error {
	const query = `
		INSERT INTO users (
			id, email, password_hash, name, role, position, internship_start, internship_end, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()), NOW()
		)
	`

	var createdAt *time.Time
	if !user.CreatedAt.IsZero() {
		created := user.CreatedAt
		createdAt = &created
	}

	_, err := r.db.Exec(ctx, query,
		user.ID,
		NormalizeEmail(user.Email),
		user.PasswordHash,
		user.Name,
		user.Role,
		user.Position,
		user.InternshipStart,
		user.InternshipEnd,
		createdAt,
	)
	return mapWriteError(err)
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = $1`
	return scanUser(r.db.QueryRow(ctx, query, NormalizeEmail(email)))
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRow(ctx, query, id))
}

func (r *UserRepository) List(ctx context.Context) ([]models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (r *UserRepository) Update(ctx context.Context, id string, update models.UserUpdate) error {
	const query = `
		UPDATE users
		SET name = COALESCE($2, name),
		    email = COALESCE($3, email),
		    password_hash = COALESCE($4, password_hash),
		    position = COALESCE($5, position),
		    internship_start = COALESCE($6, internship_start),
		    internship_end = COALESCE($7, internship_end),
		    updated_at = NOW()
		WHERE id = $1
	`

	var email *string
	if update.Email != nil {
		normalized := NormalizeEmail(*update.Email)
		email = &normalized
	}

	cmd, err := r.db.Exec(ctx, query, id,
		update.Name,
		email,
		update.PasswordHash,
		update.Position,
		update.InternshipStart,
		update.InternshipEnd,
	)
	if err != nil {
		return mapWriteError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM users WHERE id = $1`
	cmd, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) DeleteAll(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `DELETE FROM users`)
	return err
}

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Name,
		&user.Role,
		&user.Position,
		&user.InternshipStart,
		&user.InternshipEnd,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, err
	}
	return user, nil
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			if pgErr.ConstraintName == "users_email_lower_key" {
				return ErrEmailTaken
			}
		case pgForeignKeyViolation:
			return ErrUserNotFound
		}
	}
	return err
}
