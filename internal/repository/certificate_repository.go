package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"certportal/internal/models"
)

type CertificateRepository struct {
	db dbtx
}

func NewCertificateRepository(db dbtx) *CertificateRepository {
	return &CertificateRepository{db: db}
}

const certificateColumns = `id, user_id, title, file, issued_at, expiry_date, created_at`

func (r *CertificateRepository) Create(ctx context.Context, cert models.Certificate) error {
	const query = `
		INSERT INTO certificates (
			id, user_id, title, file, issued_at, expiry_date, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, COALESCE($7, NOW())
		)
	`

	var createdAt *time.Time
	if !cert.CreatedAt.IsZero() {
		created := cert.CreatedAt
		createdAt = &created
	}

	_, err := r.db.Exec(ctx, query,
		cert.ID,
		cert.UserID,
		cert.Title,
		cert.File,
		cert.IssuedAt,
		cert.ExpiryDate,
		createdAt,
	)
	return mapWriteError(err)
}

func (r *CertificateRepository) GetByID(ctx context.Context, id string) (models.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE id = $1`
	return scanCertificate(r.db.QueryRow(ctx, query, id))
}

func (r *CertificateRepository) ListByUser(ctx context.Context, userID string) ([]models.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE user_id = $1 ORDER BY seq`
	return r.list(ctx, query, userID)
}

func (r *CertificateRepository) ListAll(ctx context.Context) ([]models.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates ORDER BY seq`
	return r.list(ctx, query)
}

func (r *CertificateRepository) list(ctx context.Context, query string, args ...any) ([]models.Certificate, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var certs []models.Certificate
	for rows.Next() {
		cert, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	return certs, rows.Err()
}

func (r *CertificateRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM certificates WHERE id = $1`
	cmd, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrCertificateNotFound
	}
	return nil
}

func scanCertificate(row pgx.Row) (models.Certificate, error) {
	var cert models.Certificate
	if err := row.Scan(
		&cert.ID,
		&cert.UserID,
		&cert.Title,
		&cert.File,
		&cert.IssuedAt,
		&cert.ExpiryDate,
		&cert.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Certificate{}, ErrCertificateNotFound
		}
		return models.Certificate{}, err
	}
	return cert, nil
}
