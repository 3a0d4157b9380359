package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"certportal/internal/ids"
	"certportal/internal/media/sniffer"
	"certportal/internal/models"
	"certportal/internal/repository"
	"certportal/internal/security"
	"certportal/internal/storage"
)

type UploadLimits struct {
	MaxFiles    int
	MaxFileSize int64
}

var DefaultUploadLimits = UploadLimits{MaxFiles: 10, MaxFileSize: 10 << 20}

type CertificateService struct {
	store  repository.Store
	blobs  storage.BlobStore
	limits UploadLimits
	now    func() time.Time
	newKey func(owner string, batch time.Time) string
	log    zerolog.Logger
}

func NewCertificateService(store repository.Store, blobs storage.BlobStore, limits UploadLimits, now func() time.Time, log zerolog.Logger) *CertificateService {
	if now == nil {
		now = time.Now
	}
	return &CertificateService{
		store:  store,
		blobs:  blobs,
		limits: limits,
		now:    now,
		newKey: BlobKey,
		log:    log,
	}
}

type UploadFile struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

type UploadInput struct {
	UserID     string
	Title      string
	ExpiryDate string
	Files      []UploadFile
}

type UploadResult struct {
	Stored int
	Titles []string
}

type CompensationFailure struct {
	Kind string
	Key  string
	Err  error
}

// UploadError wraps the failure that aborted a batch. Compensation lists the
// cleanup steps that also failed; it never replaces Err.
type UploadError struct {
	Err          error
	Compensation []CompensationFailure
}

func (e *UploadError) Error() string {
	return e.Err.Error()
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// BlobKey builds <normalized-name>-<batch-millis>-<uuid>.pdf.
func BlobKey(owner string, batch time.Time) string {
	slug := strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(owner), "-"), "-")
	if slug == "" {
		slug = "certificate"
	}
	if len(slug) > 60 {
		slug = strings.TrimRight(slug[:60], "-")
	}
	return fmt.Sprintf("%s-%d-%s.pdf", slug, batch.UnixMilli(), uuid.NewString())
}

func (s *CertificateService) Upload(ctx context.Context, actor security.Identity, input UploadInput) (UploadResult, error) {
	if !actor.IsAdmin() {
		return UploadResult{}, ErrForbidden
	}

	userID := clean(input.UserID, maxIDLen)
	title := clean(input.Title, maxTitleLen)
	if userID == "" || title == "" {
		return UploadResult{}, invalid("user and title are required")
	}
	expiry, err := parseOptionalDate("expiry date", clean(input.ExpiryDate, maxDateLen))
	if err != nil {
		return UploadResult{}, err
	}
	if err := s.precheckFiles(input.Files); err != nil {
		return UploadResult{}, err
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return UploadResult{}, ErrNotFound
		}
		return UploadResult{}, fmt.Errorf("load user: %w", err)
	}

	batch := s.now()
	issuedAt := models.StartOfDay(batch)
	count := len(input.Files)

	var (
		writtenKeys  []string
		writtenCerts []string
		titles       = make([]string, 0, count)
	)

	for i, file := range input.Files {
		data, err := readUpload(file, s.limits.MaxFileSize)
		if err != nil {
			return UploadResult{}, s.unwind(ctx, fmt.Errorf("read %s: %w", file.Name, err), writtenKeys, writtenCerts)
		}

		key := s.newKey(user.Name, batch)
		if err := s.blobs.Save(ctx, key, data); err != nil {
			return UploadResult{}, s.unwind(ctx, fmt.Errorf("save file %s: %w", file.Name, err), writtenKeys, writtenCerts)
		}
		writtenKeys = append(writtenKeys, key)

		certTitle := title
		if count > 1 {
			certTitle = fmt.Sprintf("%s (%d)", title, i+1)
		}
		cert := models.Certificate{
			ID:         ids.New(),
			UserID:     user.ID,
			Title:      certTitle,
			File:       key,
			IssuedAt:   issuedAt,
			ExpiryDate: expiry,
			CreatedAt:  batch.UTC(),
		}
		if err := s.store.AddCertificate(ctx, user.ID, cert); err != nil {
			return UploadResult{}, s.unwind(ctx, fmt.Errorf("save certificate %s: %w", file.Name, err), writtenKeys, writtenCerts)
		}
		writtenCerts = append(writtenCerts, cert.ID)
		titles = append(titles, certTitle)
	}

	s.log.Info().
		Str("user_id", user.ID).
		Str("actor_id", actor.ID).
		Int("files", count).
		Msg("certificates uploaded")

	return UploadResult{Stored: count, Titles: titles}, nil
}

func (s *CertificateService) precheckFiles(files []UploadFile) error {
	if len(files) == 0 {
		return invalid("at least one PDF file is required")
	}
	if len(files) > s.limits.MaxFiles {
		return invalid("at most %d files can be uploaded at once", s.limits.MaxFiles)
	}

	maxMB := s.limits.MaxFileSize >> 20
	for _, file := range files {
		if !sniffer.HasPDFExtension(file.Name) {
			return invalid("file %q must be a PDF", file.Name)
		}
		if file.Size > s.limits.MaxFileSize {
			return invalid("file %q exceeds the %dMB limit", file.Name, maxMB)
		}
		if err := sniffPDF(file); err != nil {
			return err
		}
	}
	return nil
}

func sniffPDF(file UploadFile) error {
	rc, err := file.Open()
	if err != nil {
		return invalid("file %q could not be read", file.Name)
	}
	defer rc.Close()

	if _, _, err := sniffer.Detect(rc); err != nil {
		if errors.Is(err, sniffer.ErrUnknownType) {
			return invalid("file %q is not a valid PDF document", file.Name)
		}
		return invalid("file %q could not be read", file.Name)
	}
	return nil
}

func readUpload(file UploadFile, limit int64) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("file grew past %d bytes", limit)
	}
	return data, nil
}

// unwind removes every blob and certificate row this batch wrote. Cleanup
// failures are logged and attached to the returned error.
func (s *CertificateService) unwind(ctx context.Context, cause error, keys []string, certIDs []string) error {
	ctx = context.WithoutCancel(ctx)
	uploadErr := &UploadError{Err: cause}

	for _, id := range certIDs {
		if err := s.store.DeleteCertificate(ctx, id); err != nil && !errors.Is(err, repository.ErrCertificateNotFound) {
			s.log.Error().Err(err).Str("cert_id", id).Msg("rollback: certificate delete failed")
			uploadErr.Compensation = append(uploadErr.Compensation, CompensationFailure{Kind: "certificate", Key: id, Err: err})
		}
	}
	for _, key := range keys {
		if err := s.blobs.Delete(ctx, key); err != nil {
			s.log.Error().Err(err).Str("blob_key", key).Msg("rollback: file delete failed")
			uploadErr.Compensation = append(uploadErr.Compensation, CompensationFailure{Kind: "blob", Key: key, Err: err})
		}
	}

	s.log.Warn().
		Err(cause).
		Int("blobs_written", len(keys)).
		Int("certificates_written", len(certIDs)).
		Int("compensation_failures", len(uploadErr.Compensation)).
		Msg("upload rolled back")
	return uploadErr
}

func (s *CertificateService) Delete(ctx context.Context, actor security.Identity, certID string) (DeleteReport, error) {
	if !actor.IsAdmin() {
		return DeleteReport{}, ErrForbidden
	}
	certID = clean(certID, maxIDLen)

	cert, err := s.store.GetCertificateByID(ctx, certID)
	if err != nil {
		if errors.Is(err, repository.ErrCertificateNotFound) {
			return DeleteReport{}, ErrNotFound
		}
		return DeleteReport{}, fmt.Errorf("load certificate: %w", err)
	}

	report, err := s.remove(ctx, cert)
	if err != nil {
		return report, err
	}
	s.log.Info().Str("cert_id", cert.ID).Str("actor_id", actor.ID).Msg("certificate deleted")
	return report, nil
}

func (s *CertificateService) remove(ctx context.Context, cert models.Certificate) (DeleteReport, error) {
	var report DeleteReport
	if err := s.blobs.Delete(ctx, cert.File); err != nil {
		s.log.Warn().Err(err).Str("cert_id", cert.ID).Str("blob_key", cert.File).Msg("certificate file delete failed")
		report.BlobFailures = append(report.BlobFailures, cert.File)
	}
	if err := s.store.DeleteCertificate(ctx, cert.ID); err != nil {
		if errors.Is(err, repository.ErrCertificateNotFound) {
			return report, ErrNotFound
		}
		return report, fmt.Errorf("delete certificate: %w", err)
	}
	return report, nil
}

type SweepReport struct {
	Removed      int
	BlobFailures []string
}

// Sweep runs SweepExpired on behalf of an admin.
func (s *CertificateService) Sweep(ctx context.Context, actor security.Identity) (SweepReport, error) {
	if !actor.IsAdmin() {
		return SweepReport{}, ErrForbidden
	}
	return s.SweepExpired(ctx)
}

// SweepExpired physically removes certificates whose expiry date is before
// today. It is the scheduler's entry point and checks no actor.
func (s *CertificateService) SweepExpired(ctx context.Context) (SweepReport, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return SweepReport{}, fmt.Errorf("list users: %w", err)
	}

	now := s.now()
	var report SweepReport
	for _, user := range users {
		for _, cert := range user.Certificates {
			if !cert.ExpiredAt(now) {
				continue
			}
			res, err := s.remove(ctx, cert)
			report.BlobFailures = append(report.BlobFailures, res.BlobFailures...)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return report, err
			}
			report.Removed++
		}
	}

	s.log.Info().Int("removed", report.Removed).Int("blob_failures", len(report.BlobFailures)).Msg("expired certificates swept")
	return report, nil
}

type Download struct {
	Key  string
	Data []byte
}

// Download returns the bytes of key. Non-admins only see files attached to
// their own valid certificates and get ErrAccessDenied otherwise, whether or
// not the file exists.
func (s *CertificateService) Download(ctx context.Context, identity security.Identity, key string) (Download, error) {
	if !identity.IsAdmin() {
		user, err := s.store.GetUserByID(ctx, identity.ID)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return Download{}, ErrAccessDenied
			}
			return Download{}, fmt.Errorf("load user: %w", err)
		}
		user.Certificates = models.ValidCertificates(user.Certificates, s.now())
		if !user.OwnsFile(key) {
			return Download{}, ErrAccessDenied
		}
	}

	if err := storage.ValidKey(key); err != nil {
		return Download{}, ErrNotFound
	}
	data, err := s.blobs.Read(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			return Download{}, ErrNotFound
		}
		return Download{}, fmt.Errorf("read file: %w", err)
	}
	return Download{Key: key, Data: data}, nil
}
