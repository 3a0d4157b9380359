package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certportal/internal/models"
)

func TestBlobKeyFormat(t *testing.T) {
	batch := time.UnixMilli(1718445600123)
	key := BlobKey("Jane  Doe-Smith!", batch)

	pattern := regexp.MustCompile(`^jane-doe-smith-1718445600123-[0-9a-f-]{36}\.pdf$`)
	assert.Regexp(t, pattern, key)
	assert.NotEqual(t, key, BlobKey("Jane  Doe-Smith!", batch))
	assert.Regexp(t, `^certificate-`, BlobKey("!!!", batch))
}

func TestUploadStoresEveryFile(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	intern := h.createIntern("Jane Doe", "jane@example.com")

	res, err := h.certs.Upload(ctx, adminIdentity, UploadInput{
		UserID: intern.ID,
		Title:  "Completion",
		Files:  []UploadFile{pdfFile("a.pdf", "one"), pdfFile("b.PDF", "two"), pdfFile("c.pdf", "three")},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Stored)
	assert.Equal(t, []string{"Completion (1)", "Completion (2)", "Completion (3)"}, res.Titles)
	assert.Equal(t, 3, h.blobCount())

	certs := h.certificates(intern.ID)
	require.Len(t, certs, 3)
	for i, cert := range certs {
		assert.Equal(t, fmt.Sprintf("Completion (%d)", i+1), cert.Title)
		assert.Equal(t, "2024-06-15", cert.IssuedAt.Format(models.DateLayout))
		assert.Nil(t, cert.ExpiryDate)
		assert.Regexp(t, `^jane-doe-\d+-`, cert.File)
	}
}

func TestUploadSingleFileKeepsTitle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	intern := h.createIntern("Jane Doe", "jane@example.com")

	res, err := h.certs.Upload(ctx, adminIdentity, UploadInput{
		UserID:     intern.ID,
		Title:      "  Completion  ",
		ExpiryDate: "2025-06-15",
		Files:      []UploadFile{pdfFile("a.pdf", "one")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Completion"}, res.Titles)

	certs := h.certificates(intern.ID)
	require.Len(t, certs, 1)
	require.NotNil(t, certs[0].ExpiryDate)
	assert.Equal(t, "2025-06-15", certs[0].ExpiryDate.Format(models.DateLayout))
}

func TestUploadRollsBackWhenMetadataWriteFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	intern := h.createIntern("Jane Doe", "jane@example.com")
	h.store.failAddOn = 2

	_, err := h.certs.Upload(ctx, adminIdentity, UploadInput{
		UserID: intern.ID,
		Title:  "Completion",
		Files:  []UploadFile{pdfFile("a.pdf", "1"), pdfFile("b.pdf", "2"), pdfFile("c.pdf", "3")},
	})
	require.Error(t, err)

	var uploadErr *UploadError
	require.True(t, errors.As(err, &uploadErr))
	assert.ErrorIs(t, err, errMetadataDown)
	assert.Empty(t, uploadErr.Compensation)

	assert.Equal(t, 0, h.blobCount(), "no blob may survive a failed batch")
	assert.Empty(t, h.certificates(intern.ID), "no certificate row may survive a failed batch")
}

func TestUploadRollsBackWhenBlobWriteFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	intern := h.createIntern("Jane Doe", "jane@example.com")
	h.blobs.failSaveOn = 3

	_, err := h.certs.Upload(ctx, adminIdentity, UploadInput{
		UserID: intern.ID,
		Title:  "Completion",
		Files:  []UploadFile{pdfFile("a.pdf", "1"), pdfFile("b.pdf", "2"), pdfFile("c.pdf", "3")},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errBlobDown)

	assert.Equal(t, 0, h.blobCount())
	assert.Empty(t, h.certificates(intern.ID))
}

func TestUploadReportsCompensationFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	intern := h.createIntern("Jane Doe", "jane@example.com")
	h.store.failAddOn = 2
	h.blobs.failDelete = true

	_, err := h.certs.Upload(ctx, adminIdentity, UploadInput{
		UserID: intern.ID,
		Title:  "Completion",
		Files:  []UploadFile{pdfFile("a.pdf", "1"), pdfFile("b.pdf", "2")},
	})

	var uploadErr *UploadError
	require.True(t, errors.As(err, &uploadErr))
	assert.ErrorIs(t, err, errMetadataDown, "the original failure stays visible")
	require.Len(t, uploadErr.Compensation, 2)
	for _, f := range uploadErr.Compensation {
		assert.Equal(t, "blob", f.Kind)
		assert.ErrorIs(t, f.Err, errBlobDown)
	}
	assert.Empty(t, h.certificates(intern.ID))
}

func TestUploadPreconditions(t *testing.T) {
	tooMany := make([]UploadFile, 11)
	for i := range tooMany {
		tooMany[i] = pdfFile(fmt.Sprintf("f%d.pdf", i), "x")
	}
	big := pdfFile("big.pdf", "x")
	big.Size = 10<<20 + 1
	fake := UploadFile{
		Name: "fake.pdf",
		Size: 4,
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader([]byte("GIF8"))), nil },
	}

	tests := []struct {
		name    string
		input   func(intern models.User) UploadInput
		wantErr func(t *testing.T, err error)
	}{
		{
			name:  "no files",
			input: func(u models.User) UploadInput { return UploadInput{UserID: u.ID, Title: "T"} },
			wantErr: func(t *testing.T, err error) {
				assert.True(t, IsValidation(err))
			},
		},
		{
			name: "too many files",
			input: func(u models.User) UploadInput {
				return UploadInput{UserID: u.ID, Title: "T", Files: tooMany}
			},
			wantErr: func(t *testing.T, err error) {
				assert.True(t, IsValidation(err))
				assert.Contains(t, err.Error(), "at most 10")
			},
		},
		{
			name: "wrong extension",
			input: func(u models.User) UploadInput {
				return UploadInput{UserID: u.ID, Title: "T", Files: []UploadFile{pdfFile("ok.pdf", "1"), pdfFile("cert.docx", "2")}}
			},
			wantErr: func(t *testing.T, err error) {
				assert.True(t, IsValidation(err))
				assert.Contains(t, err.Error(), "cert.docx")
			},
		},
		{
			name: "file too large",
			input: func(u models.User) UploadInput {
				return UploadInput{UserID: u.ID, Title: "T", Files: []UploadFile{big}}
			},
			wantErr: func(t *testing.T, err error) {
				assert.True(t, IsValidation(err))
				assert.Contains(t, err.Error(), "10MB")
			},
		},
		{
			name: "not really a pdf",
			input: func(u models.User) UploadInput {
				return UploadInput{UserID: u.ID, Title: "T", Files: []UploadFile{fake}}
			},
			wantErr: func(t *testing.T, err error) {
				assert.True(t, IsValidation(err))
			},
		},
		{
			name: "unknown user",
			input: func(u models.User) UploadInput {
				return UploadInput{UserID: "nobody", Title: "T", Files: []UploadFile{pdfFile("a.pdf", "1")}}
			},
			wantErr: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrNotFound)
			},
		},
		{
			name: "missing title",
			input: func(u models.User) UploadInput {
				return UploadInput{UserID: u.ID, Title: "  ", Files: []UploadFile{pdfFile("a.pdf", "1")}}
			},
			wantErr: func(t *testing.T, err error) {
				assert.True(t, IsValidation(err))
			},
		},
		{
			name: "bad expiry date",
			input: func(u models.User) UploadInput {
				return UploadInput{UserID: u.ID, Title: "T", ExpiryDate: "15/06/2025", Files: []UploadFile{pdfFile("a.pdf", "1")}}
			},
			wantErr: func(t *testing.T, err error) {
				assert.True(t, IsValidation(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			intern := h.createIntern("Jane Doe", "jane@example.com")

			_, err := h.certs.Upload(context.Background(), adminIdentity, tt.input(intern))
			require.Error(t, err)
			tt.wantErr(t, err)

			assert.Equal(t, 0, h.blobs.saves, "preconditions must fail before any write")
			assert.Equal(t, 0, h.store.adds)
		})
	}
}

func TestUploadRequiresAdmin(t *testing.T) {
	h := newHarness(t)
	intern := h.createIntern("Jane Doe", "jane@example.com")

	_, err := h.certs.Upload(context.Background(), identityOf(intern), UploadInput{
		UserID: intern.ID, Title: "T", Files: []UploadFile{pdfFile("a.pdf", "1")},
	})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, 0, h.blobs.saves)
}

func TestDownloadRoundTripAndAccess(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	owner := h.createIntern("Jane Doe", "jane@example.com")
	other := h.createIntern("John Roe", "john@example.com")

	file := pdfFile("a.pdf", "\x00\x01binary\xff")
	_, err := h.certs.Upload(ctx, adminIdentity, UploadInput{UserID: owner.ID, Title: "T", Files: []UploadFile{file}})
	require.NoError(t, err)
	key := h.certificates(owner.ID)[0].File

	rc, err := file.Open()
	require.NoError(t, err)
	want, err := io.ReadAll(rc)
	require.NoError(t, err)

	got, err := h.certs.Download(ctx, identityOf(owner), key)
	require.NoError(t, err)
	assert.Equal(t, want, got.Data)
	assert.Equal(t, key, got.Key)

	_, err = h.certs.Download(ctx, identityOf(other), key)
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = h.certs.Download(ctx, identityOf(other), "does-not-exist.pdf")
	assert.ErrorIs(t, err, ErrAccessDenied, "non-owners cannot probe for existence")

	got, err = h.certs.Download(ctx, adminIdentity, key)
	require.NoError(t, err)
	assert.Equal(t, want, got.Data)

	_, err = h.certs.Download(ctx, adminIdentity, "does-not-exist.pdf")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = h.certs.Download(ctx, adminIdentity, "../secret.pdf")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, h.blobs.BlobStore.Delete(ctx, key))
	_, err = h.certs.Download(ctx, identityOf(owner), key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func addCertificate(t *testing.T, h *harness, userID, id, expiry string) models.Certificate {
	t.Helper()
	ctx := context.Background()
	key := id + ".pdf"
	require.NoError(t, h.blobs.Save(ctx, key, []byte("%PDF-1.4 "+id)))

	cert := models.Certificate{ID: id, Title: "Cert " + id, File: key, IssuedAt: models.StartOfDay(fixedNow)}
	if expiry != "" {
		d, err := time.Parse(models.DateLayout, expiry)
		require.NoError(t, err)
		cert.ExpiryDate = &d
	}
	require.NoError(t, h.store.AddCertificate(ctx, userID, cert))
	return cert
}

func TestExpiredCertificatesAreHiddenThenSwept(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	intern := h.createIntern("Jane Doe", "jane@example.com")

	addCertificate(t, h, intern.ID, "expired", "2024-06-14")
	addCertificate(t, h, intern.ID, "today", "2024-06-15")
	addCertificate(t, h, intern.ID, "forever", "")

	users, err := h.users.List(ctx, adminIdentity)
	require.NoError(t, err)
	var listed models.User
	for _, u := range users {
		if u.ID == intern.ID {
			listed = u
		}
	}
	require.Len(t, listed.Certificates, 2)
	assert.Equal(t, "today", listed.Certificates[0].ID)
	assert.Equal(t, "forever", listed.Certificates[1].ID)

	me, err := h.users.Me(ctx, identityOf(intern))
	require.NoError(t, err)
	assert.Len(t, me.Certificates, 2)

	_, err = h.certs.Download(ctx, identityOf(intern), "expired.pdf")
	assert.ErrorIs(t, err, ErrAccessDenied)

	assert.Len(t, h.certificates(intern.ID), 3, "expired rows stay until the sweep")
	assert.Equal(t, 3, h.blobCount())

	report, err := h.certs.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Removed)
	assert.Empty(t, report.BlobFailures)

	assert.Len(t, h.certificates(intern.ID), 2)
	assert.Equal(t, 2, h.blobCount())

	report, err = h.certs.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Removed)
}

func TestDeleteCertificateReportsBlobFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	intern := h.createIntern("Jane Doe", "jane@example.com")
	cert := addCertificate(t, h, intern.ID, "c1", "")
	h.blobs.failDelete = true

	report, err := h.certs.Delete(ctx, adminIdentity, cert.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{cert.File}, report.BlobFailures)
	assert.Empty(t, h.certificates(intern.ID))

	_, err = h.certs.Delete(ctx, adminIdentity, cert.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = h.certs.Delete(ctx, identityOf(intern), cert.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestDeleteCertificateFailsWhenMetadataFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	intern := h.createIntern("Jane Doe", "jane@example.com")
	cert := addCertificate(t, h, intern.ID, "c1", "")
	h.store.failCertDelete = true

	_, err := h.certs.Delete(ctx, adminIdentity, cert.ID)
	assert.ErrorIs(t, err, errMetadataDown)
}

func TestSweepRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	intern := h.createIntern("Jane Doe", "jane@example.com")
	addCertificate(t, h, intern.ID, "old", "2024-01-01")

	_, err := h.certs.Sweep(ctx, identityOf(intern))
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Len(t, h.certificates(intern.ID), 1)
	assert.Equal(t, 1, h.blobCount())

	report, err := h.certs.Sweep(ctx, adminIdentity)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Removed)
	assert.Empty(t, h.certificates(intern.ID))
}
