package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"certportal/internal/models"
)

const (
	maxRestoreSize = 50 << 20
	xlsxMimeType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

func (h HandlerSet) Backup(c *gin.Context) {
	doc, err := h.backupService.Backup(c.Request.Context(), identity(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	name := fmt.Sprintf("backup-%s.json", h.now().UTC().Format(models.DateLayout))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.JSON(http.StatusOK, doc)
}

// Restore accepts the backup either as a raw JSON body or as a multipart
// "file" field.
func (h HandlerSet) Restore(c *gin.Context) {
	raw, err := h.readRestoreBody(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summary, err := h.backupService.Restore(c.Request.Context(), identity(c), raw)
	if err != nil {
		h.respondError(c, err)
		return
	}

	success(c, fmt.Sprintf("restored %d users and %d certificates", summary.Users, summary.Certificates), gin.H{
		"users":        summary.Users,
		"certificates": summary.Certificates,
	})
}

func (h HandlerSet) readRestoreBody(c *gin.Context) ([]byte, error) {
	if c.ContentType() == "multipart/form-data" {
		fh, err := c.FormFile("file")
		if err != nil {
			return nil, errors.New("backup file is required")
		}
		if fh.Size > maxRestoreSize {
			return nil, errors.New("backup file is too large")
		}
		f, err := fh.Open()
		if err != nil {
			return nil, errors.New("backup file could not be read")
		}
		defer f.Close()
		return io.ReadAll(io.LimitReader(f, maxRestoreSize))
	}

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRestoreSize+1))
	if err != nil {
		return nil, errors.New("backup could not be read")
	}
	if len(raw) > maxRestoreSize {
		return nil, errors.New("backup file is too large")
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errors.New("backup file is required")
	}
	return raw, nil
}

func (h HandlerSet) Cleanup(c *gin.Context) {
	report, err := h.certService.Sweep(c.Request.Context(), identity(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, fmt.Sprintf("removed %d expired certificates", report.Removed), gin.H{
		"removed":     report.Removed,
		"failedFiles": nonNil(report.BlobFailures),
	})
}

func (h HandlerSet) ExportUsers(c *gin.Context) {
	var buf bytes.Buffer
	if err := h.reportService.WriteRoster(c.Request.Context(), identity(c), &buf); err != nil {
		h.respondError(c, err)
		return
	}

	name := fmt.Sprintf("interns-%s.xlsx", h.now().UTC().Format(models.DateLayout))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, xlsxMimeType, buf.Bytes())
}
