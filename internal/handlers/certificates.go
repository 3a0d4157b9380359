package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"certportal/internal/service"
)

const multipartOverhead = 1 << 20

func (h HandlerSet) UploadCertificates(c *gin.Context) {
	maxBody := int64(h.cfg.Upload.MaxFiles)*h.cfg.Upload.MaxFileSize + multipartOverhead
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBody)

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload is too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}

	headers := form.File["file"]
	files := make([]service.UploadFile, 0, len(headers))
	for _, fh := range headers {
		files = append(files, uploadFile(fh))
	}

	result, err := h.certService.Upload(c.Request.Context(), identity(c), service.UploadInput{
		UserID:     firstValue(form, "userId"),
		Title:      firstValue(form, "title"),
		ExpiryDate: firstValue(form, "expiryDate"),
		Files:      files,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	success(c, fmt.Sprintf("%d certificate(s) uploaded", result.Stored), gin.H{
		"count":  result.Stored,
		"titles": result.Titles,
	})
}

func uploadFile(fh *multipart.FileHeader) service.UploadFile {
	return service.UploadFile{
		Name: fh.Filename,
		Size: fh.Size,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

func firstValue(form *multipart.Form, key string) string {
	if values := form.Value[key]; len(values) > 0 {
		return values[0]
	}
	return ""
}

func (h HandlerSet) DeleteCertificate(c *gin.Context) {
	report, err := h.certService.Delete(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, "certificate deleted", gin.H{"failedFiles": nonNil(report.BlobFailures)})
}

func (h HandlerSet) Download(c *gin.Context) {
	file, err := h.certService.Download(c.Request.Context(), identity(c), c.Param("filename"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Key))
	c.Header("Cache-Control", "private, no-store")
	c.Data(http.StatusOK, "application/pdf", file.Data)
}
