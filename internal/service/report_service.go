package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"certportal/internal/models"
	"certportal/internal/repository"
	"certportal/internal/security"
)

const rosterSheet = "Interns"

var rosterHeaders = []string{"Name", "Email", "Role", "Position", "Internship Start", "Internship End", "Valid Certificates", "Certificate Titles"}

type ReportService struct {
	store repository.Store
	now   func() time.Time
	log   zerolog.Logger
}

func NewReportService(store repository.Store, now func() time.Time, log zerolog.Logger) *ReportService {
	if now == nil {
		now = time.Now
	}
	return &ReportService{store: store, now: now, log: log}
}

// WriteRoster renders every account and its valid certificates as an XLSX
// workbook.
func (s *ReportService) WriteRoster(ctx context.Context, actor security.Identity, w io.Writer) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(rosterSheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("drop default sheet: %w", err)
	}

	for i, h := range rosterHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(rosterSheet, cell, h)
	}

	now := s.now()
	for i, user := range users {
		row := i + 2
		valid := models.ValidCertificates(user.Certificates, now)

		titles := ""
		for j, cert := range valid {
			if j > 0 {
				titles += "; "
			}
			titles += cert.Title
		}

		values := []any{
			user.Name,
			user.Email,
			string(user.Role),
			user.Position,
			formatDate(user.InternshipStart),
			formatDate(user.InternshipEnd),
			len(valid),
			titles,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			f.SetCellValue(rosterSheet, cell, v)
		}
	}

	f.SetColWidth(rosterSheet, "A", "B", 28)
	f.SetColWidth(rosterSheet, "C", "C", 8)
	f.SetColWidth(rosterSheet, "D", "F", 16)
	f.SetColWidth(rosterSheet, "G", "G", 10)
	f.SetColWidth(rosterSheet, "H", "H", 48)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	s.log.Info().Str("actor_id", actor.ID).Int("users", len(users)).Msg("roster exported")
	return nil
}
