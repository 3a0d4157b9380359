package service

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"certportal/internal/models"
)

const (
	maxNameLen     = 100
	maxEmailLen    = 255
	maxPositionLen = 100
	maxDateLen     = 20
	maxTitleLen    = 200
	maxIDLen       = 50

	minPasswordLen = 6
	maxPasswordLen = 128
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// clean trims surrounding whitespace and clips to max runes.
func clean(s string, max int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

func validEmail(email string) bool {
	return len(email) <= maxEmailLen && emailPattern.MatchString(email)
}

func validatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < minPasswordLen || n > maxPasswordLen {
		return invalid("password must be between %d and %d characters", minPasswordLen, maxPasswordLen)
	}
	return nil
}

func parseDate(field, value string) (time.Time, error) {
	d, err := time.Parse(models.DateLayout, value)
	if err != nil {
		return time.Time{}, invalid("%s must be a valid date (YYYY-MM-DD)", field)
	}
	return d, nil
}

func parseOptionalDate(field, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	d, err := parseDate(field, value)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func validatePeriod(start, end *time.Time) error {
	if start != nil && end != nil && start.After(*end) {
		return invalid("internship start date must not be after the end date")
	}
	return nil
}
