package models

import "time"

type Certificate struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	Title      string     `json:"title"`
	File       string     `json:"file"`
	IssuedAt   time.Time  `json:"issuedAt"`
	ExpiryDate *time.Time `json:"expiryDate,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// ExpiredAt reports whether the certificate's expiry date falls strictly
// before the calendar day of now. A certificate expiring today is still valid.
func (c Certificate) ExpiredAt(now time.Time) bool {
	if c.ExpiryDate == nil {
		return false
	}
	return c.ExpiryDate.UTC().Before(StartOfDay(now))
}

func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ValidCertificates returns the certificates that have not expired at now,
// preserving order.
func ValidCertificates(certs []Certificate, now time.Time) []Certificate {
	valid := make([]Certificate, 0, len(certs))
	for _, cert := range certs {
		if !cert.ExpiredAt(now) {
			valid = append(valid, cert)
		}
	}
	return valid
}
