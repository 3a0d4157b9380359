package web

import (
	"time"

	"certportal/internal/models"
)

func formatDate(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(models.DateLayout)
	case *time.Time:
		if t != nil {
			return t.UTC().Format(models.DateLayout)
		}
	}
	return "-"
}
