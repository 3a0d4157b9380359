package models

import "time"

type UserRole string

const (
	UserRoleUser  UserRole = "user"
	UserRoleAdmin UserRole = "admin"
)

func (r UserRole) Valid() bool {
	return r == UserRoleUser || r == UserRoleAdmin
}

// DateLayout is the calendar date format used for internship periods and
// certificate dates.
const DateLayout = "2006-01-02"

type User struct {
	ID              string        `json:"id"`
	Email           string        `json:"email"`
	PasswordHash    string        `json:"passwordHash"`
	Name            string        `json:"name"`
	Role            UserRole      `json:"role"`
	Position        string        `json:"position,omitempty"`
	InternshipStart *time.Time    `json:"internshipStart,omitempty"`
	InternshipEnd   *time.Time    `json:"internshipEnd,omitempty"`
	Certificates    []Certificate `json:"certificates"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

func (u User) IsAdmin() bool {
	return u.Role == UserRoleAdmin
}

// OwnsFile reports whether one of the user's certificates points at key.
func (u User) OwnsFile(key string) bool {
	for _, cert := range u.Certificates {
		if cert.File == key {
			return true
		}
	}
	return false
}

// UserUpdate carries the mutable fields of a user. Nil fields are left
// untouched. Role cannot change after creation.
type UserUpdate struct {
	Name            *string
	Email           *string
	PasswordHash    *string
	Position        *string
	InternshipStart *time.Time
	InternshipEnd   *time.Time
}

func (u UserUpdate) Apply(user *User) {
	if u.Name != nil {
		user.Name = *u.Name
	}
	if u.Email != nil {
		user.Email = *u.Email
	}
	if u.PasswordHash != nil {
		user.PasswordHash = *u.PasswordHash
	}
	if u.Position != nil {
		user.Position = *u.Position
	}
	if u.InternshipStart != nil {
		start := *u.InternshipStart
		user.InternshipStart = &start
	}
	if u.InternshipEnd != nil {
		end := *u.InternshipEnd
		user.InternshipEnd = &end
	}
}
