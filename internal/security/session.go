package security

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"certportal/internal/models"
)

// SessionTTL is fixed; sessions are never refreshed.
const SessionTTL = 24 * time.Hour

const DefaultCookieName = "auth-session"

type Identity struct {
	ID    string
	Name  string
	Email string
	Role  models.UserRole
}

func (i Identity) IsAdmin() bool {
	return i.Role == models.UserRoleAdmin
}

func IdentityFromUser(user models.User) Identity {
	return Identity{
		ID:    user.ID,
		Name:  user.Name,
		Email: user.Email,
		Role:  user.Role,
	}
}

type SessionClaims struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

type SessionIssuer struct {
	secret []byte
	now    func() time.Time
}

func NewSessionIssuer(secret string, now func() time.Time) (*SessionIssuer, error) {
	if secret == "" {
		return nil, errors.New("session secret is empty")
	}
	if now == nil {
		now = time.Now
	}
	return &SessionIssuer{secret: []byte(secret), now: now}, nil
}

func (s *SessionIssuer) Issue(identity Identity) (string, time.Time, error) {
	issuedAt := s.now()
	expiresAt := issuedAt.Add(SessionTTL)

	claims := SessionClaims{
		ID:    identity.ID,
		Name:  identity.Name,
		Email: identity.Email,
		Role:  string(identity.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Subject:   identity.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify never reports an error: any defect in the token means there is no
// session.
func (s *SessionIssuer) Verify(tokenStr string) (Identity, bool) {
	if tokenStr == "" {
		return Identity{}, false
	}

	token, err := jwt.ParseWithClaims(tokenStr, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return Identity{}, false
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || claims.ID == "" || claims.Email == "" {
		return Identity{}, false
	}

	role := models.UserRole(claims.Role)
	if !role.Valid() {
		return Identity{}, false
	}

	return Identity{
		ID:    claims.ID,
		Name:  claims.Name,
		Email: claims.Email,
		Role:  role,
	}, true
}

func SessionCookie(name, token string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    token,
		Path:     "/",
		MaxAge:   int(SessionTTL / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func ClearedSessionCookie(name string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}
