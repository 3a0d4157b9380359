package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"certportal/internal/security"
)

type RouteClass int

const (
	RoutePublic RouteClass = iota
	RouteUser
	RouteAdmin
)

const (
	LoginPath     = "/login"
	DashboardPath = "/dashboard"
	AdminPath     = "/admin"
)

func under(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// ClassifyPage maps a page path to its access class. Anything outside the
// dashboard and admin trees is public; API routes guard themselves.
func ClassifyPage(path string) RouteClass {
	switch {
	case under(path, AdminPath):
		return RouteAdmin
	case under(path, DashboardPath):
		return RouteUser
	default:
		return RoutePublic
	}
}

// HomeFor is where a signed-in identity lands.
func HomeFor(identity security.Identity) string {
	if identity.IsAdmin() {
		return AdminPath
	}
	return DashboardPath
}

// PageRedirect decides whether a page request proceeds. It returns the
// redirect target, or "" to let the request through.
func PageRedirect(identity security.Identity, signedIn bool, path string) string {
	if !signedIn {
		if ClassifyPage(path) == RoutePublic {
			return ""
		}
		return LoginPath
	}

	if path == LoginPath {
		return HomeFor(identity)
	}

	switch ClassifyPage(path) {
	case RouteAdmin:
		if !identity.IsAdmin() {
			return DashboardPath
		}
	case RouteUser:
		if identity.IsAdmin() {
			return AdminPath
		}
	}
	return ""
}

// Gatekeeper applies PageRedirect to every non-API request. It must run after
// Session.
func Gatekeeper() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if under(path, "/api") {
			c.Next()
			return
		}

		identity, signedIn := CurrentIdentity(c)
		if target := PageRedirect(identity, signedIn, path); target != "" {
			c.Redirect(http.StatusSeeOther, target)
			c.Abort()
			return
		}
		c.Next()
	}
}
