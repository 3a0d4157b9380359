package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"certportal/internal/middleware"
	"certportal/internal/security"
	"certportal/internal/service"
)

type loginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

type identityResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func toIdentityResponse(identity security.Identity) identityResponse {
	return identityResponse{
		ID:    identity.ID,
		Name:  identity.Name,
		Email: identity.Email,
		Role:  string(identity.Role),
	}
}

// fromForm reports whether the request came from an HTML form rather than
// the JSON API.
func fromForm(c *gin.Context) bool {
	ct := c.ContentType()
	return ct == "application/x-www-form-urlencoded" || ct == "multipart/form-data"
}

func (h HandlerSet) setSession(c *gin.Context, token string) {
	http.SetCookie(c.Writer, security.SessionCookie(h.cfg.Security.CookieName, token, h.cfg.IsProduction()))
}

func (h HandlerSet) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := h.authService.Login(c.Request.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		if fromForm(c) && (service.IsValidation(err) || errors.Is(err, service.ErrInvalidCredentials)) {
			c.HTML(http.StatusUnauthorized, "login.html", gin.H{"Title": "Sign in", "Error": "Invalid email or password"})
			return
		}
		if errors.Is(err, service.ErrInvalidCredentials) {
			h.log.Warn().Str("client_ip", c.ClientIP()).Msg("login failed")
		}
		h.respondError(c, err)
		return
	}

	h.setSession(c, result.Token)
	h.log.Info().Str("user_id", result.Identity.ID).Msg("login succeeded")

	if fromForm(c) {
		c.Redirect(http.StatusSeeOther, middleware.HomeFor(result.Identity))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"user":      toIdentityResponse(result.Identity),
		"expiresAt": result.ExpiresAt,
		"redirect":  middleware.HomeFor(result.Identity),
	})
}

func (h HandlerSet) Logout(c *gin.Context) {
	http.SetCookie(c.Writer, security.ClearedSessionCookie(h.cfg.Security.CookieName, h.cfg.IsProduction()))

	if fromForm(c) || strings.Contains(c.GetHeader("Accept"), "text/html") {
		c.Redirect(http.StatusSeeOther, middleware.LoginPath)
		return
	}
	success(c, "logged out", nil)
}

func (h HandlerSet) Me(c *gin.Context) {
	user, err := h.userService.Me(c.Request.Context(), identity(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": toUserResponse(user)})
}
