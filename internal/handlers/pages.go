package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"certportal/internal/middleware"
	"certportal/internal/security"
)

func (h HandlerSet) page(c *gin.Context, name, title string, data gin.H) {
	if data == nil {
		data = gin.H{}
	}
	data["Title"] = title
	if id, ok := middleware.CurrentIdentity(c); ok {
		data["Identity"] = id
	}
	c.HTML(http.StatusOK, name, data)
}

func (h HandlerSet) IndexPage(c *gin.Context) {
	h.page(c, "index.html", "Welcome", nil)
}

func (h HandlerSet) LoginPage(c *gin.Context) {
	h.page(c, "login.html", "Sign in", nil)
}

func (h HandlerSet) DashboardPage(c *gin.Context) {
	user, err := h.userService.Me(c.Request.Context(), identity(c))
	if err != nil {
		h.log.Warn().Err(err).Msg("dashboard user lookup failed")
		http.SetCookie(c.Writer, security.ClearedSessionCookie(h.cfg.Security.CookieName, h.cfg.IsProduction()))
		c.Redirect(http.StatusSeeOther, middleware.LoginPath)
		return
	}
	h.page(c, "dashboard.html", "My certificates", gin.H{"User": user})
}

func (h HandlerSet) AdminPage(c *gin.Context) {
	users, err := h.userService.List(c.Request.Context(), identity(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.page(c, "admin.html", "Administration", gin.H{"Users": users})
}
