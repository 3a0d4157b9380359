package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"certportal/internal/models"
	"certportal/internal/service"
)

type certificateResponse struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	File       string  `json:"file"`
	IssuedAt   string  `json:"issuedAt"`
	ExpiryDate *string `json:"expiryDate"`
}

type userResponse struct {
	ID              string                `json:"id"`
	Name            string                `json:"name"`
	Email           string                `json:"email"`
	Role            string                `json:"role"`
	Position        string                `json:"position,omitempty"`
	InternshipStart *string               `json:"internshipStart,omitempty"`
	InternshipEnd   *string               `json:"internshipEnd,omitempty"`
	Certificates    []certificateResponse `json:"certificates"`
	CreatedAt       time.Time             `json:"createdAt"`
}

func dateString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(models.DateLayout)
	return &s
}

func toUserResponse(user models.User) userResponse {
	resp := userResponse{
		ID:              user.ID,
		Name:            user.Name,
		Email:           user.Email,
		Role:            string(user.Role),
		Position:        user.Position,
		InternshipStart: dateString(user.InternshipStart),
		InternshipEnd:   dateString(user.InternshipEnd),
		Certificates:    make([]certificateResponse, 0, len(user.Certificates)),
		CreatedAt:       user.CreatedAt,
	}
	for _, cert := range user.Certificates {
		resp.Certificates = append(resp.Certificates, certificateResponse{
			ID:         cert.ID,
			Title:      cert.Title,
			File:       cert.File,
			IssuedAt:   cert.IssuedAt.UTC().Format(models.DateLayout),
			ExpiryDate: dateString(cert.ExpiryDate),
		})
	}
	return resp
}

func (h HandlerSet) ListUsers(c *gin.Context) {
	users, err := h.userService.List(c.Request.Context(), identity(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := make([]userResponse, 0, len(users))
	for _, user := range users {
		resp = append(resp, toUserResponse(user))
	}
	c.JSON(http.StatusOK, gin.H{"users": resp})
}

type userRequest struct {
	Name            string `json:"name" form:"name"`
	Email           string `json:"email" form:"email"`
	Password        string `json:"password" form:"password"`
	Position        string `json:"position" form:"position"`
	InternshipStart string `json:"internshipStart" form:"internshipStart"`
	InternshipEnd   string `json:"internshipEnd" form:"internshipEnd"`
}

func (h HandlerSet) CreateUser(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	user, err := h.userService.Create(c.Request.Context(), identity(c), service.CreateUserInput{
		Name:            req.Name,
		Email:           req.Email,
		Password:        req.Password,
		Position:        req.Position,
		InternshipStart: req.InternshipStart,
		InternshipEnd:   req.InternshipEnd,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "user created",
		"user":    toUserResponse(user),
	})
}

func (h HandlerSet) UpdateUser(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	err := h.userService.Update(c.Request.Context(), identity(c), c.Param("id"), service.UpdateUserInput{
		Name:            req.Name,
		Email:           req.Email,
		Password:        req.Password,
		Position:        req.Position,
		InternshipStart: req.InternshipStart,
		InternshipEnd:   req.InternshipEnd,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, "user updated", nil)
}

func (h HandlerSet) DeleteUser(c *gin.Context) {
	report, err := h.userService.Delete(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, "user deleted", gin.H{"failedFiles": nonNil(report.BlobFailures)})
}

type profileRequest struct {
	Name     string `json:"name" form:"name"`
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// UpdateProfile edits the signed-in admin's own account and re-issues the
// session so the cookie carries the new name and email.
func (h HandlerSet) UpdateProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	user, err := h.userService.UpdateProfile(c.Request.Context(), identity(c), service.ProfileInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	result, err := h.authService.IssueFor(user)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.setSession(c, result.Token)
	success(c, "profile updated", gin.H{"user": toIdentityResponse(result.Identity)})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
