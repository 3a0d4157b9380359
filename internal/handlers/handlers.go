package handlers

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"certportal/internal/config"
	"certportal/internal/middleware"
	"certportal/internal/models"
	"certportal/internal/ratelimit"
	"certportal/internal/repository"
	"certportal/internal/security"
	"certportal/internal/service"
	"certportal/internal/storage"
)

// Dependencies are the collaborators a HandlerSet is built from. Cache and
// the limiters are optional.
type Dependencies struct {
	Store        repository.Store
	Blobs        storage.BlobStore
	Cache        *redis.Client
	LoginLimiter ratelimit.Limiter
	APILimiter   ratelimit.Limiter
	Now          func() time.Time
}

type HandlerSet struct {
	log           zerolog.Logger
	cfg           *config.AppConfig
	authService   *service.AuthService
	userService   *service.UserService
	certService   *service.CertificateService
	backupService *service.BackupService
	reportService *service.ReportService
	store         repository.Store
	cache         *redis.Client
	loginLimiter  ratelimit.Limiter
	apiLimiter    ratelimit.Limiter
	now           func() time.Time
}

func NewHandlerSet(log zerolog.Logger, cfg *config.AppConfig, deps Dependencies) (HandlerSet, error) {
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	sessions, err := security.NewSessionIssuer(cfg.Security.SessionSecret, now)
	if err != nil {
		return HandlerSet{}, fmt.Errorf("session issuer: %w", err)
	}

	limits := service.UploadLimits{MaxFiles: cfg.Upload.MaxFiles, MaxFileSize: cfg.Upload.MaxFileSize}

	return HandlerSet{
		log:           log,
		cfg:           cfg,
		authService:   service.NewAuthService(deps.Store, sessions, log),
		userService:   service.NewUserService(deps.Store, deps.Blobs, now, log),
		certService:   service.NewCertificateService(deps.Store, deps.Blobs, limits, now, log),
		backupService: service.NewBackupService(deps.Store, now, log),
		reportService: service.NewReportService(deps.Store, now, log),
		store:         deps.Store,
		cache:         deps.Cache,
		loginLimiter:  deps.LoginLimiter,
		apiLimiter:    deps.APILimiter,
		now:           now,
	}, nil
}

// Verifier resolves session cookies for the middleware chain.
func (h HandlerSet) Verifier() middleware.SessionVerifier {
	return h.authService
}

// Certificates exposes the certificate service to the scheduler for local
// cleanup runs.
func (h HandlerSet) Certificates() *service.CertificateService {
	return h.certService
}

func (h HandlerSet) RegisterPages(router gin.IRoutes) {
	router.GET("/", h.IndexPage)
	router.GET(middleware.LoginPath, h.LoginPage)
	router.GET(middleware.DashboardPath, h.DashboardPage)
	router.GET(middleware.AdminPath, h.AdminPage)
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	if h.apiLimiter != nil {
		router.Use(middleware.RateLimit(h.apiLimiter, "api", h.log))
	}

	router.GET("/healthz", h.Health)

	auth := router.Group("/auth")
	{
		login := []gin.HandlerFunc{h.Login}
		if h.loginLimiter != nil {
			login = append([]gin.HandlerFunc{middleware.RateLimit(h.loginLimiter, "login", h.log)}, login...)
		}
		auth.POST("/login", login...)
		auth.POST("/logout", h.Logout)
		auth.GET("/me", middleware.RequireSession(), h.Me)
	}

	session := router.Group("")
	session.Use(middleware.RequireSession())
	session.GET("/download/:filename", h.Download)

	admin := router.Group("")
	admin.Use(middleware.RequireRoles(models.UserRoleAdmin))
	{
		admin.GET("/users", h.ListUsers)
		admin.POST("/users", h.CreateUser)
		admin.PUT("/users/:id", h.UpdateUser)
		admin.DELETE("/users/:id", h.DeleteUser)

		admin.POST("/certificates", h.UploadCertificates)
		admin.DELETE("/certificates/:id", h.DeleteCertificate)

		admin.GET("/backup", h.Backup)
		admin.POST("/restore", h.Restore)

		admin.PUT("/admin/profile", h.UpdateProfile)
		admin.POST("/admin/cleanup", h.Cleanup)
		admin.GET("/admin/export/users.xlsx", h.ExportUsers)
	}
}

func identity(c *gin.Context) security.Identity {
	id, _ := middleware.CurrentIdentity(c)
	return id
}
