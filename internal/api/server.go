// Package api provides the HTTP API server for recoverybot.
package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/wesm/recoverybot/internal/config"
	"github.com/wesm/recoverybot/internal/recovery"
	"github.com/wesm/recoverybot/internal/scheduler"
	"github.com/wesm/recoverybot/internal/store"
	"go.uber.org/zap"
)

// RecoveryService is the recovery pipeline the API exposes.
type RecoveryService interface {
	Introspect(ctx context.Context, userIdentity string) (*recovery.Report, error)
	ConfirmRecovery(ctx context.Context, link string) error
}

// Authorizer runs the OAuth authorization code flow.
type Authorizer interface {
	AuthCodeURL(ctx context.Context, loginHint string) (string, error)
	Approve(ctx context.Context, code, state string) (string, error)
}

// CredentialLister lists stored credentials for export.
type CredentialLister interface {
	ListTokens(ctx context.Context) ([]store.Credential, error)
}

// RefreshScheduler defines the scheduler operations the API needs.
type RefreshScheduler interface {
	IsScheduled(identity string) bool
	TriggerRefresh(identity string) error
	Status() []IdentityStatus
	IsRunning() bool
}

// IdentityStatus is an alias for scheduler.IdentityStatus.
type IdentityStatus = scheduler.IdentityStatus

// Deps are the collaborators behind the routes. Nil collaborators make their
// routes answer 503.
type Deps struct {
	Recovery    RecoveryService
	Auth        Authorizer
	Credentials CredentialLister
	Scheduler   RefreshScheduler
}

// Server represents the HTTP API server.
type Server struct {
	cfg         *config.Config
	deps        Deps
	logger      *zap.Logger
	portal      *Portal
	validate    *validator.Validate
	router      chi.Router
	server      *http.Server
	rateLimiter *RateLimiter
	now         func() time.Time
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
	if cfg.Server.PortalEnabled() {
		s.portal = NewPortal(cfg.Server.GateSecret, cfg.Server.SessionSecret, cfg.Server.ArtifactKey,
			time.Duration(cfg.Server.PortalTTLMinutes)*time.Minute)
	}
	s.router = s.setupRouter()
	return s
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(s.loggerMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	corsConfig := DefaultCORSConfig()
	corsConfig.AllowedOrigins = s.cfg.Server.CORSOrigins
	r.Use(CORSMiddleware(corsConfig))

	rps, burst := s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst
	if rps <= 0 {
		rps, burst = 10, 20
	}
	s.rateLimiter = NewRateLimiter(rps, burst)
	r.Use(RateLimitMiddleware(s.rateLimiter))

	r.Get("/health", s.handleHealth)
	r.Get("/liveness-probe", s.handleLiveness)

	r.Route("/auth", func(r chi.Router) {
		r.Get("/request-access", s.handleRequestAccess)
		r.Get("/email-registry-account", s.handleAuthCallback)
		r.With(s.portalMiddleware).Get("/email-window/{email}", s.handleEmailWindow)
	})

	r.Route("/recovery", func(r chi.Router) {
		r.Post("/capture", s.handleCapture)
		r.Post("/restoration", s.handleRestoration)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.portalMiddleware)

		r.Get("/credentials/export", s.handleExportCredentials)
		r.Get("/scheduler/status", s.handleSchedulerStatus)
		r.Post("/scheduler/refresh/{email}", s.handleTriggerRefresh)
	})

	return r
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	bindAddr := s.cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	addr := net.JoinHostPort(bindAddr, strconv.Itoa(s.cfg.Server.APIPort))

	if s.portal == nil && s.cfg.Server.APIKey == "" {
		s.logger.Warn("portal routes are unauthenticated; set [server] gate_secret, session_secret and artifact_key or api_key in config.toml")
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting API server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.rateLimiter != nil {
		s.rateLimiter.Close()
	}
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}
