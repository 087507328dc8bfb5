// Package api exposes the robot feed over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/BTreeMap/RobotFeed/internal/metrics"
	"github.com/BTreeMap/RobotFeed/internal/models"
	"github.com/BTreeMap/RobotFeed/internal/robots"
)

// Default server settings.
const (
	DefaultAddr      = ":8080"
	DefaultRateLimit = 5
	DefaultRateBurst = 20
	shutdownTimeout  = 10 * time.Second
)

// RobotService selects feed robots and updates treatment-timeline robot state.
type RobotService interface {
	SelectRobots(ctx context.Context, req robots.Request) ([]models.Robot, error)
	UpdateTreatmentTimelineRobotStatus(ctx context.Context, userID string, isRobotRead bool, notificationID string, at time.Time) error
}

// FlowChartService serves and administers flow-chart robots.
type FlowChartService interface {
	GetFlowChartRobot(ctx context.Context, userID, id, startNodeID, date, locale string) (*models.Robot, error)
	CompleteFlowChartRobot(ctx context.Context, userID, id, startNodeID, date string) error
	ListFlowChartRobots(ctx context.Context) ([]models.FlowChartRobot, error)
	AddFlowChartRobot(ctx context.Context, in models.FlowChartRobotInput) (*models.FlowChartRobot, error)
	UpdateFlowChartRobot(ctx context.Context, id string, in models.FlowChartRobotInput) (*models.FlowChartRobot, error)
	DeleteFlowChartRobot(ctx context.Context, id string) error
}

// UserLookup resolves the authenticated user's profile.
type UserLookup interface {
	User(ctx context.Context, id string) (*models.User, error)
}

// LocaleNegotiator picks a supported locale.
type LocaleNegotiator interface {
	Negotiate(acceptLanguage, fallback string) string
}

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr      string
	JWTSecret string
	RateLimit float64
	RateBurst int
	Now       func() time.Time
	Checks    map[string]Pinger
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithJWTSecret sets the HS256 secret used to verify bearer tokens.
func WithJWTSecret(secret string) Option {
	return func(o *Opts) { o.JWTSecret = secret }
}

// WithRateLimit sets the per-user request rate and burst.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *Opts) {
		o.RateLimit = perSecond
		o.RateBurst = burst
	}
}

// WithClock overrides the server clock.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// WithHealthCheck adds a dependency to the /healthz report.
func WithHealthCheck(name string, p Pinger) Option {
	return func(o *Opts) {
		if o.Checks == nil {
			o.Checks = make(map[string]Pinger)
		}
		o.Checks[name] = p
	}
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	robots  RobotService
	flows   FlowChartService
	users   UserLookup
	locales LocaleNegotiator
	limiter *rateLimiter
	opts    Opts
}

// NewServer creates a Server. A JWT secret is required.
func NewServer(robotSvc RobotService, flows FlowChartService, users UserLookup, locales LocaleNegotiator, opts ...Option) (*Server, error) {
	cfg := Opts{
		Addr:      DefaultAddr,
		RateLimit: DefaultRateLimit,
		RateBurst: DefaultRateBurst,
		Now:       time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT secret must be provided")
	}
	return &Server{
		robots:  robotSvc,
		flows:   flows,
		users:   users,
		locales: locales,
		limiter: newRateLimiter(cfg.RateLimit, cfg.RateBurst),
		opts:    cfg,
	}, nil
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(metricsMiddleware)

	r.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	user := r.NewRoute().Subrouter()
	user.Use(s.authMiddleware, s.rateLimitMiddleware)
	user.HandleFunc("/robots", s.getRobotsHandler).Methods(http.MethodGet)
	user.HandleFunc("/flow-chart-robots/{id}", s.getFlowChartRobotHandler).Methods(http.MethodGet)
	user.HandleFunc("/flow-chart-robots/{id}/complete", s.completeFlowChartRobotHandler).Methods(http.MethodPost)
	user.HandleFunc("/treatment-timeline-robot-status", s.updateTreatmentTimelineStatusHandler).Methods(http.MethodPut)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(s.authMiddleware, requireRole(RoleAdmin))
	admin.HandleFunc("/flow-chart-robots", s.listFlowChartRobotsHandler).Methods(http.MethodGet)
	admin.HandleFunc("/flow-chart-robots", s.addFlowChartRobotHandler).Methods(http.MethodPost)
	admin.HandleFunc("/flow-chart-robots/{id}", s.updateFlowChartRobotHandler).Methods(http.MethodPut)
	admin.HandleFunc("/flow-chart-robots/{id}", s.deleteFlowChartRobotHandler).Methods(http.MethodDelete)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Not found"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
	})
	return r
}

// Run serves HTTP until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.sweepLimiters(ctx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.opts.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": s.opts.Now().UTC().Format(time.RFC3339),
	}
	checks := make(map[string]string, len(s.opts.Checks))
	for name, p := range s.opts.Checks {
		if err := p.Ping(ctx); err != nil {
			slog.Warn("Server.healthHandler: dependency unreachable", "dependency", name, "error", err)
			checks[name] = "unreachable"
			healthData["status"] = "degraded"
			continue
		}
		checks[name] = "ok"
	}
	if len(checks) > 0 {
		healthData["checks"] = checks
	}

	statusCode := http.StatusOK
	if healthData["status"] == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, statusCode, healthData)
}
