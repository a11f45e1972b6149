// Package server sets up the HTTP router, middleware, and request handlers.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/howard-nolan/ai-gateway/internal/config"
	"github.com/howard-nolan/ai-gateway/internal/metrics"
	"github.com/howard-nolan/ai-gateway/internal/middleware"
	"github.com/howard-nolan/ai-gateway/internal/provider"
	"github.com/howard-nolan/ai-gateway/internal/tracker"
	"go.uber.org/zap"
)

// Server holds the HTTP router and all dependencies that handlers need:
// the active provider (possibly a fallback composition), the usage
// tracker, and the rate limiter. All of them are process-wide singletons
// shared across every in-flight request; each carries its own
// synchronization.
type Server struct {
	router   chi.Router
	cfg      *config.Config
	provider provider.Provider
	tracker  *tracker.Tracker
	limiter  *middleware.RateLimiter
	logger   *zap.Logger
}

// New creates a Server, wires up routes and middleware, and returns it
// ready to use as an http.Handler.
func New(cfg *config.Config, p provider.Provider, trk *tracker.Tracker, logger *zap.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		provider: p,
		tracker:  trk,
		limiter:  middleware.NewRateLimiter(cfg.RateLimitRPM),
		logger:   logger,
	}
	s.routes()
	return s
}

// routes builds the chi router. Public routes (health, metrics) sit
// outside the authenticated group; everything under the group runs the
// full chain, in order: Auth → RateLimit → Tracking → handler. The order
// is load-bearing — a rate-limited request is rejected before the
// tracking layer runs, so 429s never count as tracked errors.
func (s *Server) routes() {
	r := chi.NewRouter()

	// Global middleware: structured request logging through zap, and
	// panic recovery so a handler bug yields a 500 instead of killing
	// the process.
	r.Use(middleware.RequestLog(s.logger))
	r.Use(chimw.Recoverer)

	// Public routes — no auth.
	r.Get("/v1/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Authenticated routes.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(s.cfg.UserKeys(), s.cfg.AdminKeys(), s.logger))
		r.Use(middleware.RateLimit(s.limiter, s.logger))
		r.Use(middleware.Tracking(s.tracker, s.logger))

		r.Post("/v1/chat/completions", s.handleChatCompletions)
		r.Get("/v1/models", s.handleModels)
		r.Get("/v1/stats", s.handleStats)
	})

	s.router = r
}

// ServeHTTP makes Server satisfy the http.Handler interface; every
// incoming request just delegates to chi's router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
