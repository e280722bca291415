package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wrentheai/trust-infra/internal/auth"
	"github.com/wrentheai/trust-infra/internal/ratelimit"
)

// Server is the trust service HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Config holds all dependencies and settings for creating a Server.
type Config struct {
	Handlers *Handlers
	Authn    *auth.Authenticator
	Limiter  ratelimit.Limiter // nil disables rate limiting
	Logger   *slog.Logger

	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// ExtraRoutes and Middlewares are extension points for embedders.
	ExtraRoutes func(mux *http.ServeMux)
	Middlewares []func(http.Handler) http.Handler
}

// New creates a new HTTP server with all routes configured.
func New(cfg Config) *Server {
	h := cfg.Handlers

	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}
	rl := ratelimit.Middleware(cfg.Limiter, ratelimit.AgentKeyFunc, reqIDFunc)
	adminOnly := requireServiceKey(cfg.Authn)

	mux := http.NewServeMux()

	// Agent registry (administrative mutations behind the service key).
	mux.Handle("POST /api/agents", adminOnly(http.HandlerFunc(h.HandleRegisterAgent)))
	mux.Handle("GET /api/agents", rl(http.HandlerFunc(h.HandleListAgents)))
	mux.Handle("GET /api/agents/{id}", rl(http.HandlerFunc(h.HandleGetAgent)))
	mux.Handle("POST /api/agents/{id}/revoke", adminOnly(http.HandlerFunc(h.HandleRevokeAgent)))

	// Event ledger. Appends authenticate with the per-request agent
	// signature inside the handler (the signature covers the raw body).
	mux.Handle("POST /api/events", rl(http.HandlerFunc(h.HandleAppendEvent)))
	mux.Handle("GET /api/events", rl(http.HandlerFunc(h.HandleQueryEvents)))
	mux.Handle("GET /api/events/{id}", rl(http.HandlerFunc(h.HandleGetEvent)))
	mux.Handle("GET /api/events/hash/{hash}", rl(http.HandlerFunc(h.HandleGetEventByHash)))
	mux.Handle("GET /api/events/last-hash/{agentId}", rl(http.HandlerFunc(h.HandleLastHash)))
	mux.Handle("POST /api/events/verify-chain", rl(http.HandlerFunc(h.HandleVerifyChain)))

	// Capability engine.
	mux.Handle("POST /api/capabilities", adminOnly(http.HandlerFunc(h.HandleMintCapability)))
	mux.Handle("POST /api/capabilities/validate", rl(http.HandlerFunc(h.HandleValidateToken)))
	mux.Handle("POST /api/capabilities/check-permission", rl(http.HandlerFunc(h.HandleCheckPermission)))
	mux.Handle("GET /api/capabilities", rl(http.HandlerFunc(h.HandleListCapabilities)))
	mux.Handle("POST /api/capabilities/{id}/revoke", adminOnly(http.HandlerFunc(h.HandleRevokeCapability)))

	// Reputation engine.
	mux.Handle("GET /api/reputation", rl(http.HandlerFunc(h.HandleListReputation)))
	mux.Handle("GET /api/reputation/{agentId}", rl(http.HandlerFunc(h.HandleGetReputation)))
	mux.Handle("POST /api/reputation/{agentId}/domain", adminOnly(http.HandlerFunc(h.HandleUpdateDomainScore)))
	mux.Handle("GET /api/reputation/{agentId}/should-downgrade", rl(http.HandlerFunc(h.HandleShouldDowngrade)))
	mux.Handle("POST /api/outcomes", adminOnly(http.HandlerFunc(h.HandleRecordOutcome)))

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /api/health", h.HandleHealth)

	if cfg.ExtraRoutes != nil {
		cfg.ExtraRoutes(mux)
	}

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server, draining in-flight
// requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
