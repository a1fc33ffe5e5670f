package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/eternalsentinel/sentinel/internal/config"
	"github.com/eternalsentinel/sentinel/internal/pkg/seal"
	"github.com/eternalsentinel/sentinel/internal/pkg/token"
	"github.com/eternalsentinel/sentinel/internal/queue"
	"github.com/eternalsentinel/sentinel/internal/store"
)

// Server is the HTTP surface: the public check-in and trustee endpoints,
// the authenticated management API, and the admin overrides.
type Server struct {
	cfg      config.ServerConfig
	store    *store.Store
	queue    *queue.Queue
	mint     token.Minter
	sealKey  seal.Key
	sessions SessionResolver
	redis    *redis.Client
	limiter  *RateLimiter

	router *chi.Mux
	server *http.Server
}

// Deps bundles the server's collaborators.
type Deps struct {
	Store    *store.Store
	Queue    *queue.Queue
	Mint     token.Minter
	SealKey  seal.Key
	Sessions SessionResolver
	Redis    *redis.Client
}

// NewServer creates the API server and builds its routes.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	s := &Server{
		cfg:      cfg,
		store:    deps.Store,
		queue:    deps.Queue,
		mint:     deps.Mint,
		sealKey:  deps.SealKey,
		sessions: deps.Sessions,
		redis:    deps.Redis,
		limiter:  NewRateLimiter(deps.Redis, 30, time.Minute),
	}
	s.router = s.routes()
	return s
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
