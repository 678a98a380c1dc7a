// Package server wires the HTTP API, middleware and WebSocket hub.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"polyexit/internal/server/handler"
	"polyexit/internal/server/middleware"
	"polyexit/internal/server/ws"
)

// Config holds the HTTP listener settings.
type Config struct {
	Port        int
	APIKey      string
	CORSOrigins []string
}

// Handlers bundles the route handlers the server mounts.
type Handlers struct {
	Health    *handler.HealthHandler
	Position  *handler.PositionHandler
	Portfolio *handler.PortfolioHandler
	Strategy  *handler.StrategyHandler
	Status    *handler.StatusHandler
	Hub       *ws.Hub
}

// Server is the HTTP front of the engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New builds the server with its routes and middleware chain.
func New(cfg Config, h Handlers, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health.Health)
	mux.HandleFunc("GET /api/status", h.Status.Status)

	mux.HandleFunc("GET /api/positions", h.Position.List)
	mux.HandleFunc("GET /api/positions/history", h.Position.History)
	mux.HandleFunc("GET /api/positions/{id}", h.Position.Get)
	mux.HandleFunc("POST /api/positions/{id}/close", h.Position.Close)

	mux.HandleFunc("POST /api/portfolios", h.Portfolio.Create)
	mux.HandleFunc("GET /api/portfolios", h.Portfolio.List)
	mux.HandleFunc("GET /api/portfolios/{id}", h.Portfolio.Get)
	mux.HandleFunc("GET /api/portfolios/{id}/summary", h.Portfolio.Summary)
	mux.HandleFunc("POST /api/portfolios/{id}/deposit", h.Portfolio.Deposit)

	mux.HandleFunc("PUT /api/strategies", h.Strategy.Upsert)
	mux.HandleFunc("GET /api/strategies", h.Strategy.List)
	mux.HandleFunc("GET /api/strategies/{name}", h.Strategy.Get)

	if h.Hub != nil {
		mux.HandleFunc("GET /ws", h.Hub.HandleWS)
	}

	var root http.Handler = mux
	root = middleware.Logging(logger)(root)
	root = middleware.Auth(cfg.APIKey)(root)
	root = corsMiddleware(cfg.CORSOrigins)(root)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      root,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With(slog.String("component", "http_server")),
	}
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	allowAll := false
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || allowed[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
