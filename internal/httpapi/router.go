package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/strava-mcp/internal/auth"
)

// AuthorizationServer is the OAuth surface MCP clients talk to
type AuthorizationServer interface {
	HandleToken(w http.ResponseWriter, r *http.Request)
	HandleRegister(w http.ResponseWriter, r *http.Request)
	HandleAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request)
	HandleProtectedResourceMetadata(w http.ResponseWriter, r *http.Request)
}

// Bridge runs the browser leg of authorization through Strava
type Bridge interface {
	Authorize(w http.ResponseWriter, r *http.Request)
	Callback(w http.ResponseWriter, r *http.Request)
}

// MCPHandler serves the MCP Streamable HTTP transport
type MCPHandler interface {
	HandlePost(w http.ResponseWriter, r *http.Request)
	HandleGet(w http.ResponseWriter, r *http.Request)
	HandleDelete(w http.ResponseWriter, r *http.Request)
}

// Server holds dependencies for HTTP handlers
type Server struct {
	OAuth  AuthorizationServer
	Bridge Bridge
	MCP    MCPHandler

	// JWT verifies bearer tokens for rate limit keys only
	JWT       auth.JWTCfg
	RateLimit *RateLimiter

	// Ready is probed by /readyz; nil means always ready
	Ready func(ctx context.Context) error
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// Routes creates the HTTP router
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(AccessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/readyz", s.handleReady)

	// OAuth discovery and client endpoints
	r.Get("/.well-known/oauth-authorization-server", s.OAuth.HandleAuthorizationServerMetadata)
	r.Get("/.well-known/oauth-protected-resource", s.OAuth.HandleProtectedResourceMetadata)
	r.Get("/.well-known/oauth-protected-resource/*", s.OAuth.HandleProtectedResourceMetadata)
	r.Post("/token", s.OAuth.HandleToken)
	r.Post("/register", s.OAuth.HandleRegister)

	// Browser leg through Strava
	r.Get("/authorize", s.Bridge.Authorize)
	r.Get("/callback", s.Bridge.Callback)

	r.Group(func(r chi.Router) {
		r.Use(BearerSubject(s.JWT))
		if s.RateLimit != nil {
			r.Use(RateLimitMiddleware(s.RateLimit))
		}

		r.Post("/mcp", s.MCP.HandlePost)
		r.Get("/mcp", s.MCP.HandleGet)
		r.Delete("/mcp", s.MCP.HandleDelete)
		r.Get("/sse", s.MCP.HandleGet)
	})

	log.Info().Msg("HTTP routes registered")
	return r
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.Ready(ctx); err != nil {
			log.Ctx(r.Context()).Warn().Err(err).Msg("readiness check failed")
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
