package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	jwtauth "github.com/erauner12/strava-mcp/internal/auth"
	"github.com/erauner12/strava-mcp/internal/mcpserver/auth"
	"github.com/erauner12/strava-mcp/internal/mcpserver/tools"
)

// LatestProtocolVersion is offered when the client asks for an unknown version
const LatestProtocolVersion = "2025-06-18"

var supportedProtocolVersions = []string{LatestProtocolVersion, "2025-03-26", "2024-11-05"}

// Authenticator resolves a bearer token to a session with usable Strava credentials
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.Session, error)
}

// ClientFactory builds the Strava API client used for one tools/call
type ClientFactory func(ctx context.Context, sess *auth.Session) tools.StravaAPI

// Options configures the MCP endpoint
type Options struct {
	// AllowedOrigins empty accepts any Origin
	AllowedOrigins []string
	// ResourceMetadataURL is advertised in 401 challenges
	ResourceMetadataURL string
	SessionTTL          time.Duration
	KeepAlive           time.Duration
	Name                string
	Version             string
}

// MCPServer serves the Streamable HTTP MCP transport
type MCPServer struct {
	opts         Options
	authn        Authenticator
	newClient    ClientFactory
	sessionMgr   *SessionManager
	toolRegistry *tools.Registry
}

// NewMCPServer creates a new MCP server. Handlers are mounted by the caller.
func NewMCPServer(opts Options, authn Authenticator, newClient ClientFactory, registry *tools.Registry) *MCPServer {
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = DefaultKeepAlive
	}
	if opts.Name == "" {
		opts.Name = "Strava MCP"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &MCPServer{
		opts:         opts,
		authn:        authn,
		newClient:    newClient,
		sessionMgr:   NewSessionManager(opts.SessionTTL),
		toolRegistry: registry,
	}
}

// Sessions exposes the session manager so the caller can start cleanup
func (s *MCPServer) Sessions() *SessionManager {
	return s.sessionMgr
}

// HandlePost handles POST /mcp (JSON-RPC requests)
func (s *MCPServer) HandlePost(w http.ResponseWriter, r *http.Request) {
	if !s.checkTransport(w, r) {
		return
	}

	sess, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, nil, ParseError, "invalid JSON")
		return
	}
	if req.JSONRPC != "2.0" {
		s.sendError(w, req.ID, InvalidRequest, "invalid jsonrpc version")
		return
	}

	if req.Method == "initialize" {
		s.handleInitialize(w, r, &req, sess)
		return
	}

	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		s.sendError(w, req.ID, InvalidRequest, "missing Mcp-Session-Id header")
		return
	}

	mcpSession, err := s.sessionMgr.GetSession(sessionID)
	if err != nil {
		s.sendErrorStatus(w, http.StatusNotFound, req.ID, InvalidRequest, "session not found")
		return
	}
	if mcpSession.UserID != sess.Props.UserID {
		s.sendErrorStatus(w, http.StatusForbidden, req.ID, InvalidRequest, "session user mismatch")
		return
	}
	s.sessionMgr.UpdateLastSeen(sessionID)

	// notifications/initialized and friends need no response body
	if req.IsNotification() {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	s.handleJSONRPC(w, r, &req, mcpSession, sess)
}

func (s *MCPServer) handleInitialize(w http.ResponseWriter, r *http.Request, req *JSONRPCRequest, sess *auth.Session) {
	var params struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.sendError(w, req.ID, InvalidParams, "invalid initialize parameters")
			return
		}
	}
	version := LatestProtocolVersion
	if slices.Contains(supportedProtocolVersions, params.ProtocolVersion) {
		version = params.ProtocolVersion
	}

	session := s.sessionMgr.CreateSession(sess.Props.UserID, sess.GrantID)

	log.Ctx(r.Context()).Info().
		Str("sessionId", session.ID).
		Str("userId", session.UserID).
		Str("protocolVersion", version).
		Msg("created new MCP session")

	w.Header().Set("Mcp-Session-Id", session.ID)
	s.sendResult(w, req.ID, map[string]any{
		"protocolVersion": version,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    s.opts.Name,
			"version": s.opts.Version,
		},
		"instructions": "Tools for reading and editing the connected Strava athlete's data.",
	})
}

// handleJSONRPC routes JSON-RPC requests to appropriate handlers
func (s *MCPServer) handleJSONRPC(w http.ResponseWriter, r *http.Request, req *JSONRPCRequest, mcpSession *MCPSession, sess *auth.Session) {
	logger := log.Ctx(r.Context()).With().
		Str("sessionId", mcpSession.ID).
		Str("userId", mcpSession.UserID).
		Str("method", req.Method).
		Logger()
	ctx := logger.WithContext(r.Context())

	switch req.Method {
	case "tools/list":
		s.sendResult(w, req.ID, map[string]any{"tools": s.toolRegistry.List()})

	case "tools/call":
		var callReq tools.CallRequest
		if err := json.Unmarshal(req.Params, &callReq); err != nil || callReq.Name == "" {
			s.sendError(w, req.ID, InvalidParams, "invalid tool call parameters")
			return
		}

		toolCtx := tools.NewToolContext(&logger, mcpSession.UserID, mcpSession.ID, s.newClient(ctx, sess))

		start := time.Now()
		result, err := s.toolRegistry.Call(ctx, toolCtx, callReq)
		if err != nil {
			s.sendToolError(w, req.ID, &logger, callReq.Name, err)
			return
		}
		logger.Info().Str("tool", callReq.Name).Dur("duration", time.Since(start)).Msg("tool call completed")
		s.sendResult(w, req.ID, result)

	case "ping":
		s.sendResult(w, req.ID, map[string]any{})

	default:
		s.sendError(w, req.ID, MethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (s *MCPServer) sendToolError(w http.ResponseWriter, id json.RawMessage, logger *zerolog.Logger, name string, err error) {
	var toolErr *tools.ToolError
	if !errors.As(err, &toolErr) {
		logger.Error().Err(err).Str("tool", name).Msg("tool call failed")
		s.sendError(w, id, InternalError, err.Error())
		return
	}

	logger.Warn().Str("tool", name).Str("code", string(toolErr.Code)).Msg(toolErr.Message)
	code, message, data := toolErr.ToJSONRPCError()
	s.sendError(w, id, code, message, data)
}

// HandleGet handles GET /mcp and /sse: a server-to-client event stream.
// Without an Mcp-Session-Id a session is created and returned in the header.
func (s *MCPServer) HandleGet(w http.ResponseWriter, r *http.Request) {
	if !s.checkTransport(w, r) {
		return
	}

	sess, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		sessionID = s.sessionMgr.CreateSession(sess.Props.UserID, sess.GrantID).ID
	} else {
		mcpSession, err := s.sessionMgr.GetSession(sessionID)
		if err != nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		if mcpSession.UserID != sess.Props.UserID {
			http.Error(w, "session user mismatch", http.StatusForbidden)
			return
		}
	}

	stream, err := NewSSEStream(r.Context(), w, sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer stream.Close()

	logger := log.Ctx(r.Context())
	logger.Info().Str("sessionId", sessionID).Str("userId", sess.Props.UserID).Msg("SSE stream established")

	stream.KeepAlive(s.opts.KeepAlive)

	logger.Info().Str("sessionId", sessionID).Msg("SSE stream closed")
}

// HandleDelete handles DELETE /mcp (close session)
func (s *MCPServer) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if !s.validateOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	sess, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		http.Error(w, "missing session ID", http.StatusBadRequest)
		return
	}

	mcpSession, err := s.sessionMgr.GetSession(sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if mcpSession.UserID != sess.Props.UserID {
		http.Error(w, "session user mismatch", http.StatusForbidden)
		return
	}

	s.sessionMgr.DeleteSession(sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// checkTransport applies the origin and protocol version checks shared by
// POST and GET. A missing version header is accepted for older clients.
func (s *MCPServer) checkTransport(w http.ResponseWriter, r *http.Request) bool {
	if !s.validateOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return false
	}

	if v := r.Header.Get("Mcp-Protocol-Version"); v != "" && !slices.Contains(supportedProtocolVersions, v) {
		http.Error(w, "unsupported protocol version", http.StatusBadRequest)
		return false
	}
	return true
}

// authenticate resolves the bearer token. Rejected tokens are answered with
// a 401 challenge pointing at the protected resource metadata. Storage and
// decryption faults are a 500.
func (s *MCPServer) authenticate(w http.ResponseWriter, r *http.Request) (*auth.Session, bool) {
	token, ok := bearerToken(r)
	if !ok {
		s.challenge(w, "", "missing bearer token")
		return nil, false
	}

	sess, err := s.authn.Authenticate(r.Context(), token)
	if err != nil {
		logger := log.Ctx(r.Context())
		switch {
		case errors.Is(err, auth.ErrAthleteNotAllowed):
			logger.Warn().Err(err).Msg("athlete not allowed")
			http.Error(w, "athlete not allowed", http.StatusForbidden)
		case errors.Is(err, auth.ErrUpstreamRefresh):
			logger.Warn().Err(err).Msg("strava refresh failed; client must re-authorize")
			s.challenge(w, "invalid_token", "strava authorization expired")
		case errors.Is(err, jwtauth.ErrInvalidToken):
			logger.Debug().Err(err).Msg("bearer token rejected")
			s.challenge(w, "invalid_token", "invalid token")
		default:
			logger.Error().Err(err).Msg("failed to load session")
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return nil, false
	}
	return sess, true
}

func (s *MCPServer) challenge(w http.ResponseWriter, errCode, message string) {
	params := []string{}
	if s.opts.ResourceMetadataURL != "" {
		params = append(params, fmt.Sprintf("resource_metadata=%q", s.opts.ResourceMetadataURL))
	}
	if errCode != "" {
		params = append(params, fmt.Sprintf("error=%q", errCode))
	}
	value := "Bearer"
	if len(params) > 0 {
		value += " " + strings.Join(params, ", ")
	}
	w.Header().Set("WWW-Authenticate", value)
	http.Error(w, message, http.StatusUnauthorized)
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(h[7:])
	return token, token != ""
}

// validateOrigin checks the Origin header against the allow-list to block
// DNS rebinding. Requests without Origin come from non-browser clients.
func (s *MCPServer) validateOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}

	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.opts.AllowedOrigins, origin) {
		return true
	}

	log.Ctx(r.Context()).Warn().
		Str("origin", origin).
		Strs("allowedOrigins", s.opts.AllowedOrigins).
		Msg("origin not in allowlist")
	return false
}

func (s *MCPServer) sendError(w http.ResponseWriter, id json.RawMessage, code int, message string, data ...json.RawMessage) {
	s.sendErrorStatus(w, http.StatusOK, id, code, message, data...) // JSON-RPC errors are still HTTP 200
}

func (s *MCPServer) sendErrorStatus(w http.ResponseWriter, status int, id json.RawMessage, code int, message string, data ...json.RawMessage) {
	errObj := &JSONRPCError{
		Code:    code,
		Message: message,
	}
	if len(data) > 0 && data[0] != nil {
		errObj.Data = data[0]
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   errObj,
	})
}

func (s *MCPServer) sendResult(w http.ResponseWriter, id json.RawMessage, result any) {
	data, err := json.Marshal(result)
	if err != nil {
		s.sendError(w, id, InternalError, "failed to encode result")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  data,
	})
}
