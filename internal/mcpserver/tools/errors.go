package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/erauner12/strava-mcp/internal/mcpserver/auth"
	"github.com/erauner12/strava-mcp/internal/mcpserver/client"
	"github.com/erauner12/strava-mcp/internal/strava"
)

// ToolError represents a structured error from tool execution
type ToolError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorCode categorizes tool errors for JSON-RPC translation
type ErrorCode string

const (
	ErrCodeInvalidParams   ErrorCode = "INVALID_PARAMS"
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden       ErrorCode = "FORBIDDEN"
	ErrCodeRateLimit       ErrorCode = "RATE_LIMIT"
	ErrCodeUpstreamTimeout ErrorCode = "UPSTREAM_TIMEOUT"
	ErrCodeUpstream        ErrorCode = "UPSTREAM_ERROR"
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
	ErrCodeMethodNotFound  ErrorCode = "METHOD_NOT_FOUND"
)

// NewToolError creates a tool error with optional data
func NewToolError(code ErrorCode, message string, data map[string]any) *ToolError {
	return &ToolError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// WrapClientError converts Strava client errors into ToolErrors
func WrapClientError(err error) error {
	if err == nil {
		return nil
	}

	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr
	}

	if strava.IsTimeout(err) {
		return NewToolError(ErrCodeUpstreamTimeout, "Strava did not respond in time", nil)
	}
	if errors.Is(err, auth.ErrUpstreamRefresh) {
		return NewToolError(ErrCodeUnauthorized, "Strava authorization expired; reconnect the Strava account", nil)
	}

	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		data := map[string]any{"status": apiErr.StatusCode}
		switch apiErr.StatusCode {
		case http.StatusNotFound:
			return NewToolError(ErrCodeNotFound, fmt.Sprintf("Strava resource not found: %s", apiErr.Path), data)
		case http.StatusUnauthorized:
			return NewToolError(ErrCodeUnauthorized, "Strava rejected the access token", data)
		case http.StatusForbidden:
			return NewToolError(ErrCodeForbidden, "Strava denied access; the granted scopes may not cover this call", data)
		case http.StatusTooManyRequests:
			data["retryAfter"] = int(apiErr.RetryAfter.Seconds())
			return NewToolError(ErrCodeRateLimit, "Strava rate limit exceeded", data)
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			if apiErr.Body != "" {
				data["body"] = apiErr.Body
			}
			return NewToolError(ErrCodeInvalidParams, "Strava rejected the request", data)
		default:
			return NewToolError(ErrCodeUpstream, fmt.Sprintf("Strava API error: %d %s", apiErr.StatusCode, apiErr.Status), data)
		}
	}

	return NewToolError(ErrCodeInternal, err.Error(), nil)
}

// ToJSONRPCError converts ToolError to JSON-RPC error code
func (e *ToolError) ToJSONRPCError() (int, string, json.RawMessage) {
	var code int
	switch e.Code {
	case ErrCodeInvalidParams, ErrCodeNotFound:
		code = -32602 // InvalidParams
	case ErrCodeMethodNotFound:
		code = -32601 // MethodNotFound
	default:
		code = -32603 // InternalError
	}

	payload := map[string]any{"code": e.Code}
	for k, v := range e.Data {
		payload[k] = v
	}
	data, _ := json.Marshal(payload)

	return code, e.Message, data
}
