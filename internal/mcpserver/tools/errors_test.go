package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/erauner12/strava-mcp/internal/mcpserver/auth"
	"github.com/erauner12/strava-mcp/internal/mcpserver/client"
	"github.com/erauner12/strava-mcp/internal/strava"
)

func TestWrapClientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"not found", &client.APIError{StatusCode: 404, Path: "/activities/1"}, ErrCodeNotFound},
		{"unauthorized", &client.APIError{StatusCode: 401}, ErrCodeUnauthorized},
		{"forbidden", &client.APIError{StatusCode: 403}, ErrCodeForbidden},
		{"rate limited", &client.APIError{StatusCode: 429, RetryAfter: 15 * time.Second}, ErrCodeRateLimit},
		{"bad request", &client.APIError{StatusCode: 400, Body: `{"message":"Bad Request"}`}, ErrCodeInvalidParams},
		{"server error", &client.APIError{StatusCode: 503, Status: "Service Unavailable"}, ErrCodeUpstream},
		{"timeout", &strava.TimeoutError{Op: "GET /athlete", Err: context.DeadlineExceeded}, ErrCodeUpstreamTimeout},
		{"refresh failed", &auth.RefreshFailedError{StatusCode: 400}, ErrCodeUnauthorized},
		{"wrapped api error", fmt.Errorf("call: %w", &client.APIError{StatusCode: 404}), ErrCodeNotFound},
		{"other", errors.New("boom"), ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := WrapClientError(tt.err)
			te, ok := wrapped.(*ToolError)
			if !ok {
				t.Fatalf("Expected *ToolError, got %T", wrapped)
			}
			if te.Code != tt.want {
				t.Errorf("code = %s, want %s", te.Code, tt.want)
			}
			if te.Message == "" {
				t.Error("Expected non-empty message")
			}
		})
	}
}

func TestWrapClientError_RateLimitData(t *testing.T) {
	te := WrapClientError(&client.APIError{StatusCode: 429, RetryAfter: 15 * time.Second}).(*ToolError)
	if te.Data["retryAfter"] != 15 {
		t.Errorf("Expected retryAfter 15, got %v", te.Data["retryAfter"])
	}
}

func TestWrapClientError_PassesToolErrorsThrough(t *testing.T) {
	orig := NewToolError(ErrCodeInvalidParams, "bad", nil)
	if WrapClientError(orig) != orig {
		t.Error("ToolError should be returned unchanged")
	}
	if WrapClientError(nil) != nil {
		t.Error("nil should stay nil")
	}
}

func TestToolError_ToJSONRPCError(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeInvalidParams, -32602},
		{ErrCodeNotFound, -32602},
		{ErrCodeMethodNotFound, -32601},
		{ErrCodeRateLimit, -32603},
		{ErrCodeUnauthorized, -32603},
		{ErrCodeInternal, -32603},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			code, msg, data := NewToolError(tt.code, "msg", map[string]any{"k": "v"}).ToJSONRPCError()
			if code != tt.want {
				t.Errorf("code = %d, want %d", code, tt.want)
			}
			if msg != "msg" {
				t.Errorf("message = %q", msg)
			}

			var decoded map[string]any
			if err := json.Unmarshal(data, &decoded); err != nil {
				t.Fatalf("data is not JSON: %v", err)
			}
			if decoded["code"] != string(tt.code) || decoded["k"] != "v" {
				t.Errorf("unexpected data %s", data)
			}
		})
	}
}
