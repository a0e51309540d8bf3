package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/erauner12/strava-mcp/internal/strava"
)

func TestHTTPClient_HeaderInjection(t *testing.T) {
	var capturedHeaders http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedHeaders = r.Header
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, NewStaticTokenProvider("test-token-123"), time.Second)

	raw, err := client.Call(context.Background(), http.MethodGet, "/athlete", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if string(raw) != `{"ok":true}` {
		t.Errorf("unexpected body: %s", raw)
	}

	if auth := capturedHeaders.Get("Authorization"); auth != "Bearer test-token-123" {
		t.Errorf("unexpected Authorization header: %s", auth)
	}
	if ct := capturedHeaders.Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected Content-Type header: %s", ct)
	}
	if corr := capturedHeaders.Get("X-Correlation-ID"); corr == "" {
		t.Error("missing X-Correlation-ID header")
	}
}

func TestHTTPClient_SendsJSONBody(t *testing.T) {
	var gotBody string
	var gotMethod string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, NewStaticTokenProvider("t"), time.Second)
	_, err := client.Call(context.Background(), http.MethodPut, "/activities/1", map[string]string{"name": "Morning Ride"})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	if gotMethod != http.MethodPut {
		t.Errorf("expected PUT, got %s", gotMethod)
	}
	if gotBody != `{"name":"Morning Ride"}` {
		t.Errorf("unexpected body: %s", gotBody)
	}
}

func TestHTTPClient_EmptyBodyIsNull(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, NewStaticTokenProvider("t"), time.Second)
	raw, err := client.Call(context.Background(), http.MethodDelete, "/x", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if string(raw) != "null" {
		t.Errorf("expected null, got %s", raw)
	}
}

func TestHTTPClient_NonSuccessReturnsAPIError(t *testing.T) {
	tests := []struct {
		name           string
		status         int
		retryAfter     string
		wantRetryAfter time.Duration
	}{
		{name: "not found", status: http.StatusNotFound},
		{name: "rate limited", status: http.StatusTooManyRequests, retryAfter: "30", wantRetryAfter: 30 * time.Second},
		{name: "server error", status: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			callCount := 0
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				callCount++
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"message":"nope"}`))
			}))
			defer server.Close()

			client := NewHTTPClient(server.URL, NewStaticTokenProvider("t"), time.Second)
			_, err := client.Call(context.Background(), http.MethodGet, "/activities/9", nil)

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %T: %v", err, err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, apiErr.StatusCode)
			}
			if apiErr.Status != http.StatusText(tt.status) {
				t.Errorf("expected status text %q, got %q", http.StatusText(tt.status), apiErr.Status)
			}
			if apiErr.RetryAfter != tt.wantRetryAfter {
				t.Errorf("expected RetryAfter %v, got %v", tt.wantRetryAfter, apiErr.RetryAfter)
			}
			if callCount != 1 {
				t.Errorf("expected a single call, got %d", callCount)
			}
			if tt.status == http.StatusTooManyRequests && !IsRateLimited(err) {
				t.Error("IsRateLimited should report true")
			}
		})
	}
}

func TestHTTPClient_Retry401(t *testing.T) {
	callCount := 0
	var seenTokens []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		seenTokens = append(seenTokens, r.Header.Get("Authorization"))
		if callCount == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"id":1}`))
	}))
	defer server.Close()

	tokens := &mockTokenProvider{tokens: []string{"stale", "fresh"}}
	client := NewHTTPClient(server.URL, tokens, time.Second)

	if _, err := client.Call(context.Background(), http.MethodGet, "/athlete", nil); err != nil {
		t.Fatalf("request failed: %v", err)
	}

	if callCount != 2 {
		t.Errorf("expected 2 API calls (401 + retry), got %d", callCount)
	}
	if tokens.invalidateCalls != 1 {
		t.Errorf("expected 1 token invalidation, got %d", tokens.invalidateCalls)
	}
	if len(seenTokens) != 2 || seenTokens[1] != "Bearer fresh" {
		t.Errorf("retry did not use the refreshed token: %v", seenTokens)
	}
}

func TestHTTPClient_Retry401OnlyOnce(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	tokens := &mockTokenProvider{tokens: []string{"a", "b", "c"}}
	client := NewHTTPClient(server.URL, tokens, time.Second)

	_, err := client.Call(context.Background(), http.MethodGet, "/athlete", nil)
	if !IsUnauthorized(err) {
		t.Fatalf("expected 401 APIError, got %v", err)
	}

	expectedCalls := MaxUnauthorizedRetries + 1
	if callCount != expectedCalls {
		t.Errorf("expected %d calls, got %d", expectedCalls, callCount)
	}
}

func TestHTTPClient_StaticTokenDoesNotRetry(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, NewStaticTokenProvider("t"), time.Second)
	_, err := client.Call(context.Background(), http.MethodGet, "/athlete", nil)
	if !IsUnauthorized(err) {
		t.Fatalf("expected 401 APIError, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestHTTPClient_RefreshFailureIsReturned(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	refreshErr := errors.New("refresh rejected")
	tokens := &mockTokenProvider{tokens: []string{"a"}, invalidateErr: refreshErr}
	client := NewHTTPClient(server.URL, tokens, time.Second)

	_, err := client.Call(context.Background(), http.MethodGet, "/athlete", nil)
	if !errors.Is(err, refreshErr) {
		t.Fatalf("expected refresh error, got %v", err)
	}
}

func TestHTTPClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, NewStaticTokenProvider("t"), 50*time.Millisecond)
	_, err := client.Call(context.Background(), http.MethodGet, "/athlete", nil)

	var timeoutErr *strava.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected *strava.TimeoutError, got %T: %v", err, err)
	}
}

func TestGetLoggedInAthlete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/athlete" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"id":42,"firstname":"Ada","lastname":"L","city":"London"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, NewStaticTokenProvider("t"), time.Second)
	athlete, err := client.GetLoggedInAthlete(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if athlete.ID != 42 || athlete.FirstName != "Ada" || athlete.LastName != "L" {
		t.Errorf("unexpected athlete: %+v", athlete)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d := parseRetryAfter(""); d != 0 {
		t.Errorf("empty header should be 0, got %v", d)
	}
	if d := parseRetryAfter("5"); d != 5*time.Second {
		t.Errorf("expected 5s, got %v", d)
	}
	if d := parseRetryAfter("garbage"); d != 0 {
		t.Errorf("garbage should be 0, got %v", d)
	}
	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	if d := parseRetryAfter(future); d <= 0 || d > time.Minute {
		t.Errorf("expected duration under a minute, got %v", d)
	}
}

// mockTokenProvider hands out tokens in order; each invalidation advances
type mockTokenProvider struct {
	mu              sync.Mutex
	tokens          []string
	idx             int
	invalidateCalls int
	invalidateErr   error
}

func (m *mockTokenProvider) Token() (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &oauth2.Token{AccessToken: m.tokens[m.idx], TokenType: "Bearer"}, nil
}

func (m *mockTokenProvider) InvalidateToken(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidateCalls++
	if m.invalidateErr != nil {
		return m.invalidateErr
	}
	if m.idx < len(m.tokens)-1 {
		m.idx++
	}
	return nil
}
