package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// DefaultKeepAlive is the interval between SSE comment pings
const DefaultKeepAlive = 25 * time.Second

// SSEStream manages an SSE connection for a session
type SSEStream struct {
	mu        sync.Mutex
	w         http.ResponseWriter
	flusher   http.Flusher
	eventID   int
	sessionID string
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewSSEStream writes the event-stream headers and returns the stream
func NewSSEStream(ctx context.Context, w http.ResponseWriter, sessionID string) (*SSEStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx
	if sessionID != "" {
		w.Header().Set("Mcp-Session-Id", sessionID)
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	streamCtx, cancel := context.WithCancel(ctx)

	return &SSEStream{
		w:         w,
		flusher:   flusher,
		sessionID: sessionID,
		ctx:       streamCtx,
		cancel:    cancel,
	}, nil
}

// SendMessage sends a JSON-RPC message as a "message" event
func (s *SSEStream) SendMessage(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.eventID++
	if _, err := fmt.Fprintf(s.w, "event: message\nid: %d\ndata: %s\n\n", s.eventID, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// ping writes an SSE comment line so proxies keep the connection open
func (s *SSEStream) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// KeepAlive pings every interval until the stream is closed or a write fails
func (s *SSEStream) KeepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.ping(); err != nil {
				s.cancel()
				return
			}
		}
	}
}

// Close closes the SSE stream
func (s *SSEStream) Close() {
	s.cancel()
}

// Done returns a channel that's closed when the stream is closed
func (s *SSEStream) Done() <-chan struct{} {
	return s.ctx.Done()
}
