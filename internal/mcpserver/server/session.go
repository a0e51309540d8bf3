package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrSessionNotFound is returned for unknown or expired session ids
var ErrSessionNotFound = errors.New("session not found")

// DefaultSessionTTL is how long an idle MCP session is kept
const DefaultSessionTTL = 24 * time.Hour

// MCPSession represents an active MCP client connection
type MCPSession struct {
	ID string
	// UserID is the Strava athlete id resolved from the bearer token
	UserID    string
	GrantID   string
	CreatedAt time.Time
	LastSeen  time.Time
}

// SessionManager manages MCP sessions
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*MCPSession
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionManager creates a new session manager
func NewSessionManager(ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionManager{
		sessions: make(map[string]*MCPSession),
		ttl:      ttl,
		now:      time.Now,
	}
}

// CreateSession creates a new MCP session for an athlete
func (sm *SessionManager) CreateSession(userID, grantID string) *MCPSession {
	now := sm.now()
	session := &MCPSession{
		ID:        uuid.New().String(),
		UserID:    userID,
		GrantID:   grantID,
		CreatedAt: now,
		LastSeen:  now,
	}

	sm.mu.Lock()
	sm.sessions[session.ID] = session
	sm.mu.Unlock()

	log.Debug().
		Str("sessionId", session.ID).
		Str("userId", userID).
		Msg("created MCP session")

	return session
}

// GetSession returns a copy of the session; expired sessions are not returned
func (sm *SessionManager) GetSession(sessionID string) (*MCPSession, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[sessionID]
	if !exists || sm.now().Sub(session.LastSeen) > sm.ttl {
		return nil, ErrSessionNotFound
	}
	cp := *session
	return &cp, nil
}

// UpdateLastSeen updates the last seen time for a session
func (sm *SessionManager) UpdateLastSeen(sessionID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if session, exists := sm.sessions[sessionID]; exists {
		session.LastSeen = sm.now()
	}
}

// DeleteSession removes a session
func (sm *SessionManager) DeleteSession(sessionID string) {
	sm.mu.Lock()
	delete(sm.sessions, sessionID)
	sm.mu.Unlock()

	log.Debug().Str("sessionId", sessionID).Msg("deleted MCP session")
}

// Count returns the number of tracked sessions
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CleanupExpired removes sessions idle for longer than the TTL
func (sm *SessionManager) CleanupExpired() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := sm.now()
	expired := 0
	for id, session := range sm.sessions {
		if now.Sub(session.LastSeen) > sm.ttl {
			delete(sm.sessions, id)
			expired++
		}
	}
	return expired
}

// StartCleanup runs CleanupExpired every interval until ctx is done
func (sm *SessionManager) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if expired := sm.CleanupExpired(); expired > 0 {
					log.Info().Int("count", expired).Msg("cleaned up expired MCP sessions")
				}
			}
		}
	}()
}
