package oauthserver

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryStorage keeps everything in process memory. Suitable for a single
// replica and for tests; grants do not survive a restart.
type MemoryStorage struct {
	mu            sync.RWMutex
	clients       map[string]*Client
	grants        map[string]*Grant
	codes         map[string]*AuthorizationCode
	refreshTokens map[string]*RefreshToken
}

// NewMemoryStorage creates an empty in-memory store
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		clients:       make(map[string]*Client),
		grants:        make(map[string]*Grant),
		codes:         make(map[string]*AuthorizationCode),
		refreshTokens: make(map[string]*RefreshToken),
	}
}

func (m *MemoryStorage) CreateClient(_ context.Context, client *Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.clients[client.ClientID]; exists {
		return errors.New("client already exists")
	}
	c := *client
	m.clients[client.ClientID] = &c
	return nil
}

func (m *MemoryStorage) GetClient(_ context.Context, clientID string) (*Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	client, ok := m.clients[clientID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *client
	return &c, nil
}

func (m *MemoryStorage) SaveGrant(_ context.Context, grant *Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := *grant
	m.grants[grant.ID] = &g
	return nil
}

func (m *MemoryStorage) GetGrant(_ context.Context, id string) (*Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	grant, ok := m.grants[id]
	if !ok {
		return nil, ErrNotFound
	}
	g := *grant
	return &g, nil
}

func (m *MemoryStorage) SetGrantProps(_ context.Context, id string, sealedProps []byte, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	grant, ok := m.grants[id]
	if !ok {
		return ErrNotFound
	}
	grant.SealedProps = append([]byte(nil), sealedProps...)
	grant.PropsUpdatedAt = updatedAt
	return nil
}

func (m *MemoryStorage) ExtendGrant(_ context.Context, id string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	grant, ok := m.grants[id]
	if !ok {
		return ErrNotFound
	}
	grant.ExpiresAt = expiresAt
	return nil
}

func (m *MemoryStorage) DeleteGrant(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.grants, id)
	for hash, rt := range m.refreshTokens {
		if rt.GrantID == id {
			delete(m.refreshTokens, hash)
		}
	}
	for hash, code := range m.codes {
		if code.GrantID == id {
			delete(m.codes, hash)
		}
	}
	return nil
}

func (m *MemoryStorage) SaveAuthorizationCode(_ context.Context, code *AuthorizationCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *code
	m.codes[code.CodeHash] = &c
	return nil
}

func (m *MemoryStorage) ConsumeAuthorizationCode(_ context.Context, codeHash string) (*AuthorizationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	code, ok := m.codes[codeHash]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.codes, codeHash)
	return code, nil
}

func (m *MemoryStorage) SaveRefreshToken(_ context.Context, token *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := *token
	m.refreshTokens[token.TokenHash] = &t
	return nil
}

func (m *MemoryStorage) ConsumeRefreshToken(_ context.Context, tokenHash string) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, ok := m.refreshTokens[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.refreshTokens, tokenHash)
	return token, nil
}

func (m *MemoryStorage) CleanupExpired(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for hash, code := range m.codes {
		if code.ExpiresAt.Before(now) {
			delete(m.codes, hash)
			removed++
		}
	}
	for hash, rt := range m.refreshTokens {
		if rt.ExpiresAt.Before(now) {
			delete(m.refreshTokens, hash)
			removed++
		}
	}
	for id, grant := range m.grants {
		if !grant.ExpiresAt.IsZero() && grant.ExpiresAt.Before(now) {
			delete(m.grants, id)
			removed++
		}
	}
	return removed, nil
}

// Verify MemoryStorage implements Storage interface.
var _ Storage = (*MemoryStorage)(nil)
