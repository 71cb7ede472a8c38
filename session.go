package mosapi

import (
	"context"
	"sync"
)

// SessionCache stores one session cookie per entity. Implementations must
// be safe for concurrent use; the client reads and writes the cache from
// whatever goroutine calls it.
//
// Get reports whether a cookie is cached. A cache that loses an entry or
// fails to read simply reports a miss; the client re-authenticates.
type SessionCache interface {
	Get(ctx context.Context, entityID string) (string, bool)
	Put(ctx context.Context, entityID string, cookie string) error
	Clear(ctx context.Context, entityID string) error
}

// MemoryCache is a process-local SessionCache. Suitable for single-process
// deployments and tests; distributed deployments should share sessions
// through an external cache so concurrent workers do not race each other's
// logins.
type MemoryCache struct {
	mu      sync.RWMutex
	cookies map[string]string
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{cookies: make(map[string]string)}
}

func (m *MemoryCache) Get(_ context.Context, entityID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cookie, ok := m.cookies[entityID]
	return cookie, ok
}

func (m *MemoryCache) Put(_ context.Context, entityID string, cookie string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cookies[entityID] = cookie
	return nil
}

func (m *MemoryCache) Clear(_ context.Context, entityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cookies, entityID)
	return nil
}
