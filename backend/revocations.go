package backend

import (
	"context"
	"sync"
	"time"

	auth "github.com/goliatone/go-estate-auth"
)

// MemoryRevocationStore keeps revoked token ids in process memory. Expired
// entries are swept on write.
type MemoryRevocationStore struct {
	mu      sync.Mutex
	now     func() time.Time
	revoked map[string]time.Time
}

var _ auth.RevocationStore = (*MemoryRevocationStore)(nil)

func NewMemoryRevocationStore() *MemoryRevocationStore {
	return &MemoryRevocationStore{
		now:     time.Now,
		revoked: make(map[string]time.Time),
	}
}

// WithClock replaces the clock used for expiry.
func (m *MemoryRevocationStore) WithClock(now func() time.Time) *MemoryRevocationStore {
	if now != nil {
		m.now = now
	}
	return m
}

func (m *MemoryRevocationStore) Revoke(_ context.Context, tokenID string, until time.Time) error {
	if tokenID == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for id, exp := range m.revoked {
		if !now.Before(exp) {
			delete(m.revoked, id)
		}
	}
	if now.Before(until) {
		m.revoked[tokenID] = until
	}
	return nil
}

func (m *MemoryRevocationStore) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.revoked[tokenID]
	if !ok {
		return false, nil
	}
	return m.now().Before(exp), nil
}
