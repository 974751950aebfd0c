package authorization

import (
	"strings"
	"sync"
	"time"

	"github.com/lagrangedao/go-tee-worker/internal/models"
)

const DefaultTTL = 24 * time.Hour

type Store interface {
	// PutIfAbsent stores auth unless one exists for its chainTaskId; reports whether it was stored.
	PutIfAbsent(auth *models.WorkerpoolAuthorization) (bool, error)
	Get(chainTaskId string) (*models.WorkerpoolAuthorization, bool)
	Delete(chainTaskId string)
}

type memoryEntry struct {
	auth      models.WorkerpoolAuthorization
	expiresAt time.Time
}

// MemoryStore is an expiring in-process map keyed by lowercase chainTaskId.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *MemoryStore) PutIfAbsent(auth *models.WorkerpoolAuthorization) (bool, error) {
	key := strings.ToLower(auth.ChainTaskId)
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok && m.now().Before(e.expiresAt) {
		return false, nil
	}
	m.entries[key] = memoryEntry{auth: *auth, expiresAt: m.now().Add(m.ttl)}
	return true, nil
}

func (m *MemoryStore) Get(chainTaskId string) (*models.WorkerpoolAuthorization, bool) {
	key := strings.ToLower(chainTaskId)
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return nil, false
	}
	auth := e.auth
	return &auth, true
}

func (m *MemoryStore) Delete(chainTaskId string) {
	m.mu.Lock()
	delete(m.entries, strings.ToLower(chainTaskId))
	m.mu.Unlock()
}
