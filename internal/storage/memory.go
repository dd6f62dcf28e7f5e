package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/org/authbroker/pkg/models"
)

// MemoryBackend is a StorageBackend held entirely in process memory. It
// backs development runs without a database and the package tests.
type MemoryBackend struct {
	mu        sync.RWMutex
	users     map[string]*models.User
	apiKeys   map[int64]*models.APIKey
	twoFactor models.TwoFactorConfig
	audit     []*models.AuditEntry
	nextAudit int64
}

// NewMemoryBackend returns a backend seeded like a fresh database: a
// full_admin root account and a disabled two-factor config.
func NewMemoryBackend() *MemoryBackend {
	m := &MemoryBackend{
		users:     make(map[string]*models.User),
		apiKeys:   make(map[int64]*models.APIKey),
		twoFactor: models.TwoFactorConfig{ID: 1, OTPDigits: 6, Interval: 30},
	}
	m.PutUser(&models.User{ID: 1, UID: 0, Username: "root", FullName: "root", Privilege: models.Privilege{
		Name:      "full_admin",
		Allowlist: []models.AllowlistEntry{{Method: models.MethodAny, Resource: "*"}},
		WebShell:  true,
	}})
	return m
}

// PutUser inserts or replaces a user keyed by username.
func (m *MemoryBackend) PutUser(u *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.Username] = &cp
}

// PutAPIKey inserts or replaces an API key.
func (m *MemoryBackend) PutAPIKey(k *models.APIKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *k
	m.apiKeys[k.ID] = &cp
}

func (m *MemoryBackend) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryBackend) GetUserByUID(_ context.Context, uid int) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.UID == uid {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryBackend) GetAPIKey(_ context.Context, id int64) (*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.apiKeys[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (m *MemoryBackend) GetTwoFactorConfig(context.Context) (*models.TwoFactorConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := m.twoFactor
	return &cp, nil
}

func (m *MemoryBackend) UpdateTwoFactorConfig(_ context.Context, c *models.TwoFactorConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID != m.twoFactor.ID {
		return ErrNotFound
	}
	m.twoFactor = *c
	return nil
}

func (m *MemoryBackend) WriteAuditEntry(_ context.Context, entry *models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextAudit++
	cp := *entry
	cp.ID = m.nextAudit
	m.audit = append(m.audit, &cp)
	return nil
}

func (m *MemoryBackend) QueryAuditLog(_ context.Context, filter AuditFilter) ([]*models.AuditEntry, error) {
	m.mu.RLock()
	var out []*models.AuditEntry
	for _, e := range m.audit {
		if filter.Event != "" && e.Event != filter.Event {
			continue
		}
		if filter.SessionID != "" && e.SessionID != filter.SessionID {
			continue
		}
		if filter.Since != nil && e.Timestamp.Before(*filter.Since) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryBackend) Close() {}
