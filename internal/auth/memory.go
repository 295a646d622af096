package auth

import (
	"context"
	"sync"
)

// MemoryBackend keeps accounts in process memory. It backs the embedded
// mode, where no database is configured.
type MemoryBackend struct {
	mu       sync.Mutex
	accounts map[string]*Account
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{accounts: make(map[string]*Account)}
}

func (m *MemoryBackend) CreateAccount(_ context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.accounts {
		if other.Email == a.Email {
			return ErrEmailTaken
		}
	}
	cp := *a
	m.accounts[a.UID] = &cp
	return nil
}

func (m *MemoryBackend) GetAccount(_ context.Context, uid string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[uid]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryBackend) GetAccountByEmail(_ context.Context, email string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (m *MemoryBackend) UpdateAccount(_ context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[a.UID]; !ok {
		return ErrAccountNotFound
	}
	cp := *a
	m.accounts[a.UID] = &cp
	return nil
}

func (m *MemoryBackend) DeleteAccount(_ context.Context, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[uid]; !ok {
		return ErrAccountNotFound
	}
	delete(m.accounts, uid)
	return nil
}
