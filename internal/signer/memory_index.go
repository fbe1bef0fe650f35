package signer

import (
	"context"
	"sync"

	"github.com/xueqianLu/ledgerctl/internal/errs"
)

// MemoryIndex is an in-process Index used by tests and by the memory state driver.
type MemoryIndex struct {
	mu    sync.RWMutex
	creds map[string]Credential
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{creds: make(map[string]Credential)}
}

func (m *MemoryIndex) Put(_ context.Context, cred Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.creds[cred.KeyRefID]; ok {
		return errs.State("keyRefId %s already exists", cred.KeyRefID)
	}
	cred.Labels = append([]string(nil), cred.Labels...)
	m.creds[cred.KeyRefID] = cred
	return nil
}

func (m *MemoryIndex) Get(_ context.Context, keyRefID string) (Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.creds[keyRefID]
	if !ok {
		return Credential{}, errs.NotFound("key reference %s not found", keyRefID)
	}
	c.Labels = append([]string(nil), c.Labels...)
	return c, nil
}

func (m *MemoryIndex) Delete(_ context.Context, keyRefID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.creds[keyRefID]; !ok {
		return errs.NotFound("key reference %s not found", keyRefID)
	}
	delete(m.creds, keyRefID)
	return nil
}

func (m *MemoryIndex) List(_ context.Context) ([]Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Credential, 0, len(m.creds))
	for _, c := range m.creds {
		c.Labels = append([]string(nil), c.Labels...)
		out = append(out, c)
	}
	return out, nil
}

var _ Index = (*MemoryIndex)(nil)
