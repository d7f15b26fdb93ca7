// Package secrets is the thin adapter over the managed secret store that
// holds Credential Material (spec §3): per-user OAuth refresh/access
// tokens, keyed by the opaque tokenRef on the User record. The store
// itself is an external collaborator (spec §1); this package is the
// interface the core codes against, mirroring the small-interface shape
// of internal/musicservice.Client.
package secrets

import (
	"context"
	"sync"
	"time"

	"github.com/snarg/motion-engine/internal/errs"
)

// Credential is the material held per user.
type Credential struct {
	RefreshToken string
	AccessToken  string
	ExpiresAt    time.Time
}

// Store reads and writes Credential Material by tokenRef.
type Store interface {
	Get(ctx context.Context, tokenRef string) (Credential, error)
	Put(ctx context.Context, tokenRef string, cred Credential) error
	Delete(ctx context.Context, tokenRef string) error
}

// MemoryStore is an in-process Store, standing in for the managed secret
// store named in spec §1 as an external primitive. No secret-management
// SDK appears anywhere in the reference pack (no Vault/KMS client in any
// example's go.mod), so the adapter is a small mutex-guarded map rather
// than a borrowed library (see DESIGN.md).
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]Credential
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]Credential)}
}

func (m *MemoryStore) Get(_ context.Context, tokenRef string) (Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.creds[tokenRef]
	if !ok {
		return Credential{}, errs.New(errs.NotFound, "no credential for tokenRef")
	}
	return c, nil
}

func (m *MemoryStore) Put(_ context.Context, tokenRef string, cred Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[tokenRef] = cred
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, tokenRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, tokenRef)
	return nil
}
