// Package memstore is an in-memory account store, optionally seeded from a
// JSON file. It backs local runs and tests when no database is configured.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/boddenberg/pj-gateway-go/internal/domain"
)

// Store implements port.AccountStore in memory.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*domain.Account
	now      func() time.Time
}

// New creates a store holding accounts.
func New(accounts ...domain.Account) *Store {
	s := &Store{accounts: make(map[string]*domain.Account), now: time.Now}
	for i := range accounts {
		a := accounts[i]
		s.accounts[key(a.TenantID, a.ID)] = a.Clone()
	}
	return s
}

// fileAccount is the on-disk shape; credentials are an inline JSON object.
type fileAccount struct {
	domain.Account
	Credentials json.RawMessage `json:"credentials,omitempty"`
	Active      *bool           `json:"active,omitempty"`
}

// LoadFile reads a JSON array of accounts. Accounts without an explicit
// "active" flag are active.
func LoadFile(path string) (*Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}

	var items []fileAccount
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("parse accounts file %s: %w", path, err)
	}

	accounts := make([]domain.Account, 0, len(items))
	for i, item := range items {
		a := item.Account
		a.Credentials = []byte(item.Credentials)
		a.Active = item.Active == nil || *item.Active
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("accounts file entry %d: %w", i, err)
		}
		accounts = append(accounts, a)
	}
	return New(accounts...), nil
}

func (s *Store) ListAccounts(_ context.Context, tenantID string) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Account
	for _, a := range s.accounts {
		if a.TenantID == tenantID {
			out = append(out, *a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Label != out[j].Label {
			return out[i].Label < out[j].Label
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) GetAccount(_ context.Context, tenantID, accountID string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[key(tenantID, accountID)]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "account", ID: accountID}
	}
	return a.Clone(), nil
}

func (s *Store) SaveAccount(_ context.Context, account *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	c := account.Clone()
	if prev, ok := s.accounts[key(c.TenantID, c.ID)]; ok {
		c.CreatedAt = prev.CreatedAt
	} else {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.accounts[key(c.TenantID, c.ID)] = c
	return nil
}

func (s *Store) DeactivateAccount(_ context.Context, tenantID, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[key(tenantID, accountID)]
	if !ok {
		return &domain.ErrNotFound{Resource: "account", ID: accountID}
	}
	a.Active = false
	a.UpdatedAt = s.now().UTC()
	return nil
}

func key(tenantID, accountID string) string {
	return tenantID + "/" + accountID
}
