// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the gateway
// service from concrete providers and persistence.
package port

//go:generate mockgen -source=ports.go -destination=mocks/mock_ports.go -package=mocks

import (
	"context"
	"time"

	"github.com/boddenberg/pj-gateway-go/internal/domain"
)

// AccountStore persists the account directory.
type AccountStore interface {
	ListAccounts(ctx context.Context, tenantID string) ([]domain.Account, error)
	GetAccount(ctx context.Context, tenantID, accountID string) (*domain.Account, error)
	SaveAccount(ctx context.Context, account *domain.Account) error
	DeactivateAccount(ctx context.Context, tenantID, accountID string) error
}

// Directory is the read side of the account directory used by the gateway.
type Directory interface {
	ListAccounts(ctx context.Context, tenantID string) ([]domain.Account, error)
	GetAccount(ctx context.Context, tenantID, accountID string) (*domain.Account, error)
}

// Adapter translates the common operation contract into one provider's API.
// Implementations must be safe for concurrent use.
type Adapter interface {
	Provider() domain.ProviderID
	// Supports returns every capability the provider can serve at all.
	Supports() domain.Capabilities
	FetchBalance(ctx context.Context, account *domain.Account) (*domain.BalanceSnapshot, error)
	FetchStatement(ctx context.Context, account *domain.Account, rng domain.DateRange) (*domain.Statement, error)
	// ExecuteTransfer must create at most one external movement per
	// (account, req.IdempotencyToken).
	ExecuteTransfer(ctx context.Context, account *domain.Account, req *domain.TransferRequest) (*domain.TransferResult, error)
}

// AdapterResolver looks up the adapter registered for a provider.
type AdapterResolver interface {
	Resolve(provider domain.ProviderID) (Adapter, bool)
}

// IdempotencyStore is the transfer journal.
type IdempotencyStore interface {
	// Reserve stores entry if key is free and reports true. Otherwise it
	// returns the existing entry and false.
	Reserve(ctx context.Context, entry domain.JournalEntry, ttl time.Duration) (*domain.JournalEntry, bool, error)
	// Complete overwrites the entry with its final state.
	Complete(ctx context.Context, entry domain.JournalEntry, ttl time.Duration) error
	// Release drops a reservation so the token can be submitted again.
	Release(ctx context.Context, key string) error
	Get(ctx context.Context, key string) (*domain.JournalEntry, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
