package domain

import (
	"strings"
	"time"
)

// ============================================================
// Accounts
// ============================================================

// ProviderID identifies the external bank or PSP behind an account.
type ProviderID string

// Environment selects the provider environment an account talks to.
type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentSandbox    Environment = "sandbox"
)

// Valid reports whether e is a known environment.
func (e Environment) Valid() bool {
	return e == EnvironmentProduction || e == EnvironmentSandbox
}

// Category distinguishes full banks from payment service providers.
type Category string

const (
	CategoryBank Category = "bank"
	CategoryPSP  Category = "psp"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c == CategoryBank || c == CategoryPSP
}

// Account is a configured financial account of a tenant.
// Capabilities are fixed when the account is configured; financial
// operations never change them.
type Account struct {
	ID           string       `json:"id"`
	TenantID     string       `json:"tenantId"`
	Provider     ProviderID   `json:"provider"`
	Label        string       `json:"label"`
	Environment  Environment  `json:"environment"`
	Category     Category     `json:"category"`
	ExternalRef  string       `json:"externalRef,omitempty"` // account reference on the provider side
	Currency     string       `json:"currency"`
	Capabilities Capabilities `json:"capabilities"`
	Active       bool         `json:"active"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`

	// Credentials is the provider credential document (JSON). Never serialized.
	Credentials []byte `json:"-"`
}

// Clone returns a deep copy so cached accounts cannot be mutated by callers.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.Credentials != nil {
		c.Credentials = append([]byte(nil), a.Credentials...)
	}
	return &c
}

// Validate checks the fields required at configuration time.
func (a *Account) Validate() error {
	switch {
	case strings.TrimSpace(a.ID) == "":
		return &ErrValidation{Field: "id", Message: "account id is required"}
	case strings.TrimSpace(a.TenantID) == "":
		return &ErrValidation{Field: "tenantId", Message: "tenant id is required"}
	case strings.TrimSpace(string(a.Provider)) == "":
		return &ErrValidation{Field: "provider", Message: "provider is required"}
	case !a.Environment.Valid():
		return &ErrValidation{Field: "environment", Message: "must be production or sandbox"}
	case !a.Category.Valid():
		return &ErrValidation{Field: "category", Message: "must be bank or psp"}
	case len(a.Currency) != 3:
		return &ErrValidation{Field: "currency", Message: "must be an ISO 4217 code"}
	}
	return nil
}

// AccountSummary is the credential-free view of an account used in listings.
type AccountSummary struct {
	ID           string       `json:"id"`
	Label        string       `json:"label"`
	Provider     ProviderID   `json:"provider"`
	Environment  Environment  `json:"environment"`
	Category     Category     `json:"category"`
	Capabilities Capabilities `json:"capabilities"`
}

// Summary returns the listing view of the account.
func (a *Account) Summary() AccountSummary {
	return AccountSummary{
		ID:           a.ID,
		Label:        a.Label,
		Provider:     a.Provider,
		Environment:  a.Environment,
		Category:     a.Category,
		Capabilities: a.Capabilities,
	}
}
