package memstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boddenberg/pj-gateway-go/internal/domain"
)

const accountsJSON = `[
  {
    "id": "acc-main",
    "tenantId": "acme",
    "provider": "corebank",
    "label": "Main account",
    "environment": "production",
    "category": "bank",
    "externalRef": "0001-99",
    "currency": "BRL",
    "capabilities": {"balance": true, "statement": true, "transfer": true},
    "credentials": {"clientId": "acme", "clientSecret": "shh"}
  },
  {
    "id": "acc-old",
    "tenantId": "acme",
    "provider": "sandbox",
    "label": "Archived",
    "environment": "sandbox",
    "category": "bank",
    "currency": "BRL",
    "active": false,
    "capabilities": {"balance": true}
  }
]`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accounts.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	s, err := LoadFile(writeFile(t, accountsJSON))
	require.NoError(t, err)

	acc, err := s.GetAccount(context.Background(), "acme", "acc-main")
	require.NoError(t, err)
	assert.True(t, acc.Active)
	assert.True(t, acc.Capabilities.Transfer)
	assert.JSONEq(t, `{"clientId":"acme","clientSecret":"shh"}`, string(acc.Credentials))

	old, err := s.GetAccount(context.Background(), "acme", "acc-old")
	require.NoError(t, err)
	assert.False(t, old.Active)
}

func TestLoadFile_Invalid(t *testing.T) {
	_, err := LoadFile(writeFile(t, `[{"id":"x","tenantId":"t","provider":"p","environment":"moon","category":"bank","currency":"BRL"}]`))
	assert.ErrorContains(t, err, "environment")

	_, err = LoadFile(writeFile(t, `{`))
	assert.Error(t, err)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestStore_TenantIsolation(t *testing.T) {
	s := New(domain.Account{ID: "acc-1", TenantID: "a", Active: true})

	_, err := s.GetAccount(context.Background(), "b", "acc-1")
	var nf *domain.ErrNotFound
	assert.ErrorAs(t, err, &nf)

	list, err := s.ListAccounts(context.Background(), "b")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := New(domain.Account{ID: "acc-1", TenantID: "a", Label: "orig", Credentials: []byte("x")})

	acc, err := s.GetAccount(context.Background(), "a", "acc-1")
	require.NoError(t, err)
	acc.Label = "mutated"
	acc.Credentials[0] = 'y'

	again, err := s.GetAccount(context.Background(), "a", "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "orig", again.Label)
	assert.Equal(t, []byte("x"), again.Credentials)
}

func TestStore_SaveAndDeactivate(t *testing.T) {
	s := New()
	ctx := context.Background()
	acc := &domain.Account{ID: "acc-1", TenantID: "a", Label: "one", Active: true}

	require.NoError(t, s.SaveAccount(ctx, acc))
	first, _ := s.GetAccount(ctx, "a", "acc-1")

	acc.Label = "renamed"
	require.NoError(t, s.SaveAccount(ctx, acc))
	second, _ := s.GetAccount(ctx, "a", "acc-1")
	assert.Equal(t, "renamed", second.Label)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	require.NoError(t, s.DeactivateAccount(ctx, "a", "acc-1"))
	third, _ := s.GetAccount(ctx, "a", "acc-1")
	assert.False(t, third.Active)

	var nf *domain.ErrNotFound
	assert.ErrorAs(t, s.DeactivateAccount(ctx, "a", "nope"), &nf)
}
