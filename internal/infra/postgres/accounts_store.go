package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/pj-gateway-go/internal/domain"
	"github.com/boddenberg/pj-gateway-go/internal/infra/secret"
)

const accountColumns = `tenant_id, id, provider, label, environment, category, external_ref,
	currency, capabilities, credentials, active, created_at, updated_at`

// AccountStore implements port.AccountStore. Credentials are sealed before
// they reach the table.
type AccountStore struct {
	db     *sql.DB
	sealer *secret.Sealer
	now    func() time.Time
}

// NewAccountStore creates a store on db.
func NewAccountStore(db *sql.DB, sealer *secret.Sealer) *AccountStore {
	return &AccountStore{db: db, sealer: sealer, now: time.Now}
}

// ListAccounts returns every account of tenant, deactivated ones included.
func (s *AccountStore) ListAccounts(ctx context.Context, tenantID string) ([]domain.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE tenant_id = $1 ORDER BY label, id`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		a, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// GetAccount returns the account or *domain.ErrNotFound.
func (s *AccountStore) GetAccount(ctx context.Context, tenantID, accountID string) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE tenant_id = $1 AND id = $2`,
		tenantID, accountID,
	)
	a, err := s.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "account", ID: accountID}
	}
	return a, err
}

// SaveAccount inserts or reconfigures an account. created_at survives
// reconfiguration.
func (s *AccountStore) SaveAccount(ctx context.Context, a *domain.Account) error {
	caps, err := json.Marshal(a.Capabilities)
	if err != nil {
		return fmt.Errorf("encode capabilities: %w", err)
	}
	creds, err := s.sealer.Seal(a.Credentials)
	if err != nil {
		return fmt.Errorf("seal credentials: %w", err)
	}

	now := s.now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			provider = EXCLUDED.provider,
			label = EXCLUDED.label,
			environment = EXCLUDED.environment,
			category = EXCLUDED.category,
			external_ref = EXCLUDED.external_ref,
			currency = EXCLUDED.currency,
			capabilities = EXCLUDED.capabilities,
			credentials = EXCLUDED.credentials,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at`,
		a.TenantID, a.ID, string(a.Provider), a.Label, string(a.Environment), string(a.Category),
		a.ExternalRef, a.Currency, string(caps), creds, a.Active, now,
	)
	if err != nil {
		return fmt.Errorf("save account %s: %w", a.ID, err)
	}
	return nil
}

// DeactivateAccount flags the account inactive. Rows are never deleted.
func (s *AccountStore) DeactivateAccount(ctx context.Context, tenantID, accountID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET active = FALSE, updated_at = $3 WHERE tenant_id = $1 AND id = $2`,
		tenantID, accountID, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("deactivate account %s: %w", accountID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate account %s: %w", accountID, err)
	}
	if n == 0 {
		return &domain.ErrNotFound{Resource: "account", ID: accountID}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *AccountStore) scan(row scanner) (*domain.Account, error) {
	var (
		a                               domain.Account
		provider, environment, category string
		caps, creds                     []byte
	)
	err := row.Scan(
		&a.TenantID, &a.ID, &provider, &a.Label, &environment, &category, &a.ExternalRef,
		&a.Currency, &caps, &creds, &a.Active, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}

	a.Provider = domain.ProviderID(provider)
	a.Environment = domain.Environment(environment)
	a.Category = domain.Category(category)
	if len(caps) > 0 {
		if err := json.Unmarshal(caps, &a.Capabilities); err != nil {
			return nil, fmt.Errorf("decode capabilities of %s: %w", a.ID, err)
		}
	}
	if a.Credentials, err = s.sealer.Open(creds); err != nil {
		return nil, fmt.Errorf("open credentials of %s: %w", a.ID, err)
	}
	return &a, nil
}
