package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/boddenberg/pj-gateway-go/internal/domain"
	"github.com/boddenberg/pj-gateway-go/internal/infra/observability"
	"github.com/boddenberg/pj-gateway-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var dirTracer = otel.Tracer("service/directory")

// Directory is the account directory: a store fronted by a TTL cache.
// Reads come from the gateway on every call; writes only happen through
// Reconfigure and Deactivate, which invalidate the cache.
type Directory struct {
	store    port.AccountStore
	adapters port.AdapterResolver
	cache    port.Cache[*domain.Account]
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewDirectory creates the directory service.
func NewDirectory(
	store port.AccountStore,
	adapters port.AdapterResolver,
	cache port.Cache[*domain.Account],
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Directory {
	return &Directory{
		store:    store,
		adapters: adapters,
		cache:    cache,
		metrics:  metrics,
		logger:   logger,
	}
}

// GetAccount resolves an active account of tenant. Unknown, foreign and
// deactivated accounts all resolve as *domain.ErrNotFound.
func (d *Directory) GetAccount(ctx context.Context, tenantID, accountID string) (*domain.Account, error) {
	ctx, span := dirTracer.Start(ctx, "Directory.GetAccount")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("account.id", accountID),
	)

	key := cacheKey(tenantID, accountID)
	acc, ok := d.cache.Get(key)
	if ok {
		d.metrics.IncrDirectoryHit()
	} else {
		d.metrics.IncrDirectoryMiss()
		stored, err := d.store.GetAccount(ctx, tenantID, accountID)
		if err != nil {
			return nil, err
		}
		acc = stored
		d.cache.Set(key, acc.Clone())
	}

	if !acc.Active || acc.TenantID != tenantID {
		return nil, &domain.ErrNotFound{Resource: "account", ID: accountID}
	}
	return acc.Clone(), nil
}

// ListAccounts returns the active accounts of tenant.
func (d *Directory) ListAccounts(ctx context.Context, tenantID string) ([]domain.Account, error) {
	ctx, span := dirTracer.Start(ctx, "Directory.ListAccounts")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	all, err := d.store.ListAccounts(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	active := make([]domain.Account, 0, len(all))
	for _, a := range all {
		if a.Active && a.TenantID == tenantID {
			active = append(active, a)
		}
	}
	return active, nil
}

// Reconfigure onboards or reconfigures an account. The provider must be
// registered and able to serve every capability the account claims.
func (d *Directory) Reconfigure(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	ctx, span := dirTracer.Start(ctx, "Directory.Reconfigure")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", account.TenantID),
		attribute.String("account.id", account.ID),
	)

	if err := account.Validate(); err != nil {
		return nil, toGatewayError(err)
	}

	adapter, ok := d.adapters.Resolve(account.Provider)
	if !ok {
		return nil, toGatewayError(&domain.ErrValidation{
			Field:   "provider",
			Message: fmt.Sprintf("provider %q is not registered", account.Provider),
		})
	}
	if missing := account.Capabilities.Missing(adapter.Supports()); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, c := range missing {
			names[i] = string(c)
		}
		return nil, toGatewayError(&domain.ErrValidation{
			Field:   "capabilities",
			Message: fmt.Sprintf("provider %s cannot serve: %s", account.Provider, strings.Join(names, ", ")),
		})
	}

	saved := account.Clone()
	saved.Active = true
	if err := d.store.SaveAccount(ctx, saved); err != nil {
		d.logger.Error("failed to save account",
			zap.String("tenant_id", account.TenantID),
			zap.String("account_id", account.ID),
			zap.Error(err),
		)
		return nil, directoryError(err)
	}
	d.cache.Delete(cacheKey(account.TenantID, account.ID))

	d.logger.Info("account configured",
		zap.String("tenant_id", account.TenantID),
		zap.String("account_id", account.ID),
		zap.String("provider", string(account.Provider)),
		zap.Any("capabilities", account.Capabilities.List()),
	)
	stored, err := d.store.GetAccount(ctx, account.TenantID, account.ID)
	if err != nil {
		return nil, directoryError(err)
	}
	return stored, nil
}

// Deactivate removes an account from service. It stays in the store.
func (d *Directory) Deactivate(ctx context.Context, tenantID, accountID string) error {
	ctx, span := dirTracer.Start(ctx, "Directory.Deactivate")
	defer span.End()

	if err := d.store.DeactivateAccount(ctx, tenantID, accountID); err != nil {
		return directoryError(err)
	}
	d.cache.Delete(cacheKey(tenantID, accountID))

	d.logger.Info("account deactivated",
		zap.String("tenant_id", tenantID),
		zap.String("account_id", accountID),
	)
	return nil
}

func cacheKey(tenantID, accountID string) string {
	return tenantID + "/" + accountID
}
