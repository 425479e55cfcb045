// Package service provides the business logic layer: the account
// directory and the gateway facade every consumer goes through.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/pj-gateway-go/internal/domain"
	"github.com/boddenberg/pj-gateway-go/internal/infra/observability"
	"github.com/boddenberg/pj-gateway-go/internal/infra/resilience"
	"github.com/boddenberg/pj-gateway-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("service/gateway")

// Config bounds the gateway's outbound work.
type Config struct {
	BalanceTimeout       time.Duration
	StatementTimeout     time.Duration
	TransferTimeout      time.Duration
	MaxStatementSpanDays int
	MaxConcurrency       int
}

// Gateway is the single entry point for balance, statement and transfer
// operations. It resolves the account, gates on its capabilities,
// validates input, dispatches to the provider adapter under a timeout and
// maps every failure into the domain.ErrorKind taxonomy.
type Gateway struct {
	directory port.Directory
	adapters  port.AdapterResolver
	cfg       Config
	bulkhead  *resilience.Bulkhead
	locks     *keyedMutex
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewGateway creates the facade with all dependencies injected.
func NewGateway(
	directory port.Directory,
	adapters port.AdapterResolver,
	cfg Config,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Gateway {
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	return &Gateway{
		directory: directory,
		adapters:  adapters,
		cfg:       cfg,
		bulkhead:  resilience.NewBulkhead(cfg.MaxConcurrency),
		locks:     newKeyedMutex(),
		metrics:   metrics,
		logger:    logger,
	}
}

// ListAccounts returns the active accounts of tenant.
func (g *Gateway) ListAccounts(ctx context.Context, tenantID string) ([]domain.Account, error) {
	accounts, err := g.directory.ListAccounts(ctx, tenantID)
	if err != nil {
		return nil, directoryError(err)
	}
	return accounts, nil
}

// GetAccount returns one active account of tenant.
func (g *Gateway) GetAccount(ctx context.Context, tenantID, accountID string) (*domain.Account, error) {
	acc, err := g.directory.GetAccount(ctx, tenantID, accountID)
	if err != nil {
		return nil, directoryError(err)
	}
	return acc, nil
}

// GetBalance fetches a fresh balance snapshot. Balances are never cached.
func (g *Gateway) GetBalance(ctx context.Context, tenantID, accountID string) (snap *domain.BalanceSnapshot, err error) {
	ctx, span := tracer.Start(ctx, "Gateway.GetBalance")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID), attribute.String("account.id", accountID))

	start := time.Now()
	var provider domain.ProviderID
	defer func() { g.finish(span, observability.OpBalance, provider, accountID, start, err) }()

	acc, adapter, err := g.resolve(ctx, tenantID, accountID, domain.CapabilityBalance)
	if err != nil {
		return nil, err
	}
	provider = acc.Provider

	ctx, cancel := context.WithTimeout(ctx, g.cfg.BalanceTimeout)
	defer cancel()

	release, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	snap, err = adapter.FetchBalance(ctx, acc)
	if err != nil {
		return nil, toGatewayError(err)
	}
	return snap, nil
}

// GetStatement fetches the entries of rng (inclusive) with their summary.
func (g *Gateway) GetStatement(ctx context.Context, tenantID, accountID string, rng domain.DateRange) (st *domain.Statement, err error) {
	ctx, span := tracer.Start(ctx, "Gateway.GetStatement")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("account.id", accountID),
		attribute.String("range.start", rng.Start.String()),
		attribute.String("range.end", rng.End.String()),
	)

	start := time.Now()
	var provider domain.ProviderID
	defer func() { g.finish(span, observability.OpStatement, provider, accountID, start, err) }()

	acc, adapter, err := g.resolve(ctx, tenantID, accountID, domain.CapabilityStatement)
	if err != nil {
		return nil, err
	}
	provider = acc.Provider

	if err := rng.Validate(g.cfg.MaxStatementSpanDays); err != nil {
		return nil, toGatewayError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.StatementTimeout)
	defer cancel()

	release, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	st, err = adapter.FetchStatement(ctx, acc, rng)
	if err != nil {
		return nil, toGatewayError(err)
	}
	if st.Range != rng {
		err = fmt.Errorf("statement range %s..%s does not match query", st.Range.Start, st.Range.End)
	} else {
		err = st.Verify()
	}
	if err != nil {
		return nil, toGatewayError(&domain.ErrUnknownResponse{Provider: acc.Provider, Operation: observability.OpStatement, Err: err})
	}
	return st, nil
}

// Transfer submits req once. Transfers of the same account are serialised;
// the facade never retries them. Resubmitting with the same idempotency
// token replays the recorded outcome.
func (g *Gateway) Transfer(ctx context.Context, tenantID string, req domain.TransferRequest) (out *domain.TransferOutcome, err error) {
	ctx, span := tracer.Start(ctx, "Gateway.Transfer")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("account.id", req.AccountID),
		attribute.String("transfer.method", string(req.Method)),
		attribute.Int64("transfer.amount", req.AmountMinorUnits),
	)

	start := time.Now()
	var provider domain.ProviderID
	defer func() { g.finish(span, observability.OpTransfer, provider, req.AccountID, start, err) }()

	acc, adapter, err := g.resolve(ctx, tenantID, req.AccountID, domain.CapabilityTransfer)
	if err != nil {
		return nil, err
	}
	provider = acc.Provider

	if err := req.Validate(); err != nil {
		return nil, toGatewayError(err)
	}

	draft := domain.DraftOf(req, start)
	span.SetAttributes(attribute.String("transfer.draft_id", draft.ID))
	defer func() {
		if !draft.State.Terminal() {
			return
		}
		span.SetAttributes(attribute.String("transfer.state", string(draft.State)))
		g.logger.Info("transfer settled",
			zap.String("draft_id", draft.ID),
			zap.String("account_id", acc.ID),
			zap.String("state", string(draft.State)),
		)
	}()

	ctx, cancel := context.WithTimeout(ctx, g.cfg.TransferTimeout)
	defer cancel()

	unlock, err := g.locks.Lock(ctx, cacheKey(tenantID, acc.ID))
	if err != nil {
		return nil, &domain.GatewayError{Kind: domain.KindProviderUnavailable, Message: "another transfer of this account is still in progress, retry later", Err: err}
	}
	defer unlock()

	release, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := draft.Advance(domain.StateSubmitted); err != nil {
		return nil, err
	}

	g.logger.Info("submitting transfer",
		zap.String("draft_id", draft.ID),
		zap.String("tenant_id", tenantID),
		zap.String("account_id", acc.ID),
		zap.String("provider", string(acc.Provider)),
		zap.String("method", string(req.Method)),
		zap.String("destination", req.MaskedDestination()),
		zap.Int64("amount", req.AmountMinorUnits),
		zap.String("idempotency_token", req.IdempotencyToken),
	)

	result, err := adapter.ExecuteTransfer(ctx, acc, &req)
	replayed := false
	if err != nil {
		var dup *domain.ErrDuplicateRequest
		switch {
		case errors.As(err, &dup) && dup.Original != nil:
			result, replayed = dup.Original, true
		case dup != nil:
			// first attempt still in flight; this draft never reached the provider
			return nil, toGatewayError(err)
		default:
			var rejected *domain.ErrTransferRejected
			if errors.As(err, &rejected) {
				g.metrics.IncrTransfer(domain.TransferRejected)
				_ = draft.Advance(domain.StateRejected)
			} else {
				_ = draft.Advance(domain.StateFailed)
			}
			return nil, toGatewayError(err)
		}
	}

	if result.Status == domain.TransferRejected {
		if !replayed {
			g.metrics.IncrTransfer(domain.TransferRejected)
		}
		_ = draft.Advance(domain.StateRejected)
		return nil, &domain.GatewayError{Kind: domain.KindTransferRejected, Message: "transfer rejected: " + result.Reason}
	}

	if err := draft.Advance(domain.StateForStatus(result.Status)); err != nil {
		return nil, toGatewayError(&domain.ErrUnknownResponse{Provider: acc.Provider, Operation: observability.OpTransfer, Err: err})
	}
	if !replayed {
		g.metrics.IncrTransfer(result.Status)
	}

	return &domain.TransferOutcome{
		TransferResult: *result,
		State:          draft.State,
		Replayed:       replayed,
	}, nil
}

// Overview fetches the balance of every balance-capable account of tenant
// concurrently. A failing account yields an error row; it never fails the
// whole overview.
func (g *Gateway) Overview(ctx context.Context, tenantID string) ([]domain.AccountBalance, error) {
	ctx, span := tracer.Start(ctx, "Gateway.Overview")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	start := time.Now()
	accounts, err := g.ListAccounts(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	rows := make([]domain.AccountBalance, 0, len(accounts))
	for _, a := range accounts {
		if a.Capabilities.Balance {
			rows = append(rows, domain.AccountBalance{Account: a.Summary()})
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.MaxConcurrency)
	for i := range rows {
		eg.Go(func() error {
			snap, err := g.GetBalance(egCtx, tenantID, rows[i].Account.ID)
			if err != nil {
				kind := domain.KindOf(err)
				var gErr *domain.GatewayError
				msg := "unavailable, retry"
				if errors.As(err, &gErr) && kind != domain.KindProviderUnavailable {
					msg = gErr.Message
				}
				rows[i].Error = &domain.ErrorBody{Code: kind, Message: msg, Retryable: kind.Retryable()}
				return nil
			}
			rows[i].Balance = snap
			return nil
		})
	}
	_ = eg.Wait()

	g.metrics.ObserveOperation(observability.OpOverview, "", time.Since(start), "")
	return rows, nil
}

// resolve performs the checks every operation starts with: the account
// exists for the tenant and it, and its provider, support capability.
// No network call to a provider happens before it succeeds.
func (g *Gateway) resolve(ctx context.Context, tenantID, accountID string, capability domain.Capability) (*domain.Account, port.Adapter, error) {
	acc, err := g.directory.GetAccount(ctx, tenantID, accountID)
	if err != nil {
		return nil, nil, directoryError(err)
	}
	if !acc.Capabilities.Has(capability) {
		return acc, nil, capabilityError(acc, capability)
	}

	adapter, ok := g.adapters.Resolve(acc.Provider)
	if !ok {
		g.logger.Error("account configured with unregistered provider",
			zap.String("account_id", acc.ID),
			zap.String("provider", string(acc.Provider)),
		)
		return acc, nil, toGatewayError(&domain.ErrUnsupportedByProvider{Provider: acc.Provider, Capability: capability})
	}
	if !adapter.Supports().Has(capability) {
		return acc, nil, toGatewayError(&domain.ErrUnsupportedByProvider{Provider: acc.Provider, Capability: capability})
	}
	return acc, adapter, nil
}

func (g *Gateway) acquire(ctx context.Context) (func(), error) {
	if err := g.bulkhead.Acquire(ctx); err != nil {
		return nil, &domain.GatewayError{Kind: domain.KindProviderUnavailable, Message: "gateway busy, retry later", Err: err}
	}
	return g.bulkhead.Release, nil
}

// finish records metrics, the span status and a log line whose severity
// follows the error kind.
func (g *Gateway) finish(span trace.Span, operation string, provider domain.ProviderID, accountID string, start time.Time, err error) {
	kind := domain.KindOf(err)
	if err != nil && kind == "" {
		kind = domain.KindUnknownProviderResponse
	}
	g.metrics.ObserveOperation(operation, provider, time.Since(start), kind)
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, string(kind))

	level := zapcore.DebugLevel
	switch kind {
	case domain.KindAuthFailure, domain.KindUnknownProviderResponse:
		level = zapcore.ErrorLevel
	case domain.KindProviderUnavailable, domain.KindTransferRejected:
		level = zapcore.WarnLevel
	case domain.KindDuplicateRequest:
		level = zapcore.InfoLevel
	}
	if ce := g.logger.Check(level, "gateway operation failed"); ce != nil {
		ce.Write(
			zap.String("operation", operation),
			zap.String("provider", string(provider)),
			zap.String("account_id", accountID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}
