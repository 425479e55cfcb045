package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/boddenberg/pj-gateway-go/internal/domain"
	"github.com/boddenberg/pj-gateway-go/internal/port"
)

// IdempotentAdapter wraps an adapter so that each (account, token) pair
// reaches the provider at most once. Reads pass straight through.
type IdempotentAdapter struct {
	port.Adapter
	store  port.IdempotencyStore
	lease  time.Duration
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// Idempotent decorates inner with the transfer journal in store. An
// in-flight reservation lives for lease, a recorded outcome for ttl. The
// lease must outlast one transfer attempt; once it lapses a resubmission
// with the same token reaches the provider again.
func Idempotent(inner port.Adapter, store port.IdempotencyStore, lease, ttl time.Duration, logger *zap.Logger) *IdempotentAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lease <= 0 || lease > ttl {
		lease = ttl
	}
	return &IdempotentAdapter{
		Adapter: inner,
		store:   store,
		lease:   lease,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
	}
}

// ExecuteTransfer reserves the token, calls the provider once and records
// the outcome. A token already seen returns ErrDuplicateRequest carrying
// the recorded result, or no result while the first attempt is in flight.
// A failure that is not a business rejection releases the reservation so
// the caller may resubmit with the same token; the provider receives the
// token as its own idempotency key and dedupes on its side.
func (a *IdempotentAdapter) ExecuteTransfer(ctx context.Context, account *domain.Account, req *domain.TransferRequest) (*domain.TransferResult, error) {
	key := domain.JournalKey(account.TenantID+"/"+account.ID, req.IdempotencyToken)
	entry := domain.JournalEntry{
		Key:         key,
		AttemptID:   ulid.Make().String(),
		Fingerprint: req.Fingerprint(),
		State:       domain.JournalProcessing,
		CreatedAt:   a.now().UTC(),
	}

	existing, reserved, err := a.store.Reserve(ctx, entry, a.lease)
	if err != nil {
		return nil, &domain.ErrProviderUnavailable{Provider: a.Provider(), Err: fmt.Errorf("transfer journal: %w", err)}
	}
	if !reserved {
		if existing.Fingerprint != entry.Fingerprint {
			return nil, &domain.ErrValidation{Field: "idempotencyToken", Message: "token already used for a different transfer"}
		}
		if existing.State == domain.JournalDone && existing.Result != nil {
			original := *existing.Result
			return nil, &domain.ErrDuplicateRequest{Key: key, Original: &original}
		}
		return nil, &domain.ErrDuplicateRequest{Key: key}
	}

	log := a.logger.With(
		zap.String("journal_key", key),
		zap.String("attempt_id", entry.AttemptID),
	)

	result, err := a.Adapter.ExecuteTransfer(ctx, account, req)

	// The journal must be updated even when the caller has gone away.
	storeCtx := context.WithoutCancel(ctx)

	if err != nil {
		var rejected *domain.ErrTransferRejected
		if errors.As(err, &rejected) {
			entry.State = domain.JournalDone
			entry.Result = &domain.TransferResult{
				Status:           domain.TransferRejected,
				AmountMinorUnits: req.AmountMinorUnits,
				Reason:           rejected.Reason,
			}
			if cerr := a.store.Complete(storeCtx, entry, a.ttl); cerr != nil {
				log.Error("failed to record rejected transfer", zap.Error(cerr))
			}
			return nil, err
		}

		if rerr := a.store.Release(storeCtx, key); rerr != nil {
			log.Error("failed to release transfer reservation", zap.Error(rerr))
		}
		return nil, err
	}

	entry.State = domain.JournalDone
	entry.Result = result
	if cerr := a.store.Complete(storeCtx, entry, a.ttl); cerr != nil {
		// The movement happened; losing the record only weakens replay.
		log.Error("failed to record transfer result", zap.Error(cerr))
	}
	return result, nil
}
