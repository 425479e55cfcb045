package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/boddenberg/pj-gateway-go/internal/domain"
)

// SandboxID is the provider id of the in-process sandbox.
const SandboxID domain.ProviderID = "sandbox"

// Fault is a failure the sandbox can be told to inject.
type Fault string

const (
	FaultNone        Fault = ""
	FaultTimeout     Fault = "timeout"     // block until the context ends
	FaultUnavailable Fault = "unavailable" // fail fast as unreachable
	FaultAuth        Fault = "auth"        // reject credentials
	FaultUnknown     Fault = "unknown"     // answer with an unmappable payload
)

type sandboxLedger struct {
	available int64
	pending   int64
	currency  string
	entries   []domain.StatementEntry
}

// Sandbox simulates a provider in memory. External ids are issued from a
// single sequence (E1, E2, ...) and transfers are deduplicated by token
// the way a real provider honours an idempotency key.
type Sandbox struct {
	mu        sync.Mutex
	ledgers   map[string]*sandboxLedger
	transfers map[string]domain.TransferResult
	faults    map[string]Fault
	seq       int
	opening   int64
	now       func() time.Time
}

// SandboxOption configures a Sandbox.
type SandboxOption func(*Sandbox)

// WithOpeningBalance sets the available balance of accounts that were
// never seeded explicitly.
func WithOpeningBalance(minor int64) SandboxOption {
	return func(s *Sandbox) { s.opening = minor }
}

// WithClock replaces the sandbox clock.
func WithClock(now func() time.Time) SandboxOption {
	return func(s *Sandbox) { s.now = now }
}

// NewSandbox creates an empty sandbox provider.
func NewSandbox(opts ...SandboxOption) *Sandbox {
	s := &Sandbox{
		ledgers:   make(map[string]*sandboxLedger),
		transfers: make(map[string]domain.TransferResult),
		faults:    make(map[string]Fault),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sandbox) Provider() domain.ProviderID { return SandboxID }

func (s *Sandbox) Supports() domain.Capabilities {
	return domain.Capabilities{
		InstantTransferIn: true,
		VoucherBilling:    true,
		CreditCard:        true,
		DebitCard:         true,
		RecurringBilling:  true,
		PaymentSplit:      true,
		Transfer:          true,
		Balance:           true,
		Statement:         true,
	}
}

// Seed sets the balance and statement entries of account.
func (s *Sandbox) Seed(account *domain.Account, available int64, entries ...domain.StatementEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ledgers[ledgerKey(account)] = &sandboxLedger{
		available: available,
		currency:  account.Currency,
		entries:   append([]domain.StatementEntry(nil), entries...),
	}
}

// SetFault makes every later call of operation fail with f. FaultNone
// clears it.
func (s *Sandbox) SetFault(operation string, f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f == FaultNone {
		delete(s.faults, operation)
		return
	}
	s.faults[operation] = f
}

// TransferCount returns how many distinct transfers were executed.
func (s *Sandbox) TransferCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

func (s *Sandbox) FetchBalance(ctx context.Context, account *domain.Account) (*domain.BalanceSnapshot, error) {
	if err := guard(SandboxID, account, domain.CapabilityBalance); err != nil {
		return nil, err
	}
	if err := s.inject(ctx, "balance"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.ledger(account)
	return &domain.BalanceSnapshot{
		Available: l.available,
		Pending:   l.pending,
		Currency:  l.currency,
		FetchedAt: s.now().UTC(),
	}, nil
}

func (s *Sandbox) FetchStatement(ctx context.Context, account *domain.Account, rng domain.DateRange) (*domain.Statement, error) {
	if err := guardStatement(SandboxID, account, rng); err != nil {
		return nil, err
	}
	if err := s.inject(ctx, "statement"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	entries := append([]domain.StatementEntry(nil), s.ledger(account).entries...)
	s.mu.Unlock()

	return domain.NewStatement(rng, entries), nil
}

func (s *Sandbox) ExecuteTransfer(ctx context.Context, account *domain.Account, req *domain.TransferRequest) (*domain.TransferResult, error) {
	if err := guard(SandboxID, account, domain.CapabilityTransfer); err != nil {
		return nil, err
	}
	if err := s.inject(ctx, "transfer"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := ledgerKey(account) + ":" + req.IdempotencyToken
	if prior, ok := s.transfers[key]; ok {
		res := prior
		return &res, nil
	}

	l := s.ledger(account)
	if req.AmountMinorUnits > l.available {
		return nil, &domain.ErrTransferRejected{Provider: SandboxID, Reason: domain.RejectInsufficientFunds}
	}

	s.seq++
	result := domain.TransferResult{
		Status:           domain.TransferConfirmed,
		ExternalID:       fmt.Sprintf("E%d", s.seq),
		AmountMinorUnits: req.AmountMinorUnits,
	}

	l.available -= req.AmountMinorUnits
	if req.Method == domain.MethodWire {
		result.Status = domain.TransferPending
		l.pending += req.AmountMinorUnits
	}
	l.entries = append(l.entries, domain.NewEntry(
		domain.DateOf(s.now().UTC()),
		transferDescription(req),
		req.AmountMinorUnits,
		domain.DirectionDebit,
		result.ExternalID,
	))

	s.transfers[key] = result
	return &result, nil
}

// ledger must be called with mu held.
func (s *Sandbox) ledger(account *domain.Account) *sandboxLedger {
	key := ledgerKey(account)
	l, ok := s.ledgers[key]
	if !ok {
		l = &sandboxLedger{available: s.opening, currency: account.Currency}
		s.ledgers[key] = l
	}
	return l
}

func (s *Sandbox) inject(ctx context.Context, operation string) error {
	s.mu.Lock()
	f := s.faults[operation]
	s.mu.Unlock()

	switch f {
	case FaultTimeout:
		<-ctx.Done()
		return &domain.ErrProviderUnavailable{Provider: SandboxID, Err: ctx.Err()}
	case FaultUnavailable:
		return &domain.ErrProviderUnavailable{Provider: SandboxID, Err: errors.New("connection refused")}
	case FaultAuth:
		return &domain.ErrAuthFailure{Provider: SandboxID, Err: errors.New("invalid api key")}
	case FaultUnknown:
		return &domain.ErrUnknownResponse{
			Provider:  SandboxID,
			Operation: operation,
			Payload:   `{"status":"???"}`,
			Err:       errors.New("unrecognised payload"),
		}
	}
	return ctx.Err()
}

func ledgerKey(account *domain.Account) string {
	return account.TenantID + "/" + account.ID
}

func transferDescription(req *domain.TransferRequest) string {
	if req.Description != "" {
		return req.Description
	}
	return fmt.Sprintf("%s transfer", req.Method)
}
