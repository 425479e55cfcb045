package domain

import (
	"errors"
	"fmt"
)

// ============================================================
// Gateway error taxonomy (what callers see)
// ============================================================

// ErrorKind is the stable error code exposed to gateway callers.
type ErrorKind string

const (
	KindAccountNotFound         ErrorKind = "ACCOUNT_NOT_FOUND"
	KindCapabilityUnsupported   ErrorKind = "CAPABILITY_UNSUPPORTED"
	KindValidation              ErrorKind = "VALIDATION_ERROR"
	KindAuthFailure             ErrorKind = "AUTH_FAILURE"
	KindProviderUnavailable     ErrorKind = "PROVIDER_UNAVAILABLE"
	KindTransferRejected        ErrorKind = "TRANSFER_REJECTED"
	KindDuplicateRequest        ErrorKind = "DUPLICATE_REQUEST"
	KindUnknownProviderResponse ErrorKind = "UNKNOWN_PROVIDER_RESPONSE"
)

// Retryable reports whether the same call may be retried as is. Transfers
// may only be retried with the original idempotency token.
func (k ErrorKind) Retryable() bool {
	return k == KindProviderUnavailable
}

// GatewayError is the only error type the gateway returns to callers.
type GatewayError struct {
	Kind       ErrorKind
	Message    string
	Capability Capability // set for KindCapabilityUnsupported
	Err        error      // internal cause, never rendered to callers
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// KindOf returns the gateway kind carried by err, or "" if none.
func KindOf(err error) ErrorKind {
	var gErr *GatewayError
	if errors.As(err, &gErr) {
		return gErr.Kind
	}
	return ""
}

// ============================================================
// Store and adapter level errors (mapped by the gateway)
// ============================================================

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrInvalidRange indicates a statement range with start after end.
type ErrInvalidRange struct {
	Start Date
	End   Date
}

func (e *ErrInvalidRange) Error() string {
	return fmt.Sprintf("invalid range: start %s is after end %s", e.Start, e.End)
}

// ErrProviderUnavailable indicates a transport failure or timeout.
type ErrProviderUnavailable struct {
	Provider ProviderID
	Err      error
}

func (e *ErrProviderUnavailable) Error() string {
	return fmt.Sprintf("provider unavailable [%s]: %v", e.Provider, e.Err)
}

func (e *ErrProviderUnavailable) Unwrap() error {
	return e.Err
}

// ErrAuthFailure indicates the provider rejected our credentials.
type ErrAuthFailure struct {
	Provider ProviderID
	Err      error
}

func (e *ErrAuthFailure) Error() string {
	return fmt.Sprintf("provider rejected credentials [%s]: %v", e.Provider, e.Err)
}

func (e *ErrAuthFailure) Unwrap() error {
	return e.Err
}

// Rejection reasons shown to callers. Provider wording only reaches the logs.
const (
	RejectInsufficientFunds  = "insufficient funds"
	RejectInvalidDestination = "invalid destination"
	RejectLimitExceeded      = "limit exceeded"
	RejectComplianceHold     = "compliance hold"
	RejectOther              = "rejected by provider"
)

// ErrTransferRejected is a provider-side business denial. Reason is one of
// the Reject* constants; Detail keeps the provider's own text.
type ErrTransferRejected struct {
	Provider ProviderID
	Reason   string
	Detail   string
}

func (e *ErrTransferRejected) Error() string {
	if e.Detail != "" && e.Detail != e.Reason {
		return fmt.Sprintf("transfer rejected [%s]: %s (%s)", e.Provider, e.Reason, e.Detail)
	}
	return fmt.Sprintf("transfer rejected [%s]: %s", e.Provider, e.Reason)
}

// ErrDuplicateRequest indicates a repeated idempotency token. Original is
// nil while the first attempt is still in flight.
type ErrDuplicateRequest struct {
	Key      string
	Original *TransferResult
}

func (e *ErrDuplicateRequest) Error() string {
	if e.Original == nil {
		return fmt.Sprintf("duplicate operation in flight: %s", e.Key)
	}
	return fmt.Sprintf("duplicate operation: %s", e.Key)
}

// ErrUnknownResponse indicates a provider payload that could not be mapped
// into the common model. Payload is for logs only.
type ErrUnknownResponse struct {
	Provider  ProviderID
	Operation string
	Payload   string
	Err       error
}

func (e *ErrUnknownResponse) Error() string {
	return fmt.Sprintf("unknown response from %s on %s: %v", e.Provider, e.Operation, e.Err)
}

func (e *ErrUnknownResponse) Unwrap() error {
	return e.Err
}

// ErrUnsupportedByProvider is returned by adapters asked for an operation
// their provider cannot serve.
type ErrUnsupportedByProvider struct {
	Provider   ProviderID
	Capability Capability
}

func (e *ErrUnsupportedByProvider) Error() string {
	return fmt.Sprintf("provider %s does not support %s", e.Provider, e.Capability)
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}
