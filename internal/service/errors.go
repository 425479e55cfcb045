package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/boddenberg/pj-gateway-go/internal/domain"
)

// toGatewayError maps store and adapter errors into the caller-facing
// taxonomy. Messages never carry provider payloads.
func toGatewayError(err error) *domain.GatewayError {
	var (
		gErr        *domain.GatewayError
		notFound    *domain.ErrNotFound
		validation  *domain.ErrValidation
		badRange    *domain.ErrInvalidRange
		unavailable *domain.ErrProviderUnavailable
		authErr     *domain.ErrAuthFailure
		rejected    *domain.ErrTransferRejected
		duplicate   *domain.ErrDuplicateRequest
		unknown     *domain.ErrUnknownResponse
		unsupported *domain.ErrUnsupportedByProvider
		circuitOpen *domain.ErrCircuitOpen
	)

	switch {
	case errors.As(err, &gErr):
		return gErr
	case errors.As(err, &validation):
		return &domain.GatewayError{Kind: domain.KindValidation, Message: validation.Error(), Err: err}
	case errors.As(err, &badRange):
		return &domain.GatewayError{Kind: domain.KindValidation, Message: badRange.Error(), Err: err}
	case errors.As(err, &notFound):
		return &domain.GatewayError{Kind: domain.KindAccountNotFound, Message: fmt.Sprintf("account %s not found", notFound.ID), Err: err}
	case errors.As(err, &authErr):
		return &domain.GatewayError{Kind: domain.KindAuthFailure, Message: fmt.Sprintf("provider %s rejected the configured credentials", authErr.Provider), Err: err}
	case errors.As(err, &rejected):
		return &domain.GatewayError{Kind: domain.KindTransferRejected, Message: "transfer rejected: " + rejected.Reason, Err: err}
	case errors.As(err, &duplicate):
		return &domain.GatewayError{Kind: domain.KindDuplicateRequest, Message: "a transfer with this idempotency token is still being processed", Err: err}
	case errors.As(err, &unknown):
		return &domain.GatewayError{Kind: domain.KindUnknownProviderResponse, Message: fmt.Sprintf("provider %s returned an unrecognised response", unknown.Provider), Err: err}
	case errors.As(err, &unsupported):
		return &domain.GatewayError{
			Kind:       domain.KindCapabilityUnsupported,
			Message:    fmt.Sprintf("provider %s does not support %s", unsupported.Provider, unsupported.Capability),
			Capability: unsupported.Capability,
			Err:        err,
		}
	case errors.As(err, &circuitOpen):
		return &domain.GatewayError{Kind: domain.KindProviderUnavailable, Message: "provider temporarily unavailable, retry later", Err: err}
	case errors.As(err, &unavailable):
		if errors.Is(err, context.DeadlineExceeded) {
			return &domain.GatewayError{Kind: domain.KindProviderUnavailable, Message: "provider did not answer in time, retry later", Err: err}
		}
		return &domain.GatewayError{Kind: domain.KindProviderUnavailable, Message: "provider unavailable, retry later", Err: err}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &domain.GatewayError{Kind: domain.KindProviderUnavailable, Message: "provider did not answer in time, retry later", Err: err}
	}
	return &domain.GatewayError{Kind: domain.KindUnknownProviderResponse, Message: "unexpected provider failure", Err: err}
}

func capabilityError(account *domain.Account, capability domain.Capability) *domain.GatewayError {
	return &domain.GatewayError{
		Kind:       domain.KindCapabilityUnsupported,
		Message:    fmt.Sprintf("account %s does not support %s", account.ID, capability),
		Capability: capability,
	}
}

// directoryError maps a directory lookup failure. Anything but a missing
// account means the directory itself is unreachable.
func directoryError(err error) *domain.GatewayError {
	var (
		gErr     *domain.GatewayError
		notFound *domain.ErrNotFound
	)
	if errors.As(err, &gErr) || errors.As(err, &notFound) {
		return toGatewayError(err)
	}
	return &domain.GatewayError{Kind: domain.KindProviderUnavailable, Message: "account directory unavailable", Err: err}
}
