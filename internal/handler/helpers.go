package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/boddenberg/pj-gateway-go/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, kind domain.ErrorKind, msg string) {
	writeJSON(w, status, domain.ErrorBody{Code: kind, Message: msg})
}

func writeValidation(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, domain.KindValidation, msg)
}

// decodeBody reads a JSON body into dst and validates it.
func decodeBody(r *http.Request, v *requestValidator, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &domain.ErrValidation{Field: "body", Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	return v.Struct(dst)
}

// statusFor maps an error kind onto its HTTP status.
func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindAccountNotFound:
		return http.StatusNotFound
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindCapabilityUnsupported, domain.KindTransferRejected:
		return http.StatusUnprocessableEntity
	case domain.KindDuplicateRequest:
		return http.StatusConflict
	case domain.KindProviderUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindAuthFailure, domain.KindUnknownProviderResponse:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// handleServiceError renders err. The gateway has already logged it with
// the right severity; only unexpected errors are logged here.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var (
		gErr       *domain.GatewayError
		validation *domain.ErrValidation
	)

	switch {
	case errors.As(err, &gErr):
		if gErr.Kind == domain.KindProviderUnavailable {
			w.Header().Set("Retry-After", "1")
		}
		writeError(w, statusFor(gErr.Kind), gErr.Kind, gErr.Message)
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeValidation(w, validation.Error())
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
}
