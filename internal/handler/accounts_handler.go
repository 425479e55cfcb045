package handler

import (
	"encoding/json"
	"net/http"

	"github.com/boddenberg/pj-gateway-go/internal/domain"
	"github.com/boddenberg/pj-gateway-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Accounts Handlers
// ============================================================

type accountBody struct {
	Provider     string              `json:"provider" validate:"required"`
	Label        string              `json:"label" validate:"required,max=120"`
	Environment  string              `json:"environment" validate:"required,oneof=production sandbox"`
	Category     string              `json:"category" validate:"required,oneof=bank psp"`
	ExternalRef  string              `json:"externalRef" validate:"max=64"`
	Currency     string              `json:"currency" validate:"required,iso4217"`
	Capabilities domain.Capabilities `json:"capabilities"`
	Credentials  json.RawMessage     `json:"credentials,omitempty"`
}

func listAccountsHandler(gw *service.Gateway, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /accounts")
		defer span.End()

		accounts, err := gw.ListAccounts(ctx, chi.URLParam(r, "tenantId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		summaries := make([]domain.AccountSummary, len(accounts))
		for i := range accounts {
			summaries[i] = accounts[i].Summary()
		}
		writeJSON(w, http.StatusOK, summaries)
	}
}

func getAccountHandler(gw *service.Gateway, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /accounts/{accountId}")
		defer span.End()

		account, err := gw.GetAccount(ctx, chi.URLParam(r, "tenantId"), chi.URLParam(r, "accountId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, account)
	}
}

func reconfigureAccountHandler(dir *service.Directory, v *requestValidator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /accounts/{accountId}")
		defer span.End()

		tenantID := chi.URLParam(r, "tenantId")
		accountID := chi.URLParam(r, "accountId")
		span.SetAttributes(attribute.String("tenant.id", tenantID), attribute.String("account.id", accountID))

		var body accountBody
		if err := decodeBody(r, v, &body); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		saved, err := dir.Reconfigure(ctx, &domain.Account{
			ID:           accountID,
			TenantID:     tenantID,
			Provider:     domain.ProviderID(body.Provider),
			Label:        body.Label,
			Environment:  domain.Environment(body.Environment),
			Category:     domain.Category(body.Category),
			ExternalRef:  body.ExternalRef,
			Currency:     body.Currency,
			Capabilities: body.Capabilities,
			Credentials:  body.Credentials,
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, saved)
	}
}

func deactivateAccountHandler(dir *service.Directory, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /accounts/{accountId}")
		defer span.End()

		if err := dir.Deactivate(ctx, chi.URLParam(r, "tenantId"), chi.URLParam(r, "accountId")); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
