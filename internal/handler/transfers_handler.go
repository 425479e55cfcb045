package handler

import (
	"net/http"
	"strconv"

	"github.com/boddenberg/pj-gateway-go/internal/domain"
	"github.com/boddenberg/pj-gateway-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Transfers: POST /v1/tenants/{tenantId}/accounts/{accountId}/transfers
// ============================================================

// transferBody accepts the amount either in minor units or as a decimal
// string in the account currency, never both.
type transferBody struct {
	Method           string `json:"method" validate:"required"`
	Destination      string `json:"destination,omitempty" validate:"max=140"`
	AmountMinorUnits *int64 `json:"amountMinorUnits,omitempty" validate:"required_without=Amount,excluded_with=Amount"`
	Amount           string `json:"amount,omitempty" validate:"omitempty,decimal_amount"`
	Description      string `json:"description,omitempty"`
	IdempotencyToken string `json:"idempotencyToken,omitempty" validate:"max=128"`
}

const idempotencyHeader = "Idempotency-Key"

func transferHandler(gw *service.Gateway, v *requestValidator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /accounts/{accountId}/transfers")
		defer span.End()

		tenantID := chi.URLParam(r, "tenantId")
		accountID := chi.URLParam(r, "accountId")

		var body transferBody
		if err := decodeBody(r, v, &body); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		token := r.Header.Get(idempotencyHeader)
		switch {
		case token == "":
			token = body.IdempotencyToken
		case body.IdempotencyToken != "" && body.IdempotencyToken != token:
			writeValidation(w, "Idempotency-Key header and idempotencyToken differ")
			return
		}
		if token == "" {
			writeValidation(w, "an idempotency token is required (Idempotency-Key header or idempotencyToken)")
			return
		}
		span.SetAttributes(attribute.String("idempotency.token", token))
		if sub := subjectFrom(ctx); sub != "" {
			span.SetAttributes(attribute.String("enduser.id", sub))
			logger.Info("transfer requested",
				zap.String("subject", sub),
				zap.String("tenant_id", tenantID),
				zap.String("account_id", accountID),
				zap.String("idempotency_token", token),
			)
		}

		var amount int64
		if body.AmountMinorUnits != nil {
			amount = *body.AmountMinorUnits
		} else {
			account, err := gw.GetAccount(ctx, tenantID, accountID)
			if err != nil {
				handleServiceError(w, err, logger)
				return
			}
			amount, err = domain.ParseMinorUnits(body.Amount, account.Currency)
			if err != nil {
				writeValidation(w, "amount: "+err.Error())
				return
			}
		}

		out, err := gw.Transfer(ctx, tenantID, domain.TransferRequest{
			AccountID:        accountID,
			Method:           domain.TransferMethod(body.Method),
			Destination:      body.Destination,
			AmountMinorUnits: amount,
			Description:      body.Description,
			IdempotencyToken: token,
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		status := http.StatusCreated
		switch {
		case out.Replayed:
			status = http.StatusOK
		case out.Status == domain.TransferPending:
			status = http.StatusAccepted
		}
		w.Header().Set(idempotencyHeader, token)
		w.Header().Set("Idempotent-Replayed", strconv.FormatBool(out.Replayed))
		writeJSON(w, status, out)
	}
}
