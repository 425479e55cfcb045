package handler

import (
	"net/http"

	"github.com/boddenberg/pj-gateway-go/internal/domain"
	"github.com/boddenberg/pj-gateway-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Balance, statement and overview
// ============================================================

func balanceHandler(gw *service.Gateway, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /accounts/{accountId}/balance")
		defer span.End()

		snap, err := gw.GetBalance(ctx, chi.URLParam(r, "tenantId"), chi.URLParam(r, "accountId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, snap)
	}
}

func statementHandler(gw *service.Gateway, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /accounts/{accountId}/statement")
		defer span.End()

		q := r.URL.Query()
		if q.Get("start") == "" || q.Get("end") == "" {
			writeValidation(w, "start and end query parameters are required (YYYY-MM-DD)")
			return
		}
		start, err := domain.ParseDate(q.Get("start"))
		if err != nil {
			writeValidation(w, "start: "+err.Error())
			return
		}
		end, err := domain.ParseDate(q.Get("end"))
		if err != nil {
			writeValidation(w, "end: "+err.Error())
			return
		}

		st, err := gw.GetStatement(ctx, chi.URLParam(r, "tenantId"), chi.URLParam(r, "accountId"), domain.DateRange{Start: start, End: end})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func overviewHandler(gw *service.Gateway, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /overview")
		defer span.End()

		rows, err := gw.Overview(ctx, chi.URLParam(r, "tenantId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"accounts": rows})
	}
}
