package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/pj-gateway-go/internal/domain"
	"github.com/boddenberg/pj-gateway-go/internal/handler"
	"github.com/boddenberg/pj-gateway-go/internal/infra/cache"
	"github.com/boddenberg/pj-gateway-go/internal/infra/idempotency"
	"github.com/boddenberg/pj-gateway-go/internal/infra/memstore"
	"github.com/boddenberg/pj-gateway-go/internal/infra/observability"
	"github.com/boddenberg/pj-gateway-go/internal/infra/provider"
	"github.com/boddenberg/pj-gateway-go/internal/service"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const tenantPath = "/v1/tenants/tenant-1"

type testServer struct {
	handler http.Handler
	sandbox *provider.Sandbox
	logs    *observer.ObservedLogs
}

func newTestServer(t *testing.T, secret []byte, checks ...handler.HealthCheck) *testServer {
	t.Helper()

	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)
	metrics := observability.NewMetrics()
	sandbox := provider.NewSandbox(provider.WithOpeningBalance(100000))
	registry := provider.NewRegistry(provider.Idempotent(sandbox, idempotency.NewMemoryStore(), time.Minute, time.Hour, logger))

	base := domain.Account{
		TenantID:    "tenant-1",
		Provider:    provider.SandboxID,
		Environment: domain.EnvironmentSandbox,
		Category:    domain.CategoryPSP,
		Currency:    "BRL",
		Active:      true,
	}
	full, limited := base, base
	full.ID, full.Label = "acc-full", "Operating"
	full.Capabilities = domain.Capabilities{Balance: true, Statement: true, Transfer: true}
	full.Credentials = []byte(`{"apiKey":"secret-value"}`)
	limited.ID, limited.Label = "acc-balance", "Savings"
	limited.Capabilities = domain.Capabilities{Balance: true}

	accountCache := cache.New[*domain.Account](time.Minute)
	t.Cleanup(accountCache.Close)
	directory := service.NewDirectory(memstore.New(full, limited), registry, accountCache, metrics, logger)
	gateway := service.NewGateway(directory, registry, service.Config{
		BalanceTimeout:       time.Second,
		StatementTimeout:     time.Second,
		TransferTimeout:      time.Second,
		MaxStatementSpanDays: 366,
		MaxConcurrency:       4,
	}, metrics, logger)

	return &testServer{
		handler: handler.NewRouter(handler.Deps{
			Gateway:    gateway,
			Directory:  directory,
			Metrics:    metrics,
			Checks:     checks,
			AuthSecret: secret,
			Logger:     logger,
		}),
		sandbox: sandbox,
		logs:    logs,
	}
}

func (s *testServer) do(t *testing.T, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestOperationalEndpoints(t *testing.T) {
	srv := newTestServer(t, nil, handler.HealthCheck{
		Name:  "redis",
		Check: func(context.Context) error { return errors.New("down") },
	})

	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/v1/metrics/gateway", "/ping"} {
		rec := srv.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	health := decode[domain.HealthStatus](t, srv.do(t, http.MethodGet, "/healthz", "", nil))
	assert.Equal(t, "degraded", health.Status)
	require.Len(t, health.Services, 2)
	assert.Equal(t, "redis", health.Services[1].Name)
}

func TestListAccounts_HidesCredentials(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodGet, tenantPath+"/accounts", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret-value")

	accounts := decode[[]domain.AccountSummary](t, rec)
	require.Len(t, accounts, 2)
	assert.Equal(t, "Operating", accounts[0].Label)

	rec = srv.do(t, http.MethodGet, tenantPath+"/accounts/acc-full", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret-value")
}

func TestBalanceAndCapabilityGate(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodGet, tenantPath+"/accounts/acc-balance/balance", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[domain.BalanceSnapshot](t, rec)
	assert.Equal(t, int64(100000), snap.Available)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	rec = srv.do(t, http.MethodGet, tenantPath+"/accounts/acc-balance/statement?start=2025-01-01&end=2025-01-31", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, domain.KindCapabilityUnsupported, decode[domain.ErrorBody](t, rec).Code)
}

func TestStatement_QueryValidation(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		query string
		code  int
	}{
		{"", http.StatusBadRequest},
		{"?start=2025-01-01", http.StatusBadRequest},
		{"?start=01/01/2025&end=2025-01-31", http.StatusBadRequest},
		{"?start=2025-02-01&end=2025-01-01", http.StatusBadRequest},
		{"?start=2025-01-01&end=2025-01-31", http.StatusOK},
	}
	for _, tt := range tests {
		rec := srv.do(t, http.MethodGet, tenantPath+"/accounts/acc-full/statement"+tt.query, "", nil)
		assert.Equal(t, tt.code, rec.Code, tt.query)
	}
}

func TestErrorStatuses(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodGet, tenantPath+"/accounts/nope/balance", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, domain.KindAccountNotFound, decode[domain.ErrorBody](t, rec).Code)

	rec = srv.do(t, http.MethodGet, "/v1/tenants/tenant-2/accounts/acc-full/balance", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	srv.sandbox.SetFault("balance", provider.FaultUnavailable)
	rec = srv.do(t, http.MethodGet, tenantPath+"/accounts/acc-full/balance", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	srv.sandbox.SetFault("balance", provider.FaultAuth)
	rec = srv.do(t, http.MethodGet, tenantPath+"/accounts/acc-full/balance", "", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, domain.KindAuthFailure, decode[domain.ErrorBody](t, rec).Code)
}

func TestTransfer_IdempotentReplay(t *testing.T) {
	srv := newTestServer(t, nil)
	path := tenantPath + "/accounts/acc-full/transfers"
	body := `{"method":"instant","destination":"x@y","amountMinorUnits":5000}`
	header := map[string]string{"Idempotency-Key": "abc"}

	first := srv.do(t, http.MethodPost, path, body, header)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := srv.do(t, http.MethodPost, path, body, header)
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())

	a := decode[domain.TransferOutcome](t, first)
	b := decode[domain.TransferOutcome](t, second)
	assert.Equal(t, "E1", a.ExternalID)
	assert.Equal(t, "E1", b.ExternalID)
	assert.Equal(t, domain.TransferConfirmed, b.Status)
	assert.True(t, b.Replayed)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, 1, srv.sandbox.TransferCount())
}

func TestTransfer_DecimalAmountAndPendingWire(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodPost, tenantPath+"/accounts/acc-full/transfers",
		`{"method":"wire","amount":"50.00","idempotencyToken":"w-1"}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	out := decode[domain.TransferOutcome](t, rec)
	assert.Equal(t, int64(5000), out.AmountMinorUnits)
	assert.Equal(t, domain.StatePending, out.State)
}

func TestTransfer_BadRequests(t *testing.T) {
	srv := newTestServer(t, nil)
	path := tenantPath + "/accounts/acc-full/transfers"

	tests := []struct {
		name   string
		body   string
		header map[string]string
		status int
		code   domain.ErrorKind
	}{
		{"missing token", `{"method":"instant","destination":"x@y","amountMinorUnits":5000}`, nil, http.StatusBadRequest, domain.KindValidation},
		{"token mismatch", `{"method":"instant","destination":"x@y","amountMinorUnits":5000,"idempotencyToken":"a"}`, map[string]string{"Idempotency-Key": "b"}, http.StatusBadRequest, domain.KindValidation},
		{"no amount", `{"method":"instant","destination":"x@y","idempotencyToken":"t"}`, nil, http.StatusBadRequest, domain.KindValidation},
		{"both amounts", `{"method":"instant","destination":"x@y","amount":"1","amountMinorUnits":100,"idempotencyToken":"t"}`, nil, http.StatusBadRequest, domain.KindValidation},
		{"zero amount", `{"method":"instant","destination":"x@y","amountMinorUnits":0,"idempotencyToken":"t"}`, nil, http.StatusBadRequest, domain.KindValidation},
		{"sub-cent amount", `{"method":"instant","destination":"x@y","amount":"0.001","idempotencyToken":"t"}`, nil, http.StatusBadRequest, domain.KindValidation},
		{"unknown field", `{"method":"instant","amountMinorUnits":1,"idempotencyToken":"t","surprise":1}`, nil, http.StatusBadRequest, domain.KindValidation},
		{"insufficient funds", `{"method":"instant","destination":"x@y","amountMinorUnits":999999999,"idempotencyToken":"big"}`, nil, http.StatusUnprocessableEntity, domain.KindTransferRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, http.MethodPost, path, tt.body, tt.header)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[domain.ErrorBody](t, rec).Code)
		})
	}
	assert.Equal(t, 0, srv.sandbox.TransferCount())
}

func TestTransfer_UnsupportedAccount(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodPost, tenantPath+"/accounts/acc-balance/transfers",
		`{"method":"instant","destination":"x@y","amountMinorUnits":-5,"idempotencyToken":"t"}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, domain.KindCapabilityUnsupported, decode[domain.ErrorBody](t, rec).Code)
}

func TestOverview(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodGet, tenantPath+"/overview", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[struct {
		Accounts []domain.AccountBalance `json:"accounts"`
	}](t, rec)
	require.Len(t, resp.Accounts, 2)
	for _, row := range resp.Accounts {
		assert.NotNil(t, row.Balance)
		assert.Nil(t, row.Error)
	}
}

func TestReconfigureAndDeactivate(t *testing.T) {
	srv := newTestServer(t, nil)
	path := tenantPath + "/accounts/acc-balance"

	rec := srv.do(t, http.MethodPut, path, `{
		"provider": "sandbox", "label": "Savings", "environment": "sandbox", "category": "psp",
		"currency": "BRL", "capabilities": {"balance": true, "statement": true}
	}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = srv.do(t, http.MethodGet, path+"/statement?start=2025-01-01&end=2025-01-31", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodPut, path, `{
		"provider": "sandbox", "label": "Savings", "environment": "sandbox", "category": "psp",
		"currency": "BRLX", "capabilities": {"balance": true}
	}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodDelete, path, "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = srv.do(t, http.MethodGet, path+"/balance", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTenantAuth(t *testing.T) {
	secret := []byte("test-secret")
	srv := newTestServer(t, secret)

	sign := func(tenant string) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":    "ops@tenant",
			"tenant": tenant,
			"exp":    time.Now().Add(time.Hour).Unix(),
		})
		s, err := tok.SignedString(secret)
		require.NoError(t, err)
		return "Bearer " + s
	}

	rec := srv.do(t, http.MethodGet, tenantPath+"/accounts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = srv.do(t, http.MethodGet, tenantPath+"/accounts", "", map[string]string{"Authorization": "Token abc"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = srv.do(t, http.MethodGet, tenantPath+"/accounts", "", map[string]string{"Authorization": sign("tenant-2")})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = srv.do(t, http.MethodGet, tenantPath+"/accounts", "", map[string]string{"Authorization": sign("tenant-1")})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Operational endpoints stay open.
	rec = srv.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodPost, tenantPath+"/accounts/acc-full/transfers",
		`{"method":"instant","destination":"x@y","amountMinorUnits":100}`,
		map[string]string{"Authorization": sign("tenant-1"), "Idempotency-Key": "auth-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	requested := srv.logs.FilterMessage("transfer requested").All()
	require.Len(t, requested, 1)
	assert.Equal(t, "ops@tenant", requested[0].ContextMap()["subject"])
	assert.Equal(t, "auth-1", requested[0].ContextMap()["idempotency_token"])
}
