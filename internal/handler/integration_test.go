package handler_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/pj-gateway-go/internal/domain"
	"github.com/boddenberg/pj-gateway-go/internal/handler"
	"github.com/boddenberg/pj-gateway-go/internal/infra/cache"
	"github.com/boddenberg/pj-gateway-go/internal/infra/idempotency"
	"github.com/boddenberg/pj-gateway-go/internal/infra/memstore"
	"github.com/boddenberg/pj-gateway-go/internal/infra/observability"
	"github.com/boddenberg/pj-gateway-go/internal/infra/provider"
	"github.com/boddenberg/pj-gateway-go/internal/infra/resilience"
	"github.com/boddenberg/pj-gateway-go/internal/port"
	"github.com/boddenberg/pj-gateway-go/internal/service"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// upstreams emulates the two HTTP providers the gateway talks to.
type upstreams struct {
	corebank *httptest.Server
	payhub   *httptest.Server

	transfers   atomic.Int32
	statements  atomic.Int32
	payhubSlow  atomic.Bool
	payhubCalls atomic.Int32
}

func newUpstreams(t *testing.T) *upstreams {
	u := &upstreams{}

	bank := http.NewServeMux()
	bank.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		_, _ = w.Write([]byte(`{"access_token":"it-token","expires_in":600}`))
	})
	bank.HandleFunc("GET /v1/accounts/{ref}/balance", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer it-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"available":"1000.00","pending":"0.00","currency":"BRL"}`))
	})
	bank.HandleFunc("GET /v1/accounts/{ref}/statement", func(w http.ResponseWriter, r *http.Request) {
		u.statements.Add(1)
		_, _ = w.Write([]byte(`{"entries":[
			{"id":"c1","date":"2025-01-05","description":"sale","amount":"100.00","type":"CREDIT"},
			{"id":"d1","date":"2025-01-10","description":"supplier","amount":"-25.00","type":"DEBIT"},
			{"id":"d2","date":"2025-01-20","description":"fee","amount":"5.00","type":"DEBIT"}
		]}`))
	})
	bank.HandleFunc("POST /v1/accounts/{ref}/transfers", func(w http.ResponseWriter, r *http.Request) {
		n := u.transfers.Add(1)
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))

		var body struct {
			Method string `json:"method"`
			Amount string `json:"amount"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body.Amount == "999.99" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"reason":"insufficient funds"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":     fmt.Sprintf("CB-%d", n),
			"status": "COMPLETED",
		})
	})
	u.corebank = httptest.NewServer(bank)
	t.Cleanup(u.corebank.Close)

	u.payhub = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "pk_live_it" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		u.payhubCalls.Add(1)
		if r.URL.Path != "/api/balance" {
			t.Errorf("unexpected payhub call %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if u.payhubSlow.Load() {
			<-r.Context().Done()
			return
		}
		_, _ = w.Write([]byte(`{"availableCents":50000,"pendingCents":0,"currency":"BRL"}`))
	}))
	t.Cleanup(u.payhub.Close)

	return u
}

type stack struct {
	handler   http.Handler
	upstreams *upstreams
	metrics   *observability.Metrics
	redis     *miniredis.Miniredis
}

// newStack wires the gateway the way the gateway binary does, with real
// provider adapters against fake upstreams and the transfer journal in Redis.
func newStack(t *testing.T) *stack {
	t.Helper()

	u := newUpstreams(t)
	logger := zap.NewNop()
	metrics := observability.NewMetrics()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	journal := idempotency.NewRedisStore(rdb)

	httpClient := &http.Client{Timeout: 2 * time.Second}
	callerCfg := provider.CallerConfig{
		Resilience: resilience.Config{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
	}
	prod := func(url string) map[domain.Environment]string {
		return map[domain.Environment]string{domain.EnvironmentProduction: url}
	}
	adapters := []port.Adapter{
		provider.NewCorebank(provider.NewCaller(provider.CorebankID, httpClient, callerCfg, metrics, logger), prod(u.corebank.URL)),
		provider.NewPayhub(provider.NewCaller(provider.PayhubID, httpClient, callerCfg, metrics, logger), prod(u.payhub.URL)),
	}
	for i, a := range adapters {
		adapters[i] = provider.Idempotent(a, journal, time.Minute, time.Hour, logger)
	}
	registry := provider.NewRegistry(adapters...)

	bank := domain.Account{
		ID:           "acc-bank",
		TenantID:     "tenant-1",
		Provider:     provider.CorebankID,
		Label:        "Main bank",
		Environment:  domain.EnvironmentProduction,
		Category:     domain.CategoryBank,
		ExternalRef:  "0001-12345",
		Currency:     "BRL",
		Capabilities: domain.Capabilities{Balance: true, Statement: true, Transfer: true},
		Active:       true,
		Credentials:  []byte(`{"clientId":"it-client","clientSecret":"it-secret-it-secret-it-secret-it"}`),
	}
	psp := domain.Account{
		ID:           "acc-psp",
		TenantID:     "tenant-1",
		Provider:     provider.PayhubID,
		Label:        "Card acquiring",
		Environment:  domain.EnvironmentProduction,
		Category:     domain.CategoryPSP,
		ExternalRef:  "merchant-77",
		Currency:     "BRL",
		Capabilities: domain.Capabilities{Balance: true},
		Active:       true,
		Credentials:  []byte(`{"apiKey":"pk_live_it"}`),
	}

	accountCache := cache.New[*domain.Account](time.Minute)
	t.Cleanup(accountCache.Close)
	directory := service.NewDirectory(memstore.New(bank, psp), registry, accountCache, metrics, logger)
	gateway := service.NewGateway(directory, registry, service.Config{
		BalanceTimeout:       200 * time.Millisecond,
		StatementTimeout:     time.Second,
		TransferTimeout:      time.Second,
		MaxStatementSpanDays: 366,
		MaxConcurrency:       4,
	}, metrics, logger)

	return &stack{
		handler: handler.NewRouter(handler.Deps{
			Gateway:   gateway,
			Directory: directory,
			Metrics:   metrics,
			Logger:    logger,
		}),
		upstreams: u,
		metrics:   metrics,
		redis:     mr,
	}
}

func (s *stack) call(t *testing.T, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, "/v1/tenants/tenant-1"+path, nil)
	} else {
		req = httptest.NewRequest(method, "/v1/tenants/tenant-1"+path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func TestIntegration_BalanceOnlyAccount(t *testing.T) {
	s := newStack(t)

	rec := s.call(t, http.MethodGet, "/accounts/acc-psp/balance", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	bal := decode[domain.BalanceSnapshot](t, rec)
	assert.Equal(t, int64(50000), bal.Available)
	assert.Equal(t, "BRL", bal.Currency)

	calls := s.upstreams.payhubCalls.Load()
	rec = s.call(t, http.MethodGet, "/accounts/acc-psp/statement?start=2025-01-01&end=2025-01-31", "", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	assert.Equal(t, domain.KindCapabilityUnsupported, decode[domain.ErrorBody](t, rec).Code)
	assert.Equal(t, calls, s.upstreams.payhubCalls.Load(), "payhub must not be called")
}

func TestIntegration_StatementSummary(t *testing.T) {
	s := newStack(t)

	rec := s.call(t, http.MethodGet, "/accounts/acc-bank/statement?start=2025-01-01&end=2025-01-31", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	st := decode[domain.Statement](t, rec)
	assert.Equal(t, domain.StatementSummary{Count: 3, TotalCredits: 10000, TotalDebits: 3000, Net: 7000}, st.Summary)
	require.Len(t, st.Entries, 3)
	assert.Equal(t, "c1", st.Entries[0].Reference)
	assert.NoError(t, st.Verify())

	rec = s.call(t, http.MethodGet, "/accounts/acc-bank/statement?start=2025-02-01&end=2025-01-01", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, int32(1), s.upstreams.statements.Load(), "invalid range must not reach the bank")
}

func TestIntegration_TransferReplay(t *testing.T) {
	s := newStack(t)
	body := `{"method":"instant","destination":"fin@example.com","amount":"50.00"}`
	key := map[string]string{"Idempotency-Key": "T1"}

	first := s.call(t, http.MethodPost, "/accounts/acc-bank/transfers", body, key)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := s.call(t, http.MethodPost, "/accounts/acc-bank/transfers", body, key)
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())

	a := decode[domain.TransferOutcome](t, first)
	b := decode[domain.TransferOutcome](t, second)
	assert.Equal(t, "CB-1", a.ExternalID)
	assert.Equal(t, a.ExternalID, b.ExternalID)
	assert.Equal(t, domain.TransferConfirmed, b.Status)
	assert.True(t, b.Replayed)
	assert.Equal(t, int32(1), s.upstreams.transfers.Load())
	assert.Len(t, s.redis.Keys(), 1, "one journal entry per token")
	assert.Equal(t, int64(1), s.metrics.GetGatewaySnapshot().TransfersConfirmed)

	// same token, different content
	rec := s.call(t, http.MethodPost, "/accounts/acc-bank/transfers",
		`{"method":"instant","destination":"fin@example.com","amount":"51.00"}`, key)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, domain.KindValidation, decode[domain.ErrorBody](t, rec).Code)
	assert.Equal(t, int32(1), s.upstreams.transfers.Load())
}

func TestIntegration_TransferRejected(t *testing.T) {
	s := newStack(t)

	rec := s.call(t, http.MethodPost, "/accounts/acc-bank/transfers",
		`{"method":"wire","destination":"001-0001-123","amount":"999.99"}`,
		map[string]string{"Idempotency-Key": "R1"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	body := decode[domain.ErrorBody](t, rec)
	assert.Equal(t, domain.KindTransferRejected, body.Code)
	assert.Contains(t, body.Message, "insufficient funds")
	assert.False(t, body.Retryable)
}

func TestIntegration_TimeoutThenRecovery(t *testing.T) {
	s := newStack(t)

	s.upstreams.payhubSlow.Store(true)
	start := time.Now()
	rec := s.call(t, http.MethodGet, "/accounts/acc-psp/balance", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
	assert.Less(t, time.Since(start), time.Second, "balance must give up at its own timeout")
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	body := decode[domain.ErrorBody](t, rec)
	assert.Equal(t, domain.KindProviderUnavailable, body.Code)
	assert.True(t, body.Retryable)

	s.upstreams.payhubSlow.Store(false)
	rec = s.call(t, http.MethodGet, "/accounts/acc-psp/balance", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(50000), decode[domain.BalanceSnapshot](t, rec).Available)
}

func TestIntegration_Overview(t *testing.T) {
	s := newStack(t)
	s.upstreams.payhubSlow.Store(true)

	rec := s.call(t, http.MethodGet, "/overview", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	out := decode[struct {
		Accounts []domain.AccountBalance `json:"accounts"`
	}](t, rec)
	require.Len(t, out.Accounts, 2)

	byID := map[string]domain.AccountBalance{}
	for _, row := range out.Accounts {
		byID[row.Account.ID] = row
	}
	require.NotNil(t, byID["acc-bank"].Balance)
	assert.Equal(t, int64(100000), byID["acc-bank"].Balance.Available)
	require.NotNil(t, byID["acc-psp"].Error)
	assert.Equal(t, domain.KindProviderUnavailable, byID["acc-psp"].Error.Code)
}
