package provider

import (
	"net/http"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/boddenberg/pj-gateway-go/internal/domain"
	"github.com/boddenberg/pj-gateway-go/internal/infra/observability"
	"github.com/boddenberg/pj-gateway-go/internal/infra/resilience"
)

var fixedNow = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

func testCaller(t *testing.T, id domain.ProviderID) (*Caller, *observability.Metrics) {
	t.Helper()
	metrics := observability.NewMetrics()
	return NewCaller(id, &http.Client{Timeout: 2 * time.Second}, CallerConfig{
		Resilience: resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
	}, metrics, nil), metrics
}

func testAccount(provider domain.ProviderID, creds string) *domain.Account {
	return &domain.Account{
		ID:          "acc-" + gofakeit.LetterN(6),
		TenantID:    "tenant-1",
		Provider:    provider,
		Label:       gofakeit.Company(),
		Environment: domain.EnvironmentProduction,
		Category:    domain.CategoryBank,
		ExternalRef: gofakeit.Numerify("########"),
		Currency:    "BRL",
		Capabilities: domain.Capabilities{
			Balance: true, Statement: true, Transfer: true,
		},
		Active:      true,
		Credentials: []byte(creds),
	}
}

func transferReq(account *domain.Account, token string, amount int64) *domain.TransferRequest {
	return &domain.TransferRequest{
		AccountID:        account.ID,
		Method:           domain.MethodInstant,
		Destination:      "x@y",
		AmountMinorUnits: amount,
		IdempotencyToken: token,
	}
}
