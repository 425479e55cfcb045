package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boddenberg/pj-gateway-go/internal/domain"
	"github.com/boddenberg/pj-gateway-go/internal/port"
)

// guardedAdapters returns every adapter wired to an upstream that counts
// the requests it receives.
func guardedAdapters(t *testing.T) (map[string]port.Adapter, map[string]string, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	cbCaller, _ := testCaller(t, CorebankID)
	phCaller, _ := testCaller(t, PayhubID)
	urls := map[domain.Environment]string{domain.EnvironmentProduction: srv.URL}

	adapters := map[string]port.Adapter{
		"sandbox":  NewSandbox(WithOpeningBalance(100_00)),
		"corebank": NewCorebank(cbCaller, urls),
		"payhub":   NewPayhub(phCaller, urls),
	}
	creds := map[string]string{
		"sandbox":  "",
		"corebank": corebankCreds,
		"payhub":   payhubCreds,
	}
	return adapters, creds, &hits
}

func TestAdapters_RefuseUnconfiguredOperations(t *testing.T) {
	adapters, creds, hits := guardedAdapters(t)
	rng := domain.DateRange{Start: domain.MustParseDate("2025-01-01"), End: domain.MustParseDate("2025-01-31")}

	for name, adapter := range adapters {
		t.Run(name, func(t *testing.T) {
			acc := testAccount(adapter.Provider(), creds[name])
			acc.Capabilities = domain.Capabilities{}
			ctx := context.Background()

			_, err := adapter.FetchBalance(ctx, acc)
			requireUnsupported(t, err, adapter.Provider(), domain.CapabilityBalance)

			_, err = adapter.FetchStatement(ctx, acc, rng)
			requireUnsupported(t, err, adapter.Provider(), domain.CapabilityStatement)

			_, err = adapter.ExecuteTransfer(ctx, acc, transferReq(acc, "g-1", 100))
			requireUnsupported(t, err, adapter.Provider(), domain.CapabilityTransfer)
		})
	}
	assert.Zero(t, hits.Load(), "refused calls must not reach the provider")
}

func TestAdapters_RejectInvertedRange(t *testing.T) {
	adapters, creds, hits := guardedAdapters(t)
	rng := domain.DateRange{Start: domain.MustParseDate("2025-02-01"), End: domain.MustParseDate("2025-01-01")}

	for name, adapter := range adapters {
		t.Run(name, func(t *testing.T) {
			acc := testAccount(adapter.Provider(), creds[name])

			stmt, err := adapter.FetchStatement(context.Background(), acc, rng)
			assert.Nil(t, stmt)
			var badRange *domain.ErrInvalidRange
			require.ErrorAs(t, err, &badRange)
			assert.Equal(t, rng.Start, badRange.Start)
		})
	}
	assert.Zero(t, hits.Load())
}

func requireUnsupported(t *testing.T, err error, provider domain.ProviderID, capability domain.Capability) {
	t.Helper()
	var unsupported *domain.ErrUnsupportedByProvider
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, provider, unsupported.Provider)
	assert.Equal(t, capability, unsupported.Capability)
}
