package service_test

import (
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/pj-gateway-go/internal/domain"
	"github.com/boddenberg/pj-gateway-go/internal/infra/cache"
	"github.com/boddenberg/pj-gateway-go/internal/infra/idempotency"
	"github.com/boddenberg/pj-gateway-go/internal/infra/memstore"
	"github.com/boddenberg/pj-gateway-go/internal/infra/observability"
	"github.com/boddenberg/pj-gateway-go/internal/infra/provider"
	"github.com/boddenberg/pj-gateway-go/internal/port"
	"github.com/boddenberg/pj-gateway-go/internal/service"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const tenant = "tenant-1"

var testConfig = service.Config{
	BalanceTimeout:       time.Second,
	StatementTimeout:     time.Second,
	TransferTimeout:      2 * time.Second,
	MaxStatementSpanDays: 366,
	MaxConcurrency:       8,
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 1, 31, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func account(id string, provider domain.ProviderID, caps domain.Capabilities) domain.Account {
	return domain.Account{
		ID:           id,
		TenantID:     tenant,
		Provider:     provider,
		Label:        "Account " + id,
		Environment:  domain.EnvironmentSandbox,
		Category:     domain.CategoryBank,
		Currency:     "BRL",
		Capabilities: caps,
		Active:       true,
	}
}

var fullCaps = domain.Capabilities{Balance: true, Statement: true, Transfer: true}

type harness struct {
	gateway   *service.Gateway
	directory *service.Directory
	store     *memstore.Store
	sandbox   *provider.Sandbox
	metrics   *observability.Metrics
	clock     *testClock
	logs      *observer.ObservedLogs
}

// newHarness wires the gateway the way main does, on top of the sandbox
// provider, an in-memory store and an in-memory journal. Extra adapters are
// registered next to the sandbox.
func newHarness(t *testing.T, cfg service.Config, accounts []domain.Account, extra ...port.Adapter) *harness {
	t.Helper()

	clock := newTestClock()
	sandbox := provider.NewSandbox(provider.WithClock(clock.Now))
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)
	metrics := observability.NewMetrics()

	adapters := append([]port.Adapter{
		provider.Idempotent(sandbox, idempotency.NewMemoryStore(), cfg.TransferTimeout, time.Hour, logger),
	}, extra...)
	registry := provider.NewRegistry(adapters...)

	store := memstore.New(accounts...)
	accountCache := cache.New[*domain.Account](time.Minute)
	t.Cleanup(accountCache.Close)

	directory := service.NewDirectory(store, registry, accountCache, metrics, logger)
	return &harness{
		gateway:   service.NewGateway(directory, registry, cfg, metrics, logger),
		directory: directory,
		store:     store,
		sandbox:   sandbox,
		metrics:   metrics,
		clock:     clock,
		logs:      logs,
	}
}
