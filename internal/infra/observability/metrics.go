package observability

import (
	"time"

	"github.com/boddenberg/pj-gateway-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Gateway operations as used in metric labels.
const (
	OpBalance   = "balance"
	OpStatement = "statement"
	OpTransfer  = "transfer"
	OpOverview  = "overview"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	operationDuration *prometheus.HistogramVec
	operationsTotal   *prometheus.CounterVec
	operationErrors   *prometheus.CounterVec
	providerCalls     *prometheus.CounterVec
	directoryCache    *prometheus.CounterVec
	transfers         *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// gateway metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_operation_duration_seconds",
				Help:    "Duration of gateway operations by provider.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "provider"},
		),
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_operations_total",
				Help: "Total gateway operations by outcome.",
			},
			[]string{"operation", "outcome"},
		),
		operationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_operation_errors_total",
				Help: "Total gateway errors by kind.",
			},
			[]string{"operation", "kind"},
		),
		providerCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_provider_calls_total",
				Help: "Total outbound provider calls.",
			},
			[]string{"provider", "operation", "outcome"},
		),
		directoryCache: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_directory_cache_total",
				Help: "Account directory cache lookups.",
			},
			[]string{"result"},
		),
		transfers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_transfers_total",
				Help: "Transfers by final status.",
			},
			[]string{"status"},
		),
	}
}

// ObserveOperation records one finished gateway operation. kind is empty on
// success.
func (m *Metrics) ObserveOperation(operation string, provider domain.ProviderID, d time.Duration, kind domain.ErrorKind) {
	m.operationDuration.WithLabelValues(operation, string(provider)).Observe(d.Seconds())
	if kind == "" {
		m.operationsTotal.WithLabelValues(operation, "success").Inc()
		return
	}
	m.operationsTotal.WithLabelValues(operation, "error").Inc()
	m.operationErrors.WithLabelValues(operation, string(kind)).Inc()
}

// IncrProviderCall counts one outbound call. outcome is ok, error,
// circuit_open or rate_limited.
func (m *Metrics) IncrProviderCall(provider domain.ProviderID, operation, outcome string) {
	m.providerCalls.WithLabelValues(string(provider), operation, outcome).Inc()
}

// IncrDirectoryHit increments the directory cache hit counter.
func (m *Metrics) IncrDirectoryHit() {
	m.directoryCache.WithLabelValues("hit").Inc()
}

// IncrDirectoryMiss increments the directory cache miss counter.
func (m *Metrics) IncrDirectoryMiss() {
	m.directoryCache.WithLabelValues("miss").Inc()
}

// IncrTransfer counts a transfer by its final status.
func (m *Metrics) IncrTransfer(status domain.TransferStatus) {
	m.transfers.WithLabelValues(string(status)).Inc()
}

// GetGatewaySnapshot returns a snapshot suitable for the
// GET /v1/metrics/gateway endpoint.
func (m *Metrics) GetGatewaySnapshot() *domain.GatewayMetrics {
	calls := func(op string) float64 {
		return getCounterValue(m.operationsTotal, op, "success") + getCounterValue(m.operationsTotal, op, "error")
	}
	balanceCalls := calls(OpBalance)
	statementCalls := calls(OpStatement)
	transferCalls := calls(OpTransfer)

	total := balanceCalls + statementCalls + transferCalls
	errors := getCounterValue(m.operationsTotal, OpBalance, "error") +
		getCounterValue(m.operationsTotal, OpStatement, "error") +
		getCounterValue(m.operationsTotal, OpTransfer, "error")

	hits := getCounterValue(m.directoryCache, "hit")
	misses := getCounterValue(m.directoryCache, "miss")

	errorRate := float64(0)
	hitRate := float64(0)
	if total > 0 {
		errorRate = errors / total
	}
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	return &domain.GatewayMetrics{
		BalanceCalls:       int64(balanceCalls),
		StatementCalls:     int64(statementCalls),
		TransferCalls:      int64(transferCalls),
		ErrorRate:          errorRate,
		TransfersConfirmed: int64(getCounterValue(m.transfers, string(domain.TransferConfirmed))),
		TransfersPending:   int64(getCounterValue(m.transfers, string(domain.TransferPending))),
		TransfersRejected:  int64(getCounterValue(m.transfers, string(domain.TransferRejected))),
		DirectoryHitRate:   hitRate,
		Period:             "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for the given labels.
func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	counter := cv.WithLabelValues(labels...)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
