// Package handler exposes the gateway over HTTP. Every response body is
// JSON; errors use the {"code","message"} shape of domain.ErrorBody.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/pj-gateway-go/internal/domain"
	"github.com/boddenberg/pj-gateway-go/internal/infra/observability"
	"github.com/boddenberg/pj-gateway-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// HealthCheck probes one dependency. A nil error means healthy.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps groups what the router serves.
type Deps struct {
	Gateway   *service.Gateway
	Directory *service.Directory
	Metrics   *observability.Metrics
	Checks    []HealthCheck
	// AuthSecret enables bearer authentication of tenant routes when set.
	AuthSecret []byte
	Logger     *zap.Logger
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	v := newRequestValidator()

	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(d.Checks))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Get("/metrics/gateway", gatewayMetricsHandler(d.Metrics))

		r.Route("/tenants/{tenantId}", func(r chi.Router) {
			if len(d.AuthSecret) > 0 {
				r.Use(TenantAuthMiddleware(d.AuthSecret, logger))
			}

			r.Get("/overview", overviewHandler(d.Gateway, logger))

			r.Get("/accounts", listAccountsHandler(d.Gateway, logger))
			r.Route("/accounts/{accountId}", func(r chi.Router) {
				r.Get("/", getAccountHandler(d.Gateway, logger))
				r.Put("/", reconfigureAccountHandler(d.Directory, v, logger))
				r.Delete("/", deactivateAccountHandler(d.Directory, logger))

				r.Get("/balance", balanceHandler(d.Gateway, logger))
				r.Get("/statement", statementHandler(d.Gateway, logger))
				r.Post("/transfers", transferHandler(d.Gateway, v, logger))
			})
		})
	})

	return r
}

func healthzHandler(checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "gateway", Status: "healthy", LastChecked: now},
		}
		overall := "healthy"
		for _, c := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			start := time.Now()
			err := c.Check(ctx)
			cancel()

			status := "healthy"
			if err != nil {
				status = "degraded"
				overall = "degraded"
			}
			services = append(services, domain.ServiceHealth{
				Name:        c.Name,
				Status:      status,
				LatencyMs:   time.Since(start).Milliseconds(),
				LastChecked: now,
			})
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{Status: overall, Services: services})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func gatewayMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetGatewaySnapshot())
	}
}
