// Package provider holds the provider adapters and the plumbing they
// share: HTTP calls with breaker, rate limit and retry, the adapter
// registry and the idempotent transfer decorator.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/boddenberg/pj-gateway-go/internal/domain"
	"github.com/boddenberg/pj-gateway-go/internal/infra/observability"
	"github.com/boddenberg/pj-gateway-go/internal/infra/resilience"
)

var tracer = otel.Tracer("provider")

const maxResponseBytes = 1 << 20

// HTTPStatusError is a 4xx answer the caller could not classify on its own.
// Adapters decide what it means for their provider.
type HTTPStatusError struct {
	Status int
	Body   []byte
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("provider returned status %d", e.Status)
}

// Call describes one outbound HTTP request.
type Call struct {
	Operation string // balance, statement, transfer, token
	Method    string
	URL       string
	Header    http.Header
	Body      []byte
	// Idempotent calls are retried on transient failures. Transfers never are.
	Idempotent bool
}

// Response is a successful provider answer.
type Response struct {
	Status int
	Body   []byte
}

// Caller performs HTTP calls against one provider.
type Caller struct {
	provider   domain.ProviderID
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	limiter    *rate.Limiter
	cfg        resilience.Config
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// CallerConfig configures a Caller.
type CallerConfig struct {
	Resilience resilience.Config
	RPS        float64
	Burst      int
}

// NewCaller creates a Caller with its own breaker and rate limiter. Only
// availability failures count against the breaker.
func NewCaller(provider domain.ProviderID, httpClient *http.Client, cfg CallerConfig, metrics *observability.Metrics, logger *zap.Logger) *Caller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Caller{
		provider:   provider,
		httpClient: httpClient,
		cb:         resilience.NewCircuitBreaker(string(provider), isUnavailable),
		limiter:    resilience.NewRateLimiter(cfg.RPS, cfg.Burst),
		cfg:        cfg.Resilience,
		metrics:    metrics,
		logger:     logger.With(zap.String("provider", string(provider))),
	}
}

func isUnavailable(err error) bool {
	var unavailable *domain.ErrProviderUnavailable
	return errors.As(err, &unavailable)
}

// Do executes call and classifies the outcome:
// transport errors, timeouts, 408, 429 and 5xx become ErrProviderUnavailable;
// 401 and 403 become ErrAuthFailure; other 4xx become *HTTPStatusError.
func (c *Caller) Do(ctx context.Context, call Call) (*Response, error) {
	ctx, span := tracer.Start(ctx, "provider."+call.Operation)
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", string(c.provider)),
		attribute.String("operation", call.Operation),
	)

	if err := c.limiter.Wait(ctx); err != nil {
		c.count(call.Operation, "rate_limited")
		return nil, c.fail(span, &domain.ErrProviderUnavailable{Provider: c.provider, Err: fmt.Errorf("rate limit wait: %w", err)})
	}

	result, err := c.cb.Execute(func() (any, error) {
		if !call.Idempotent {
			return c.roundTrip(ctx, call)
		}
		var resp *Response
		err := resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			r, err := c.roundTrip(ctx, call)
			if err != nil {
				if isUnavailable(err) {
					return err
				}
				return resilience.Permanent(err)
			}
			resp = r
			return nil
		})
		if err != nil {
			return nil, err
		}
		return resp, nil
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.count(call.Operation, "circuit_open")
			return nil, c.fail(span, &domain.ErrProviderUnavailable{
				Provider: c.provider,
				Err:      &domain.ErrCircuitOpen{Service: string(c.provider)},
			})
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			if !isUnavailable(err) {
				err = &domain.ErrProviderUnavailable{Provider: c.provider, Err: err}
			}
		}
		c.count(call.Operation, "error")
		return nil, c.fail(span, err)
	}

	c.count(call.Operation, "ok")
	return result.(*Response), nil
}

func (c *Caller) roundTrip(ctx context.Context, call Call) (*Response, error) {
	var body io.Reader
	if call.Body != nil {
		body = bytes.NewReader(call.Body)
	}
	req, err := http.NewRequestWithContext(ctx, call.Method, call.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", call.Operation, err)
	}
	for k, vs := range call.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if call.Body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.ErrProviderUnavailable{Provider: c.provider, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &domain.ErrProviderUnavailable{Provider: c.provider, Err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &domain.ErrAuthFailure{Provider: c.provider, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return nil, &domain.ErrProviderUnavailable{Provider: c.provider, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return nil, &HTTPStatusError{Status: resp.StatusCode, Body: payload}
	}

	return &Response{Status: resp.StatusCode, Body: payload}, nil
}

func (c *Caller) count(operation, outcome string) {
	if c.metrics != nil {
		c.metrics.IncrProviderCall(c.provider, operation, outcome)
	}
}

func (c *Caller) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// decodeJSON decodes a provider payload. Anything that does not parse is
// an unknown response; the raw payload only goes to the log.
func (c *Caller) decodeJSON(operation string, body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return c.unknown(operation, body, err)
	}
	return nil
}

func (c *Caller) unknown(operation string, body []byte, err error) error {
	payload := string(body)
	if len(payload) > 512 {
		payload = payload[:512]
	}
	c.logger.Warn("unmappable provider response",
		zap.String("operation", operation),
		zap.String("payload", payload),
		zap.Error(err),
	)
	return &domain.ErrUnknownResponse{Provider: c.provider, Operation: operation, Payload: payload, Err: err}
}
