package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/boddenberg/pj-gateway-go/internal/domain"
)

// apiClient is a thin client of the gateway HTTP API.
type apiClient struct {
	baseURL string
	tenant  string
	token   string
	http    *http.Client
}

// apiError is a non-2xx answer from the gateway.
type apiError struct {
	Status int
	Body   domain.ErrorBody
}

func (e *apiError) Error() string {
	if e.Body.Code == "" {
		return fmt.Sprintf("gateway answered %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Body.Code, e.Body.Message)
}

func (c *apiClient) tenantPath(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return "/v1/tenants/" + url.PathEscape(c.tenant) + "/" + strings.Join(escaped, "/")
}

func (c *apiClient) do(ctx context.Context, method, path string, header http.Header, body, out any) (*http.Response, error) {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.baseURL, "/")+path, payload)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.Unmarshal(raw, &apiErr.Body)
		return resp, apiErr
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp, nil
}

func (c *apiClient) accounts(ctx context.Context) ([]domain.AccountSummary, error) {
	var out []domain.AccountSummary
	_, err := c.do(ctx, http.MethodGet, c.tenantPath("accounts"), nil, nil, &out)
	return out, err
}

func (c *apiClient) balance(ctx context.Context, accountID string) (*domain.BalanceSnapshot, error) {
	var out domain.BalanceSnapshot
	if _, err := c.do(ctx, http.MethodGet, c.tenantPath("accounts", accountID, "balance"), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) statement(ctx context.Context, accountID string, rng domain.DateRange) (*domain.Statement, error) {
	q := url.Values{"start": {rng.Start.String()}, "end": {rng.End.String()}}
	var out domain.Statement
	if _, err := c.do(ctx, http.MethodGet, c.tenantPath("accounts", accountID, "statement")+"?"+q.Encode(), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type transferPayload struct {
	Method      string `json:"method"`
	Destination string `json:"destination,omitempty"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
}

func (c *apiClient) transfer(ctx context.Context, accountID, token string, p transferPayload) (*domain.TransferOutcome, error) {
	header := http.Header{}
	header.Set("Idempotency-Key", token)

	var out domain.TransferOutcome
	if _, err := c.do(ctx, http.MethodPost, c.tenantPath("accounts", accountID, "transfers"), header, p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) overview(ctx context.Context) ([]domain.AccountBalance, error) {
	var out struct {
		Accounts []domain.AccountBalance `json:"accounts"`
	}
	if _, err := c.do(ctx, http.MethodGet, c.tenantPath("overview"), nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Accounts, nil
}
