package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/boddenberg/pj-gateway-go/internal/domain"
)

// CorebankID is the provider id of the corebank API.
const CorebankID domain.ProviderID = "corebank"

// Corebank talks to a full bank API. Each account authenticates with a
// signed client assertion exchanged for a short-lived bearer token.
type Corebank struct {
	caller   *Caller
	baseURLs map[domain.Environment]string
	now      func() time.Time

	mu     sync.Mutex
	tokens map[string]bearerToken
}

type bearerToken struct {
	value     string
	expiresAt time.Time
}

type corebankCredentials struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// NewCorebank creates the adapter. baseURLs maps each environment to its
// API root.
func NewCorebank(caller *Caller, baseURLs map[domain.Environment]string) *Corebank {
	return &Corebank{
		caller:   caller,
		baseURLs: baseURLs,
		now:      time.Now,
		tokens:   make(map[string]bearerToken),
	}
}

func (c *Corebank) Provider() domain.ProviderID { return CorebankID }

func (c *Corebank) Supports() domain.Capabilities {
	return domain.Capabilities{
		InstantTransferIn: true,
		VoucherBilling:    true,
		RecurringBilling:  true,
		Transfer:          true,
		Balance:           true,
		Statement:         true,
	}
}

type corebankBalance struct {
	Available *string `json:"available"`
	Pending   *string `json:"pending"`
	Blocked   *string `json:"blocked"`
	Currency  string  `json:"currency"`
}

func (c *Corebank) FetchBalance(ctx context.Context, account *domain.Account) (*domain.BalanceSnapshot, error) {
	if err := guard(CorebankID, account, domain.CapabilityBalance); err != nil {
		return nil, err
	}
	resp, err := c.authorized(ctx, account, Call{
		Operation:  "balance",
		Method:     http.MethodGet,
		URL:        fmt.Sprintf("/v1/accounts/%s/balance", url.PathEscape(account.ExternalRef)),
		Idempotent: true,
	})
	if err != nil {
		return nil, c.statusErr("balance", err)
	}

	var body corebankBalance
	if err := c.caller.decodeJSON("balance", resp.Body, &body); err != nil {
		return nil, err
	}
	if body.Available == nil {
		return nil, c.caller.unknown("balance", resp.Body, errors.New("missing available balance"))
	}

	currency := account.Currency
	if body.Currency != "" {
		currency = body.Currency
	}

	snap := &domain.BalanceSnapshot{Currency: currency, FetchedAt: c.now().UTC()}
	if snap.Available, err = domain.ParseMinorUnits(*body.Available, currency); err != nil {
		return nil, c.caller.unknown("balance", resp.Body, err)
	}
	if body.Pending != nil {
		if snap.Pending, err = domain.ParseMinorUnits(*body.Pending, currency); err != nil {
			return nil, c.caller.unknown("balance", resp.Body, err)
		}
	}
	if body.Blocked != nil {
		blocked, err := domain.ParseMinorUnits(*body.Blocked, currency)
		if err != nil {
			return nil, c.caller.unknown("balance", resp.Body, err)
		}
		snap.Blocked = &blocked
	}
	return snap, nil
}

type corebankStatement struct {
	Entries []struct {
		ID          string `json:"id"`
		Date        string `json:"date"`
		Description string `json:"description"`
		Amount      string `json:"amount"`
		Type        string `json:"type"`
	} `json:"entries"`
}

func (c *Corebank) FetchStatement(ctx context.Context, account *domain.Account, rng domain.DateRange) (*domain.Statement, error) {
	if err := guardStatement(CorebankID, account, rng); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("from", rng.Start.String())
	q.Set("to", rng.End.String())

	resp, err := c.authorized(ctx, account, Call{
		Operation:  "statement",
		Method:     http.MethodGet,
		URL:        fmt.Sprintf("/v1/accounts/%s/statement?%s", url.PathEscape(account.ExternalRef), q.Encode()),
		Idempotent: true,
	})
	if err != nil {
		return nil, c.statusErr("statement", err)
	}

	var body corebankStatement
	if err := c.caller.decodeJSON("statement", resp.Body, &body); err != nil {
		return nil, err
	}

	entries := make([]domain.StatementEntry, 0, len(body.Entries))
	for _, e := range body.Entries {
		date, err := domain.ParseDate(e.Date)
		if err != nil {
			return nil, c.caller.unknown("statement", resp.Body, err)
		}
		amount, err := decimal.NewFromString(e.Amount)
		if err != nil {
			return nil, c.caller.unknown("statement", resp.Body, err)
		}

		var dir domain.Direction
		switch e.Type {
		case "CREDIT":
			dir = domain.DirectionCredit
		case "DEBIT":
			dir = domain.DirectionDebit
		default:
			return nil, c.caller.unknown("statement", resp.Body, fmt.Errorf("entry %s: unknown type %q", e.ID, e.Type))
		}
		// debits may come signed; a negative credit is contradictory
		if amount.IsNegative() && dir == domain.DirectionCredit {
			return nil, c.caller.unknown("statement", resp.Body, fmt.Errorf("entry %s: amount sign disagrees with type", e.ID))
		}

		minor, err := domain.DecimalToMinorUnits(amount.Abs(), account.Currency)
		if err != nil {
			return nil, c.caller.unknown("statement", resp.Body, err)
		}
		if minor == 0 {
			return nil, c.caller.unknown("statement", resp.Body, fmt.Errorf("entry %s: zero amount", e.ID))
		}
		entries = append(entries, domain.NewEntry(date, e.Description, minor, dir, e.ID))
	}

	return domain.NewStatement(rng, entries), nil
}

type corebankTransferRequest struct {
	Method      string `json:"method"`
	Destination string `json:"destination,omitempty"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
}

type corebankTransferResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func (c *Corebank) ExecuteTransfer(ctx context.Context, account *domain.Account, req *domain.TransferRequest) (*domain.TransferResult, error) {
	if err := guard(CorebankID, account, domain.CapabilityTransfer); err != nil {
		return nil, err
	}
	method := "PIX"
	if req.Method == domain.MethodWire {
		method = "TED"
	}
	payload, err := json.Marshal(corebankTransferRequest{
		Method:      method,
		Destination: req.Destination,
		Amount:      domain.FormatMinorUnits(req.AmountMinorUnits, account.Currency),
		Description: req.Description,
	})
	if err != nil {
		return nil, fmt.Errorf("encode transfer: %w", err)
	}

	resp, err := c.authorized(ctx, account, Call{
		Operation: "transfer",
		Method:    http.MethodPost,
		URL:       fmt.Sprintf("/v1/accounts/%s/transfers", url.PathEscape(account.ExternalRef)),
		Header:    http.Header{"Idempotency-Key": []string{req.IdempotencyToken}},
		Body:      payload,
	})

	var body []byte
	var statusErr *HTTPStatusError
	switch {
	case err == nil:
		body = resp.Body
	case errors.As(err, &statusErr) && statusErr.Status == http.StatusConflict:
		// replay of a key the bank already processed; body is the original transfer
		body = statusErr.Body
	case errors.As(err, &statusErr) && statusErr.Status == http.StatusUnprocessableEntity:
		var denial corebankTransferResponse
		_ = json.Unmarshal(statusErr.Body, &denial)
		return nil, rejection(CorebankID, firstNonEmpty(denial.Reason, denial.Message))
	default:
		return nil, c.statusErr("transfer", err)
	}

	var out corebankTransferResponse
	if err := c.caller.decodeJSON("transfer", body, &out); err != nil {
		return nil, err
	}

	result := &domain.TransferResult{ExternalID: out.ID, AmountMinorUnits: req.AmountMinorUnits}
	switch out.Status {
	case "COMPLETED":
		result.Status = domain.TransferConfirmed
	case "SCHEDULED", "PROCESSING":
		result.Status = domain.TransferPending
	case "REJECTED":
		return nil, rejection(CorebankID, firstNonEmpty(out.Reason, out.Message))
	default:
		return nil, c.caller.unknown("transfer", body, fmt.Errorf("unknown transfer status %q", out.Status))
	}
	if result.ExternalID == "" {
		return nil, c.caller.unknown("transfer", body, errors.New("missing transfer id"))
	}
	return result, nil
}

// authorized resolves the environment URL, prefixes it to call.URL,
// attaches a bearer token and performs call. A 401 drops the cached token so the next call re-authenticates.
func (c *Corebank) authorized(ctx context.Context, account *domain.Account, call Call) (*Response, error) {
	base, err := c.baseURL(account)
	if err != nil {
		return nil, err
	}
	token, err := c.token(ctx, account, base)
	if err != nil {
		return nil, err
	}

	call.URL = base + call.URL
	if call.Header == nil {
		call.Header = http.Header{}
	}
	call.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.caller.Do(ctx, call)
	var authErr *domain.ErrAuthFailure
	if errors.As(err, &authErr) {
		c.mu.Lock()
		delete(c.tokens, ledgerKey(account))
		c.mu.Unlock()
	}
	return resp, err
}

func (c *Corebank) baseURL(account *domain.Account) (string, error) {
	base, ok := c.baseURLs[account.Environment]
	if !ok || base == "" {
		return "", &domain.ErrProviderUnavailable{
			Provider: CorebankID,
			Err:      fmt.Errorf("no endpoint configured for %s environment", account.Environment),
		}
	}
	return strings.TrimRight(base, "/"), nil
}

type corebankToken struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// token returns a cached bearer token or exchanges a fresh client
// assertion for one.
func (c *Corebank) token(ctx context.Context, account *domain.Account, base string) (string, error) {
	key := ledgerKey(account)

	c.mu.Lock()
	cached, ok := c.tokens[key]
	c.mu.Unlock()
	if ok && c.now().Before(cached.expiresAt) {
		return cached.value, nil
	}

	var creds corebankCredentials
	if err := decodeCredentials(CorebankID, account, &creds); err != nil {
		return "", err
	}
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return "", &domain.ErrAuthFailure{Provider: CorebankID, Err: errors.New("clientId and clientSecret are required")}
	}

	tokenURL := base + "/oauth/token"
	now := c.now()
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    creds.ClientID,
		Subject:   creds.ClientID,
		Audience:  jwt.ClaimStrings{tokenURL},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		ID:        uuid.NewString(),
	}).SignedString([]byte(creds.ClientSecret))
	if err != nil {
		return "", fmt.Errorf("sign client assertion: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_assertion_type", "urn:ietf:params:oauth:client-assertion-type:jwt-bearer")
	form.Set("client_assertion", assertion)

	resp, err := c.caller.Do(ctx, Call{
		Operation:  "token",
		Method:     http.MethodPost,
		URL:        tokenURL,
		Header:     http.Header{"Content-Type": []string{"application/x-www-form-urlencoded"}},
		Body:       []byte(form.Encode()),
		Idempotent: true,
	})
	if err != nil {
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.Status == http.StatusBadRequest {
			// invalid_client / invalid_grant
			return "", &domain.ErrAuthFailure{Provider: CorebankID, Err: fmt.Errorf("token exchange: %w", err)}
		}
		return "", c.statusErr("token", err)
	}

	var tok corebankToken
	if err := c.caller.decodeJSON("token", resp.Body, &tok); err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", c.caller.unknown("token", resp.Body, errors.New("missing access_token"))
	}

	ttl := time.Duration(tok.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	// refresh a little early so a token never expires in flight
	if ttl > 30*time.Second {
		ttl -= 15 * time.Second
	}

	c.mu.Lock()
	c.tokens[key] = bearerToken{value: tok.AccessToken, expiresAt: now.Add(ttl)}
	c.mu.Unlock()

	return tok.AccessToken, nil
}

// statusErr turns an unclassified 4xx into an unknown response.
func (c *Corebank) statusErr(operation string, err error) error {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return c.caller.unknown(operation, statusErr.Body, err)
	}
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
