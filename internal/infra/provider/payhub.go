package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/boddenberg/pj-gateway-go/internal/domain"
)

// PayhubID is the provider id of the payhub PSP.
const PayhubID domain.ProviderID = "payhub"

const payhubMaxPages = 100

// Payhub talks to a payment service provider authenticated by API key.
// Amounts are signed integer cents and timestamps RFC3339.
type Payhub struct {
	caller   *Caller
	baseURLs map[domain.Environment]string
	now      func() time.Time
}

type payhubCredentials struct {
	APIKey string `json:"apiKey"`
}

// NewPayhub creates the adapter.
func NewPayhub(caller *Caller, baseURLs map[domain.Environment]string) *Payhub {
	return &Payhub{caller: caller, baseURLs: baseURLs, now: time.Now}
}

func (p *Payhub) Provider() domain.ProviderID { return PayhubID }

func (p *Payhub) Supports() domain.Capabilities {
	return domain.Capabilities{
		InstantTransferIn: true,
		CreditCard:        true,
		DebitCard:         true,
		PaymentSplit:      true,
		Transfer:          true,
		Balance:           true,
		Statement:         true,
	}
}

type payhubBalance struct {
	AvailableCents *int64 `json:"availableCents"`
	PendingCents   int64  `json:"pendingCents"`
	Currency       string `json:"currency"`
}

func (p *Payhub) FetchBalance(ctx context.Context, account *domain.Account) (*domain.BalanceSnapshot, error) {
	if err := guard(PayhubID, account, domain.CapabilityBalance); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("account", account.ExternalRef)

	resp, err := p.do(ctx, account, Call{
		Operation:  "balance",
		Method:     http.MethodGet,
		URL:        "/api/balance?" + q.Encode(),
		Idempotent: true,
	})
	if err != nil {
		return nil, err
	}

	var body payhubBalance
	if err := p.caller.decodeJSON("balance", resp.Body, &body); err != nil {
		return nil, err
	}
	if body.AvailableCents == nil {
		return nil, p.caller.unknown("balance", resp.Body, errors.New("missing availableCents"))
	}

	currency := account.Currency
	if body.Currency != "" {
		currency = strings.ToUpper(body.Currency)
	}
	return &domain.BalanceSnapshot{
		Available: *body.AvailableCents,
		Pending:   body.PendingCents,
		Currency:  currency,
		FetchedAt: p.now().UTC(),
	}, nil
}

type payhubStatementPage struct {
	Items []struct {
		ID          string `json:"id"`
		OccurredAt  string `json:"occurredAt"`
		Description string `json:"description"`
		AmountCents int64  `json:"amountCents"`
		Kind        string `json:"kind"`
	} `json:"items"`
	HasMore bool `json:"hasMore"`
}

func (p *Payhub) FetchStatement(ctx context.Context, account *domain.Account, rng domain.DateRange) (*domain.Statement, error) {
	if err := guardStatement(PayhubID, account, rng); err != nil {
		return nil, err
	}
	// payhub filters by instant; ask for the whole days and let the
	// date filter below drop anything outside the range.
	from := rng.Start.Time().Add(-24 * time.Hour)
	to := rng.End.AddDays(2).Time()

	var entries []domain.StatementEntry
	for page := 1; ; page++ {
		if page > payhubMaxPages {
			return nil, p.caller.unknown("statement", nil, fmt.Errorf("statement exceeds %d pages", payhubMaxPages))
		}

		q := url.Values{}
		q.Set("account", account.ExternalRef)
		q.Set("from", from.Format(time.RFC3339))
		q.Set("to", to.Format(time.RFC3339))
		q.Set("page", strconv.Itoa(page))

		resp, err := p.do(ctx, account, Call{
			Operation:  "statement",
			Method:     http.MethodGet,
			URL:        "/api/statement?" + q.Encode(),
			Idempotent: true,
		})
		if err != nil {
			return nil, err
		}

		var body payhubStatementPage
		if err := p.caller.decodeJSON("statement", resp.Body, &body); err != nil {
			return nil, err
		}

		for _, item := range body.Items {
			at, err := time.Parse(time.RFC3339, item.OccurredAt)
			if err != nil {
				return nil, p.caller.unknown("statement", resp.Body, fmt.Errorf("item %s: %w", item.ID, err))
			}
			if item.AmountCents == 0 {
				return nil, p.caller.unknown("statement", resp.Body, fmt.Errorf("item %s: zero amount", item.ID))
			}
			dir := domain.DirectionCredit
			if item.AmountCents < 0 {
				dir = domain.DirectionDebit
			}
			desc := item.Description
			if desc == "" {
				desc = item.Kind
			}
			// the provider's local calendar day is the booking date
			entries = append(entries, domain.NewEntry(domain.DateOf(at), desc, item.AmountCents, dir, item.ID))
		}

		if !body.HasMore {
			break
		}
	}

	return domain.NewStatement(rng, entries), nil
}

type payhubPayout struct {
	Account     string `json:"account"`
	Method      string `json:"method"`
	Destination string `json:"destination,omitempty"`
	AmountCents int64  `json:"amountCents"`
	Description string `json:"description,omitempty"`
}

type payhubPayoutResponse struct {
	PayoutID      string `json:"payoutId"`
	State         string `json:"state"`
	RefusalReason string `json:"refusalReason"`
}

func (p *Payhub) ExecuteTransfer(ctx context.Context, account *domain.Account, req *domain.TransferRequest) (*domain.TransferResult, error) {
	if err := guard(PayhubID, account, domain.CapabilityTransfer); err != nil {
		return nil, err
	}
	method := "PIX"
	if req.Method == domain.MethodWire {
		method = "TED"
	}
	payload, err := json.Marshal(payhubPayout{
		Account:     account.ExternalRef,
		Method:      method,
		Destination: req.Destination,
		AmountCents: req.AmountMinorUnits,
		Description: req.Description,
	})
	if err != nil {
		return nil, fmt.Errorf("encode payout: %w", err)
	}

	resp, err := p.do(ctx, account, Call{
		Operation: "transfer",
		Method:    http.MethodPost,
		URL:       "/api/payouts",
		Header:    http.Header{"Idempotency-Key": []string{req.IdempotencyToken}},
		Body:      payload,
	})
	if err != nil {
		return nil, err
	}

	var out payhubPayoutResponse
	if err := p.caller.decodeJSON("transfer", resp.Body, &out); err != nil {
		return nil, err
	}

	result := &domain.TransferResult{ExternalID: out.PayoutID, AmountMinorUnits: req.AmountMinorUnits}
	switch out.State {
	case "DONE":
		result.Status = domain.TransferConfirmed
	case "PROCESSING":
		result.Status = domain.TransferPending
	case "REFUSED":
		return nil, rejection(PayhubID, out.RefusalReason)
	default:
		return nil, p.caller.unknown("transfer", resp.Body, fmt.Errorf("unknown payout state %q", out.State))
	}
	if result.ExternalID == "" {
		return nil, p.caller.unknown("transfer", resp.Body, errors.New("missing payoutId"))
	}
	return result, nil
}

// do attaches the API key and maps payhub's 4xx answers.
func (p *Payhub) do(ctx context.Context, account *domain.Account, call Call) (*Response, error) {
	base, ok := p.baseURLs[account.Environment]
	if !ok || base == "" {
		return nil, &domain.ErrProviderUnavailable{
			Provider: PayhubID,
			Err:      fmt.Errorf("no endpoint configured for %s environment", account.Environment),
		}
	}

	var creds payhubCredentials
	if err := decodeCredentials(PayhubID, account, &creds); err != nil {
		return nil, err
	}
	if creds.APIKey == "" {
		return nil, &domain.ErrAuthFailure{Provider: PayhubID, Err: errors.New("apiKey is required")}
	}

	call.URL = strings.TrimRight(base, "/") + call.URL
	if call.Header == nil {
		call.Header = http.Header{}
	}
	call.Header.Set("X-Api-Key", creds.APIKey)

	resp, err := p.caller.Do(ctx, call)
	if err == nil {
		return resp, nil
	}

	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		return nil, err
	}
	if call.Operation == "transfer" && statusErr.Status == http.StatusUnprocessableEntity {
		var denial struct {
			RefusalReason string `json:"refusalReason"`
			Error         string `json:"error"`
		}
		_ = json.Unmarshal(statusErr.Body, &denial)
		return nil, rejection(PayhubID, firstNonEmpty(denial.RefusalReason, denial.Error))
	}
	return nil, p.caller.unknown(call.Operation, statusErr.Body, err)
}
