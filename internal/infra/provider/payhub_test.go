package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boddenberg/pj-gateway-go/internal/domain"
)

const payhubCreds = `{"apiKey":"pk_test_123"}`

func newTestPayhub(t *testing.T, handler http.HandlerFunc) *Payhub {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "pk_test_123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	caller, _ := testCaller(t, PayhubID)
	p := NewPayhub(caller, map[domain.Environment]string{domain.EnvironmentProduction: srv.URL + "/"})
	p.now = func() time.Time { return fixedNow }
	return p
}

func TestPayhub_FetchBalance(t *testing.T) {
	p := newTestPayhub(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/balance", r.URL.Path)
		_, _ = w.Write([]byte(`{"availableCents":123456,"pendingCents":100,"currency":"brl"}`))
	})

	bal, err := p.FetchBalance(context.Background(), testAccount(PayhubID, payhubCreds))
	require.NoError(t, err)
	assert.Equal(t, int64(123456), bal.Available)
	assert.Equal(t, int64(100), bal.Pending)
	assert.Nil(t, bal.Blocked)
	assert.Equal(t, "BRL", bal.Currency)
}

func TestPayhub_WrongKeyIsAuthFailure(t *testing.T) {
	p := newTestPayhub(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not be reached")
	})

	_, err := p.FetchBalance(context.Background(), testAccount(PayhubID, `{"apiKey":"nope"}`))
	var authErr *domain.ErrAuthFailure
	assert.ErrorAs(t, err, &authErr)
}

func TestPayhub_FetchStatement_Paginates(t *testing.T) {
	pages := map[int]string{
		1: `{"items":[
			{"id":"a","occurredAt":"2025-01-05T10:00:00-03:00","description":"sale","amountCents":10000,"kind":"charge"},
			{"id":"x","occurredAt":"2024-12-31T23:30:00-03:00","amountCents":999,"kind":"charge"}
		],"hasMore":true}`,
		2: `{"items":[
			{"id":"c","occurredAt":"2025-01-20T08:00:00-03:00","amountCents":-500,"kind":"fee"},
			{"id":"b","occurredAt":"2025-01-10T09:00:00-03:00","description":"supplier","amountCents":-2500,"kind":"payout"}
		],"hasMore":false}`,
	}
	p := newTestPayhub(t, func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		_, _ = w.Write([]byte(pages[page]))
	})

	rng := domain.DateRange{Start: domain.MustParseDate("2025-01-01"), End: domain.MustParseDate("2025-01-31")}
	st, err := p.FetchStatement(context.Background(), testAccount(PayhubID, payhubCreds), rng)
	require.NoError(t, err)
	require.NoError(t, st.Verify())

	assert.Equal(t, domain.StatementSummary{Count: 3, TotalCredits: 10000, TotalDebits: 3000, Net: 7000}, st.Summary)
	assert.Equal(t, "fee", st.Entries[2].Description, "kind is used when description is empty")
}

func TestPayhub_FetchStatement_TooManyPages(t *testing.T) {
	p := newTestPayhub(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[],"hasMore":true}`))
	})

	rng := domain.DateRange{Start: domain.MustParseDate("2025-01-01"), End: domain.MustParseDate("2025-01-02")}
	_, err := p.FetchStatement(context.Background(), testAccount(PayhubID, payhubCreds), rng)
	var unknown *domain.ErrUnknownResponse
	assert.ErrorAs(t, err, &unknown)
}

func TestPayhub_ExecuteTransfer(t *testing.T) {
	tests := []struct {
		state  string
		code   int
		want   domain.TransferStatus
		reject bool
	}{
		{state: "DONE", code: 200, want: domain.TransferConfirmed},
		{state: "PROCESSING", code: 202, want: domain.TransferPending},
		{state: "REFUSED", code: 200, reject: true},
		{state: "", code: 422, reject: true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%d", tt.state, tt.code), func(t *testing.T) {
			p := newTestPayhub(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "tok", r.Header.Get("Idempotency-Key"))
				var body payhubPayout
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, int64(5000), body.AmountCents)
				w.WriteHeader(tt.code)
				_, _ = fmt.Fprintf(w, `{"payoutId":"PO-1","state":%q,"refusalReason":"blocked destination"}`, tt.state)
			})

			acc := testAccount(PayhubID, payhubCreds)
			res, err := p.ExecuteTransfer(context.Background(), acc, transferReq(acc, "tok", 5000))
			if tt.reject {
				var rejected *domain.ErrTransferRejected
				require.ErrorAs(t, err, &rejected)
				assert.Equal(t, domain.RejectInvalidDestination, rejected.Reason)
				assert.Equal(t, "blocked destination", rejected.Detail)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Status)
			assert.Equal(t, "PO-1", res.ExternalID)
		})
	}
}
