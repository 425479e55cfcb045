package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ============================================================
// Transfers
// ============================================================

// TransferMethod is the rail used for an outbound transfer.
type TransferMethod string

const (
	MethodInstant TransferMethod = "instant" // key-addressed, pix-style
	MethodWire    TransferMethod = "wire"    // TED-style bank wire
)

// Valid reports whether m is a known method.
func (m TransferMethod) Valid() bool {
	return m == MethodInstant || m == MethodWire
}

// RequiresDestination reports whether the method needs an explicit
// destination. A wire without destination pays out to the settlement
// account registered with the provider.
func (m TransferMethod) RequiresDestination() bool {
	return m == MethodInstant
}

const maxDescriptionLen = 140

// TransferRequest is one logical outbound transfer.
type TransferRequest struct {
	AccountID        string         `json:"accountId"`
	Method           TransferMethod `json:"method"`
	Destination      string         `json:"destination,omitempty"`
	AmountMinorUnits int64          `json:"amountMinorUnits"`
	Description      string         `json:"description,omitempty"`
	IdempotencyToken string         `json:"idempotencyToken"`
}

// Validate checks the request shape. It does not check anything that
// depends on live provider state.
func (r *TransferRequest) Validate() error {
	if !r.Method.Valid() {
		return &ErrValidation{Field: "method", Message: "must be instant or wire"}
	}
	if r.AmountMinorUnits <= 0 {
		return &ErrValidation{Field: "amountMinorUnits", Message: "must be a positive integer in minor units"}
	}
	if r.Method.RequiresDestination() && strings.TrimSpace(r.Destination) == "" {
		return &ErrValidation{Field: "destination", Message: fmt.Sprintf("required for %s transfers", r.Method)}
	}
	if r.Method == MethodInstant && DetectInstantKeyType(r.Destination) == "" {
		return &ErrValidation{Field: "destination", Message: "not a valid instant-transfer key"}
	}
	if len(r.Description) > maxDescriptionLen {
		return &ErrValidation{Field: "description", Message: fmt.Sprintf("must be at most %d characters", maxDescriptionLen)}
	}
	if strings.TrimSpace(r.IdempotencyToken) == "" {
		return &ErrValidation{Field: "idempotencyToken", Message: "is required"}
	}
	return nil
}

// Fingerprint hashes the economic content of the request. Two submissions
// sharing a token must share a fingerprint.
func (r *TransferRequest) Fingerprint() string {
	h := sha256.New()
	for _, part := range []string{
		r.AccountID,
		string(r.Method),
		strings.TrimSpace(r.Destination),
		strconv.FormatInt(r.AmountMinorUnits, 10),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// MaskedDestination hides most of the destination for logs.
func (r *TransferRequest) MaskedDestination() string {
	d := r.Destination
	if len(d) <= 4 {
		return strings.Repeat("*", len(d))
	}
	return d[:2] + strings.Repeat("*", len(d)-4) + d[len(d)-2:]
}

// TransferStatus is the provider outcome of a submitted transfer.
type TransferStatus string

const (
	TransferConfirmed TransferStatus = "confirmed"
	TransferPending   TransferStatus = "pending"
	TransferRejected  TransferStatus = "rejected"
)

// TransferResult is what the provider reported for a transfer.
type TransferResult struct {
	Status           TransferStatus `json:"status"`
	ExternalID       string         `json:"externalId"`
	AmountMinorUnits int64          `json:"amountMinorUnits"`
	Reason           string         `json:"reason,omitempty"`
}

// ============================================================
// Transfer state machine
// ============================================================

// TransferState is the lifecycle of a transfer as seen by the gateway.
type TransferState string

const (
	StateDraft     TransferState = "draft"
	StateSubmitted TransferState = "submitted"
	StateConfirmed TransferState = "confirmed"
	StatePending   TransferState = "pending"
	StateRejected  TransferState = "rejected"
	StateFailed    TransferState = "failed"
)

var transferTransitions = map[TransferState][]TransferState{
	StateDraft:     {StateSubmitted},
	StateSubmitted: {StateConfirmed, StatePending, StateRejected, StateFailed},
}

// CanTransition reports whether from → to is a legal move. There is no
// cancelled state: once submitted a transfer cannot be revoked.
func CanTransition(from, to TransferState) bool {
	for _, next := range transferTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends the lifecycle.
func (s TransferState) Terminal() bool {
	switch s {
	case StateConfirmed, StatePending, StateRejected, StateFailed:
		return true
	}
	return false
}

// StateForStatus maps a provider status to the terminal gateway state.
func StateForStatus(status TransferStatus) TransferState {
	switch status {
	case TransferConfirmed:
		return StateConfirmed
	case TransferPending:
		return StatePending
	case TransferRejected:
		return StateRejected
	}
	return StateFailed
}

// TransferDraft is a request that has not been submitted yet. The
// idempotency token is minted here so every resubmission reuses it.
type TransferDraft struct {
	ID        string          `json:"id"`
	Request   TransferRequest `json:"request"`
	State     TransferState   `json:"state"`
	CreatedAt time.Time       `json:"createdAt"`
}

// NewTransferDraft creates a draft of req, minting a token when req
// carries none.
func NewTransferDraft(req TransferRequest) *TransferDraft {
	if req.IdempotencyToken == "" {
		req.IdempotencyToken = uuid.NewString()
	}
	return DraftOf(req, time.Now())
}

// DraftOf wraps a request that already carries its token.
func DraftOf(req TransferRequest, now time.Time) *TransferDraft {
	return &TransferDraft{
		ID:        ulid.Make().String(),
		Request:   req,
		State:     StateDraft,
		CreatedAt: now,
	}
}

// Advance moves the draft to the next state if the transition is legal.
func (d *TransferDraft) Advance(to TransferState) error {
	if !CanTransition(d.State, to) {
		return fmt.Errorf("illegal transfer transition %s -> %s", d.State, to)
	}
	d.State = to
	return nil
}

// ============================================================
// Instant-transfer keys
// ============================================================

// DetectInstantKeyType classifies an instant-transfer key: email, random
// (EVP), cnpj, cpf or phone. It returns "" when the key is not recognised.
func DetectInstantKeyType(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}

	digits := 0
	hasCNPJFormatting := false
	for _, r := range value {
		if r >= '0' && r <= '9' {
			digits++
		}
		if r == '.' || r == '/' {
			hasCNPJFormatting = true
		}
	}

	switch {
	case strings.Contains(value, "@"):
		return "email"
	case len(value) == 36 && strings.Count(value, "-") == 4:
		return "random"
	case digits == 14:
		return "cnpj"
	case hasCNPJFormatting && digits >= 11 && digits <= 14:
		return "cnpj"
	case digits == 11 && !strings.HasPrefix(value, "+"):
		return "cpf"
	case strings.HasPrefix(value, "+") && digits >= 10:
		return "phone"
	case digits >= 10 && digits <= 13 && !hasCNPJFormatting:
		return "phone"
	}
	return ""
}

// TransferOutcome is what the gateway hands back for a transfer: the
// provider result, the terminal state and whether it was replayed from the
// journal instead of reaching the provider.
type TransferOutcome struct {
	TransferResult
	State    TransferState `json:"state"`
	Replayed bool          `json:"replayed,omitempty"`
}
