package domain

import "time"

// JournalState is the state of one idempotency reservation.
type JournalState string

const (
	JournalProcessing JournalState = "processing"
	JournalDone       JournalState = "done"
)

// JournalEntry records the single external attempt made for an
// (account, idempotency token) pair.
type JournalEntry struct {
	Key         string          `json:"key"`
	AttemptID   string          `json:"attemptId"`
	Fingerprint string          `json:"fingerprint"`
	State       JournalState    `json:"state"`
	Result      *TransferResult `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// JournalKey builds the journal key for a transfer.
func JournalKey(accountID, token string) string {
	return accountID + ":" + token
}
