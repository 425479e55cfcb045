package domain

import (
	"fmt"
	"sort"
	"time"
)

// ============================================================
// Balance & Statement
// ============================================================

// BalanceSnapshot is a point-in-time balance read. It is never cached and
// consecutive reads may go up or down.
type BalanceSnapshot struct {
	Available int64     `json:"available"`
	Pending   int64     `json:"pending"`
	Blocked   *int64    `json:"blocked,omitempty"`
	Currency  string    `json:"currency"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Direction tells whether an entry credits or debits the account.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// StatementEntry is one movement of a statement. Amount is signed and must
// agree with Direction: credits are positive, debits negative.
type StatementEntry struct {
	Date        Date      `json:"date"`
	Description string    `json:"description"`
	Amount      int64     `json:"amountMinorUnits"`
	Direction   Direction `json:"direction"`
	Reference   string    `json:"reference,omitempty"`
}

// NewEntry builds an entry from an unsigned magnitude and a direction.
func NewEntry(date Date, description string, magnitude int64, dir Direction, reference string) StatementEntry {
	if magnitude < 0 {
		magnitude = -magnitude
	}
	amount := magnitude
	if dir == DirectionDebit {
		amount = -magnitude
	}
	return StatementEntry{
		Date:        date,
		Description: description,
		Amount:      amount,
		Direction:   dir,
		Reference:   reference,
	}
}

// Magnitude returns the absolute amount of the entry.
func (e StatementEntry) Magnitude() int64 {
	if e.Amount < 0 {
		return -e.Amount
	}
	return e.Amount
}

// Validate checks that the entry amount and direction agree.
func (e StatementEntry) Validate() error {
	switch e.Direction {
	case DirectionCredit:
		if e.Amount <= 0 {
			return fmt.Errorf("credit entry with non-positive amount %d", e.Amount)
		}
	case DirectionDebit:
		if e.Amount >= 0 {
			return fmt.Errorf("debit entry with non-negative amount %d", e.Amount)
		}
	default:
		return fmt.Errorf("unknown direction %q", e.Direction)
	}
	if e.Date.IsZero() {
		return fmt.Errorf("entry without date")
	}
	return nil
}

// StatementSummary aggregates the entries of one statement query.
type StatementSummary struct {
	Count        int   `json:"count"`
	TotalCredits int64 `json:"totalCredits"`
	TotalDebits  int64 `json:"totalDebits"`
	Net          int64 `json:"net"`
}

// Summarize aggregates entries. TotalDebits is reported as a positive figure.
func Summarize(entries []StatementEntry) StatementSummary {
	var s StatementSummary
	for _, e := range entries {
		s.Count++
		if e.Direction == DirectionCredit {
			s.TotalCredits += e.Magnitude()
		} else {
			s.TotalDebits += e.Magnitude()
		}
	}
	s.Net = s.TotalCredits - s.TotalDebits
	return s
}

// Statement is the result of a statement query.
type Statement struct {
	Range   DateRange        `json:"range"`
	Entries []StatementEntry `json:"entries"`
	Summary StatementSummary `json:"summary"`
}

// NewStatement keeps only entries inside rng, orders them by date
// (stable, so same-day entries keep provider order) and derives the summary
// from exactly the entries returned.
func NewStatement(rng DateRange, entries []StatementEntry) *Statement {
	kept := make([]StatementEntry, 0, len(entries))
	for _, e := range entries {
		if rng.Contains(e.Date) {
			kept = append(kept, e)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Date.Before(kept[j].Date)
	})
	return &Statement{
		Range:   rng,
		Entries: kept,
		Summary: Summarize(kept),
	}
}

// Verify checks the invariants every statement handed to callers must hold.
func (s *Statement) Verify() error {
	for i, e := range s.Entries {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		if !s.Range.Contains(e.Date) {
			return fmt.Errorf("entry %d dated %s outside %s..%s", i, e.Date, s.Range.Start, s.Range.End)
		}
		if i > 0 && e.Date.Before(s.Entries[i-1].Date) {
			return fmt.Errorf("entry %d out of date order", i)
		}
	}
	if want := Summarize(s.Entries); want != s.Summary {
		return fmt.Errorf("summary %+v does not match entries %+v", s.Summary, want)
	}
	return nil
}
