package store

import (
	"context"
)

// Ledger keeps a history of run attempts.
type Ledger interface {
	// RecordDispatch inserts the attempt right before its dispatch call.
	RecordDispatch(ctx context.Context, attempt *Attempt) error

	// RecordOutcome updates the attempt with its run binding and final outcome.
	RecordOutcome(ctx context.Context, attempt *Attempt) error

	// ListAttempts returns the most recent attempts, newest first.
	// When outcomes is non-empty only attempts with one of those outcomes are returned.
	ListAttempts(ctx context.Context, limit int, outcomes ...Outcome) ([]Attempt, error)
}

// NopLedger discards everything. It is used when no database is configured.
type NopLedger struct{}

func (NopLedger) RecordDispatch(context.Context, *Attempt) error { return nil }
func (NopLedger) RecordOutcome(context.Context, *Attempt) error  { return nil }
func (NopLedger) ListAttempts(context.Context, int, ...Outcome) ([]Attempt, error) {
	return nil, nil
}
