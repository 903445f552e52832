// Package journal is the append-only history of committed point mutations.
// Entries arrive from the event bus and are keyed by event id, so
// redelivered events are recorded once.
package journal

import (
	"context"
	"errors"
	"fmt"

	"pointledger/internal/model"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Store defines persistence behaviour for the journal.
type Store interface {
	Record(ctx context.Context, event model.LedgerEvent) error
	ListRecent(ctx context.Context, userID string, limit int) ([]model.LedgerEvent, error)
	Close() error
}

func validate(event model.LedgerEvent) error {
	if event.ID == "" || event.UserID == "" {
		return errors.New("journal record requires event id and user id")
	}
	switch event.Type {
	case model.EventCreate, model.EventDebit, model.EventCredit, model.EventReplenish:
		return nil
	default:
		return fmt.Errorf("invalid event type %q", event.Type)
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
