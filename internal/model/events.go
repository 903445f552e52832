package model

import "time"

type EventType string

const (
	EventCreate    EventType = "create"
	EventDebit     EventType = "debit"
	EventCredit    EventType = "credit"
	EventReplenish EventType = "replenish"
)

// TopicTransactions carries every successful ledger mutation.
const TopicTransactions = "points.transactions"

// LedgerEvent describes one committed mutation of a usage account.
type LedgerEvent struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	UserID       string    `json:"user_id"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	SpentAfter   int64     `json:"spent_after"`
	Feature      string    `json:"feature,omitempty"`
	Reference    string    `json:"reference,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
