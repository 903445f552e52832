package repository

import (
	"context"
	"errors"
	"time"

	"pointledger/internal/model"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountExists       = errors.New("account already exists")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Grant parameterises a balance increase. Due is only used by Replenish: the
// grant applies when last_replenished_at <= Due.
type Grant struct {
	Amount int64
	Max    int64
	Now    time.Time
	Due    time.Time
}

// Apply returns balance after the grant: capped at Max, but never below the
// current balance when Max was lowered under it.
func (g Grant) Apply(balance int64) int64 {
	return max(balance, min(balance+g.Amount, g.Max))
}

// Store persists usage accounts. Every mutating method is a single atomic
// conditional update on one account; implementations never read-modify-write.
type Store interface {
	Create(ctx context.Context, acct model.UsageAccount) error
	Get(ctx context.Context, userID string) (model.UsageAccount, error)
	FindByStripeCustomer(ctx context.Context, customerID string) (model.UsageAccount, error)
	LinkStripeCustomer(ctx context.Context, userID, customerID string, now time.Time) error

	// Debit subtracts amount from balance and adds it to spent_this_cycle
	// only if balance >= amount. On ErrInsufficientBalance the returned
	// account holds the current, unmodified state.
	Debit(ctx context.Context, userID string, amount int64, now time.Time) (model.UsageAccount, error)

	// Replenish applies the grant if the account is due and resets
	// spent_this_cycle. applied is false when the account was not due.
	Replenish(ctx context.Context, userID string, g Grant) (acct model.UsageAccount, applied bool, err error)

	// Credit adds the grant capped at g.Max and moves last_replenished_at
	// forward to g.Now.
	Credit(ctx context.Context, userID string, g Grant) (model.UsageAccount, error)
}
