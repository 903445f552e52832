package service

import (
	"context"
	"errors"

	"pointledger/internal/model"
	"pointledger/internal/repository"
)

// LedgerService defines the business operations for the point ledger.
// All transport layers (HTTP, gRPC, NATS) depend on this interface, not on the store.
type LedgerService interface {
	GetBalance(ctx context.Context, userID string) (*model.UsageAccount, error)
	TryDebit(ctx context.Context, req model.DebitRequest) (*model.DebitResult, error)
	Replenish(ctx context.Context, userID string) (*model.UsageAccount, error)
	Credit(ctx context.Context, req model.CreditRequest) (*model.UsageAccount, error)
	CreateAccount(ctx context.Context, req model.CreateAccountRequest) (*model.UsageAccount, error)
	LinkStripeCustomer(ctx context.Context, userID, customerID string) error
	FindByStripeCustomer(ctx context.Context, customerID string) (*model.UsageAccount, error)
	History(ctx context.Context, userID string, limit int) ([]model.LedgerEvent, error)
}

var (
	ErrAccountNotFound    = repository.ErrAccountNotFound
	ErrAccountExists      = repository.ErrAccountExists
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrInvalidAmount      = errors.New("amount must not be negative")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrAlreadyProcessed   = errors.New("request already processed (idempotency)")
	ErrUnknownFeature     = errors.New("unknown feature")
	ErrJournalDisabled    = errors.New("point journal is not configured")
)
