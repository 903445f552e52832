package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pointledger/internal/journal"
	"pointledger/internal/model"
	"pointledger/internal/repository"
)

// Clock abstracts time for replenishment decisions.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// PointLedger is the single authority over usage-account balances.
type PointLedger struct {
	store   repository.Store
	policy  Policy
	clock   Clock
	bus     repository.MessageBus
	idem    repository.IdempotencyGuard
	idemTTL time.Duration
	journal journal.Store
	log     zerolog.Logger
}

var _ LedgerService = (*PointLedger)(nil)

type Option func(*PointLedger)

func WithPolicy(p Policy) Option {
	return func(l *PointLedger) { l.policy = p }
}

func WithClock(c Clock) Option {
	return func(l *PointLedger) { l.clock = c }
}

func WithBus(b repository.MessageBus) Option {
	return func(l *PointLedger) { l.bus = b }
}

// WithIdempotency sets the guard used for debit and credit idempotency keys.
func WithIdempotency(g repository.IdempotencyGuard, ttl time.Duration) Option {
	return func(l *PointLedger) {
		l.idem = g
		l.idemTTL = ttl
	}
}

func WithJournal(j journal.Store) Option {
	return func(l *PointLedger) { l.journal = j }
}

func WithLogger(log zerolog.Logger) Option {
	return func(l *PointLedger) { l.log = log }
}

func NewPointLedger(store repository.Store, opts ...Option) *PointLedger {
	l := &PointLedger{
		store:   store,
		policy:  DefaultPolicy(),
		clock:   systemClock{},
		idem:    repository.NewMemoryIdempotency(),
		idemTTL: 24 * time.Hour,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.With().Str("component", "ledger").Logger()
	return l
}

func (l *PointLedger) Policy() Policy {
	return l.policy
}

func (l *PointLedger) now() time.Time {
	return l.clock.Now().UTC()
}

// GetBalance returns the account, replenishing it first when a cycle has elapsed.
func (l *PointLedger) GetBalance(ctx context.Context, userID string) (*model.UsageAccount, error) {
	if userID == "" {
		return nil, ErrInvalidRequest
	}
	acct, err := l.replenishIfDue(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// Replenish is idempotent: an account that is not due is returned unchanged.
func (l *PointLedger) Replenish(ctx context.Context, userID string) (*model.UsageAccount, error) {
	return l.GetBalance(ctx, userID)
}

func (l *PointLedger) replenishIfDue(ctx context.Context, userID string) (model.UsageAccount, error) {
	acct, err := l.store.Get(ctx, userID)
	if err != nil {
		return model.UsageAccount{}, l.classify(err)
	}

	now := l.now()
	if l.policy.State(acct, now) != CycleDue {
		return acct, nil
	}

	// The store re-checks due-ness atomically; a concurrent caller may have
	// replenished first, in which case applied is false.
	updated, applied, err := l.store.Replenish(ctx, userID, l.policy.replenishGrant(now))
	if err != nil {
		return model.UsageAccount{}, l.classify(err)
	}
	if applied {
		l.log.Info().
			Str("user_id", userID).
			Int64("balance", updated.Balance).
			Time("previous_replenish", acct.LastReplenishedAt).
			Msg("account replenished")
		l.publish(model.EventReplenish, updated, updated.Balance-acct.Balance, "", "")
	}
	return updated, nil
}

// TryDebit reserves points before a metered action runs. A rejected debit is
// reported through DebitResult.Success, not as an error.
func (l *PointLedger) TryDebit(ctx context.Context, req model.DebitRequest) (*model.DebitResult, error) {
	if req.UserID == "" {
		return nil, ErrInvalidRequest
	}
	if req.Amount < 0 {
		return nil, ErrInvalidAmount
	}

	var idemKey string
	if req.IdempotencyKey != "" {
		idemKey = "debit:" + req.UserID + ":" + req.IdempotencyKey
		first, err := l.idem.Acquire(ctx, idemKey, l.idemTTL)
		if err != nil {
			return nil, l.classify(err)
		}
		if !first {
			return nil, ErrAlreadyProcessed
		}
	}

	acct, err := l.replenishIfDue(ctx, req.UserID)
	if err != nil {
		l.release(ctx, idemKey)
		return nil, err
	}

	if req.Amount == 0 {
		return &model.DebitResult{Success: true, Account: &acct, CurrentBalance: acct.Balance}, nil
	}

	updated, err := l.store.Debit(ctx, req.UserID, req.Amount, l.now())
	if errors.Is(err, repository.ErrInsufficientBalance) {
		l.release(ctx, idemKey)
		l.log.Info().
			Str("user_id", req.UserID).
			Str("feature", req.Feature).
			Int64("balance", updated.Balance).
			Int64("required", req.Amount).
			Msg("debit rejected: insufficient balance")
		return &model.DebitResult{
			Success:        false,
			CurrentBalance: updated.Balance,
			RequiredAmount: req.Amount,
		}, nil
	}
	if errors.Is(err, repository.ErrAccountNotFound) {
		l.release(ctx, idemKey)
		return nil, err
	}
	if err != nil {
		// Outcome unknown: keep the idempotency key so a blind resend cannot
		// debit twice. Callers re-read the balance before retrying.
		return nil, l.classify(err)
	}

	l.publish(model.EventDebit, updated, req.Amount, req.Feature, req.IdempotencyKey)
	return &model.DebitResult{
		Success:        true,
		Account:        &updated,
		CurrentBalance: updated.Balance,
		RequiredAmount: req.Amount,
	}, nil
}

// Credit adds an external grant (e.g. a paid subscription charge) capped at
// MaxBalance and restarts the cycle. A repeated Reference is ErrAlreadyProcessed.
func (l *PointLedger) Credit(ctx context.Context, req model.CreditRequest) (*model.UsageAccount, error) {
	if req.UserID == "" {
		return nil, ErrInvalidRequest
	}
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var idemKey string
	if req.Reference != "" {
		idemKey = "credit:" + req.Reference
		first, err := l.idem.Acquire(ctx, idemKey, l.idemTTL)
		if err != nil {
			return nil, l.classify(err)
		}
		if !first {
			return nil, ErrAlreadyProcessed
		}
	}

	acct, err := l.store.Credit(ctx, req.UserID, l.policy.creditGrant(req.Amount, l.now()))
	if err != nil {
		// Billing providers redeliver on failure; let the redelivery through.
		l.release(ctx, idemKey)
		return nil, l.classify(err)
	}

	l.log.Info().
		Str("user_id", req.UserID).
		Int64("amount", req.Amount).
		Str("reference", req.Reference).
		Int64("balance", acct.Balance).
		Msg("account credited")
	l.publish(model.EventCredit, acct, req.Amount, "", req.Reference)
	return &acct, nil
}

// CreateAccount seeds a new account with the initial grant.
func (l *PointLedger) CreateAccount(ctx context.Context, req model.CreateAccountRequest) (*model.UsageAccount, error) {
	if req.UserID == "" {
		return nil, ErrInvalidRequest
	}
	now := l.now()
	acct := model.UsageAccount{
		UserID:            req.UserID,
		StripeCustomerID:  req.StripeCustomerID,
		Balance:           min(l.policy.InitialGrant, l.policy.MaxBalance),
		SpentThisCycle:    0,
		LastReplenishedAt: now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := l.store.Create(ctx, acct); err != nil {
		return nil, l.classify(err)
	}
	l.publish(model.EventCreate, acct, acct.Balance, "", "")
	return &acct, nil
}

func (l *PointLedger) LinkStripeCustomer(ctx context.Context, userID, customerID string) error {
	if userID == "" || customerID == "" {
		return ErrInvalidRequest
	}
	if err := l.store.LinkStripeCustomer(ctx, userID, customerID, l.now()); err != nil {
		return l.classify(err)
	}
	return nil
}

func (l *PointLedger) FindByStripeCustomer(ctx context.Context, customerID string) (*model.UsageAccount, error) {
	if customerID == "" {
		return nil, ErrInvalidRequest
	}
	acct, err := l.store.FindByStripeCustomer(ctx, customerID)
	if err != nil {
		return nil, l.classify(err)
	}
	return &acct, nil
}

// History lists the newest journal entries for the user.
func (l *PointLedger) History(ctx context.Context, userID string, limit int) ([]model.LedgerEvent, error) {
	if l.journal == nil {
		return nil, ErrJournalDisabled
	}
	if userID == "" {
		return nil, ErrInvalidRequest
	}
	events, err := l.journal.ListRecent(ctx, userID, limit)
	if err != nil {
		return nil, l.classify(err)
	}
	return events, nil
}

// classify keeps domain errors as they are and marks everything else as a
// storage failure, so callers can tell "rejected" from "unknown outcome".
func (l *PointLedger) classify(err error) error {
	switch {
	case errors.Is(err, repository.ErrAccountNotFound),
		errors.Is(err, repository.ErrAccountExists),
		errors.Is(err, repository.ErrInsufficientBalance):
		return err
	}
	l.log.Error().Err(err).Msg("storage operation failed")
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}

func (l *PointLedger) release(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := l.idem.Release(ctx, key); err != nil {
		l.log.Warn().Err(err).Str("key", key).Msg("failed to release idempotency key")
	}
}

func (l *PointLedger) publish(typ model.EventType, acct model.UsageAccount, amount int64, feature, reference string) {
	if l.bus == nil {
		return
	}
	event := model.LedgerEvent{
		ID:           uuid.NewString(),
		Type:         typ,
		UserID:       acct.UserID,
		Amount:       amount,
		BalanceAfter: acct.Balance,
		SpentAfter:   acct.SpentThisCycle,
		Feature:      feature,
		Reference:    reference,
		CreatedAt:    acct.UpdatedAt,
	}
	data, err := json.Marshal(event)
	if err != nil {
		l.log.Error().Err(err).Msg("failed to marshal ledger event")
		return
	}
	if err := l.bus.Publish(model.TopicTransactions, data); err != nil {
		l.log.Warn().Err(err).Str("event_type", string(typ)).Str("user_id", acct.UserID).Msg("failed to publish ledger event")
	}
}
