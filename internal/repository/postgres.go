package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"pointledger/internal/model"
)

const pgUniqueViolation = "23505"

const accountColumns = `user_id, COALESCE(stripe_customer_id, ''), balance, spent_this_cycle,
	last_replenished_at, created_at, updated_at`

// PostgresStore keeps usage accounts in the usage_accounts table
// (see migrations/00001_create_usage_accounts.sql).
type PostgresStore struct {
	dbPool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{dbPool: db}
}

func (s *PostgresStore) Create(ctx context.Context, acct model.UsageAccount) error {
	query := `
		INSERT INTO usage_accounts (user_id, stripe_customer_id, balance, spent_this_cycle,
			last_replenished_at, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)`

	_, err := s.dbPool.Exec(ctx, query,
		acct.UserID,
		acct.StripeCustomerID,
		acct.Balance,
		acct.SpentThisCycle,
		acct.LastReplenishedAt,
		acct.CreatedAt,
		acct.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAccountExists
	}
	if err != nil {
		return fmt.Errorf("postgres create account: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (model.UsageAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM usage_accounts WHERE user_id = $1`
	acct, err := scanAccount(s.dbPool.QueryRow(ctx, query, userID))
	if err != nil {
		return model.UsageAccount{}, fmt.Errorf("postgres get account: %w", err)
	}
	return acct, nil
}

func (s *PostgresStore) FindByStripeCustomer(ctx context.Context, customerID string) (model.UsageAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM usage_accounts WHERE stripe_customer_id = $1`
	acct, err := scanAccount(s.dbPool.QueryRow(ctx, query, customerID))
	if err != nil {
		return model.UsageAccount{}, fmt.Errorf("postgres find by customer: %w", err)
	}
	return acct, nil
}

func (s *PostgresStore) LinkStripeCustomer(ctx context.Context, userID, customerID string, now time.Time) error {
	tag, err := s.dbPool.Exec(ctx,
		`UPDATE usage_accounts SET stripe_customer_id = $2, updated_at = $3 WHERE user_id = $1`,
		userID, customerID, now,
	)
	if isUniqueViolation(err) {
		return ErrAccountExists
	}
	if err != nil {
		return fmt.Errorf("postgres link customer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// Debit is a single conditional UPDATE; the balance filter and the decrement
// happen in the same statement so concurrent debits cannot both pass the check.
func (s *PostgresStore) Debit(ctx context.Context, userID string, amount int64, now time.Time) (model.UsageAccount, error) {
	query := `
		UPDATE usage_accounts
		SET balance = balance - $2, spent_this_cycle = spent_this_cycle + $2, updated_at = $3
		WHERE user_id = $1 AND balance >= $2
		RETURNING ` + accountColumns

	acct, err := scanAccount(s.dbPool.QueryRow(ctx, query, userID, amount, now))
	if errors.Is(err, ErrAccountNotFound) {
		// Either the account is missing or the balance filter rejected it.
		current, getErr := s.Get(ctx, userID)
		if getErr != nil {
			return model.UsageAccount{}, getErr
		}
		return current, ErrInsufficientBalance
	}
	if err != nil {
		return model.UsageAccount{}, fmt.Errorf("postgres debit: %w", err)
	}
	return acct, nil
}

func (s *PostgresStore) Replenish(ctx context.Context, userID string, g Grant) (model.UsageAccount, bool, error) {
	query := `
		UPDATE usage_accounts
		SET balance = GREATEST(balance, LEAST(balance + $2, $3)), spent_this_cycle = 0,
			last_replenished_at = $4, updated_at = $4
		WHERE user_id = $1 AND last_replenished_at <= $5
		RETURNING ` + accountColumns

	acct, err := scanAccount(s.dbPool.QueryRow(ctx, query, userID, g.Amount, g.Max, g.Now, g.Due))
	if errors.Is(err, ErrAccountNotFound) {
		current, getErr := s.Get(ctx, userID)
		if getErr != nil {
			return model.UsageAccount{}, false, getErr
		}
		return current, false, nil
	}
	if err != nil {
		return model.UsageAccount{}, false, fmt.Errorf("postgres replenish: %w", err)
	}
	return acct, true, nil
}

func (s *PostgresStore) Credit(ctx context.Context, userID string, g Grant) (model.UsageAccount, error) {
	query := `
		UPDATE usage_accounts
		SET balance = GREATEST(balance, LEAST(balance + $2, $3)),
			last_replenished_at = GREATEST(last_replenished_at, $4), updated_at = $4
		WHERE user_id = $1
		RETURNING ` + accountColumns

	acct, err := scanAccount(s.dbPool.QueryRow(ctx, query, userID, g.Amount, g.Max, g.Now))
	if err != nil {
		return model.UsageAccount{}, fmt.Errorf("postgres credit: %w", err)
	}
	return acct, nil
}

func scanAccount(row pgx.Row) (model.UsageAccount, error) {
	var a model.UsageAccount
	err := row.Scan(
		&a.UserID,
		&a.StripeCustomerID,
		&a.Balance,
		&a.SpentThisCycle,
		&a.LastReplenishedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.UsageAccount{}, ErrAccountNotFound
	}
	if err != nil {
		return model.UsageAccount{}, err
	}
	a.LastReplenishedAt = a.LastReplenishedAt.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
