package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"pointledger/internal/model"
)

// PostgresStore writes to the point_journal table created by the goose migrations.
type PostgresStore struct {
	dbPool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{dbPool: db}
}

func (s *PostgresStore) Record(ctx context.Context, e model.LedgerEvent) error {
	if err := validate(e); err != nil {
		return err
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	query := `
		INSERT INTO point_journal (id, user_id, event_type, amount, balance_after, spent_after,
			feature, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.dbPool.Exec(ctx, query,
		e.ID,
		e.UserID,
		string(e.Type),
		e.Amount,
		e.BalanceAfter,
		e.SpentAfter,
		e.Feature,
		e.Reference,
		created,
	)
	if err != nil {
		return fmt.Errorf("postgres journal record: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, userID string, limit int) ([]model.LedgerEvent, error) {
	rows, err := s.dbPool.Query(ctx, `
		SELECT id::text, user_id, event_type, amount, balance_after, spent_after, feature, reference, created_at
		FROM point_journal
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres journal list: %w", err)
	}
	defer rows.Close()

	var events []model.LedgerEvent
	for rows.Next() {
		var e model.LedgerEvent
		var eventType string
		if err := rows.Scan(&e.ID, &e.UserID, &eventType, &e.Amount, &e.BalanceAfter, &e.SpentAfter,
			&e.Feature, &e.Reference, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres journal scan: %w", err)
		}
		e.Type = model.EventType(eventType)
		e.CreatedAt = e.CreatedAt.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close is a no-op; the pool is owned by the caller.
func (s *PostgresStore) Close() error {
	return nil
}
