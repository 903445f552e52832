package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"pointledger/internal/model"
)

// SQLiteStore is the single-node journal used for local development.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the journal database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS point_journal (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	event_type TEXT NOT NULL CHECK(event_type IN ('create','debit','credit','replenish')),
	amount INTEGER NOT NULL,
	balance_after INTEGER NOT NULL,
	spent_after INTEGER NOT NULL,
	feature TEXT NOT NULL DEFAULT '',
	reference TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_point_journal_user_created ON point_journal(user_id, created_at DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Record(ctx context.Context, e model.LedgerEvent) error {
	if err := validate(e); err != nil {
		return err
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO point_journal(id, user_id, event_type, amount, balance_after, spent_after, feature, reference, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`,
		e.ID,
		e.UserID,
		string(e.Type),
		e.Amount,
		e.BalanceAfter,
		e.SpentAfter,
		e.Feature,
		e.Reference,
		created.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite journal record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListRecent(ctx context.Context, userID string, limit int) ([]model.LedgerEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, event_type, amount, balance_after, spent_after, feature, reference, created_at
FROM point_journal
WHERE user_id = ?
ORDER BY created_at DESC
LIMIT ?`, userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("sqlite journal list: %w", err)
	}
	defer rows.Close()

	var events []model.LedgerEvent
	for rows.Next() {
		var e model.LedgerEvent
		var eventType string
		var created int64
		if err := rows.Scan(&e.ID, &e.UserID, &eventType, &e.Amount, &e.BalanceAfter, &e.SpentAfter,
			&e.Feature, &e.Reference, &created); err != nil {
			return nil, err
		}
		e.Type = model.EventType(eventType)
		e.CreatedAt = time.Unix(0, created).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}
