package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresIdempotencyChecker is tier 2 of the idempotency check: it looks
// the key up in the persisted event log.
type PostgresIdempotencyChecker struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{db: db, timeout: 500 * time.Millisecond}
}

// IsDuplicate checks whether (eventType, key) was already persisted.
func (pic *PostgresIdempotencyChecker) IsDuplicate(eventType, idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pic.timeout)
	defer cancel()

	var exists int
	err := pic.db.QueryRowContext(ctx, `
		SELECT 1 FROM event_log.events
		WHERE event_type = $1 AND idempotency_key = $2
		LIMIT 1
	`, eventType, idempotencyKey).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecentKeys returns the composite keys of the last limit events, oldest
// first, for warming tier 1 on a cold start.
func (pic *PostgresIdempotencyChecker) RecentKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := pic.db.QueryContext(ctx, `
		SELECT event_type, idempotency_key FROM (
			SELECT sequence, event_type, idempotency_key FROM event_log.events
			ORDER BY sequence DESC
			LIMIT $1
		) recent
		ORDER BY sequence ASC
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var eventType, key string
		if err := rows.Scan(&eventType, &key); err != nil {
			return nil, err
		}
		keys = append(keys, eventType+":"+key)
	}
	return keys, rows.Err()
}
