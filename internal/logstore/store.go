// Package logstore reads conversation log records written by the chat
// front end.
package logstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Record is one logged conversation.
type Record struct {
	ConversationID string    `json:"thread_id"`
	Category       string    `json:"page"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store provides read access to the logs table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ListBetween returns every record with from <= created_at < to, oldest first.
func (s *Store) ListBetween(ctx context.Context, from, to time.Time) ([]Record, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("invalid log window: %s is not before %s", from, to)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT thread_id, COALESCE(page, ''), created_at
		 FROM logs
		 WHERE created_at >= $1 AND created_at < $2
		 ORDER BY created_at ASC`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("listing logs: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ConversationID, &r.Category, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning log row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating log rows: %w", err)
	}

	return out, nil
}
