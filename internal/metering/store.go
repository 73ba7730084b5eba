package metering

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alecgard/usagedash/internal/calendar"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for the daily token metrics table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// UpsertBatch writes rows in a single multi-row INSERT keyed on
// (date, token_type). Existing rows for the same key are overwritten, so
// re-running an aggregation for a day replaces its figures instead of
// duplicating them. The statement either writes every row or none. It is a
// no-op when rows is empty.
func (s *Store) UpsertBatch(ctx context.Context, rows []Row) error {
	rows = dedupe(rows)
	if len(rows) == 0 {
		return nil
	}

	const cols = 9 // number of columns per row (updated_at is server-generated)
	args := make([]any, 0, len(rows)*cols)
	values := make([]string, 0, len(rows))

	for i, r := range rows {
		base := i * cols
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, now())",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			r.Date.Time(),
			string(r.Category),
			r.InputTokens,
			r.OutputTokens,
			r.TotalTokens,
			r.Model,
			r.InputPrice,
			r.OutputPrice,
			r.TotalPrice,
		)
	}

	query := `INSERT INTO tokens
		(date, token_type, input_token_cnt, output_token_cnt, total_token_cnt,
		 gpt_model, input_price, output_price, total_price, updated_at)
		VALUES ` + strings.Join(values, ", ") + `
		ON CONFLICT (date, token_type) DO UPDATE SET
			input_token_cnt  = EXCLUDED.input_token_cnt,
			output_token_cnt = EXCLUDED.output_token_cnt,
			total_token_cnt  = EXCLUDED.total_token_cnt,
			gpt_model        = EXCLUDED.gpt_model,
			input_price      = EXCLUDED.input_price,
			output_price     = EXCLUDED.output_price,
			total_price      = EXCLUDED.total_price,
			updated_at       = EXCLUDED.updated_at`

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upserting token rows: %w", err)
	}
	return nil
}

// List returns rows matching q ordered by date, then category.
func (s *Store) List(ctx context.Context, q RowQuery) ([]Row, error) {
	where, args := buildWhereClause(q)

	query := `SELECT date, token_type, input_token_cnt, output_token_cnt, total_token_cnt,
		gpt_model, input_price, output_price, total_price, updated_at
	FROM tokens` + where + ` ORDER BY date ASC, token_type ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing token rows: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			r        Row
			date     time.Time
			category string
		)
		if err := rows.Scan(
			&date, &category, &r.InputTokens, &r.OutputTokens, &r.TotalTokens,
			&r.Model, &r.InputPrice, &r.OutputPrice, &r.TotalPrice, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning token row: %w", err)
		}
		r.Date = calendar.Of(date, time.UTC)
		r.Category = Category(category)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating token rows: %w", err)
	}

	return out, nil
}

// buildWhereClause constructs a WHERE clause and positional arguments from a
// RowQuery. The returned string starts with " WHERE" or is empty.
func buildWhereClause(q RowQuery) (string, []any) {
	var conditions []string
	var args []any

	if q.Category != "" {
		args = append(args, string(q.Category))
		conditions = append(conditions, fmt.Sprintf("token_type = $%d", len(args)))
	}
	if !q.Date.IsZero() {
		args = append(args, q.Date.Time())
		conditions = append(conditions, fmt.Sprintf("date = $%d", len(args)))
	} else {
		if !q.From.IsZero() {
			args = append(args, q.From.Time())
			conditions = append(conditions, fmt.Sprintf("date >= $%d", len(args)))
		}
		if !q.To.IsZero() {
			args = append(args, q.To.Time())
			conditions = append(conditions, fmt.Sprintf("date <= $%d", len(args)))
		}
	}

	if len(conditions) == 0 {
		return "", nil
	}

	return " WHERE " + strings.Join(conditions, " AND "), args
}

// dedupe keeps the last row for each (date, category). Postgres rejects an
// upsert that touches the same key twice in one statement.
func dedupe(rows []Row) []Row {
	type key struct {
		date calendar.Date
		cat  Category
	}
	idx := make(map[key]int, len(rows))
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		k := key{r.Date, r.Category}
		if i, ok := idx[k]; ok {
			out[i] = r
			continue
		}
		idx[k] = len(out)
		out = append(out, r)
	}
	return out
}
