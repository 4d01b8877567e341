package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgSearch implements Searcher with a case-insensitive substring scan over
// company names, mirroring the board's list filter semantics.
type PgSearch struct {
	db *sql.DB
}

// NewPgSearch creates a PostgreSQL-backed searcher.
func NewPgSearch(db *sql.DB) *PgSearch {
	return &PgSearch{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgSearch) Healthy() bool {
	return true
}

// SearchIDs finds company IDs whose name contains the query text.
func (p *PgSearch) SearchIDs(q Query) ([]string, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}

	rows, err := p.db.QueryContext(context.Background(), `
		SELECT id FROM companies
		WHERE name ILIKE '%' || $1 || '%'
			AND ($2 = '' OR region = $2)
		ORDER BY position, created_at
		LIMIT $3
	`, q.Text, q.Region, limit)
	if err != nil {
		return nil, fmt.Errorf("pg search: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan search id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search ids: %w", err)
	}
	return ids, nil
}
