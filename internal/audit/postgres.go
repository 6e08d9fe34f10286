// File: internal/audit/postgres.go
package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const insertRecordSQL = `
INSERT INTO audit_records (id, search_query, child_username, source, recorded_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING`

// execer is the slice of the pgx pool the sink needs.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSink inserts records into the household dashboard database.
type PostgresSink struct {
	db execer
}

// NewPostgresSink connects a pool to the given database URL.
func NewPostgresSink(ctx context.Context, url string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("audit: connecting to database: %w", err)
	}
	return &PostgresSink{db: pool}, nil
}

// newPostgresSinkWithDB wires an existing executor, used by tests.
func newPostgresSinkWithDB(db execer) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Name() string { return "postgres" }

func (s *PostgresSink) Ship(ctx context.Context, rec Record) error {
	_, err := s.db.Exec(ctx, insertRecordSQL,
		rec.ID, rec.SearchQuery, rec.ChildUsername, rec.Source, rec.At)
	if err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}
	return nil
}

// Close releases the pool when the sink owns one.
func (s *PostgresSink) Close() {
	if pool, ok := s.db.(*pgxpool.Pool); ok {
		pool.Close()
	}
}
