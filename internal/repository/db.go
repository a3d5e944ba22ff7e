package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// dbtx is the querier shared by pooled and transactional repositories.
// Both *pgxpool.Pool and pgx.Tx satisfy it.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// uniqueViolation is the Postgres error code for unique constraint conflicts
const uniqueViolation = "23505"

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
