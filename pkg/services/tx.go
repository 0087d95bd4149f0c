package services

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// Queryer is the sqlx surface the services run on. Both *sqlx.DB and
// *sqlx.Tx satisfy it, so a service can be rebound with WithTx when several
// writes must commit together.
type Queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
