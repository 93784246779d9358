package httpkit

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL error codes the repositories map to API errors.
const (
	pgUniqueViolation = "23505"
	pgUndefinedTable  = "42P01"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports a unique constraint violation, such as a saved
// scene name that is already taken.
func IsUniqueViolation(err error) bool { return pgCode(err) == pgUniqueViolation }

// IsUndefinedTable reports a query against a table that does not exist yet.
func IsUndefinedTable(err error) bool { return pgCode(err) == pgUndefinedTable }
