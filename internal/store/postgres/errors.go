package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

func pgErrCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgErrCode(err) == "23505"
}

// isRetryableTxError reports serialization failures and deadlocks, which a
// caller may retry on a fresh transaction.
func isRetryableTxError(err error) bool {
	code := pgErrCode(err)
	return code == "40001" || code == "40P01"
}
