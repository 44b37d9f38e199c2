package docstore

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"loanflow/internal/loan"
)

// pgInsufficientPrivilege is the SQLSTATE for a denied grant or row policy.
const pgInsufficientPrivilege = "42501"

// mapError marks access-rule failures with loan.ErrPermissionDenied and
// leaves everything else untouched.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgInsufficientPrivilege {
		return fmt.Errorf("%w: %s", loan.ErrPermissionDenied, pgErr.Message)
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code {
		case sqlite3.ErrPerm, sqlite3.ErrAuth, sqlite3.ErrReadonly:
			return fmt.Errorf("%w: %v", loan.ErrPermissionDenied, liteErr)
		}
	}
	return err
}
