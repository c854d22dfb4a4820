package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/dotlist-notify/internal/store"
)

// PostgreSQL error codes
const (
	// uniqueViolationCode is the PostgreSQL error code for unique constraint violations
	uniqueViolationCode = "23505"

	// foreignKeyViolationCode is the PostgreSQL error code for foreign key violations
	foreignKeyViolationCode = "23503"

	// undefinedTableCode is raised when a query references a missing relation,
	// typically because migrations have not been applied
	undefinedTableCode = "42P01"

	// connection exception class (08xxx) and operator intervention (57xxx)
	connectionExceptionClass  = "08"
	operatorInterventionClass = "57"
)

// MapError maps a database error to the store error taxonomy, wrapping the
// original error to preserve context.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == uniqueViolationCode:
			return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
		case pgErr.Code == foreignKeyViolationCode:
			return fmt.Errorf("%w: foreign key violation (%s): %v",
				store.ErrInvalidEntity, pgErr.ConstraintName, err)
		case pgErr.Code == undefinedTableCode:
			return fmt.Errorf("%w: schema not migrated: %v", store.ErrUnavailable, err)
		case hasClass(pgErr.Code, connectionExceptionClass),
			hasClass(pgErr.Code, operatorInterventionClass):
			return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
		return err
	}

	if IsConnectionError(err) {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	return err
}

// IsConnectionError reports whether err means the server could not be reached
// or the connection broke before the statement was sent.
func IsConnectionError(err error) bool {
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}

func hasClass(code, class string) bool {
	return len(code) == 5 && code[:2] == class
}
