package pg

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"idcheck.org/internal/validationlog"
)

const (
	pgErrUniqueViolation       = "23505"
	pgErrCheckViolation        = "23514"
	pgErrStringTooLong         = "22001"
	pgErrInvalidText           = "22P02"
	pgErrCharNotInRepertoire   = "22021"
	pgErrUntranslatableChar    = "22P05"
	pgErrSerializationFailure  = "40001"
	pgErrDeadlockDetected      = "40P01"
	pgErrTooManyConnections    = "53300"
	pgErrAdminShutdown         = "57P01"
	pgErrCannotConnectNow      = "57P03"
	pgClassConnectionException = "08"
)

// MapError translates database/sql and pgx failures into the validationlog
// error kinds. Errors that match no kind are wrapped unchanged.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if pgErr, ok := maybePgError(err); ok {
		switch {
		case pgErr.Code == pgErrSerializationFailure,
			pgErr.Code == pgErrDeadlockDetected,
			pgErr.Code == pgErrUniqueViolation:
			return fmt.Errorf("%w: %s", validationlog.ErrConcurrencyConflict, pgErr.Message)
		case pgErr.Code == pgErrCheckViolation,
			pgErr.Code == pgErrStringTooLong,
			pgErr.Code == pgErrInvalidText,
			pgErr.Code == pgErrCharNotInRepertoire,
			pgErr.Code == pgErrUntranslatableChar:
			return fmt.Errorf("%w: %s", validationlog.ErrInvalidInput, pgErr.Message)
		case strings.HasPrefix(pgErr.Code, pgClassConnectionException),
			pgErr.Code == pgErrTooManyConnections,
			pgErr.Code == pgErrAdminShutdown,
			pgErr.Code == pgErrCannotConnectNow:
			return fmt.Errorf("%w: %s", validationlog.ErrPersistenceUnavailable, pgErr.Message)
		}
		return fmt.Errorf("validation log store: %w", err)
	}
	var (
		connErr *pgconn.ConnectError
		netErr  net.Error
	)
	if errors.As(err, &connErr) || errors.As(err, &netErr) ||
		errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", validationlog.ErrPersistenceUnavailable, err)
	}
	return fmt.Errorf("validation log store: %w", err)
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
