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

	"accessgate.org/internal/auth"
)

var (
	// ErrSerializationFailure means the transaction lost a conflict and may be
	// rerun from the start. Nothing in this package reruns it implicitly.
	ErrSerializationFailure = errors.New("pg: serialization failure")
	// ErrIntegrityViolation covers unique, foreign key, not-null and check violations.
	ErrIntegrityViolation = errors.New("pg: integrity violation")
	// ErrDatabaseUnavailable means the server could not be reached or refused work.
	ErrDatabaseUnavailable = errors.New("pg: database unavailable")
	// ErrNotFound wraps auth.ErrNotFound so the resolver and handlers share one check.
	ErrNotFound = fmt.Errorf("pg: %w", auth.ErrNotFound)
)

const (
	pgErrSerializationFailure = "40001"
	pgErrDeadlockDetected     = "40P01"
	pgErrUniqueViolation      = "23505"
	pgErrForeignKeyViolation  = "23503"
	pgErrNotNullViolation     = "23502"
	pgErrCheckViolation       = "23514"
	pgErrTooManyConnections   = "53300"
	pgErrAdminShutdown        = "57P01"
	pgErrCrashShutdown        = "57P02"
	pgErrCannotConnectNow     = "57P03"
)

// Classify maps driver errors onto the package sentinels. The original error
// stays in the chain for logging. Unknown errors are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSerializationFailure) || errors.Is(err, ErrIntegrityViolation) ||
		errors.Is(err, ErrDatabaseUnavailable) || errors.Is(err, ErrNotFound) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if pgErr, ok := maybePgError(err); ok {
		switch {
		case pgErr.Code == pgErrSerializationFailure || pgErr.Code == pgErrDeadlockDetected:
			return wrap(ErrSerializationFailure, err)
		case pgErr.Code == pgErrUniqueViolation, pgErr.Code == pgErrForeignKeyViolation,
			pgErr.Code == pgErrNotNullViolation, pgErr.Code == pgErrCheckViolation:
			return wrap(ErrIntegrityViolation, err)
		case strings.HasPrefix(pgErr.Code, "08"),
			pgErr.Code == pgErrTooManyConnections,
			pgErr.Code == pgErrAdminShutdown,
			pgErr.Code == pgErrCrashShutdown,
			pgErr.Code == pgErrCannotConnectNow:
			return wrap(ErrDatabaseUnavailable, err)
		}
		return err
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return wrap(ErrDatabaseUnavailable, err)
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return wrap(ErrDatabaseUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return wrap(ErrDatabaseUnavailable, err)
	}
	return err
}

// Retryable reports whether rerunning the whole transaction may succeed.
func Retryable(err error) bool {
	return errors.Is(Classify(err), ErrSerializationFailure)
}

func wrap(sentinel, cause error) error {
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return cause
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
