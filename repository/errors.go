package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

// Storage error constants
var (
	// ErrCounterNotFound is returned by Next when no counter exists for the entity
	ErrCounterNotFound = errors.New("counter not found")

	// ErrStorageUnavailable means the store is unreachable or not yet initialized
	ErrStorageUnavailable = errors.New("counter storage unavailable")

	// ErrUnsupportedBackend means the configured storage has no atomic counter primitive
	ErrUnsupportedBackend = errors.New("unsupported counter backend")
)

// Postgres SQLSTATE codes the stores react to
const (
	pgUndefinedTable      = "42P01"
	pgDuplicateTable      = "42P07"
	pgDuplicateObject     = "42710"
	pgUniqueViolation     = "23505"
	pgInvalidCatalogName  = "3D000"
	pgTooManyConnections  = "53300"
	pgAdminShutdown       = "57P01"
	pgCrashShutdown       = "57P02"
	pgCannotConnectNow    = "57P03"
	pgConnectionException = "08"
)

func pgErrorCode(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, true
	}
	return "", false
}

// isUndefinedTable reports a missing relation, e.g. nextval on a sequence that was never created
func isUndefinedTable(err error) bool {
	code, ok := pgErrorCode(err)
	return ok && code == pgUndefinedTable
}

// isDuplicateRelation reports the loser of a concurrent CREATE: either the relation already exists
// or the catalog unique index rejected the second insert.
func isDuplicateRelation(err error) bool {
	code, ok := pgErrorCode(err)
	if !ok {
		return false
	}
	switch code {
	case pgDuplicateTable, pgDuplicateObject, pgUniqueViolation:
		return true
	}
	return false
}

// IsConnectivityError reports whether err means the storage itself is unreachable or not ready,
// as opposed to a failure specific to one entity.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrUnsupportedBackend) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, redis.ErrClosed) {
		return true
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	if code, ok := pgErrorCode(err); ok {
		switch {
		case strings.HasPrefix(code, pgConnectionException):
			return true
		case code == pgInvalidCatalogName, code == pgTooManyConnections,
			code == pgAdminShutdown, code == pgCrashShutdown, code == pgCannotConnectNow:
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// redis replies LOADING while the dataset is still being read from disk
	if strings.HasPrefix(err.Error(), "LOADING") {
		return true
	}
	return false
}
