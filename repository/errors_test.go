package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func pgErr(code string) error {
	return fmt.Errorf("exec: %w", &pgconn.PgError{Code: code, Message: "test"})
}

func TestPostgresErrorCodes(t *testing.T) {
	assert.True(t, isUndefinedTable(pgErr("42P01")))
	assert.False(t, isUndefinedTable(pgErr("42P07")))
	assert.False(t, isUndefinedTable(errors.New("42P01")))

	for _, code := range []string{"42P07", "42710", "23505"} {
		assert.True(t, isDuplicateRelation(pgErr(code)), code)
	}
	assert.False(t, isDuplicateRelation(pgErr("42501")))
	assert.False(t, isDuplicateRelation(nil))
}

func TestIsConnectivityError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"storage unavailable", fmt.Errorf("ping: %w", ErrStorageUnavailable), true},
		{"unsupported backend", ErrUnsupportedBackend, true},
		{"bad conn", driver.ErrBadConn, true},
		{"deadline", context.DeadlineExceeded, true},
		{"redis closed", redis.ErrClosed, true},
		{"dial error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, true},
		{"connection exception", pgErr("08006"), true},
		{"missing database", pgErr("3D000"), true},
		{"too many connections", pgErr("53300"), true},
		{"admin shutdown", pgErr("57P01"), true},
		{"redis loading", errors.New("LOADING Redis is loading the dataset in memory"), true},
		{"permission denied", pgErr("42501"), false},
		{"duplicate", pgErr("42P07"), false},
		{"counter not found", ErrCounterNotFound, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConnectivityError(tt.err))
		})
	}
}
