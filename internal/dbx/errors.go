package dbx

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fleetkeeper/internal/common"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres SQLSTATE codes treated as integrity conflicts.
const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// IsIntegrityViolation reports whether err is a uniqueness, foreign key or
// transaction conflict raised by Postgres.
func IsIntegrityViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgUniqueViolation, pgForeignKeyViolation, pgSerializationFailure, pgDeadlockDetected:
		return true
	}
	return false
}

// WrapError wraps a driver error as "db error", tagging integrity conflicts
// with common.ErrStorageIntegrity.
func WrapError(err error) error {
	if IsIntegrityViolation(err) {
		return fmt.Errorf("%w: %v", common.ErrStorageIntegrity, err)
	}
	return fmt.Errorf("db error: %w", err)
}
