package database

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres error codes the repository layer translates into apperr
// kinds. 23505 is a unique-violation (duplicate code, duplicate
// assignment). 55P03 is what a NOWAIT row lock raises on contention.
// 40001/40P01 are serialization-failure and deadlock-detected, both
// possible when SKIP LOCKED scans race with concurrent writers.
const (
	PgUniqueViolation     = "23505"
	PgLockNotAvailable    = "55P03"
	PgSerializationFailed = "40001"
	PgDeadlockDetected    = "40P01"
)

// PgCode extracts the SQLSTATE code from err, or "" if err is not a
// *pgconn.PgError.
func PgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsContention reports whether err represents a row-lock or
// serialization conflict that the caller should surface as
// apperr.Conflict rather than apperr.Internal.
func IsContention(err error) bool {
	switch PgCode(err) {
	case PgLockNotAvailable, PgSerializationFailed, PgDeadlockDetected:
		return true
	default:
		return false
	}
}

// IsUniqueViolation reports whether err is a unique-constraint violation.
func IsUniqueViolation(err error) bool {
	return PgCode(err) == PgUniqueViolation
}
