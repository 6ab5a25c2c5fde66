// Package repository implements the persistence plane adapters: books,
// coupons, and coupon assignments over github.com/jackc/pgx/v5.
package repository

import (
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fairyhunter13/coupon-engine/internal/apperr"
)

// unmarshalMetadata decodes a jsonb metadata column into dst, wrapping
// any failure as apperr.Internal so callers never leak an encoding
// error type across the repository boundary.
func unmarshalMetadata(data []byte, dst *map[string]any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return apperr.Internal("repository.unmarshalMetadata", "unmarshal metadata", err)
	}
	return nil
}

// marshalMetadata encodes a metadata map for storage in a jsonb column.
// A nil map marshals to the JSON null literal, which Postgres accepts
// for a jsonb column.
func marshalMetadata(m map[string]any) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, apperr.Internal("repository.marshalMetadata", "marshal metadata", err)
	}
	return data, nil
}

// unwrapPg returns the *pgconn.PgError found anywhere in err's wrap
// chain, or err unchanged when there is none. The coupon and assignment
// repositories pass driver errors through it before classifying them
// with database.IsContention or database.IsUniqueViolation.
func unwrapPg(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr
	}
	return err
}
