package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/coupon-engine/internal/apperr"
	"github.com/fairyhunter13/coupon-engine/internal/model"
	"github.com/fairyhunter13/coupon-engine/pkg/database"
)

// CouponPoolInterface defines the database operations needed by
// CouponRepository's non-transactional methods.
type CouponPoolInterface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// CouponRepository provides data access for individual coupons.
type CouponRepository struct {
	pool CouponPoolInterface
}

// NewCouponRepository creates a new CouponRepository with the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// NewCouponRepositoryWithPool creates a CouponRepository with a custom
// pool interface. Primarily used for testing.
func NewCouponRepositoryWithPool(pool CouponPoolInterface) *CouponRepository {
	return &CouponRepository{pool: pool}
}

const couponColumns = `id, book_id, code, status, version, created_at, updated_at`

func scanCoupon(row pgx.Row) (*model.Coupon, error) {
	var c model.Coupon
	err := row.Scan(&c.ID, &c.BookID, &c.Code, &c.Status, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrCouponNotFound
		}
		return nil, apperr.Internal("CouponRepository.scanCoupon", "scan coupon", err)
	}
	return &c, nil
}

// GetByCode retrieves a coupon by its globally unique code without
// locking. Returns apperr.ErrCouponNotFound if no such coupon exists.
func (r *CouponRepository) GetByCode(ctx context.Context, code string) (*model.Coupon, error) {
	query := fmt.Sprintf(`SELECT %s FROM coupons WHERE code = $1`, couponColumns)
	return scanCoupon(r.pool.QueryRow(ctx, query, code))
}

// GetByCodeWithBook retrieves a coupon and its owning book in one
// round trip, used by the operations that validate a book's rules
// before taking any row lock.
func (r *CouponRepository) GetByCodeWithBook(ctx context.Context, code string) (*model.Coupon, *model.CouponBook, error) {
	return r.getByCodeWithBook(ctx, code)
}

// PickRandomAvailableForUpdate selects one AVAILABLE coupon in bookID at
// random and locks it, skipping any row already locked by a concurrent
// transaction. Returns apperr.ErrCouponNotFound (translated by the
// caller into Business("no available coupon")) if none is free.
func (r *CouponRepository) PickRandomAvailableForUpdate(ctx context.Context, tx database.TxQuerier, bookID uuid.UUID) (*model.Coupon, error) {
	query := fmt.Sprintf(`SELECT %s FROM coupons
		WHERE book_id = $1 AND status = $2
		ORDER BY random()
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, couponColumns)
	c, err := scanCoupon(tx.QueryRow(ctx, query, bookID, model.StatusAvailable))
	if err != nil {
		return nil, err
	}
	return c, nil
}

// LockForUpdateNoWait locks a coupon row by code, failing immediately
// (apperr.Conflict) rather than blocking if another transaction already
// holds the lock.
func (r *CouponRepository) LockForUpdateNoWait(ctx context.Context, tx database.TxQuerier, code string) (*model.Coupon, error) {
	query := fmt.Sprintf(`SELECT %s FROM coupons WHERE code = $1 FOR UPDATE NOWAIT`, couponColumns)
	c, err := scanCoupon(tx.QueryRow(ctx, query, code))
	if err != nil {
		if database.IsContention(unwrapPg(err)) {
			return nil, apperr.Conflict("CouponRepository.LockForUpdateNoWait", "coupon is locked by another request")
		}
		return nil, err
	}
	return c, nil
}

// UpdateStatus transitions a coupon already locked within tx to
// newStatus, bumping version. Used where the caller already holds an
// exclusive row lock from a SKIP LOCKED or NOWAIT select, so no
// additional compare-and-set is needed to detect a concurrent writer.
func (r *CouponRepository) UpdateStatus(ctx context.Context, tx database.TxQuerier, id uuid.UUID, newStatus model.Status) error {
	_, err := tx.Exec(ctx,
		`UPDATE coupons SET status = $1, version = version + 1, updated_at = now() WHERE id = $2`,
		newStatus, id)
	if err != nil {
		return apperr.Internal("CouponRepository.UpdateStatus", "update coupon status", err)
	}
	return nil
}

// CompareAndSetStatus updates a coupon's status only if its version
// still matches expectedVersion, incrementing version on success. This
// is the optimistic-concurrency backstop layer D of redeem relies on:
// even if the row lock step above were ever bypassed, a losing writer
// still cannot silently overwrite a winner's update.
func (r *CouponRepository) CompareAndSetStatus(ctx context.Context, tx database.TxQuerier, id uuid.UUID, expectedVersion int, newStatus model.Status) (bool, error) {
	tag, err := tx.Exec(ctx,
		`UPDATE coupons SET status = $1, version = version + 1, updated_at = now() WHERE id = $2 AND version = $3`,
		newStatus, id, expectedVersion)
	if err != nil {
		return false, apperr.Internal("CouponRepository.CompareAndSetStatus", "compare-and-set coupon status", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListByBook returns a page of (code, status) pairs for bookID ordered
// by createdAt descending, plus the total row count.
func (r *CouponRepository) ListByBook(ctx context.Context, bookID uuid.UUID, page model.Page) ([]*model.Coupon, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM coupons WHERE book_id = $1`, bookID).Scan(&total); err != nil {
		return nil, 0, apperr.Internal("CouponRepository.ListByBook", "count coupons", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM coupons WHERE book_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, couponColumns)
	rows, err := r.pool.Query(ctx, query, bookID, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, apperr.Internal("CouponRepository.ListByBook", "list coupons", err)
	}
	defer rows.Close()

	var coupons []*model.Coupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, 0, err
		}
		coupons = append(coupons, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Internal("CouponRepository.ListByBook", "iterate coupons", err)
	}
	return coupons, total, nil
}

// CountsByStatus returns the number of coupons in bookID per stored
// status. EXPIRED is never stored (derived on read), so it never
// appears as a key here.
func (r *CouponRepository) CountsByStatus(ctx context.Context, bookID uuid.UUID) (map[model.Status]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, count(*) FROM coupons WHERE book_id = $1 GROUP BY status`, bookID)
	if err != nil {
		return nil, apperr.Internal("CouponRepository.CountsByStatus", "count coupons by status", err)
	}
	defer rows.Close()

	counts := make(map[model.Status]int)
	for rows.Next() {
		var s model.Status
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, apperr.Internal("CouponRepository.CountsByStatus", "scan status count", err)
		}
		counts[s] = n
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("CouponRepository.CountsByStatus", "iterate status counts", err)
	}
	return counts, nil
}

// getByCodeWithBook is the unexported implementation behind
// GetByCodeWithBook; split out so the exported method's doc comment
// stays next to a short signature.
func (r *CouponRepository) getByCodeWithBook(ctx context.Context, code string) (*model.Coupon, *model.CouponBook, error) {
	query := `SELECT
		c.id, c.book_id, c.code, c.status, c.version, c.created_at, c.updated_at,
		b.id, b.name, b.description, b.active, b.valid_from, b.valid_until,
		b.max_redemptions_per_user, b.max_assignments_per_user, b.code_pattern, b.max_codes,
		b.total_codes, b.metadata, b.created_at, b.updated_at
		FROM coupons c JOIN coupon_books b ON b.id = c.book_id WHERE c.code = $1`

	var c model.Coupon
	var b model.CouponBook
	var metaJSON []byte
	err := r.pool.QueryRow(ctx, query, code).Scan(
		&c.ID, &c.BookID, &c.Code, &c.Status, &c.Version, &c.CreatedAt, &c.UpdatedAt,
		&b.ID, &b.Name, &b.Description, &b.Active, &b.ValidFrom, &b.ValidUntil,
		&b.MaxRedemptionsPerUser, &b.MaxAssignmentsPerUser, &b.CodePattern, &b.MaxCodes,
		&b.TotalCodes, &metaJSON, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, apperr.ErrCouponNotFound
		}
		return nil, nil, apperr.Internal("CouponRepository.GetByCodeWithBook", "get coupon with book", err)
	}
	if len(metaJSON) > 0 {
		if err := unmarshalMetadata(metaJSON, &b.Metadata); err != nil {
			return nil, nil, err
		}
	}
	return &c, &b, nil
}
