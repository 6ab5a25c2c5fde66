package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/coupon-engine/internal/apperr"
	"github.com/fairyhunter13/coupon-engine/internal/model"
	"github.com/fairyhunter13/coupon-engine/pkg/database"
)

// AssignmentPoolInterface defines the database operations needed by
// AssignmentRepository's non-transactional methods.
type AssignmentPoolInterface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// AssignmentRepository provides data access for the bindings between
// coupons and the users they are assigned to.
type AssignmentRepository struct {
	pool AssignmentPoolInterface
}

// NewAssignmentRepository creates a new AssignmentRepository with the
// given pool.
func NewAssignmentRepository(pool *pgxpool.Pool) *AssignmentRepository {
	return &AssignmentRepository{pool: pool}
}

// NewAssignmentRepositoryWithPool creates an AssignmentRepository with a
// custom pool interface. Primarily used for testing.
func NewAssignmentRepositoryWithPool(pool AssignmentPoolInterface) *AssignmentRepository {
	return &AssignmentRepository{pool: pool}
}

const assignmentColumns = `id, coupon_id, user_id, assigned_at, locked_at, lock_expires_at,
	redeemed_at, redemption_count, metadata`

func scanAssignment(row pgx.Row) (*model.CouponAssignment, error) {
	var a model.CouponAssignment
	var metaJSON []byte
	err := row.Scan(&a.ID, &a.CouponID, &a.UserID, &a.AssignedAt, &a.LockedAt, &a.LockExpiresAt,
		&a.RedeemedAt, &a.RedemptionCount, &metaJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrAssignmentNotFound
		}
		return nil, apperr.Internal("AssignmentRepository.scanAssignment", "scan assignment", err)
	}
	if len(metaJSON) > 0 {
		if err := unmarshalMetadata(metaJSON, &a.Metadata); err != nil {
			return nil, err
		}
	}
	return &a, nil
}

// Insert creates an assignment row binding couponID to userID. Returns
// apperr.Conflict on a (couponId, userId) unique violation — at most one
// assignment row may ever exist per pair (spec §3).
func (r *AssignmentRepository) Insert(ctx context.Context, tx database.TxQuerier, a *model.CouponAssignment) error {
	a.ID = uuid.New()
	metaJSON, err := marshalMetadata(a.Metadata)
	if err != nil {
		return err
	}

	err = tx.QueryRow(ctx, `INSERT INTO coupon_assignments (id, coupon_id, user_id, assigned_at, redemption_count, metadata)
		VALUES ($1, $2, $3, $4, 0, $5)
		RETURNING assigned_at`,
		a.ID, a.CouponID, a.UserID, a.AssignedAt, metaJSON).Scan(&a.AssignedAt)
	if err != nil {
		if database.IsUniqueViolation(unwrapPg(err)) {
			return apperr.Conflict("AssignmentRepository.Insert", "coupon is already assigned to this user")
		}
		return apperr.Internal("AssignmentRepository.Insert", "insert assignment", err)
	}
	a.RedemptionCount = 0
	return nil
}

// GetForUserNoWait locks the coupon row identified by code together with
// its assignment row for userID, failing immediately (apperr.Conflict)
// if either is already locked by a concurrent transaction. Returns
// apperr.ErrCouponNotFound if no assignment exists for that pair.
func (r *AssignmentRepository) GetForUserNoWait(ctx context.Context, tx database.TxQuerier, code, userID string) (*model.Coupon, *model.CouponAssignment, error) {
	query := fmt.Sprintf(`SELECT
		c.id, c.book_id, c.code, c.status, c.version, c.created_at, c.updated_at,
		%s
		FROM coupons c
		JOIN coupon_assignments a ON a.coupon_id = c.id
		WHERE c.code = $1 AND a.user_id = $2
		FOR UPDATE NOWAIT`, prefixAssignmentColumns())

	row := tx.QueryRow(ctx, query, code, userID)
	var c model.Coupon
	var a model.CouponAssignment
	var metaJSON []byte
	err := row.Scan(&c.ID, &c.BookID, &c.Code, &c.Status, &c.Version, &c.CreatedAt, &c.UpdatedAt,
		&a.ID, &a.CouponID, &a.UserID, &a.AssignedAt, &a.LockedAt, &a.LockExpiresAt,
		&a.RedeemedAt, &a.RedemptionCount, &metaJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, apperr.ErrCouponNotFound
		}
		if database.IsContention(unwrapPg(err)) {
			return nil, nil, apperr.Conflict("AssignmentRepository.GetForUserNoWait", "coupon is locked by another request")
		}
		return nil, nil, apperr.Internal("AssignmentRepository.GetForUserNoWait", "get coupon and assignment", err)
	}
	if len(metaJSON) > 0 {
		if err := unmarshalMetadata(metaJSON, &a.Metadata); err != nil {
			return nil, nil, err
		}
	}
	return &c, &a, nil
}

// GetByCouponAndUser reads an assignment without locking, used by the
// read-only GetStatus projection.
func (r *AssignmentRepository) GetByCouponAndUser(ctx context.Context, couponID uuid.UUID, userID string) (*model.CouponAssignment, error) {
	query := fmt.Sprintf(`SELECT %s FROM coupon_assignments WHERE coupon_id = $1 AND user_id = $2`, assignmentColumns)
	return scanAssignment(r.pool.QueryRow(ctx, query, couponID, userID))
}

// UpdateLock sets lockedAt/lockExpiresAt on an assignment already locked
// within tx.
func (r *AssignmentRepository) UpdateLock(ctx context.Context, tx database.TxQuerier, id uuid.UUID, lockedAt, lockExpiresAt time.Time) error {
	_, err := tx.Exec(ctx, `UPDATE coupon_assignments SET locked_at = $1, lock_expires_at = $2 WHERE id = $3`,
		lockedAt, lockExpiresAt, id)
	if err != nil {
		return apperr.Internal("AssignmentRepository.UpdateLock", "update lock fields", err)
	}
	return nil
}

// ClearLock nulls out lockedAt/lockExpiresAt on an assignment already
// locked within tx (Unlock, and Redeem regardless of prior lock state).
func (r *AssignmentRepository) ClearLock(ctx context.Context, tx database.TxQuerier, id uuid.UUID) error {
	_, err := tx.Exec(ctx, `UPDATE coupon_assignments SET locked_at = NULL, lock_expires_at = NULL WHERE id = $1`, id)
	if err != nil {
		return apperr.Internal("AssignmentRepository.ClearLock", "clear lock fields", err)
	}
	return nil
}

// UpdateRedemption records a successful redemption: bumps
// redemptionCount to newCount, stamps redeemedAt, clears any lock
// fields, and overwrites metadata with the caller-merged map.
func (r *AssignmentRepository) UpdateRedemption(ctx context.Context, tx database.TxQuerier, id uuid.UUID, newCount int, redeemedAt time.Time, metadata map[string]any) error {
	metaJSON, err := marshalMetadata(metadata)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `UPDATE coupon_assignments
		SET redemption_count = $1, redeemed_at = $2, locked_at = NULL, lock_expires_at = NULL, metadata = $3
		WHERE id = $4`,
		newCount, redeemedAt, metaJSON, id)
	if err != nil {
		return apperr.Internal("AssignmentRepository.UpdateRedemption", "update redemption", err)
	}
	return nil
}

// CountForUser counts every assignment row for userID within bookID,
// regardless of the owning coupon's current status: assignment rows are
// never deleted, so this naturally caps historical as well as current
// bindings (spec §9).
func (r *AssignmentRepository) CountForUser(ctx context.Context, bookID uuid.UUID, userID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM coupon_assignments a
		JOIN coupons c ON c.id = a.coupon_id
		WHERE c.book_id = $1 AND a.user_id = $2`, bookID, userID).Scan(&n)
	if err != nil {
		return 0, apperr.Internal("AssignmentRepository.CountForUser", "count assignments for user", err)
	}
	return n, nil
}

// ListForUser returns a page of userID's assignments, each joined with
// its coupon's code and status, ordered by assignedAt descending.
func (r *AssignmentRepository) ListForUser(ctx context.Context, userID string, page model.Page) ([]*model.UserCouponView, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM coupon_assignments WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, apperr.Internal("AssignmentRepository.ListForUser", "count user assignments", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT c.code, c.status, a.assigned_at, a.locked_at, a.lock_expires_at, a.redeemed_at, a.redemption_count
		FROM coupon_assignments a
		JOIN coupons c ON c.id = a.coupon_id
		WHERE a.user_id = $1
		ORDER BY a.assigned_at DESC
		LIMIT $2 OFFSET $3`, userID, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, apperr.Internal("AssignmentRepository.ListForUser", "list user assignments", err)
	}
	defer rows.Close()

	var views []*model.UserCouponView
	for rows.Next() {
		var v model.UserCouponView
		if err := rows.Scan(&v.Code, &v.Status, &v.AssignedAt, &v.LockedAt, &v.LockExpiresAt, &v.RedeemedAt, &v.RedemptionCount); err != nil {
			return nil, 0, apperr.Internal("AssignmentRepository.ListForUser", "scan user assignment", err)
		}
		views = append(views, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Internal("AssignmentRepository.ListForUser", "iterate user assignments", err)
	}
	return views, total, nil
}

func prefixAssignmentColumns() string {
	cols := []string{"id", "coupon_id", "user_id", "assigned_at", "locked_at", "lock_expires_at",
		"redeemed_at", "redemption_count", "metadata"}
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += "a." + c
	}
	return out
}
