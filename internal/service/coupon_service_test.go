package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/coupon-engine/internal/apperr"
	"github.com/fairyhunter13/coupon-engine/internal/model"
	"github.com/fairyhunter13/coupon-engine/pkg/database"
)

// mockBookReader implements BookReader.
type mockBookReader struct {
	getByIDFn func(ctx context.Context, id uuid.UUID) (*model.CouponBook, error)
}

func (m *mockBookReader) GetByID(ctx context.Context, id uuid.UUID) (*model.CouponBook, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, nil
}

// mockCouponRepo implements CouponRepositoryInterface.
type mockCouponRepo struct {
	getByCodeWithBookFn        func(ctx context.Context, code string) (*model.Coupon, *model.CouponBook, error)
	pickRandomAvailableFn      func(ctx context.Context, tx database.TxQuerier, bookID uuid.UUID) (*model.Coupon, error)
	lockForUpdateNoWaitFn      func(ctx context.Context, tx database.TxQuerier, code string) (*model.Coupon, error)
	updateStatusFn             func(ctx context.Context, tx database.TxQuerier, id uuid.UUID, newStatus model.Status) error
	compareAndSetStatusFn      func(ctx context.Context, tx database.TxQuerier, id uuid.UUID, expectedVersion int, newStatus model.Status) (bool, error)
}

func (m *mockCouponRepo) GetByCodeWithBook(ctx context.Context, code string) (*model.Coupon, *model.CouponBook, error) {
	return m.getByCodeWithBookFn(ctx, code)
}
func (m *mockCouponRepo) PickRandomAvailableForUpdate(ctx context.Context, tx database.TxQuerier, bookID uuid.UUID) (*model.Coupon, error) {
	return m.pickRandomAvailableFn(ctx, tx, bookID)
}
func (m *mockCouponRepo) LockForUpdateNoWait(ctx context.Context, tx database.TxQuerier, code string) (*model.Coupon, error) {
	return m.lockForUpdateNoWaitFn(ctx, tx, code)
}
func (m *mockCouponRepo) UpdateStatus(ctx context.Context, tx database.TxQuerier, id uuid.UUID, newStatus model.Status) error {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, tx, id, newStatus)
	}
	return nil
}
func (m *mockCouponRepo) CompareAndSetStatus(ctx context.Context, tx database.TxQuerier, id uuid.UUID, expectedVersion int, newStatus model.Status) (bool, error) {
	if m.compareAndSetStatusFn != nil {
		return m.compareAndSetStatusFn(ctx, tx, id, expectedVersion, newStatus)
	}
	return true, nil
}

// mockAssignmentRepo implements AssignmentRepositoryInterface.
type mockAssignmentRepo struct {
	insertFn            func(ctx context.Context, tx database.TxQuerier, a *model.CouponAssignment) error
	getForUserNoWaitFn  func(ctx context.Context, tx database.TxQuerier, code, userID string) (*model.Coupon, *model.CouponAssignment, error)
	getByCouponAndUserFn func(ctx context.Context, couponID uuid.UUID, userID string) (*model.CouponAssignment, error)
	updateLockFn        func(ctx context.Context, tx database.TxQuerier, id uuid.UUID, lockedAt, lockExpiresAt time.Time) error
	clearLockFn         func(ctx context.Context, tx database.TxQuerier, id uuid.UUID) error
	updateRedemptionFn  func(ctx context.Context, tx database.TxQuerier, id uuid.UUID, newCount int, redeemedAt time.Time, metadata map[string]any) error
	countForUserFn      func(ctx context.Context, bookID uuid.UUID, userID string) (int, error)
	listForUserFn       func(ctx context.Context, userID string, page model.Page) ([]*model.UserCouponView, int, error)
}

func (m *mockAssignmentRepo) Insert(ctx context.Context, tx database.TxQuerier, a *model.CouponAssignment) error {
	if m.insertFn != nil {
		return m.insertFn(ctx, tx, a)
	}
	return nil
}
func (m *mockAssignmentRepo) GetForUserNoWait(ctx context.Context, tx database.TxQuerier, code, userID string) (*model.Coupon, *model.CouponAssignment, error) {
	return m.getForUserNoWaitFn(ctx, tx, code, userID)
}
func (m *mockAssignmentRepo) GetByCouponAndUser(ctx context.Context, couponID uuid.UUID, userID string) (*model.CouponAssignment, error) {
	return m.getByCouponAndUserFn(ctx, couponID, userID)
}
func (m *mockAssignmentRepo) UpdateLock(ctx context.Context, tx database.TxQuerier, id uuid.UUID, lockedAt, lockExpiresAt time.Time) error {
	if m.updateLockFn != nil {
		return m.updateLockFn(ctx, tx, id, lockedAt, lockExpiresAt)
	}
	return nil
}
func (m *mockAssignmentRepo) ClearLock(ctx context.Context, tx database.TxQuerier, id uuid.UUID) error {
	if m.clearLockFn != nil {
		return m.clearLockFn(ctx, tx, id)
	}
	return nil
}
func (m *mockAssignmentRepo) UpdateRedemption(ctx context.Context, tx database.TxQuerier, id uuid.UUID, newCount int, redeemedAt time.Time, metadata map[string]any) error {
	if m.updateRedemptionFn != nil {
		return m.updateRedemptionFn(ctx, tx, id, newCount, redeemedAt, metadata)
	}
	return nil
}
func (m *mockAssignmentRepo) CountForUser(ctx context.Context, bookID uuid.UUID, userID string) (int, error) {
	if m.countForUserFn != nil {
		return m.countForUserFn(ctx, bookID, userID)
	}
	return 0, nil
}
func (m *mockAssignmentRepo) ListForUser(ctx context.Context, userID string, page model.Page) ([]*model.UserCouponView, int, error) {
	return m.listForUserFn(ctx, userID, page)
}

// mockCache implements cache.Cache.
type mockCache struct {
	setDedupFn     func(ctx context.Context, feature, resource string, ttlSeconds int) (bool, error)
	acquireLockFn  func(ctx context.Context, feature, resource string, ttlSeconds int) (bool, error)
}

func (m *mockCache) SetDedup(ctx context.Context, feature, resource string, ttlSeconds int) (bool, error) {
	if m.setDedupFn != nil {
		return m.setDedupFn(ctx, feature, resource, ttlSeconds)
	}
	return true, nil
}
func (m *mockCache) HasDedup(ctx context.Context, feature, resource string) (bool, error) { return false, nil }
func (m *mockCache) ClearDedup(ctx context.Context, feature, resource string)             {}
func (m *mockCache) AcquireLock(ctx context.Context, feature, resource string, ttlSeconds int) (bool, error) {
	if m.acquireLockFn != nil {
		return m.acquireLockFn(ctx, feature, resource, ttlSeconds)
	}
	return true, nil
}
func (m *mockCache) ReleaseLock(ctx context.Context, feature, resource string) {}

// mockTx is a mock implementation of pgx.Tx for testing transactions.
type mockTx struct {
	commitFn   func(ctx context.Context) error
	rollbackFn func(ctx context.Context) error
}

func (m *mockTx) Begin(ctx context.Context) (pgx.Tx, error) { return nil, errors.New("nested transactions not supported") }
func (m *mockTx) Commit(ctx context.Context) error {
	if m.commitFn != nil {
		return m.commitFn(ctx)
	}
	return nil
}
func (m *mockTx) Rollback(ctx context.Context) error {
	if m.rollbackFn != nil {
		return m.rollbackFn(ctx)
	}
	return nil
}
func (m *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (m *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (m *mockTx) LargeObjects() pgx.LargeObjects                              { return pgx.LargeObjects{} }
func (m *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (m *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) { return nil, nil }
func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row        { return nil }
func (m *mockTx) Conn() *pgx.Conn                                                      { return nil }

// mockTxBeginner is a mock implementation of TxBeginner.
type mockTxBeginner struct {
	beginFn func(ctx context.Context) (pgx.Tx, error)
}

func (m *mockTxBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	if m.beginFn != nil {
		return m.beginFn(ctx)
	}
	return &mockTx{}, nil
}

func activeBook() *model.CouponBook {
	now := time.Now()
	return &model.CouponBook{ID: uuid.New(), Name: "Book", Active: true, ValidFrom: now.Add(-time.Hour), ValidUntil: now.Add(time.Hour)}
}

func TestCouponService_AssignRandom_Success(t *testing.T) {
	book := activeBook()
	coupon := &model.Coupon{ID: uuid.New(), BookID: book.ID, Code: "RAND01", Status: model.StatusAvailable, Version: 1}

	svc := NewCouponServiceWithTxBeginner(
		&mockTxBeginner{},
		&mockBookReader{getByIDFn: func(ctx context.Context, id uuid.UUID) (*model.CouponBook, error) { return book, nil }},
		&mockCouponRepo{
			pickRandomAvailableFn: func(ctx context.Context, tx database.TxQuerier, bookID uuid.UUID) (*model.Coupon, error) { return coupon, nil },
		},
		&mockAssignmentRepo{},
		&mockCache{},
		30, 600, 300, 60, 10, 100,
	)

	result, err := svc.AssignRandom(context.Background(), book.ID, "user-1")

	require.NoError(t, err)
	assert.Equal(t, "RAND01", result.Code)
}

func TestCouponService_AssignRandom_NoAvailableCoupon(t *testing.T) {
	book := activeBook()

	svc := NewCouponServiceWithTxBeginner(
		&mockTxBeginner{},
		&mockBookReader{getByIDFn: func(ctx context.Context, id uuid.UUID) (*model.CouponBook, error) { return book, nil }},
		&mockCouponRepo{
			pickRandomAvailableFn: func(ctx context.Context, tx database.TxQuerier, bookID uuid.UUID) (*model.Coupon, error) {
				return nil, apperr.ErrCouponNotFound
			},
		},
		&mockAssignmentRepo{},
		&mockCache{},
		30, 600, 300, 60, 10, 100,
	)

	_, err := svc.AssignRandom(context.Background(), book.ID, "user-1")

	require.Error(t, err)
	assert.Equal(t, apperr.KindBusiness, apperr.KindOf(err))
}

func TestCouponService_AssignRandom_InactiveBookIsBusinessError(t *testing.T) {
	book := activeBook()
	book.Active = false

	svc := NewCouponServiceWithTxBeginner(
		&mockTxBeginner{},
		&mockBookReader{getByIDFn: func(ctx context.Context, id uuid.UUID) (*model.CouponBook, error) { return book, nil }},
		&mockCouponRepo{},
		&mockAssignmentRepo{},
		&mockCache{},
		30, 600, 300, 60, 10, 100,
	)

	_, err := svc.AssignRandom(context.Background(), book.ID, "user-1")

	require.Error(t, err)
	assert.Equal(t, apperr.KindBusiness, apperr.KindOf(err))
}

func TestCouponService_AssignRandom_AssignmentLimitReached(t *testing.T) {
	book := activeBook()
	limit := 1
	book.MaxAssignmentsPerUser = &limit

	svc := NewCouponServiceWithTxBeginner(
		&mockTxBeginner{},
		&mockBookReader{getByIDFn: func(ctx context.Context, id uuid.UUID) (*model.CouponBook, error) { return book, nil }},
		&mockCouponRepo{},
		&mockAssignmentRepo{countForUserFn: func(ctx context.Context, bookID uuid.UUID, userID string) (int, error) { return 1, nil }},
		&mockCache{},
		30, 600, 300, 60, 10, 100,
	)

	_, err := svc.AssignRandom(context.Background(), book.ID, "user-1")

	require.Error(t, err)
	assert.Equal(t, apperr.KindBusiness, apperr.KindOf(err))
}

func TestCouponService_Lock_FailsWhenCacheLockHeld(t *testing.T) {
	svc := NewCouponServiceWithTxBeginner(
		&mockTxBeginner{},
		&mockBookReader{},
		&mockCouponRepo{},
		&mockAssignmentRepo{},
		&mockCache{acquireLockFn: func(ctx context.Context, feature, resource string, ttlSeconds int) (bool, error) { return false, nil }},
		30, 600, 300, 60, 10, 100,
	)

	_, err := svc.Lock(context.Background(), "CODE01", "user-1", 0)

	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestCouponService_Lock_RejectsOutOfRangeDuration(t *testing.T) {
	svc := NewCouponServiceWithTxBeginner(
		&mockTxBeginner{}, &mockBookReader{}, &mockCouponRepo{}, &mockAssignmentRepo{}, &mockCache{},
		30, 600, 300, 60, 10, 100,
	)

	_, err := svc.Lock(context.Background(), "CODE01", "user-1", 5)

	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestCouponService_Lock_Success(t *testing.T) {
	coupon := &model.Coupon{ID: uuid.New(), Code: "CODE01", Status: model.StatusAssigned, Version: 1}
	assignment := &model.CouponAssignment{ID: uuid.New()}

	svc := NewCouponServiceWithTxBeginner(
		&mockTxBeginner{},
		&mockBookReader{},
		&mockCouponRepo{},
		&mockAssignmentRepo{
			getForUserNoWaitFn: func(ctx context.Context, tx database.TxQuerier, code, userID string) (*model.Coupon, *model.CouponAssignment, error) {
				return coupon, assignment, nil
			},
		},
		&mockCache{},
		30, 600, 300, 60, 10, 100,
	)

	result, err := svc.Lock(context.Background(), "CODE01", "user-1", 60)

	require.NoError(t, err)
	assert.Equal(t, "CODE01", result.Code)
	assert.True(t, result.LockExpiresAt.After(result.LockedAt))
}

func TestCouponService_Redeem_DedupRejectsInFlightDuplicate(t *testing.T) {
	svc := NewCouponServiceWithTxBeginner(
		&mockTxBeginner{}, &mockBookReader{}, &mockCouponRepo{}, &mockAssignmentRepo{},
		&mockCache{setDedupFn: func(ctx context.Context, feature, resource string, ttlSeconds int) (bool, error) { return false, nil }},
		30, 600, 300, 60, 10, 100,
	)

	_, err := svc.Redeem(context.Background(), "CODE01", "user-1", nil)

	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestCouponService_Redeem_CASLossIsConflict(t *testing.T) {
	book := activeBook()
	coupon := &model.Coupon{ID: uuid.New(), BookID: book.ID, Code: "CODE01", Status: model.StatusAssigned, Version: 3}
	assignment := &model.CouponAssignment{ID: uuid.New(), RedemptionCount: 0}

	svc := NewCouponServiceWithTxBeginner(
		&mockTxBeginner{},
		&mockBookReader{getByIDFn: func(ctx context.Context, id uuid.UUID) (*model.CouponBook, error) { return book, nil }},
		&mockCouponRepo{
			compareAndSetStatusFn: func(ctx context.Context, tx database.TxQuerier, id uuid.UUID, expectedVersion int, newStatus model.Status) (bool, error) {
				return false, nil
			},
		},
		&mockAssignmentRepo{
			getForUserNoWaitFn: func(ctx context.Context, tx database.TxQuerier, code, userID string) (*model.Coupon, *model.CouponAssignment, error) {
				return coupon, assignment, nil
			},
		},
		&mockCache{},
		30, 600, 300, 60, 10, 100,
	)

	_, err := svc.Redeem(context.Background(), "CODE01", "user-1", nil)

	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestCouponService_Redeem_FullyRedeemedOnLastAllowedRedemption(t *testing.T) {
	book := activeBook()
	limit := 2
	book.MaxRedemptionsPerUser = &limit
	coupon := &model.Coupon{ID: uuid.New(), BookID: book.ID, Code: "CODE01", Status: model.StatusAssigned, Version: 3}
	assignment := &model.CouponAssignment{ID: uuid.New(), RedemptionCount: 1, Metadata: map[string]any{"existing": "v"}}

	var gotStatus model.Status
	svc := NewCouponServiceWithTxBeginner(
		&mockTxBeginner{},
		&mockBookReader{getByIDFn: func(ctx context.Context, id uuid.UUID) (*model.CouponBook, error) { return book, nil }},
		&mockCouponRepo{
			compareAndSetStatusFn: func(ctx context.Context, tx database.TxQuerier, id uuid.UUID, expectedVersion int, newStatus model.Status) (bool, error) {
				gotStatus = newStatus
				return true, nil
			},
		},
		&mockAssignmentRepo{
			getForUserNoWaitFn: func(ctx context.Context, tx database.TxQuerier, code, userID string) (*model.Coupon, *model.CouponAssignment, error) {
				return coupon, assignment, nil
			},
		},
		&mockCache{},
		30, 600, 300, 60, 10, 100,
	)

	result, err := svc.Redeem(context.Background(), "CODE01", "user-1", map[string]any{"channel": "app"})

	require.NoError(t, err)
	assert.True(t, result.FullyRedeemed)
	assert.Equal(t, 2, result.RedemptionCount)
	assert.Equal(t, model.StatusRedeemed, gotStatus)
	assert.Equal(t, 0, *result.Remaining)
}

func TestCouponService_Redeem_OverLimitIsBusinessError(t *testing.T) {
	book := activeBook()
	limit := 1
	book.MaxRedemptionsPerUser = &limit
	coupon := &model.Coupon{ID: uuid.New(), BookID: book.ID, Code: "CODE01", Status: model.StatusAssigned, Version: 1}
	assignment := &model.CouponAssignment{ID: uuid.New(), RedemptionCount: 1}

	svc := NewCouponServiceWithTxBeginner(
		&mockTxBeginner{},
		&mockBookReader{getByIDFn: func(ctx context.Context, id uuid.UUID) (*model.CouponBook, error) { return book, nil }},
		&mockCouponRepo{},
		&mockAssignmentRepo{
			getForUserNoWaitFn: func(ctx context.Context, tx database.TxQuerier, code, userID string) (*model.Coupon, *model.CouponAssignment, error) {
				return coupon, assignment, nil
			},
		},
		&mockCache{},
		30, 600, 300, 60, 10, 100,
	)

	_, err := svc.Redeem(context.Background(), "CODE01", "user-1", nil)

	require.Error(t, err)
	assert.Equal(t, apperr.KindBusiness, apperr.KindOf(err))
}

func TestCouponService_GetStatus_UnownedCouponIsNotOwned(t *testing.T) {
	book := activeBook()
	coupon := &model.Coupon{ID: uuid.New(), BookID: book.ID, Code: "CODE01", Status: model.StatusAvailable, Version: 1}

	svc := NewCouponServiceWithTxBeginner(
		&mockTxBeginner{}, &mockBookReader{}, &mockCouponRepo{
			getByCodeWithBookFn: func(ctx context.Context, code string) (*model.Coupon, *model.CouponBook, error) { return coupon, book, nil },
		},
		&mockAssignmentRepo{
			getByCouponAndUserFn: func(ctx context.Context, couponID uuid.UUID, userID string) (*model.CouponAssignment, error) {
				return nil, apperr.ErrAssignmentNotFound
			},
		},
		&mockCache{}, 30, 600, 300, 60, 10, 100,
	)

	view, err := svc.GetStatus(context.Background(), "CODE01", "user-1")

	require.NoError(t, err)
	assert.False(t, view.Owned)
}

func TestCouponService_GetStatus_ExpiredBookOverridesStoredStatus(t *testing.T) {
	book := activeBook()
	book.ValidUntil = time.Now().Add(-time.Hour)
	book.ValidFrom = time.Now().Add(-2 * time.Hour)
	coupon := &model.Coupon{ID: uuid.New(), BookID: book.ID, Code: "CODE01", Status: model.StatusAssigned, Version: 1}

	svc := NewCouponServiceWithTxBeginner(
		&mockTxBeginner{}, &mockBookReader{}, &mockCouponRepo{
			getByCodeWithBookFn: func(ctx context.Context, code string) (*model.Coupon, *model.CouponBook, error) { return coupon, book, nil },
		},
		&mockAssignmentRepo{
			getByCouponAndUserFn: func(ctx context.Context, couponID uuid.UUID, userID string) (*model.CouponAssignment, error) {
				return nil, apperr.ErrAssignmentNotFound
			},
		},
		&mockCache{}, 30, 600, 300, 60, 10, 100,
	)

	view, err := svc.GetStatus(context.Background(), "CODE01", "user-1")

	require.NoError(t, err)
	assert.Equal(t, model.StatusExpired, view.Status)
}

func TestMergeMetadata_IncomingOverwritesExisting(t *testing.T) {
	existing := map[string]any{"a": 1, "b": 2}
	incoming := map[string]any{"b": 3, "c": 4}

	merged := mergeMetadata(existing, incoming)

	assert.Equal(t, 1, merged["a"])
	assert.Equal(t, 3, merged["b"])
	assert.Equal(t, 4, merged["c"])
}
