package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/coupon-engine/internal/apperr"
	"github.com/fairyhunter13/coupon-engine/internal/model"
)

func scanBookRow(b *model.CouponBook) func(dest ...any) error {
	return func(dest ...any) error {
		*(dest[0].(*uuid.UUID)) = b.ID
		*(dest[1].(*string)) = b.Name
		*(dest[2].(**string)) = b.Description
		*(dest[3].(*bool)) = b.Active
		*(dest[4].(*time.Time)) = b.ValidFrom
		*(dest[5].(*time.Time)) = b.ValidUntil
		*(dest[6].(**int)) = b.MaxRedemptionsPerUser
		*(dest[7].(**int)) = b.MaxAssignmentsPerUser
		*(dest[8].(**string)) = b.CodePattern
		*(dest[9].(**int)) = b.MaxCodes
		*(dest[10].(*int)) = b.TotalCodes
		*(dest[11].(*[]byte)) = nil
		*(dest[12].(*time.Time)) = b.CreatedAt
		*(dest[13].(*time.Time)) = b.UpdatedAt
		return nil
	}
}

func TestBookRepository_Insert_Success(t *testing.T) {
	now := time.Now()
	mock := &mockPool{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			assert.Contains(t, sql, "INSERT INTO coupon_books")
			return &mockRow{scanFn: func(dest ...any) error {
				*(dest[0].(*time.Time)) = now
				*(dest[1].(*time.Time)) = now
				return nil
			}}
		},
	}

	repo := NewBookRepositoryWithPool(mock)
	b := &model.CouponBook{Name: "Summer Sale", ValidFrom: now, ValidUntil: now.Add(24 * time.Hour)}
	err := repo.Insert(context.Background(), b)

	require.NoError(t, err)
	assert.True(t, b.Active)
	assert.Equal(t, 0, b.TotalCodes)
	assert.NotEqual(t, uuid.Nil, b.ID)
}

func TestBookRepository_Insert_DuplicateIsConflict(t *testing.T) {
	mock := &mockPool{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return &mockRow{scanFn: func(dest ...any) error {
				return &pgconn.PgError{Code: "23505", Message: "duplicate key"}
			}}
		},
	}

	repo := NewBookRepositoryWithPool(mock)
	b := &model.CouponBook{Name: "Summer Sale"}
	err := repo.Insert(context.Background(), b)

	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestBookRepository_GetByID_NotFound(t *testing.T) {
	mock := &mockPool{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return &mockRow{scanFn: func(dest ...any) error { return pgx.ErrNoRows }}
		},
	}

	repo := NewBookRepositoryWithPool(mock)
	b, err := repo.GetByID(context.Background(), uuid.New())

	require.Error(t, err)
	assert.Nil(t, b)
	assert.ErrorIs(t, err, apperr.ErrBookNotFound)
}

func TestBookRepository_Deactivate_AlreadyInactiveIsConflict(t *testing.T) {
	mock := &mockPool{
		execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		},
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return &mockRow{scanFn: func(dest ...any) error {
				*(dest[0].(*bool)) = true
				return nil
			}}
		},
	}

	repo := NewBookRepositoryWithPool(mock)
	err := repo.Deactivate(context.Background(), uuid.New())

	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestBookRepository_Deactivate_NotFound(t *testing.T) {
	mock := &mockPool{
		execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		},
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return &mockRow{scanFn: func(dest ...any) error {
				*(dest[0].(*bool)) = false
				return nil
			}}
		},
	}

	repo := NewBookRepositoryWithPool(mock)
	err := repo.Deactivate(context.Background(), uuid.New())

	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrBookNotFound)
}

func TestBookRepository_BulkInsertCodes_BatchesAndConflictIgnores(t *testing.T) {
	var batches [][]any
	mockTx := &mockTxQuerier{
		execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
			assert.Contains(t, sql, "ON CONFLICT (code) DO NOTHING")
			batches = append(batches, arguments)
			return pgconn.NewCommandTag("INSERT 0 2"), nil
		},
	}

	repo := NewBookRepositoryWithPool(&mockPool{})
	codes := []string{"A", "B", "C", "D", "E"}
	inserted, err := repo.BulkInsertCodes(context.Background(), mockTx, uuid.New(), codes, 2)

	require.NoError(t, err)
	assert.Equal(t, 3, len(batches), "5 codes at batch size 2 should produce 3 batches")
	assert.Equal(t, 6, inserted, "3 batches x 2 reported rows affected each")
}

func TestBookRepository_IncrementTotalCodes(t *testing.T) {
	mockTx := &mockTxQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			assert.Contains(t, sql, "total_codes = total_codes + $1")
			return &mockRow{scanFn: func(dest ...any) error {
				*(dest[0].(*int)) = 42
				return nil
			}}
		},
	}

	repo := NewBookRepositoryWithPool(&mockPool{})
	total, err := repo.IncrementTotalCodes(context.Background(), mockTx, uuid.New(), 10)

	require.NoError(t, err)
	assert.Equal(t, 42, total)
}

func TestBookRepository_GetByIDForUpdate_UsesForUpdate(t *testing.T) {
	now := time.Now()
	want := &model.CouponBook{ID: uuid.New(), Name: "Book", ValidFrom: now, ValidUntil: now.Add(time.Hour), CreatedAt: now, UpdatedAt: now}
	mockTx := &mockTxQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			assert.Contains(t, sql, "FOR UPDATE")
			return &mockRow{scanFn: scanBookRow(want)}
		},
	}

	repo := NewBookRepositoryWithPool(&mockPool{})
	got, err := repo.GetByIDForUpdate(context.Background(), mockTx, want.ID)

	require.NoError(t, err)
	assert.Equal(t, want.Name, got.Name)
}

func TestNewBookRepository_Production(t *testing.T) {
	repo := NewBookRepository(nil)
	require.NotNil(t, repo)
}
