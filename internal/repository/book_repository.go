package repository

import (
	"context"
	"encoding/json"
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

// BookPoolInterface defines the database operations needed by
// BookRepository's non-transactional methods.
type BookPoolInterface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// BookRepository provides data access for coupon books using pgx.
type BookRepository struct {
	pool BookPoolInterface
}

// NewBookRepository creates a new BookRepository with the given pool.
func NewBookRepository(pool *pgxpool.Pool) *BookRepository {
	return &BookRepository{pool: pool}
}

// NewBookRepositoryWithPool creates a BookRepository with a custom pool
// interface. Primarily used for testing.
func NewBookRepositoryWithPool(pool BookPoolInterface) *BookRepository {
	return &BookRepository{pool: pool}
}

const bookColumns = `id, name, description, active, valid_from, valid_until,
	max_redemptions_per_user, max_assignments_per_user, code_pattern, max_codes,
	total_codes, metadata, created_at, updated_at`

// Insert creates a new coupon book. Returns apperr.Conflict on a
// (name, description) unique violation.
func (r *BookRepository) Insert(ctx context.Context, b *model.CouponBook) error {
	metaJSON, err := json.Marshal(b.Metadata)
	if err != nil {
		return apperr.Internal("BookRepository.Insert", "marshal metadata", err)
	}

	b.ID = uuid.New()
	query := fmt.Sprintf(`INSERT INTO coupon_books (%s)
		VALUES ($1, $2, $3, true, $4, $5, $6, $7, $8, $9, 0, $10, now(), now())
		RETURNING created_at, updated_at`, bookColumns)

	err = r.pool.QueryRow(ctx, query,
		b.ID, b.Name, b.Description, b.ValidFrom, b.ValidUntil,
		b.MaxRedemptionsPerUser, b.MaxAssignmentsPerUser, b.CodePattern, b.MaxCodes, metaJSON,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperr.Conflict("BookRepository.Insert", "a coupon book with this name and description already exists")
		}
		return apperr.Internal("BookRepository.Insert", "insert coupon book", err)
	}
	b.Active = true
	b.TotalCodes = 0
	return nil
}

// GetByID retrieves a coupon book by id. Returns apperr.ErrBookNotFound
// if no such book exists.
func (r *BookRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.CouponBook, error) {
	query := fmt.Sprintf(`SELECT %s FROM coupon_books WHERE id = $1`, bookColumns)
	return r.scanBook(r.pool.QueryRow(ctx, query, id))
}

func (r *BookRepository) scanBook(row pgx.Row) (*model.CouponBook, error) {
	var b model.CouponBook
	var metaJSON []byte
	err := row.Scan(
		&b.ID, &b.Name, &b.Description, &b.Active, &b.ValidFrom, &b.ValidUntil,
		&b.MaxRedemptionsPerUser, &b.MaxAssignmentsPerUser, &b.CodePattern, &b.MaxCodes,
		&b.TotalCodes, &metaJSON, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrBookNotFound
		}
		return nil, apperr.Internal("BookRepository.scanBook", "scan coupon book", err)
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &b.Metadata); err != nil {
			return nil, apperr.Internal("BookRepository.scanBook", "unmarshal metadata", err)
		}
	}
	return &b, nil
}

// List returns a page of coupon books ordered by createdAt descending,
// plus the total row count for pagination.
func (r *BookRepository) List(ctx context.Context, page model.Page) ([]*model.CouponBook, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM coupon_books`).Scan(&total); err != nil {
		return nil, 0, apperr.Internal("BookRepository.List", "count coupon books", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM coupon_books ORDER BY created_at DESC LIMIT $1 OFFSET $2`, bookColumns)
	rows, err := r.pool.Query(ctx, query, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, apperr.Internal("BookRepository.List", "list coupon books", err)
	}
	defer rows.Close()

	var books []*model.CouponBook
	for rows.Next() {
		b, err := r.scanBook(rows)
		if err != nil {
			return nil, 0, err
		}
		books = append(books, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Internal("BookRepository.List", "iterate coupon books", err)
	}
	return books, total, nil
}

// Deactivate flips active from true to false. Returns apperr.Conflict if
// the book is already inactive.
func (r *BookRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE coupon_books SET active = false, updated_at = now() WHERE id = $1 AND active = true`, id)
	if err != nil {
		return apperr.Internal("BookRepository.Deactivate", "deactivate coupon book", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM coupon_books WHERE id = $1)`, id).Scan(&exists); err != nil {
			return apperr.Internal("BookRepository.Deactivate", "check book existence", err)
		}
		if !exists {
			return apperr.ErrBookNotFound
		}
		return apperr.Conflict("BookRepository.Deactivate", "coupon book is already inactive")
	}
	return nil
}

// BulkInsertCodes inserts codes for bookID in batches of batchSize,
// conflict-ignoring on the unique code constraint, and returns the
// number of rows actually inserted. Callers must run this within the
// same transaction as IncrementTotalCodes so totalCodes never drifts
// from the persisted rows on partial failure.
func (r *BookRepository) BulkInsertCodes(ctx context.Context, tx database.TxQuerier, bookID uuid.UUID, codes []string, batchSize int) (int, error) {
	inserted := 0
	for start := 0; start < len(codes); start += batchSize {
		end := start + batchSize
		if end > len(codes) {
			end = len(codes)
		}
		chunk := codes[start:end]
		ids := make([]uuid.UUID, len(chunk))
		for i := range ids {
			ids[i] = uuid.New()
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO coupons (id, book_id, code, status, version, created_at, updated_at)
			SELECT unnest($1::uuid[]), $2, unnest($3::text[]), 'AVAILABLE', 1, now(), now()
			ON CONFLICT (code) DO NOTHING`,
			ids, bookID, chunk)
		if err != nil {
			return inserted, apperr.Internal("BookRepository.BulkInsertCodes", "bulk insert codes", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// IncrementTotalCodes adds delta to a book's totalCodes counter and
// returns the new total. Must run in the same transaction as the bulk
// insert it accounts for.
func (r *BookRepository) IncrementTotalCodes(ctx context.Context, tx database.TxQuerier, bookID uuid.UUID, delta int) (int, error) {
	var newTotal int
	err := tx.QueryRow(ctx,
		`UPDATE coupon_books SET total_codes = total_codes + $1, updated_at = now() WHERE id = $2 RETURNING total_codes`,
		delta, bookID).Scan(&newTotal)
	if err != nil {
		return 0, apperr.Internal("BookRepository.IncrementTotalCodes", "increment total codes", err)
	}
	return newTotal, nil
}

// GetByIDForUpdate reads a book with its row locked for the duration of
// tx, used when UploadCodes/GenerateCodes must serialize concurrent
// bulk inserts on the same book's totalCodes counter.
func (r *BookRepository) GetByIDForUpdate(ctx context.Context, tx database.TxQuerier, id uuid.UUID) (*model.CouponBook, error) {
	query := fmt.Sprintf(`SELECT %s FROM coupon_books WHERE id = $1 FOR UPDATE`, bookColumns)
	return r.scanBook(tx.QueryRow(ctx, query, id))
}
