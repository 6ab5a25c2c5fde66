package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/coupon-engine/internal/apperr"
	"github.com/fairyhunter13/coupon-engine/internal/codegen"
	"github.com/fairyhunter13/coupon-engine/internal/model"
	"github.com/fairyhunter13/coupon-engine/pkg/database"
)

// maxUniqueCodesFraction is the fraction of a pattern's combinatorial
// space a caller may request in one GenerateCodes call (spec §4.1/§9):
// requesting close to the theoretical maximum makes the generator's
// reject-and-redraw strategy prohibitively slow and signals a
// misconfigured pattern rather than a legitimate workload.
const maxUniqueCodesFraction = 0.80

// BookRepositoryInterface defines the data access the book service
// needs from BookRepository.
type BookRepositoryInterface interface {
	Insert(ctx context.Context, b *model.CouponBook) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.CouponBook, error)
	GetByIDForUpdate(ctx context.Context, tx database.TxQuerier, id uuid.UUID) (*model.CouponBook, error)
	List(ctx context.Context, page model.Page) ([]*model.CouponBook, int, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
	BulkInsertCodes(ctx context.Context, tx database.TxQuerier, bookID uuid.UUID, codes []string, batchSize int) (int, error)
	IncrementTotalCodes(ctx context.Context, tx database.TxQuerier, bookID uuid.UUID, delta int) (int, error)
}

// BookCouponRepositoryInterface defines the coupon-table reads the book
// service needs (listing coupons, computing status statistics).
type BookCouponRepositoryInterface interface {
	ListByBook(ctx context.Context, bookID uuid.UUID, page model.Page) ([]*model.Coupon, int, error)
	CountsByStatus(ctx context.Context, bookID uuid.UUID) (map[model.Status]int, error)
}

// BookService owns the catalog of coupon books and the bulk
// materialization of codes into the persistence plane.
type BookService struct {
	pool       TxBeginner
	bookRepo   BookRepositoryInterface
	couponRepo BookCouponRepositoryInterface
	batchSize  int
	maxUpload  int
	maxList    int
}

// NewBookService creates a BookService backed by a live pgx pool.
func NewBookService(pool *pgxpool.Pool, bookRepo BookRepositoryInterface, couponRepo BookCouponRepositoryInterface, batchSize, maxUpload, maxList int) *BookService {
	return NewBookServiceWithTxBeginner(pool, bookRepo, couponRepo, batchSize, maxUpload, maxList)
}

// NewBookServiceWithTxBeginner creates a BookService with a custom
// TxBeginner. Primarily used for testing.
func NewBookServiceWithTxBeginner(pool TxBeginner, bookRepo BookRepositoryInterface, couponRepo BookCouponRepositoryInterface, batchSize, maxUpload, maxList int) *BookService {
	return &BookService{
		pool:       pool,
		bookRepo:   bookRepo,
		couponRepo: couponRepo,
		batchSize:  batchSize,
		maxUpload:  maxUpload,
		maxList:    maxList,
	}
}

// CreateBook validates spec and persists a new coupon book.
func (s *BookService) CreateBook(ctx context.Context, spec *model.CreateBookSpec) (*model.CouponBook, error) {
	const op = "BookService.CreateBook"

	if strings.TrimSpace(spec.Name) == "" {
		return nil, apperr.Validation(op, "name is required")
	}
	if !spec.ValidFrom.Before(spec.ValidUntil) {
		return nil, apperr.Validation(op, "validFrom must be before validUntil")
	}
	if spec.MaxRedemptionsPerUser != nil && *spec.MaxRedemptionsPerUser <= 0 {
		return nil, apperr.Validation(op, "maxRedemptionsPerUser must be positive")
	}
	if spec.MaxAssignmentsPerUser != nil && *spec.MaxAssignmentsPerUser <= 0 {
		return nil, apperr.Validation(op, "maxAssignmentsPerUser must be positive")
	}
	if spec.CodePattern != nil {
		if spec.MaxCodes == nil {
			return nil, apperr.Validation(op, "maxCodes is required when codePattern is set")
		}
		if _, err := codegen.Parse(*spec.CodePattern); err != nil {
			return nil, apperr.Validation(op, "codePattern is invalid: "+err.Error())
		}
	}
	if spec.MaxCodes != nil && *spec.MaxCodes <= 0 {
		return nil, apperr.Validation(op, "maxCodes must be positive")
	}

	book := &model.CouponBook{
		Name:                  spec.Name,
		Description:           spec.Description,
		ValidFrom:             spec.ValidFrom,
		ValidUntil:            spec.ValidUntil,
		MaxRedemptionsPerUser: spec.MaxRedemptionsPerUser,
		MaxAssignmentsPerUser: spec.MaxAssignmentsPerUser,
		CodePattern:           spec.CodePattern,
		MaxCodes:              spec.MaxCodes,
		Metadata:              spec.Metadata,
	}
	if err := s.bookRepo.Insert(ctx, book); err != nil {
		return nil, err
	}
	return book, nil
}

// GetBook returns a book and its derived coupon-status statistics.
func (s *BookService) GetBook(ctx context.Context, id uuid.UUID) (*model.CouponBook, *model.BookStats, error) {
	book, err := s.bookRepo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	counts, err := s.couponRepo.CountsByStatus(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	stats := &model.BookStats{TotalCodes: book.TotalCodes}
	if book.Expired(time.Now()) {
		// Availability/assignment/lock states are all superseded by
		// expiry once the validity window has passed; only terminal
		// REDEEMED coupons keep their stored status (model.Coupon.EffectiveStatus).
		stats.Redeemed = counts[model.StatusRedeemed]
		stats.Expired = book.TotalCodes - stats.Redeemed
	} else {
		stats.Available = counts[model.StatusAvailable]
		stats.Assigned = counts[model.StatusAssigned]
		stats.Locked = counts[model.StatusLocked]
		stats.Redeemed = counts[model.StatusRedeemed]
	}
	return book, stats, nil
}

// ListBooks returns a page of books ordered by createdAt descending.
func (s *BookService) ListBooks(ctx context.Context, page model.Page) ([]*model.CouponBook, int, error) {
	return s.bookRepo.List(ctx, s.clampPage(page))
}

// ListCoupons returns a page of (code, status) pairs for bookID.
func (s *BookService) ListCoupons(ctx context.Context, bookID uuid.UUID, page model.Page) ([]*model.Coupon, int, error) {
	if _, err := s.bookRepo.GetByID(ctx, bookID); err != nil {
		return nil, 0, err
	}
	return s.couponRepo.ListByBook(ctx, bookID, s.clampPage(page))
}

// DeactivateBook transitions active true -> false. Idempotent rejection:
// fails apperr.Conflict if the book is already inactive.
func (s *BookService) DeactivateBook(ctx context.Context, id uuid.UUID) error {
	return s.bookRepo.Deactivate(ctx, id)
}

// UploadCodes validates and inserts caller-supplied codes for bookID.
// Preconditions: the book exists, is active, and has no codePattern.
func (s *BookService) UploadCodes(ctx context.Context, bookID uuid.UUID, codes []string) (*model.UploadCodesResult, error) {
	const op = "BookService.UploadCodes"

	if len(codes) > s.maxUpload {
		return nil, apperr.Validation(op, "too many codes in one call")
	}

	normalized := make([]string, 0, len(codes))
	invalid := 0
	for _, c := range codes {
		u := strings.ToUpper(strings.TrimSpace(c))
		if !model.ValidCouponCode(u) {
			invalid++
			continue
		}
		normalized = append(normalized, u)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Internal(op, "begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	book, err := s.bookRepo.GetByIDForUpdate(ctx, tx, bookID)
	if err != nil {
		return nil, err
	}
	if !book.Active {
		return nil, apperr.Business(op, "coupon book is not active")
	}
	if book.CodePattern != nil {
		return nil, apperr.Business(op, "coupon book uses generated codes, not uploaded codes")
	}

	inserted, err := s.bookRepo.BulkInsertCodes(ctx, tx, bookID, normalized, s.batchSize)
	if err != nil {
		return nil, err
	}
	newTotal, err := s.bookRepo.IncrementTotalCodes(ctx, tx, bookID, inserted)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Internal(op, "commit transaction", err)
	}

	return &model.UploadCodesResult{
		Uploaded:   inserted,
		Duplicates: len(normalized) - inserted,
		Invalid:    invalid,
		NewTotal:   newTotal,
		MaxCodes:   book.MaxCodes,
	}, nil
}

// GenerateCodes materializes server-generated codes for bookID.
// Preconditions: the book exists, is active, and has a codePattern.
// count is clamped to maxCodes - currentCount.
func (s *BookService) GenerateCodes(ctx context.Context, bookID uuid.UUID, count int) (*model.UploadCodesResult, error) {
	const op = "BookService.GenerateCodes"

	if count <= 0 {
		return nil, apperr.Validation(op, "count must be positive")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Internal(op, "begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	book, err := s.bookRepo.GetByIDForUpdate(ctx, tx, bookID)
	if err != nil {
		return nil, err
	}
	if !book.Active {
		return nil, apperr.Business(op, "coupon book is not active")
	}
	if book.CodePattern == nil {
		return nil, apperr.Business(op, "coupon book has no code pattern")
	}

	remaining := *book.MaxCodes - book.TotalCodes
	if remaining <= 0 {
		return nil, apperr.Business(op, "coupon book has reached its maximum code count")
	}
	want := count
	if want > remaining {
		want = remaining
	}

	pattern, err := codegen.Parse(*book.CodePattern)
	if err != nil {
		return nil, apperr.Internal(op, "parse stored code pattern", err)
	}
	if float64(want) > maxUniqueCodesFraction*float64(pattern.MaxUniqueCodes()) {
		return nil, apperr.Validation(op, "requested count exceeds 80% of the pattern's unique code space")
	}

	codes, err := pattern.Generate(want)
	if err != nil {
		return nil, apperr.Business(op, "pattern exhausted: "+err.Error())
	}

	inserted, err := s.bookRepo.BulkInsertCodes(ctx, tx, bookID, codes, s.batchSize)
	if err != nil {
		return nil, err
	}
	newTotal, err := s.bookRepo.IncrementTotalCodes(ctx, tx, bookID, inserted)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Internal(op, "commit transaction", err)
	}

	return &model.UploadCodesResult{
		Uploaded:   inserted,
		Duplicates: len(codes) - inserted,
		Invalid:    0,
		NewTotal:   newTotal,
		MaxCodes:   book.MaxCodes,
	}, nil
}

func (s *BookService) clampPage(page model.Page) model.Page {
	if page.Limit <= 0 || page.Limit > s.maxList {
		page.Limit = s.maxList
	}
	if page.Page < 1 {
		page.Page = 1
	}
	return page
}
