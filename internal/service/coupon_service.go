// Package service implements the book and coupon lifecycle engines: the
// concurrency-controlled data plane that materializes coupon codes,
// assigns them to users, holds short-lived checkout reservations, and
// redeems them exactly the agreed number of times under concurrent
// access.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/coupon-engine/internal/apperr"
	"github.com/fairyhunter13/coupon-engine/internal/cache"
	"github.com/fairyhunter13/coupon-engine/internal/model"
	"github.com/fairyhunter13/coupon-engine/pkg/ctxkey"
	"github.com/fairyhunter13/coupon-engine/pkg/database"
)

const (
	featureCouponLock   = "coupon-lock"
	featureCouponRedeem = "coupon-redeem"
)

// TxBeginner starts a transaction. Satisfied by *pgxpool.Pool; a thin
// seam so tests can supply a fake.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// BookReader is the subset of BookRepository the coupon service needs
// to validate a book's rules before mutating one of its coupons.
type BookReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.CouponBook, error)
}

// CouponRepositoryInterface defines the data access CouponService needs
// from CouponRepository.
type CouponRepositoryInterface interface {
	GetByCodeWithBook(ctx context.Context, code string) (*model.Coupon, *model.CouponBook, error)
	PickRandomAvailableForUpdate(ctx context.Context, tx database.TxQuerier, bookID uuid.UUID) (*model.Coupon, error)
	LockForUpdateNoWait(ctx context.Context, tx database.TxQuerier, code string) (*model.Coupon, error)
	UpdateStatus(ctx context.Context, tx database.TxQuerier, id uuid.UUID, newStatus model.Status) error
	CompareAndSetStatus(ctx context.Context, tx database.TxQuerier, id uuid.UUID, expectedVersion int, newStatus model.Status) (bool, error)
}

// AssignmentRepositoryInterface defines the data access CouponService
// needs from AssignmentRepository.
type AssignmentRepositoryInterface interface {
	Insert(ctx context.Context, tx database.TxQuerier, a *model.CouponAssignment) error
	GetForUserNoWait(ctx context.Context, tx database.TxQuerier, code, userID string) (*model.Coupon, *model.CouponAssignment, error)
	GetByCouponAndUser(ctx context.Context, couponID uuid.UUID, userID string) (*model.CouponAssignment, error)
	UpdateLock(ctx context.Context, tx database.TxQuerier, id uuid.UUID, lockedAt, lockExpiresAt time.Time) error
	ClearLock(ctx context.Context, tx database.TxQuerier, id uuid.UUID) error
	UpdateRedemption(ctx context.Context, tx database.TxQuerier, id uuid.UUID, newCount int, redeemedAt time.Time, metadata map[string]any) error
	CountForUser(ctx context.Context, bookID uuid.UUID, userID string) (int, error)
	ListForUser(ctx context.Context, userID string, page model.Page) ([]*model.UserCouponView, int, error)
}

// CouponService implements assignment, reservation, and redemption of
// individual coupons, coordinating the cache plane (short-circuit
// concurrency control) and the persistence plane (authoritative state
// transition) to provide at-most-one-winner semantics under
// concurrency (spec §4.5).
type CouponService struct {
	pool           TxBeginner
	books          BookReader
	coupons        CouponRepositoryInterface
	assignments    AssignmentRepositoryInterface
	cache          cache.Cache
	minLockSeconds int
	maxLockSeconds int
	defaultLockS   int
	redeemDedupTTL int
	redeemLockTTL  int
	maxListLimit   int
}

// NewCouponService creates a CouponService backed by a live pgx pool.
func NewCouponService(pool *pgxpool.Pool, books BookReader, coupons CouponRepositoryInterface, assignments AssignmentRepositoryInterface, c cache.Cache, minLockS, maxLockS, defaultLockS, redeemDedupTTL, redeemLockTTL, maxListLimit int) *CouponService {
	return NewCouponServiceWithTxBeginner(pool, books, coupons, assignments, c, minLockS, maxLockS, defaultLockS, redeemDedupTTL, redeemLockTTL, maxListLimit)
}

// NewCouponServiceWithTxBeginner creates a CouponService with a custom
// TxBeginner. Primarily used for testing.
func NewCouponServiceWithTxBeginner(pool TxBeginner, books BookReader, coupons CouponRepositoryInterface, assignments AssignmentRepositoryInterface, c cache.Cache, minLockS, maxLockS, defaultLockS, redeemDedupTTL, redeemLockTTL, maxListLimit int) *CouponService {
	return &CouponService{
		pool:           pool,
		books:          books,
		coupons:        coupons,
		assignments:    assignments,
		cache:          c,
		minLockSeconds: minLockS,
		maxLockSeconds: maxLockS,
		defaultLockS:   defaultLockS,
		redeemDedupTTL: redeemDedupTTL,
		redeemLockTTL:  redeemLockTTL,
		maxListLimit:   maxListLimit,
	}
}

// validateBookWindow enforces the book active/date-range preconditions
// shared by AssignRandom and AssignSpecific (spec §4.5.2/§4.5.3 step 1).
// Book existence is checked by the caller when it loads the book.
func (s *CouponService) validateBookWindow(op string, book *model.CouponBook) error {
	now := time.Now()
	if !book.Active {
		return apperr.Business(op, "coupon book is not active")
	}
	if now.Before(book.ValidFrom) || now.After(book.ValidUntil) {
		return apperr.Business(op, "coupon book is outside its validity window")
	}
	return nil
}

// checkAssignmentLimit enforces maxAssignmentsPerUser (spec §9: counts
// rows regardless of status, never filtered).
func (s *CouponService) checkAssignmentLimit(ctx context.Context, op string, book *model.CouponBook, bookID uuid.UUID, userID string) error {
	if book.MaxAssignmentsPerUser == nil {
		return nil
	}
	n, err := s.assignments.CountForUser(ctx, bookID, userID)
	if err != nil {
		return err
	}
	if n >= *book.MaxAssignmentsPerUser {
		return apperr.Business(op, "user has reached the maximum assignments for this book")
	}
	return nil
}

// AssignRandom picks one available coupon from bookID at random and
// binds it to userID (spec §4.5.2).
func (s *CouponService) AssignRandom(ctx context.Context, bookID uuid.UUID, userID string) (*model.AssignResult, error) {
	const op = "CouponService.AssignRandom"

	book, err := s.books.GetByID(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if err := s.validateBookWindow(op, book); err != nil {
		return nil, err
	}
	if err := s.checkAssignmentLimit(ctx, op, book, bookID, userID); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Internal(op, "begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	coupon, err := s.coupons.PickRandomAvailableForUpdate(ctx, tx, bookID)
	if err != nil {
		if errors.Is(err, apperr.ErrCouponNotFound) {
			return nil, apperr.Business(op, "no available coupon in this book")
		}
		return nil, err
	}
	if err := s.coupons.UpdateStatus(ctx, tx, coupon.ID, model.StatusAssigned); err != nil {
		return nil, err
	}

	assignedAt := time.Now()
	assignment := &model.CouponAssignment{CouponID: coupon.ID, UserID: userID, AssignedAt: assignedAt}
	if err := s.assignments.Insert(ctx, tx, assignment); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Internal(op, "commit transaction", err)
	}

	log.Info().Str("correlation_id", ctxkey.CorrelationID(ctx)).Str("book_id", bookID.String()).Str("coupon_code", coupon.Code).Str("user_id", userID).Msg("coupon assigned at random")
	return &model.AssignResult{Code: coupon.Code, AssignedAt: assignment.AssignedAt}, nil
}

// AssignSpecific binds a caller-named coupon code to userID (spec
// §4.5.3).
func (s *CouponService) AssignSpecific(ctx context.Context, code, userID string) (*model.AssignResult, error) {
	const op = "CouponService.AssignSpecific"

	_, book, err := s.coupons.GetByCodeWithBook(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := s.validateBookWindow(op, book); err != nil {
		return nil, err
	}
	if err := s.checkAssignmentLimit(ctx, op, book, book.ID, userID); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Internal(op, "begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	coupon, err := s.coupons.LockForUpdateNoWait(ctx, tx, code)
	if err != nil {
		return nil, err
	}
	if coupon.Status != model.StatusAvailable {
		return nil, apperr.Business(op, "coupon is not available")
	}
	if err := s.coupons.UpdateStatus(ctx, tx, coupon.ID, model.StatusAssigned); err != nil {
		return nil, err
	}

	assignedAt := time.Now()
	assignment := &model.CouponAssignment{CouponID: coupon.ID, UserID: userID, AssignedAt: assignedAt}
	if err := s.assignments.Insert(ctx, tx, assignment); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Internal(op, "commit transaction", err)
	}

	log.Info().Str("correlation_id", ctxkey.CorrelationID(ctx)).Str("coupon_code", code).Str("user_id", userID).Msg("coupon assigned")
	return &model.AssignResult{Code: coupon.Code, AssignedAt: assignment.AssignedAt}, nil
}

// resolveLockDuration applies the default and validates the caller's
// requested duration against [minLockSeconds, maxLockSeconds] (spec
// §4.5.4: 30 <= duration <= 600, default 300).
func (s *CouponService) resolveLockDuration(op string, requested int) (int, error) {
	if requested == 0 {
		return s.defaultLockS, nil
	}
	if requested < s.minLockSeconds || requested > s.maxLockSeconds {
		return 0, apperr.Validation(op, fmt.Sprintf("duration must be between %d and %d seconds", s.minLockSeconds, s.maxLockSeconds))
	}
	return requested, nil
}

// Lock reserves an assigned coupon for checkout (spec §4.5.4). The
// cache lock is released on every exit path; the database-side
// lockExpiresAt is what's actually authoritative for expiry.
func (s *CouponService) Lock(ctx context.Context, code, userID string, requestedDurationSeconds int) (*model.LockResult, error) {
	const op = "CouponService.Lock"

	duration, err := s.resolveLockDuration(op, requestedDurationSeconds)
	if err != nil {
		return nil, err
	}

	acquired, err := s.cache.AcquireLock(ctx, featureCouponLock, code, duration)
	if err != nil {
		return nil, apperr.Internal(op, "acquire cache lock", err)
	}
	if !acquired {
		return nil, apperr.Conflict(op, "coupon is currently locked")
	}
	defer s.cache.ReleaseLock(ctx, featureCouponLock, code)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Internal(op, "begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	coupon, assignment, err := s.assignments.GetForUserNoWait(ctx, tx, code, userID)
	if err != nil {
		return nil, err
	}
	if coupon.Status != model.StatusAssigned && coupon.Status != model.StatusLocked {
		return nil, apperr.Business(op, "coupon is not in an assignable state")
	}

	lockedAt := time.Now()
	lockExpiresAt := lockedAt.Add(time.Duration(duration) * time.Second)
	if err := s.coupons.UpdateStatus(ctx, tx, coupon.ID, model.StatusLocked); err != nil {
		return nil, err
	}
	if err := s.assignments.UpdateLock(ctx, tx, assignment.ID, lockedAt, lockExpiresAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Internal(op, "commit transaction", err)
	}

	return &model.LockResult{Code: code, LockedAt: lockedAt, LockExpiresAt: lockExpiresAt}, nil
}

// Unlock releases a checkout reservation early (spec §4.5.5).
func (s *CouponService) Unlock(ctx context.Context, code, userID string) error {
	const op = "CouponService.Unlock"

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Internal(op, "begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	coupon, assignment, err := s.assignments.GetForUserNoWait(ctx, tx, code, userID)
	if err != nil {
		return err
	}
	if coupon.Status != model.StatusLocked {
		return apperr.Business(op, "coupon is not locked")
	}
	if err := s.coupons.UpdateStatus(ctx, tx, coupon.ID, model.StatusAssigned); err != nil {
		return err
	}
	if err := s.assignments.ClearLock(ctx, tx, assignment.ID); err != nil {
		return err
	}
	return apperrWrap(op, tx.Commit(ctx))
}

// Redeem consumes one redemption of code for userID (spec §4.5.6). Four
// cooperating layers guard the critical section: a dedup flag (A) kills
// accidental double-submits, a distributed lock (B) kills simultaneous
// distinct requests, a no-wait row lock (C) serializes readers of the
// same row, and a version compare-and-set (D) rejects a loser that
// somehow read the same version as the winner.
func (s *CouponService) Redeem(ctx context.Context, code, userID string, metadata map[string]any) (*model.RedeemResult, error) {
	const op = "CouponService.Redeem"
	dedupResource := code + ":" + userID

	// Layer A: idempotency suppression.
	inserted, err := s.cache.SetDedup(ctx, featureCouponRedeem, dedupResource, s.redeemDedupTTL)
	if err != nil {
		log.Warn().Err(err).Str("correlation_id", ctxkey.CorrelationID(ctx)).Str("coupon_code", code).Msg("redeem: dedup check failed, proceeding without it")
	} else if !inserted {
		return nil, apperr.Conflict(op, "a redemption for this coupon and user is already in progress")
	}
	defer s.cache.ClearDedup(ctx, featureCouponRedeem, dedupResource)

	// Layer B: distributed mutual exclusion.
	acquired, err := s.cache.AcquireLock(ctx, featureCouponRedeem, dedupResource, s.redeemLockTTL)
	if err != nil {
		return nil, apperr.Internal(op, "acquire cache lock", err)
	}
	if !acquired {
		return nil, apperr.Conflict(op, "a redemption for this coupon and user is already in progress")
	}
	defer s.cache.ReleaseLock(ctx, featureCouponRedeem, dedupResource)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Internal(op, "begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Layer C: row-level lock, no-wait.
	coupon, assignment, err := s.assignments.GetForUserNoWait(ctx, tx, code, userID)
	if err != nil {
		return nil, err
	}
	if coupon.Status != model.StatusAssigned && coupon.Status != model.StatusLocked {
		return nil, apperr.Business(op, "coupon is not in a redeemable state")
	}

	book, err := s.books.GetByID(ctx, coupon.BookID)
	if err != nil {
		return nil, err
	}

	newCount := assignment.RedemptionCount + 1
	if book.MaxRedemptionsPerUser != nil && newCount > *book.MaxRedemptionsPerUser {
		return nil, apperr.Business(op, "redemption limit reached")
	}
	newStatus := model.StatusAssigned
	fullyRedeemed := false
	if book.MaxRedemptionsPerUser != nil && newCount == *book.MaxRedemptionsPerUser {
		newStatus = model.StatusRedeemed
		fullyRedeemed = true
	}

	// Layer D: optimistic compare-and-set.
	ok, err := s.coupons.CompareAndSetStatus(ctx, tx, coupon.ID, coupon.Version, newStatus)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Conflict(op, "concurrent redemption won the race, retry")
	}

	redeemedAt := time.Now()
	mergedMeta := mergeMetadata(assignment.Metadata, metadata)
	if err := s.assignments.UpdateRedemption(ctx, tx, assignment.ID, newCount, redeemedAt, mergedMeta); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Internal(op, "commit transaction", err)
	}

	var remaining *int
	if book.MaxRedemptionsPerUser != nil {
		r := *book.MaxRedemptionsPerUser - newCount
		remaining = &r
	}

	log.Info().Str("correlation_id", ctxkey.CorrelationID(ctx)).Str("coupon_code", code).Str("user_id", userID).Int("redemption_count", newCount).Bool("fully_redeemed", fullyRedeemed).Msg("coupon redeemed")
	return &model.RedeemResult{
		Code:            code,
		RedeemedAt:      redeemedAt,
		RedemptionCount: newCount,
		Remaining:       remaining,
		FullyRedeemed:   fullyRedeemed,
	}, nil
}

// GetStatus returns a read-only projection of code's lifecycle state
// for userID (spec §4.5.7).
func (s *CouponService) GetStatus(ctx context.Context, code, userID string) (*model.CouponStatusView, error) {
	coupon, book, err := s.coupons.GetByCodeWithBook(ctx, code)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	view := &model.CouponStatusView{
		Code:       coupon.Code,
		Status:     coupon.EffectiveStatus(book, now),
		ValidUntil: book.ValidUntil,
	}

	assignment, err := s.assignments.GetByCouponAndUser(ctx, coupon.ID, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrAssignmentNotFound) {
			return view, nil
		}
		return nil, err
	}
	view.Owned = true
	view.Locked = assignment.IsLocked(now)
	view.RedemptionCount = assignment.RedemptionCount
	return view, nil
}

// GetUserCoupons paginates userID's assignments ordered by assignedAt
// descending (spec §4.5.7).
func (s *CouponService) GetUserCoupons(ctx context.Context, userID string, page model.Page) ([]*model.UserCouponView, int, error) {
	if page.Limit <= 0 || page.Limit > s.maxListLimit {
		page.Limit = s.maxListLimit
	}
	if page.Page < 1 {
		page.Page = 1
	}
	return s.assignments.ListForUser(ctx, userID, page)
}

// mergeMetadata shallow-merges incoming into existing, with
// caller-supplied keys winning on conflict (spec §4.5.6 "merge
// metadata"; merge semantics are an Open Question resolved in
// DESIGN.md).
func mergeMetadata(existing, incoming map[string]any) map[string]any {
	merged := make(map[string]any, len(existing)+len(incoming))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range incoming {
		merged[k] = v
	}
	return merged
}

// apperrWrap translates a raw commit error into apperr.Internal,
// passing nil through unchanged.
func apperrWrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return apperr.Internal(op, "commit transaction", err)
}
