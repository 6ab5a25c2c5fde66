package model

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Coupon. Transitions are enforced by
// service.CouponService.
type Status string

const (
	StatusAvailable Status = "AVAILABLE"
	StatusAssigned  Status = "ASSIGNED"
	StatusLocked    Status = "LOCKED"
	StatusRedeemed  Status = "REDEEMED"
	StatusExpired   Status = "EXPIRED"
)

// Coupon is an individual code drawn from a book. Code is globally unique
// across all books, never book-scoped, so it can be looked up bare by
// assign/lock/redeem callers.
type Coupon struct {
	ID        uuid.UUID
	BookID    uuid.UUID
	Code      string
	Status    Status
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EffectiveStatus derives the externally visible status, computing EXPIRED
// from the book's validity window on read rather than relying on a stored
// value that would need an eager sweep to stay accurate.
func (c *Coupon) EffectiveStatus(book *CouponBook, now time.Time) Status {
	if c.Status != StatusRedeemed && book.Expired(now) {
		return StatusExpired
	}
	return c.Status
}

// ValidCouponCode reports whether code matches the coupon code grammar:
// uppercase, 6-32 characters, alphabet A-Z0-9 plus '-' and '_'.
func ValidCouponCode(code string) bool {
	if len(code) < 6 || len(code) > 32 {
		return false
	}
	for _, r := range code {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}
