// Package model defines the core entities of the coupon lifecycle engine:
// coupon books, coupons, and the assignments binding coupons to users.
package model

import (
	"time"

	"github.com/google/uuid"
)

// CouponBook is a named collection of coupons that share validity rules,
// per-user limits, and (optionally) a code generation pattern.
type CouponBook struct {
	ID                    uuid.UUID
	Name                  string
	Description           *string
	Active                bool
	ValidFrom             time.Time
	ValidUntil            time.Time
	MaxRedemptionsPerUser *int
	MaxAssignmentsPerUser *int
	CodePattern           *string
	MaxCodes              *int
	TotalCodes            int
	Metadata              map[string]any
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Expired reports whether now falls outside the book's validity window.
func (b *CouponBook) Expired(now time.Time) bool {
	return now.Before(b.ValidFrom) || now.After(b.ValidUntil)
}

// BookStats is a derived, read-only projection of a book's coupon status
// counts, computed on demand rather than stored (status EXPIRED is never
// swept eagerly, see model.Coupon.EffectiveStatus).
type BookStats struct {
	TotalCodes int
	Available  int
	Assigned   int
	Locked     int
	Redeemed   int
	Expired    int
}

// CreateBookSpec carries the fields needed to create a CouponBook.
type CreateBookSpec struct {
	Name                  string
	Description           *string
	ValidFrom             time.Time
	ValidUntil            time.Time
	MaxRedemptionsPerUser *int
	MaxAssignmentsPerUser *int
	CodePattern           *string
	MaxCodes              *int
	Metadata              map[string]any
}

// Page bounds a 1-based offset/limit pagination request. Limit is capped
// at 100 by the caller (service layer), never silently by the repository.
type Page struct {
	Page  int
	Limit int
}

// Offset returns the zero-based SQL OFFSET for the page.
func (p Page) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

// UploadCodesResult is the shared response shape for UploadCodes and
// GenerateCodes.
type UploadCodesResult struct {
	Uploaded   int
	Duplicates int
	Invalid    int
	NewTotal   int
	MaxCodes   *int
}
