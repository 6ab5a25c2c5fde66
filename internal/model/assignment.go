package model

import (
	"time"

	"github.com/google/uuid"
)

// CouponAssignment binds a coupon to a user. At most one row exists per
// (CouponID, UserID); the row is never deleted, so RedemptionCount and
// assignment-counting operations reflect full history, not just the
// current live binding.
type CouponAssignment struct {
	ID              uuid.UUID
	CouponID        uuid.UUID
	UserID          string
	AssignedAt      time.Time
	LockedAt        *time.Time
	LockExpiresAt   *time.Time
	RedeemedAt      *time.Time
	RedemptionCount int
	Metadata        map[string]any
}

// IsLocked reports whether the assignment currently holds an unexpired
// checkout lock.
func (a *CouponAssignment) IsLocked(now time.Time) bool {
	return a.LockExpiresAt != nil && now.Before(*a.LockExpiresAt)
}

// CouponStatusView is the read-only projection returned by GetStatus.
type CouponStatusView struct {
	Code            string
	Status          Status
	Owned           bool
	Locked          bool
	RedemptionCount int
	ValidUntil      time.Time
}

// RedeemResult is returned by Redeem on success.
type RedeemResult struct {
	Code            string
	RedeemedAt      time.Time
	RedemptionCount int
	Remaining       *int
	FullyRedeemed   bool
}

// AssignResult is returned by AssignRandom / AssignSpecific on success.
type AssignResult struct {
	Code       string
	AssignedAt time.Time
}

// UserCouponView is one row of GetUserCoupons: an assignment joined with
// its coupon's code and current status.
type UserCouponView struct {
	Code            string
	Status          Status
	AssignedAt      time.Time
	LockedAt        *time.Time
	LockExpiresAt   *time.Time
	RedeemedAt      *time.Time
	RedemptionCount int
}
