package model

// CreateBookRequest is the DTO for POST /coupon-books.
type CreateBookRequest struct {
	Name                  string         `json:"name" validate:"required,notblank,max=255"`
	Description           *string        `json:"description,omitempty" validate:"omitempty,max=1024"`
	ValidFrom             string         `json:"valid_from" validate:"required"`
	ValidUntil            string         `json:"valid_until" validate:"required"`
	MaxRedemptionsPerUser *int           `json:"max_redemptions_per_user,omitempty" validate:"omitempty,gte=1"`
	MaxAssignmentsPerUser *int           `json:"max_assignments_per_user,omitempty" validate:"omitempty,gte=1"`
	CodePattern           *string        `json:"code_pattern,omitempty"`
	MaxCodes              *int           `json:"max_codes,omitempty" validate:"omitempty,gte=1"`
	Metadata              map[string]any `json:"metadata,omitempty"`
}

// UploadCodesRequest is the DTO for POST /coupon-books/{id}/codes.
type UploadCodesRequest struct {
	Codes []string `json:"codes" validate:"required,min=1,max=10000,dive,required,couponcode"`
}

// GenerateCodesRequest is the DTO for POST /coupon-books/{id}/codes/generate.
type GenerateCodesRequest struct {
	Count int `json:"count" validate:"required,gte=1"`
}

// AssignRandomRequest is the DTO for POST /coupons/assign/random.
type AssignRandomRequest struct {
	BookID string `json:"book_id" validate:"required,uuid4"`
	UserID string `json:"user_id" validate:"required,notblank,max=255"`
}

// AssignSpecificRequest is the DTO for POST /coupons/assign/{code}.
type AssignSpecificRequest struct {
	UserID string `json:"user_id" validate:"required,notblank,max=255"`
}

// LockRequest is the DTO for POST /coupons/{code}/lock.
type LockRequest struct {
	UserID          string `json:"user_id" validate:"required,notblank,max=255"`
	DurationSeconds int    `json:"duration_seconds,omitempty" validate:"omitempty,gte=30,lte=600"`
}

// UnlockRequest is the DTO for POST /coupons/{code}/unlock.
type UnlockRequest struct {
	UserID string `json:"user_id" validate:"required,notblank,max=255"`
}

// RedeemRequest is the DTO for POST /coupons/{code}/redeem.
type RedeemRequest struct {
	UserID   string         `json:"user_id" validate:"required,notblank,max=255"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
