package validator

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/coupon-engine/internal/model"
)

// New creates a new validator instance with custom validations registered.
// This ensures consistent validation across the application and tests.
func New() *validator.Validate {
	v := validator.New()

	// Register custom "notblank" validator - rejects whitespace-only strings
	// This is used for fields like coupon names and user ids that must have
	// meaningful content.
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		str, ok := fl.Field().Interface().(string)
		if !ok {
			return true // Not a string, let other validators handle it
		}
		return strings.TrimSpace(str) != ""
	})

	// Register "couponcode" - enforces the coupon code grammar from the
	// data model: uppercase, 6-32 chars, alphabet A-Z0-9 plus '-' and '_'.
	_ = v.RegisterValidation("couponcode", func(fl validator.FieldLevel) bool {
		str, ok := fl.Field().Interface().(string)
		if !ok {
			return true
		}
		return model.ValidCouponCode(str)
	})

	return v
}
