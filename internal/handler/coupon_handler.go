package handler

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/fairyhunter13/coupon-engine/internal/model"
)

// CouponServiceInterface defines the per-coupon lifecycle operations
// CouponHandler needs from CouponService.
type CouponServiceInterface interface {
	AssignRandom(ctx context.Context, bookID uuid.UUID, userID string) (*model.AssignResult, error)
	AssignSpecific(ctx context.Context, code, userID string) (*model.AssignResult, error)
	Lock(ctx context.Context, code, userID string, requestedDurationSeconds int) (*model.LockResult, error)
	Unlock(ctx context.Context, code, userID string) error
	Redeem(ctx context.Context, code, userID string, metadata map[string]any) (*model.RedeemResult, error)
	GetStatus(ctx context.Context, code, userID string) (*model.CouponStatusView, error)
	GetUserCoupons(ctx context.Context, userID string, page model.Page) ([]*model.UserCouponView, int, error)
}

// CouponHandler handles HTTP requests for individual coupon operations:
// assignment, reservation, and redemption.
type CouponHandler struct {
	service   CouponServiceInterface
	validator *validator.Validate
}

// NewCouponHandler creates a new CouponHandler with the given service
// and validator.
func NewCouponHandler(svc CouponServiceInterface, v *validator.Validate) *CouponHandler {
	return &CouponHandler{service: svc, validator: v}
}

// AssignRandom handles POST /coupons/assign/random.
func (h *CouponHandler) AssignRandom(c *fiber.Ctx) error {
	var req model.AssignRandomRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}

	bookID, err := uuid.Parse(req.BookID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: book_id must be a uuid"})
	}

	result, err := h.service.AssignRandom(c.UserContext(), bookID, req.UserID)
	if err != nil {
		return writeAppError(c, "assign random coupon", err)
	}
	return c.JSON(result)
}

// AssignSpecific handles POST /coupons/assign/{code}.
func (h *CouponHandler) AssignSpecific(c *fiber.Ctx) error {
	code := c.Params("code")
	var req model.AssignSpecificRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}

	result, err := h.service.AssignSpecific(c.UserContext(), code, req.UserID)
	if err != nil {
		return writeAppError(c, "assign specific coupon", err)
	}
	return c.JSON(result)
}

// Lock handles POST /coupons/{code}/lock.
func (h *CouponHandler) Lock(c *fiber.Ctx) error {
	code := c.Params("code")
	var req model.LockRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}

	result, err := h.service.Lock(c.UserContext(), code, req.UserID, req.DurationSeconds)
	if err != nil {
		return writeAppError(c, "lock coupon", err)
	}
	return c.JSON(result)
}

// Unlock handles POST /coupons/{code}/unlock.
func (h *CouponHandler) Unlock(c *fiber.Ctx) error {
	code := c.Params("code")
	var req model.UnlockRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}

	if err := h.service.Unlock(c.UserContext(), code, req.UserID); err != nil {
		return writeAppError(c, "unlock coupon", err)
	}
	return c.JSON(fiber.Map{"status": "unlocked"})
}

// Redeem handles POST /coupons/{code}/redeem.
func (h *CouponHandler) Redeem(c *fiber.Ctx) error {
	code := c.Params("code")
	var req model.RedeemRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}

	result, err := h.service.Redeem(c.UserContext(), code, req.UserID, req.Metadata)
	if err != nil {
		return writeAppError(c, "redeem coupon", err)
	}
	return c.JSON(result)
}

// GetStatus handles GET /coupons/{code}/status?user_id=.
func (h *CouponHandler) GetStatus(c *fiber.Ctx) error {
	code := c.Params("code")
	userID := c.Query("user_id")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: user_id is required"})
	}

	view, err := h.service.GetStatus(c.UserContext(), code, userID)
	if err != nil {
		return writeAppError(c, "get coupon status", err)
	}
	return c.JSON(view)
}

// GetUserCoupons handles GET /coupons/my-coupons?user_id=&page=&limit=.
func (h *CouponHandler) GetUserCoupons(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: user_id is required"})
	}

	page := parsePage(c)
	coupons, total, err := h.service.GetUserCoupons(c.UserContext(), userID, page)
	if err != nil {
		return writeAppError(c, "list user coupons", err)
	}
	return c.JSON(fiber.Map{"items": coupons, "pagination": paginationMap(page, total)})
}
