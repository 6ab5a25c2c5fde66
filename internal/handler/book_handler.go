package handler

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/coupon-engine/internal/apperr"
	"github.com/fairyhunter13/coupon-engine/internal/model"
	"github.com/fairyhunter13/coupon-engine/pkg/ctxkey"
)

// BookServiceInterface defines the book-catalog operations BookHandler
// needs from BookService.
type BookServiceInterface interface {
	CreateBook(ctx context.Context, spec *model.CreateBookSpec) (*model.CouponBook, error)
	GetBook(ctx context.Context, id uuid.UUID) (*model.CouponBook, *model.BookStats, error)
	ListBooks(ctx context.Context, page model.Page) ([]*model.CouponBook, int, error)
	ListCoupons(ctx context.Context, bookID uuid.UUID, page model.Page) ([]*model.Coupon, int, error)
	DeactivateBook(ctx context.Context, id uuid.UUID) error
	UploadCodes(ctx context.Context, bookID uuid.UUID, codes []string) (*model.UploadCodesResult, error)
	GenerateCodes(ctx context.Context, bookID uuid.UUID, count int) (*model.UploadCodesResult, error)
}

// BookHandler handles HTTP requests for coupon-book operations.
type BookHandler struct {
	service   BookServiceInterface
	validator *validator.Validate
}

// NewBookHandler creates a new BookHandler with the given service and
// validator.
func NewBookHandler(svc BookServiceInterface, v *validator.Validate) *BookHandler {
	return &BookHandler{service: svc, validator: v}
}

// CreateBook handles POST /coupon-books.
func (h *BookHandler) CreateBook(c *fiber.Ctx) error {
	var req model.CreateBookRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}

	validFrom, err := time.Parse(time.RFC3339, req.ValidFrom)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: valid_from must be RFC3339"})
	}
	validUntil, err := time.Parse(time.RFC3339, req.ValidUntil)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: valid_until must be RFC3339"})
	}

	spec := &model.CreateBookSpec{
		Name:                  req.Name,
		Description:           req.Description,
		ValidFrom:             validFrom,
		ValidUntil:            validUntil,
		MaxRedemptionsPerUser: req.MaxRedemptionsPerUser,
		MaxAssignmentsPerUser: req.MaxAssignmentsPerUser,
		CodePattern:           req.CodePattern,
		MaxCodes:              req.MaxCodes,
		Metadata:              req.Metadata,
	}

	book, err := h.service.CreateBook(c.UserContext(), spec)
	if err != nil {
		return writeAppError(c, "create coupon book", err)
	}
	return c.Status(fiber.StatusCreated).JSON(book)
}

// ListBooks handles GET /coupon-books?page=&limit=.
func (h *BookHandler) ListBooks(c *fiber.Ctx) error {
	page := parsePage(c)
	books, total, err := h.service.ListBooks(c.UserContext(), page)
	if err != nil {
		return writeAppError(c, "list coupon books", err)
	}
	return c.JSON(fiber.Map{"items": books, "pagination": paginationMap(page, total)})
}

// GetBook handles GET /coupon-books/{id}.
func (h *BookHandler) GetBook(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: id must be a uuid"})
	}
	book, stats, err := h.service.GetBook(c.UserContext(), id)
	if err != nil {
		return writeAppError(c, "get coupon book", err)
	}
	return c.JSON(fiber.Map{"book": book, "statistics": stats})
}

// ListCoupons handles GET /coupon-books/{id}/coupons?page=&limit=.
func (h *BookHandler) ListCoupons(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: id must be a uuid"})
	}
	page := parsePage(c)
	coupons, total, err := h.service.ListCoupons(c.UserContext(), id, page)
	if err != nil {
		return writeAppError(c, "list coupons", err)
	}
	return c.JSON(fiber.Map{"items": coupons, "pagination": paginationMap(page, total)})
}

// DeactivateBook handles DELETE /coupon-books/{id}.
func (h *BookHandler) DeactivateBook(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: id must be a uuid"})
	}
	if err := h.service.DeactivateBook(c.UserContext(), id); err != nil {
		return writeAppError(c, "deactivate coupon book", err)
	}
	return c.JSON(fiber.Map{"status": "deactivated"})
}

// UploadCodes handles POST /coupon-books/{id}/codes.
func (h *BookHandler) UploadCodes(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: id must be a uuid"})
	}
	var req model.UploadCodesRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}

	result, err := h.service.UploadCodes(c.UserContext(), id, req.Codes)
	if err != nil {
		return writeAppError(c, "upload codes", err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

// GenerateCodes handles POST /coupon-books/{id}/codes/generate.
func (h *BookHandler) GenerateCodes(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: id must be a uuid"})
	}
	var req model.GenerateCodesRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}

	result, err := h.service.GenerateCodes(c.UserContext(), id, req.Count)
	if err != nil {
		return writeAppError(c, "generate codes", err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

// parsePage reads 1-based page/limit query params, defaulting page=1.
// The service layer is responsible for clamping limit; the handler only
// parses.
func parsePage(c *fiber.Ctx) model.Page {
	return model.Page{
		Page:  c.QueryInt("page", 1),
		Limit: c.QueryInt("limit", 20),
	}
}

func paginationMap(page model.Page, total int) fiber.Map {
	return fiber.Map{"page": page.Page, "limit": page.Limit, "total": total}
}

// writeAppError maps an apperr.Kind to its HTTP status and writes a
// JSON error body. Internal errors are logged with their underlying
// cause but never echoed to the caller.
func writeAppError(c *fiber.Ctx, op string, err error) error {
	correlationID := ctxkey.CorrelationID(c.UserContext())

	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		log.Error().Err(err).Str("op", op).Str("correlation_id", correlationID).Msg("unclassified error")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	switch appErr.Kind {
	case apperr.KindValidation:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": appErr.Msg})
	case apperr.KindNotFound:
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": appErr.Msg})
	case apperr.KindConflict:
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": appErr.Msg})
	case apperr.KindBusiness:
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": appErr.Msg})
	default:
		log.Error().Err(appErr).Str("op", op).Str("correlation_id", correlationID).Msg("internal error")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}
}

// formatValidationError converts validator errors into a single
// human-readable message, grounded in the teacher's per-field switch
// but generalized across every DTO's field set instead of one struct.
func formatValidationError(err error) string {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		fe := ve[0]
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			return "invalid request: " + field + " is required"
		case "notblank":
			return "invalid request: " + field + " cannot be whitespace only"
		case "max":
			return "invalid request: " + field + " exceeds maximum length"
		case "min":
			return "invalid request: " + field + " is below minimum length"
		case "gte":
			return "invalid request: " + field + " is out of range"
		case "lte":
			return "invalid request: " + field + " is out of range"
		case "uuid4":
			return "invalid request: " + field + " must be a uuid"
		case "couponcode":
			return "invalid request: " + field + " contains an invalid coupon code"
		default:
			return "invalid request: " + field + " is invalid"
		}
	}
	return "invalid request"
}
