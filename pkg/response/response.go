package response

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Every JSON body the service writes is a Response. Exactly one of Data and
// Error is set; Meta is always present.
//
//	{"data": {...}, "meta": {"request_id": "...", "timestamp": "..."}}
//	{"error": {"code": "EMAIL_CONFLICT", "message": "..."}, "meta": {...}}
type Response struct {
	Data  any        `json:"data,omitempty"`
	Error *ErrorBody `json:"error,omitempty"`
	Meta  Meta       `json:"meta"`
}

type ErrorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

type Meta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// PaginatedData is the data member of a list response.
type PaginatedData struct {
	Items      any        `json:"items"`
	Pagination Pagination `json:"pagination"`
}

type Pagination struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasMore    bool  `json:"has_more"`
}

// NewPagination computes the page count for total items split into pages of
// perPage. A non-positive perPage is treated as a single page.
func NewPagination(page, perPage int, total int64) Pagination {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = int(max(total, 1))
	}
	totalPages := int((total + int64(perPage) - 1) / int64(perPage))
	return Pagination{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages,
		HasMore:    page < totalPages,
	}
}

func Success(c *fiber.Ctx, data any) error {
	return SuccessWithStatus(c, fiber.StatusOK, data)
}

func SuccessWithStatus(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(Response{
		Data: data,
		Meta: buildMeta(c),
	})
}

func Created(c *fiber.Ctx, data any) error {
	return SuccessWithStatus(c, fiber.StatusCreated, data)
}

// Accepted acknowledges work that was handed to a background task.
func Accepted(c *fiber.Ctx, data any) error {
	return SuccessWithStatus(c, fiber.StatusAccepted, data)
}

func Paginated(c *fiber.Ctx, items any, page, perPage int, total int64) error {
	return Success(c, PaginatedData{
		Items:      items,
		Pagination: NewPagination(page, perPage, total),
	})
}

func Error(c *fiber.Ctx, status int, code, message string, details ...string) error {
	return c.Status(status).JSON(Response{
		Error: &ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
		Meta: buildMeta(c),
	})
}

func buildMeta(c *fiber.Ctx) Meta {
	requestID := GetRequestID(c)
	if requestID == "" {
		requestID = uuid.New().String()
		c.Locals("request_id", requestID)
	}

	return Meta{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Version:   "v1",
	}
}

// GetRequestID returns the caller's X-Request-ID, falling back to the id
// the RequestID middleware stored for this request.
func GetRequestID(c *fiber.Ctx) string {
	if id := c.Get("X-Request-ID"); id != "" {
		return id
	}
	if id, ok := c.Locals("request_id").(string); ok {
		return id
	}
	return ""
}
