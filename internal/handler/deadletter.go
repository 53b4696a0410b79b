package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/stemsplit/internal/service"
	"github.com/makeasinger/stemsplit/pkg/response"
)

type DeadLetterHandler struct {
	service *service.DeadLetterService
}

// NewDeadLetterHandler creates the handler. A nil service means dead-lettering
// is disabled and every route answers 503.
func NewDeadLetterHandler(svc *service.DeadLetterService) *DeadLetterHandler {
	return &DeadLetterHandler{service: svc}
}

// List handles GET /apiv1/deadletters
func (h *DeadLetterHandler) List(c *fiber.Ctx) error {
	if h.service == nil {
		return response.Unavailable(c, "Dead-letter queue is disabled")
	}

	letters, err := h.service.List(c.Context())
	if err != nil {
		return writeError(c, err, "")
	}

	return response.OK(c, letters)
}

// Retry handles POST /apiv1/deadletters/:id/retry
func (h *DeadLetterHandler) Retry(c *fiber.Ctx) error {
	if h.service == nil {
		return response.Unavailable(c, "Dead-letter queue is disabled")
	}

	id := c.Params("id")
	if id == "" {
		return response.ValidationError(c, "Dead letter ID is required", nil)
	}

	letter, err := h.service.Retry(c.Context(), id)
	if err != nil {
		return writeError(c, err, "Dead letter not found")
	}

	return response.Accepted(c, letter)
}
