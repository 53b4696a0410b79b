package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/stemsplit/internal/logsink"
	"github.com/makeasinger/stemsplit/internal/model"
	"github.com/makeasinger/stemsplit/internal/service"
	"github.com/makeasinger/stemsplit/pkg/response"
)

type SeparateHandler struct {
	service   *service.SeparationService
	validator *validator.Validate
	log       *logsink.Logger
}

func NewSeparateHandler(svc *service.SeparationService, v *validator.Validate, logger *logsink.Logger) *SeparateHandler {
	return &SeparateHandler{
		service:   svc,
		validator: v,
		log:       logger,
	}
}

// Separate handles POST /apiv1/separate
func (h *SeparateHandler) Separate(c *fiber.Ctx) error {
	var req model.SeparateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	if len(req.Callback) > 0 {
		h.log.Infof("Callback specified: %s", string(req.Callback))
	}

	jobID, err := h.service.Submit(c.Context(), req.MP3)
	if err != nil {
		return writeError(c, err, "")
	}

	return response.OK(c, model.SeparateResponse{Songhash: jobID})
}
