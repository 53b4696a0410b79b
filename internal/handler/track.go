package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/stemsplit/internal/model"
	"github.com/makeasinger/stemsplit/internal/service"
	"github.com/makeasinger/stemsplit/pkg/response"
)

type TrackHandler struct {
	service   *service.TrackService
	validator *validator.Validate
}

func NewTrackHandler(svc *service.TrackService, v *validator.Validate) *TrackHandler {
	return &TrackHandler{
		service:   svc,
		validator: v,
	}
}

// Queue handles GET /apiv1/queue
func (h *TrackHandler) Queue(c *fiber.Ctx) error {
	pending, err := h.service.ListPending(c.Context())
	if err != nil {
		return writeError(c, err, "")
	}

	payloads := make([]string, 0, len(pending))
	for _, d := range pending {
		payload, err := d.Encode()
		if err != nil {
			return response.ServiceError(c, err.Error())
		}
		payloads = append(payloads, payload)
	}

	return response.OK(c, payloads)
}

// Track handles GET /apiv1/track/:songhash/:track
func (h *TrackHandler) Track(c *fiber.Ctx) error {
	params, err := h.trackParams(c)
	if err != nil {
		return err
	}
	if params == nil {
		return nil
	}

	artifact, err := h.service.FetchArtifact(c.Context(), params.Songhash, params.Track)
	if err != nil {
		return writeError(c, err, "Track not found")
	}

	c.Attachment(params.Track + ".mp3")
	c.Set(fiber.HeaderContentType, artifact.ContentType)
	return c.Send(artifact.Data)
}

// Remove handles DELETE /apiv1/remove/:songhash/:track
func (h *TrackHandler) Remove(c *fiber.Ctx) error {
	params, err := h.trackParams(c)
	if err != nil {
		return err
	}
	if params == nil {
		return nil
	}

	if err := h.service.RemoveArtifact(c.Context(), params.Songhash, params.Track); err != nil {
		return writeError(c, err, "Track not found")
	}

	return response.OK(c, model.RemoveResponse{Status: "Track removed successfully"})
}

// Status handles GET /apiv1/status/:songhash
func (h *TrackHandler) Status(c *fiber.Ctx) error {
	songhash := c.Params("songhash")
	if err := h.validator.Var(songhash, "required,len=64,hexadecimal"); err != nil {
		return response.ValidationError(c, "Invalid songhash", nil)
	}

	status, err := h.service.Status(c.Context(), songhash)
	if err != nil {
		return writeError(c, err, "Song not found")
	}

	return response.OK(c, status)
}

// trackParams parses and validates the route parameters. A nil result
// means the error response has already been written.
func (h *TrackHandler) trackParams(c *fiber.Ctx) (*model.TrackParams, error) {
	var params model.TrackParams
	if err := c.ParamsParser(&params); err != nil {
		return nil, response.ValidationError(c, "Invalid route parameters", nil)
	}

	if err := h.validator.Struct(&params); err != nil {
		return nil, response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	return &params, nil
}
