package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/stemsplit/internal/model"
	"github.com/makeasinger/stemsplit/pkg/response"
)

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		fields := make(map[string]string)
		for _, e := range validationErrors {
			fields[e.Field()] = e.Tag()
		}
		return fields
	}
	return nil
}

// writeError maps a service error onto the response envelope
func writeError(c *fiber.Ctx, err error, notFound string) error {
	switch {
	case errors.Is(err, model.ErrValidation):
		return response.ValidationError(c, err.Error(), nil)
	case errors.Is(err, model.ErrNotFound):
		return response.NotFound(c, notFound)
	case errors.Is(err, model.ErrStorage):
		return response.StorageError(c, "Failed to access content store", err.Error())
	case errors.Is(err, model.ErrQueue):
		return response.QueueError(c, "Failed to access job queue", err.Error())
	default:
		return response.ServiceError(c, err.Error())
	}
}
