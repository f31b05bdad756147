package serverutils

import (
	"errors"
	"log"

	"agent-memory-be/internal/entity"

	"github.com/gofiber/fiber/v2"
)

// StatusFor maps domain sentinels to HTTP status codes.
func StatusFor(err error) int {
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	case errors.Is(err, entity.ErrInvalidInput):
		return fiber.StatusBadRequest
	case errors.Is(err, entity.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, entity.ErrStorageFailure):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}

		code := StatusFor(err)
		message := err.Error()
		if code == fiber.StatusInternalServerError {
			log.Printf("[ERROR] %s %s: %v", ctx.Method(), ctx.Path(), err)
			message = "Internal server error"
		}

		return ctx.Status(code).JSON(ErrorResponse(code, message))
	}
}
