package api

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"altavo/types"
)

// ErrorHandler переводит ошибки доменного уровня в HTTP-ответы
func ErrorHandler(c *fiber.Ctx, err error) error {
	var (
		apiErr   Error
		valErr   ValidationError
		fiberErr *fiber.Error
		upstream *types.UpstreamError
	)

	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &valErr):
		return c.Status(valErr.Status).JSON(valErr)
	case errors.As(err, &fiberErr):
		apiErr = NewError(fiberErr.Code, fiberErr.Message)
	case errors.As(err, &upstream):
		apiErr = NewError(fiber.StatusBadGateway, upstream.Error())
	case errors.Is(err, types.ErrValidation):
		apiErr = NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, types.ErrConflict):
		apiErr = NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, types.ErrForbidden):
		apiErr = NewError(fiber.StatusForbidden, err.Error())
	case errors.Is(err, types.ErrNotFound):
		apiErr = NewError(fiber.StatusNotFound, err.Error())
	default:
		apiErr = NewError(fiber.StatusInternalServerError, "internal server error")
	}

	if apiErr.Code >= fiber.StatusInternalServerError {
		slog.Error("request failed", "method", c.Method(), "path", c.Path(), "code", apiErr.Code, "err", err)
	} else {
		slog.Debug("request rejected", "method", c.Method(), "path", c.Path(), "code", apiErr.Code, "err", err)
	}
	return c.Status(apiErr.Code).JSON(apiErr)
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

type ValidationError struct {
	Status int               `json:"status"`
	Errors map[string]string `json:"errors"`
}

func (e ValidationError) Error() string {
	return "validation failed"
}

func NewValidationError(errors map[string]string) ValidationError {
	return ValidationError{
		Status: fiber.StatusUnprocessableEntity,
		Errors: errors,
	}
}

// Error implements the Error interface
func (e Error) Error() string {
	return e.Message
}

func NewError(code int, err string) Error {
	return Error{
		Code:    code,
		Message: err,
	}
}

func ErrBadRequest() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid JSON request",
	}
}

func ErrInvalidID() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid id given",
	}
}

func ErrUnAuthorized(msg string) Error {
	return Error{
		Code:    fiber.StatusUnauthorized,
		Message: msg,
	}
}
