package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"altavo/app/middleware"
)

// currentUser пользователь из проверенного токена
func currentUser(c *fiber.Ctx) (int64, error) {
	id, ok := middleware.UserID(c)
	if !ok {
		return 0, ErrUnAuthorized("unauthorized")
	}
	return id, nil
}

func uuidParam(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, ErrInvalidID()
	}
	return id, nil
}
