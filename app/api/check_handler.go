package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

type CheckHandler struct {
	started time.Time
	backend string
}

func NewCheckHandler(backend string) *CheckHandler {
	return &CheckHandler{
		started: time.Now(),
		backend: backend,
	}
}

func (h CheckHandler) HandleHealthy(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"result": "ok",
		"store":  h.backend,
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}
