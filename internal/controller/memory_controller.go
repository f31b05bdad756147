package controller

import (
	"agent-memory-be/internal/dto"
	"agent-memory-be/internal/pkg/serverutils"
	"agent-memory-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

type IMemoryController interface {
	RegisterRoutes(r fiber.Router)
	Health(ctx *fiber.Ctx) error
	Stats(ctx *fiber.Ctx) error
}

type memoryController struct {
	memoryService service.IMemoryService
}

func NewMemoryController(memoryService service.IMemoryService) IMemoryController {
	return &memoryController{
		memoryService: memoryService,
	}
}

func (c *memoryController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/memory")
	h.Get("health", c.Health)
	h.Get("stats", c.Stats)
}

func (c *memoryController) Health(ctx *fiber.Ctx) error {
	healthy := c.memoryService.IsHealthy(ctx.UserContext())
	if !healthy {
		return ctx.Status(fiber.StatusServiceUnavailable).JSON(
			serverutils.ErrorResponse(fiber.StatusServiceUnavailable, "Memory is unavailable"),
		)
	}

	return ctx.JSON(serverutils.SuccessResponse("Memory is healthy", dto.HealthResponse{Healthy: true}))
}

func (c *memoryController) Stats(ctx *fiber.Ctx) error {
	stats, err := c.memoryService.GetMemoryStats(ctx.UserContext())
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get memory stats", dto.NewMemoryStatsResponse(stats)))
}
