package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acme/voice-batch-engine/internal/app"
	"github.com/acme/voice-batch-engine/internal/engine"
	"github.com/acme/voice-batch-engine/internal/schedule"
)

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	container *app.Container
	engine    *engine.Manager
	scheduler *schedule.Scheduler
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(container *app.Container) (*HandlerSet, error) {
	mgr, err := container.Engine()
	if err != nil {
		return nil, err
	}
	sched, err := container.Scheduler()
	if err != nil {
		return nil, err
	}
	return &HandlerSet{
		container: container,
		engine:    mgr,
		scheduler: sched,
	}, nil
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	campaigns := v1.Group("/campaigns")
	campaigns.Post("/", h.createCampaign)
	campaigns.Get("/", h.listCampaigns)
	campaigns.Get("/:id", h.getCampaign)
	campaigns.Post("/:id/contacts", h.addContacts)
	campaigns.Post("/:id/start", h.startCampaign)
	campaigns.Post("/:id/pause", h.pauseCampaign)
	campaigns.Post("/:id/resume", h.resumeCampaign)
	campaigns.Post("/:id/cancel", h.cancelCampaign)
	campaigns.Get("/:id/stats", h.campaignStats)
	campaigns.Get("/:id/results", h.campaignResults)

	schedules := v1.Group("/schedules")
	schedules.Post("/", h.createSchedule)
	schedules.Get("/", h.listSchedules)
	schedules.Get("/upcoming", h.upcomingSchedules)
	schedules.Get("/:id", h.getSchedule)
	schedules.Post("/:id/cancel", h.cancelSchedule)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.container.Logger.Error("request failed", zap.Error(err))
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error":    message,
		"trace_id": ctx.GetRespHeader("Trace-Id"),
	})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.Context(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)

	if c := h.container; c.Postgres != nil {
		if err := c.Postgres.DB().PingContext(healthCtx); err != nil {
			errs["postgres"] = err.Error()
		}
	}

	if c := h.container; c.Redis != nil {
		if err := c.Redis.Inner().Ping(healthCtx).Err(); err != nil {
			errs["redis"] = err.Error()
		}
	}

	if c := h.container; c.Scylla != nil {
		if err := c.Scylla.Session().Query("SELECT now() FROM system.local").WithContext(healthCtx).Exec(); err != nil {
			errs["scylla"] = err.Error()
		}
	}

	status := fiber.StatusOK
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
	}

	return ctx.Status(status).JSON(fiber.Map{"status": "ok", "errors": errs})
}
