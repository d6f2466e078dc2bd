package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/voice-batch-engine/internal/schedule"
)

type createScheduleRequest struct {
	CampaignID     uuid.UUID          `json:"campaign_id"`
	Type           string             `json:"type"`
	StartAt        *time.Time         `json:"start_at"`
	Window         *timeWindowRequest `json:"window"`
	RepeatInterval string             `json:"repeat_interval"`
	MaxOccurrences int                `json:"max_occurrences"`
	BatchSize      int                `json:"batch_size"`
}

type timeWindowRequest struct {
	StartTime       string   `json:"start_time"`
	EndTime         string   `json:"end_time"`
	Timezone        string   `json:"timezone"`
	ExcludeWeekends bool     `json:"exclude_weekends"`
	Holidays        []string `json:"holidays"`
}

type scheduleResponse struct {
	ID             uuid.UUID           `json:"id"`
	CampaignID     uuid.UUID           `json:"campaign_id"`
	Type           schedule.Type       `json:"type"`
	StartAt        *time.Time          `json:"start_at,omitempty"`
	Window         *timeWindowResponse `json:"window,omitempty"`
	RepeatInterval string              `json:"repeat_interval,omitempty"`
	MaxOccurrences int                 `json:"max_occurrences"`
	BatchSize      int                 `json:"batch_size"`
	Occurrences    int                 `json:"occurrences"`
	LastRun        *time.Time          `json:"last_run,omitempty"`
	NextRun        *time.Time          `json:"next_run,omitempty"`
	Active         bool                `json:"active"`
	CreatedAt      time.Time           `json:"created_at"`
}

type timeWindowResponse struct {
	StartTime       string   `json:"start_time"`
	EndTime         string   `json:"end_time"`
	Timezone        string   `json:"timezone"`
	ExcludeWeekends bool     `json:"exclude_weekends"`
	Holidays        []string `json:"holidays,omitempty"`
}

type listSchedulesResponse struct {
	Schedules []scheduleResponse `json:"schedules"`
}

func (h *HandlerSet) createSchedule(ctx *fiber.Ctx) error {
	var req createScheduleRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	input := schedule.CreateScheduleInput{
		CampaignID:     req.CampaignID,
		Type:           schedule.Type(req.Type),
		StartAt:        req.StartAt,
		MaxOccurrences: req.MaxOccurrences,
		BatchSize:      req.BatchSize,
	}

	if req.RepeatInterval != "" {
		d, err := time.ParseDuration(req.RepeatInterval)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid repeat_interval")
		}
		input.RepeatInterval = d
	}

	if req.Window != nil {
		w := schedule.TimeWindow{
			StartTime:       req.Window.StartTime,
			EndTime:         req.Window.EndTime,
			Timezone:        req.Window.Timezone,
			ExcludeWeekends: req.Window.ExcludeWeekends,
		}
		if len(req.Window.Holidays) > 0 {
			w.Holidays = make(map[string]struct{}, len(req.Window.Holidays))
			for _, day := range req.Window.Holidays {
				w.Holidays[day] = struct{}{}
			}
		}
		input.Window = &w
	}

	sched, err := h.scheduler.CreateSchedule(ctx.Context(), input)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(toScheduleResponse(sched))
}

func (h *HandlerSet) listSchedules(ctx *fiber.Ctx) error {
	activeOnly := ctx.QueryBool("active_only", false)

	schedules := h.scheduler.ListSchedules(activeOnly)
	resp := listSchedulesResponse{Schedules: make([]scheduleResponse, 0, len(schedules))}
	for _, s := range schedules {
		resp.Schedules = append(resp.Schedules, toScheduleResponse(s))
	}
	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) upcomingSchedules(ctx *fiber.Ctx) error {
	within := h.container.Config.Scheduler.UpcomingHorizon
	if raw := ctx.Query("within"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid within duration")
		}
		within = d
	}
	if within <= 0 {
		within = 24 * time.Hour
	}

	schedules := h.scheduler.GetUpcoming(within)
	resp := listSchedulesResponse{Schedules: make([]scheduleResponse, 0, len(schedules))}
	for _, s := range schedules {
		resp.Schedules = append(resp.Schedules, toScheduleResponse(s))
	}
	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) getSchedule(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid schedule id")
	}

	sched, err := h.scheduler.GetSchedule(id)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toScheduleResponse(sched))
}

func (h *HandlerSet) cancelSchedule(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid schedule id")
	}
	if err := h.scheduler.CancelSchedule(id); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func toScheduleResponse(s *schedule.Schedule) scheduleResponse {
	resp := scheduleResponse{
		ID:             s.ID,
		CampaignID:     s.CampaignID,
		Type:           s.Type,
		StartAt:        s.StartAt,
		MaxOccurrences: s.MaxOccurrences,
		BatchSize:      s.BatchSize,
		Occurrences:    s.Occurrences,
		LastRun:        s.LastRun,
		NextRun:        s.NextRun,
		Active:         s.Active,
		CreatedAt:      s.CreatedAt,
	}
	if s.RepeatInterval > 0 {
		resp.RepeatInterval = s.RepeatInterval.String()
	}
	if s.Window != nil {
		w := timeWindowResponse{
			StartTime:       s.Window.StartTime,
			EndTime:         s.Window.EndTime,
			Timezone:        s.Window.Timezone,
			ExcludeWeekends: s.Window.ExcludeWeekends,
		}
		for day := range s.Window.Holidays {
			w.Holidays = append(w.Holidays, day)
		}
		resp.Window = &w
	}
	return resp
}
