package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/voice-batch-engine/internal/domain"
	"github.com/acme/voice-batch-engine/internal/engine"
)

type createCampaignRequest struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	AccountID   string                `json:"account_id"`
	CreatedBy   string                `json:"created_by"`
	Config      campaignConfigRequest `json:"config"`
}

type campaignConfigRequest struct {
	ConcurrentCalls   int               `json:"concurrent_calls"`
	MaxCallDuration   string            `json:"max_call_duration"`
	RetryAttempts     int               `json:"retry_attempts"`
	RetryDelay        string            `json:"retry_delay"`
	CallWindowStart   string            `json:"call_window_start"`
	CallWindowEnd     string            `json:"call_window_end"`
	Timezone          string            `json:"timezone"`
	ExcludeWeekends   bool              `json:"exclude_weekends"`
	STTProvider       string            `json:"stt_provider"`
	TTSProvider       string            `json:"tts_provider"`
	LLMProvider       string            `json:"llm_provider"`
	TelephonyProvider string            `json:"telephony_provider"`
	Metadata          map[string]string `json:"metadata"`
}

type contactRequest struct {
	Phone    string         `json:"phone"`
	Name     string         `json:"name"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"metadata"`
}

type addContactsRequest struct {
	Contacts []contactRequest `json:"contacts"`
	Validate bool             `json:"validate"`
}

type startCampaignRequest struct {
	BatchSize int `json:"batch_size"`
}

type campaignResponse struct {
	ID              uuid.UUID             `json:"id"`
	Name            string                `json:"name"`
	Description     string                `json:"description"`
	AccountID       string                `json:"account_id"`
	CreatedBy       string                `json:"created_by"`
	Status          domain.CampaignStatus `json:"status"`
	ContactCount    int                   `json:"contact_count"`
	JobCount        int                   `json:"job_count"`
	TotalCalls      int                   `json:"total_calls"`
	CompletedCalls  int                   `json:"completed_calls"`
	SuccessfulCalls int                   `json:"successful_calls"`
	FailedCalls     int                   `json:"failed_calls"`
	ProgressPercent float64               `json:"progress_percent"`
	SuccessRate     float64               `json:"success_rate"`
	CreatedAt       time.Time             `json:"created_at"`
	StartedAt       *time.Time            `json:"started_at,omitempty"`
	CompletedAt     *time.Time            `json:"completed_at,omitempty"`
}

type listCampaignsResponse struct {
	Campaigns []campaignResponse `json:"campaigns"`
}

type addContactsResponse struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

type callResultResponse struct {
	CampaignID      uuid.UUID            `json:"campaign_id"`
	JobID           uuid.UUID            `json:"job_id"`
	Phone           string               `json:"phone"`
	ContactName     string               `json:"contact_name,omitempty"`
	Status          domain.ContactStatus `json:"status"`
	Outcome         *domain.CallOutcome  `json:"outcome,omitempty"`
	DurationSeconds float64              `json:"duration_seconds"`
	StartedAt       time.Time            `json:"started_at"`
	EndedAt         time.Time            `json:"ended_at"`
	Transcript      string               `json:"transcript,omitempty"`
	ExtractedData   map[string]any       `json:"extracted_data,omitempty"`
	RecordingURL    string               `json:"recording_url,omitempty"`
	Error           string               `json:"error,omitempty"`
}

type listResultsResponse struct {
	Results []callResultResponse `json:"results"`
}

type campaignStatsResponse struct {
	CampaignID      uuid.UUID             `json:"campaign_id"`
	Status          domain.CampaignStatus `json:"status"`
	TotalCalls      int                   `json:"total_calls"`
	CompletedCalls  int                   `json:"completed_calls"`
	SuccessfulCalls int                   `json:"successful_calls"`
	FailedCalls     int                   `json:"failed_calls"`
	ProgressPercent float64               `json:"progress_percent"`
	SuccessRate     float64               `json:"success_rate"`
}

func (h *HandlerSet) createCampaign(ctx *fiber.Ctx) error {
	var req createCampaignRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	cfg, err := parseCampaignConfig(req.Config)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	campaign, err := h.engine.CreateCampaign(ctx.Context(), engine.CreateCampaignInput{
		Name:        req.Name,
		Description: req.Description,
		Config:      cfg,
		AccountID:   req.AccountID,
		CreatedBy:   req.CreatedBy,
	})
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) listCampaigns(ctx *fiber.Ctx) error {
	accountID := ctx.Query("account_id")
	status := domain.CampaignStatus(ctx.Query("status"))

	campaigns := h.engine.ListCampaigns(accountID, status)
	resp := listCampaignsResponse{Campaigns: make([]campaignResponse, 0, len(campaigns))}
	for _, c := range campaigns {
		resp.Campaigns = append(resp.Campaigns, toCampaignResponse(c))
	}

	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) getCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	campaign, err := h.engine.GetCampaign(id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) addContacts(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	var req addContactsRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	inputs := make([]engine.ContactInput, 0, len(req.Contacts))
	for _, c := range req.Contacts {
		inputs = append(inputs, engine.ContactInput{
			Phone:    c.Phone,
			Name:     c.Name,
			Email:    c.Email,
			Metadata: c.Metadata,
		})
	}

	res, err := h.engine.AddContacts(ctx.Context(), id, inputs, req.Validate)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(addContactsResponse{Added: res.Added, Skipped: res.Skipped})
}

func (h *HandlerSet) startCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	var req startCampaignRequest
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid request body")
		}
	}
	if req.BatchSize <= 0 {
		req.BatchSize = h.container.Config.Engine.DefaultBatchSize
	}

	if err := h.engine.StartCampaign(ctx.Context(), id, req.BatchSize); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusAccepted)
}

func (h *HandlerSet) pauseCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	if err := h.engine.PauseCampaign(id); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) resumeCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	if err := h.engine.ResumeCampaign(id); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) cancelCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	if err := h.engine.CancelCampaign(id); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) campaignStats(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	stats, err := h.engine.GetCampaignStats(id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(campaignStatsResponse{
		CampaignID:      stats.CampaignID,
		Status:          stats.Status,
		TotalCalls:      stats.TotalCalls,
		CompletedCalls:  stats.CompletedCalls,
		SuccessfulCalls: stats.SuccessfulCalls,
		FailedCalls:     stats.FailedCalls,
		ProgressPercent: stats.ProgressPercent,
		SuccessRate:     stats.SuccessRate,
	})
}

func (h *HandlerSet) campaignResults(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	results, err := h.engine.GetCampaignResults(id)
	if err != nil {
		// Campaigns evicted from memory may still have results in the
		// durable store.
		if store := h.container.Results(); store != nil {
			stored, _, storeErr := store.ListByCampaign(ctx.Context(), id, 500, nil)
			if storeErr == nil && len(stored) > 0 {
				results = stored
			} else {
				return translateError(err)
			}
		} else {
			return translateError(err)
		}
	}

	resp := listResultsResponse{Results: make([]callResultResponse, 0, len(results))}
	for _, r := range results {
		resp.Results = append(resp.Results, toCallResultResponse(r))
	}
	return ctx.Status(http.StatusOK).JSON(resp)
}

func parseCampaignConfig(req campaignConfigRequest) (domain.CampaignConfig, error) {
	cfg := domain.CampaignConfig{
		ConcurrentCalls:   req.ConcurrentCalls,
		RetryAttempts:     req.RetryAttempts,
		CallWindowStart:   req.CallWindowStart,
		CallWindowEnd:     req.CallWindowEnd,
		Timezone:          req.Timezone,
		ExcludeWeekends:   req.ExcludeWeekends,
		STTProvider:       req.STTProvider,
		TTSProvider:       req.TTSProvider,
		LLMProvider:       req.LLMProvider,
		TelephonyProvider: req.TelephonyProvider,
		Metadata:          req.Metadata,
	}

	if req.MaxCallDuration != "" {
		d, err := time.ParseDuration(req.MaxCallDuration)
		if err != nil {
			return domain.CampaignConfig{}, err
		}
		cfg.MaxCallDuration = d
	}
	if req.RetryDelay != "" {
		d, err := time.ParseDuration(req.RetryDelay)
		if err != nil {
			return domain.CampaignConfig{}, err
		}
		cfg.RetryDelay = d
	}
	return cfg, nil
}

func toCampaignResponse(c *domain.Campaign) campaignResponse {
	return campaignResponse{
		ID:              c.ID,
		Name:            c.Name,
		Description:     c.Description,
		AccountID:       c.AccountID,
		CreatedBy:       c.CreatedBy,
		Status:          c.Status,
		ContactCount:    len(c.Contacts),
		JobCount:        len(c.Jobs),
		TotalCalls:      c.TotalCalls,
		CompletedCalls:  c.CompletedCalls,
		SuccessfulCalls: c.SuccessfulCalls,
		FailedCalls:     c.FailedCalls,
		ProgressPercent: c.ProgressPercent(),
		SuccessRate:     c.SuccessRate(),
		CreatedAt:       c.CreatedAt,
		StartedAt:       c.StartedAt,
		CompletedAt:     c.CompletedAt,
	}
}

func toCallResultResponse(r domain.CallResult) callResultResponse {
	return callResultResponse{
		CampaignID:      r.CampaignID,
		JobID:           r.JobID,
		Phone:           r.Phone,
		ContactName:     r.ContactName,
		Status:          r.Status,
		Outcome:         r.Outcome,
		DurationSeconds: r.DurationSeconds,
		StartedAt:       r.StartedAt,
		EndedAt:         r.EndedAt,
		Transcript:      r.Transcript,
		ExtractedData:   r.ExtractedData,
		RecordingURL:    r.RecordingURL,
		Error:           r.Error,
	}
}
