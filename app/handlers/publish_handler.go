package handlers

import (
	"strings"

	"github.com/amirphl/signage-publisher/app/dto"
	businessflow "github.com/amirphl/signage-publisher/business_flow"
	"github.com/gofiber/fiber/v3"
)

// PublishHandlerInterface defines the contract for publish and playback health handlers
type PublishHandlerInterface interface {
	Enqueue(c fiber.Ctx) error
	PublishNow(c fiber.Ctx) error
	Traces(c fiber.Ctx) error
	ScreenHealth(c fiber.Ctx) error
	RepairScreen(c fiber.Ctx) error
	EnsureNonEmpty(c fiber.Ctx) error
}

// PublishHandler handles publish, health and repair requests
type PublishHandler struct {
	baseHandler
	queue   businessflow.PublishQueueFlow
	publish businessflow.PublishFlow
	health  businessflow.PlaybackHealthFlow
	seeder  businessflow.ContentGuaranteeFlow
}

// NewPublishHandler creates a new publish handler
func NewPublishHandler(
	queue businessflow.PublishQueueFlow,
	publish businessflow.PublishFlow,
	health businessflow.PlaybackHealthFlow,
	seeder businessflow.ContentGuaranteeFlow,
) *PublishHandler {
	return &PublishHandler{
		baseHandler: newBaseHandler(),
		queue:       queue,
		publish:     publish,
		health:      health,
		seeder:      seeder,
	}
}

// Enqueue gates an asset and queues it for background publishing. Repeated calls for an
// asset with open work return the existing item.
// @Router /api/v1/publish/enqueue [post]
func (h *PublishHandler) Enqueue(c fiber.Ctx) error {
	var req dto.EnqueuePublishRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", businessflow.CodeInvalidRequest, "", err.Error())
	}
	if ok, resp := h.validate(c, &req); !ok {
		return resp
	}

	ctx, cancel := createRequestContext(c, "/api/v1/publish/enqueue", defaultRequestTimeout)
	defer cancel()

	result, err := h.queue.Enqueue(ctx, businessflow.EnqueueRequest{
		AssetID:      req.AssetID,
		Priority:     req.Priority,
		ScheduledFor: req.ScheduledFor,
	})
	if err != nil {
		return h.flowError(c, err, "Failed to enqueue publish")
	}

	status := fiber.StatusOK
	message := "Publish already queued"
	if result.Created {
		status = fiber.StatusCreated
		message = "Publish queued"
	}
	return h.SuccessResponse(c, status, message, dto.EnqueuePublishResponse{
		ItemID:        result.ItemID,
		CorrelationID: result.CorrelationID,
		Status:        result.Status,
		Created:       result.Created,
	})
}

// PublishNow publishes the advertiser's canonical media to the given screens, or to all
// screens of live placements, and reports verified per-screen outcomes.
// @Router /api/v1/publish/now [post]
func (h *PublishHandler) PublishNow(c fiber.Ctx) error {
	var req dto.PublishNowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", businessflow.CodeInvalidRequest, "", err.Error())
	}
	if ok, resp := h.validate(c, &req); !ok {
		return resp
	}

	ctx, cancel := createRequestContext(c, "/api/v1/publish/now", longRequestTimeout)
	defer cancel()

	result, err := h.publish.BulkPublish(ctx, req.AdvertiserID, req.ScreenIDs)
	if err != nil {
		return h.flowError(c, err, "Failed to publish")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Publish finished with outcome "+result.Outcome, result)
}

// Traces returns the ordered publish log trail of one correlation id.
// @Router /api/v1/publish/traces/{correlation_id} [get]
func (h *PublishHandler) Traces(c fiber.Ctx) error {
	correlationID := strings.TrimSpace(c.Params("correlation_id"))
	if correlationID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "correlation_id is required", businessflow.CodeInvalidRequest, "", nil)
	}
	ctx, cancel := createRequestContext(c, "/api/v1/publish/traces/:correlation_id", defaultRequestTimeout)
	defer cancel()

	traces, err := h.publish.TracesByCorrelationID(ctx, correlationID)
	if err != nil {
		return h.flowError(c, err, "Failed to load traces")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Traces retrieved", traces)
}

// ScreenHealth diagnoses what a screen is actually playing. It never mutates anything.
// @Router /api/v1/screens/{id}/health [get]
func (h *PublishHandler) ScreenHealth(c fiber.Ctx) error {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid screen id", businessflow.CodeInvalidRequest, "", nil)
	}
	ctx, cancel := createRequestContext(c, "/api/v1/screens/:id/health", defaultRequestTimeout)
	defer cancel()

	report, err := h.health.GetPlaybackHealth(ctx, id)
	if err != nil {
		return h.flowError(c, err, "Failed to diagnose screen")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Screen diagnosed", report)
}

// RepairScreen executes the auto-repairable actions of a screen's diagnosis.
// @Router /api/v1/screens/{id}/repair [post]
func (h *PublishHandler) RepairScreen(c fiber.Ctx) error {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid screen id", businessflow.CodeInvalidRequest, "", nil)
	}
	ctx, cancel := createRequestContext(c, "/api/v1/screens/:id/repair", longRequestTimeout)
	defer cancel()

	result, err := h.health.RepairScreen(ctx, id)
	if err != nil {
		return h.flowError(c, err, "Failed to repair screen")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Screen repair finished", result)
}

// EnsureNonEmpty seeds an empty playlist with fallback content.
// @Router /api/v1/playlists/ensure-non-empty [post]
func (h *PublishHandler) EnsureNonEmpty(c fiber.Ctx) error {
	var req dto.EnsureNonEmptyRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", businessflow.CodeInvalidRequest, "", err.Error())
	}
	if ok, resp := h.validate(c, &req); !ok {
		return resp
	}

	ctx, cancel := createRequestContext(c, "/api/v1/playlists/ensure-non-empty", defaultRequestTimeout)
	defer cancel()

	result, err := h.seeder.EnsurePlaylistNonEmpty(ctx, req.PlaylistID)
	if err != nil {
		return h.flowError(c, err, "Failed to seed playlist")
	}
	if !result.OK {
		return h.ErrorResponse(c, fiber.StatusConflict, "Playlist could not be made non-empty",
			businessflow.CodeNoFallbackAvailable, businessflow.NextActionUpload, result)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Playlist has content", result)
}
