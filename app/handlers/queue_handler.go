package handlers

import (
	"github.com/amirphl/signage-publisher/app/dto"
	businessflow "github.com/amirphl/signage-publisher/business_flow"
	"github.com/amirphl/signage-publisher/models"
	"github.com/amirphl/signage-publisher/utils"
	"github.com/gofiber/fiber/v3"
)

const defaultQueueListLimit = 50

// QueueHandlerInterface defines the contract for publish queue handlers
type QueueHandlerInterface interface {
	Stats(c fiber.Ctx) error
	List(c fiber.Ctx) error
	Get(c fiber.Ctx) error
	Retry(c fiber.Ctx) error
	Cancel(c fiber.Ctx) error
}

// QueueHandler handles publish queue inspection and control requests
type QueueHandler struct {
	baseHandler
	queue businessflow.PublishQueueFlow
}

// NewQueueHandler creates a new queue handler
func NewQueueHandler(queue businessflow.PublishQueueFlow) *QueueHandler {
	return &QueueHandler{baseHandler: newBaseHandler(), queue: queue}
}

// Stats returns queue counts by status and the recent average wait.
// @Router /api/v1/queue/stats [get]
func (h *QueueHandler) Stats(c fiber.Ctx) error {
	ctx, cancel := createRequestContext(c, "/api/v1/queue/stats", defaultRequestTimeout)
	defer cancel()

	stats, err := h.queue.Stats(ctx)
	if err != nil {
		return h.flowError(c, err, "Failed to load queue stats")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Queue stats retrieved", stats)
}

// List returns queue items, newest first.
// @Router /api/v1/queue/items [get]
func (h *QueueHandler) List(c fiber.Ctx) error {
	var req dto.QueueListRequest
	if err := c.Bind().Query(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid query parameters", businessflow.CodeInvalidRequest, "", err.Error())
	}
	if ok, resp := h.validate(c, &req); !ok {
		return resp
	}
	if req.Limit == 0 {
		req.Limit = defaultQueueListLimit
	}

	filter := models.PublishQueueFilter{}
	if req.Status != "" {
		filter.Status = utils.ToPtr(req.Status)
	}
	if req.AssetID > 0 {
		filter.AssetID = utils.ToPtr(req.AssetID)
	}
	if req.AdvertiserID > 0 {
		filter.AdvertiserID = utils.ToPtr(req.AdvertiserID)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/queue/items", defaultRequestTimeout)
	defer cancel()

	items, err := h.queue.List(ctx, filter, req.Limit, req.Offset)
	if err != nil {
		return h.flowError(c, err, "Failed to list queue items")
	}
	resp := dto.QueueListResponse{Items: make([]dto.QueueItemResponse, 0, len(items)), Limit: req.Limit, Offset: req.Offset}
	for _, item := range items {
		resp.Items = append(resp.Items, toQueueItemResponse(item))
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Queue items retrieved", resp)
}

// Get returns one queue item.
// @Router /api/v1/queue/items/{id} [get]
func (h *QueueHandler) Get(c fiber.Ctx) error {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid queue item id", businessflow.CodeInvalidRequest, "", nil)
	}
	ctx, cancel := createRequestContext(c, "/api/v1/queue/items/:id", defaultRequestTimeout)
	defer cancel()

	item, err := h.queue.Get(ctx, id)
	if err != nil {
		return h.flowError(c, err, "Failed to load queue item")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Queue item retrieved", toQueueItemResponse(item))
}

// Retry puts a FAILED or RETRYING item back to PENDING with a fresh retry budget.
// @Router /api/v1/queue/items/{id}/retry [post]
func (h *QueueHandler) Retry(c fiber.Ctx) error {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid queue item id", businessflow.CodeInvalidRequest, "", nil)
	}
	ctx, cancel := createRequestContext(c, "/api/v1/queue/items/:id/retry", defaultRequestTimeout)
	defer cancel()

	item, err := h.queue.Retry(ctx, id)
	if err != nil {
		return h.flowError(c, err, "Failed to retry queue item")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Queue item requeued", toQueueItemResponse(item))
}

// Cancel stops a PENDING or RETRYING item.
// @Router /api/v1/queue/items/{id}/cancel [post]
func (h *QueueHandler) Cancel(c fiber.Ctx) error {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid queue item id", businessflow.CodeInvalidRequest, "", nil)
	}
	ctx, cancel := createRequestContext(c, "/api/v1/queue/items/:id/cancel", defaultRequestTimeout)
	defer cancel()

	item, err := h.queue.Cancel(ctx, id)
	if err != nil {
		return h.flowError(c, err, "Failed to cancel queue item")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Queue item cancelled", toQueueItemResponse(item))
}

func toQueueItemResponse(item *models.PublishQueueItem) dto.QueueItemResponse {
	resp := dto.QueueItemResponse{
		ID:            item.ID,
		CorrelationID: item.CorrelationID,
		AssetID:       item.AssetID,
		AdvertiserID:  item.AdvertiserID,
		Status:        item.Status,
		Priority:      item.Priority,
		RetryCount:    item.RetryCount,
		MaxRetries:    item.MaxRetries,
		ScheduledFor:  item.ScheduledFor,
		ErrorCode:     item.ErrorCode,
		ErrorMessage:  item.ErrorMessage,
		StartedAt:     item.StartedAt,
		CompletedAt:   item.CompletedAt,
		CreatedAt:     item.CreatedAt,
		UpdatedAt:     item.UpdatedAt,
	}
	if snapshot := item.Result.Data(); snapshot.Outcome != "" {
		resp.Result = snapshot
	}
	return resp
}
