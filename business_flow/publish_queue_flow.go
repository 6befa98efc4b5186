package businessflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"time"

	"github.com/amirphl/signage-publisher/config"
	"github.com/amirphl/signage-publisher/models"
	"github.com/amirphl/signage-publisher/repository"
	"github.com/amirphl/signage-publisher/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EnqueueRequest asks for an asset to be published to its advertiser's placements.
type EnqueueRequest struct {
	AssetID      uint
	AdvertiserID uint
	Priority     *int
	ScheduledFor *time.Time
}

// EnqueueResult reports the queue item that now represents the request.
type EnqueueResult struct {
	ItemID        uint   `json:"item_id"`
	CorrelationID string `json:"correlation_id"`
	Status        string `json:"status"`
	Created       bool   `json:"created"`
}

// QueueStats is a point-in-time view of the queue.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Retrying   int64 `json:"retrying"`
	AvgWaitMs  int64 `json:"avg_wait_ms"`
}

// PublishQueueFlow is the durable queue of publish work and its processing step.
type PublishQueueFlow interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (*EnqueueResult, error)
	DequeueNext(ctx context.Context) (*models.PublishQueueItem, error)
	MarkCompleted(ctx context.Context, itemID uint, result models.PublishResultSnapshot) (*models.PublishQueueItem, error)
	MarkFailed(ctx context.Context, itemID uint, failure error, canRetry bool) (*models.PublishQueueItem, error)
	Stats(ctx context.Context) (*QueueStats, error)
	Retry(ctx context.Context, itemID uint) (*models.PublishQueueItem, error)
	Cancel(ctx context.Context, itemID uint) (*models.PublishQueueItem, error)
	RequeueStale(ctx context.Context) (int, error)
	List(ctx context.Context, filter models.PublishQueueFilter, limit, offset int) ([]*models.PublishQueueItem, error)
	Get(ctx context.Context, itemID uint) (*models.PublishQueueItem, error)
	ProcessItem(ctx context.Context, item *models.PublishQueueItem) (*models.PublishQueueItem, error)
}

// PublishQueueFlowImpl implements PublishQueueFlow.
type PublishQueueFlowImpl struct {
	queueRepo repository.PublishQueueRepository
	assetRepo repository.AdAssetRepository
	readiness ReadinessFlow
	upload    UploadFlow
	publish   PublishFlow
	cfg       config.QueueConfig
	db        *gorm.DB
	logger    *log.Logger
}

// NewPublishQueueFlow creates a new publish queue flow instance.
func NewPublishQueueFlow(
	queueRepo repository.PublishQueueRepository,
	assetRepo repository.AdAssetRepository,
	readiness ReadinessFlow,
	upload UploadFlow,
	publish PublishFlow,
	cfg config.QueueConfig,
	db *gorm.DB,
	logger *log.Logger,
) PublishQueueFlow {
	if logger == nil {
		logger = log.Default()
	}
	return &PublishQueueFlowImpl{
		queueRepo: queueRepo,
		assetRepo: assetRepo,
		readiness: readiness,
		upload:    upload,
		publish:   publish,
		cfg:       cfg,
		db:        db,
		logger:    logger,
	}
}

func queueKey(assetID uint) string {
	return "asset:" + strconv.FormatUint(uint64(assetID), 10)
}

// BackoffDelay returns min(base * multiplier^retryCount, max).
func BackoffDelay(cfg config.QueueConfig, retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	delay := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(retryCount))
	if cfg.MaxDelay > 0 && (delay >= float64(cfg.MaxDelay) || math.IsInf(delay, 0) || math.IsNaN(delay)) {
		return cfg.MaxDelay
	}
	return time.Duration(delay)
}

// Enqueue creates a PENDING item for a READY asset, or returns the asset's existing
// non-terminal item.
func (f *PublishQueueFlowImpl) Enqueue(ctx context.Context, req EnqueueRequest) (*EnqueueResult, error) {
	if req.AssetID == 0 {
		return nil, NewBusinessError(CodeInvalidRequest, "asset id is required", nil)
	}
	asset, err := f.readiness.RequireReadyAsset(ctx, req.AssetID)
	if err != nil {
		return nil, err
	}
	if req.AdvertiserID != 0 && req.AdvertiserID != asset.AdvertiserID {
		return nil, NewBusinessErrorf(CodeInvalidRequest, "asset %d does not belong to advertiser %d", nil, asset.ID, req.AdvertiserID)
	}

	key := queueKey(asset.ID)
	if existing, err := f.queueRepo.ActiveByKey(ctx, key); err != nil {
		return nil, NewTransientError(CodeDatabaseError, "failed to check queue", err)
	} else if existing != nil {
		return &EnqueueResult{ItemID: existing.ID, CorrelationID: existing.CorrelationID, Status: existing.Status}, nil
	}

	priority := f.cfg.DefaultPriority
	if req.Priority != nil {
		priority = *req.Priority
	}
	item := &models.PublishQueueItem{
		AssetID:      asset.ID,
		AdvertiserID: asset.AdvertiserID,
		Status:       models.QueueStatusPending,
		Priority:     priority,
		MaxRetries:   f.cfg.MaxRetries,
		ScheduledFor: utils.TimeToUTCPtr(req.ScheduledFor),
		ActiveKey:    &key,
	}

	err = repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		if err := f.queueRepo.Save(txCtx, item); err != nil {
			return err
		}
		return f.assetRepo.UpdatePublishStatus(txCtx, asset.ID, models.AssetPublishQueued, nil)
	})
	if err != nil {
		if repository.IsUniqueViolation(err) {
			existing, lookupErr := f.queueRepo.ActiveByKey(ctx, key)
			if lookupErr == nil && existing != nil {
				return &EnqueueResult{ItemID: existing.ID, CorrelationID: existing.CorrelationID, Status: existing.Status}, nil
			}
		}
		return nil, NewTransientError(CodeDatabaseError, "failed to enqueue", err)
	}

	queueTransitionsTotal.WithLabelValues(models.QueueStatusPending).Inc()
	f.logger.Printf("queue: enqueued item=%d asset=%d advertiser=%d priority=%d", item.ID, asset.ID, asset.AdvertiserID, priority)
	return &EnqueueResult{ItemID: item.ID, CorrelationID: item.CorrelationID, Status: item.Status, Created: true}, nil
}

// DequeueNext claims the next due item. It returns nil when nothing is due.
func (f *PublishQueueFlowImpl) DequeueNext(ctx context.Context) (*models.PublishQueueItem, error) {
	now := utils.UTCNow()
	candidates, err := f.queueRepo.ListDue(ctx, now, 10)
	if err != nil {
		return nil, NewTransientError(CodeDatabaseError, "failed to list due items", err)
	}
	for _, candidate := range candidates {
		claimed, err := f.queueRepo.Claim(ctx, candidate.ID, now)
		if err != nil {
			return nil, NewTransientError(CodeDatabaseError, "failed to claim item", err)
		}
		if !claimed {
			continue
		}
		item, err := f.queueRepo.ByID(ctx, candidate.ID)
		if err != nil || item == nil {
			return nil, NewTransientError(CodeDatabaseError, "failed to reload claimed item", err)
		}
		queueTransitionsTotal.WithLabelValues(models.QueueStatusProcessing).Inc()
		return item, nil
	}
	return nil, nil
}

func (f *PublishQueueFlowImpl) Get(ctx context.Context, itemID uint) (*models.PublishQueueItem, error) {
	item, err := f.queueRepo.ByID(ctx, itemID)
	if err != nil {
		return nil, NewTransientError(CodeDatabaseError, "failed to load queue item", err)
	}
	if item == nil {
		return nil, NewBusinessErrorf(CodeQueueItemNotFound, "queue item %d not found", ErrQueueItemNotFound, itemID)
	}
	return item, nil
}

func (f *PublishQueueFlowImpl) List(ctx context.Context, filter models.PublishQueueFilter, limit, offset int) ([]*models.PublishQueueItem, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	items, err := f.queueRepo.ByFilter(ctx, filter, limit, offset)
	if err != nil {
		return nil, NewTransientError(CodeDatabaseError, "failed to list queue items", err)
	}
	return items, nil
}

// MarkCompleted finishes an item and marks its asset published.
func (f *PublishQueueFlowImpl) MarkCompleted(ctx context.Context, itemID uint, result models.PublishResultSnapshot) (*models.PublishQueueItem, error) {
	item, err := f.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.IsTerminal() {
		return item, nil
	}
	now := utils.UTCNow()
	item.Status = models.QueueStatusCompleted
	item.ActiveKey = nil
	item.ScheduledFor = nil
	item.ErrorCode = nil
	item.ErrorMessage = nil
	item.Result = datatypes.NewJSONType(result)
	item.CompletedAt = &now
	item.UpdatedAt = now

	err = repository.WithTransaction(context.WithoutCancel(ctx), f.db, func(txCtx context.Context) error {
		if err := f.queueRepo.Update(txCtx, item); err != nil {
			return err
		}
		return f.assetRepo.UpdatePublishStatus(txCtx, item.AssetID, models.AssetPublished, nil)
	})
	if err != nil {
		return nil, NewTransientError(CodeDatabaseError, "failed to complete queue item", err)
	}
	queueTransitionsTotal.WithLabelValues(models.QueueStatusCompleted).Inc()
	f.logger.Printf("queue: item=%d completed outcome=%s", item.ID, result.Outcome)
	return item, nil
}

// MarkFailed reschedules the item with exponential backoff, or fails it terminally when
// it cannot be retried or has used its retries. A terminal failure marks the asset
// publish-failed.
func (f *PublishQueueFlowImpl) MarkFailed(ctx context.Context, itemID uint, failure error, canRetry bool) (*models.PublishQueueItem, error) {
	item, err := f.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.IsTerminal() {
		return item, nil
	}

	code := ErrorCode(failure)
	if code == "" {
		code = CodeSignageUnavailable
	}
	msg := "unknown failure"
	if failure != nil {
		msg = utils.Truncate(failure.Error(), utils.RawResponseSnippetLength)
	}
	now := utils.UTCNow()
	item.ErrorCode = &code
	item.ErrorMessage = &msg
	item.UpdatedAt = now

	if !canRetry || item.RetryCount >= item.MaxRetries {
		item.Status = models.QueueStatusFailed
		item.ActiveKey = nil
		item.ScheduledFor = nil
		item.CompletedAt = &now
	} else {
		delay := BackoffDelay(f.cfg, item.RetryCount)
		next := now.Add(delay)
		item.RetryCount++
		item.Status = models.QueueStatusRetrying
		item.ScheduledFor = &next
	}

	err = repository.WithTransaction(context.WithoutCancel(ctx), f.db, func(txCtx context.Context) error {
		if err := f.queueRepo.Update(txCtx, item); err != nil {
			return err
		}
		if item.Status == models.QueueStatusFailed {
			return f.assetRepo.UpdatePublishStatus(txCtx, item.AssetID, models.AssetPublishFailed, &msg)
		}
		return nil
	})
	if err != nil {
		return nil, NewTransientError(CodeDatabaseError, "failed to record queue failure", err)
	}
	queueTransitionsTotal.WithLabelValues(item.Status).Inc()
	if item.Status == models.QueueStatusFailed {
		f.logger.Printf("queue: item=%d failed terminally code=%s retries=%d: %s", item.ID, code, item.RetryCount, msg)
	} else {
		f.logger.Printf("queue: item=%d retry=%d scheduled_for=%s code=%s", item.ID, item.RetryCount, item.ScheduledFor.Format(time.RFC3339), code)
	}
	return item, nil
}

// Stats counts items per status and averages the enqueue-to-start wait of recent items.
func (f *PublishQueueFlowImpl) Stats(ctx context.Context) (*QueueStats, error) {
	counts, err := f.queueRepo.CountByStatus(ctx)
	if err != nil {
		return nil, NewTransientError(CodeDatabaseError, "failed to count queue items", err)
	}
	stats := &QueueStats{
		Pending:    counts[models.QueueStatusPending],
		Processing: counts[models.QueueStatusProcessing],
		Completed:  counts[models.QueueStatusCompleted],
		Failed:     counts[models.QueueStatusFailed],
		Retrying:   counts[models.QueueStatusRetrying],
	}

	since := utils.UTCNow().Add(-f.cfg.WaitStatsWindow)
	started, err := f.queueRepo.ListStarted(ctx, since, f.cfg.WaitStatsSamples)
	if err != nil {
		return nil, NewTransientError(CodeDatabaseError, "failed to load queue wait samples", err)
	}
	var total int64
	var samples int64
	for _, item := range started {
		if item.StartedAt == nil {
			continue
		}
		total += utils.MillisBetween(item.CreatedAt, *item.StartedAt)
		samples++
	}
	if samples > 0 {
		stats.AvgWaitMs = total / samples
	}
	return stats, nil
}

// Retry returns a FAILED or RETRYING item to PENDING with a fresh retry budget.
func (f *PublishQueueFlowImpl) Retry(ctx context.Context, itemID uint) (*models.PublishQueueItem, error) {
	item, err := f.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status != models.QueueStatusFailed && item.Status != models.QueueStatusRetrying {
		return nil, NewBusinessErrorf(CodeQueueItemNotRetryable, "queue item %d is %s", ErrQueueItemNotRetryable, item.ID, item.Status).
			WithDetail("status", item.Status)
	}
	if _, err := f.readiness.RequireReadyAsset(ctx, item.AssetID); err != nil {
		return nil, err
	}

	key := queueKey(item.AssetID)
	now := utils.UTCNow()
	err = repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		ok, err := f.queueRepo.Transition(txCtx, item.ID, []string{models.QueueStatusFailed, models.QueueStatusRetrying}, map[string]any{
			"status":        models.QueueStatusPending,
			"retry_count":   0,
			"scheduled_for": nil,
			"active_key":    key,
			"error_code":    nil,
			"error_message": nil,
			"completed_at":  nil,
			"updated_at":    now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return ErrQueueItemNotRetryable
		}
		return f.assetRepo.UpdatePublishStatus(txCtx, item.AssetID, models.AssetPublishQueued, nil)
	})
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, NewBusinessErrorf(CodeQueueItemNotRetryable, "asset %d already has an active queue item", ErrQueueItemNotRetryable, item.AssetID)
		}
		if errors.Is(err, ErrQueueItemNotRetryable) {
			return nil, NewBusinessErrorf(CodeQueueItemNotRetryable, "queue item %d changed state concurrently", err, item.ID)
		}
		return nil, NewTransientError(CodeDatabaseError, "failed to retry queue item", err)
	}
	queueTransitionsTotal.WithLabelValues(models.QueueStatusPending).Inc()
	f.logger.Printf("queue: item=%d manually retried", item.ID)
	return f.Get(ctx, item.ID)
}

// Cancel fails an item that has not started processing. It is recorded as FAILED
// with code CANCELLED; cancelling an already failed item is a no-op.
func (f *PublishQueueFlowImpl) Cancel(ctx context.Context, itemID uint) (*models.PublishQueueItem, error) {
	item, err := f.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	switch item.Status {
	case models.QueueStatusFailed:
		return item, nil
	case models.QueueStatusCompleted, models.QueueStatusProcessing:
		return nil, NewBusinessErrorf(CodeQueueItemNotCancel, "queue item %d is %s", ErrQueueItemNotCancellable, item.ID, item.Status).
			WithDetail("status", item.Status)
	}

	now := utils.UTCNow()
	msg := "cancelled before processing"
	err = repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		ok, err := f.queueRepo.Transition(txCtx, item.ID, []string{models.QueueStatusPending, models.QueueStatusRetrying}, map[string]any{
			"status":        models.QueueStatusFailed,
			"active_key":    nil,
			"scheduled_for": nil,
			"error_code":    CodeCancelled,
			"error_message": msg,
			"completed_at":  now,
			"updated_at":    now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return ErrQueueItemNotCancellable
		}
		return f.assetRepo.UpdatePublishStatus(txCtx, item.AssetID, models.AssetPublishNone, nil)
	})
	if err != nil {
		if errors.Is(err, ErrQueueItemNotCancellable) {
			return nil, NewBusinessErrorf(CodeQueueItemNotCancel, "queue item %d started processing", err, item.ID)
		}
		return nil, NewTransientError(CodeDatabaseError, "failed to cancel queue item", err)
	}
	queueTransitionsTotal.WithLabelValues(models.QueueStatusFailed).Inc()
	f.logger.Printf("queue: item=%d cancelled", item.ID)
	return f.Get(ctx, item.ID)
}

// RequeueStale returns PROCESSING items whose worker went away to PENDING.
func (f *PublishQueueFlowImpl) RequeueStale(ctx context.Context) (int, error) {
	if f.cfg.StaleProcessing <= 0 {
		return 0, nil
	}
	now := utils.UTCNow()
	stale, err := f.queueRepo.ListStaleProcessing(ctx, now.Add(-f.cfg.StaleProcessing), 100)
	if err != nil {
		return 0, NewTransientError(CodeDatabaseError, "failed to list stale items", err)
	}
	requeued := 0
	for _, item := range stale {
		ok, err := f.queueRepo.Transition(ctx, item.ID, []string{models.QueueStatusProcessing}, map[string]any{
			"status":        models.QueueStatusPending,
			"scheduled_for": nil,
			"updated_at":    now,
		})
		if err != nil {
			return requeued, NewTransientError(CodeDatabaseError, "failed to requeue stale item", err)
		}
		if ok {
			requeued++
			f.logger.Printf("queue: item=%d requeued after stale processing since %s", item.ID, item.StartedAt.Format(time.RFC3339))
		}
	}
	return requeued, nil
}

// ProcessItem publishes a claimed item: gate, upload if the asset has no confirmed
// external media, then publish to every live placement. The item is marked completed
// or failed before returning; the returned error is the processing failure, if any.
func (f *PublishQueueFlowImpl) ProcessItem(ctx context.Context, item *models.PublishQueueItem) (*models.PublishQueueItem, error) {
	snapshot, failure := f.publishItem(ctx, item)
	if failure == nil {
		return f.MarkCompleted(ctx, item.ID, *snapshot)
	}

	canRetry := !IsPrecondition(failure) || IsUploadInProgress(failure)
	updated, err := f.MarkFailed(ctx, item.ID, failure, canRetry)
	if err != nil {
		return nil, err
	}
	return updated, failure
}

func (f *PublishQueueFlowImpl) publishItem(ctx context.Context, item *models.PublishQueueItem) (*models.PublishResultSnapshot, error) {
	asset, err := f.readiness.RequireReadyAsset(ctx, item.AssetID)
	if err != nil {
		return nil, err
	}

	if asset.YodeckMediaID == nil || asset.UploadedAt == nil {
		res, err := f.upload.UploadAsset(ctx, asset.ID)
		if err != nil {
			return nil, err
		}
		if !res.OK {
			// TERMINAL uploads already cleared the asset's media id, so a retry starts fresh.
			category := res.Category
			if category == CategoryTerminal {
				category = CategoryTransient
			}
			be := &BusinessError{
				Code:       res.ErrorCode,
				Message:    fmt.Sprintf("upload %s failed: %s", res.CorrelationID, res.ErrorMessage),
				Category:   category,
				NextAction: res.NextAction,
			}
			return nil, be
		}
	}

	bulk, err := f.publish.BulkPublish(ctx, asset.AdvertiserID, nil)
	if err != nil {
		return nil, err
	}
	snapshot := &models.PublishResultSnapshot{
		Outcome:       bulk.Outcome,
		MediaID:       bulk.MediaID,
		Total:         bulk.Summary.Total,
		Succeeded:     bulk.Summary.Succeeded,
		Partial:       bulk.Summary.Partial,
		Failed:        bulk.Summary.Failed,
		CorrelationID: bulk.CorrelationID,
	}
	switch bulk.Outcome {
	case models.PublishOutcomeSuccess, models.PublishOutcomeNoTargets:
		return snapshot, nil
	default:
		return nil, NewTransientError(CodeVerificationFailed,
			fmt.Sprintf("publish %s %s: %d of %d screens verified", bulk.CorrelationID, bulk.Outcome, bulk.Summary.Succeeded, bulk.Summary.Total), nil)
	}
}
