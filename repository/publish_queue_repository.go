package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/signage-publisher/models"
	"gorm.io/gorm"
)

// PublishQueueRepositoryImpl implements PublishQueueRepository interface.
type PublishQueueRepositoryImpl struct {
	*BaseRepository[models.PublishQueueItem]
}

// NewPublishQueueRepository creates a new publish queue repository.
func NewPublishQueueRepository(db *gorm.DB) PublishQueueRepository {
	return &PublishQueueRepositoryImpl{
		BaseRepository: NewBaseRepository[models.PublishQueueItem](db),
	}
}

func (r *PublishQueueRepositoryImpl) ActiveByKey(ctx context.Context, key string) (*models.PublishQueueItem, error) {
	var item models.PublishQueueItem
	err := r.getDB(ctx).Where("active_key = ?", key).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find active queue item: %w", err)
	}
	return &item, nil
}

// ListDue returns dequeue candidates in dequeue order: lowest priority value first,
// then oldest, PENDING or RETRYING with no future schedule.
func (r *PublishQueueRepositoryImpl) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.PublishQueueItem, error) {
	query := r.getDB(ctx).
		Where("status IN ?", []string{models.QueueStatusPending, models.QueueStatusRetrying}).
		Where("scheduled_for IS NULL OR scheduled_for <= ?", now).
		Order("priority ASC, created_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []*models.PublishQueueItem
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list due queue items: %w", err)
	}
	return rows, nil
}

// Claim moves a due item to PROCESSING. It returns false if another worker got there first.
func (r *PublishQueueRepositoryImpl) Claim(ctx context.Context, id uint, now time.Time) (bool, error) {
	n, err := r.updateColumns(ctx, map[string]any{
		"status":     models.QueueStatusProcessing,
		"started_at": now,
		"updated_at": now,
	}, "id = ? AND status IN ? AND (scheduled_for IS NULL OR scheduled_for <= ?)",
		id, []string{models.QueueStatusPending, models.QueueStatusRetrying}, now)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Transition applies fields only if the item is still in one of the from statuses.
func (r *PublishQueueRepositoryImpl) Transition(ctx context.Context, id uint, from []string, fields map[string]any) (bool, error) {
	n, err := r.updateColumns(ctx, fields, "id = ? AND status IN ?", id, from)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PublishQueueRepositoryImpl) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Total  int64
	}
	err := r.getDB(ctx).Model(&models.PublishQueueItem{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count queue items: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}

// ListStarted returns items that left the queue since the given time.
func (r *PublishQueueRepositoryImpl) ListStarted(ctx context.Context, since time.Time, limit int) ([]*models.PublishQueueItem, error) {
	query := r.getDB(ctx).
		Where("started_at IS NOT NULL AND started_at >= ?", since).
		Order("started_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []*models.PublishQueueItem
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *PublishQueueRepositoryImpl) ListStaleProcessing(ctx context.Context, startedBefore time.Time, limit int) ([]*models.PublishQueueItem, error) {
	query := r.getDB(ctx).
		Where("status = ? AND started_at < ?", models.QueueStatusProcessing, startedBefore).
		Order("started_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []*models.PublishQueueItem
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *PublishQueueRepositoryImpl) ByFilter(ctx context.Context, filter models.PublishQueueFilter, limit, offset int) ([]*models.PublishQueueItem, error) {
	query := r.getDB(ctx).Model(&models.PublishQueueItem{})
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.AssetID != nil {
		query = query.Where("asset_id = ?", *filter.AssetID)
	}
	if filter.AdvertiserID != nil {
		query = query.Where("advertiser_id = ?", *filter.AdvertiserID)
	}
	query = query.Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.PublishQueueItem
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
