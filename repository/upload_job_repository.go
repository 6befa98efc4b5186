package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/signage-publisher/models"
	"gorm.io/gorm"
)

// UploadJobRepositoryImpl implements UploadJobRepository interface.
type UploadJobRepositoryImpl struct {
	*BaseRepository[models.UploadJob]
}

// NewUploadJobRepository creates a new upload job repository.
func NewUploadJobRepository(db *gorm.DB) UploadJobRepository {
	return &UploadJobRepositoryImpl{
		BaseRepository: NewBaseRepository[models.UploadJob](db),
	}
}

func (r *UploadJobRepositoryImpl) firstWhere(ctx context.Context, query string, args ...any) (*models.UploadJob, error) {
	var job models.UploadJob
	err := r.getDB(ctx).Where(query, args...).Order("created_at DESC, id DESC").First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find upload job: %w", err)
	}
	return &job, nil
}

func (r *UploadJobRepositoryImpl) ByCorrelationID(ctx context.Context, correlationID string) (*models.UploadJob, error) {
	return r.firstWhere(ctx, "correlation_id = ?", correlationID)
}

// ActiveByKey returns the job currently holding the in-flight guard for key.
func (r *UploadJobRepositoryImpl) ActiveByKey(ctx context.Context, key string) (*models.UploadJob, error) {
	return r.firstWhere(ctx, "active_key = ?", key)
}

// LatestByAdvertiserPath returns the newest job for the pair, optionally restricted to statuses.
func (r *UploadJobRepositoryImpl) LatestByAdvertiserPath(ctx context.Context, advertiserID uint, assetPath string, statuses []string) (*models.UploadJob, error) {
	if len(statuses) == 0 {
		return r.firstWhere(ctx, "advertiser_id = ? AND asset_path = ?", advertiserID, assetPath)
	}
	return r.firstWhere(ctx, "advertiser_id = ? AND asset_path = ? AND status IN ?", advertiserID, assetPath, statuses)
}

func (r *UploadJobRepositoryImpl) CountAttempts(ctx context.Context, advertiserID uint, assetPath string) (int64, error) {
	var n int64
	err := r.getDB(ctx).Model(&models.UploadJob{}).
		Where("advertiser_id = ? AND asset_path = ?", advertiserID, assetPath).
		Count(&n).Error
	return n, err
}

func (r *UploadJobRepositoryImpl) ListRecent(ctx context.Context, advertiserID uint, limit int) ([]*models.UploadJob, error) {
	query := r.getDB(ctx).Where("advertiser_id = ?", advertiserID).Order("created_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []*models.UploadJob
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ReleaseStale force-fails an in-flight job that still holds key, freeing the guard.
func (r *UploadJobRepositoryImpl) ReleaseStale(ctx context.Context, jobID uint, key string, code, message string, at time.Time) (bool, error) {
	n, err := r.updateColumns(ctx, map[string]any{
		"status":             models.UploadStatusPermanentFail,
		"active_key":         nil,
		"failure_class":      models.FailureClassTransient,
		"last_error_code":    code,
		"last_error_message": message,
		"completed_at":       at,
		"updated_at":         at,
	}, "id = ? AND active_key = ?", jobID, key)
	return n == 1, err
}
