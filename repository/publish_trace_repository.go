package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/signage-publisher/models"
	"gorm.io/gorm"
)

// PublishTraceRepositoryImpl implements PublishTraceRepository interface.
type PublishTraceRepositoryImpl struct {
	*BaseRepository[models.PublishTrace]
}

func NewPublishTraceRepository(db *gorm.DB) PublishTraceRepository {
	return &PublishTraceRepositoryImpl{
		BaseRepository: NewBaseRepository[models.PublishTrace](db),
	}
}

func (r *PublishTraceRepositoryImpl) ByCorrelationID(ctx context.Context, correlationID string) ([]*models.PublishTrace, error) {
	var rows []*models.PublishTrace
	err := r.getDB(ctx).Where("correlation_id = ?", correlationID).Order("id ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list traces: %w", err)
	}
	return rows, nil
}

func (r *PublishTraceRepositoryImpl) LatestForScreen(ctx context.Context, screenID uint) (*models.PublishTrace, error) {
	var trace models.PublishTrace
	err := r.getDB(ctx).Where("screen_id = ?", screenID).Order("id DESC").First(&trace).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find latest trace: %w", err)
	}
	return &trace, nil
}
