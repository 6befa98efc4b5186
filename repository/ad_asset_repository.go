package repository

import (
	"context"
	"errors"
	"time"

	"github.com/amirphl/signage-publisher/models"
	"github.com/amirphl/signage-publisher/utils"
	"gorm.io/gorm"
)

// AdAssetRepositoryImpl implements AdAssetRepository interface.
type AdAssetRepositoryImpl struct {
	*BaseRepository[models.AdAsset]
}

// NewAdAssetRepository creates a new ad asset repository.
func NewAdAssetRepository(db *gorm.DB) AdAssetRepository {
	return &AdAssetRepositoryImpl{
		BaseRepository: NewBaseRepository[models.AdAsset](db),
	}
}

// applyFilter applies filter criteria to a GORM query.
func (r *AdAssetRepositoryImpl) applyFilter(query *gorm.DB, filter models.AdAssetFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.AdvertiserID != nil {
		query = query.Where("advertiser_id = ?", *filter.AdvertiserID)
	}
	if filter.ReadinessStatus != nil {
		query = query.Where("readiness_status = ?", *filter.ReadinessStatus)
	}
	if filter.IsSuperseded != nil {
		query = query.Where("is_superseded = ?", *filter.IsSuperseded)
	}
	if filter.YodeckMediaID != nil {
		query = query.Where("yodeck_media_id = ?", *filter.YodeckMediaID)
	}
	if filter.HasMedia != nil {
		if *filter.HasMedia {
			query = query.Where("yodeck_media_id IS NOT NULL")
		} else {
			query = query.Where("yodeck_media_id IS NULL")
		}
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at > ?", *filter.CreatedAfter)
	}
	return query
}

// ByFilter retrieves ad assets based on filter criteria.
func (r *AdAssetRepositoryImpl) ByFilter(ctx context.Context, filter models.AdAssetFilter, orderBy string, limit, offset int) ([]*models.AdAsset, error) {
	query := r.applyFilter(r.getDB(ctx).Model(&models.AdAsset{}), filter)

	if orderBy == "" {
		orderBy = "id DESC"
	}
	query = query.Order(orderBy)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var rows []*models.AdAsset
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *AdAssetRepositoryImpl) first(ctx context.Context, filter models.AdAssetFilter) (*models.AdAsset, error) {
	rows, err := r.ByFilter(ctx, filter, "created_at DESC, id DESC", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// LatestCanonical returns the most recent non-superseded READY_FOR_YODECK asset.
func (r *AdAssetRepositoryImpl) LatestCanonical(ctx context.Context, advertiserID uint) (*models.AdAsset, error) {
	return r.first(ctx, models.AdAssetFilter{
		AdvertiserID:    &advertiserID,
		ReadinessStatus: utils.ToPtr(models.ReadinessReadyForYodeck),
		IsSuperseded:    utils.ToPtr(false),
	})
}

// LatestForAdvertiser returns the newest non-superseded asset whatever its status.
func (r *AdAssetRepositoryImpl) LatestForAdvertiser(ctx context.Context, advertiserID uint) (*models.AdAsset, error) {
	return r.first(ctx, models.AdAssetFilter{
		AdvertiserID: &advertiserID,
		IsSuperseded: utils.ToPtr(false),
	})
}

func (r *AdAssetRepositoryImpl) ByYodeckMediaID(ctx context.Context, mediaID int64) (*models.AdAsset, error) {
	return r.first(ctx, models.AdAssetFilter{YodeckMediaID: &mediaID})
}

func (r *AdAssetRepositoryImpl) ByYodeckMediaIDs(ctx context.Context, mediaIDs []int64) ([]*models.AdAsset, error) {
	if len(mediaIDs) == 0 {
		return nil, nil
	}
	var rows []*models.AdAsset
	if err := r.getDB(ctx).Where("yodeck_media_id IN ?", mediaIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// SupersedeOthers marks every other non-superseded READY asset of the advertiser superseded
// and releases their canonical key.
func (r *AdAssetRepositoryImpl) SupersedeOthers(ctx context.Context, advertiserID, keepID uint, at time.Time) (int64, error) {
	return r.updateColumns(ctx, map[string]any{
		"is_superseded": true,
		"superseded_at": at,
		"canonical_key": nil,
		"updated_at":    at,
	}, "advertiser_id = ? AND id <> ? AND is_superseded = ? AND readiness_status = ?",
		advertiserID, keepID, false, models.ReadinessReadyForYodeck)
}

// ClearYodeckMediaID drops the canonical external id, but only if it still points at mediaID.
func (r *AdAssetRepositoryImpl) ClearYodeckMediaID(ctx context.Context, assetID uint, mediaID int64) (bool, error) {
	n, err := r.updateColumns(ctx, map[string]any{
		"yodeck_media_id": nil,
		"uploaded_at":     nil,
		"updated_at":      utils.UTCNow(),
	}, "id = ? AND yodeck_media_id = ?", assetID, mediaID)
	return n > 0, err
}

func (r *AdAssetRepositoryImpl) UpdatePublishStatus(ctx context.Context, assetID uint, status string, publishErr *string) error {
	n, err := r.updateColumns(ctx, map[string]any{
		"publish_status": status,
		"publish_error":  publishErr,
		"updated_at":     utils.UTCNow(),
	}, "id = ?", assetID)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("ad asset not found")
	}
	return nil
}

// TransitionReadiness moves the asset to status "to" only if its current status is one
// of from. Extra fields are written in the same statement.
func (r *AdAssetRepositoryImpl) TransitionReadiness(ctx context.Context, assetID uint, from []string, to string, fields map[string]any) (bool, error) {
	updates := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		updates[k] = v
	}
	updates["readiness_status"] = to
	updates["updated_at"] = utils.UTCNow()
	n, err := r.updateColumns(ctx, updates, "id = ? AND readiness_status IN ?", assetID, from)
	return n == 1, err
}

// SetCanonicalMedia records the external media id a successful upload produced.
func (r *AdAssetRepositoryImpl) SetCanonicalMedia(ctx context.Context, assetID uint, mediaID int64, at time.Time) error {
	n, err := r.updateColumns(ctx, map[string]any{
		"yodeck_media_id": mediaID,
		"uploaded_at":     at,
		"updated_at":      at,
	}, "id = ?", assetID)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("ad asset not found")
	}
	return nil
}
