package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/signage-publisher/models"
	"github.com/amirphl/signage-publisher/utils"
	"gorm.io/gorm"
)

// LocationRepositoryImpl implements LocationRepository interface.
type LocationRepositoryImpl struct {
	*BaseRepository[models.Location]
}

func NewLocationRepository(db *gorm.DB) LocationRepository {
	return &LocationRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Location](db),
	}
}

// SetCanonicalPlaylist memoizes (or clears, with nil) the location's canonical playlist.
func (r *LocationRepositoryImpl) SetCanonicalPlaylist(ctx context.Context, locationID uint, playlistID *int64, name *string) error {
	n, err := r.updateColumns(ctx, map[string]any{
		"yodeck_playlist_id": playlistID,
		"playlist_name":      name,
		"updated_at":         utils.UTCNow(),
	}, "id = ?", locationID)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("location %d not found", locationID)
	}
	return nil
}

// ScreenRepositoryImpl implements ScreenRepository interface.
type ScreenRepositoryImpl struct {
	*BaseRepository[models.Screen]
}

func NewScreenRepository(db *gorm.DB) ScreenRepository {
	return &ScreenRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Screen](db),
	}
}

func (r *ScreenRepositoryImpl) ByIDWithLocation(ctx context.Context, id uint) (*models.Screen, error) {
	var screen models.Screen
	err := r.getDB(ctx).Preload("Location").First(&screen, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find screen %d: %w", id, err)
	}
	return &screen, nil
}

func (r *ScreenRepositoryImpl) ByIDs(ctx context.Context, ids []uint) ([]*models.Screen, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []*models.Screen
	if err := r.getDB(ctx).Preload("Location").Where("id IN ?", ids).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ScreenRepositoryImpl) ListActive(ctx context.Context, limit, offset int) ([]*models.Screen, error) {
	query := r.getDB(ctx).Preload("Location").Where("is_active = ?", true).Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.Screen
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// PlacementRepositoryImpl implements PlacementRepository interface.
type PlacementRepositoryImpl struct {
	*BaseRepository[models.Placement]
}

func NewPlacementRepository(db *gorm.DB) PlacementRepository {
	return &PlacementRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Placement](db),
	}
}

func (r *PlacementRepositoryImpl) live(ctx context.Context, column string, id uint, at time.Time) ([]*models.Placement, error) {
	var rows []*models.Placement
	err := r.getDB(ctx).
		Where(column+" = ? AND status = ?", id, models.PlacementActive).
		Where("starts_at IS NULL OR starts_at <= ?", at).
		Where("ends_at IS NULL OR ends_at > ?", at).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list live placements: %w", err)
	}
	return rows, nil
}

// LiveForAdvertiser returns the advertiser's placements active at the given time.
func (r *PlacementRepositoryImpl) LiveForAdvertiser(ctx context.Context, advertiserID uint, at time.Time) ([]*models.Placement, error) {
	return r.live(ctx, "advertiser_id", advertiserID, at)
}

// LiveForScreen returns the placements running on a screen at the given time.
func (r *PlacementRepositoryImpl) LiveForScreen(ctx context.Context, screenID uint, at time.Time) ([]*models.Placement, error) {
	return r.live(ctx, "screen_id", screenID, at)
}
