// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/amirphl/signage-publisher/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	Save(ctx context.Context, entity *T) error
	Update(ctx context.Context, entity *T) error
}

// AdAssetRepository defines operations for advertisement assets
type AdAssetRepository interface {
	Repository[models.AdAsset]
	ByFilter(ctx context.Context, filter models.AdAssetFilter, orderBy string, limit, offset int) ([]*models.AdAsset, error)
	LatestCanonical(ctx context.Context, advertiserID uint) (*models.AdAsset, error)
	LatestForAdvertiser(ctx context.Context, advertiserID uint) (*models.AdAsset, error)
	ByYodeckMediaID(ctx context.Context, mediaID int64) (*models.AdAsset, error)
	ByYodeckMediaIDs(ctx context.Context, mediaIDs []int64) ([]*models.AdAsset, error)
	SupersedeOthers(ctx context.Context, advertiserID, keepID uint, at time.Time) (int64, error)
	ClearYodeckMediaID(ctx context.Context, assetID uint, mediaID int64) (bool, error)
	UpdatePublishStatus(ctx context.Context, assetID uint, status string, publishErr *string) error
	TransitionReadiness(ctx context.Context, assetID uint, from []string, to string, fields map[string]any) (bool, error)
	SetCanonicalMedia(ctx context.Context, assetID uint, mediaID int64, at time.Time) error
}

// UploadJobRepository defines operations for the upload job ledger
type UploadJobRepository interface {
	Repository[models.UploadJob]
	ByCorrelationID(ctx context.Context, correlationID string) (*models.UploadJob, error)
	ActiveByKey(ctx context.Context, key string) (*models.UploadJob, error)
	LatestByAdvertiserPath(ctx context.Context, advertiserID uint, assetPath string, statuses []string) (*models.UploadJob, error)
	CountAttempts(ctx context.Context, advertiserID uint, assetPath string) (int64, error)
	ListRecent(ctx context.Context, advertiserID uint, limit int) ([]*models.UploadJob, error)
	ReleaseStale(ctx context.Context, jobID uint, key string, code, message string, at time.Time) (bool, error)
}

// PublishQueueRepository defines operations for the durable publish queue
type PublishQueueRepository interface {
	Repository[models.PublishQueueItem]
	ActiveByKey(ctx context.Context, key string) (*models.PublishQueueItem, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.PublishQueueItem, error)
	Claim(ctx context.Context, id uint, now time.Time) (bool, error)
	Transition(ctx context.Context, id uint, from []string, fields map[string]any) (bool, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
	ListStarted(ctx context.Context, since time.Time, limit int) ([]*models.PublishQueueItem, error)
	ListStaleProcessing(ctx context.Context, startedBefore time.Time, limit int) ([]*models.PublishQueueItem, error)
	ByFilter(ctx context.Context, filter models.PublishQueueFilter, limit, offset int) ([]*models.PublishQueueItem, error)
}

// LocationRepository defines operations for locations
type LocationRepository interface {
	Repository[models.Location]
	SetCanonicalPlaylist(ctx context.Context, locationID uint, playlistID *int64, name *string) error
}

// ScreenRepository defines operations for screens
type ScreenRepository interface {
	Repository[models.Screen]
	ByIDWithLocation(ctx context.Context, id uint) (*models.Screen, error)
	ByIDs(ctx context.Context, ids []uint) ([]*models.Screen, error)
	ListActive(ctx context.Context, limit, offset int) ([]*models.Screen, error)
}

// PlacementRepository defines operations for placements
type PlacementRepository interface {
	Repository[models.Placement]
	LiveForAdvertiser(ctx context.Context, advertiserID uint, at time.Time) ([]*models.Placement, error)
	LiveForScreen(ctx context.Context, screenID uint, at time.Time) ([]*models.Placement, error)
}

// PublishTraceRepository defines operations for publish traces
type PublishTraceRepository interface {
	Save(ctx context.Context, trace *models.PublishTrace) error
	ByCorrelationID(ctx context.Context, correlationID string) ([]*models.PublishTrace, error)
	LatestForScreen(ctx context.Context, screenID uint) (*models.PublishTrace, error)
}
