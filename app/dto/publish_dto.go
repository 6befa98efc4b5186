package dto

import "time"

// EnqueuePublishRequest asks for an asset to be published by the background worker.
type EnqueuePublishRequest struct {
	AssetID      uint       `json:"asset_id" validate:"required,gt=0"`
	Priority     *int       `json:"priority,omitempty" validate:"omitempty,gte=0,lte=1000"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
}

// EnqueuePublishResponse reports the queue item holding the publish work.
type EnqueuePublishResponse struct {
	ItemID        uint   `json:"item_id"`
	CorrelationID string `json:"correlation_id"`
	Status        string `json:"status"`
	Created       bool   `json:"created"`
}

// PublishNowRequest publishes an advertiser's canonical media synchronously.
type PublishNowRequest struct {
	AdvertiserID uint   `json:"advertiser_id" validate:"required,gt=0"`
	ScreenIDs    []uint `json:"screen_ids,omitempty" validate:"omitempty,max=200,dive,gt=0"`
}

// EnsureNonEmptyRequest targets one external playlist.
type EnsureNonEmptyRequest struct {
	PlaylistID int64 `json:"playlist_id" validate:"required,gt=0"`
}

// QueueListRequest filters queue listings.
type QueueListRequest struct {
	Status       string `query:"status" validate:"omitempty,oneof=PENDING PROCESSING RETRYING COMPLETED FAILED"`
	AssetID      uint   `query:"asset_id"`
	AdvertiserID uint   `query:"advertiser_id"`
	Limit        int    `query:"limit" validate:"omitempty,gte=1,lte=200"`
	Offset       int    `query:"offset" validate:"omitempty,gte=0"`
}

// QueueItemResponse is the API view of a queue item.
type QueueItemResponse struct {
	ID            uint       `json:"id"`
	CorrelationID string     `json:"correlation_id"`
	AssetID       uint       `json:"asset_id"`
	AdvertiserID  uint       `json:"advertiser_id"`
	Status        string     `json:"status"`
	Priority      int        `json:"priority"`
	RetryCount    int        `json:"retry_count"`
	MaxRetries    int        `json:"max_retries"`
	ScheduledFor  *time.Time `json:"scheduled_for,omitempty"`
	ErrorCode     *string    `json:"error_code,omitempty"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	Result        any        `json:"result,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// QueueListResponse wraps a page of queue items.
type QueueListResponse struct {
	Items  []QueueItemResponse `json:"items"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}
