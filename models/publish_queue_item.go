package models

import (
	"time"

	"github.com/amirphl/signage-publisher/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Publish queue statuses
const (
	QueueStatusPending    = "PENDING"
	QueueStatusProcessing = "PROCESSING"
	QueueStatusRetrying   = "RETRYING"
	QueueStatusCompleted  = "COMPLETED"
	QueueStatusFailed     = "FAILED"
)

// PublishQueueItem is one unit of "insert this asset into live playlists" work.
//
// ActiveKey is "asset:<id>" while the item is PENDING, PROCESSING or RETRYING;
// the unique index keeps one non-terminal item per asset.
type PublishQueueItem struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	CorrelationID string     `gorm:"size:64;index;not null" json:"correlation_id"`
	AssetID       uint       `gorm:"not null;index" json:"asset_id"`
	AdvertiserID  uint       `gorm:"not null;index" json:"advertiser_id"`
	Status        string     `gorm:"type:varchar(32);not null;index:idx_publish_queue_dequeue,priority:1" json:"status"`
	Priority      int        `gorm:"not null;default:100;index:idx_publish_queue_dequeue,priority:2" json:"priority"`
	RetryCount    int        `gorm:"not null;default:0" json:"retry_count"`
	MaxRetries    int        `gorm:"not null;default:5" json:"max_retries"`
	ScheduledFor  *time.Time `gorm:"index" json:"scheduled_for,omitempty"`
	ActiveKey     *string    `gorm:"type:varchar(64);uniqueIndex" json:"-"`

	ErrorCode    *string `gorm:"type:varchar(64)" json:"error_code,omitempty"`
	ErrorMessage *string `gorm:"type:text" json:"error_message,omitempty"`

	Result datatypes.JSONType[PublishResultSnapshot] `json:"result"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"not null;index:idx_publish_queue_dequeue,priority:3" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null" json:"updated_at"`
}

func (PublishQueueItem) TableName() string { return "publish_queue_items" }

func (q *PublishQueueItem) BeforeCreate(tx *gorm.DB) error {
	if q.CorrelationID == "" {
		q.CorrelationID = utils.NewCorrelationID()
	}
	if q.Status == "" {
		q.Status = QueueStatusPending
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = utils.UTCNow()
	}
	if q.UpdatedAt.IsZero() {
		q.UpdatedAt = utils.UTCNow()
	}
	return nil
}

// IsTerminal reports whether the item reached COMPLETED or FAILED.
func (q *PublishQueueItem) IsTerminal() bool {
	return q.Status == QueueStatusCompleted || q.Status == QueueStatusFailed
}

// PublishResultSnapshot is what a completed queue item remembers of its publish run.
type PublishResultSnapshot struct {
	Outcome       string `json:"outcome,omitempty"`
	MediaID       int64  `json:"media_id,omitempty"`
	Total         int    `json:"total,omitempty"`
	Succeeded     int    `json:"succeeded,omitempty"`
	Partial       int    `json:"partial,omitempty"`
	Failed        int    `json:"failed,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// PublishQueueFilter represents filter criteria for queue listings.
type PublishQueueFilter struct {
	Status       *string `json:"status,omitempty"`
	AssetID      *uint   `json:"asset_id,omitempty"`
	AdvertiserID *uint   `json:"advertiser_id,omitempty"`
}
