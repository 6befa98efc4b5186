package models

import (
	"time"

	"github.com/amirphl/signage-publisher/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Readiness statuses of an AdAsset
const (
	ReadinessPending            = "PENDING"
	ReadinessValidating         = "VALIDATING"
	ReadinessNeedsNormalization = "NEEDS_NORMALIZATION"
	ReadinessNormalizing        = "NORMALIZING"
	ReadinessReadyForYodeck     = "READY_FOR_YODECK"
	ReadinessRejected           = "REJECTED"
)

// Publish statuses of an AdAsset, maintained by the publish queue
const (
	AssetPublishNone   = "NONE"
	AssetPublishQueued = "QUEUED"
	AssetPublished     = "PUBLISHED"
	AssetPublishFailed = "PUBLISH_FAILED"
)

// AdAsset is one uploaded advertisement file and its readiness lifecycle.
//
// CanonicalKey is set only while the asset is the advertiser's non-superseded
// READY_FOR_YODECK asset; the unique index keeps at most one such row per advertiser.
type AdAsset struct {
	ID               uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID             uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"uuid"`
	AdvertiserID     uint      `gorm:"not null;index" json:"advertiser_id"`
	OriginalFilename string    `gorm:"type:varchar(255);not null" json:"original_filename"`
	MimeType         string    `gorm:"type:varchar(100)" json:"mime_type"`
	SizeBytes        int64     `gorm:"type:bigint;not null;default:0" json:"size_bytes"`

	RawPath        string  `gorm:"type:text;not null" json:"raw_path"`
	TranscodedPath *string `gorm:"type:text" json:"transcoded_path,omitempty"`
	NormalizedPath *string `gorm:"type:text" json:"normalized_path,omitempty"`

	ReadinessStatus   string  `gorm:"type:varchar(32);not null;index" json:"readiness_status"`
	RejectionReason   *string `gorm:"type:text" json:"rejection_reason,omitempty"`
	ValidationWarning *string `gorm:"type:text" json:"validation_warning,omitempty"`
	Codec             *string `gorm:"type:varchar(32)" json:"codec,omitempty"`
	PixelFormat       *string `gorm:"type:varchar(32)" json:"pixel_format,omitempty"`
	DurationSeconds   float64 `gorm:"not null;default:0" json:"duration_seconds"`

	YodeckMediaID *int64     `gorm:"index" json:"yodeck_media_id,omitempty"`
	UploadedAt    *time.Time `json:"uploaded_at,omitempty"`

	IsSuperseded bool       `gorm:"not null;default:false;index" json:"is_superseded"`
	SupersededAt *time.Time `json:"superseded_at,omitempty"`
	CanonicalKey *string    `gorm:"type:varchar(64);uniqueIndex" json:"-"`

	PublishStatus string  `gorm:"type:varchar(32);not null;default:'NONE'" json:"publish_status"`
	PublishError  *string `gorm:"type:text" json:"publish_error,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (AdAsset) TableName() string { return "ad_assets" }

// BeforeCreate ensures UUID, defaults and timestamps are set.
func (a *AdAsset) BeforeCreate(tx *gorm.DB) error {
	if a.UUID == uuid.Nil {
		a.UUID = uuid.New()
	}
	if a.ReadinessStatus == "" {
		a.ReadinessStatus = ReadinessPending
	}
	if a.PublishStatus == "" {
		a.PublishStatus = AssetPublishNone
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = utils.UTCNow()
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = utils.UTCNow()
	}
	return nil
}

// IsReady reports whether the asset passes the readiness gate.
func (a *AdAsset) IsReady() bool {
	return a.ReadinessStatus == ReadinessReadyForYodeck
}

// PlayablePath returns the best available variant: normalized, then transcoded, then raw.
func (a *AdAsset) PlayablePath() string {
	if a.NormalizedPath != nil && *a.NormalizedPath != "" {
		return *a.NormalizedPath
	}
	if a.TranscodedPath != nil && *a.TranscodedPath != "" {
		return *a.TranscodedPath
	}
	return a.RawPath
}

// AdAssetFilter represents filter criteria for ad asset queries.
type AdAssetFilter struct {
	ID              *uint      `json:"id,omitempty"`
	AdvertiserID    *uint      `json:"advertiser_id,omitempty"`
	ReadinessStatus *string    `json:"readiness_status,omitempty"`
	IsSuperseded    *bool      `json:"is_superseded,omitempty"`
	YodeckMediaID   *int64     `json:"yodeck_media_id,omitempty"`
	HasMedia        *bool      `json:"has_media,omitempty"`
	CreatedAfter    *time.Time `json:"created_after,omitempty"`
}
