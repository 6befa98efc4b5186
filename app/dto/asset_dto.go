package dto

import "time"

// AssetResponse is the API view of an ad asset.
type AssetResponse struct {
	ID                uint       `json:"id"`
	UUID              string     `json:"uuid"`
	AdvertiserID      uint       `json:"advertiser_id"`
	OriginalFilename  string     `json:"original_filename"`
	MimeType          string     `json:"mime_type"`
	SizeBytes         int64      `json:"size_bytes"`
	ReadinessStatus   string     `json:"readiness_status"`
	NextAction        string     `json:"next_action,omitempty"`
	RejectionReason   *string    `json:"rejection_reason,omitempty"`
	ValidationWarning *string    `json:"validation_warning,omitempty"`
	Codec             *string    `json:"codec,omitempty"`
	PixelFormat       *string    `json:"pixel_format,omitempty"`
	DurationSeconds   float64    `json:"duration_seconds"`
	ExternalMediaID   *int64     `json:"external_media_id,omitempty"`
	UploadedAt        *time.Time `json:"uploaded_at,omitempty"`
	IsSuperseded      bool       `json:"is_superseded"`
	PublishStatus     string     `json:"publish_status"`
	PublishError      *string    `json:"publish_error,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// RegisterAssetForm is the non-file part of a multipart asset registration.
type RegisterAssetForm struct {
	AdvertiserID uint `form:"advertiser_id" validate:"required,gt=0"`
}
