package models

import (
	"database/sql/driver"
	"time"

	"github.com/amirphl/signage-publisher/utils"
	"github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Publish outcomes
const (
	PublishOutcomeSuccess   = "SUCCESS"
	PublishOutcomeFailed    = "FAILED"
	PublishOutcomePartial   = "PARTIAL"
	PublishOutcomeNoTargets = "NO_TARGETS"
)

// DisplaySource is what a screen is currently told to show.
type DisplaySource struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

// PlaylistMutation describes what updatePlaylistWithAd did.
type PlaylistMutation struct {
	PlaylistID        int64 `json:"playlist_id"`
	Changed           bool  `json:"changed"`
	Added             bool  `json:"added"`
	AlreadyPresent    bool  `json:"already_present"`
	DuplicatesRemoved int   `json:"duplicates_removed"`
	ItemCount         int   `json:"item_count"`
}

// VerificationSnapshot is the re-fetched external state a publish outcome was decided on.
type VerificationSnapshot struct {
	Attempts        int    `json:"attempts"`
	SourceType      string `json:"source_type"`
	SourceID        int64  `json:"source_id"`
	SourceTypeOK    bool   `json:"source_type_ok"`
	SourceIDOK      bool   `json:"source_id_ok"`
	MediaPresent    bool   `json:"media_present"`
	PlaylistItems   int    `json:"playlist_items"`
	PushFailed      bool   `json:"push_failed"`
	FailureDetail   string `json:"failure_detail,omitempty"`
	VerifiedAtMilli int64  `json:"verified_at_ms"`
}

// Passed reports whether all three hard checks held.
func (v VerificationSnapshot) Passed() bool {
	return v.SourceTypeOK && v.SourceIDOK && v.MediaPresent
}

// PublishTrace is the append-only audit record of one publish attempt to one screen.
type PublishTrace struct {
	ID                 uint                                     `gorm:"primaryKey" json:"id"`
	CorrelationID      string                                   `gorm:"size:64;index;not null" json:"correlation_id"`
	AdvertiserID       uint                                     `gorm:"not null;index" json:"advertiser_id"`
	ScreenID           uint                                     `gorm:"not null;index" json:"screen_id"`
	YodeckScreenID     int64                                    `gorm:"not null" json:"yodeck_screen_id"`
	YodeckMediaID      int64                                    `gorm:"not null" json:"yodeck_media_id"`
	DisplayBefore      datatypes.JSONType[DisplaySource]        `json:"display_before"`
	DisplayAfter       datatypes.JSONType[DisplaySource]        `json:"display_after"`
	WasInLayoutMode    bool                                     `gorm:"not null;default:false" json:"was_in_layout_mode"`
	EnforcedPlaylistID *int64                                   `json:"enforced_playlist_id,omitempty"`
	Mutation           datatypes.JSONType[PlaylistMutation]     `json:"mutation"`
	Verification       datatypes.JSONType[VerificationSnapshot] `json:"verification"`
	Outcome            string                                   `gorm:"type:varchar(16);not null;index" json:"outcome"`
	ErrorCode          *string                                  `gorm:"type:varchar(64)" json:"error_code,omitempty"`
	Logs               TraceLines                               `json:"logs"`
	CreatedAt          time.Time                                `gorm:"not null;index" json:"created_at"`
}

func (PublishTrace) TableName() string { return "publish_traces" }

func (t *PublishTrace) BeforeCreate(tx *gorm.DB) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = utils.UTCNow()
	}
	return nil
}

// TraceLines is an ordered log trail stored as a postgres text[] (plain text elsewhere).
type TraceLines []string

func (TraceLines) GormDataType() string { return "text" }

func (TraceLines) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "text[]"
	}
	return "text"
}

func (t TraceLines) Value() (driver.Value, error) {
	return pq.StringArray(t).Value()
}

func (t *TraceLines) Scan(src any) error {
	return (*pq.StringArray)(t).Scan(src)
}
