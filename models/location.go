package models

import (
	"time"

	"github.com/amirphl/signage-publisher/utils"
	"gorm.io/gorm"
)

// Location is a physical site. It memoizes the id of its canonical playlist once resolved.
type Location struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Name             string    `gorm:"type:varchar(255);not null" json:"name"`
	YodeckPlaylistID *int64    `gorm:"index" json:"yodeck_playlist_id,omitempty"`
	PlaylistName     *string   `gorm:"type:varchar(255)" json:"playlist_name,omitempty"`
	CreatedAt        time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time `gorm:"not null" json:"updated_at"`
}

func (Location) TableName() string { return "locations" }

func (l *Location) BeforeCreate(tx *gorm.DB) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = utils.UTCNow()
	}
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = utils.UTCNow()
	}
	return nil
}

// Screen is one physical display, managed by the signage platform.
type Screen struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	LocationID     uint      `gorm:"not null;index" json:"location_id"`
	Name           string    `gorm:"type:varchar(255);not null" json:"name"`
	YodeckScreenID int64     `gorm:"not null;uniqueIndex" json:"yodeck_screen_id"`
	IsActive       bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time `gorm:"not null" json:"updated_at"`

	Location *Location `gorm:"foreignKey:LocationID;references:ID" json:"location,omitempty"`
}

func (Screen) TableName() string { return "screens" }

func (s *Screen) BeforeCreate(tx *gorm.DB) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = utils.UTCNow()
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = utils.UTCNow()
	}
	return nil
}

// Placement statuses
const (
	PlacementActive = "ACTIVE"
	PlacementPaused = "PAUSED"
	PlacementEnded  = "ENDED"
)

// Placement binds an advertiser to a screen for a time window.
type Placement struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	AdvertiserID uint       `gorm:"not null;index" json:"advertiser_id"`
	ScreenID     uint       `gorm:"not null;index" json:"screen_id"`
	Status       string     `gorm:"type:varchar(16);not null;index" json:"status"`
	StartsAt     *time.Time `json:"starts_at,omitempty"`
	EndsAt       *time.Time `json:"ends_at,omitempty"`
	CreatedAt    time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"not null" json:"updated_at"`
}

func (Placement) TableName() string { return "placements" }

func (p *Placement) BeforeCreate(tx *gorm.DB) error {
	if p.Status == "" {
		p.Status = PlacementActive
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = utils.UTCNow()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = utils.UTCNow()
	}
	return nil
}

// IsLiveAt reports whether the placement is active and inside its window at t.
func (p *Placement) IsLiveAt(t time.Time) bool {
	if p.Status != PlacementActive {
		return false
	}
	if p.StartsAt != nil && t.Before(*p.StartsAt) {
		return false
	}
	if p.EndsAt != nil && !t.Before(*p.EndsAt) {
		return false
	}
	return true
}
