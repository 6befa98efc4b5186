// Package testing provides test utilities and database setup for testing the publish pipeline
package testing

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/amirphl/signage-publisher/app/services"
	"github.com/amirphl/signage-publisher/config"
	"github.com/amirphl/signage-publisher/models"
	"github.com/amirphl/signage-publisher/utils"
	"github.com/google/uuid"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// MP4Bytes returns size bytes that start with an ISO-BMFF ftyp box.
func MP4Bytes(size int) []byte {
	if size < 32 {
		size = 32
	}
	b := make([]byte, size)
	copy(b, []byte{0x00, 0x00, 0x00, 0x20, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0x00, 0x00, 0x02, 0x00})
	copy(b[16:], []byte("isomiso2avc1mp41"))
	for i := 32; i < size; i++ {
		b[i] = byte(i % 251)
	}
	return b
}

// WebMBytes returns size bytes that start with the EBML magic.
func WebMBytes(size int) []byte {
	if size < 16 {
		size = 16
	}
	b := make([]byte, size)
	copy(b, []byte{0x1A, 0x45, 0xDF, 0xA3, 0x9F, 0x42, 0x86, 0x81, 0x01})
	return b
}

// CreateLocation creates a location, optionally with a memoized canonical playlist
func (tf *TestFixtures) CreateLocation(name string, playlistID *int64) (*models.Location, error) {
	location := &models.Location{Name: name, YodeckPlaylistID: playlistID}
	if err := tf.DB.DB.Create(location).Error; err != nil {
		return nil, fmt.Errorf("failed to create test location: %w", err)
	}
	return location, nil
}

// CreateScreen creates an active screen at the location
func (tf *TestFixtures) CreateScreen(locationID uint, yodeckScreenID int64) (*models.Screen, error) {
	screen := &models.Screen{
		LocationID:     locationID,
		Name:           fmt.Sprintf("screen-%d", yodeckScreenID),
		YodeckScreenID: yodeckScreenID,
		IsActive:       true,
	}
	if err := tf.DB.DB.Create(screen).Error; err != nil {
		return nil, fmt.Errorf("failed to create test screen: %w", err)
	}
	return screen, nil
}

// CreatePlacement creates an open-ended active placement
func (tf *TestFixtures) CreatePlacement(advertiserID, screenID uint) (*models.Placement, error) {
	placement := &models.Placement{
		AdvertiserID: advertiserID,
		ScreenID:     screenID,
		Status:       models.PlacementActive,
	}
	if err := tf.DB.DB.Create(placement).Error; err != nil {
		return nil, fmt.Errorf("failed to create test placement: %w", err)
	}
	return placement, nil
}

// CreateAsset stores body under a fresh raw key and creates an asset in the given readiness status.
// A READY_FOR_YODECK asset also takes the advertiser's canonical key.
func (tf *TestFixtures) CreateAsset(storage services.ObjectStorage, advertiserID uint, status string, body []byte) (*models.AdAsset, error) {
	key := fmt.Sprintf("raw/%d/%s.mp4", advertiserID, uuid.New().String())
	size, err := storage.Put(context.Background(), key, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to store test asset: %w", err)
	}
	asset := &models.AdAsset{
		AdvertiserID:     advertiserID,
		OriginalFilename: "ad.mp4",
		MimeType:         "video/mp4",
		SizeBytes:        size,
		RawPath:          key,
		ReadinessStatus:  status,
	}
	if status == models.ReadinessReadyForYodeck {
		asset.CanonicalKey = utils.ToPtr(strconv.FormatUint(uint64(advertiserID), 10))
	}
	if err := tf.DB.DB.Create(asset).Error; err != nil {
		return nil, fmt.Errorf("failed to create test asset: %w", err)
	}
	return asset, nil
}

// MarkUploaded records an external media id on the asset as a finished upload would.
func (tf *TestFixtures) MarkUploaded(asset *models.AdAsset, mediaID int64) error {
	now := utils.UTCNow()
	err := tf.DB.DB.Model(asset).Updates(map[string]any{
		"yodeck_media_id": mediaID,
		"uploaded_at":     now,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to mark asset uploaded: %w", err)
	}
	asset.YodeckMediaID = &mediaID
	asset.UploadedAt = &now
	return nil
}

// FastUploadConfig keeps every upload delay in the millisecond range.
func FastUploadConfig() config.UploadConfig {
	return config.UploadConfig{
		StalenessWindow:        15 * time.Minute,
		PollInitialDelay:       time.Millisecond,
		PollMaxDelay:           5 * time.Millisecond,
		PollBackoffFactor:      1.5,
		PollTimeout:            5 * time.Second,
		MaxPolls:               20,
		StuckInitializingPolls: 4,
		FinalizeRetries:        2,
		FinalizeRetryDelay:     time.Millisecond,
		ConfirmAttempts:        4,
		ConfirmDelay:           time.Millisecond,
	}
}

// FastPublishConfig disables the settle delay and configures a fallback tag.
func FastPublishConfig() config.PublishConfig {
	return config.PublishConfig{
		SettleDelay:          0,
		PlaylistItemDuration: 15,
		PlaylistNamePattern:  "loc-%d-canonical",
		BaselineNamePrefixes: []string{"baseline", "house"},
		FallbackTag:          "fallback",
	}
}

// TestQueueConfig mirrors the production backoff: 5s base, doubling, 10 minute ceiling.
func TestQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		BaseDelay:        5 * time.Second,
		Multiplier:       2,
		MaxDelay:         10 * time.Minute,
		MaxRetries:       5,
		DefaultPriority:  100,
		StaleProcessing:  30 * time.Minute,
		WaitStatsWindow:  24 * time.Hour,
		WaitStatsSamples: 500,
	}
}

// TestTranscoderConfig accepts h264/yuv420p and enables normalization.
func TestTranscoderConfig() config.TranscoderConfig {
	return config.TranscoderConfig{
		Enabled:              true,
		AcceptedCodecs:       []string{"h264"},
		AcceptedPixelFormats: []string{"yuv420p"},
	}
}
