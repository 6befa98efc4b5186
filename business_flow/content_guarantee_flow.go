package businessflow

import (
	"context"
	"errors"
	"log"
	"net/http"
	"slices"
	"sort"

	"github.com/amirphl/signage-publisher/app/services"
	"github.com/amirphl/signage-publisher/config"
	"github.com/amirphl/signage-publisher/utils"
)

// Seeder actions
const (
	SeedActionAlreadyNonEmpty = "ALREADY_NON_EMPTY"
	SeedActionSelfAd          = "SEEDED_SELF_AD"
	SeedActionLibraryMedia    = "SEEDED_LIBRARY_MEDIA"
	SeedActionTaggedFallback  = "TAGGED_FALLBACK"
	SeedActionNoFallback      = "NO_FALLBACK_AVAILABLE"
)

const librarySearchLimit = 100

// EnsureNonEmptyResult reports what the seeder did to a playlist.
type EnsureNonEmptyResult struct {
	OK         bool   `json:"ok"`
	Action     string `json:"action"`
	PlaylistID int64  `json:"playlist_id"`
	MediaID    int64  `json:"media_id,omitempty"`
	ItemCount  int    `json:"item_count"`
	Tag        string `json:"tag,omitempty"`
}

// ContentGuaranteeFlow keeps playlists from going empty.
type ContentGuaranteeFlow interface {
	EnsurePlaylistNonEmpty(ctx context.Context, playlistID int64) (*EnsureNonEmptyResult, error)
}

// ContentGuaranteeFlowImpl implements ContentGuaranteeFlow.
type ContentGuaranteeFlowImpl struct {
	signage services.SignageClient
	cfg     config.PublishConfig
	logger  *log.Logger
}

// NewContentGuaranteeFlow creates a new content guarantee flow instance.
func NewContentGuaranteeFlow(signage services.SignageClient, cfg config.PublishConfig, logger *log.Logger) ContentGuaranteeFlow {
	if logger == nil {
		logger = log.Default()
	}
	return &ContentGuaranteeFlowImpl{signage: signage, cfg: cfg, logger: logger}
}

// EnsurePlaylistNonEmpty seeds an empty playlist with fallback content: the configured
// self-ad, else the newest playable library video. If the platform refuses the
// playlist write the fallback media is tagged instead. A non-empty playlist is left
// alone.
func (f *ContentGuaranteeFlowImpl) EnsurePlaylistNonEmpty(ctx context.Context, playlistID int64) (*EnsureNonEmptyResult, error) {
	playlist, err := f.signage.GetPlaylist(ctx, playlistID)
	if err != nil {
		return nil, classifySignageError("read playlist", err)
	}
	result := &EnsureNonEmptyResult{PlaylistID: playlistID, ItemCount: len(playlist.Items)}
	if len(playlist.Items) > 0 {
		result.OK = true
		result.Action = SeedActionAlreadyNonEmpty
		return result, nil
	}

	media, action, err := f.pickFallback(ctx)
	if err != nil {
		return nil, err
	}
	if media == nil {
		result.Action = SeedActionNoFallback
		seederActionsTotal.WithLabelValues(result.Action).Inc()
		f.logger.Printf("seeder: playlist=%d empty and no fallback media available", playlistID)
		return result, nil
	}
	result.MediaID = media.ID

	duration := f.cfg.PlaylistItemDuration
	if duration <= 0 {
		duration = utils.DefaultPlaylistItemSecs
	}
	items := []services.PlaylistItem{{MediaID: media.ID, Type: "media", Name: media.Name, Duration: duration}}
	_, writeErr := f.signage.UpdatePlaylistItems(ctx, playlistID, items)
	if writeErr != nil && !writeRejected(writeErr) {
		return nil, classifySignageError("write playlist", writeErr)
	}

	if writeErr == nil {
		after, err := f.signage.GetPlaylist(ctx, playlistID)
		if err != nil {
			return nil, classifySignageError("re-read playlist", err)
		}
		result.ItemCount = len(after.Items)
		if len(after.Items) > 0 {
			result.OK = true
			result.Action = action
			seederActionsTotal.WithLabelValues(action).Inc()
			f.logger.Printf("seeder: playlist=%d seeded media=%d action=%s", playlistID, media.ID, action)
			return result, nil
		}
		f.logger.Printf("seeder: playlist=%d still empty after write, tagging media=%d", playlistID, media.ID)
	} else {
		f.logger.Printf("seeder: playlist=%d write rejected (%v), tagging media=%d", playlistID, writeErr, media.ID)
	}

	return f.tagFallback(ctx, result, media.ID)
}

func (f *ContentGuaranteeFlowImpl) tagFallback(ctx context.Context, result *EnsureNonEmptyResult, mediaID int64) (*EnsureNonEmptyResult, error) {
	tag := f.cfg.FallbackTag
	if tag == "" {
		result.Action = SeedActionNoFallback
		seederActionsTotal.WithLabelValues(result.Action).Inc()
		return result, nil
	}
	if _, err := f.signage.TagMedia(ctx, mediaID, []string{tag}); err != nil {
		return nil, classifySignageError("tag media", err)
	}
	tagged, err := f.signage.GetMedia(ctx, mediaID)
	if err != nil {
		return nil, classifySignageError("re-read media", err)
	}
	result.Tag = tag
	result.Action = SeedActionTaggedFallback
	result.OK = slices.Contains(tagged.Tags, tag)
	seederActionsTotal.WithLabelValues(result.Action).Inc()
	f.logger.Printf("seeder: playlist=%d media=%d tagged %q verified=%t", result.PlaylistID, mediaID, tag, result.OK)
	return result, nil
}

// pickFallback returns the configured self-ad if it still exists and has not failed,
// otherwise the most recently created ready video with an attached file.
func (f *ContentGuaranteeFlowImpl) pickFallback(ctx context.Context) (*services.Media, string, error) {
	if f.cfg.SelfAdMediaID > 0 {
		media, err := f.signage.GetMedia(ctx, f.cfg.SelfAdMediaID)
		switch {
		case err == nil && services.ClassifyMediaStatus(media.Status) != services.MediaStateFailed:
			return media, SeedActionSelfAd, nil
		case err != nil && !services.IsNotFound(err):
			return nil, "", classifySignageError("read self-ad media", err)
		}
		f.logger.Printf("seeder: self-ad media=%d unusable, searching library", f.cfg.SelfAdMediaID)
	}

	library, err := f.signage.ListMedia(ctx, services.MediaQuery{Type: "video", Limit: librarySearchLimit})
	if err != nil {
		return nil, "", classifySignageError("list media", err)
	}
	candidates := make([]services.Media, 0, len(library))
	for _, m := range library {
		if services.ClassifyMediaStatus(m.Status) != services.MediaStateReady || !m.HasFile() {
			continue
		}
		candidates = append(candidates, m)
	}
	if len(candidates) == 0 {
		return nil, "", nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
		}
		return candidates[i].ID > candidates[j].ID
	})
	return &candidates[0], SeedActionLibraryMedia, nil
}

// writeRejected reports whether the platform refused a playlist write outright, as
// opposed to failing transiently.
func writeRejected(err error) bool {
	var apiErr *services.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode >= http.StatusBadRequest && apiErr.StatusCode < http.StatusInternalServerError &&
		apiErr.StatusCode != http.StatusNotFound && !services.IsTransient(err)
}
