package businessflow_test

import (
	"io"
	"log"
	"net/http"
	"testing"

	"github.com/amirphl/signage-publisher/app/services"
	businessflow "github.com/amirphl/signage-publisher/business_flow"
	testingutil "github.com/amirphl/signage-publisher/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedLibraryVideo(c *services.MockSignageClient, name, status string) int64 {
	return c.SeedMedia(services.Media{
		Name:   name,
		Status: status,
		File:   &services.MediaFile{Size: 2048, Format: "mp4"},
	})
}

func seederWithSelfAd(c *services.MockSignageClient, selfAd int64) businessflow.ContentGuaranteeFlow {
	cfg := testingutil.FastPublishConfig()
	cfg.SelfAdMediaID = selfAd
	return businessflow.NewContentGuaranteeFlow(c, cfg, log.New(io.Discard, "", 0))
}

func TestContentGuaranteeFlow_EnsurePlaylistNonEmpty(t *testing.T) {
	t.Run("non-empty playlist is left alone", func(t *testing.T) {
		e := newFlowEnv(t)
		playlistID := e.signage.SeedPlaylist("p", []services.PlaylistItem{{MediaID: 1, Type: "media", Duration: 10}})

		res, err := e.seeder.EnsurePlaylistNonEmpty(e.ctx, playlistID)
		require.NoError(t, err)
		assert.True(t, res.OK)
		assert.Equal(t, businessflow.SeedActionAlreadyNonEmpty, res.Action)
		assert.Equal(t, 1, res.ItemCount)
		assert.Zero(t, e.signage.Calls("update_playlist"))
	})

	t.Run("self-ad is preferred", func(t *testing.T) {
		e := newFlowEnv(t)
		seedLibraryVideo(e.signage, "library", "finished")
		selfAd := seedLibraryVideo(e.signage, "house-ad", "finished")
		seeder := seederWithSelfAd(e.signage, selfAd)
		playlistID := e.signage.SeedPlaylist("p", nil)

		res, err := seeder.EnsurePlaylistNonEmpty(e.ctx, playlistID)
		require.NoError(t, err)
		assert.True(t, res.OK)
		assert.Equal(t, businessflow.SeedActionSelfAd, res.Action)
		assert.Equal(t, selfAd, res.MediaID)

		playlist, _ := e.signage.PlaylistByID(playlistID)
		require.Len(t, playlist.Items, 1)
		assert.Equal(t, selfAd, playlist.Items[0].MediaID)
		assert.Equal(t, "house-ad", playlist.Items[0].Name)
		assert.Equal(t, 15, playlist.Items[0].Duration)
	})

	t.Run("deleted self-ad falls back to the newest ready library video", func(t *testing.T) {
		e := newFlowEnv(t)
		seedLibraryVideo(e.signage, "older", "finished")
		newest := seedLibraryVideo(e.signage, "newest", "ready")
		seedLibraryVideo(e.signage, "newer but broken", "failed")
		seeder := seederWithSelfAd(e.signage, 424242)
		playlistID := e.signage.SeedPlaylist("p", nil)

		res, err := seeder.EnsurePlaylistNonEmpty(e.ctx, playlistID)
		require.NoError(t, err)
		assert.True(t, res.OK)
		assert.Equal(t, businessflow.SeedActionLibraryMedia, res.Action)
		assert.Equal(t, newest, res.MediaID)
	})

	t.Run("library media without a file is skipped", func(t *testing.T) {
		e := newFlowEnv(t)
		withFile := seedLibraryVideo(e.signage, "with-file", "finished")
		e.signage.SeedMedia(services.Media{Name: "no-file", Status: "finished"})
		playlistID := e.signage.SeedPlaylist("p", nil)

		res, err := e.seeder.EnsurePlaylistNonEmpty(e.ctx, playlistID)
		require.NoError(t, err)
		assert.Equal(t, withFile, res.MediaID)
	})

	t.Run("rejected write tags the fallback media", func(t *testing.T) {
		e := newFlowEnv(t)
		e.signage.RejectPlaylistWrites = true
		mediaID := seedLibraryVideo(e.signage, "library", "finished")
		playlistID := e.signage.SeedPlaylist("p", nil)

		res, err := e.seeder.EnsurePlaylistNonEmpty(e.ctx, playlistID)
		require.NoError(t, err)
		assert.True(t, res.OK)
		assert.Equal(t, businessflow.SeedActionTaggedFallback, res.Action)
		assert.Equal(t, "fallback", res.Tag)

		media, _ := e.signage.MediaByID(mediaID)
		assert.Contains(t, media.Tags, "fallback")
	})

	t.Run("write that does not stick tags the fallback media", func(t *testing.T) {
		e := newFlowEnv(t)
		e.signage.IgnorePlaylistWrites = true
		seedLibraryVideo(e.signage, "library", "finished")
		playlistID := e.signage.SeedPlaylist("p", nil)

		res, err := e.seeder.EnsurePlaylistNonEmpty(e.ctx, playlistID)
		require.NoError(t, err)
		assert.Equal(t, businessflow.SeedActionTaggedFallback, res.Action)
		assert.Zero(t, res.ItemCount)
		assert.Equal(t, 1, e.signage.Calls("tag_media"))
	})

	t.Run("nothing to seed with", func(t *testing.T) {
		e := newFlowEnv(t)
		e.signage.SeedMedia(services.Media{Name: "processing", Status: "processing"})
		playlistID := e.signage.SeedPlaylist("p", nil)

		res, err := e.seeder.EnsurePlaylistNonEmpty(e.ctx, playlistID)
		require.NoError(t, err)
		assert.False(t, res.OK)
		assert.Equal(t, businessflow.SeedActionNoFallback, res.Action)
		assert.Zero(t, e.signage.Calls("update_playlist"))
	})

	t.Run("transient write failure is returned", func(t *testing.T) {
		e := newFlowEnv(t)
		seedLibraryVideo(e.signage, "library", "finished")
		playlistID := e.signage.SeedPlaylist("p", nil)
		e.signage.FailNext("update_playlist", services.NewAPIError("update_playlist", http.StatusServiceUnavailable, ""), 1)

		_, err := e.seeder.EnsurePlaylistNonEmpty(e.ctx, playlistID)
		be := requireCode(t, err, businessflow.CodeSignageUnavailable)
		assert.Equal(t, businessflow.CategoryTransient, be.Category)
		assert.Zero(t, e.signage.Calls("tag_media"))
	})

	t.Run("missing playlist", func(t *testing.T) {
		e := newFlowEnv(t)
		_, err := e.seeder.EnsurePlaylistNonEmpty(e.ctx, 12345)
		requireCode(t, err, businessflow.CodeRemoteMediaNotFound)
	})
}
