package businessflow_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/amirphl/signage-publisher/app/services"
	businessflow "github.com/amirphl/signage-publisher/business_flow"
	"github.com/amirphl/signage-publisher/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var layoutSource = services.ScreenSource{Type: services.SourceTypeLayout, ID: 12}

func playlistSource(id int64) services.ScreenSource {
	return services.ScreenSource{Type: services.SourceTypePlaylist, ID: id}
}

func mediaIDs(items []services.PlaylistItem) []int64 {
	out := make([]int64, 0, len(items))
	for _, it := range items {
		out = append(out, it.MediaID)
	}
	return out
}

func (e *flowEnv) reloadLocation(t *testing.T, id uint) *models.Location {
	t.Helper()
	location, err := e.locationRepo.ByID(e.ctx, id)
	require.NoError(t, err)
	require.NotNil(t, location)
	return location
}

func TestPublishFlow_BulkPublish(t *testing.T) {
	t.Run("layout screen is switched to a new canonical playlist", func(t *testing.T) {
		e := newFlowEnv(t)
		asset := e.uploadedAsset(t, 1)
		location, screen := e.screenWithPlacement(t, 1, 77, layoutSource)

		res, err := e.publish.BulkPublish(e.ctx, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, models.PublishOutcomeSuccess, res.Outcome)
		assert.Equal(t, asset.ID, res.AssetID)
		assert.Equal(t, *asset.YodeckMediaID, res.MediaID)
		assert.Equal(t, businessflow.BulkPublishSummary{Total: 1, Succeeded: 1}, res.Summary)
		require.Len(t, res.Traces, 1)

		trace := res.Traces[0]
		assert.Equal(t, screen.ID, trace.ScreenID)
		assert.True(t, trace.WasInLayoutMode)
		require.NotNil(t, trace.EnforcedPlaylistID)
		assert.Equal(t, int64(900), *trace.EnforcedPlaylistID)
		assert.Equal(t, models.DisplaySource{Type: services.SourceTypeLayout, ID: 12}, trace.DisplayBefore.Data())
		assert.Equal(t, models.DisplaySource{Type: services.SourceTypePlaylist, ID: 900}, trace.DisplayAfter.Data())
		assert.True(t, trace.Mutation.Data().Added)
		assert.True(t, trace.Verification.Data().Passed())
		assert.Nil(t, trace.ErrorCode)
		assert.NotEmpty(t, trace.Logs)

		remote, ok := e.signage.ScreenByID(77)
		require.True(t, ok)
		assert.Equal(t, playlistSource(900), remote.Content)

		playlist, ok := e.signage.PlaylistByID(900)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("loc-%d-canonical", location.ID), playlist.Name)
		assert.Equal(t, []int64{*asset.YodeckMediaID}, mediaIDs(playlist.Items))

		stored := e.reloadLocation(t, location.ID)
		require.NotNil(t, stored.YodeckPlaylistID)
		assert.Equal(t, int64(900), *stored.YodeckPlaylistID)

		traces, err := e.publish.TracesByCorrelationID(e.ctx, res.CorrelationID)
		require.NoError(t, err)
		require.Len(t, traces, 1)
		assert.Equal(t, []string(trace.Logs), []string(traces[0].Logs))
	})

	t.Run("republishing is idempotent", func(t *testing.T) {
		e := newFlowEnv(t)
		e.uploadedAsset(t, 1)
		e.screenWithPlacement(t, 1, 77, layoutSource)

		_, err := e.publish.BulkPublish(e.ctx, 1, nil)
		require.NoError(t, err)
		second, err := e.publish.BulkPublish(e.ctx, 1, nil)
		require.NoError(t, err)

		assert.Equal(t, models.PublishOutcomeSuccess, second.Outcome)
		trace := second.Traces[0]
		assert.False(t, trace.WasInLayoutMode)
		assert.True(t, trace.Mutation.Data().AlreadyPresent)
		assert.False(t, trace.Mutation.Data().Changed)
		assert.Equal(t, 1, e.signage.Calls("update_playlist"))
		assert.Equal(t, 1, e.signage.Calls("create_playlist"))
		assert.Equal(t, 1, e.signage.Calls("set_screen_source"))

		playlist, _ := e.signage.PlaylistByID(900)
		assert.Len(t, playlist.Items, 1)
	})

	t.Run("no live placements", func(t *testing.T) {
		e := newFlowEnv(t)
		e.uploadedAsset(t, 1)

		res, err := e.publish.BulkPublish(e.ctx, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, models.PublishOutcomeNoTargets, res.Outcome)
		assert.Empty(t, res.Traces)
		assert.Zero(t, e.signage.Calls("get_screen"))
	})

	t.Run("unknown explicit screen", func(t *testing.T) {
		e := newFlowEnv(t)
		e.uploadedAsset(t, 1)

		_, err := e.publish.BulkPublish(e.ctx, 1, []uint{999})
		requireCode(t, err, businessflow.CodeScreenNotFound)
	})

	t.Run("asset must be uploaded first", func(t *testing.T) {
		e := newFlowEnv(t)
		e.readyAsset(t, 1)
		e.screenWithPlacement(t, 1, 77, layoutSource)

		_, err := e.publish.BulkPublish(e.ctx, 1, nil)
		be := requireCode(t, err, businessflow.CodeNoCanonicalAsset)
		assert.Equal(t, businessflow.NextActionUpload, be.NextAction)
		assert.Zero(t, e.signage.Calls("get_screen"))
	})

	t.Run("screen ignoring the source change fails", func(t *testing.T) {
		e := newFlowEnv(t)
		e.signage.IgnoreScreenSource = true
		e.uploadedAsset(t, 1)
		e.screenWithPlacement(t, 1, 77, layoutSource)

		res, err := e.publish.BulkPublish(e.ctx, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, models.PublishOutcomeFailed, res.Outcome)
		assert.Equal(t, 1, res.Summary.Failed)
		trace := res.Traces[0]
		require.NotNil(t, trace.ErrorCode)
		assert.Equal(t, businessflow.CodeDisplayModeNotApplied, *trace.ErrorCode)
		assert.Equal(t, 1, e.signage.Calls("update_playlist"))
		assert.True(t, trace.Mutation.Data().Added)
	})

	t.Run("failed write to a new playlist leaves the screen untouched", func(t *testing.T) {
		e := newFlowEnv(t)
		e.uploadedAsset(t, 1)
		e.screenWithPlacement(t, 1, 77, layoutSource)
		e.signage.FailNext("update_playlist", services.NewAPIError("update_playlist", http.StatusServiceUnavailable, ""), 1)

		res, err := e.publish.BulkPublish(e.ctx, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, models.PublishOutcomeFailed, res.Outcome)
		trace := res.Traces[0]
		require.NotNil(t, trace.ErrorCode)
		assert.Equal(t, businessflow.CodeSignageUnavailable, *trace.ErrorCode)
		assert.Zero(t, e.signage.Calls("set_screen_source"))

		remote, ok := e.signage.ScreenByID(77)
		require.True(t, ok)
		assert.Equal(t, layoutSource, remote.Content)
	})

	t.Run("empty memoized playlist is filled before the screen switches", func(t *testing.T) {
		e := newFlowEnv(t)
		asset := e.uploadedAsset(t, 1)
		playlistID := e.signage.SeedPlaylist("memo", nil)
		location, err := e.fixtures.CreateLocation("Lobby", &playlistID)
		require.NoError(t, err)
		screen, err := e.fixtures.CreateScreen(location.ID, 79)
		require.NoError(t, err)
		_, err = e.fixtures.CreatePlacement(1, screen.ID)
		require.NoError(t, err)
		e.signage.SeedScreen(79, screen.Name, layoutSource)
		e.signage.IgnoreScreenSource = true

		res, err := e.publish.BulkPublish(e.ctx, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, models.PublishOutcomeFailed, res.Outcome)

		playlist, _ := e.signage.PlaylistByID(playlistID)
		assert.Equal(t, []int64{*asset.YodeckMediaID}, mediaIDs(playlist.Items))
	})

	t.Run("playlist write acknowledged but not applied fails verification", func(t *testing.T) {
		e := newFlowEnv(t)
		e.signage.IgnorePlaylistWrites = true
		e.uploadedAsset(t, 1)
		e.screenWithPlacement(t, 1, 77, layoutSource)

		res, err := e.publish.BulkPublish(e.ctx, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, models.PublishOutcomeFailed, res.Outcome)
		trace := res.Traces[0]
		require.NotNil(t, trace.ErrorCode)
		assert.Equal(t, businessflow.CodeVerificationFailed, *trace.ErrorCode)
		snapshot := trace.Verification.Data()
		assert.Equal(t, 2, snapshot.Attempts)
		assert.False(t, snapshot.MediaPresent)
		assert.True(t, snapshot.SourceIDOK)
		assert.NotEmpty(t, snapshot.FailureDetail)
	})

	t.Run("verified content with a failing push is partial", func(t *testing.T) {
		e := newFlowEnv(t)
		asset := e.uploadedAsset(t, 1)
		playlistID := e.signage.SeedPlaylist("memo", nil)
		location, err := e.fixtures.CreateLocation("Hall", &playlistID)
		require.NoError(t, err)
		screen, err := e.fixtures.CreateScreen(location.ID, 78)
		require.NoError(t, err)
		_, err = e.fixtures.CreatePlacement(1, screen.ID)
		require.NoError(t, err)
		e.signage.SeedScreen(78, screen.Name, playlistSource(playlistID))
		e.signage.FailNext("push_screen", services.NewAPIError("push_screen", http.StatusBadGateway, ""), 2)

		res, err := e.publish.BulkPublish(e.ctx, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, models.PublishOutcomePartial, res.Outcome)
		assert.Equal(t, 1, res.Summary.Partial)
		trace := res.Traces[0]
		assert.Equal(t, models.PublishOutcomePartial, trace.Outcome)
		assert.True(t, trace.Verification.Data().PushFailed)
		assert.Equal(t, 2, trace.Verification.Data().Attempts)
		assert.Zero(t, e.signage.Calls("set_screen_source"))

		playlist, _ := e.signage.PlaylistByID(playlistID)
		assert.Equal(t, []int64{*asset.YodeckMediaID}, mediaIDs(playlist.Items))
	})
}

func TestPublishFlow_PublishToScreen(t *testing.T) {
	t.Run("single screen", func(t *testing.T) {
		e := newFlowEnv(t)
		asset := e.uploadedAsset(t, 1)
		_, screen := e.screenWithPlacement(t, 1, 77, playlistSource(4))

		trace, err := e.publish.PublishToScreen(e.ctx, businessflow.PublishToScreenRequest{
			AdvertiserID:  1,
			ScreenID:      screen.ID,
			MediaID:       *asset.YodeckMediaID,
			CorrelationID: "cid-1",
		})
		require.NoError(t, err)
		assert.Equal(t, models.PublishOutcomeSuccess, trace.Outcome)
		assert.Equal(t, "cid-1", trace.CorrelationID)
		assert.False(t, trace.WasInLayoutMode)
		assert.Equal(t, models.DisplaySource{Type: services.SourceTypePlaylist, ID: 4}, trace.DisplayBefore.Data())
	})

	t.Run("unknown media is not ready", func(t *testing.T) {
		e := newFlowEnv(t)
		_, screen := e.screenWithPlacement(t, 1, 77, layoutSource)

		_, err := e.publish.PublishToScreen(e.ctx, businessflow.PublishToScreenRequest{AdvertiserID: 1, ScreenID: screen.ID, MediaID: 31337})
		be := requireCode(t, err, businessflow.CodeMediaNotReady)
		assert.Equal(t, businessflow.NextActionUpload, be.NextAction)
		assert.Zero(t, e.signage.Calls("get_screen"))
	})

	t.Run("media of another advertiser", func(t *testing.T) {
		e := newFlowEnv(t)
		asset := e.uploadedAsset(t, 2)
		_, screen := e.screenWithPlacement(t, 1, 77, layoutSource)

		_, err := e.publish.PublishToScreen(e.ctx, businessflow.PublishToScreenRequest{AdvertiserID: 1, ScreenID: screen.ID, MediaID: *asset.YodeckMediaID})
		requireCode(t, err, businessflow.CodeInvalidRequest)
	})

	t.Run("unknown screen", func(t *testing.T) {
		e := newFlowEnv(t)
		asset := e.uploadedAsset(t, 1)

		_, err := e.publish.PublishToScreen(e.ctx, businessflow.PublishToScreenRequest{AdvertiserID: 1, ScreenID: 404, MediaID: *asset.YodeckMediaID})
		requireCode(t, err, businessflow.CodeScreenNotFound)
		assert.True(t, businessflow.IsScreenNotFound(err))
	})
}

func TestPublishFlow_ResolveCanonicalPlaylist(t *testing.T) {
	t.Run("lowest id wins among playlists with the canonical name", func(t *testing.T) {
		e := newFlowEnv(t)
		location, err := e.fixtures.CreateLocation("Mall", nil)
		require.NoError(t, err)
		name := fmt.Sprintf("loc-%d-canonical", location.ID)
		e.signage.SeedPlaylist("other", nil)
		lowest := e.signage.SeedPlaylist(name, nil)
		e.signage.SeedPlaylist(name, nil)

		playlist, err := e.publish.ResolveCanonicalPlaylist(e.ctx, location)
		require.NoError(t, err)
		assert.Equal(t, lowest, playlist.ID)
		assert.Zero(t, e.signage.Calls("create_playlist"))

		stored := e.reloadLocation(t, location.ID)
		require.NotNil(t, stored.YodeckPlaylistID)
		assert.Equal(t, lowest, *stored.YodeckPlaylistID)
		require.NotNil(t, stored.PlaylistName)
		assert.Equal(t, name, *stored.PlaylistName)
	})

	t.Run("memoized playlist is reused", func(t *testing.T) {
		e := newFlowEnv(t)
		memo := e.signage.SeedPlaylist("anything", nil)
		location, err := e.fixtures.CreateLocation("Mall", &memo)
		require.NoError(t, err)

		playlist, err := e.publish.ResolveCanonicalPlaylist(e.ctx, location)
		require.NoError(t, err)
		assert.Equal(t, memo, playlist.ID)
		assert.Zero(t, e.signage.Calls("find_playlists"))
	})

	t.Run("deleted memo falls back to creating a playlist", func(t *testing.T) {
		e := newFlowEnv(t)
		gone := int64(555)
		location, err := e.fixtures.CreateLocation("Mall", &gone)
		require.NoError(t, err)

		playlist, err := e.publish.ResolveCanonicalPlaylist(e.ctx, location)
		require.NoError(t, err)
		assert.Equal(t, int64(900), playlist.ID)
		assert.Equal(t, 1, e.signage.Calls("create_playlist"))
		assert.Equal(t, int64(900), *e.reloadLocation(t, location.ID).YodeckPlaylistID)
	})

	t.Run("transient platform failure is surfaced", func(t *testing.T) {
		e := newFlowEnv(t)
		location, err := e.fixtures.CreateLocation("Mall", nil)
		require.NoError(t, err)
		e.signage.FailNext("find_playlists", services.NewAPIError("find_playlists", http.StatusTooManyRequests, ""), 1)

		_, err = e.publish.ResolveCanonicalPlaylist(e.ctx, location)
		be := requireCode(t, err, businessflow.CodeSignageUnavailable)
		assert.Equal(t, businessflow.CategoryTransient, be.Category)
		assert.Nil(t, e.reloadLocation(t, location.ID).YodeckPlaylistID)
	})
}

func TestPublishFlow_UpdatePlaylistWithAd(t *testing.T) {
	t.Run("duplicates are removed and the ad appended once", func(t *testing.T) {
		e := newFlowEnv(t)
		asset := e.uploadedAsset(t, 1)
		playlistID := e.signage.SeedPlaylist("p", []services.PlaylistItem{
			{MediaID: 11, Type: "media", Duration: 10},
			{MediaID: 12, Type: "media", Duration: 20},
			{MediaID: 11, Type: "media", Duration: 10},
		})

		mutation, err := e.publish.UpdatePlaylistWithAd(e.ctx, playlistID, *asset.YodeckMediaID)
		require.NoError(t, err)
		assert.True(t, mutation.Changed)
		assert.True(t, mutation.Added)
		assert.Equal(t, 1, mutation.DuplicatesRemoved)
		assert.Equal(t, 3, mutation.ItemCount)

		playlist, _ := e.signage.PlaylistByID(playlistID)
		assert.Equal(t, []int64{11, 12, *asset.YodeckMediaID}, mediaIDs(playlist.Items))
		assert.Equal(t, 20, playlist.Items[1].Duration)
		assert.Equal(t, 15, playlist.Items[2].Duration)

		again, err := e.publish.UpdatePlaylistWithAd(e.ctx, playlistID, *asset.YodeckMediaID)
		require.NoError(t, err)
		assert.False(t, again.Changed)
		assert.True(t, again.AlreadyPresent)
		assert.Equal(t, 1, e.signage.Calls("update_playlist"))
	})

	t.Run("rejected write is terminal", func(t *testing.T) {
		e := newFlowEnv(t)
		e.signage.RejectPlaylistWrites = true
		asset := e.uploadedAsset(t, 1)
		playlistID := e.signage.SeedPlaylist("p", nil)

		mutation, err := e.publish.UpdatePlaylistWithAd(e.ctx, playlistID, *asset.YodeckMediaID)
		be := requireCode(t, err, businessflow.CodeSignageUnavailable)
		assert.Equal(t, businessflow.CategoryTerminal, be.Category)
		require.NotNil(t, mutation)
		assert.True(t, mutation.Added)
	})

	t.Run("media that never finished uploading is gated", func(t *testing.T) {
		e := newFlowEnv(t)
		asset := e.readyAsset(t, 1)
		require.NoError(t, e.db.DB.Model(asset).Update("yodeck_media_id", 6001).Error)
		playlistID := e.signage.SeedPlaylist("p", nil)

		_, err := e.publish.UpdatePlaylistWithAd(e.ctx, playlistID, 6001)
		requireCode(t, err, businessflow.CodeMediaNotReady)
		assert.Zero(t, e.signage.Calls("get_playlist"))
	})
}

func TestPublishFlow_EnforceDisplayMode(t *testing.T) {
	e := newFlowEnv(t)
	e.signage.SeedScreen(90, "s", services.ScreenSource{Type: services.SourceTypeMedia, ID: 3})

	res, err := e.publish.EnforceDisplayMode(e.ctx, 90, 901)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.True(t, res.Verified)
	assert.False(t, res.WasInLayoutMode)
	assert.Equal(t, playlistSource(901), res.After)

	again, err := e.publish.EnforceDisplayMode(e.ctx, 90, 901)
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.True(t, again.Verified)
	assert.Equal(t, 1, e.signage.Calls("set_screen_source"))

	_, err = e.publish.EnforceDisplayMode(e.ctx, 91, 901)
	requireCode(t, err, businessflow.CodeRemoteMediaNotFound)
}
