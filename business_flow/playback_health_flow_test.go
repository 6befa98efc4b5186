package businessflow_test

import (
	"testing"

	"github.com/amirphl/signage-publisher/app/services"
	businessflow "github.com/amirphl/signage-publisher/business_flow"
	"github.com/amirphl/signage-publisher/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoScreen creates a screen whose location already memoizes playlistID.
func (e *flowEnv) memoScreen(t *testing.T, yodeckScreenID, playlistID int64, source services.ScreenSource) *models.Screen {
	t.Helper()
	location, err := e.fixtures.CreateLocation("Station", &playlistID)
	require.NoError(t, err)
	screen, err := e.fixtures.CreateScreen(location.ID, yodeckScreenID)
	require.NoError(t, err)
	e.signage.SeedScreen(yodeckScreenID, screen.Name, source)
	return screen
}

func actionNames(actions []businessflow.RecommendedAction) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.Action)
	}
	return out
}

func executedNames(executed []businessflow.RepairActionResult) []string {
	out := make([]string, 0, len(executed))
	for _, r := range executed {
		out = append(out, r.Action)
	}
	return out
}

func baselineItem(mediaID int64) services.PlaylistItem {
	return services.PlaylistItem{MediaID: mediaID, Type: "media", Name: "Baseline loop", Duration: 30}
}

func TestPlaybackHealthFlow_GetPlaybackHealth(t *testing.T) {
	t.Run("published screen is healthy", func(t *testing.T) {
		e := newFlowEnv(t)
		asset := e.uploadedAsset(t, 1)
		_, screen := e.screenWithPlacement(t, 1, 77, layoutSource)
		res, err := e.publish.BulkPublish(e.ctx, 1, nil)
		require.NoError(t, err)
		require.Equal(t, models.PublishOutcomeSuccess, res.Outcome)

		health, err := e.health.GetPlaybackHealth(e.ctx, screen.ID)
		require.NoError(t, err)
		assert.True(t, health.Healthy, "findings: %v", health.Findings)
		assert.Empty(t, health.Findings)
		assert.Empty(t, health.Actions)
		assert.True(t, health.SourceMatches)
		assert.False(t, health.PossibleBlackScreen)
		assert.Equal(t, 1, health.AdCount)
		require.Len(t, health.Items, 1)
		assert.Equal(t, businessflow.ItemClassAd, health.Items[0].Class)
		require.NotNil(t, health.Items[0].AssetID)
		assert.Equal(t, asset.ID, *health.Items[0].AssetID)
		require.Len(t, health.Placements, 1)
		assert.True(t, health.Placements[0].Ready)
		assert.True(t, health.Placements[0].InPlaylist)

		assert.Equal(t, 1, e.signage.Calls("set_screen_source"))
	})

	t.Run("wrong source and empty playlist", func(t *testing.T) {
		e := newFlowEnv(t)
		e.uploadedAsset(t, 1)
		playlistID := e.signage.SeedPlaylist("memo", nil)
		screen := e.memoScreen(t, 77, playlistID, layoutSource)
		_, err := e.fixtures.CreatePlacement(1, screen.ID)
		require.NoError(t, err)

		health, err := e.health.GetPlaybackHealth(e.ctx, screen.ID)
		require.NoError(t, err)
		assert.False(t, health.Healthy)
		assert.ElementsMatch(t, []string{
			businessflow.FindingWrongSource,
			businessflow.FindingLayoutMode,
			businessflow.FindingEmptyPlaylist,
			businessflow.FindingAdNotInPlaylist,
			businessflow.FindingPossibleBlackScreen,
		}, health.Findings)
		assert.Equal(t, []string{
			businessflow.ActionReassignPlaylist,
			businessflow.ActionReseedBaseline,
			businessflow.ActionPublishAd,
		}, actionNames(health.Actions))
		assert.True(t, health.NeedsRepair())
		assert.Equal(t, services.ScreenSource{Type: services.SourceTypePlaylist, ID: playlistID}, health.ExpectedSource)
	})

	t.Run("unknown items only", func(t *testing.T) {
		e := newFlowEnv(t)
		playlistID := e.signage.SeedPlaylist("memo", []services.PlaylistItem{{MediaID: 99, Type: "media", Name: "someone else"}})
		screen := e.memoScreen(t, 77, playlistID, playlistSource(playlistID))

		health, err := e.health.GetPlaybackHealth(e.ctx, screen.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{businessflow.FindingNoKnownContent, businessflow.FindingPossibleBlackScreen}, health.Findings)
		assert.Equal(t, 1, health.UnknownCount)
	})

	t.Run("placements whose media is not publishable", func(t *testing.T) {
		e := newFlowEnv(t)
		playlistID := e.signage.SeedPlaylist("memo", []services.PlaylistItem{baselineItem(1)})
		screen := e.memoScreen(t, 77, playlistID, playlistSource(playlistID))
		_, err := e.fixtures.CreateAsset(e.storage, 2, models.ReadinessPending, []byte("x"))
		require.NoError(t, err)
		_, err = e.fixtures.CreatePlacement(2, screen.ID)
		require.NoError(t, err)
		_, err = e.fixtures.CreatePlacement(3, screen.ID)
		require.NoError(t, err)

		health, err := e.health.GetPlaybackHealth(e.ctx, screen.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{businessflow.FindingMediaNotReady}, health.Findings)
		assert.Equal(t, 1, health.BaselineCount)
		require.Len(t, health.Placements, 2)
		assert.Equal(t, businessflow.CodeMediaNotReady, health.Placements[0].ErrorCode)
		assert.Equal(t, businessflow.NextActionValidate, health.Placements[0].NextAction)
		assert.Equal(t, models.ReadinessPending, health.Placements[0].ReadinessStatus)
		assert.Equal(t, businessflow.CodeNoCanonicalAsset, health.Placements[1].ErrorCode)
		assert.Equal(t, []string{businessflow.ActionFixMediaReadiness, businessflow.ActionUploadMedia}, actionNames(health.Actions))
		assert.False(t, health.NeedsRepair())

		repair, err := e.health.RepairScreen(e.ctx, screen.ID)
		require.NoError(t, err)
		assert.Empty(t, repair.Executed)
		assert.Same(t, repair.Before, repair.After)
	})

	t.Run("unknown screen", func(t *testing.T) {
		e := newFlowEnv(t)
		_, err := e.health.GetPlaybackHealth(e.ctx, 404)
		requireCode(t, err, businessflow.CodeScreenNotFound)
	})
}

func TestPlaybackHealthFlow_RepairScreen(t *testing.T) {
	t.Run("reassigns and reseeds", func(t *testing.T) {
		e := newFlowEnv(t)
		playlistID := e.signage.SeedPlaylist("memo", nil)
		screen := e.memoScreen(t, 77, playlistID, layoutSource)
		baseline := e.signage.SeedMedia(services.Media{
			Name:   "baseline-loop",
			Status: "finished",
			File:   &services.MediaFile{Size: 100, Format: "mp4"},
		})

		res, err := e.health.RepairScreen(e.ctx, screen.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{businessflow.ActionReassignPlaylist, businessflow.ActionReseedBaseline}, executedNames(res.Executed))
		for _, r := range res.Executed {
			assert.True(t, r.OK, "%s: %s", r.Action, r.Detail)
		}

		assert.True(t, res.After.Healthy, "findings: %v", res.After.Findings)
		assert.Equal(t, 1, res.After.BaselineCount)
		assert.Equal(t, baseline, res.After.Items[0].MediaID)

		remote, _ := e.signage.ScreenByID(77)
		assert.Equal(t, playlistSource(playlistID), remote.Content)
	})

	t.Run("removes duplicates", func(t *testing.T) {
		e := newFlowEnv(t)
		asset := e.uploadedAsset(t, 1)
		ad := *asset.YodeckMediaID
		playlistID := e.signage.SeedPlaylist("memo", []services.PlaylistItem{
			{MediaID: ad, Type: "media", Duration: 15},
			baselineItem(1),
			{MediaID: ad, Type: "media", Duration: 15},
		})
		screen := e.memoScreen(t, 77, playlistID, playlistSource(playlistID))
		_, err := e.fixtures.CreatePlacement(1, screen.ID)
		require.NoError(t, err)

		res, err := e.health.RepairScreen(e.ctx, screen.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{businessflow.FindingDuplicateItems}, res.Before.Findings)
		assert.Equal(t, 1, res.Before.DuplicateCount)
		assert.Equal(t, []string{businessflow.ActionDeduplicatePlaylist}, executedNames(res.Executed))
		assert.True(t, res.After.Healthy)

		playlist, _ := e.signage.PlaylistByID(playlistID)
		assert.Equal(t, []int64{ad, 1}, mediaIDs(playlist.Items))
	})

	t.Run("creates the canonical playlist when none exists", func(t *testing.T) {
		e := newFlowEnv(t)
		location, err := e.fixtures.CreateLocation("Fresh", nil)
		require.NoError(t, err)
		screen, err := e.fixtures.CreateScreen(location.ID, 77)
		require.NoError(t, err)
		e.signage.SeedScreen(77, screen.Name, services.ScreenSource{Type: services.SourceTypeMedia, ID: 5})
		baseline := seedLibraryVideo(e.signage, "baseline-loop", "finished")

		before, err := e.health.GetPlaybackHealth(e.ctx, screen.ID)
		require.NoError(t, err)
		assert.Contains(t, before.Findings, businessflow.FindingNoCanonicalPlaylist)
		assert.True(t, before.PossibleBlackScreen)
		assert.Zero(t, e.signage.Calls("create_playlist"))

		res, err := e.health.RepairScreen(e.ctx, screen.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{businessflow.ActionReassignPlaylist, businessflow.ActionReseedBaseline}, executedNames(res.Executed))
		assert.Equal(t, 1, e.signage.Calls("create_playlist"))
		assert.True(t, res.After.Healthy, "findings: %v", res.After.Findings)
		assert.False(t, res.After.PossibleBlackScreen)

		require.NotNil(t, res.After.PlaylistID)
		playlist, ok := e.signage.PlaylistByID(*res.After.PlaylistID)
		require.True(t, ok)
		assert.Equal(t, []int64{baseline}, mediaIDs(playlist.Items))
	})

	t.Run("replaces a deleted playlist and seeds it", func(t *testing.T) {
		e := newFlowEnv(t)
		gone := e.signage.SeedPlaylist("memo", []services.PlaylistItem{baselineItem(1)})
		screen := e.memoScreen(t, 77, gone, playlistSource(gone))
		e.signage.DeletePlaylist(gone)
		baseline := seedLibraryVideo(e.signage, "baseline-loop", "finished")

		res, err := e.health.RepairScreen(e.ctx, screen.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{businessflow.ActionReassignPlaylist, businessflow.ActionReseedBaseline}, executedNames(res.Executed))
		for _, r := range res.Executed {
			assert.True(t, r.OK, "%s: %s", r.Action, r.Detail)
		}
		assert.True(t, res.After.Healthy, "findings: %v", res.After.Findings)

		remote, _ := e.signage.ScreenByID(77)
		require.Equal(t, services.SourceTypePlaylist, remote.Content.Type)
		assert.NotEqual(t, gone, remote.Content.ID)
		playlist, ok := e.signage.PlaylistByID(remote.Content.ID)
		require.True(t, ok)
		assert.Equal(t, []int64{baseline}, mediaIDs(playlist.Items))
	})
}

func TestPlaybackHealthFlow_AuditScreens(t *testing.T) {
	e := newFlowEnv(t)
	healthyPlaylist := e.signage.SeedPlaylist("ok", []services.PlaylistItem{baselineItem(1)})
	e.memoScreen(t, 71, healthyPlaylist, playlistSource(healthyPlaylist))

	brokenA := e.signage.SeedPlaylist("dup-a", []services.PlaylistItem{baselineItem(1), baselineItem(1)})
	e.memoScreen(t, 72, brokenA, playlistSource(brokenA))
	brokenB := e.signage.SeedPlaylist("dup-b", []services.PlaylistItem{baselineItem(2), baselineItem(2)})
	e.memoScreen(t, 73, brokenB, playlistSource(brokenB))

	location, err := e.fixtures.CreateLocation("Offline", nil)
	require.NoError(t, err)
	_, err = e.fixtures.CreateScreen(location.ID, 74)
	require.NoError(t, err)

	summary, err := e.health.AuditScreens(e.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, businessflow.AuditSummary{Checked: 4, Healthy: 1, Repaired: 1, Errors: 1}, *summary)

	a, _ := e.signage.PlaylistByID(brokenA)
	assert.Len(t, a.Items, 1)
	b, _ := e.signage.PlaylistByID(brokenB)
	assert.Len(t, b.Items, 2)
}
