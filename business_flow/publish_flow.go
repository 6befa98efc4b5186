package businessflow

import (
	"context"
	"fmt"
	"log"
	"slices"
	"strconv"

	"github.com/amirphl/signage-publisher/app/services"
	"github.com/amirphl/signage-publisher/config"
	"github.com/amirphl/signage-publisher/models"
	"github.com/amirphl/signage-publisher/repository"
	"github.com/amirphl/signage-publisher/utils"
	"gorm.io/datatypes"
)

// PublishToScreenRequest asks for one media to be made visible on one screen.
type PublishToScreenRequest struct {
	AdvertiserID  uint
	ScreenID      uint
	MediaID       int64
	CorrelationID string
}

// BulkPublishSummary counts per-screen outcomes.
type BulkPublishSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Partial   int `json:"partial"`
	Failed    int `json:"failed"`
}

// BulkPublishResult aggregates one fan-out over an advertiser's screens.
type BulkPublishResult struct {
	CorrelationID string                 `json:"correlation_id"`
	AdvertiserID  uint                   `json:"advertiser_id"`
	AssetID       uint                   `json:"asset_id"`
	MediaID       int64                  `json:"media_id"`
	Outcome       string                 `json:"outcome"`
	Summary       BulkPublishSummary     `json:"summary"`
	Traces        []*models.PublishTrace `json:"traces"`
}

// DisplayModeResult describes what EnforceDisplayMode found and did.
type DisplayModeResult struct {
	Before          services.ScreenSource `json:"before"`
	After           services.ScreenSource `json:"after"`
	Changed         bool                  `json:"changed"`
	WasInLayoutMode bool                  `json:"was_in_layout_mode"`
	Verified        bool                  `json:"verified"`
}

// PublishFlow makes an advertiser's media visible on screens and proves it by re-reading
// the platform's state.
type PublishFlow interface {
	PublishToScreen(ctx context.Context, req PublishToScreenRequest) (*models.PublishTrace, error)
	BulkPublish(ctx context.Context, advertiserID uint, screenIDs []uint) (*BulkPublishResult, error)
	UpdatePlaylistWithAd(ctx context.Context, playlistID, mediaID int64) (*models.PlaylistMutation, error)
	ResolveCanonicalPlaylist(ctx context.Context, location *models.Location) (*services.Playlist, error)
	EnforceDisplayMode(ctx context.Context, yodeckScreenID, playlistID int64) (*DisplayModeResult, error)
	TracesByCorrelationID(ctx context.Context, correlationID string) ([]*models.PublishTrace, error)
}

// PublishFlowImpl implements PublishFlow.
type PublishFlowImpl struct {
	assetRepo     repository.AdAssetRepository
	screenRepo    repository.ScreenRepository
	locationRepo  repository.LocationRepository
	placementRepo repository.PlacementRepository
	traceRepo     repository.PublishTraceRepository
	readiness     ReadinessFlow
	signage       services.SignageClient
	cfg           config.PublishConfig
	logger        *log.Logger
}

// NewPublishFlow creates a new publish flow instance.
func NewPublishFlow(
	assetRepo repository.AdAssetRepository,
	screenRepo repository.ScreenRepository,
	locationRepo repository.LocationRepository,
	placementRepo repository.PlacementRepository,
	traceRepo repository.PublishTraceRepository,
	readiness ReadinessFlow,
	signage services.SignageClient,
	cfg config.PublishConfig,
	logger *log.Logger,
) PublishFlow {
	if logger == nil {
		logger = log.Default()
	}
	return &PublishFlowImpl{
		assetRepo:     assetRepo,
		screenRepo:    screenRepo,
		locationRepo:  locationRepo,
		placementRepo: placementRepo,
		traceRepo:     traceRepo,
		readiness:     readiness,
		signage:       signage,
		cfg:           cfg,
		logger:        logger,
	}
}

// traceRecorder keeps the ordered log trail of one screen publish.
type traceRecorder struct {
	logger *log.Logger
	prefix string
	lines  []string
}

func newTraceRecorder(logger *log.Logger, correlationID string, screenID uint) *traceRecorder {
	return &traceRecorder{logger: logger, prefix: fmt.Sprintf("publish: cid=%s screen=%d", correlationID, screenID)}
}

func (r *traceRecorder) logf(step, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.lines = append(r.lines, fmt.Sprintf("%s %s: %s", utils.UTCNow().Format("15:04:05.000"), step, msg))
	r.logger.Printf("%s %s: %s", r.prefix, step, msg)
}

func (f *PublishFlowImpl) playlistName(locationID uint) string {
	return fmt.Sprintf(f.cfg.PlaylistNamePattern, locationID)
}

// gateMedia is the readiness gate for a bare external media id.
func (f *PublishFlowImpl) gateMedia(ctx context.Context, advertiserID uint, mediaID int64) (*models.AdAsset, error) {
	if mediaID <= 0 {
		return nil, NewBusinessError(CodeInvalidRequest, "media id is required", nil)
	}
	asset, err := f.assetRepo.ByYodeckMediaID(ctx, mediaID)
	if err != nil {
		return nil, NewTransientError(CodeDatabaseError, "failed to load asset", err)
	}
	if asset == nil {
		e := NewMediaNotReadyError("")
		e.NextAction = NextActionUpload
		return nil, e.WithDetail("media_id", strconv.FormatInt(mediaID, 10))
	}
	if advertiserID != 0 && asset.AdvertiserID != advertiserID {
		return nil, NewBusinessErrorf(CodeInvalidRequest, "media %d does not belong to advertiser %d", nil, mediaID, advertiserID)
	}
	if err := requireReady(asset); err != nil {
		return nil, err
	}
	if asset.UploadedAt == nil {
		e := NewBusinessErrorf(CodeMediaNotReady, "asset %d has not finished uploading", ErrMediaNotReady, asset.ID)
		e.NextAction = NextActionUpload
		return nil, e.WithDetail("status", asset.ReadinessStatus)
	}
	return asset, nil
}

func (f *PublishFlowImpl) loadScreen(ctx context.Context, screenID uint) (*models.Screen, error) {
	screen, err := f.screenRepo.ByIDWithLocation(ctx, screenID)
	if err != nil {
		return nil, NewTransientError(CodeDatabaseError, "failed to load screen", err)
	}
	if screen == nil {
		return nil, NewBusinessErrorf(CodeScreenNotFound, "screen %d not found", ErrScreenNotFound, screenID)
	}
	if screen.Location == nil {
		return nil, NewBusinessErrorf(CodeLocationNotFound, "screen %d has no location", ErrLocationNotFound, screenID)
	}
	return screen, nil
}

func (f *PublishFlowImpl) TracesByCorrelationID(ctx context.Context, correlationID string) ([]*models.PublishTrace, error) {
	traces, err := f.traceRepo.ByCorrelationID(ctx, correlationID)
	if err != nil {
		return nil, NewTransientError(CodeDatabaseError, "failed to load traces", err)
	}
	return traces, nil
}

// PublishToScreen runs the per-screen protocol. Gate and lookup failures are returned
// as errors; everything after is recorded on the returned trace.
func (f *PublishFlowImpl) PublishToScreen(ctx context.Context, req PublishToScreenRequest) (*models.PublishTrace, error) {
	if _, err := f.gateMedia(ctx, req.AdvertiserID, req.MediaID); err != nil {
		return nil, err
	}
	screen, err := f.loadScreen(ctx, req.ScreenID)
	if err != nil {
		return nil, err
	}
	if req.CorrelationID == "" {
		req.CorrelationID = utils.NewCorrelationID()
	}
	return f.publishScreen(ctx, req.AdvertiserID, screen, req.MediaID, req.CorrelationID), nil
}

func (f *PublishFlowImpl) publishScreen(ctx context.Context, advertiserID uint, screen *models.Screen, mediaID int64, correlationID string) *models.PublishTrace {
	rec := newTraceRecorder(f.logger, correlationID, screen.ID)
	trace := &models.PublishTrace{
		CorrelationID:  correlationID,
		AdvertiserID:   advertiserID,
		ScreenID:       screen.ID,
		YodeckScreenID: screen.YodeckScreenID,
		YodeckMediaID:  mediaID,
	}
	finish := func(outcome string, err error) *models.PublishTrace {
		trace.Outcome = outcome
		if err != nil {
			code := ErrorCode(err)
			if code == "" {
				code = CodeSignageUnavailable
			}
			trace.ErrorCode = &code
			rec.logf("result", "%s code=%s: %v", outcome, code, err)
		} else {
			rec.logf("result", "%s", outcome)
		}
		trace.Logs = models.TraceLines(rec.lines)
		if saveErr := f.traceRepo.Save(context.WithoutCancel(ctx), trace); saveErr != nil {
			f.logger.Printf("publish: cid=%s screen=%d failed to save trace: %v", correlationID, screen.ID, saveErr)
		}
		publishScreensTotal.WithLabelValues(outcome).Inc()
		return trace
	}

	rec.logf("start", "media=%d yodeck_screen=%d location=%d", mediaID, screen.YodeckScreenID, screen.LocationID)

	// 1. canonical playlist
	playlist, err := f.resolveCanonicalPlaylist(ctx, screen.Location, rec)
	if err != nil {
		return finish(models.PublishOutcomeFailed, err)
	}
	trace.EnforcedPlaylistID = &playlist.ID

	updateContents := func() error {
		mutation, err := f.updatePlaylist(ctx, playlist.ID, mediaID, rec)
		if mutation != nil {
			trace.Mutation = datatypes.NewJSONType(*mutation)
		}
		return err
	}

	// An empty playlist gets the ad before any screen is pointed at it.
	contentFirst := len(playlist.Items) == 0
	if contentFirst {
		if err := updateContents(); err != nil {
			return finish(models.PublishOutcomeFailed, err)
		}
	}

	// 2. display mode
	mode, err := f.enforceDisplayMode(ctx, screen.YodeckScreenID, playlist.ID, rec)
	if mode != nil {
		trace.DisplayBefore = datatypes.NewJSONType(models.DisplaySource{Type: mode.Before.Type, ID: mode.Before.ID})
		trace.DisplayAfter = datatypes.NewJSONType(models.DisplaySource{Type: mode.After.Type, ID: mode.After.ID})
		trace.WasInLayoutMode = mode.WasInLayoutMode
	}
	if err != nil {
		return finish(models.PublishOutcomeFailed, err)
	}
	if !mode.Verified {
		return finish(models.PublishOutcomeFailed, NewTransientError(CodeDisplayModeNotApplied,
			fmt.Sprintf("screen shows %s/%d after switching to playlist %d", mode.After.Type, mode.After.ID, playlist.ID), nil))
	}

	// 3. playlist contents
	if !contentFirst {
		if err := updateContents(); err != nil {
			return finish(models.PublishOutcomeFailed, err)
		}
	}

	// 4 and 5. push, settle, verify; one retry.
	var snapshot models.VerificationSnapshot
	for attempt := 1; attempt <= 2; attempt++ {
		pushErr := f.signage.PushToScreen(ctx, screen.YodeckScreenID)
		if pushErr != nil {
			rec.logf("push", "attempt %d failed: %v", attempt, pushErr)
		} else {
			rec.logf("push", "attempt %d sent", attempt)
		}
		if err := utils.SleepContext(ctx, f.cfg.SettleDelay); err != nil {
			return finish(models.PublishOutcomeFailed, NewTransientError(CodeSignageUnavailable, "publish interrupted", err))
		}
		snapshot = f.verify(ctx, screen, playlist.ID, mediaID, rec)
		snapshot.Attempts = attempt
		snapshot.PushFailed = pushErr != nil
		if snapshot.Passed() && pushErr == nil {
			break
		}
	}
	trace.Verification = datatypes.NewJSONType(snapshot)

	switch {
	case snapshot.Passed() && !snapshot.PushFailed:
		return finish(models.PublishOutcomeSuccess, nil)
	case snapshot.Passed():
		return finish(models.PublishOutcomePartial, NewTransientError(CodeSignageUnavailable, "content verified but device push failed", nil))
	default:
		return finish(models.PublishOutcomeFailed, NewTransientError(CodeVerificationFailed, snapshot.FailureDetail, nil))
	}
}

// verify re-reads the screen and playlist and checks source type, source id and media
// membership.
func (f *PublishFlowImpl) verify(ctx context.Context, screen *models.Screen, playlistID, mediaID int64, rec *traceRecorder) models.VerificationSnapshot {
	var snap models.VerificationSnapshot
	defer func() { snap.VerifiedAtMilli = utils.UTCNow().UnixMilli() }()

	remote, err := f.signage.GetScreen(ctx, screen.YodeckScreenID)
	if err != nil {
		snap.FailureDetail = fmt.Sprintf("screen re-read failed: %v", err)
		rec.logf("verify", "%s", snap.FailureDetail)
		return snap
	}
	snap.SourceType = remote.Content.Type
	snap.SourceID = remote.Content.ID
	snap.SourceTypeOK = remote.Content.Type == services.SourceTypePlaylist
	snap.SourceIDOK = remote.Content.ID == playlistID

	playlist, err := f.signage.GetPlaylist(ctx, playlistID)
	if err != nil {
		if services.IsNotFound(err) {
			if clearErr := f.locationRepo.SetCanonicalPlaylist(context.WithoutCancel(ctx), screen.LocationID, nil, nil); clearErr != nil {
				rec.logf("verify", "failed to clear playlist memo: %v", clearErr)
			}
		}
		snap.FailureDetail = fmt.Sprintf("playlist re-read failed: %v", err)
		rec.logf("verify", "%s", snap.FailureDetail)
		return snap
	}
	snap.PlaylistItems = len(playlist.Items)
	snap.MediaPresent = slices.ContainsFunc(playlist.Items, func(it services.PlaylistItem) bool { return it.MediaID == mediaID })

	if !snap.Passed() {
		snap.FailureDetail = fmt.Sprintf("source=%s/%d (want playlist/%d) media_present=%t",
			snap.SourceType, snap.SourceID, playlistID, snap.MediaPresent)
	}
	rec.logf("verify", "source=%s/%d media_present=%t items=%d", snap.SourceType, snap.SourceID, snap.MediaPresent, snap.PlaylistItems)
	return snap
}

// BulkPublish publishes the advertiser's canonical asset to the given screens, or to
// every screen carrying a live placement of the advertiser. Screens run sequentially.
func (f *PublishFlowImpl) BulkPublish(ctx context.Context, advertiserID uint, screenIDs []uint) (*BulkPublishResult, error) {
	if advertiserID == 0 {
		return nil, NewBusinessError(CodeInvalidRequest, "advertiser id is required", nil)
	}
	asset, err := f.readiness.RequirePublishableAsset(ctx, advertiserID)
	if err != nil {
		return nil, err
	}
	screens, err := f.targets(ctx, advertiserID, screenIDs)
	if err != nil {
		return nil, err
	}

	result := &BulkPublishResult{
		CorrelationID: utils.NewCorrelationID(),
		AdvertiserID:  advertiserID,
		AssetID:       asset.ID,
		MediaID:       *asset.YodeckMediaID,
		Traces:        make([]*models.PublishTrace, 0, len(screens)),
	}
	if len(screens) == 0 {
		result.Outcome = models.PublishOutcomeNoTargets
		f.logger.Printf("publish: cid=%s advertiser=%d no target screens", result.CorrelationID, advertiserID)
		return result, nil
	}

	for _, screen := range screens {
		if ctx.Err() != nil {
			break
		}
		trace := f.publishScreen(ctx, advertiserID, screen, result.MediaID, result.CorrelationID)
		result.Traces = append(result.Traces, trace)
		switch trace.Outcome {
		case models.PublishOutcomeSuccess:
			result.Summary.Succeeded++
		case models.PublishOutcomePartial:
			result.Summary.Partial++
		default:
			result.Summary.Failed++
		}
	}
	result.Summary.Total = len(screens)
	result.Summary.Failed += len(screens) - len(result.Traces)

	switch {
	case result.Summary.Succeeded == result.Summary.Total:
		result.Outcome = models.PublishOutcomeSuccess
	case result.Summary.Succeeded == 0 && result.Summary.Partial == 0:
		result.Outcome = models.PublishOutcomeFailed
	default:
		result.Outcome = models.PublishOutcomePartial
	}
	f.logger.Printf("publish: cid=%s advertiser=%d media=%d outcome=%s succeeded=%d partial=%d failed=%d",
		result.CorrelationID, advertiserID, result.MediaID, result.Outcome, result.Summary.Succeeded, result.Summary.Partial, result.Summary.Failed)
	return result, nil
}

func (f *PublishFlowImpl) targets(ctx context.Context, advertiserID uint, screenIDs []uint) ([]*models.Screen, error) {
	if len(screenIDs) > 0 {
		ids := uniqueIDs(screenIDs)
		screens, err := f.screenRepo.ByIDs(ctx, ids)
		if err != nil {
			return nil, NewTransientError(CodeDatabaseError, "failed to load screens", err)
		}
		if len(screens) != len(ids) {
			found := make(map[uint]bool, len(screens))
			for _, s := range screens {
				found[s.ID] = true
			}
			for _, id := range ids {
				if !found[id] {
					return nil, NewBusinessErrorf(CodeScreenNotFound, "screen %d not found", ErrScreenNotFound, id)
				}
			}
		}
		return withLocation(screens)
	}

	placements, err := f.placementRepo.LiveForAdvertiser(ctx, advertiserID, utils.UTCNow())
	if err != nil {
		return nil, NewTransientError(CodeDatabaseError, "failed to load placements", err)
	}
	ids := make([]uint, 0, len(placements))
	for _, p := range placements {
		ids = append(ids, p.ScreenID)
	}
	screens, err := f.screenRepo.ByIDs(ctx, uniqueIDs(ids))
	if err != nil {
		return nil, NewTransientError(CodeDatabaseError, "failed to load screens", err)
	}
	active := screens[:0]
	for _, s := range screens {
		if s.IsActive {
			active = append(active, s)
		}
	}
	return withLocation(active)
}

func withLocation(screens []*models.Screen) ([]*models.Screen, error) {
	for _, s := range screens {
		if s.Location == nil {
			return nil, NewBusinessErrorf(CodeLocationNotFound, "screen %d has no location", ErrLocationNotFound, s.ID)
		}
	}
	return screens, nil
}

func uniqueIDs(ids []uint) []uint {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

// ResolveCanonicalPlaylist returns the location's canonical playlist: the memoized id if
// it still exists, else the lowest-id playlist with the location's name, else a new one.
func (f *PublishFlowImpl) ResolveCanonicalPlaylist(ctx context.Context, location *models.Location) (*services.Playlist, error) {
	if location == nil {
		return nil, NewBusinessError(CodeLocationNotFound, "location is required", ErrLocationNotFound)
	}
	return f.resolveCanonicalPlaylist(ctx, location, newTraceRecorder(f.logger, "-", 0))
}

func (f *PublishFlowImpl) resolveCanonicalPlaylist(ctx context.Context, location *models.Location, rec *traceRecorder) (*services.Playlist, error) {
	unlock := lockPlaylistResolve(location.ID)
	defer unlock()

	// Another publish may have memoized it while we waited.
	if fresh, err := f.locationRepo.ByID(ctx, location.ID); err == nil && fresh != nil {
		location.YodeckPlaylistID = fresh.YodeckPlaylistID
		location.PlaylistName = fresh.PlaylistName
	}

	name := f.playlistName(location.ID)
	if location.YodeckPlaylistID != nil {
		playlist, err := f.signage.GetPlaylist(ctx, *location.YodeckPlaylistID)
		if err == nil {
			rec.logf("playlist", "memoized playlist %d exists", playlist.ID)
			return playlist, nil
		}
		if !services.IsNotFound(err) {
			return nil, classifySignageError("read canonical playlist", err)
		}
		rec.logf("playlist", "memoized playlist %d is gone", *location.YodeckPlaylistID)
	}

	found, err := f.signage.FindPlaylistsByName(ctx, name)
	if err != nil {
		return nil, classifySignageError("search playlists", err)
	}
	var playlist *services.Playlist
	if len(found) > 0 {
		best := found[0]
		for _, p := range found[1:] {
			if p.ID < best.ID {
				best = p
			}
		}
		playlist = &best
		rec.logf("playlist", "found playlist %d by name %q (%d candidates)", playlist.ID, name, len(found))
	} else {
		created, err := f.signage.CreatePlaylist(ctx, name, nil)
		if err != nil {
			return nil, classifySignageError("create playlist", err)
		}
		playlist = created
		rec.logf("playlist", "created playlist %d %q", playlist.ID, name)
	}

	if err := f.locationRepo.SetCanonicalPlaylist(ctx, location.ID, &playlist.ID, &name); err != nil {
		return nil, NewTransientError(CodeDatabaseError, "failed to memoize canonical playlist", err)
	}
	location.YodeckPlaylistID = &playlist.ID
	location.PlaylistName = &name
	return playlist, nil
}

// EnforceDisplayMode points the screen at the playlist unless it already is, pushes, and
// re-reads the screen to confirm.
func (f *PublishFlowImpl) EnforceDisplayMode(ctx context.Context, yodeckScreenID, playlistID int64) (*DisplayModeResult, error) {
	return f.enforceDisplayMode(ctx, yodeckScreenID, playlistID, newTraceRecorder(f.logger, "-", 0))
}

func (f *PublishFlowImpl) enforceDisplayMode(ctx context.Context, yodeckScreenID, playlistID int64, rec *traceRecorder) (*DisplayModeResult, error) {
	current, err := f.signage.GetScreen(ctx, yodeckScreenID)
	if err != nil {
		return nil, classifySignageError("read screen", err)
	}
	want := services.ScreenSource{Type: services.SourceTypePlaylist, ID: playlistID}
	result := &DisplayModeResult{
		Before:          current.Content,
		After:           current.Content,
		WasInLayoutMode: current.Content.Type == services.SourceTypeLayout,
	}
	if current.Content == want {
		result.Verified = true
		rec.logf("display", "already playlist/%d", playlistID)
		return result, nil
	}

	rec.logf("display", "switching %s/%d to playlist/%d", current.Content.Type, current.Content.ID, playlistID)
	if _, err := f.signage.SetScreenSource(ctx, yodeckScreenID, want); err != nil {
		return result, classifySignageError("set screen source", err)
	}
	result.Changed = true
	if err := f.signage.PushToScreen(ctx, yodeckScreenID); err != nil {
		rec.logf("display", "push after switch failed: %v", err)
	}

	after, err := f.signage.GetScreen(ctx, yodeckScreenID)
	if err != nil {
		return result, classifySignageError("re-read screen", err)
	}
	result.After = after.Content
	result.Verified = after.Content == want
	rec.logf("display", "re-read shows %s/%d verified=%t", after.Content.Type, after.Content.ID, result.Verified)
	return result, nil
}

// UpdatePlaylistWithAd ensures mediaID appears exactly once in the playlist. Repeated
// calls leave the playlist unchanged.
func (f *PublishFlowImpl) UpdatePlaylistWithAd(ctx context.Context, playlistID, mediaID int64) (*models.PlaylistMutation, error) {
	if _, err := f.gateMedia(ctx, 0, mediaID); err != nil {
		return nil, err
	}
	return f.updatePlaylist(ctx, playlistID, mediaID, newTraceRecorder(f.logger, "-", 0))
}

func (f *PublishFlowImpl) updatePlaylist(ctx context.Context, playlistID, mediaID int64, rec *traceRecorder) (*models.PlaylistMutation, error) {
	playlist, err := f.signage.GetPlaylist(ctx, playlistID)
	if err != nil {
		return nil, classifySignageError("read playlist", err)
	}
	items, removed := dedupePlaylistItems(playlist.Items)
	mutation := &models.PlaylistMutation{
		PlaylistID:        playlistID,
		DuplicatesRemoved: removed,
		AlreadyPresent:    slices.ContainsFunc(items, func(it services.PlaylistItem) bool { return it.MediaID == mediaID }),
	}
	if !mutation.AlreadyPresent {
		duration := f.cfg.PlaylistItemDuration
		if duration <= 0 {
			duration = utils.DefaultPlaylistItemSecs
		}
		items = append(items, services.PlaylistItem{MediaID: mediaID, Type: "media", Duration: duration})
		mutation.Added = true
	}
	mutation.Changed = mutation.Added || removed > 0
	mutation.ItemCount = len(items)

	if !mutation.Changed {
		rec.logf("mutate", "playlist %d already holds media %d, no write", playlistID, mediaID)
		return mutation, nil
	}
	if _, err := f.signage.UpdatePlaylistItems(ctx, playlistID, items); err != nil {
		return mutation, classifySignageError("write playlist", err)
	}
	rec.logf("mutate", "playlist %d written items=%d added=%t duplicates_removed=%d", playlistID, len(items), mutation.Added, removed)
	return mutation, nil
}

// dedupePlaylistItems keeps the first occurrence of each media id, preserving order and
// durations.
func dedupePlaylistItems(items []services.PlaylistItem) ([]services.PlaylistItem, int) {
	seen := make(map[int64]bool, len(items))
	out := make([]services.PlaylistItem, 0, len(items))
	for _, it := range items {
		if seen[it.MediaID] {
			continue
		}
		seen[it.MediaID] = true
		out = append(out, it)
	}
	return out, len(items) - len(out)
}
