package businessflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/amirphl/signage-publisher/app/services"
	"github.com/amirphl/signage-publisher/config"
	"github.com/amirphl/signage-publisher/models"
	"github.com/amirphl/signage-publisher/repository"
	"github.com/amirphl/signage-publisher/utils"
)

// Playlist item classes
const (
	ItemClassBaseline = "BASELINE"
	ItemClassAd       = "AD"
	ItemClassUnknown  = "UNKNOWN"
)

// Health findings
const (
	FindingNoCanonicalPlaylist = "NO_CANONICAL_PLAYLIST"
	FindingPlaylistMissing     = "PLAYLIST_MISSING"
	FindingWrongSource         = "WRONG_DISPLAY_SOURCE"
	FindingLayoutMode          = "LEGACY_LAYOUT_MODE"
	FindingEmptyPlaylist       = "EMPTY_PLAYLIST"
	FindingNoKnownContent      = "NO_BASELINE_OR_AD_CONTENT"
	FindingDuplicateItems      = "DUPLICATE_ITEMS"
	FindingMediaNotReady       = "PLACEMENT_MEDIA_NOT_READY"
	FindingAdNotInPlaylist     = "AD_NOT_IN_PLAYLIST"
	FindingPossibleBlackScreen = "POSSIBLE_BLACK_SCREEN"
)

// Recommended actions, in priority order
const (
	ActionReassignPlaylist    = "REASSIGN_PLAYLIST"
	ActionReseedBaseline      = "RESEED_BASELINE"
	ActionDeduplicatePlaylist = "DEDUPLICATE_PLAYLIST"
	ActionFixMediaReadiness   = "FIX_MEDIA_READINESS"
	ActionUploadMedia         = "UPLOAD_MEDIA"
	ActionPublishAd           = "PUBLISH_AD"
)

var actionPriority = map[string]int{
	ActionReassignPlaylist:    1,
	ActionReseedBaseline:      2,
	ActionDeduplicatePlaylist: 3,
	ActionFixMediaReadiness:   4,
	ActionUploadMedia:         5,
	ActionPublishAd:           6,
}

// repairOrder is the bounded set of actions RepairScreen may execute, in order.
var repairOrder = []string{ActionReassignPlaylist, ActionDeduplicatePlaylist, ActionReseedBaseline}

type PlaylistItemHealth struct {
	MediaID   int64  `json:"media_id"`
	Name      string `json:"name,omitempty"`
	Class     string `json:"class"`
	Duplicate bool   `json:"duplicate,omitempty"`
	AssetID   *uint  `json:"asset_id,omitempty"`
}

type PlacementHealth struct {
	PlacementID     uint   `json:"placement_id"`
	AdvertiserID    uint   `json:"advertiser_id"`
	AssetID         *uint  `json:"asset_id,omitempty"`
	MediaID         *int64 `json:"media_id,omitempty"`
	ReadinessStatus string `json:"readiness_status,omitempty"`
	Ready           bool   `json:"ready"`
	InPlaylist      bool   `json:"in_playlist"`
	ErrorCode       string `json:"error_code,omitempty"`
	NextAction      string `json:"next_action,omitempty"`
}

type RecommendedAction struct {
	Action         string `json:"action"`
	Priority       int    `json:"priority"`
	Reason         string `json:"reason"`
	AutoRepairable bool   `json:"auto_repairable"`
	AdvertiserID   uint   `json:"advertiser_id,omitempty"`
}

// PlaybackHealth is a read-only diagnosis of what a screen is showing.
type PlaybackHealth struct {
	ScreenID       uint                  `json:"screen_id"`
	YodeckScreenID int64                 `json:"yodeck_screen_id"`
	LocationID     uint                  `json:"location_id"`
	CheckedAt      time.Time             `json:"checked_at"`
	ExpectedSource services.ScreenSource `json:"expected_source"`
	ActualSource   services.ScreenSource `json:"actual_source"`
	SourceMatches  bool                  `json:"source_matches"`

	PlaylistID     *int64               `json:"playlist_id,omitempty"`
	PlaylistFound  bool                 `json:"playlist_found"`
	ItemCount      int                  `json:"item_count"`
	BaselineCount  int                  `json:"baseline_count"`
	AdCount        int                  `json:"ad_count"`
	UnknownCount   int                  `json:"unknown_count"`
	DuplicateCount int                  `json:"duplicate_count"`
	Items          []PlaylistItemHealth `json:"items"`

	Placements          []PlacementHealth   `json:"placements"`
	Findings            []string            `json:"findings"`
	PossibleBlackScreen bool                `json:"possible_black_screen"`
	Actions             []RecommendedAction `json:"actions"`
	Healthy             bool                `json:"healthy"`
}

// NeedsRepair reports whether any recommended action can be executed automatically.
func (h *PlaybackHealth) NeedsRepair() bool {
	return slices.ContainsFunc(h.Actions, func(a RecommendedAction) bool { return a.AutoRepairable })
}

func (h *PlaybackHealth) addFinding(finding string) {
	if !slices.Contains(h.Findings, finding) {
		h.Findings = append(h.Findings, finding)
	}
}

func (h *PlaybackHealth) recommend(action, reason string, advertiserID uint) {
	for _, a := range h.Actions {
		if a.Action == action && a.AdvertiserID == advertiserID {
			return
		}
	}
	h.Actions = append(h.Actions, RecommendedAction{
		Action:         action,
		Priority:       actionPriority[action],
		Reason:         reason,
		AutoRepairable: slices.Contains(repairOrder, action),
		AdvertiserID:   advertiserID,
	})
}

type RepairActionResult struct {
	Action string `json:"action"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// RepairResult pairs the diagnosis before and after a repair.
type RepairResult struct {
	ScreenID uint                 `json:"screen_id"`
	Before   *PlaybackHealth      `json:"before"`
	After    *PlaybackHealth      `json:"after"`
	Executed []RepairActionResult `json:"executed"`
}

// AuditSummary reports one health audit pass over active screens.
type AuditSummary struct {
	Checked  int `json:"checked"`
	Healthy  int `json:"healthy"`
	Repaired int `json:"repaired"`
	Errors   int `json:"errors"`
}

// PlaybackHealthFlow diagnoses screens and applies bounded repairs.
type PlaybackHealthFlow interface {
	GetPlaybackHealth(ctx context.Context, screenID uint) (*PlaybackHealth, error)
	RepairScreen(ctx context.Context, screenID uint) (*RepairResult, error)
	AuditScreens(ctx context.Context, repairLimit int) (*AuditSummary, error)
}

// PlaybackHealthFlowImpl implements PlaybackHealthFlow.
type PlaybackHealthFlowImpl struct {
	screenRepo    repository.ScreenRepository
	placementRepo repository.PlacementRepository
	assetRepo     repository.AdAssetRepository
	readiness     ReadinessFlow
	publish       PublishFlow
	seeder        ContentGuaranteeFlow
	signage       services.SignageClient
	cfg           config.PublishConfig
	logger        *log.Logger
}

// NewPlaybackHealthFlow creates a new playback health flow instance.
func NewPlaybackHealthFlow(
	screenRepo repository.ScreenRepository,
	placementRepo repository.PlacementRepository,
	assetRepo repository.AdAssetRepository,
	readiness ReadinessFlow,
	publish PublishFlow,
	seeder ContentGuaranteeFlow,
	signage services.SignageClient,
	cfg config.PublishConfig,
	logger *log.Logger,
) PlaybackHealthFlow {
	if logger == nil {
		logger = log.Default()
	}
	return &PlaybackHealthFlowImpl{
		screenRepo:    screenRepo,
		placementRepo: placementRepo,
		assetRepo:     assetRepo,
		readiness:     readiness,
		publish:       publish,
		seeder:        seeder,
		signage:       signage,
		cfg:           cfg,
		logger:        logger,
	}
}

func (f *PlaybackHealthFlowImpl) loadScreen(ctx context.Context, screenID uint) (*models.Screen, error) {
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

// GetPlaybackHealth diagnoses a screen without changing anything.
func (f *PlaybackHealthFlowImpl) GetPlaybackHealth(ctx context.Context, screenID uint) (*PlaybackHealth, error) {
	screen, err := f.loadScreen(ctx, screenID)
	if err != nil {
		return nil, err
	}
	remote, err := f.signage.GetScreen(ctx, screen.YodeckScreenID)
	if err != nil {
		return nil, classifySignageError("read screen", err)
	}

	h := &PlaybackHealth{
		ScreenID:       screen.ID,
		YodeckScreenID: screen.YodeckScreenID,
		LocationID:     screen.LocationID,
		CheckedAt:      utils.UTCNow(),
		ActualSource:   remote.Content,
		Items:          []PlaylistItemHealth{},
		Placements:     []PlacementHealth{},
		Findings:       []string{},
		Actions:        []RecommendedAction{},
	}

	expectedID, err := f.expectedPlaylistID(ctx, screen.Location)
	if err != nil {
		return nil, err
	}
	if expectedID != nil {
		h.ExpectedSource = services.ScreenSource{Type: services.SourceTypePlaylist, ID: *expectedID}
		h.SourceMatches = remote.Content == h.ExpectedSource
	} else {
		h.addFinding(FindingNoCanonicalPlaylist)
		h.recommend(ActionReassignPlaylist, "location has no canonical playlist", 0)
	}
	if expectedID != nil && !h.SourceMatches {
		h.addFinding(FindingWrongSource)
		h.recommend(ActionReassignPlaylist, fmt.Sprintf("screen shows %s/%d, expected playlist/%d", remote.Content.Type, remote.Content.ID, *expectedID), 0)
	}
	if remote.Content.Type == services.SourceTypeLayout {
		h.addFinding(FindingLayoutMode)
	}

	inspectID := expectedID
	if inspectID == nil && remote.Content.Type == services.SourceTypePlaylist {
		inspectID = &remote.Content.ID
	}
	var items []services.PlaylistItem
	if inspectID != nil {
		h.PlaylistID = inspectID
		playlist, err := f.signage.GetPlaylist(ctx, *inspectID)
		switch {
		case err == nil:
			h.PlaylistFound = true
			items = playlist.Items
		case services.IsNotFound(err):
			h.addFinding(FindingPlaylistMissing)
			h.recommend(ActionReassignPlaylist, fmt.Sprintf("playlist %d no longer exists", *inspectID), 0)
		default:
			return nil, classifySignageError("read playlist", err)
		}
	}
	if err := f.classifyItems(ctx, h, items); err != nil {
		return nil, err
	}
	if err := f.checkPlacements(ctx, h, screen.ID, items); err != nil {
		return nil, err
	}

	if h.PlaylistFound && h.ItemCount == 0 {
		h.addFinding(FindingEmptyPlaylist)
		h.recommend(ActionReseedBaseline, "playlist is empty", 0)
	} else if h.PlaylistFound && h.BaselineCount == 0 && h.AdCount == 0 {
		h.addFinding(FindingNoKnownContent)
		h.recommend(ActionReseedBaseline, "playlist holds neither baseline nor ad content", 0)
	}
	if h.DuplicateCount > 0 {
		h.addFinding(FindingDuplicateItems)
		h.recommend(ActionDeduplicatePlaylist, fmt.Sprintf("%d duplicate items", h.DuplicateCount), 0)
	}
	h.PossibleBlackScreen = !h.PlaylistFound || h.ItemCount == 0 || (h.BaselineCount == 0 && h.AdCount == 0)
	if h.PossibleBlackScreen {
		h.addFinding(FindingPossibleBlackScreen)
	}

	sort.SliceStable(h.Actions, func(i, j int) bool { return h.Actions[i].Priority < h.Actions[j].Priority })
	h.Healthy = len(h.Findings) == 0
	return h, nil
}

// expectedPlaylistID returns the memoized canonical playlist, or the one resolution
// would pick by name. It never creates anything.
func (f *PlaybackHealthFlowImpl) expectedPlaylistID(ctx context.Context, location *models.Location) (*int64, error) {
	if location.YodeckPlaylistID != nil {
		return location.YodeckPlaylistID, nil
	}
	found, err := f.signage.FindPlaylistsByName(ctx, fmt.Sprintf(f.cfg.PlaylistNamePattern, location.ID))
	if err != nil {
		return nil, classifySignageError("search playlists", err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	best := found[0].ID
	for _, p := range found[1:] {
		if p.ID < best {
			best = p.ID
		}
	}
	return &best, nil
}

func (f *PlaybackHealthFlowImpl) isBaseline(item services.PlaylistItem) bool {
	if f.cfg.SelfAdMediaID > 0 && item.MediaID == f.cfg.SelfAdMediaID {
		return true
	}
	name := strings.ToLower(item.Name)
	for _, prefix := range f.cfg.BaselineNamePrefixes {
		if prefix != "" && strings.HasPrefix(name, strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}

func (f *PlaybackHealthFlowImpl) classifyItems(ctx context.Context, h *PlaybackHealth, items []services.PlaylistItem) error {
	mediaIDs := make([]int64, 0, len(items))
	for _, it := range items {
		mediaIDs = append(mediaIDs, it.MediaID)
	}
	assets, err := f.assetRepo.ByYodeckMediaIDs(ctx, mediaIDs)
	if err != nil {
		return NewTransientError(CodeDatabaseError, "failed to load assets", err)
	}
	byMedia := make(map[int64]*models.AdAsset, len(assets))
	for _, a := range assets {
		if a.YodeckMediaID != nil {
			byMedia[*a.YodeckMediaID] = a
		}
	}

	seen := make(map[int64]bool, len(items))
	for _, it := range items {
		ih := PlaylistItemHealth{MediaID: it.MediaID, Name: it.Name, Duplicate: seen[it.MediaID]}
		seen[it.MediaID] = true
		switch {
		case f.isBaseline(it):
			ih.Class = ItemClassBaseline
			h.BaselineCount++
		case byMedia[it.MediaID] != nil:
			ih.Class = ItemClassAd
			ih.AssetID = &byMedia[it.MediaID].ID
			h.AdCount++
		default:
			ih.Class = ItemClassUnknown
			h.UnknownCount++
		}
		if ih.Duplicate {
			h.DuplicateCount++
		}
		h.Items = append(h.Items, ih)
	}
	h.ItemCount = len(items)
	return nil
}

// checkPlacements runs the readiness gate for every advertiser live on the screen.
func (f *PlaybackHealthFlowImpl) checkPlacements(ctx context.Context, h *PlaybackHealth, screenID uint, items []services.PlaylistItem) error {
	placements, err := f.placementRepo.LiveForScreen(ctx, screenID, h.CheckedAt)
	if err != nil {
		return NewTransientError(CodeDatabaseError, "failed to load placements", err)
	}
	for _, p := range placements {
		ph := PlacementHealth{PlacementID: p.ID, AdvertiserID: p.AdvertiserID}
		asset, err := f.readiness.RequirePublishableAsset(ctx, p.AdvertiserID)
		if err != nil {
			var be *BusinessError
			if !errors.As(err, &be) || be.Category == CategoryTransient {
				return err
			}
			ph.ErrorCode = be.Code
			ph.NextAction = be.NextAction
			ph.ReadinessStatus = be.Details["status"]
			h.addFinding(FindingMediaNotReady)
			if be.NextAction == NextActionUpload {
				h.recommend(ActionUploadMedia, fmt.Sprintf("advertiser %d: %s", p.AdvertiserID, be.Message), p.AdvertiserID)
			} else {
				h.recommend(ActionFixMediaReadiness, fmt.Sprintf("advertiser %d: %s", p.AdvertiserID, be.Message), p.AdvertiserID)
			}
			h.Placements = append(h.Placements, ph)
			continue
		}
		ph.AssetID = &asset.ID
		ph.MediaID = asset.YodeckMediaID
		ph.ReadinessStatus = asset.ReadinessStatus
		ph.Ready = true
		ph.InPlaylist = slices.ContainsFunc(items, func(it services.PlaylistItem) bool { return it.MediaID == *asset.YodeckMediaID })
		if !ph.InPlaylist {
			h.addFinding(FindingAdNotInPlaylist)
			h.recommend(ActionPublishAd, fmt.Sprintf("advertiser %d media %d is not in the playlist", p.AdvertiserID, *asset.YodeckMediaID), p.AdvertiserID)
		}
		h.Placements = append(h.Placements, ph)
	}
	return nil
}

// RepairScreen executes each auto-repairable action the diagnosis recommends at most
// once, then diagnoses again.
func (f *PlaybackHealthFlowImpl) RepairScreen(ctx context.Context, screenID uint) (*RepairResult, error) {
	before, err := f.GetPlaybackHealth(ctx, screenID)
	if err != nil {
		return nil, err
	}
	result := &RepairResult{ScreenID: screenID, Before: before, Executed: []RepairActionResult{}}
	if !before.NeedsRepair() {
		result.After = before
		return result, nil
	}
	screen, err := f.loadScreen(ctx, screenID)
	if err != nil {
		return nil, err
	}

	playlistID := before.PlaylistID
	if !before.PlaylistFound {
		playlistID = nil
	}
	planned := make(map[string]bool, len(before.Actions))
	for _, a := range before.Actions {
		planned[a.Action] = true
	}
	for _, action := range repairOrder {
		if !planned[action] {
			continue
		}
		var res RepairActionResult
		switch action {
		case ActionReassignPlaylist:
			res, playlistID = f.reassign(ctx, screen)
			// A reassigned screen may point at an empty playlist.
			if playlistID != nil {
				planned[ActionReseedBaseline] = true
			}
		case ActionDeduplicatePlaylist:
			res = f.deduplicate(ctx, playlistID)
		case ActionReseedBaseline:
			res = f.reseed(ctx, playlistID)
		}
		res.Action = action
		result.Executed = append(result.Executed, res)
		outcome := "ok"
		if !res.OK {
			outcome = "failed"
		}
		repairActionsTotal.WithLabelValues(action, outcome).Inc()
		f.logger.Printf("health: screen=%d repair %s ok=%t %s", screenID, action, res.OK, res.Detail)
	}

	after, err := f.GetPlaybackHealth(ctx, screenID)
	if err != nil {
		return nil, err
	}
	result.After = after
	return result, nil
}

func (f *PlaybackHealthFlowImpl) reassign(ctx context.Context, screen *models.Screen) (RepairActionResult, *int64) {
	playlist, err := f.publish.ResolveCanonicalPlaylist(ctx, screen.Location)
	if err != nil {
		return RepairActionResult{Detail: err.Error()}, nil
	}
	mode, err := f.publish.EnforceDisplayMode(ctx, screen.YodeckScreenID, playlist.ID)
	if err != nil {
		return RepairActionResult{Detail: err.Error()}, &playlist.ID
	}
	return RepairActionResult{
		OK:     mode.Verified,
		Detail: fmt.Sprintf("playlist/%d changed=%t verified=%t", playlist.ID, mode.Changed, mode.Verified),
	}, &playlist.ID
}

func (f *PlaybackHealthFlowImpl) deduplicate(ctx context.Context, playlistID *int64) RepairActionResult {
	if playlistID == nil {
		return RepairActionResult{Detail: "no playlist to deduplicate"}
	}
	playlist, err := f.signage.GetPlaylist(ctx, *playlistID)
	if err != nil {
		return RepairActionResult{Detail: err.Error()}
	}
	items, removed := dedupePlaylistItems(playlist.Items)
	if removed == 0 {
		return RepairActionResult{OK: true, Detail: "no duplicates"}
	}
	if _, err := f.signage.UpdatePlaylistItems(ctx, *playlistID, items); err != nil {
		return RepairActionResult{Detail: err.Error()}
	}
	return RepairActionResult{OK: true, Detail: fmt.Sprintf("removed %d duplicates", removed)}
}

func (f *PlaybackHealthFlowImpl) reseed(ctx context.Context, playlistID *int64) RepairActionResult {
	if playlistID == nil {
		return RepairActionResult{Detail: "no playlist to seed"}
	}
	res, err := f.seeder.EnsurePlaylistNonEmpty(ctx, *playlistID)
	if err != nil {
		return RepairActionResult{Detail: err.Error()}
	}
	return RepairActionResult{OK: res.OK, Detail: fmt.Sprintf("%s media=%d items=%d", res.Action, res.MediaID, res.ItemCount)}
}

// AuditScreens diagnoses every active screen and repairs up to repairLimit of them.
func (f *PlaybackHealthFlowImpl) AuditScreens(ctx context.Context, repairLimit int) (*AuditSummary, error) {
	const pageSize = 100
	summary := &AuditSummary{}
	for offset := 0; ; offset += pageSize {
		screens, err := f.screenRepo.ListActive(ctx, pageSize, offset)
		if err != nil {
			return summary, NewTransientError(CodeDatabaseError, "failed to list screens", err)
		}
		for _, screen := range screens {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			summary.Checked++
			health, err := f.GetPlaybackHealth(ctx, screen.ID)
			if err != nil {
				summary.Errors++
				f.logger.Printf("health: screen=%d audit failed: %v", screen.ID, err)
				continue
			}
			if health.Healthy {
				summary.Healthy++
				continue
			}
			if !health.NeedsRepair() || summary.Repaired >= repairLimit {
				continue
			}
			if _, err := f.RepairScreen(ctx, screen.ID); err != nil {
				summary.Errors++
				f.logger.Printf("health: screen=%d repair failed: %v", screen.ID, err)
				continue
			}
			summary.Repaired++
		}
		if len(screens) < pageSize {
			return summary, nil
		}
	}
}
