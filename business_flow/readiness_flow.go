package businessflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/amirphl/signage-publisher/app/services"
	"github.com/amirphl/signage-publisher/config"
	"github.com/amirphl/signage-publisher/models"
	"github.com/amirphl/signage-publisher/repository"
	"github.com/amirphl/signage-publisher/utils"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// readinessTransitions lists the statuses each readiness status may move to.
var readinessTransitions = map[string][]string{
	models.ReadinessPending:            {models.ReadinessValidating},
	models.ReadinessValidating:         {models.ReadinessReadyForYodeck, models.ReadinessNeedsNormalization, models.ReadinessRejected},
	models.ReadinessNeedsNormalization: {models.ReadinessNormalizing, models.ReadinessValidating},
	models.ReadinessNormalizing:        {models.ReadinessReadyForYodeck, models.ReadinessNeedsNormalization},
	models.ReadinessRejected:           {models.ReadinessValidating},
	models.ReadinessReadyForYodeck:     {},
}

// CanTransition reports whether the readiness lifecycle allows from -> to.
func CanTransition(from, to string) bool {
	return slices.Contains(readinessTransitions[from], to)
}

// RegisterAssetRequest carries one raw upload.
type RegisterAssetRequest struct {
	AdvertiserID     uint
	OriginalFilename string
	Body             io.Reader
}

// ReadinessFlow maintains the lifecycle of uploaded assets and the per-advertiser
// canonical asset.
type ReadinessFlow interface {
	RegisterAsset(ctx context.Context, req RegisterAssetRequest) (*models.AdAsset, error)
	AttachTranscodedVariant(ctx context.Context, assetID uint, body io.Reader) (*models.AdAsset, error)
	ValidateAsset(ctx context.Context, assetID uint) (*models.AdAsset, error)
	NormalizeAsset(ctx context.Context, assetID uint) (*models.AdAsset, error)
	GetAsset(ctx context.Context, assetID uint) (*models.AdAsset, error)
	CanonicalAsset(ctx context.Context, advertiserID uint) (*models.AdAsset, error)
	RequireReadyAsset(ctx context.Context, assetID uint) (*models.AdAsset, error)
	RequirePublishableAsset(ctx context.Context, advertiserID uint) (*models.AdAsset, error)
}

// ReadinessFlowImpl implements ReadinessFlow.
type ReadinessFlowImpl struct {
	assetRepo  repository.AdAssetRepository
	storage    services.ObjectStorage
	transcoder services.Transcoder
	cfg        config.TranscoderConfig
	db         *gorm.DB
	logger     *log.Logger
}

// NewReadinessFlow creates a new readiness flow instance.
func NewReadinessFlow(
	assetRepo repository.AdAssetRepository,
	storage services.ObjectStorage,
	transcoder services.Transcoder,
	cfg config.TranscoderConfig,
	db *gorm.DB,
	logger *log.Logger,
) ReadinessFlow {
	if logger == nil {
		logger = log.Default()
	}
	return &ReadinessFlowImpl{
		assetRepo:  assetRepo,
		storage:    storage,
		transcoder: transcoder,
		cfg:        cfg,
		db:         db,
		logger:     logger,
	}
}

// RegisterAsset stores the raw bytes and creates a PENDING asset.
func (f *ReadinessFlowImpl) RegisterAsset(ctx context.Context, req RegisterAssetRequest) (*models.AdAsset, error) {
	if req.AdvertiserID == 0 || req.Body == nil {
		return nil, NewBusinessError(CodeInvalidRequest, "advertiser and file are required", nil)
	}

	head := make([]byte, 3072)
	n, err := io.ReadFull(req.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, NewTransientError(CodeStorageError, "failed to read upload", err)
	}
	head = head[:n]
	if n == 0 {
		return nil, NewBusinessError(CodeInvalidRequest, "file is empty", nil)
	}
	detected := mimetype.Detect(head)

	ext := strings.ToLower(filepath.Ext(req.OriginalFilename))
	if ext == "" {
		ext = detected.Extension()
	}
	key := fmt.Sprintf("raw/%d/%s%s", req.AdvertiserID, uuid.New().String(), ext)

	size, err := f.storage.Put(ctx, key, io.MultiReader(bytes.NewReader(head), req.Body))
	if err != nil {
		return nil, NewTransientError(CodeStorageError, "failed to store upload", err)
	}

	asset := &models.AdAsset{
		AdvertiserID:     req.AdvertiserID,
		OriginalFilename: req.OriginalFilename,
		MimeType:         detected.String(),
		SizeBytes:        size,
		RawPath:          key,
		ReadinessStatus:  models.ReadinessPending,
	}
	if err := f.assetRepo.Save(ctx, asset); err != nil {
		return nil, NewTransientError(CodeDatabaseError, "failed to save asset", err)
	}
	f.logger.Printf("readiness: registered asset id=%d advertiser=%d size=%d mime=%s", asset.ID, asset.AdvertiserID, size, asset.MimeType)
	return asset, nil
}

// AttachTranscodedVariant stores an externally transcoded rendition of the asset.
// The asset goes back through validation unless it is already READY.
func (f *ReadinessFlowImpl) AttachTranscodedVariant(ctx context.Context, assetID uint, body io.Reader) (*models.AdAsset, error) {
	asset, err := f.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("transcoded/%d/%s.mp4", asset.AdvertiserID, asset.UUID.String())
	if _, err := f.storage.Put(ctx, key, body); err != nil {
		return nil, NewTransientError(CodeStorageError, "failed to store transcoded variant", err)
	}
	asset.TranscodedPath = &key
	asset.UpdatedAt = utils.UTCNow()
	if err := f.assetRepo.Update(ctx, asset); err != nil {
		return nil, NewTransientError(CodeDatabaseError, "failed to update asset", err)
	}
	return asset, nil
}

func (f *ReadinessFlowImpl) GetAsset(ctx context.Context, assetID uint) (*models.AdAsset, error) {
	asset, err := f.assetRepo.ByID(ctx, assetID)
	if err != nil {
		return nil, NewTransientError(CodeDatabaseError, "failed to load asset", err)
	}
	if asset == nil {
		return nil, NewBusinessErrorf(CodeAssetNotFound, "asset %d not found", ErrAssetNotFound, assetID)
	}
	return asset, nil
}

func (f *ReadinessFlowImpl) transition(ctx context.Context, asset *models.AdAsset, to string, fields map[string]any) error {
	if !CanTransition(asset.ReadinessStatus, to) {
		return NewBusinessErrorf(CodeInvalidTransition, "asset %d cannot move from %s to %s", ErrInvalidReadinessTransition, asset.ID, asset.ReadinessStatus, to).
			WithDetail("status", asset.ReadinessStatus)
	}
	ok, err := f.assetRepo.TransitionReadiness(ctx, asset.ID, []string{asset.ReadinessStatus}, to, fields)
	if err != nil {
		return NewTransientError(CodeDatabaseError, "failed to update asset status", err)
	}
	if !ok {
		return NewBusinessErrorf(CodeInvalidTransition, "asset %d changed status concurrently", ErrInvalidReadinessTransition, asset.ID)
	}
	asset.ReadinessStatus = to
	return nil
}

func (f *ReadinessFlowImpl) reject(ctx context.Context, asset *models.AdAsset, reason string) (*models.AdAsset, error) {
	if err := f.transition(ctx, asset, models.ReadinessRejected, map[string]any{"rejection_reason": reason}); err != nil {
		return nil, err
	}
	asset.RejectionReason = &reason
	f.logger.Printf("readiness: rejected asset id=%d reason=%q", asset.ID, reason)
	return asset, nil
}

// ValidateAsset checks the container signature and stream metadata and decides
// READY_FOR_YODECK, NEEDS_NORMALIZATION or REJECTED.
func (f *ReadinessFlowImpl) ValidateAsset(ctx context.Context, assetID uint) (*models.AdAsset, error) {
	asset, err := f.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if err := f.transition(ctx, asset, models.ReadinessValidating, map[string]any{"rejection_reason": nil}); err != nil {
		return nil, err
	}
	asset.RejectionReason = nil

	path := asset.PlayablePath()
	rc, _, err := f.storage.Open(ctx, path)
	if err != nil {
		return f.reject(ctx, asset, fmt.Sprintf("stored file unreadable: %v", err))
	}
	head, err := readContainerHeader(rc)
	rc.Close()
	if err != nil {
		return f.reject(ctx, asset, fmt.Sprintf("stored file unreadable: %v", err))
	}
	container := DetectContainer(head)
	if container == "" {
		return f.reject(ctx, asset, "invalid container signature")
	}

	localPath, err := f.storage.LocalPath(path)
	if err != nil {
		return f.reject(ctx, asset, err.Error())
	}
	probe, err := f.transcoder.Probe(ctx, localPath)
	if err != nil {
		if errors.Is(err, services.ErrTranscoderUnavailable) {
			warning := "stream probe unavailable; accepted on container signature only"
			asset.ValidationWarning = &warning
			return f.promote(ctx, asset, map[string]any{"validation_warning": warning})
		}
		return f.reject(ctx, asset, fmt.Sprintf("probe failed: %v", err))
	}

	fields := map[string]any{
		"codec":            probe.Codec,
		"pixel_format":     probe.PixelFormat,
		"duration_seconds": probe.DurationSeconds,
	}
	asset.Codec = &probe.Codec
	asset.PixelFormat = &probe.PixelFormat
	asset.DurationSeconds = probe.DurationSeconds

	if f.playable(container, probe) {
		return f.promote(ctx, asset, fields)
	}
	if err := f.transition(ctx, asset, models.ReadinessNeedsNormalization, fields); err != nil {
		return nil, err
	}
	f.logger.Printf("readiness: asset id=%d needs normalization codec=%s pix_fmt=%s container=%s", asset.ID, probe.Codec, probe.PixelFormat, container)
	return asset, nil
}

func (f *ReadinessFlowImpl) playable(container string, probe *services.ProbeResult) bool {
	if container != ContainerISOBMFF {
		return false
	}
	codecs := f.cfg.AcceptedCodecs
	if len(codecs) == 0 {
		codecs = []string{"h264"}
	}
	formats := f.cfg.AcceptedPixelFormats
	if len(formats) == 0 {
		formats = []string{"yuv420p"}
	}
	return slices.Contains(codecs, strings.ToLower(probe.Codec)) &&
		slices.Contains(formats, strings.ToLower(probe.PixelFormat))
}

// NormalizeAsset re-encodes a NEEDS_NORMALIZATION asset. A failed transcode does not
// block the asset: it is promoted on its original bytes with a recorded warning.
func (f *ReadinessFlowImpl) NormalizeAsset(ctx context.Context, assetID uint) (*models.AdAsset, error) {
	asset, err := f.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if err := f.transition(ctx, asset, models.ReadinessNormalizing, nil); err != nil {
		return nil, err
	}

	key, probe, err := f.normalize(ctx, asset)
	if err != nil {
		warning := utils.Truncate(fmt.Sprintf("normalization failed, using original bytes: %v", err), 1024)
		f.logger.Printf("readiness: asset id=%d %s", asset.ID, warning)
		asset.ValidationWarning = &warning
		return f.promote(ctx, asset, map[string]any{"validation_warning": warning})
	}

	asset.NormalizedPath = &key
	asset.Codec = &probe.Codec
	asset.PixelFormat = &probe.PixelFormat
	asset.DurationSeconds = probe.DurationSeconds
	return f.promote(ctx, asset, map[string]any{
		"normalized_path":  key,
		"codec":            probe.Codec,
		"pixel_format":     probe.PixelFormat,
		"duration_seconds": probe.DurationSeconds,
	})
}

func (f *ReadinessFlowImpl) normalize(ctx context.Context, asset *models.AdAsset) (string, *services.ProbeResult, error) {
	if !f.cfg.Enabled {
		return "", nil, services.ErrTranscoderUnavailable
	}
	src := asset.TranscodedPath
	if src == nil || *src == "" {
		src = &asset.RawPath
	}
	inPath, err := f.storage.LocalPath(*src)
	if err != nil {
		return "", nil, err
	}

	tmpDir, err := os.MkdirTemp("", "normalize-")
	if err != nil {
		return "", nil, err
	}
	defer os.RemoveAll(tmpDir)
	outPath := filepath.Join(tmpDir, "normalized.mp4")

	probe, err := f.transcoder.Normalize(ctx, inPath, outPath)
	if err != nil {
		return "", nil, err
	}
	out, err := os.Open(outPath)
	if err != nil {
		return "", nil, err
	}
	defer out.Close()
	head, err := readContainerHeader(out)
	if err != nil {
		return "", nil, err
	}
	if DetectContainer(head) != ContainerISOBMFF {
		return "", nil, fmt.Errorf("normalized output has no mp4 signature")
	}
	if _, err := out.Seek(0, io.SeekStart); err != nil {
		return "", nil, err
	}

	key := fmt.Sprintf("normalized/%d/%s.mp4", asset.AdvertiserID, asset.UUID.String())
	if _, err := f.storage.Put(ctx, key, out); err != nil {
		return "", nil, err
	}
	return key, probe, nil
}

// promote moves the asset to READY_FOR_YODECK and supersedes the advertiser's previous
// canonical asset in the same transaction.
func (f *ReadinessFlowImpl) promote(ctx context.Context, asset *models.AdAsset, fields map[string]any) (*models.AdAsset, error) {
	if !CanTransition(asset.ReadinessStatus, models.ReadinessReadyForYodeck) {
		return nil, NewBusinessErrorf(CodeInvalidTransition, "asset %d cannot become ready from %s", ErrInvalidReadinessTransition, asset.ID, asset.ReadinessStatus)
	}
	now := utils.UTCNow()
	canonicalKey := strconv.FormatUint(uint64(asset.AdvertiserID), 10)
	updates := map[string]any{
		"canonical_key": canonicalKey,
		"is_superseded": false,
	}
	for k, v := range fields {
		updates[k] = v
	}

	var superseded int64
	err := repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		n, err := f.assetRepo.SupersedeOthers(txCtx, asset.AdvertiserID, asset.ID, now)
		if err != nil {
			return err
		}
		superseded = n
		ok, err := f.assetRepo.TransitionReadiness(txCtx, asset.ID, []string{asset.ReadinessStatus}, models.ReadinessReadyForYodeck, updates)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidReadinessTransition
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidReadinessTransition) {
			return nil, NewBusinessErrorf(CodeInvalidTransition, "asset %d changed status concurrently", err, asset.ID)
		}
		return nil, NewTransientError(CodeDatabaseError, "failed to promote asset", err)
	}

	asset.ReadinessStatus = models.ReadinessReadyForYodeck
	asset.CanonicalKey = &canonicalKey
	asset.IsSuperseded = false
	f.logger.Printf("readiness: asset id=%d ready advertiser=%d superseded=%d", asset.ID, asset.AdvertiserID, superseded)
	return asset, nil
}

// CanonicalAsset returns the advertiser's non-superseded READY_FOR_YODECK asset.
func (f *ReadinessFlowImpl) CanonicalAsset(ctx context.Context, advertiserID uint) (*models.AdAsset, error) {
	asset, err := f.assetRepo.LatestCanonical(ctx, advertiserID)
	if err != nil {
		return nil, NewTransientError(CodeDatabaseError, "failed to load canonical asset", err)
	}
	if asset == nil {
		return nil, f.notReadyForAdvertiser(ctx, advertiserID)
	}
	return asset, nil
}

func (f *ReadinessFlowImpl) notReadyForAdvertiser(ctx context.Context, advertiserID uint) error {
	latest, err := f.assetRepo.LatestForAdvertiser(ctx, advertiserID)
	if err != nil {
		return NewTransientError(CodeDatabaseError, "failed to load assets", err)
	}
	if latest != nil && !latest.IsReady() {
		return NewMediaNotReadyError(latest.ReadinessStatus).WithDetail("asset_id", strconv.FormatUint(uint64(latest.ID), 10))
	}
	e := NewBusinessErrorf(CodeNoCanonicalAsset, "advertiser %d has no canonical asset", ErrNoCanonicalAsset, advertiserID)
	e.NextAction = NextActionUpload
	return e
}

// RequireReadyAsset is the readiness gate for one asset.
func (f *ReadinessFlowImpl) RequireReadyAsset(ctx context.Context, assetID uint) (*models.AdAsset, error) {
	asset, err := f.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if err := requireReady(asset); err != nil {
		return nil, err
	}
	return asset, nil
}

// RequirePublishableAsset is the readiness gate for an advertiser: the canonical asset
// must exist, carry an external media id and have completed an upload.
func (f *ReadinessFlowImpl) RequirePublishableAsset(ctx context.Context, advertiserID uint) (*models.AdAsset, error) {
	asset, err := f.CanonicalAsset(ctx, advertiserID)
	if err != nil {
		return nil, err
	}
	if asset.YodeckMediaID == nil || asset.UploadedAt == nil {
		e := NewBusinessErrorf(CodeNoCanonicalAsset, "canonical asset %d has not been uploaded", ErrNoCanonicalAsset, asset.ID)
		e.NextAction = NextActionUpload
		return nil, e.WithDetail("asset_id", strconv.FormatUint(uint64(asset.ID), 10))
	}
	return asset, nil
}

// requireReady is the gate every visibility-changing entry point goes through.
func requireReady(asset *models.AdAsset) error {
	if asset == nil {
		return NewMediaNotReadyError("")
	}
	if asset.ReadinessStatus != models.ReadinessReadyForYodeck {
		return NewMediaNotReadyError(asset.ReadinessStatus).WithDetail("asset_id", strconv.FormatUint(uint64(asset.ID), 10))
	}
	if asset.IsSuperseded {
		e := NewBusinessErrorf(CodeMediaNotReady, "asset %d has been superseded", ErrMediaNotReady, asset.ID)
		e.NextAction = NextActionUpload
		return e.WithDetail("status", asset.ReadinessStatus)
	}
	return nil
}
