package businessflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"strconv"
	"time"

	"github.com/amirphl/signage-publisher/app/services"
	"github.com/amirphl/signage-publisher/config"
	"github.com/amirphl/signage-publisher/models"
	"github.com/amirphl/signage-publisher/repository"
	"github.com/amirphl/signage-publisher/utils"
	"gorm.io/datatypes"
)

const (
	CodeStaleInProgress    = "STALE_IN_PROGRESS"
	CodeFileSizeMismatch   = "FILE_SIZE_MISMATCH"
	CodeTransferIncomplete = "TRANSFER_INCOMPLETE"

	maxConsecutivePollErrors = 3
)

// UploadRequest identifies the bytes to push to the signage platform.
type UploadRequest struct {
	AdvertiserID uint
	AssetID      *uint
	AssetPath    string
	DesiredName  string
	FileSize     int64
}

// UploadResult is the outcome of one upload transaction.
type UploadResult struct {
	OK              bool   `json:"ok"`
	JobID           uint   `json:"job_id"`
	CorrelationID   string `json:"correlation_id"`
	ExternalMediaID int64  `json:"external_media_id,omitempty"`
	FinalState      string `json:"final_state"`
	ErrorCode       string `json:"error_code,omitempty"`
	ErrorMessage    string `json:"error_message,omitempty"`
	FailureClass    string `json:"failure_class,omitempty"`
	Category        string `json:"category,omitempty"`
	NextAction      string `json:"next_action,omitempty"`
	ShortCircuited  bool   `json:"short_circuited,omitempty"`
	Resumed         bool   `json:"resumed,omitempty"`
}

// UploadFlow drives one asset through the create, transfer, finalize, verify and poll
// protocol of the signage platform.
type UploadFlow interface {
	Upload(ctx context.Context, req UploadRequest) (*UploadResult, error)
	UploadAsset(ctx context.Context, assetID uint) (*UploadResult, error)
	GetJob(ctx context.Context, correlationID string) (*models.UploadJob, error)
}

// UploadFlowImpl implements UploadFlow.
type UploadFlowImpl struct {
	jobRepo   repository.UploadJobRepository
	assetRepo repository.AdAssetRepository
	readiness ReadinessFlow
	signage   services.SignageClient
	storage   services.ObjectStorage
	cfg       config.UploadConfig
	logger    *log.Logger
}

// NewUploadFlow creates a new upload flow instance.
func NewUploadFlow(
	jobRepo repository.UploadJobRepository,
	assetRepo repository.AdAssetRepository,
	readiness ReadinessFlow,
	signage services.SignageClient,
	storage services.ObjectStorage,
	cfg config.UploadConfig,
	logger *log.Logger,
) UploadFlow {
	if logger == nil {
		logger = log.Default()
	}
	return &UploadFlowImpl{
		jobRepo:   jobRepo,
		assetRepo: assetRepo,
		readiness: readiness,
		signage:   signage,
		storage:   storage,
		cfg:       cfg,
		logger:    logger,
	}
}

// uploadKey is the idempotency key guarded by the unique active_key index.
func uploadKey(advertiserID uint, assetPath string) string {
	return fmt.Sprintf("%d:%s", advertiserID, assetPath)
}

// uploadRun carries the mutable state of one transaction.
type uploadRun struct {
	job       *models.UploadJob
	responses models.UploadJobResponses
	container string
	size      int64
	mediaID   int64
	media     *services.Media
}

func (f *UploadFlowImpl) GetJob(ctx context.Context, correlationID string) (*models.UploadJob, error) {
	job, err := f.jobRepo.ByCorrelationID(ctx, correlationID)
	if err != nil {
		return nil, NewTransientError(CodeDatabaseError, "failed to load upload job", err)
	}
	if job == nil {
		return nil, NewBusinessErrorf(CodeUploadJobNotFound, "upload job %s not found", nil, correlationID)
	}
	return job, nil
}

// UploadAsset uploads the playable variant of a READY asset and records the external
// media id on it.
func (f *UploadFlowImpl) UploadAsset(ctx context.Context, assetID uint) (*UploadResult, error) {
	asset, err := f.readiness.RequireReadyAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	path := asset.PlayablePath()
	var size int64
	if path == asset.RawPath {
		size = asset.SizeBytes
	}
	res, err := f.Upload(ctx, UploadRequest{
		AdvertiserID: asset.AdvertiserID,
		AssetID:      &asset.ID,
		AssetPath:    path,
		DesiredName:  fmt.Sprintf("adv-%d-%s", asset.AdvertiserID, asset.OriginalFilename),
		FileSize:     size,
	})
	if err != nil {
		return nil, err
	}
	if res.OK && res.ShortCircuited && (asset.YodeckMediaID == nil || *asset.YodeckMediaID != res.ExternalMediaID || asset.UploadedAt == nil) {
		if err := f.assetRepo.SetCanonicalMedia(ctx, asset.ID, res.ExternalMediaID, utils.UTCNow()); err != nil {
			return nil, NewTransientError(CodeDatabaseError, "failed to record media on asset", err)
		}
	}
	return res, nil
}

// Upload runs the upload protocol. Precondition failures (including
// UPLOAD_ALREADY_IN_PROGRESS) come back as errors; protocol failures are recorded on
// the job and reported in the result.
func (f *UploadFlowImpl) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if req.AdvertiserID == 0 || req.AssetPath == "" || req.DesiredName == "" || req.FileSize < 0 {
		return nil, NewBusinessError(CodeInvalidRequest, "advertiser, asset path and desired name are required", nil)
	}
	key := uploadKey(req.AdvertiserID, req.AssetPath)

	// Step 1: idempotency.
	if err := f.checkInFlight(ctx, key); err != nil {
		return nil, err
	}
	if res, err := f.shortCircuit(ctx, req); err != nil || res != nil {
		return res, err
	}
	resumeFrom, resumeMedia, err := f.resumeCandidate(ctx, req)
	if err != nil {
		return nil, err
	}

	attempts, err := f.jobRepo.CountAttempts(ctx, req.AdvertiserID, req.AssetPath)
	if err != nil {
		return nil, NewTransientError(CodeDatabaseError, "failed to count upload attempts", err)
	}
	job := &models.UploadJob{
		AdvertiserID: req.AdvertiserID,
		AssetID:      req.AssetID,
		AssetPath:    req.AssetPath,
		DesiredName:  req.DesiredName,
		FileSize:     req.FileSize,
		Status:       models.UploadStatusUploading,
		ActiveKey:    &key,
		Attempt:      int(attempts) + 1,
	}
	if resumeFrom != nil {
		job.ResumedFromJobID = &resumeFrom.ID
	}
	if err := f.jobRepo.Save(ctx, job); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, f.inProgressError(nil)
		}
		if active, lookupErr := f.jobRepo.ActiveByKey(ctx, key); lookupErr == nil && active != nil {
			return nil, f.inProgressError(active)
		}
		return nil, NewTransientError(CodeDatabaseError, "failed to create upload job", err)
	}
	f.logger.Printf("upload: job=%s started advertiser=%d path=%s attempt=%d", job.CorrelationID, req.AdvertiserID, req.AssetPath, job.Attempt)

	run := &uploadRun{job: job}
	if err := f.execute(ctx, run, resumeMedia); err != nil {
		return f.fail(ctx, run, err), nil
	}
	return f.succeed(ctx, run)
}

func (f *UploadFlowImpl) inProgressError(active *models.UploadJob) *BusinessError {
	e := NewBusinessError(CodeUploadInProgress, "an upload for this asset is already in progress", ErrUploadInProgress)
	e.NextAction = NextActionWait
	if active != nil {
		e.WithDetail("job_correlation_id", active.CorrelationID)
	}
	return e
}

// checkInFlight refuses when a young job holds the key and force-fails a stale one.
func (f *UploadFlowImpl) checkInFlight(ctx context.Context, key string) error {
	active, err := f.jobRepo.ActiveByKey(ctx, key)
	if err != nil {
		return NewTransientError(CodeDatabaseError, "failed to check in-flight uploads", err)
	}
	if active == nil {
		return nil
	}
	age := utils.UTCNow().Sub(active.UpdatedAt)
	if age < f.cfg.StalenessWindow {
		return f.inProgressError(active)
	}
	msg := fmt.Sprintf("no progress for %s", age.Truncate(time.Second))
	released, err := f.jobRepo.ReleaseStale(ctx, active.ID, key, CodeStaleInProgress, msg, utils.UTCNow())
	if err != nil {
		return NewTransientError(CodeDatabaseError, "failed to release stale upload", err)
	}
	if released {
		f.logger.Printf("upload: job=%s force-failed as stale (%s)", active.CorrelationID, msg)
	}
	return nil
}

// shortCircuit returns a success result when a READY job's media is confirmed still
// ready on the platform.
func (f *UploadFlowImpl) shortCircuit(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	ready, err := f.jobRepo.LatestByAdvertiserPath(ctx, req.AdvertiserID, req.AssetPath, []string{models.UploadStatusReady})
	if err != nil {
		return nil, NewTransientError(CodeDatabaseError, "failed to load previous uploads", err)
	}
	if ready == nil || ready.YodeckMediaID == nil {
		return nil, nil
	}
	media, err := f.signage.GetMedia(ctx, *ready.YodeckMediaID)
	if err != nil {
		if services.IsNotFound(err) {
			return nil, nil
		}
		return nil, classifySignageError("confirm previous upload", err)
	}
	if services.ClassifyMediaStatus(media.Status) != services.MediaStateReady || !media.HasFile() || media.HasURLSource() {
		return nil, nil
	}
	f.logger.Printf("upload: job=%s media=%d confirmed ready, short-circuit", ready.CorrelationID, media.ID)
	uploadsTotal.WithLabelValues(models.UploadStatusReady, "").Inc()
	return &UploadResult{
		OK:              true,
		JobID:           ready.ID,
		CorrelationID:   ready.CorrelationID,
		ExternalMediaID: media.ID,
		FinalState:      models.UploadStatusReady,
		ShortCircuited:  true,
	}, nil
}

// resumeCandidate returns the newest job if it ended TRANSIENT with a remote media
// record that still exists and has not failed.
func (f *UploadFlowImpl) resumeCandidate(ctx context.Context, req UploadRequest) (*models.UploadJob, *services.Media, error) {
	last, err := f.jobRepo.LatestByAdvertiserPath(ctx, req.AdvertiserID, req.AssetPath, nil)
	if err != nil {
		return nil, nil, NewTransientError(CodeDatabaseError, "failed to load previous uploads", err)
	}
	if last == nil || last.Status != models.UploadStatusRetrying || last.YodeckMediaID == nil {
		return nil, nil, nil
	}
	media, err := f.signage.GetMedia(ctx, *last.YodeckMediaID)
	if err != nil {
		if services.IsNotFound(err) {
			return nil, nil, nil
		}
		return nil, nil, classifySignageError("check resumable media", err)
	}
	if services.ClassifyMediaStatus(media.Status) == services.MediaStateFailed {
		return nil, nil, nil
	}
	return last, media, nil
}

// persist writes the job even if the caller's context is gone.
func (f *UploadFlowImpl) persist(ctx context.Context, run *uploadRun) error {
	run.job.Responses = datatypes.NewJSONType(run.responses)
	run.job.UpdatedAt = utils.UTCNow()
	if err := f.jobRepo.Update(context.WithoutCancel(ctx), run.job); err != nil {
		return NewTransientError(CodeDatabaseError, "failed to persist upload job", err)
	}
	return nil
}

func (f *UploadFlowImpl) execute(ctx context.Context, run *uploadRun, resume *services.Media) error {
	steps := []func(context.Context, *uploadRun) error{
		f.checkLocalFile,
		func(ctx context.Context, run *uploadRun) error { return f.createRemote(ctx, run, resume) },
		f.obtainTargetAndTransfer,
		f.finalize,
		f.verifyExists,
		f.pollUntilReady,
		f.confirmFile,
		f.stripURLFields,
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return NewTransientError(CodeSignageUnavailable, "upload interrupted", err)
		}
		if err := step(ctx, run); err != nil {
			return err
		}
	}
	return nil
}

// checkLocalFile validates the container signature before anything remote happens.
func (f *UploadFlowImpl) checkLocalFile(ctx context.Context, run *uploadRun) error {
	rc, size, err := f.storage.Open(ctx, run.job.AssetPath)
	if err != nil {
		if errors.Is(err, services.ErrObjectNotFound) {
			return NewBusinessErrorf(CodeAssetNotFound, "asset file %s not found", ErrAssetNotFound, run.job.AssetPath)
		}
		return NewTransientError(CodeStorageError, "failed to open asset file", err)
	}
	defer rc.Close()
	head, err := readContainerHeader(rc)
	if err != nil {
		return NewTransientError(CodeStorageError, "failed to read asset file", err)
	}
	run.container = DetectContainer(head)
	if run.container == "" {
		return NewBusinessError(CodeInvalidContainer, "asset file has no supported video container signature", ErrInvalidContainer)
	}
	if run.job.FileSize > 0 && size != run.job.FileSize {
		return NewBusinessErrorf(CodeFileSizeMismatch, "asset file is %d bytes, expected %d", nil, size, run.job.FileSize)
	}
	run.size = size
	return nil
}

// createRemote creates (or resumes) the remote media record and persists its id
// before any byte moves.
func (f *UploadFlowImpl) createRemote(ctx context.Context, run *uploadRun, resume *services.Media) error {
	var media *services.Media
	if resume != nil {
		media = resume
	} else {
		created, err := f.signage.CreateMedia(ctx, run.job.DesiredName)
		if err != nil {
			return classifySignageError("create media", err)
		}
		media = created
	}
	run.mediaID = media.ID
	run.job.YodeckMediaID = &media.ID
	run.responses.Create = &models.CreatePhase{
		At:        utils.UTCNow(),
		MediaID:   media.ID,
		RawStatus: media.Status,
		Resumed:   resume != nil,
		Raw:       media.Raw,
	}
	if err := f.persist(ctx, run); err != nil {
		return err
	}
	if run.job.AssetID != nil {
		if err := f.recordAssetMedia(ctx, *run.job.AssetID, media.ID); err != nil {
			return err
		}
	}
	f.logger.Printf("upload: job=%s media=%d created resumed=%t", run.job.CorrelationID, media.ID, resume != nil)
	return nil
}

// recordAssetMedia sets the asset's external id without marking it uploaded.
func (f *UploadFlowImpl) recordAssetMedia(ctx context.Context, assetID uint, mediaID int64) error {
	asset, err := f.assetRepo.ByID(ctx, assetID)
	if err != nil {
		return NewTransientError(CodeDatabaseError, "failed to load asset", err)
	}
	if asset == nil {
		return NewBusinessErrorf(CodeAssetNotFound, "asset %d not found", ErrAssetNotFound, assetID)
	}
	if asset.YodeckMediaID != nil && *asset.YodeckMediaID == mediaID {
		return nil
	}
	asset.YodeckMediaID = &mediaID
	asset.UploadedAt = nil
	asset.UpdatedAt = utils.UTCNow()
	if err := f.assetRepo.Update(context.WithoutCancel(ctx), asset); err != nil {
		return NewTransientError(CodeDatabaseError, "failed to record media on asset", err)
	}
	return nil
}

// obtainTargetAndTransfer requests a one-time destination and streams the bytes,
// re-checking the signature of what actually went out.
func (f *UploadFlowImpl) obtainTargetAndTransfer(ctx context.Context, run *uploadRun) error {
	target, err := f.signage.GetUploadTarget(ctx, run.mediaID)
	if err != nil {
		return classifySignageError("obtain upload target", err)
	}
	run.responses.Target = &models.TargetPhase{
		At:         utils.UTCNow(),
		TargetHost: hostOf(target.URL),
		Raw:        target.Raw,
	}
	if err := f.persist(ctx, run); err != nil {
		return err
	}

	rc, _, err := f.storage.Open(ctx, run.job.AssetPath)
	if err != nil {
		return NewTransientError(CodeStorageError, "failed to open asset file", err)
	}
	defer rc.Close()

	capture := &headerCapture{}
	if err := f.signage.UploadBytes(ctx, target, io.TeeReader(rc, capture), run.size); err != nil {
		return classifySignageError("transfer bytes", err)
	}
	after := DetectContainer(capture.head)
	run.responses.Transfer = &models.TransferPhase{
		At:             utils.UTCNow(),
		BytesSent:      capture.count,
		SignatureKind:  after,
		SignatureAfter: after == run.container,
	}
	if err := f.persist(ctx, run); err != nil {
		return err
	}
	if after != run.container {
		return NewTerminalError(CodeInvalidContainer, "container signature changed during transfer", ErrInvalidContainer)
	}
	if capture.count != run.size {
		return NewTransientError(CodeTransferIncomplete, fmt.Sprintf("sent %d of %d bytes", capture.count, run.size), nil)
	}
	return nil
}

// finalize signals completion, retrying a bounded number of times while the platform
// still reports the media as initializing.
func (f *UploadFlowImpl) finalize(ctx context.Context, run *uploadRun) error {
	var media *services.Media
	attempts := 0
	for {
		attempts++
		m, err := f.signage.FinalizeUpload(ctx, run.mediaID)
		if err != nil {
			return classifySignageError("finalize upload", err)
		}
		media = m
		if services.ClassifyMediaStatus(m.Status) != services.MediaStateInitializing || attempts > f.cfg.FinalizeRetries {
			break
		}
		if err := utils.SleepContext(ctx, f.cfg.FinalizeRetryDelay); err != nil {
			return NewTransientError(CodeSignageUnavailable, "finalize interrupted", err)
		}
	}
	run.job.FinalizeAttempts = attempts
	run.job.Status = models.UploadStatusPolling
	run.responses.Finalize = &models.FinalizePhase{
		At:        utils.UTCNow(),
		Attempts:  attempts,
		RawStatus: media.Status,
		Raw:       media.Raw,
	}
	return f.persist(ctx, run)
}

// verifyExists re-fetches the media; a 404 or malformed answer is terminal.
func (f *UploadFlowImpl) verifyExists(ctx context.Context, run *uploadRun) error {
	media, err := f.signage.GetMedia(ctx, run.mediaID)
	if err != nil {
		return classifySignageError("verify media", err)
	}
	if media.ID != run.mediaID {
		return NewTerminalError(CodeMalformedResponse, fmt.Sprintf("verify returned media %d, expected %d", media.ID, run.mediaID), nil)
	}
	run.media = media
	run.responses.Verify = &models.VerifyPhase{
		At:        utils.UTCNow(),
		RawStatus: media.Status,
		Raw:       media.Raw,
	}
	return f.persist(ctx, run)
}

// pollUntilReady polls on a growing delay until READY, bounded by a poll count, a
// wall-clock timeout and a ceiling on consecutive "initializing" answers.
func (f *UploadFlowImpl) pollUntilReady(ctx context.Context, run *uploadRun) error {
	started := utils.UTCNow()
	delay := f.cfg.PollInitialDelay
	phase := &models.PollPhase{}
	run.responses.Poll = phase
	consecutiveErrors := 0

	record := func(err error) error {
		phase.At = utils.UTCNow()
		phase.ElapsedMillis = utils.MillisBetween(started, phase.At)
		run.job.PollAttempts = phase.Polls
		if perr := f.persist(ctx, run); perr != nil && err == nil {
			return perr
		}
		return err
	}

	for {
		if phase.Polls >= f.cfg.MaxPolls || utils.UTCNow().Sub(started) >= f.cfg.PollTimeout {
			return record(NewTerminalError(CodePollTimeout, fmt.Sprintf("media not ready after %d polls", phase.Polls), nil))
		}
		if err := utils.SleepContext(ctx, delay); err != nil {
			return record(NewTransientError(CodeSignageUnavailable, "polling interrupted", err))
		}
		delay = time.Duration(float64(delay) * f.cfg.PollBackoffFactor)
		if delay > f.cfg.PollMaxDelay {
			delay = f.cfg.PollMaxDelay
		}

		phase.Polls++
		media, err := f.signage.GetMedia(ctx, run.mediaID)
		if err != nil {
			be := classifySignageError("poll media", err)
			consecutiveErrors++
			if be.Category != CategoryTransient || consecutiveErrors >= maxConsecutivePollErrors {
				return record(be)
			}
			continue
		}
		consecutiveErrors = 0
		run.media = media
		state := services.ClassifyMediaStatus(media.Status)
		phase.LastRawStatus = media.Status
		phase.LastState = string(state)
		phase.Raw = media.Raw

		switch state {
		case services.MediaStateReady:
			return record(nil)
		case services.MediaStateFailed:
			return record(NewTerminalError(CodeMediaProcessingFailed, fmt.Sprintf("platform reported status %q", media.Status), nil))
		case services.MediaStateInitializing:
			phase.InitializingPolls++
			if phase.InitializingPolls >= f.cfg.StuckInitializingPolls {
				return record(NewTerminalError(CodeStuckInitializing, fmt.Sprintf("media stuck initializing after %d polls", phase.InitializingPolls), nil))
			}
		}
		if phase.Polls%5 == 0 {
			if err := record(nil); err != nil {
				return err
			}
		}
	}
}

// confirmFile waits for the binary to be attached with a positive size.
func (f *UploadFlowImpl) confirmFile(ctx context.Context, run *uploadRun) error {
	phase := &models.ConfirmPhase{}
	run.responses.Confirm = phase
	attempts := f.cfg.ConfirmAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := utils.SleepContext(ctx, f.cfg.ConfirmDelay); err != nil {
				return NewTransientError(CodeSignageUnavailable, "confirmation interrupted", err)
			}
		}
		phase.Attempts++
		media, err := f.signage.GetMedia(ctx, run.mediaID)
		if err != nil {
			return classifySignageError("confirm media file", err)
		}
		run.media = media
		phase.At = utils.UTCNow()
		phase.Raw = media.Raw
		if services.ClassifyMediaStatus(media.Status) == services.MediaStateFailed {
			_ = f.persist(ctx, run)
			return NewTerminalError(CodeMediaProcessingFailed, fmt.Sprintf("platform reported status %q", media.Status), nil)
		}
		if media.HasFile() {
			phase.FileSize = media.File.Size
			return f.persist(ctx, run)
		}
	}
	_ = f.persist(ctx, run)
	return NewTerminalError(CodeFileNotMaterialized, fmt.Sprintf("file not attached after %d checks", phase.Attempts), nil)
}

// stripURLFields clears remote URL playback fields and verifies by re-reading.
func (f *UploadFlowImpl) stripURLFields(ctx context.Context, run *uploadRun) error {
	phase := &models.StripPhase{HadURL: run.media.HasURLSource()}
	run.responses.Strip = phase

	cleared, err := f.signage.ClearMediaURLs(ctx, run.mediaID)
	if err != nil {
		return classifySignageError("clear url fields", err)
	}
	phase.Cleared = !cleared.HasURLSource()

	media, err := f.signage.GetMedia(ctx, run.mediaID)
	if err != nil {
		return classifySignageError("verify url fields", err)
	}
	run.media = media
	phase.At = utils.UTCNow()
	phase.Verified = !media.HasURLSource()
	phase.Raw = media.Raw
	if err := f.persist(ctx, run); err != nil {
		return err
	}
	if !phase.Verified {
		return NewTerminalError(CodeUnsafePlayback, "remote url playback fields still set after clearing", nil)
	}
	return nil
}

func (f *UploadFlowImpl) succeed(ctx context.Context, run *uploadRun) (*UploadResult, error) {
	now := utils.UTCNow()
	run.job.Status = models.UploadStatusReady
	run.job.ActiveKey = nil
	run.job.CompletedAt = &now
	run.job.FailureClass = nil
	run.job.LastErrorCode = nil
	run.job.LastErrorMessage = nil
	if err := f.persist(ctx, run); err != nil {
		return nil, err
	}
	if run.job.AssetID != nil {
		if err := f.assetRepo.SetCanonicalMedia(context.WithoutCancel(ctx), *run.job.AssetID, run.mediaID, now); err != nil {
			return nil, NewTransientError(CodeDatabaseError, "failed to record media on asset", err)
		}
	}
	uploadsTotal.WithLabelValues(models.UploadStatusReady, "").Inc()
	f.logger.Printf("upload: job=%s media=%d ready", run.job.CorrelationID, run.mediaID)
	return &UploadResult{
		OK:              true,
		JobID:           run.job.ID,
		CorrelationID:   run.job.CorrelationID,
		ExternalMediaID: run.mediaID,
		FinalState:      models.UploadStatusReady,
		Resumed:         run.responses.Create != nil && run.responses.Create.Resumed,
	}, nil
}

// fail records the failure. TRANSIENT leaves the job RETRYING and keeps the asset's
// external id; anything else is PERMANENT_FAIL and clears it.
func (f *UploadFlowImpl) fail(ctx context.Context, run *uploadRun, err error) *UploadResult {
	var be *BusinessError
	if !errors.As(err, &be) {
		be = NewTransientError(CodeSignageUnavailable, "upload failed", err)
	}
	class := models.FailureClassTerminal
	status := models.UploadStatusPermanentFail
	if be.Category == CategoryTransient {
		class = models.FailureClassTransient
		status = models.UploadStatusRetrying
	}
	now := utils.UTCNow()
	msg := utils.Truncate(be.Error(), 1024)
	run.job.Status = status
	run.job.ActiveKey = nil
	run.job.FailureClass = &class
	run.job.LastErrorCode = &be.Code
	run.job.LastErrorMessage = &msg
	if status == models.UploadStatusPermanentFail {
		run.job.CompletedAt = &now
	}
	if perr := f.persist(ctx, run); perr != nil {
		f.logger.Printf("upload: job=%s failed to persist failure: %v", run.job.CorrelationID, perr)
	}

	if class == models.FailureClassTerminal && run.job.AssetID != nil && run.mediaID != 0 {
		cleared, cerr := f.assetRepo.ClearYodeckMediaID(context.WithoutCancel(ctx), *run.job.AssetID, run.mediaID)
		if cerr != nil {
			f.logger.Printf("upload: job=%s failed to clear asset media id: %v", run.job.CorrelationID, cerr)
		} else if cleared {
			f.logger.Printf("upload: job=%s cleared media=%d from asset=%d", run.job.CorrelationID, run.mediaID, *run.job.AssetID)
		}
	}

	uploadsTotal.WithLabelValues(status, be.Code).Inc()
	f.logger.Printf("upload: job=%s %s code=%s class=%s: %s", run.job.CorrelationID, status, be.Code, class, msg)
	return &UploadResult{
		OK:              false,
		JobID:           run.job.ID,
		CorrelationID:   run.job.CorrelationID,
		ExternalMediaID: run.mediaID,
		FinalState:      status,
		ErrorCode:       be.Code,
		ErrorMessage:    msg,
		FailureClass:    class,
		Category:        be.Category,
		NextAction:      be.NextAction,
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return strconv.Quote(utils.Truncate(rawURL, 32))
	}
	return u.Host
}
