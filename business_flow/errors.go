// Package businessflow contains the core business logic of the media publish pipeline
package businessflow

import (
	"errors"
	"fmt"

	"github.com/amirphl/signage-publisher/app/services"
	"github.com/amirphl/signage-publisher/models"
)

// Error categories decide the retry policy of a failure
const (
	// CategoryPrecondition failures are surfaced immediately and never retried.
	CategoryPrecondition = "PRECONDITION"
	// CategoryTransient failures are retried in place with backoff.
	CategoryTransient = "TRANSIENT"
	// CategoryTerminal failures reset owned external state before any retry.
	CategoryTerminal = "TERMINAL"
)

// Recommended next actions for MEDIA_NOT_READY
const (
	NextActionValidate           = "validate"
	NextActionWait               = "wait"
	NextActionRetryNormalization = "retry-normalization"
	NextActionUpload             = "upload"
	NextActionRetry              = "retry"
)

// Error codes
const (
	CodeInvalidRequest        = "INVALID_REQUEST"
	CodeAssetNotFound         = "ASSET_NOT_FOUND"
	CodeMediaNotReady         = "MEDIA_NOT_READY"
	CodeNoCanonicalAsset      = "NO_CANONICAL_ASSET"
	CodeInvalidContainer      = "INVALID_CONTAINER"
	CodeInvalidTransition     = "INVALID_READINESS_TRANSITION"
	CodeUploadInProgress      = "UPLOAD_ALREADY_IN_PROGRESS"
	CodeScreenNotFound        = "SCREEN_NOT_FOUND"
	CodeLocationNotFound      = "LOCATION_NOT_FOUND"
	CodeQueueItemNotFound     = "QUEUE_ITEM_NOT_FOUND"
	CodeUploadJobNotFound     = "UPLOAD_JOB_NOT_FOUND"
	CodeQueueItemNotCancel    = "QUEUE_ITEM_NOT_CANCELLABLE"
	CodeQueueItemNotRetryable = "QUEUE_ITEM_NOT_RETRYABLE"
	CodeCancelled             = "CANCELLED"

	CodeSignageUnavailable = "SIGNAGE_UNAVAILABLE"
	CodeStorageError       = "STORAGE_ERROR"
	CodeDatabaseError      = "DATABASE_ERROR"

	CodeRemoteMediaNotFound   = "REMOTE_MEDIA_NOT_FOUND"
	CodeMalformedResponse     = "MALFORMED_RESPONSE"
	CodeStuckInitializing     = "STUCK_INITIALIZING"
	CodePollTimeout           = "POLL_TIMEOUT"
	CodeMediaProcessingFailed = "MEDIA_PROCESSING_FAILED"
	CodeFileNotMaterialized   = "FILE_NOT_MATERIALIZED"
	CodeUnsafePlayback        = "UNSAFE_PLAYBACK_FIELDS"
	CodeVerificationFailed    = "VERIFICATION_FAILED"
	CodeDisplayModeNotApplied = "DISPLAY_MODE_NOT_ENFORCED"
	CodePlaylistWriteRejected = "PLAYLIST_WRITE_REJECTED"
	CodeNoFallbackAvailable   = "NO_FALLBACK_AVAILABLE"
)

// Business flow error constants
var (
	ErrAssetNotFound              = errors.New("asset not found")
	ErrMediaNotReady              = errors.New("media not ready")
	ErrNoCanonicalAsset           = errors.New("advertiser has no canonical asset")
	ErrInvalidContainer           = errors.New("file is not a supported video container")
	ErrInvalidReadinessTransition = errors.New("invalid readiness transition")
	ErrUploadInProgress           = errors.New("upload already in progress")
	ErrScreenNotFound             = errors.New("screen not found")
	ErrLocationNotFound           = errors.New("location not found")
	ErrQueueItemNotFound          = errors.New("queue item not found")
	ErrQueueItemNotCancellable    = errors.New("queue item cannot be cancelled")
	ErrQueueItemNotRetryable      = errors.New("queue item cannot be retried")
)

// BusinessError is the structured failure every flow returns: a stable code, a
// message, its retry category and, when useful, the action the caller should take.
type BusinessError struct {
	Code       string
	Message    string
	Category   string
	NextAction string
	Details    map[string]string
	Err        error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

// WithDetail attaches a key/value to the error and returns it.
func (e *BusinessError) WithDetail(key, value string) *BusinessError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:     code,
		Message:  message,
		Category: CategoryPrecondition,
		Err:      err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:     code,
		Message:  fmt.Sprintf(message, args...),
		Category: CategoryPrecondition,
		Err:      err,
	}
}

func NewTransientError(code, message string, err error) *BusinessError {
	return &BusinessError{Code: code, Message: message, Category: CategoryTransient, NextAction: NextActionRetry, Err: err}
}

func NewTerminalError(code, message string, err error) *BusinessError {
	return &BusinessError{Code: code, Message: message, Category: CategoryTerminal, NextAction: NextActionUpload, Err: err}
}

// NextActionForReadiness maps an asset readiness status to what the caller should do next.
func NextActionForReadiness(status string) string {
	switch status {
	case models.ReadinessPending:
		return NextActionValidate
	case models.ReadinessValidating, models.ReadinessNormalizing:
		return NextActionWait
	case models.ReadinessNeedsNormalization:
		return NextActionRetryNormalization
	default:
		return NextActionUpload
	}
}

// NewMediaNotReadyError builds the MEDIA_NOT_READY condition for an asset status.
// An empty status means no asset exists.
func NewMediaNotReadyError(status string) *BusinessError {
	msg := "media is not ready for publishing"
	if status == "" {
		msg = "no asset available for publishing"
	} else {
		msg = fmt.Sprintf("%s (status %s)", msg, status)
	}
	e := &BusinessError{
		Code:       CodeMediaNotReady,
		Message:    msg,
		Category:   CategoryPrecondition,
		NextAction: NextActionForReadiness(status),
		Err:        ErrMediaNotReady,
	}
	if status != "" {
		e.WithDetail("status", status)
	}
	return e
}

// classifySignageError turns a signage API failure into a categorized business error.
// 404 is terminal; transport errors, timeouts, 408/429/5xx are transient; anything
// else the platform refused is terminal for this attempt.
func classifySignageError(step string, err error) *BusinessError {
	var be *BusinessError
	if errors.As(err, &be) {
		return be
	}
	msg := fmt.Sprintf("signage %s failed", step)
	switch {
	case services.IsNotFound(err):
		return NewTerminalError(CodeRemoteMediaNotFound, msg, err)
	case services.IsTransient(err):
		return NewTransientError(CodeSignageUnavailable, msg, err)
	default:
		var apiErr *services.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 200 && apiErr.StatusCode < 300 {
			return NewTerminalError(CodeMalformedResponse, msg, err)
		}
		return NewTerminalError(CodeSignageUnavailable, msg, err)
	}
}

// ErrorCode returns the business code of err, or an empty string.
func ErrorCode(err error) string {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

// ErrorCategory returns the retry category of err. Unknown errors are transient.
func ErrorCategory(err error) string {
	var be *BusinessError
	if errors.As(err, &be) && be.Category != "" {
		return be.Category
	}
	return CategoryTransient
}

func IsAssetNotFound(err error) bool {
	return errors.Is(err, ErrAssetNotFound)
}

func IsMediaNotReady(err error) bool {
	return errors.Is(err, ErrMediaNotReady)
}

func IsNoCanonicalAsset(err error) bool {
	return errors.Is(err, ErrNoCanonicalAsset)
}

func IsUploadInProgress(err error) bool {
	return errors.Is(err, ErrUploadInProgress)
}

func IsScreenNotFound(err error) bool {
	return errors.Is(err, ErrScreenNotFound)
}

func IsQueueItemNotFound(err error) bool {
	return errors.Is(err, ErrQueueItemNotFound)
}

func IsQueueItemNotCancellable(err error) bool {
	return errors.Is(err, ErrQueueItemNotCancellable)
}

func IsInvalidReadinessTransition(err error) bool {
	return errors.Is(err, ErrInvalidReadinessTransition)
}

func IsTerminal(err error) bool {
	return ErrorCategory(err) == CategoryTerminal
}

func IsPrecondition(err error) bool {
	return ErrorCategory(err) == CategoryPrecondition
}
