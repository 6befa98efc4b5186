package models

import (
	"time"

	"github.com/amirphl/signage-publisher/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Upload job statuses
const (
	UploadStatusUploading     = "UPLOADING"
	UploadStatusPolling       = "POLLING"
	UploadStatusReady         = "READY"
	UploadStatusRetrying      = "RETRYING"
	UploadStatusPermanentFail = "PERMANENT_FAIL"
)

// Failure classes recorded on a failed job
const (
	FailureClassTransient = "TRANSIENT"
	FailureClassTerminal  = "TERMINAL"
)

// UploadJob is one attempt to transfer an asset's bytes to the signage platform.
//
// ActiveKey holds "<advertiser>:<path>" while the job is UPLOADING or POLLING and is
// cleared otherwise; its unique index is the in-flight guard.
type UploadJob struct {
	ID            uint    `gorm:"primaryKey" json:"id"`
	CorrelationID string  `gorm:"size:64;uniqueIndex;not null" json:"correlation_id"`
	AdvertiserID  uint    `gorm:"not null;index:idx_upload_jobs_advertiser_path,priority:1" json:"advertiser_id"`
	AssetID       *uint   `gorm:"index" json:"asset_id,omitempty"`
	AssetPath     string  `gorm:"type:text;not null;index:idx_upload_jobs_advertiser_path,priority:2" json:"asset_path"`
	DesiredName   string  `gorm:"type:varchar(255);not null" json:"desired_name"`
	FileSize      int64   `gorm:"type:bigint;not null;default:0" json:"file_size"`
	YodeckMediaID *int64  `gorm:"index" json:"yodeck_media_id,omitempty"`
	Status        string  `gorm:"type:varchar(32);not null;index" json:"status"`
	ActiveKey     *string `gorm:"type:varchar(512);uniqueIndex" json:"-"`

	Attempt          int `gorm:"not null;default:1" json:"attempt"`
	PollAttempts     int `gorm:"not null;default:0" json:"poll_attempts"`
	FinalizeAttempts int `gorm:"not null;default:0" json:"finalize_attempts"`

	FailureClass     *string `gorm:"type:varchar(16)" json:"failure_class,omitempty"`
	LastErrorCode    *string `gorm:"type:varchar(64)" json:"last_error_code,omitempty"`
	LastErrorMessage *string `gorm:"type:text" json:"last_error_message,omitempty"`
	ResumedFromJobID *uint   `json:"resumed_from_job_id,omitempty"`

	Responses datatypes.JSONType[UploadJobResponses] `json:"responses"`

	CreatedAt   time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null" json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (UploadJob) TableName() string { return "upload_jobs" }

func (j *UploadJob) BeforeCreate(tx *gorm.DB) error {
	if j.CorrelationID == "" {
		j.CorrelationID = utils.NewCorrelationID()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = utils.UTCNow()
	}
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = utils.UTCNow()
	}
	return nil
}

// IsInFlight reports whether the job still holds the in-flight guard.
func (j *UploadJob) IsInFlight() bool {
	return j.Status == UploadStatusUploading || j.Status == UploadStatusPolling
}

// UploadJobResponses keeps one typed record per protocol phase, so every step's
// remote answer can be replayed later.
type UploadJobResponses struct {
	Create   *CreatePhase   `json:"create,omitempty"`
	Target   *TargetPhase   `json:"target,omitempty"`
	Transfer *TransferPhase `json:"transfer,omitempty"`
	Finalize *FinalizePhase `json:"finalize,omitempty"`
	Verify   *VerifyPhase   `json:"verify,omitempty"`
	Poll     *PollPhase     `json:"poll,omitempty"`
	Confirm  *ConfirmPhase  `json:"confirm,omitempty"`
	Strip    *StripPhase    `json:"strip,omitempty"`
}

type CreatePhase struct {
	At        time.Time `json:"at"`
	MediaID   int64     `json:"media_id"`
	RawStatus string    `json:"raw_status"`
	Resumed   bool      `json:"resumed"`
	Raw       string    `json:"raw,omitempty"`
}

type TargetPhase struct {
	At         time.Time `json:"at"`
	TargetHost string    `json:"target_host"`
	Raw        string    `json:"raw,omitempty"`
}

type TransferPhase struct {
	At             time.Time `json:"at"`
	BytesSent      int64     `json:"bytes_sent"`
	SignatureKind  string    `json:"signature_kind"`
	SignatureAfter bool      `json:"signature_after"`
}

type FinalizePhase struct {
	At        time.Time `json:"at"`
	Attempts  int       `json:"attempts"`
	RawStatus string    `json:"raw_status"`
	Raw       string    `json:"raw,omitempty"`
}

type VerifyPhase struct {
	At        time.Time `json:"at"`
	RawStatus string    `json:"raw_status"`
	Raw       string    `json:"raw,omitempty"`
}

type PollPhase struct {
	At                time.Time `json:"at"`
	Polls             int       `json:"polls"`
	InitializingPolls int       `json:"initializing_polls"`
	LastRawStatus     string    `json:"last_raw_status"`
	LastState         string    `json:"last_state"`
	ElapsedMillis     int64     `json:"elapsed_ms"`
	Raw               string    `json:"raw,omitempty"`
}

type ConfirmPhase struct {
	At       time.Time `json:"at"`
	Attempts int       `json:"attempts"`
	FileSize int64     `json:"file_size"`
	Raw      string    `json:"raw,omitempty"`
}

type StripPhase struct {
	At       time.Time `json:"at"`
	HadURL   bool      `json:"had_url"`
	Cleared  bool      `json:"cleared"`
	Verified bool      `json:"verified"`
	Raw      string    `json:"raw,omitempty"`
}
