package utils

import (
	"time"
)

// Request context keys
type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	UserAgentKey contextKey = "user_agent"
	IPAddressKey contextKey = "ip_address"
	EndpointKey  contextKey = "endpoint"
	TimeoutKey   contextKey = "timeout"
)

// ErrorCodeLocal is the fiber Locals key under which handlers publish the business
// error code of a failed response.
const ErrorCodeLocal = "error_code"

// CORS and security constants
const (
	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400
)

// Pipeline defaults used when configuration leaves a value unset
const (
	DefaultUploadStaleness    = 15 * time.Minute
	DefaultPollInitialDelay   = 2 * time.Second
	DefaultPollMaxDelay       = 15 * time.Second
	DefaultPollTimeout        = 5 * time.Minute
	DefaultQueueBaseDelay     = 5 * time.Second
	DefaultQueueMaxDelay      = 10 * time.Minute
	DefaultQueueMultiplier    = 2.0
	DefaultQueueMaxRetries    = 5
	DefaultSettleDelay        = 3 * time.Second
	DefaultPlaylistItemSecs   = 15
	DefaultWorkerPollInterval = 10 * time.Second
	DefaultWorkerLockKey      = "lock:worker:publish-queue"
	DefaultHealthAuditLock    = "lock:worker:health-audit"
	RawResponseSnippetLength  = 2048
)
