package services

import "strings"

// MediaState is the bucket a raw media status string falls into.
type MediaState string

const (
	MediaStateReady        MediaState = "READY"
	MediaStateProcessing   MediaState = "PROCESSING"
	MediaStateInitializing MediaState = "INITIALIZING"
	MediaStateFailed       MediaState = "FAILED"
	MediaStateUnknown      MediaState = "UNKNOWN"
)

var mediaStatusTable = map[string]MediaState{
	"finished": MediaStateReady,
	"ready":    MediaStateReady,
	"done":     MediaStateReady,
	"encoded":  MediaStateReady,
	"live":     MediaStateReady,

	"initialized":    MediaStateInitializing,
	"initializing":   MediaStateInitializing,
	"pending":        MediaStateInitializing,
	"created":        MediaStateInitializing,
	"uploading":      MediaStateInitializing,
	"waiting_upload": MediaStateInitializing,

	"processing":  MediaStateProcessing,
	"converting":  MediaStateProcessing,
	"encoding":    MediaStateProcessing,
	"in_progress": MediaStateProcessing,
	"queued":      MediaStateProcessing,
	"transcoding": MediaStateProcessing,

	"failed":   MediaStateFailed,
	"error":    MediaStateFailed,
	"errored":  MediaStateFailed,
	"invalid":  MediaStateFailed,
	"rejected": MediaStateFailed,
}

// ClassifyMediaStatus maps a raw platform status to a MediaState. Anything it does
// not recognise is UNKNOWN.
func ClassifyMediaStatus(raw string) MediaState {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	if state, ok := mediaStatusTable[key]; ok {
		return state
	}
	return MediaStateUnknown
}

// InProgress reports whether the platform is still working on the media.
// UNKNOWN counts as in progress.
func (s MediaState) InProgress() bool {
	switch s {
	case MediaStateProcessing, MediaStateInitializing, MediaStateUnknown:
		return true
	default:
		return false
	}
}
