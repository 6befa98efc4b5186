package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyMediaStatus(t *testing.T) {
	tests := []struct {
		raw  string
		want MediaState
	}{
		{"finished", MediaStateReady},
		{" Ready ", MediaStateReady},
		{"LIVE", MediaStateReady},
		{"initialized", MediaStateInitializing},
		{"waiting-upload", MediaStateInitializing},
		{"In Progress", MediaStateProcessing},
		{"transcoding", MediaStateProcessing},
		{"rejected", MediaStateFailed},
		{"", MediaStateUnknown},
		{"archived", MediaStateUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyMediaStatus(tt.raw), "raw %q", tt.raw)
	}

	assert.True(t, MediaStateUnknown.InProgress())
	assert.True(t, MediaStateInitializing.InProgress())
	assert.False(t, MediaStateReady.InProgress())
	assert.False(t, MediaStateFailed.InProgress())
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(NewAPIError("get_media", http.StatusServiceUnavailable, "")))
	assert.True(t, IsTransient(NewAPIError("get_media", http.StatusTooManyRequests, "")))
	assert.True(t, IsTransient(fmt.Errorf("wrapped: %w", NewAPIError("get_media", http.StatusRequestTimeout, ""))))
	assert.True(t, IsTransient(&APIError{Op: "get_media", Err: errors.New("connection reset")}))
	assert.False(t, IsTransient(&APIError{Op: "get_media", Err: context.Canceled}))
	assert.False(t, IsTransient(NewAPIError("get_media", http.StatusBadRequest, "bad")))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(errors.New("plain")))

	assert.True(t, IsNotFound(NewAPIError("get_media", http.StatusNotFound, "")))
	assert.False(t, IsNotFound(NewAPIError("get_media", http.StatusGone, "")))
}
