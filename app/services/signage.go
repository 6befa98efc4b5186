// Package services provides external service integrations: the signage device API,
// object storage and the transcoder
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Display source types understood by the signage platform
const (
	SourceTypePlaylist = "playlist"
	SourceTypeLayout   = "layout"
	SourceTypeMedia    = "media"
	SourceTypeSchedule = "schedule"
)

// MediaFile is the binary attached to a media record once the platform has processed it.
type MediaFile struct {
	Size   int64  `json:"file_size"`
	Format string `json:"format,omitempty"`
}

// Media is the platform's view of one uploaded media record.
type Media struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Type            string     `json:"media_type"`
	Status          string     `json:"status"`
	File            *MediaFile `json:"file"`
	PlayFromURL     *string    `json:"play_from_url"`
	DownloadFromURL *string    `json:"download_from_url"`
	Tags            []string   `json:"tags"`
	CreatedAt       time.Time  `json:"created_at"`

	Raw string `json:"-"`
}

// HasFile reports whether the binary is attached with a positive size.
func (m *Media) HasFile() bool {
	return m != nil && m.File != nil && m.File.Size > 0
}

// HasURLSource reports whether any remote URL playback field is set.
func (m *Media) HasURLSource() bool {
	if m == nil {
		return false
	}
	return (m.PlayFromURL != nil && *m.PlayFromURL != "") ||
		(m.DownloadFromURL != nil && *m.DownloadFromURL != "")
}

type UploadTarget struct {
	URL string `json:"upload_url"`
	Raw string `json:"-"`
}

// ScreenSource is what a screen is configured to display.
type ScreenSource struct {
	Type string `json:"source_type"`
	ID   int64  `json:"source_id"`
}

type Screen struct {
	ID      int64        `json:"id"`
	Name    string       `json:"name"`
	Content ScreenSource `json:"screen_content"`
	Online  bool         `json:"online"`

	Raw string `json:"-"`
}

// PlaylistItem is one media entry of a playlist; order is play order.
type PlaylistItem struct {
	MediaID  int64  `json:"id"`
	Type     string `json:"type"`
	Name     string `json:"name,omitempty"`
	Duration int    `json:"duration"`
}

type Playlist struct {
	ID    int64          `json:"id"`
	Name  string         `json:"name"`
	Items []PlaylistItem `json:"items"`

	Raw string `json:"-"`
}

// MediaQuery narrows ListMedia.
type MediaQuery struct {
	Type  string
	Tag   string
	Limit int
}

// SignageClient is the consumed device-management API. Every call is a single remote
// request; nothing is trusted until re-read.
type SignageClient interface {
	CreateMedia(ctx context.Context, name string) (*Media, error)
	GetUploadTarget(ctx context.Context, mediaID int64) (*UploadTarget, error)
	UploadBytes(ctx context.Context, target *UploadTarget, body io.Reader, size int64) error
	FinalizeUpload(ctx context.Context, mediaID int64) (*Media, error)
	GetMedia(ctx context.Context, mediaID int64) (*Media, error)
	ClearMediaURLs(ctx context.Context, mediaID int64) (*Media, error)
	TagMedia(ctx context.Context, mediaID int64, tags []string) (*Media, error)
	ListMedia(ctx context.Context, query MediaQuery) ([]Media, error)

	GetScreen(ctx context.Context, screenID int64) (*Screen, error)
	SetScreenSource(ctx context.Context, screenID int64, source ScreenSource) (*Screen, error)
	PushToScreen(ctx context.Context, screenID int64) error

	GetPlaylist(ctx context.Context, playlistID int64) (*Playlist, error)
	FindPlaylistsByName(ctx context.Context, name string) ([]Playlist, error)
	CreatePlaylist(ctx context.Context, name string, items []PlaylistItem) (*Playlist, error)
	UpdatePlaylistItems(ctx context.Context, playlistID int64, items []PlaylistItem) (*Playlist, error)
}

// APIError is a failed signage API call.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("signage %s: %v", e.Op, e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("signage %s: http %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("signage %s: http %d", e.Op, e.StatusCode)
}

func (e *APIError) Unwrap() error { return e.Err }

// NewAPIError builds an APIError from an HTTP status.
func NewAPIError(op string, status int, body string) *APIError {
	return &APIError{Op: op, StatusCode: status, Body: body}
}

// IsNotFound reports whether err is a 404 from the signage API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsTransient reports whether err is worth retrying in place: transport failures,
// timeouts, 408, 429 and 5xx.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 0:
			return apiErr.Err == nil || !errors.Is(apiErr.Err, context.Canceled)
		case apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
