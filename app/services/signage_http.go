package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/signage-publisher/config"
	"github.com/amirphl/signage-publisher/utils"
)

type httpSignageClient struct {
	cfg    config.SignageConfig
	client *http.Client
	// upload carries byte transfers under their own timeout.
	upload *http.Client
}

// NewSignageClient returns the client selected by cfg.Provider.
func NewSignageClient(cfg config.SignageConfig) SignageClient {
	if cfg.Provider == "mock" {
		return NewMockSignageClient()
	}
	return NewHTTPSignageClient(cfg)
}

// NewHTTPSignageClient creates a client for the signage REST API.
func NewHTTPSignageClient(cfg config.SignageConfig) SignageClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpSignageClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: timeout,
		},
		upload: &http.Client{
			Timeout: max(cfg.UploadTimeout, 0),
		},
	}
}

func (c *httpSignageClient) endpoint(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}

func (c *httpSignageClient) rawLimit() int {
	if c.cfg.MaxRawBody > 0 {
		return c.cfg.MaxRawBody
	}
	return utils.RawResponseSnippetLength
}

// do performs one request and decodes a 2xx JSON body into out. It returns the
// raw body snippet for forensic storage.
func (c *httpSignageClient) do(ctx context.Context, op, method, target string, payload any, out any) (string, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return "", &APIError{Op: op, Err: err}
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return "", &APIError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Token "+c.cfg.APIToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		observeSignageRequest(op, 0, start)
		return "", &APIError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	observeSignageRequest(op, resp.StatusCode, start)

	data, readErr := io.ReadAll(resp.Body)
	raw := utils.Truncate(strings.TrimSpace(string(data)), c.rawLimit())
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return raw, NewAPIError(op, resp.StatusCode, raw)
	}
	if readErr != nil {
		return raw, &APIError{Op: op, StatusCode: resp.StatusCode, Err: readErr}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return raw, &APIError{Op: op, StatusCode: resp.StatusCode, Body: raw, Err: fmt.Errorf("malformed response: %w", err)}
		}
	}
	return raw, nil
}

func (c *httpSignageClient) mediaCall(ctx context.Context, op, method, path string, payload any) (*Media, error) {
	var media Media
	raw, err := c.do(ctx, op, method, c.endpoint(path), payload, &media)
	if err != nil {
		return nil, err
	}
	if media.ID == 0 {
		return nil, &APIError{Op: op, StatusCode: http.StatusOK, Body: raw, Err: fmt.Errorf("malformed response: missing media id")}
	}
	media.Raw = raw
	return &media, nil
}

func (c *httpSignageClient) CreateMedia(ctx context.Context, name string) (*Media, error) {
	payload := map[string]any{
		"name": name,
		"media_origin": map[string]string{
			"type":   "video",
			"source": "local",
		},
	}
	return c.mediaCall(ctx, "create_media", http.MethodPost, "/media", payload)
}

func (c *httpSignageClient) GetUploadTarget(ctx context.Context, mediaID int64) (*UploadTarget, error) {
	var target UploadTarget
	raw, err := c.do(ctx, "upload_target", http.MethodGet, c.endpoint(fmt.Sprintf("/media/%d/upload", mediaID)), nil, &target)
	if err != nil {
		return nil, err
	}
	if target.URL == "" {
		return nil, &APIError{Op: "upload_target", StatusCode: http.StatusOK, Body: raw, Err: fmt.Errorf("malformed response: empty upload_url")}
	}
	target.Raw = raw
	return &target, nil
}

// UploadBytes streams body to the one-time upload URL.
func (c *httpSignageClient) UploadBytes(ctx context.Context, target *UploadTarget, body io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target.URL, body)
	if err != nil {
		return &APIError{Op: "upload_bytes", Err: err}
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	// The upload URL is pre-signed; it must not carry our API token.
	start := time.Now()
	resp, err := c.upload.Do(req)
	if err != nil {
		observeSignageRequest("upload_bytes", 0, start)
		return &APIError{Op: "upload_bytes", Err: err}
	}
	defer resp.Body.Close()
	observeSignageRequest("upload_bytes", resp.StatusCode, start)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, int64(c.rawLimit())))
		return NewAPIError("upload_bytes", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *httpSignageClient) FinalizeUpload(ctx context.Context, mediaID int64) (*Media, error) {
	return c.mediaCall(ctx, "finalize_upload", http.MethodPut, fmt.Sprintf("/media/%d/upload/complete", mediaID), map[string]any{})
}

func (c *httpSignageClient) GetMedia(ctx context.Context, mediaID int64) (*Media, error) {
	return c.mediaCall(ctx, "get_media", http.MethodGet, fmt.Sprintf("/media/%d", mediaID), nil)
}

// ClearMediaURLs nulls every remote URL playback field.
func (c *httpSignageClient) ClearMediaURLs(ctx context.Context, mediaID int64) (*Media, error) {
	payload := map[string]any{
		"play_from_url":     nil,
		"download_from_url": nil,
	}
	return c.mediaCall(ctx, "clear_media_urls", http.MethodPatch, fmt.Sprintf("/media/%d", mediaID), payload)
}

func (c *httpSignageClient) TagMedia(ctx context.Context, mediaID int64, tags []string) (*Media, error) {
	payload := map[string]any{"tags": tags}
	return c.mediaCall(ctx, "tag_media", http.MethodPatch, fmt.Sprintf("/media/%d", mediaID), payload)
}

func (c *httpSignageClient) ListMedia(ctx context.Context, query MediaQuery) ([]Media, error) {
	u, err := url.Parse(c.endpoint("/media"))
	if err != nil {
		return nil, &APIError{Op: "list_media", Err: err}
	}
	q := u.Query()
	q.Set("ordering", "-created_at")
	if query.Type != "" {
		q.Set("media_type", query.Type)
	}
	if query.Tag != "" {
		q.Set("tags", query.Tag)
	}
	if query.Limit > 0 {
		q.Set("limit", strconv.Itoa(query.Limit))
	}
	u.RawQuery = q.Encode()

	var out struct {
		Results []Media `json:"results"`
	}
	if _, err := c.do(ctx, "list_media", http.MethodGet, u.String(), nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *httpSignageClient) screenCall(ctx context.Context, op, method string, screenID int64, payload any) (*Screen, error) {
	var screen Screen
	raw, err := c.do(ctx, op, method, c.endpoint(fmt.Sprintf("/screens/%d", screenID)), payload, &screen)
	if err != nil {
		return nil, err
	}
	if screen.ID == 0 {
		return nil, &APIError{Op: op, StatusCode: http.StatusOK, Body: raw, Err: fmt.Errorf("malformed response: missing screen id")}
	}
	screen.Raw = raw
	return &screen, nil
}

func (c *httpSignageClient) GetScreen(ctx context.Context, screenID int64) (*Screen, error) {
	return c.screenCall(ctx, "get_screen", http.MethodGet, screenID, nil)
}

func (c *httpSignageClient) SetScreenSource(ctx context.Context, screenID int64, source ScreenSource) (*Screen, error) {
	payload := map[string]any{"screen_content": source}
	return c.screenCall(ctx, "set_screen_source", http.MethodPatch, screenID, payload)
}

func (c *httpSignageClient) PushToScreen(ctx context.Context, screenID int64) error {
	_, err := c.do(ctx, "push_screen", http.MethodPost, c.endpoint(fmt.Sprintf("/screens/%d/push", screenID)), map[string]any{}, nil)
	return err
}

func (c *httpSignageClient) playlistCall(ctx context.Context, op, method, path string, payload any) (*Playlist, error) {
	var playlist Playlist
	raw, err := c.do(ctx, op, method, c.endpoint(path), payload, &playlist)
	if err != nil {
		return nil, err
	}
	if playlist.ID == 0 {
		return nil, &APIError{Op: op, StatusCode: http.StatusOK, Body: raw, Err: fmt.Errorf("malformed response: missing playlist id")}
	}
	playlist.Raw = raw
	return &playlist, nil
}

func (c *httpSignageClient) GetPlaylist(ctx context.Context, playlistID int64) (*Playlist, error) {
	return c.playlistCall(ctx, "get_playlist", http.MethodGet, fmt.Sprintf("/playlists/%d", playlistID), nil)
}

func (c *httpSignageClient) FindPlaylistsByName(ctx context.Context, name string) ([]Playlist, error) {
	u, err := url.Parse(c.endpoint("/playlists"))
	if err != nil {
		return nil, &APIError{Op: "find_playlists", Err: err}
	}
	q := u.Query()
	q.Set("name", name)
	u.RawQuery = q.Encode()

	var out struct {
		Results []Playlist `json:"results"`
	}
	if _, err := c.do(ctx, "find_playlists", http.MethodGet, u.String(), nil, &out); err != nil {
		return nil, err
	}
	// The API matches by substring; keep exact names only.
	matches := make([]Playlist, 0, len(out.Results))
	for _, p := range out.Results {
		if p.Name == name {
			matches = append(matches, p)
		}
	}
	return matches, nil
}

func (c *httpSignageClient) CreatePlaylist(ctx context.Context, name string, items []PlaylistItem) (*Playlist, error) {
	if items == nil {
		items = []PlaylistItem{}
	}
	payload := map[string]any{
		"name":  name,
		"items": items,
	}
	return c.playlistCall(ctx, "create_playlist", http.MethodPost, "/playlists", payload)
}

func (c *httpSignageClient) UpdatePlaylistItems(ctx context.Context, playlistID int64, items []PlaylistItem) (*Playlist, error) {
	if items == nil {
		items = []PlaylistItem{}
	}
	payload := map[string]any{"items": items}
	return c.playlistCall(ctx, "update_playlist", http.MethodPatch, fmt.Sprintf("/playlists/%d", playlistID), payload)
}
