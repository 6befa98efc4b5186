package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultMockStatusScript is what GetMedia reports, read by read, after a finalize.
var DefaultMockStatusScript = []string{"initialized", "processing", "finished"}

type mockMedia struct {
	media      Media
	script     []string
	uploaded   int64
	readyReads int
}

// MockSignageClient is an in-memory signage platform used by tests and by
// SIGNAGE_PROVIDER=mock.
type MockSignageClient struct {
	mu sync.Mutex

	nextMediaID    int64
	nextPlaylistID int64
	clock          time.Time

	media     map[int64]*mockMedia
	screens   map[int64]*Screen
	playlists map[int64]*Playlist
	calls     map[string]int
	failures  map[string][]error

	// StatusScript is consumed one entry per GetMedia after finalize; the last entry sticks.
	StatusScript []string
	// FileAttachDelay is the number of ready reads that still report no file.
	FileAttachDelay int
	// IgnoreScreenSource acknowledges screen source changes without applying them.
	IgnoreScreenSource bool
	// IgnorePlaylistWrites acknowledges playlist writes without applying them.
	IgnorePlaylistWrites bool
	// RejectPlaylistWrites answers playlist writes with HTTP 400.
	RejectPlaylistWrites bool
	// KeepURLsOnClear acknowledges URL clearing without applying it.
	KeepURLsOnClear bool
	// OnCreateMedia runs before a media record is created.
	OnCreateMedia func()
}

// NewMockSignageClient creates an empty mock platform. Media ids start at 5001 and
// playlist ids at 900.
func NewMockSignageClient() *MockSignageClient {
	return &MockSignageClient{
		nextMediaID:    5001,
		nextPlaylistID: 900,
		clock:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		media:          make(map[int64]*mockMedia),
		screens:        make(map[int64]*Screen),
		playlists:      make(map[int64]*Playlist),
		calls:          make(map[string]int),
		failures:       make(map[string][]error),
		StatusScript:   slices.Clone(DefaultMockStatusScript),
	}
}

// FailNext makes the next times calls of op return err.
func (m *MockSignageClient) FailNext(op string, err error, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < times; i++ {
		m.failures[op] = append(m.failures[op], err)
	}
}

// Calls returns how many times op was invoked.
func (m *MockSignageClient) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// enter records the call and pops an injected failure. Caller holds mu.
func (m *MockSignageClient) enter(op string) error {
	m.calls[op]++
	if queued := m.failures[op]; len(queued) > 0 {
		m.failures[op] = queued[1:]
		return queued[0]
	}
	return nil
}

func (m *MockSignageClient) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func notFound(op string, kind string, id int64) error {
	return NewAPIError(op, http.StatusNotFound, fmt.Sprintf(`{"detail":"%s %d not found"}`, kind, id))
}

func copyMedia(mm *mockMedia) *Media {
	out := mm.media
	if mm.media.File != nil {
		f := *mm.media.File
		out.File = &f
	}
	out.Tags = slices.Clone(mm.media.Tags)
	out.PlayFromURL = cloneString(mm.media.PlayFromURL)
	out.DownloadFromURL = cloneString(mm.media.DownloadFromURL)
	out.Raw = fmt.Sprintf(`{"id":%d,"status":%q}`, out.ID, out.Status)
	return &out
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyPlaylist(p *Playlist) *Playlist {
	out := *p
	out.Items = slices.Clone(p.Items)
	out.Raw = fmt.Sprintf(`{"id":%d,"items":%d}`, out.ID, len(out.Items))
	return &out
}

func copyScreen(s *Screen) *Screen {
	out := *s
	out.Raw = fmt.Sprintf(`{"id":%d,"screen_content":{"source_type":%q,"source_id":%d}}`, s.ID, s.Content.Type, s.Content.ID)
	return &out
}

// SeedMedia stores a library media record as-is and returns its id.
func (m *MockSignageClient) SeedMedia(media Media) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if media.ID == 0 {
		media.ID = m.nextMediaID
		m.nextMediaID++
	}
	if media.Type == "" {
		media.Type = "video"
	}
	if media.CreatedAt.IsZero() {
		media.CreatedAt = m.tick()
	}
	var uploaded int64
	if media.File != nil {
		uploaded = media.File.Size
	}
	m.media[media.ID] = &mockMedia{media: media, uploaded: uploaded}
	return media.ID
}

// SetMediaStatus overrides the status of a media record and clears its script.
func (m *MockSignageClient) SetMediaStatus(mediaID int64, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mm, ok := m.media[mediaID]; ok {
		mm.media.Status = status
		mm.script = nil
	}
}

// DeleteMedia removes a media record so later reads return 404.
func (m *MockSignageClient) DeleteMedia(mediaID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.media, mediaID)
}

// MediaByID returns a snapshot of a media record.
func (m *MockSignageClient) MediaByID(mediaID int64) (*Media, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mm, ok := m.media[mediaID]
	if !ok {
		return nil, false
	}
	return copyMedia(mm), true
}

// MediaCount returns how many media records exist.
func (m *MockSignageClient) MediaCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.media)
}

func (m *MockSignageClient) SeedScreen(screenID int64, name string, source ScreenSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.screens[screenID] = &Screen{ID: screenID, Name: name, Content: source, Online: true}
}

func (m *MockSignageClient) ScreenByID(screenID int64) (*Screen, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.screens[screenID]
	if !ok {
		return nil, false
	}
	return copyScreen(s), true
}

// SeedPlaylist stores a playlist and returns its id.
func (m *MockSignageClient) SeedPlaylist(name string, items []PlaylistItem) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextPlaylistID
	m.nextPlaylistID++
	m.playlists[id] = &Playlist{ID: id, Name: name, Items: slices.Clone(items)}
	return id
}

func (m *MockSignageClient) PlaylistByID(playlistID int64) (*Playlist, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.playlists[playlistID]
	if !ok {
		return nil, false
	}
	return copyPlaylist(p), true
}

// DeletePlaylist removes a playlist so later reads return 404.
func (m *MockSignageClient) DeletePlaylist(playlistID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.playlists, playlistID)
}

func (m *MockSignageClient) CreateMedia(ctx context.Context, name string) (*Media, error) {
	if m.OnCreateMedia != nil {
		m.OnCreateMedia()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("create_media"); err != nil {
		return nil, err
	}
	id := m.nextMediaID
	m.nextMediaID++
	mm := &mockMedia{media: Media{
		ID:        id,
		Name:      name,
		Type:      "video",
		Status:    "initialized",
		CreatedAt: m.tick(),
	}}
	m.media[id] = mm
	return copyMedia(mm), nil
}

func (m *MockSignageClient) GetUploadTarget(ctx context.Context, mediaID int64) (*UploadTarget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("upload_target"); err != nil {
		return nil, err
	}
	if _, ok := m.media[mediaID]; !ok {
		return nil, notFound("upload_target", "media", mediaID)
	}
	url := "mock://upload/" + strconv.FormatInt(mediaID, 10)
	return &UploadTarget{URL: url, Raw: fmt.Sprintf(`{"upload_url":%q}`, url)}, nil
}

func (m *MockSignageClient) UploadBytes(ctx context.Context, target *UploadTarget, body io.Reader, size int64) error {
	id, err := strconv.ParseInt(strings.TrimPrefix(target.URL, "mock://upload/"), 10, 64)
	if err != nil {
		return NewAPIError("upload_bytes", http.StatusBadRequest, "bad upload url")
	}
	// Drain outside the lock; the body may be slow.
	n, copyErr := io.Copy(io.Discard, body)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("upload_bytes"); err != nil {
		return err
	}
	if copyErr != nil {
		return &APIError{Op: "upload_bytes", Err: copyErr}
	}
	mm, ok := m.media[id]
	if !ok {
		return notFound("upload_bytes", "media", id)
	}
	mm.uploaded = n
	return nil
}

func (m *MockSignageClient) FinalizeUpload(ctx context.Context, mediaID int64) (*Media, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("finalize_upload"); err != nil {
		return nil, err
	}
	mm, ok := m.media[mediaID]
	if !ok {
		return nil, notFound("finalize_upload", "media", mediaID)
	}
	if mm.uploaded > 0 && mm.script == nil {
		mm.script = slices.Clone(m.StatusScript)
		mm.media.Status = "processing"
	}
	return copyMedia(mm), nil
}

func (m *MockSignageClient) GetMedia(ctx context.Context, mediaID int64) (*Media, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("get_media"); err != nil {
		return nil, err
	}
	mm, ok := m.media[mediaID]
	if !ok {
		return nil, notFound("get_media", "media", mediaID)
	}
	if len(mm.script) > 0 {
		mm.media.Status = mm.script[0]
		if len(mm.script) > 1 {
			mm.script = mm.script[1:]
		}
	}
	if ClassifyMediaStatus(mm.media.Status) == MediaStateReady && mm.uploaded > 0 && mm.media.File == nil {
		if mm.readyReads < m.FileAttachDelay {
			mm.readyReads++
		} else {
			mm.media.File = &MediaFile{Size: mm.uploaded, Format: "mp4"}
		}
	}
	return copyMedia(mm), nil
}

func (m *MockSignageClient) ClearMediaURLs(ctx context.Context, mediaID int64) (*Media, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("clear_media_urls"); err != nil {
		return nil, err
	}
	mm, ok := m.media[mediaID]
	if !ok {
		return nil, notFound("clear_media_urls", "media", mediaID)
	}
	if !m.KeepURLsOnClear {
		mm.media.PlayFromURL = nil
		mm.media.DownloadFromURL = nil
	}
	out := copyMedia(mm)
	out.PlayFromURL, out.DownloadFromURL = nil, nil
	return out, nil
}

func (m *MockSignageClient) TagMedia(ctx context.Context, mediaID int64, tags []string) (*Media, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("tag_media"); err != nil {
		return nil, err
	}
	mm, ok := m.media[mediaID]
	if !ok {
		return nil, notFound("tag_media", "media", mediaID)
	}
	for _, tag := range tags {
		if !slices.Contains(mm.media.Tags, tag) {
			mm.media.Tags = append(mm.media.Tags, tag)
		}
	}
	return copyMedia(mm), nil
}

func (m *MockSignageClient) ListMedia(ctx context.Context, query MediaQuery) ([]Media, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("list_media"); err != nil {
		return nil, err
	}
	out := make([]Media, 0, len(m.media))
	for _, mm := range m.media {
		if query.Type != "" && mm.media.Type != query.Type {
			continue
		}
		if query.Tag != "" && !slices.Contains(mm.media.Tags, query.Tag) {
			continue
		}
		out = append(out, *copyMedia(mm))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

func (m *MockSignageClient) GetScreen(ctx context.Context, screenID int64) (*Screen, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("get_screen"); err != nil {
		return nil, err
	}
	s, ok := m.screens[screenID]
	if !ok {
		return nil, notFound("get_screen", "screen", screenID)
	}
	return copyScreen(s), nil
}

// SetScreenSource answers with the requested source, whether or not it was applied.
func (m *MockSignageClient) SetScreenSource(ctx context.Context, screenID int64, source ScreenSource) (*Screen, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("set_screen_source"); err != nil {
		return nil, err
	}
	s, ok := m.screens[screenID]
	if !ok {
		return nil, notFound("set_screen_source", "screen", screenID)
	}
	if !m.IgnoreScreenSource {
		s.Content = source
	}
	out := copyScreen(s)
	out.Content = source
	return out, nil
}

func (m *MockSignageClient) PushToScreen(ctx context.Context, screenID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("push_screen"); err != nil {
		return err
	}
	if _, ok := m.screens[screenID]; !ok {
		return notFound("push_screen", "screen", screenID)
	}
	return nil
}

func (m *MockSignageClient) GetPlaylist(ctx context.Context, playlistID int64) (*Playlist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("get_playlist"); err != nil {
		return nil, err
	}
	p, ok := m.playlists[playlistID]
	if !ok {
		return nil, notFound("get_playlist", "playlist", playlistID)
	}
	return copyPlaylist(p), nil
}

func (m *MockSignageClient) FindPlaylistsByName(ctx context.Context, name string) ([]Playlist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("find_playlists"); err != nil {
		return nil, err
	}
	var out []Playlist
	for _, p := range m.playlists {
		if p.Name == name {
			out = append(out, *copyPlaylist(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockSignageClient) CreatePlaylist(ctx context.Context, name string, items []PlaylistItem) (*Playlist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("create_playlist"); err != nil {
		return nil, err
	}
	id := m.nextPlaylistID
	m.nextPlaylistID++
	p := &Playlist{ID: id, Name: name, Items: slices.Clone(items)}
	m.playlists[id] = p
	return copyPlaylist(p), nil
}

func (m *MockSignageClient) UpdatePlaylistItems(ctx context.Context, playlistID int64, items []PlaylistItem) (*Playlist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("update_playlist"); err != nil {
		return nil, err
	}
	p, ok := m.playlists[playlistID]
	if !ok {
		return nil, notFound("update_playlist", "playlist", playlistID)
	}
	if m.RejectPlaylistWrites {
		return nil, NewAPIError("update_playlist", http.StatusBadRequest, `{"detail":"items rejected"}`)
	}
	if !m.IgnorePlaylistWrites {
		p.Items = slices.Clone(items)
	}
	out := copyPlaylist(p)
	out.Items = slices.Clone(items)
	return out, nil
}
