package businessflow

import "sync"

type playlistResolveLock struct {
	mu   sync.Mutex
	refs int
}

var (
	playlistResolveMu    sync.Mutex
	playlistResolveLocks = map[uint]*playlistResolveLock{}
)

// lockPlaylistResolve serializes canonical playlist resolution per location within
// this process, so concurrent publishes do not create twin playlists. Entries are
// dropped once no caller holds or waits on them.
func lockPlaylistResolve(locationID uint) func() {
	playlistResolveMu.Lock()
	l, ok := playlistResolveLocks[locationID]
	if !ok {
		l = &playlistResolveLock{}
		playlistResolveLocks[locationID] = l
	}
	l.refs++
	playlistResolveMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		playlistResolveMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(playlistResolveLocks, locationID)
		}
		playlistResolveMu.Unlock()
	}
}
