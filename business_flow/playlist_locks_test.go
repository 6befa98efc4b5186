package businessflow

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func resolveLockCount() int {
	playlistResolveMu.Lock()
	defer playlistResolveMu.Unlock()
	return len(playlistResolveLocks)
}

func TestLockPlaylistResolve(t *testing.T) {
	t.Run("serializes callers of one location", func(t *testing.T) {
		var (
			wg      sync.WaitGroup
			inside  atomic.Int32
			overlap atomic.Bool
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock := lockPlaylistResolve(41)
				defer unlock()
				if inside.Add(1) > 1 {
					overlap.Store(true)
				}
				inside.Add(-1)
			}()
		}
		wg.Wait()
		assert.False(t, overlap.Load())
		assert.Zero(t, resolveLockCount())
	})

	t.Run("entries are dropped after release", func(t *testing.T) {
		a := lockPlaylistResolve(1)
		b := lockPlaylistResolve(2)
		assert.Equal(t, 2, resolveLockCount())
		a()
		assert.Equal(t, 1, resolveLockCount())
		b()
		assert.Zero(t, resolveLockCount())
	})
}
