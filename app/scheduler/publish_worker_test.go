package scheduler

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	businessflow "github.com/amirphl/signage-publisher/business_flow"
	"github.com/amirphl/signage-publisher/config"
	"github.com/amirphl/signage-publisher/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	mu        sync.Mutex
	items     []*models.PublishQueueItem
	dequeued  int
	staleErr  atomic.Value
	processFn func(item *models.PublishQueueItem) (*models.PublishQueueItem, error)
}

func newFakeQueue(n int) *fakeQueue {
	q := &fakeQueue{}
	for i := 1; i <= n; i++ {
		q.items = append(q.items, &models.PublishQueueItem{ID: uint(i), AssetID: uint(100 + i), Status: models.QueueStatusProcessing})
	}
	q.processFn = func(item *models.PublishQueueItem) (*models.PublishQueueItem, error) {
		done := *item
		done.Status = models.QueueStatusCompleted
		return &done, nil
	}
	return q
}

func (q *fakeQueue) failStale(err error) {
	q.staleErr.Store(&err)
}

func (q *fakeQueue) RequeueStale(ctx context.Context) (int, error) {
	if v, ok := q.staleErr.Load().(*error); ok && *v != nil {
		return 0, *v
	}
	return 0, nil
}

func (q *fakeQueue) DequeueNext(ctx context.Context) (*models.PublishQueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, nil
	}
	item := q.items[0]
	q.items = q.items[1:]
	q.dequeued++
	return item, nil
}

func (q *fakeQueue) ProcessItem(ctx context.Context, item *models.PublishQueueItem) (*models.PublishQueueItem, error) {
	return q.processFn(item)
}

func (q *fakeQueue) Stats(ctx context.Context) (*businessflow.QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return &businessflow.QueueStats{Pending: int64(len(q.items))}, nil
}

func (q *fakeQueue) remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type fakeAuditor struct {
	calls     atomic.Int32
	lastLimit atomic.Int32
	summary   businessflow.AuditSummary
}

func (a *fakeAuditor) AuditScreens(ctx context.Context, repairLimit int) (*businessflow.AuditSummary, error) {
	a.calls.Add(1)
	a.lastLimit.Store(int32(repairLimit))
	s := a.summary
	return &s, nil
}

func testWorkerConfig() config.WorkerConfig {
	return config.WorkerConfig{
		PollInterval:        5 * time.Millisecond,
		BatchSize:           10,
		Concurrency:         2,
		ItemTimeout:         time.Second,
		LockTTL:             time.Minute,
		LockKey:             "test:worker",
		HealthAuditLockKey:  "test:audit",
		HealthAuditInterval: time.Hour,
		HealthRepairLimit:   3,
		ErrorThreshold:      3,
		Cooldown:            200 * time.Millisecond,
	}
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func withStatus(item *models.PublishQueueItem, status string) *models.PublishQueueItem {
	out := *item
	out.Status = status
	return &out
}

type failingLocker struct{ err error }

func (l failingLocker) TryLock(context.Context, string, time.Duration) (func(), bool, error) {
	return nil, false, l.err
}

func TestPublishWorker_RunCycle(t *testing.T) {
	t.Run("processes due items and tallies outcomes", func(t *testing.T) {
		q := newFakeQueue(3)
		transient := businessflow.NewTransientError(businessflow.CodeSignageUnavailable, "signage down", nil)
		q.processFn = func(item *models.PublishQueueItem) (*models.PublishQueueItem, error) {
			switch item.ID {
			case 1:
				return withStatus(item, models.QueueStatusCompleted), nil
			case 2:
				return withStatus(item, models.QueueStatusRetrying), transient
			default:
				return withStatus(item, models.QueueStatusFailed), businessflow.NewMediaNotReadyError(models.ReadinessRejected)
			}
		}
		w := NewPublishWorker(q, nil, NewLocalLocker(), testWorkerConfig(), quietLogger())

		res, err := w.RunCycle(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, transient)
		assert.Equal(t, CycleResult{Processed: 3, Completed: 1, Retrying: 1, Failed: 1}, *res)
		assert.Zero(t, q.remaining())
	})

	t.Run("precondition failures do not fail the cycle", func(t *testing.T) {
		q := newFakeQueue(2)
		q.processFn = func(item *models.PublishQueueItem) (*models.PublishQueueItem, error) {
			return withStatus(item, models.QueueStatusFailed), businessflow.NewMediaNotReadyError(models.ReadinessPending)
		}
		w := NewPublishWorker(q, nil, NewLocalLocker(), testWorkerConfig(), quietLogger())

		res, err := w.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, res.Failed)
	})

	t.Run("batch size bounds a cycle", func(t *testing.T) {
		q := newFakeQueue(5)
		cfg := testWorkerConfig()
		cfg.BatchSize = 2
		w := NewPublishWorker(q, nil, NewLocalLocker(), cfg, quietLogger())

		res, err := w.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, res.Completed)
		assert.Equal(t, 3, q.remaining())
	})

	t.Run("held lock skips the cycle", func(t *testing.T) {
		q := newFakeQueue(1)
		locker := NewLocalLocker()
		cfg := testWorkerConfig()
		release, ok, err := locker.TryLock(context.Background(), cfg.LockKey, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		defer release()

		w := NewPublishWorker(q, nil, locker, cfg, quietLogger())
		res, err := w.RunCycle(context.Background())
		require.NoError(t, err)
		assert.True(t, res.Skipped)
		assert.Equal(t, 1, q.remaining())
	})

	t.Run("unreachable lock store skips without counting an error", func(t *testing.T) {
		q := newFakeQueue(1)
		w := NewPublishWorker(q, nil, failingLocker{err: errors.New("redis: connection refused")}, testWorkerConfig(), quietLogger())

		for i := 0; i < testWorkerConfig().ErrorThreshold+1; i++ {
			res, err := w.RunCycle(context.Background())
			require.NoError(t, err)
			assert.True(t, res.Skipped)
			w.recordCycle(err)
		}
		assert.False(t, w.Paused())
		assert.Equal(t, 1, q.remaining())
	})

	t.Run("requeue failure aborts the cycle", func(t *testing.T) {
		q := newFakeQueue(1)
		q.failStale(errors.New("db down"))
		w := NewPublishWorker(q, nil, NewLocalLocker(), testWorkerConfig(), quietLogger())

		_, err := w.RunCycle(context.Background())
		require.EqualError(t, err, "db down")
		assert.Equal(t, 1, q.remaining())
	})
}

func TestPublishWorker_PauseAndResume(t *testing.T) {
	q := newFakeQueue(0)
	q.failStale(errors.New("signage outage"))
	w := NewPublishWorker(q, nil, NewLocalLocker(), testWorkerConfig(), quietLogger())

	stop := w.Start(context.Background())
	defer stop()

	require.Eventually(t, w.Paused, 2*time.Second, 5*time.Millisecond)
	st := w.Status()
	assert.True(t, st.Running)
	assert.Equal(t, 3, st.ConsecutiveErrors)
	assert.Equal(t, "signage outage", st.LastError)
	require.NotNil(t, st.PausedUntil)

	q.failStale(nil)
	require.Eventually(t, func() bool {
		st := w.Status()
		return !st.Paused && st.ConsecutiveErrors == 0 && st.LastError == ""
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPublishWorker_RecordCycle(t *testing.T) {
	w := NewPublishWorker(newFakeQueue(0), nil, nil, testWorkerConfig(), quietLogger())
	boom := errors.New("boom")

	assert.False(t, w.recordCycle(boom))
	assert.False(t, w.recordCycle(nil))
	assert.Zero(t, w.Status().ConsecutiveErrors)

	assert.False(t, w.recordCycle(boom))
	assert.False(t, w.recordCycle(boom))
	assert.True(t, w.recordCycle(boom))
	assert.True(t, w.Paused())
	assert.False(t, w.recordCycle(boom), "already paused")

	w.resume()
	assert.False(t, w.Paused())
	assert.Zero(t, w.Status().ConsecutiveErrors)
}

func TestPublishWorker_RunAudit(t *testing.T) {
	t.Run("runs under the audit lock", func(t *testing.T) {
		auditor := &fakeAuditor{summary: businessflow.AuditSummary{Checked: 4, Healthy: 3, Repaired: 1}}
		w := NewPublishWorker(newFakeQueue(0), auditor, NewLocalLocker(), testWorkerConfig(), quietLogger())

		summary, err := w.RunAudit(context.Background())
		require.NoError(t, err)
		require.NotNil(t, summary)
		assert.Equal(t, 4, summary.Checked)
		assert.Equal(t, int32(3), auditor.lastLimit.Load())
		assert.NotNil(t, w.Status().LastAuditAt)
	})

	t.Run("held lock skips", func(t *testing.T) {
		auditor := &fakeAuditor{}
		locker := NewLocalLocker()
		cfg := testWorkerConfig()
		_, ok, err := locker.TryLock(context.Background(), cfg.HealthAuditLockKey, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		w := NewPublishWorker(newFakeQueue(0), auditor, locker, cfg, quietLogger())
		summary, err := w.RunAudit(context.Background())
		require.NoError(t, err)
		assert.Nil(t, summary)
		assert.Zero(t, auditor.calls.Load())
	})

	t.Run("no auditor", func(t *testing.T) {
		w := NewPublishWorker(newFakeQueue(0), nil, nil, testWorkerConfig(), quietLogger())
		summary, err := w.RunAudit(context.Background())
		require.NoError(t, err)
		assert.Nil(t, summary)
	})
}
