package businessflow_test

import (
	"testing"
	"time"

	businessflow "github.com/amirphl/signage-publisher/business_flow"
	"github.com/amirphl/signage-publisher/models"
	testingutil "github.com/amirphl/signage-publisher/testing"
	"github.com/amirphl/signage-publisher/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *flowEnv) enqueue(t *testing.T, assetID uint, priority int) *businessflow.EnqueueResult {
	t.Helper()
	res, err := e.queue.Enqueue(e.ctx, businessflow.EnqueueRequest{AssetID: assetID, Priority: &priority})
	require.NoError(t, err)
	return res
}

func (e *flowEnv) item(t *testing.T, id uint) *models.PublishQueueItem {
	t.Helper()
	item, err := e.queue.Get(e.ctx, id)
	require.NoError(t, err)
	return item
}

func TestBackoffDelay(t *testing.T) {
	cfg := testingutil.TestQueueConfig()
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{-1, 5 * time.Second},
		{0, 5 * time.Second},
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{4, 80 * time.Second},
		{6, 320 * time.Second},
		{7, 10 * time.Minute},
		{200, 10 * time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, businessflow.BackoffDelay(cfg, tt.retry), "retry %d", tt.retry)
	}
}

func TestPublishQueueFlow_Enqueue(t *testing.T) {
	t.Run("creates a pending item and is idempotent", func(t *testing.T) {
		e := newFlowEnv(t)
		asset := e.readyAsset(t, 1)

		first := e.enqueue(t, asset.ID, 100)
		assert.True(t, first.Created)
		assert.Equal(t, models.QueueStatusPending, first.Status)
		assert.NotEmpty(t, first.CorrelationID)

		second := e.enqueue(t, asset.ID, 1)
		assert.False(t, second.Created)
		assert.Equal(t, first.ItemID, second.ItemID)

		item := e.item(t, first.ItemID)
		assert.Equal(t, 100, item.Priority)
		assert.Equal(t, 5, item.MaxRetries)
		assert.Equal(t, models.AssetPublishQueued, e.reloadAsset(t, asset.ID).PublishStatus)
	})

	t.Run("asset must be ready", func(t *testing.T) {
		e := newFlowEnv(t)
		asset, err := e.fixtures.CreateAsset(e.storage, 1, models.ReadinessPending, testingutil.MP4Bytes(64))
		require.NoError(t, err)

		_, err = e.queue.Enqueue(e.ctx, businessflow.EnqueueRequest{AssetID: asset.ID})
		be := requireCode(t, err, businessflow.CodeMediaNotReady)
		assert.Equal(t, businessflow.NextActionValidate, be.NextAction)

		items, err := e.queue.List(e.ctx, models.PublishQueueFilter{}, 0, 0)
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("advertiser must own the asset", func(t *testing.T) {
		e := newFlowEnv(t)
		asset := e.readyAsset(t, 1)
		_, err := e.queue.Enqueue(e.ctx, businessflow.EnqueueRequest{AssetID: asset.ID, AdvertiserID: 2})
		requireCode(t, err, businessflow.CodeInvalidRequest)
	})
}

func TestPublishQueueFlow_DequeueNext(t *testing.T) {
	t.Run("lowest priority value first then oldest", func(t *testing.T) {
		e := newFlowEnv(t)
		low := e.enqueue(t, e.readyAsset(t, 1).ID, 50)
		urgentOld := e.enqueue(t, e.readyAsset(t, 2).ID, 10)
		urgentNew := e.enqueue(t, e.readyAsset(t, 3).ID, 10)

		var order []uint
		for i := 0; i < 3; i++ {
			item, err := e.queue.DequeueNext(e.ctx)
			require.NoError(t, err)
			require.NotNil(t, item)
			assert.Equal(t, models.QueueStatusProcessing, item.Status)
			assert.NotNil(t, item.StartedAt)
			order = append(order, item.ID)
		}
		assert.Equal(t, []uint{urgentOld.ItemID, urgentNew.ItemID, low.ItemID}, order)

		next, err := e.queue.DequeueNext(e.ctx)
		require.NoError(t, err)
		assert.Nil(t, next)
	})

	t.Run("future schedule is not due", func(t *testing.T) {
		e := newFlowEnv(t)
		later := utils.UTCNow().Add(time.Hour)
		_, err := e.queue.Enqueue(e.ctx, businessflow.EnqueueRequest{AssetID: e.readyAsset(t, 1).ID, ScheduledFor: &later})
		require.NoError(t, err)

		item, err := e.queue.DequeueNext(e.ctx)
		require.NoError(t, err)
		assert.Nil(t, item)
	})
}

// assertScheduledWithin checks that scheduled lies in [earliest, latest], allowing for
// sub-millisecond rounding by the database.
func assertScheduledWithin(t *testing.T, scheduled, earliest, latest time.Time) {
	t.Helper()
	assert.False(t, scheduled.Before(earliest.Add(-time.Millisecond)), "scheduled %s before %s", scheduled, earliest)
	assert.False(t, scheduled.After(latest.Add(time.Millisecond)), "scheduled %s after %s", scheduled, latest)
}

func TestPublishQueueFlow_MarkFailed(t *testing.T) {
	t.Run("delay is capped at the ceiling", func(t *testing.T) {
		e := newFlowEnv(t)
		asset := e.readyAsset(t, 1)
		res := e.enqueue(t, asset.ID, 100)
		require.NoError(t, e.db.DB.Model(&models.PublishQueueItem{}).Where("id = ?", res.ItemID).
			Update("max_retries", 12).Error)
		failure := businessflow.NewTransientError(businessflow.CodeSignageUnavailable, "signage down", nil)
		ceiling := testingutil.TestQueueConfig().MaxDelay

		var previous time.Duration
		for i := 0; i < 10; i++ {
			before := utils.UTCNow()
			item, err := e.queue.MarkFailed(e.ctx, res.ItemID, failure, true)
			after := utils.UTCNow()
			require.NoError(t, err)
			require.Equal(t, models.QueueStatusRetrying, item.Status)
			require.NotNil(t, item.ScheduledFor)

			want := businessflow.BackoffDelay(testingutil.TestQueueConfig(), i)
			assert.GreaterOrEqual(t, want, previous)
			assert.LessOrEqual(t, want, ceiling)
			assertScheduledWithin(t, *item.ScheduledFor, before.Add(want), after.Add(want))
			previous = want
		}
		assert.Equal(t, ceiling, previous)
	})

	t.Run("backs off then fails after max retries", func(t *testing.T) {
		e := newFlowEnv(t)
		asset := e.readyAsset(t, 1)
		res := e.enqueue(t, asset.ID, 100)
		failure := businessflow.NewTransientError(businessflow.CodeSignageUnavailable, "signage down", nil)

		wantDelays := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second, 80 * time.Second}
		for i, want := range wantDelays {
			before := utils.UTCNow()
			item, err := e.queue.MarkFailed(e.ctx, res.ItemID, failure, true)
			after := utils.UTCNow()
			require.NoError(t, err)
			assert.Equal(t, models.QueueStatusRetrying, item.Status)
			assert.Equal(t, i+1, item.RetryCount)
			require.NotNil(t, item.ScheduledFor)
			assertScheduledWithin(t, *item.ScheduledFor, before.Add(want), after.Add(want))
		}

		item, err := e.queue.MarkFailed(e.ctx, res.ItemID, failure, true)
		require.NoError(t, err)
		assert.Equal(t, models.QueueStatusFailed, item.Status)
		assert.Equal(t, 5, item.RetryCount)
		assert.Nil(t, item.ScheduledFor)
		assert.NotNil(t, item.CompletedAt)

		stored := e.item(t, res.ItemID)
		assert.Equal(t, models.QueueStatusFailed, stored.Status)
		require.NotNil(t, stored.ErrorCode)
		assert.Equal(t, businessflow.CodeSignageUnavailable, *stored.ErrorCode)

		a := e.reloadAsset(t, asset.ID)
		assert.Equal(t, models.AssetPublishFailed, a.PublishStatus)
		require.NotNil(t, a.PublishError)

		again, err := e.queue.MarkFailed(e.ctx, res.ItemID, failure, true)
		require.NoError(t, err)
		assert.Equal(t, models.QueueStatusFailed, again.Status)
	})

	t.Run("non-retryable failure is terminal at once", func(t *testing.T) {
		e := newFlowEnv(t)
		res := e.enqueue(t, e.readyAsset(t, 1).ID, 100)

		item, err := e.queue.MarkFailed(e.ctx, res.ItemID, businessflow.NewMediaNotReadyError(models.ReadinessRejected), false)
		require.NoError(t, err)
		assert.Equal(t, models.QueueStatusFailed, item.Status)
		assert.Zero(t, item.RetryCount)
		assert.Equal(t, businessflow.CodeMediaNotReady, *item.ErrorCode)
	})
}

func TestPublishQueueFlow_CancelAndRetry(t *testing.T) {
	t.Run("cancel a pending item", func(t *testing.T) {
		e := newFlowEnv(t)
		asset := e.readyAsset(t, 1)
		res := e.enqueue(t, asset.ID, 100)

		item, err := e.queue.Cancel(e.ctx, res.ItemID)
		require.NoError(t, err)
		assert.Equal(t, models.QueueStatusFailed, item.Status)
		require.NotNil(t, item.ErrorCode)
		assert.Equal(t, businessflow.CodeCancelled, *item.ErrorCode)
		assert.Equal(t, models.AssetPublishNone, e.reloadAsset(t, asset.ID).PublishStatus)

		again, err := e.queue.Cancel(e.ctx, res.ItemID)
		require.NoError(t, err)
		assert.Equal(t, models.QueueStatusFailed, again.Status)

		requeued := e.enqueue(t, asset.ID, 100)
		assert.True(t, requeued.Created)
		assert.NotEqual(t, res.ItemID, requeued.ItemID)

		_, err = e.queue.Retry(e.ctx, res.ItemID)
		requireCode(t, err, businessflow.CodeQueueItemNotRetryable)
	})

	t.Run("processing and completed items cannot be cancelled", func(t *testing.T) {
		e := newFlowEnv(t)
		res := e.enqueue(t, e.readyAsset(t, 1).ID, 100)
		claimed, err := e.queue.DequeueNext(e.ctx)
		require.NoError(t, err)
		require.Equal(t, res.ItemID, claimed.ID)

		_, err = e.queue.Cancel(e.ctx, res.ItemID)
		requireCode(t, err, businessflow.CodeQueueItemNotCancel)
		assert.True(t, businessflow.IsQueueItemNotCancellable(err))

		_, err = e.queue.MarkCompleted(e.ctx, res.ItemID, models.PublishResultSnapshot{Outcome: models.PublishOutcomeSuccess})
		require.NoError(t, err)
		_, err = e.queue.Cancel(e.ctx, res.ItemID)
		be := requireCode(t, err, businessflow.CodeQueueItemNotCancel)
		assert.Equal(t, models.QueueStatusCompleted, be.Details["status"])
	})

	t.Run("retry resets a failed item", func(t *testing.T) {
		e := newFlowEnv(t)
		asset := e.readyAsset(t, 1)
		res := e.enqueue(t, asset.ID, 100)
		_, err := e.queue.MarkFailed(e.ctx, res.ItemID, nil, false)
		require.NoError(t, err)

		item, err := e.queue.Retry(e.ctx, res.ItemID)
		require.NoError(t, err)
		assert.Equal(t, models.QueueStatusPending, item.Status)
		assert.Zero(t, item.RetryCount)
		assert.Nil(t, item.ErrorCode)
		assert.Nil(t, item.CompletedAt)
		assert.Equal(t, models.AssetPublishQueued, e.reloadAsset(t, asset.ID).PublishStatus)

		dup := e.enqueue(t, asset.ID, 100)
		assert.False(t, dup.Created)
		assert.Equal(t, res.ItemID, dup.ItemID)

		_, err = e.queue.Retry(e.ctx, res.ItemID)
		requireCode(t, err, businessflow.CodeQueueItemNotRetryable)
	})

	t.Run("unknown item", func(t *testing.T) {
		e := newFlowEnv(t)
		_, err := e.queue.Cancel(e.ctx, 999)
		requireCode(t, err, businessflow.CodeQueueItemNotFound)
		assert.True(t, businessflow.IsQueueItemNotFound(err))
	})
}

func TestPublishQueueFlow_ProcessItem(t *testing.T) {
	t.Run("uploads then publishes", func(t *testing.T) {
		e := newFlowEnv(t)
		asset := e.readyAsset(t, 1)
		e.screenWithPlacement(t, 1, 77, layoutSource)
		e.enqueue(t, asset.ID, 100)

		claimed, err := e.queue.DequeueNext(e.ctx)
		require.NoError(t, err)
		item, err := e.queue.ProcessItem(e.ctx, claimed)
		require.NoError(t, err)
		assert.Equal(t, models.QueueStatusCompleted, item.Status)
		assert.Nil(t, item.ActiveKey)

		result := e.item(t, item.ID).Result.Data()
		assert.Equal(t, models.PublishOutcomeSuccess, result.Outcome)
		assert.Equal(t, int64(5001), result.MediaID)
		assert.Equal(t, 1, result.Succeeded)
		assert.NotEmpty(t, result.CorrelationID)

		stored := e.reloadAsset(t, asset.ID)
		assert.Equal(t, models.AssetPublished, stored.PublishStatus)
		assert.NotNil(t, stored.UploadedAt)

		playlist, _ := e.signage.PlaylistByID(900)
		assert.Equal(t, []int64{5001}, mediaIDs(playlist.Items))
	})

	t.Run("uploaded asset without placements completes as no targets", func(t *testing.T) {
		e := newFlowEnv(t)
		asset := e.uploadedAsset(t, 1)
		e.enqueue(t, asset.ID, 100)

		claimed, err := e.queue.DequeueNext(e.ctx)
		require.NoError(t, err)
		item, err := e.queue.ProcessItem(e.ctx, claimed)
		require.NoError(t, err)
		assert.Equal(t, models.QueueStatusCompleted, item.Status)
		assert.Equal(t, models.PublishOutcomeNoTargets, e.item(t, item.ID).Result.Data().Outcome)
		assert.Zero(t, e.signage.Calls("create_media"))
	})

	t.Run("terminal upload failure is retried", func(t *testing.T) {
		e := newFlowEnv(t)
		e.signage.StatusScript = []string{"initialized"}
		asset := e.readyAsset(t, 1)
		e.enqueue(t, asset.ID, 100)

		claimed, err := e.queue.DequeueNext(e.ctx)
		require.NoError(t, err)
		item, err := e.queue.ProcessItem(e.ctx, claimed)
		requireCode(t, err, businessflow.CodeStuckInitializing)
		require.NotNil(t, item)
		assert.Equal(t, models.QueueStatusRetrying, item.Status)
		assert.Equal(t, 1, item.RetryCount)
		assert.Equal(t, businessflow.CodeStuckInitializing, *item.ErrorCode)
		assert.Nil(t, e.reloadAsset(t, asset.ID).YodeckMediaID)
	})

	t.Run("unverified publish is retried", func(t *testing.T) {
		e := newFlowEnv(t)
		e.signage.IgnorePlaylistWrites = true
		asset := e.uploadedAsset(t, 1)
		e.screenWithPlacement(t, 1, 77, layoutSource)
		e.enqueue(t, asset.ID, 100)

		claimed, err := e.queue.DequeueNext(e.ctx)
		require.NoError(t, err)
		item, err := e.queue.ProcessItem(e.ctx, claimed)
		requireCode(t, err, businessflow.CodeVerificationFailed)
		assert.Equal(t, models.QueueStatusRetrying, item.Status)
	})

	t.Run("asset that lost readiness fails without retry", func(t *testing.T) {
		e := newFlowEnv(t)
		asset := e.uploadedAsset(t, 1)
		e.enqueue(t, asset.ID, 100)
		require.NoError(t, e.db.DB.Model(&models.AdAsset{}).Where("id = ?", asset.ID).
			Updates(map[string]any{"readiness_status": models.ReadinessRejected, "canonical_key": nil}).Error)

		claimed, err := e.queue.DequeueNext(e.ctx)
		require.NoError(t, err)
		item, err := e.queue.ProcessItem(e.ctx, claimed)
		requireCode(t, err, businessflow.CodeMediaNotReady)
		assert.Equal(t, models.QueueStatusFailed, item.Status)
		assert.Zero(t, item.RetryCount)
		assert.Equal(t, models.AssetPublishFailed, e.reloadAsset(t, asset.ID).PublishStatus)
	})
}

func TestPublishQueueFlow_RequeueStaleAndStats(t *testing.T) {
	e := newFlowEnv(t)
	stuck := e.enqueue(t, e.readyAsset(t, 1).ID, 10)
	pending := e.enqueue(t, e.readyAsset(t, 2).ID, 20)

	claimed, err := e.queue.DequeueNext(e.ctx)
	require.NoError(t, err)
	require.Equal(t, stuck.ItemID, claimed.ID)

	requeued, err := e.queue.RequeueStale(e.ctx)
	require.NoError(t, err)
	assert.Zero(t, requeued)

	startedAt := utils.UTCNow().Add(-time.Hour)
	require.NoError(t, e.db.DB.Model(&models.PublishQueueItem{}).Where("id = ?", stuck.ItemID).
		Updates(map[string]any{"started_at": startedAt, "created_at": startedAt.Add(-2 * time.Second)}).Error)

	stats, err := e.queue.Stats(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(1), stats.Processing)
	assert.Equal(t, int64(2000), stats.AvgWaitMs)

	requeued, err = e.queue.RequeueStale(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)
	assert.Equal(t, models.QueueStatusPending, e.item(t, stuck.ItemID).Status)

	stats, err = e.queue.Stats(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Pending)
	assert.Zero(t, stats.Processing)

	status := models.QueueStatusPending
	items, err := e.queue.List(e.ctx, models.PublishQueueFilter{Status: &status}, 10, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, pending.ItemID, items[0].ID)
}
