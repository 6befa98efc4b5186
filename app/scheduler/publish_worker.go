// Package scheduler runs the background publish worker and health audits.
package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	businessflow "github.com/amirphl/signage-publisher/business_flow"
	"github.com/amirphl/signage-publisher/config"
	"github.com/amirphl/signage-publisher/models"
	"github.com/amirphl/signage-publisher/utils"
	"golang.org/x/sync/errgroup"
)

// QueueProcessor is the slice of the publish queue the worker drives.
type QueueProcessor interface {
	RequeueStale(ctx context.Context) (int, error)
	DequeueNext(ctx context.Context) (*models.PublishQueueItem, error)
	ProcessItem(ctx context.Context, item *models.PublishQueueItem) (*models.PublishQueueItem, error)
	Stats(ctx context.Context) (*businessflow.QueueStats, error)
}

// ScreenAuditor runs periodic playback health audits.
type ScreenAuditor interface {
	AuditScreens(ctx context.Context, repairLimit int) (*businessflow.AuditSummary, error)
}

// CycleResult summarizes one worker cycle.
type CycleResult struct {
	Skipped   bool `json:"skipped"`
	Requeued  int  `json:"requeued"`
	Processed int  `json:"processed"`
	Completed int  `json:"completed"`
	Retrying  int  `json:"retrying"`
	Failed    int  `json:"failed"`
}

// WorkerStatus is a snapshot of the worker's runtime state.
type WorkerStatus struct {
	Running           bool       `json:"running"`
	Paused            bool       `json:"paused"`
	PausedUntil       *time.Time `json:"paused_until,omitempty"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	LastCycleAt       *time.Time `json:"last_cycle_at,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
	LastAuditAt       *time.Time `json:"last_audit_at,omitempty"`
}

// PublishWorker drains the publish queue on a fixed interval. Only the instance that
// holds the worker lock runs a cycle; the rest skip silently. After ErrorThreshold
// consecutive failed cycles it pauses and resumes itself once Cooldown has elapsed.
type PublishWorker struct {
	queue   QueueProcessor
	auditor ScreenAuditor
	locker  Locker
	cfg     config.WorkerConfig
	logger  *log.Logger

	running atomic.Bool

	mu                sync.Mutex
	paused            bool
	pausedUntil       time.Time
	consecutiveErrors int
	lastCycleAt       time.Time
	lastError         string
	lastAuditAt       time.Time
}

// NewPublishWorker creates a worker; auditor may be nil to disable health audits.
func NewPublishWorker(queue QueueProcessor, auditor ScreenAuditor, locker Locker, cfg config.WorkerConfig, logger *log.Logger) *PublishWorker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = utils.DefaultWorkerPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = 5 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if cfg.LockKey == "" {
		cfg.LockKey = utils.DefaultWorkerLockKey
	}
	if cfg.HealthAuditLockKey == "" {
		cfg.HealthAuditLockKey = utils.DefaultHealthAuditLock
	}
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	if cfg.HealthAuditInterval <= 0 {
		cfg.HealthAuditInterval = 15 * time.Minute
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &PublishWorker{queue: queue, auditor: auditor, locker: locker, cfg: cfg, logger: logger}
}

// Start launches the worker loops and returns a stop function that blocks until
// they exit.
func (w *PublishWorker) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)
	var wg sync.WaitGroup

	w.running.Store(true)
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.runLoop(ctx)
	}()

	if w.cfg.HealthAuditEnabled && w.auditor != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.auditLoop(ctx)
		}()
	}

	w.logger.Printf("worker: started interval=%s batch=%d concurrency=%d", w.cfg.PollInterval, w.cfg.BatchSize, w.cfg.Concurrency)
	return func() {
		cancel()
		wg.Wait()
		w.running.Store(false)
		w.logger.Printf("worker: stopped")
	}
}

func (w *PublishWorker) runLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	var resume <-chan time.Time
	tick := func() {
		if w.Paused() {
			workerCyclesTotal.WithLabelValues("paused").Inc()
			return
		}
		_, err := w.RunCycle(ctx)
		if ctx.Err() != nil {
			return
		}
		if w.recordCycle(err) {
			resume = time.After(w.cfg.Cooldown)
		}
	}

	tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-resume:
			resume = nil
			w.resume()
		case <-ticker.C:
			tick()
		}
	}
}

// RunCycle performs one locked pass: requeue stale work, then process up to BatchSize
// due items with bounded concurrency. A held or unreachable lock yields a skipped
// result and no error.
func (w *PublishWorker) RunCycle(ctx context.Context) (*CycleResult, error) {
	release, ok, err := w.locker.TryLock(ctx, w.cfg.LockKey, w.cfg.LockTTL)
	if err != nil {
		w.logger.Printf("worker: lock %s unavailable, skipping cycle: %v", w.cfg.LockKey, err)
		ok = false
	}
	if !ok {
		workerCyclesTotal.WithLabelValues("skipped_lock").Inc()
		return &CycleResult{Skipped: true}, nil
	}
	defer release()

	// The cycle must not outlive the lease.
	cycleCtx, cancel := context.WithTimeout(ctx, w.cfg.LockTTL)
	defer cancel()

	result := &CycleResult{}
	requeued, err := w.queue.RequeueStale(cycleCtx)
	if err != nil {
		workerCyclesTotal.WithLabelValues("error").Inc()
		return result, err
	}
	result.Requeued = requeued
	if requeued > 0 {
		w.logger.Printf("worker: requeued %d stale item(s)", requeued)
	}

	var (
		mu       sync.Mutex
		firstErr error
		g        errgroup.Group
	)
	g.SetLimit(w.cfg.Concurrency)

	var dequeueErr error
	for i := 0; i < w.cfg.BatchSize; i++ {
		item, err := w.queue.DequeueNext(cycleCtx)
		if err != nil {
			dequeueErr = err
			break
		}
		if item == nil {
			break
		}
		g.Go(func() error {
			status, failure := w.processItem(cycleCtx, item)
			mu.Lock()
			defer mu.Unlock()
			result.Processed++
			switch status {
			case models.QueueStatusCompleted:
				result.Completed++
			case models.QueueStatusRetrying:
				result.Retrying++
			default:
				result.Failed++
			}
			if failure != nil && !businessflow.IsPrecondition(failure) && firstErr == nil {
				firstErr = failure
			}
			return nil
		})
	}
	_ = g.Wait()

	w.refreshBacklog(cycleCtx)

	cycleErr := errors.Join(dequeueErr, firstErr)
	if cycleErr != nil {
		workerCyclesTotal.WithLabelValues("error").Inc()
	} else {
		workerCyclesTotal.WithLabelValues("ok").Inc()
	}
	if result.Processed > 0 {
		w.logger.Printf("worker: cycle processed=%d completed=%d retrying=%d failed=%d",
			result.Processed, result.Completed, result.Retrying, result.Failed)
	}
	return result, cycleErr
}

func (w *PublishWorker) processItem(ctx context.Context, item *models.PublishQueueItem) (string, error) {
	itemCtx, cancel := context.WithTimeout(ctx, w.cfg.ItemTimeout)
	defer cancel()

	updated, failure := w.queue.ProcessItem(itemCtx, item)
	status := models.QueueStatusFailed
	if updated != nil {
		status = updated.Status
	}
	workerItemsTotal.WithLabelValues(status).Inc()
	if failure != nil {
		w.logger.Printf("worker: item=%d asset=%d status=%s error=%v", item.ID, item.AssetID, status, failure)
	}
	return status, failure
}

func (w *PublishWorker) refreshBacklog(ctx context.Context) {
	stats, err := w.queue.Stats(ctx)
	if err != nil || stats == nil {
		return
	}
	queueBacklog.WithLabelValues(models.QueueStatusPending).Set(float64(stats.Pending))
	queueBacklog.WithLabelValues(models.QueueStatusProcessing).Set(float64(stats.Processing))
	queueBacklog.WithLabelValues(models.QueueStatusRetrying).Set(float64(stats.Retrying))
	queueBacklog.WithLabelValues(models.QueueStatusFailed).Set(float64(stats.Failed))
	queueBacklog.WithLabelValues(models.QueueStatusCompleted).Set(float64(stats.Completed))
	queueAvgWait.Set(float64(stats.AvgWaitMs))
}

// recordCycle tracks consecutive failures and reports whether this call paused the worker.
func (w *PublishWorker) recordCycle(err error) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastCycleAt = utils.UTCNow()
	if err == nil {
		w.consecutiveErrors = 0
		w.lastError = ""
		return false
	}
	w.consecutiveErrors++
	w.lastError = err.Error()
	if w.paused || w.consecutiveErrors < w.cfg.ErrorThreshold {
		return false
	}
	w.paused = true
	w.pausedUntil = utils.UTCNowAdd(w.cfg.Cooldown)
	workerPaused.Set(1)
	w.logger.Printf("worker: pausing after %d consecutive errors, resuming at %s (last error: %v)",
		w.consecutiveErrors, w.pausedUntil.Format(time.RFC3339), err)
	return true
}

func (w *PublishWorker) resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.paused = false
	w.pausedUntil = time.Time{}
	w.consecutiveErrors = 0
	workerPaused.Set(0)
	w.logger.Printf("worker: cooldown elapsed, resuming")
}

// Paused reports whether the worker is in its cooldown.
func (w *PublishWorker) Paused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

// Status returns a snapshot of the worker state.
func (w *PublishWorker) Status() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := WorkerStatus{
		Running:           w.running.Load(),
		Paused:            w.paused,
		ConsecutiveErrors: w.consecutiveErrors,
		LastError:         w.lastError,
	}
	if w.paused {
		st.PausedUntil = utils.ToPtr(w.pausedUntil)
	}
	if !w.lastCycleAt.IsZero() {
		st.LastCycleAt = utils.ToPtr(w.lastCycleAt)
	}
	if !w.lastAuditAt.IsZero() {
		st.LastAuditAt = utils.ToPtr(w.lastAuditAt)
	}
	return st
}

func (w *PublishWorker) auditLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.HealthAuditInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.Paused() {
				continue
			}
			if _, err := w.RunAudit(ctx); err != nil && ctx.Err() == nil {
				w.logger.Printf("worker: health audit failed: %v", err)
			}
		}
	}
}

// RunAudit performs one locked health audit pass; nil summary means another holder ran it.
func (w *PublishWorker) RunAudit(ctx context.Context) (*businessflow.AuditSummary, error) {
	if w.auditor == nil {
		return nil, nil
	}
	release, ok, err := w.locker.TryLock(ctx, w.cfg.HealthAuditLockKey, w.cfg.HealthAuditInterval)
	if err != nil {
		w.logger.Printf("worker: lock %s unavailable, skipping audit: %v", w.cfg.HealthAuditLockKey, err)
		ok = false
	}
	if !ok {
		healthAuditsTotal.WithLabelValues("skipped_lock").Inc()
		return nil, nil
	}
	defer release()

	summary, err := w.auditor.AuditScreens(ctx, w.cfg.HealthRepairLimit)
	if err != nil {
		healthAuditsTotal.WithLabelValues("error").Inc()
		return summary, err
	}
	healthAuditsTotal.WithLabelValues("ok").Inc()
	w.mu.Lock()
	w.lastAuditAt = utils.UTCNow()
	w.mu.Unlock()
	w.logger.Printf("worker: health audit checked=%d healthy=%d repaired=%d errors=%d",
		summary.Checked, summary.Healthy, summary.Repaired, summary.Errors)
	return summary, nil
}
