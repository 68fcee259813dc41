package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/dpledger/internal/observability/metrics"
)

// jobSource is the scheduler surface the processor needs, split out so
// tests can drive the pool with a stub.
type jobSource interface {
	GetJobQueue() <-chan *Job
	TriggerSnapshots(ctx context.Context) (int, error)
	ListScopes(ctx context.Context) ([]string, error)
	ProbeHealth(ctx context.Context) (string, error)
}

// eventPruner deletes audit events recorded before a cutoff. The
// postgres backend implements it.
type eventPruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// usagePruner deletes a scope's usage points within a time range. The
// influxdb backend implements it.
type usagePruner interface {
	DeleteUsage(ctx context.Context, scope string, start, end time.Time) error
}

type JobProcessor struct {
	config        *WorkerConfig
	logger        *logrus.Logger
	metrics       *metrics.PrometheusMetrics
	scheduler     jobSource
	events        eventPruner
	usage         usagePruner
	activeJobs    int32
	completedJobs int64
	failedJobs    int64
	wg            sync.WaitGroup
}

func NewJobProcessor(config *WorkerConfig, logger *logrus.Logger, prometheus *metrics.PrometheusMetrics) *JobProcessor {
	return &JobProcessor{
		config:  config,
		logger:  logger,
		metrics: prometheus,
	}
}

func (jp *JobProcessor) SetScheduler(scheduler jobSource) {
	jp.scheduler = scheduler
}

func (jp *JobProcessor) SetEventPruner(events eventPruner) {
	jp.events = events
}

func (jp *JobProcessor) SetUsagePruner(usage usagePruner) {
	jp.usage = usage
}

func (jp *JobProcessor) Start(ctx context.Context) {
	jp.logger.Info("Job processor started")

	for i := 0; i < jp.config.Concurrency; i++ {
		jp.wg.Add(1)
		go jp.worker(ctx, i)
	}

	jp.wg.Wait()
	jp.logger.Info("All workers stopped")
}

func (jp *JobProcessor) worker(ctx context.Context, workerID int) {
	defer jp.wg.Done()

	jp.logger.WithField("workerID", workerID).Info("Worker started")

	for {
		select {
		case <-ctx.Done():
			jp.logger.WithField("workerID", workerID).Info("Worker stopping")
			return
		case job, ok := <-jp.scheduler.GetJobQueue():
			if !ok {
				jp.logger.WithField("workerID", workerID).Info("Job queue closed, worker stopping")
				return
			}

			jp.processJob(ctx, job, workerID)
		}
	}
}

// processJob runs one job with a per-attempt timeout, retrying up to
// MaxRetries attempts before counting the job as failed.
func (jp *JobProcessor) processJob(ctx context.Context, job *Job, workerID int) {
	atomic.AddInt32(&jp.activeJobs, 1)
	defer atomic.AddInt32(&jp.activeJobs, -1)

	startTime := time.Now()
	logger := jp.logger.WithFields(logrus.Fields{
		"jobID":    job.ID,
		"jobType":  job.Type,
		"workerID": workerID,
	})

	logger.Info("Processing job")

	maxAttempts := jp.config.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var result map[string]interface{}
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err = jp.executeJob(ctx, job)
		if err == nil {
			break
		}

		logger.WithError(err).WithField("attempt", attempt).Warn("Job attempt failed")

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
			attempt = maxAttempts
		case <-time.After(jp.config.RetryDelay):
		}
	}

	duration := time.Since(startTime)

	if err != nil {
		atomic.AddInt64(&jp.failedJobs, 1)
		logger.WithError(err).WithField("duration", duration).Error("Job failed")
		if jp.metrics != nil {
			jp.metrics.RecordWorkerJob(string(job.Type), "failure", duration)
		}
		return
	}

	atomic.AddInt64(&jp.completedJobs, 1)
	logger.WithFields(logrus.Fields{
		"duration": duration,
		"result":   result,
	}).Info("Job completed successfully")
	if jp.metrics != nil {
		jp.metrics.RecordWorkerJob(string(job.Type), "success", duration)
	}
}

func (jp *JobProcessor) executeJob(ctx context.Context, job *Job) (map[string]interface{}, error) {
	jobCtx, cancel := context.WithTimeout(ctx, jp.config.JobTimeout)
	defer cancel()

	switch job.Type {
	case JobTypeSnapshot:
		return jp.processSnapshotJob(jobCtx, job)
	case JobTypeRetention:
		return jp.processRetentionJob(jobCtx, job)
	case JobTypeUsageCompaction:
		return jp.processUsageCompactionJob(jobCtx, job)
	case JobTypeProbe:
		return jp.processProbeJob(jobCtx, job)
	default:
		return nil, fmt.Errorf("unknown job type: %s", job.Type)
	}
}

// processSnapshotJob asks the server to persist every tracked scope so
// ledger state survives a restart.
func (jp *JobProcessor) processSnapshotJob(ctx context.Context, job *Job) (map[string]interface{}, error) {
	count, err := jp.scheduler.TriggerSnapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot request failed: %w", err)
	}

	return map[string]interface{}{
		"snapshots_saved": count,
	}, nil
}

// processRetentionJob deletes audit events older than the retention
// window. Budget state is unaffected: spends stay summed into every
// scope's ledger regardless of how much raw history is kept.
func (jp *JobProcessor) processRetentionJob(ctx context.Context, job *Job) (map[string]interface{}, error) {
	if jp.events == nil {
		return nil, fmt.Errorf("no audit sink configured for retention")
	}

	cutoff := jp.retentionCutoff()
	pruned, err := jp.events.PruneBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("prune failed: %w", err)
	}

	return map[string]interface{}{
		"events_pruned": pruned,
		"cutoff":        cutoff.Format(time.RFC3339),
	}, nil
}

// processUsageCompactionJob deletes usage history older than the
// retention window for every scope the server currently tracks.
func (jp *JobProcessor) processUsageCompactionJob(ctx context.Context, job *Job) (map[string]interface{}, error) {
	if jp.usage == nil {
		return nil, fmt.Errorf("no usage sink configured for compaction")
	}

	scopes, err := jp.scheduler.ListScopes(ctx)
	if err != nil {
		return nil, fmt.Errorf("scope listing failed: %w", err)
	}

	cutoff := jp.retentionCutoff()
	start := time.Unix(0, 0).UTC()

	compacted := 0
	var failed []string
	for _, scope := range scopes {
		if err := jp.usage.DeleteUsage(ctx, scope, start, cutoff); err != nil {
			jp.logger.WithError(err).WithField("scope", scope).Warn("Failed to compact usage history")
			failed = append(failed, scope)
			continue
		}
		compacted++
	}

	if len(failed) > 0 {
		return nil, fmt.Errorf("compaction failed for %d of %d scopes", len(failed), len(scopes))
	}

	return map[string]interface{}{
		"scopes_compacted": compacted,
		"cutoff":           cutoff.Format(time.RFC3339),
	}, nil
}

// processProbeJob reports the server's health. A degraded or unhealthy
// answer is still a successful probe; the finding goes to the log and
// the health gauge.
func (jp *JobProcessor) processProbeJob(ctx context.Context, job *Job) (map[string]interface{}, error) {
	status, err := jp.scheduler.ProbeHealth(ctx)
	if err != nil {
		return nil, fmt.Errorf("health probe failed: %w", err)
	}

	if jp.metrics != nil {
		jp.metrics.SetHealthStatus("server", healthGaugeValue(status))
	}

	if status != "healthy" {
		jp.logger.WithField("status", status).Warn("Server reported non-healthy status")
	}

	return map[string]interface{}{
		"status": status,
	}, nil
}

func (jp *JobProcessor) retentionCutoff() time.Time {
	return time.Now().UTC().AddDate(0, 0, -jp.config.RetentionDays)
}

func healthGaugeValue(status string) float64 {
	switch status {
	case "healthy":
		return 1
	case "degraded":
		return 2
	default:
		return 0
	}
}

func (jp *JobProcessor) ActiveJobs() int32 {
	return atomic.LoadInt32(&jp.activeJobs)
}

func (jp *JobProcessor) CompletedJobs() int64 {
	return atomic.LoadInt64(&jp.completedJobs)
}

func (jp *JobProcessor) FailedJobs() int64 {
	return atomic.LoadInt64(&jp.failedJobs)
}
