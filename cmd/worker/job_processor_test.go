package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		WorkerID:      "test-worker",
		Concurrency:   2,
		RetentionDays: 30,
		JobTimeout:    time.Minute,
		MaxRetries:    1,
		RetryDelay:    time.Millisecond,
	}
}

// stubScheduler satisfies jobSource without a running server. The
// first snapshotFailures calls to TriggerSnapshots fail, which lets
// retry tests model transient server errors.
type stubScheduler struct {
	queue            chan *Job
	snapshots        int
	snapshotErr      error
	snapshotFailures int32
	snapshotCalls    int32
	scopes           []string
	scopesErr        error
	health           string
	healthErr        error
}

func newStubScheduler(queueSize int) *stubScheduler {
	return &stubScheduler{
		queue:  make(chan *Job, queueSize),
		health: "healthy",
	}
}

func (s *stubScheduler) GetJobQueue() <-chan *Job {
	return s.queue
}

func (s *stubScheduler) TriggerSnapshots(ctx context.Context) (int, error) {
	calls := atomic.AddInt32(&s.snapshotCalls, 1)
	if s.snapshotErr != nil {
		return 0, s.snapshotErr
	}
	if calls <= atomic.LoadInt32(&s.snapshotFailures) {
		return 0, fmt.Errorf("transient failure on attempt %d", calls)
	}
	return s.snapshots, nil
}

func (s *stubScheduler) ListScopes(ctx context.Context) ([]string, error) {
	return s.scopes, s.scopesErr
}

func (s *stubScheduler) ProbeHealth(ctx context.Context) (string, error) {
	return s.health, s.healthErr
}

func (s *stubScheduler) SnapshotCalls() int32 {
	return atomic.LoadInt32(&s.snapshotCalls)
}

type stubEventPruner struct {
	pruned int64
	err    error
	cutoff time.Time
}

func (p *stubEventPruner) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	p.cutoff = cutoff
	return p.pruned, p.err
}

type stubUsagePruner struct {
	mu      sync.Mutex
	deleted []string
	start   time.Time
	end     time.Time
	failOn  string
}

func (p *stubUsagePruner) DeleteUsage(ctx context.Context, scope string, start, end time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failOn != "" && scope == p.failOn {
		return fmt.Errorf("delete failed for %s", scope)
	}
	p.deleted = append(p.deleted, scope)
	p.start = start
	p.end = end
	return nil
}

func TestNewJobProcessor(t *testing.T) {
	config := testWorkerConfig()
	logger := logrus.New()

	jp := NewJobProcessor(config, logger, nil)

	require.NotNil(t, jp)
	assert.Equal(t, config, jp.config)
	assert.Equal(t, logger, jp.logger)
	assert.Equal(t, int32(0), jp.ActiveJobs())
	assert.Equal(t, int64(0), jp.CompletedJobs())
	assert.Equal(t, int64(0), jp.FailedJobs())
}

func TestJobProcessorSetScheduler(t *testing.T) {
	jp := NewJobProcessor(testWorkerConfig(), logrus.New(), nil)
	scheduler := newStubScheduler(1)

	jp.SetScheduler(scheduler)
	assert.Equal(t, jobSource(scheduler), jp.scheduler)
}

func TestProcessSnapshotJob(t *testing.T) {
	jp := NewJobProcessor(testWorkerConfig(), logrus.New(), nil)
	scheduler := newStubScheduler(1)
	scheduler.snapshots = 3
	jp.SetScheduler(scheduler)

	result, err := jp.executeJob(context.Background(), NewJob(JobTypeSnapshot))
	require.NoError(t, err)
	assert.Equal(t, 3, result["snapshots_saved"])

	scheduler.snapshotErr = fmt.Errorf("server unreachable")
	_, err = jp.executeJob(context.Background(), NewJob(JobTypeSnapshot))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snapshot request failed")
}

func TestProcessRetentionJob(t *testing.T) {
	t.Run("prunes before the retention cutoff", func(t *testing.T) {
		jp := NewJobProcessor(testWorkerConfig(), logrus.New(), nil)
		pruner := &stubEventPruner{pruned: 42}
		jp.SetEventPruner(pruner)

		result, err := jp.executeJob(context.Background(), NewJob(JobTypeRetention))
		require.NoError(t, err)
		assert.Equal(t, int64(42), result["events_pruned"])

		wantCutoff := time.Now().UTC().AddDate(0, 0, -30)
		assert.WithinDuration(t, wantCutoff, pruner.cutoff, time.Minute)
	})

	t.Run("fails without an audit sink", func(t *testing.T) {
		jp := NewJobProcessor(testWorkerConfig(), logrus.New(), nil)

		_, err := jp.executeJob(context.Background(), NewJob(JobTypeRetention))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no audit sink configured")
	})

	t.Run("propagates prune errors", func(t *testing.T) {
		jp := NewJobProcessor(testWorkerConfig(), logrus.New(), nil)
		jp.SetEventPruner(&stubEventPruner{err: fmt.Errorf("connection lost")})

		_, err := jp.executeJob(context.Background(), NewJob(JobTypeRetention))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "prune failed")
	})
}

func TestProcessUsageCompactionJob(t *testing.T) {
	t.Run("compacts every tracked scope", func(t *testing.T) {
		jp := NewJobProcessor(testWorkerConfig(), logrus.New(), nil)
		scheduler := newStubScheduler(1)
		scheduler.scopes = []string{"pipeline:ingest", "user:alice"}
		jp.SetScheduler(scheduler)

		pruner := &stubUsagePruner{}
		jp.SetUsagePruner(pruner)

		result, err := jp.executeJob(context.Background(), NewJob(JobTypeUsageCompaction))
		require.NoError(t, err)
		assert.Equal(t, 2, result["scopes_compacted"])
		assert.ElementsMatch(t, []string{"pipeline:ingest", "user:alice"}, pruner.deleted)
		assert.Equal(t, time.Unix(0, 0).UTC(), pruner.start)
		assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, -30), pruner.end, time.Minute)
	})

	t.Run("reports partial failures", func(t *testing.T) {
		jp := NewJobProcessor(testWorkerConfig(), logrus.New(), nil)
		scheduler := newStubScheduler(1)
		scheduler.scopes = []string{"pipeline:ingest", "user:alice"}
		jp.SetScheduler(scheduler)

		jp.SetUsagePruner(&stubUsagePruner{failOn: "user:alice"})

		_, err := jp.executeJob(context.Background(), NewJob(JobTypeUsageCompaction))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "compaction failed for 1 of 2 scopes")
	})

	t.Run("fails without a usage sink", func(t *testing.T) {
		jp := NewJobProcessor(testWorkerConfig(), logrus.New(), nil)
		jp.SetScheduler(newStubScheduler(1))

		_, err := jp.executeJob(context.Background(), NewJob(JobTypeUsageCompaction))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no usage sink configured")
	})

	t.Run("propagates scope listing errors", func(t *testing.T) {
		jp := NewJobProcessor(testWorkerConfig(), logrus.New(), nil)
		scheduler := newStubScheduler(1)
		scheduler.scopesErr = fmt.Errorf("server unreachable")
		jp.SetScheduler(scheduler)
		jp.SetUsagePruner(&stubUsagePruner{})

		_, err := jp.executeJob(context.Background(), NewJob(JobTypeUsageCompaction))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "scope listing failed")
	})
}

func TestProcessProbeJob(t *testing.T) {
	t.Run("healthy server", func(t *testing.T) {
		jp := NewJobProcessor(testWorkerConfig(), logrus.New(), nil)
		jp.SetScheduler(newStubScheduler(1))

		result, err := jp.executeJob(context.Background(), NewJob(JobTypeProbe))
		require.NoError(t, err)
		assert.Equal(t, "healthy", result["status"])
	})

	t.Run("degraded server is still a successful probe", func(t *testing.T) {
		jp := NewJobProcessor(testWorkerConfig(), logrus.New(), nil)
		scheduler := newStubScheduler(1)
		scheduler.health = "degraded"
		jp.SetScheduler(scheduler)

		result, err := jp.executeJob(context.Background(), NewJob(JobTypeProbe))
		require.NoError(t, err)
		assert.Equal(t, "degraded", result["status"])
	})

	t.Run("unreachable server fails the probe", func(t *testing.T) {
		jp := NewJobProcessor(testWorkerConfig(), logrus.New(), nil)
		scheduler := newStubScheduler(1)
		scheduler.healthErr = fmt.Errorf("connection refused")
		jp.SetScheduler(scheduler)

		_, err := jp.executeJob(context.Background(), NewJob(JobTypeProbe))
		require.Error(t, err)
	})
}

func TestProcessJobUnknownType(t *testing.T) {
	jp := NewJobProcessor(testWorkerConfig(), logrus.New(), nil)
	jp.SetScheduler(newStubScheduler(1))

	jp.processJob(context.Background(), &Job{ID: "bogus-1", Type: "defrag"}, 0)

	assert.Equal(t, int64(1), jp.FailedJobs())
	assert.Equal(t, int64(0), jp.CompletedJobs())
}

func TestProcessJobRetries(t *testing.T) {
	t.Run("recovers from transient failures", func(t *testing.T) {
		config := testWorkerConfig()
		config.MaxRetries = 3
		jp := NewJobProcessor(config, logrus.New(), nil)

		scheduler := newStubScheduler(1)
		scheduler.snapshots = 4
		scheduler.snapshotFailures = 2
		jp.SetScheduler(scheduler)

		jp.processJob(context.Background(), NewJob(JobTypeSnapshot), 0)

		assert.Equal(t, int64(1), jp.CompletedJobs())
		assert.Equal(t, int64(0), jp.FailedJobs())
		assert.Equal(t, int32(3), scheduler.SnapshotCalls())
	})

	t.Run("gives up after the attempt budget", func(t *testing.T) {
		config := testWorkerConfig()
		config.MaxRetries = 3
		jp := NewJobProcessor(config, logrus.New(), nil)

		scheduler := newStubScheduler(1)
		scheduler.snapshotFailures = 10
		jp.SetScheduler(scheduler)

		jp.processJob(context.Background(), NewJob(JobTypeSnapshot), 0)

		assert.Equal(t, int64(0), jp.CompletedJobs())
		assert.Equal(t, int64(1), jp.FailedJobs())
		assert.Equal(t, int32(3), scheduler.SnapshotCalls())
	})
}

func TestJobProcessorConcurrentWorkers(t *testing.T) {
	config := testWorkerConfig()
	config.Concurrency = 3
	jp := NewJobProcessor(config, logrus.New(), nil)

	scheduler := newStubScheduler(10)
	scheduler.snapshots = 2
	jp.SetScheduler(scheduler)

	for i := 0; i < 5; i++ {
		scheduler.queue <- NewJob(JobTypeSnapshot)
	}
	close(scheduler.queue)

	done := make(chan struct{})
	go func() {
		jp.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("processor did not drain the queue")
	}

	assert.Equal(t, int64(5), jp.CompletedJobs())
	assert.Equal(t, int32(0), jp.ActiveJobs())
}

func TestHealthGaugeValue(t *testing.T) {
	assert.Equal(t, float64(1), healthGaugeValue("healthy"))
	assert.Equal(t, float64(2), healthGaugeValue("degraded"))
	assert.Equal(t, float64(0), healthGaugeValue("unhealthy"))
	assert.Equal(t, float64(0), healthGaugeValue(""))
}
