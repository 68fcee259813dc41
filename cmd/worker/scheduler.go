package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/dpledger/internal/observability/metrics"
	"github.com/inferloop/dpledger/pkg/constants"
	"github.com/inferloop/dpledger/pkg/models"
)

type JobType string

const (
	// JobTypeSnapshot asks the server to persist every tracked scope.
	JobTypeSnapshot JobType = "snapshot"
	// JobTypeRetention prunes audit events older than the retention window.
	JobTypeRetention JobType = "retention"
	// JobTypeUsageCompaction deletes usage history older than the
	// retention window, scope by scope.
	JobTypeUsageCompaction JobType = "usage_compaction"
	// JobTypeProbe checks the server's health endpoint.
	JobTypeProbe JobType = "probe"
)

type Job struct {
	ID        string
	Type      JobType
	CreatedAt time.Time
}

func NewJob(jobType JobType) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        fmt.Sprintf("%s-%d", jobType, now.UnixNano()),
		Type:      jobType,
		CreatedAt: now,
	}
}

// Scheduler produces the worker's periodic maintenance jobs and owns
// the HTTP connection to the ledger server. Retention jobs are only
// produced for backends the worker was configured with.
type Scheduler struct {
	config   *WorkerConfig
	logger   *logrus.Logger
	metrics  *metrics.PrometheusMetrics
	jobQueue chan *Job
	client   *http.Client
	mu       sync.RWMutex
	running  bool
}

func NewScheduler(config *WorkerConfig, logger *logrus.Logger, prometheus *metrics.PrometheusMetrics) *Scheduler {
	return &Scheduler{
		config:   config,
		logger:   logger,
		metrics:  prometheus,
		jobQueue: make(chan *Job, config.Concurrency*2),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"snapshotInterval":  s.config.SnapshotInterval,
		"retentionInterval": s.config.RetentionInterval,
		"probeInterval":     s.config.ProbeInterval,
	}).Info("Scheduler started")

	snapshotTicker := time.NewTicker(s.config.SnapshotInterval)
	defer snapshotTicker.Stop()
	retentionTicker := time.NewTicker(s.config.RetentionInterval)
	defer retentionTicker.Stop()
	probeTicker := time.NewTicker(s.config.ProbeInterval)
	defer probeTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopping due to context cancellation")
			return
		case <-snapshotTicker.C:
			s.Enqueue(NewJob(JobTypeSnapshot))
		case <-retentionTicker.C:
			if s.config.AuditBackend != "" {
				s.Enqueue(NewJob(JobTypeRetention))
			}
			if s.config.UsageBackend != "" {
				s.Enqueue(NewJob(JobTypeUsageCompaction))
			}
		case <-probeTicker.C:
			s.Enqueue(NewJob(JobTypeProbe))
		}

		s.mu.RLock()
		running := s.running
		s.mu.RUnlock()

		if !running {
			s.logger.Info("Scheduler stopped")
			return
		}
	}
}

// Enqueue offers a job to the queue without blocking. It reports false
// when the scheduler is stopped or the queue is full; a full queue
// means the previous run of this job type is still pending, so
// dropping the tick loses nothing.
func (s *Scheduler) Enqueue(job *Job) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.running {
		return false
	}

	select {
	case s.jobQueue <- job:
		s.logger.WithFields(logrus.Fields{
			"jobID": job.ID,
			"type":  job.Type,
		}).Debug("Job queued")
		if s.metrics != nil {
			s.metrics.SetWorkerQueueDepth(len(s.jobQueue))
		}
		return true
	default:
		s.logger.WithField("type", job.Type).Warn("Job queue is full, dropping tick")
		return false
	}
}

// Stop closes the queue. Enqueue holds the read lock while sending, so
// taking the write lock here guarantees no send races the close.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	close(s.jobQueue)
	s.logger.Info("Scheduler stop requested")
}

func (s *Scheduler) GetJobQueue() <-chan *Job {
	return s.jobQueue
}

func (s *Scheduler) QueueDepth() int {
	return len(s.jobQueue)
}

// TriggerSnapshots asks the server to snapshot every tracked scope and
// returns how many snapshots it saved.
func (s *Scheduler) TriggerSnapshots(ctx context.Context) (int, error) {
	url := s.config.ServerURL + constants.APIPrefix + "/snapshots"

	req, err := http.NewRequestWithContext(ctx, "POST", url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return 0, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var result struct {
		Saved []string `json:"saved"`
		Count int      `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, err
	}

	return result.Count, nil
}

// ListScopes fetches the tracked scopes in their "kind:identifier"
// form, the same form the usage sink tags points with.
func (s *Scheduler) ListScopes(ctx context.Context) ([]string, error) {
	url := s.config.ServerURL + constants.APIPrefix + "/scopes"

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var result struct {
		Scopes []struct {
			Scope models.TrackedScope `json:"scope"`
		} `json:"scopes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	scopes := make([]string, 0, len(result.Scopes))
	for _, entry := range result.Scopes {
		scopes = append(scopes, entry.Scope.String())
	}
	return scopes, nil
}

// ProbeHealth reports the server's health status. An unhealthy server
// answers 503 with the same body, so both codes parse.
func (s *Scheduler) ProbeHealth(ctx context.Context) (string, error) {
	url := s.config.ServerURL + "/health"

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var result struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Status, nil
}
