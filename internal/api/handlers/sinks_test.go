package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/inferloop/dpledger/pkg/interfaces"
	"github.com/inferloop/dpledger/pkg/models"
)

// memorySink backs the audit and usage interfaces with in-process
// slices so handler tests can assert on recorded side effects.
type memorySink struct {
	mu     sync.Mutex
	events map[string][]*models.PrivacyEvent
	alerts []*models.BudgetAlert
	usage  []*models.UsagePoint
}

var (
	_ interfaces.AuditSink = (*memorySink)(nil)
	_ interfaces.UsageSink = (*memorySink)(nil)
)

func newMemorySink() *memorySink {
	return &memorySink{events: make(map[string][]*models.PrivacyEvent)}
}

func (s *memorySink) Connect(ctx context.Context) error { return nil }
func (s *memorySink) Close() error                      { return nil }
func (s *memorySink) Ping(ctx context.Context) error    { return nil }

func (s *memorySink) GetInfo(ctx context.Context) (*interfaces.StorageInfo, error) {
	return &interfaces.StorageInfo{Type: "memory", Name: "memory"}, nil
}

func (s *memorySink) Health(ctx context.Context) (*interfaces.HealthStatus, error) {
	return &interfaces.HealthStatus{Status: "healthy", LastCheck: time.Now()}, nil
}

func (s *memorySink) RecordEvent(ctx context.Context, scope string, event *models.PrivacyEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[scope] = append(s.events[scope], event)
	return nil
}

func (s *memorySink) RecordAlert(ctx context.Context, alert *models.BudgetAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return nil
}

func (s *memorySink) QueryEvents(ctx context.Context, scope string, start, end time.Time) ([]*models.PrivacyEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.PrivacyEvent, 0)
	for _, event := range s.events[scope] {
		if inRange(event.Timestamp, start, end) {
			out = append(out, event)
		}
	}
	return out, nil
}

func (s *memorySink) QueryAlerts(ctx context.Context, start, end time.Time) ([]*models.BudgetAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.BudgetAlert, 0)
	for _, alert := range s.alerts {
		if inRange(alert.Timestamp, start, end) {
			out = append(out, alert)
		}
	}
	return out, nil
}

func (s *memorySink) WriteUsage(ctx context.Context, point *models.UsagePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, point)
	return nil
}

func (s *memorySink) WriteUsageBatch(ctx context.Context, points []*models.UsagePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, points...)
	return nil
}

func (s *memorySink) QueryUsage(ctx context.Context, scope string, start, end time.Time) ([]*models.UsagePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.UsagePoint, 0)
	for _, point := range s.usage {
		if scope != "" && point.Scope != scope {
			continue
		}
		if inRange(point.Timestamp, start, end) {
			out = append(out, point)
		}
	}
	return out, nil
}

func inRange(ts time.Time, start, end time.Time) bool {
	if !start.IsZero() && ts.Before(start) {
		return false
	}
	return !ts.After(end)
}
