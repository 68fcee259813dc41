package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/dpledger/pkg/interfaces"
)

func TestNewHealthMonitor(t *testing.T) {
	hm := NewHealthMonitor(nil, nil)

	require.NotNil(t, hm)
	assert.Equal(t, 30*time.Second, hm.config.CheckInterval)
	assert.Equal(t, StatusUnknown, hm.GetStatus().OverallStatus)
}

func TestRunAllChecksHealthy(t *testing.T) {
	hm := NewHealthMonitor(nil, nil)
	hm.RegisterCheck(passingCheck("redis", false))
	hm.RegisterCheck(passingCheck("postgres", true))

	status := hm.RunAllChecks(context.Background())

	assert.Equal(t, StatusHealthy, status.OverallStatus)
	assert.Equal(t, 2, status.TotalChecks)
	assert.Equal(t, 2, status.HealthyChecks)
	assert.Empty(t, status.CriticalIssues)
}

func TestCriticalFailureMakesUnhealthy(t *testing.T) {
	hm := NewHealthMonitor(nil, nil)
	hm.RegisterCheck(passingCheck("redis", false))
	hm.RegisterCheck(failingCheck("postgres", true))

	status := hm.RunAllChecks(context.Background())

	assert.Equal(t, StatusUnhealthy, status.OverallStatus)
	assert.Equal(t, 1, status.UnhealthyChecks)
	require.Len(t, status.CriticalIssues, 1)
	assert.Equal(t, "postgres", status.CriticalIssues[0])
}

func TestNonCriticalFailureDegrades(t *testing.T) {
	hm := NewHealthMonitor(nil, nil)
	hm.RegisterCheck(passingCheck("redis", true))
	hm.RegisterCheck(failingCheck("influxdb", false))

	status := hm.RunAllChecks(context.Background())

	assert.Equal(t, StatusDegraded, status.OverallStatus)
	assert.Empty(t, status.CriticalIssues)
}

func TestRunCheckByName(t *testing.T) {
	hm := NewHealthMonitor(nil, nil)
	hm.RegisterCheck(passingCheck("redis", false))

	result, err := hm.RunCheck(context.Background(), "redis")
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, result.Status)

	_, err = hm.RunCheck(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestObserverNotified(t *testing.T) {
	hm := NewHealthMonitor(nil, nil)
	hm.RegisterCheck(passingCheck("redis", false))

	updates := make(chan *SystemStatus, 1)
	hm.RegisterObserver(HealthObserverFunc(func(status *SystemStatus) {
		updates <- status
	}))

	hm.RunAllChecks(context.Background())

	select {
	case status := <-updates:
		assert.Equal(t, StatusHealthy, status.OverallStatus)
	case <-time.After(2 * time.Second):
		t.Fatal("observer was not notified")
	}
}

func TestHistoryTrimming(t *testing.T) {
	config := &HealthConfig{
		Enabled:       true,
		CheckInterval: time.Minute,
		Timeout:       time.Second,
		HistorySize:   2,
	}
	hm := NewHealthMonitor(config, nil)
	hm.RegisterCheck(passingCheck("redis", false))

	for i := 0; i < 3; i++ {
		hm.RunAllChecks(context.Background())
	}

	assert.Len(t, hm.GetHistory(), 2)
}

func TestGaugeValue(t *testing.T) {
	assert.Equal(t, 1.0, StatusHealthy.GaugeValue())
	assert.Equal(t, 2.0, StatusDegraded.GaugeValue())
	assert.Equal(t, 0.0, StatusUnhealthy.GaugeValue())
	assert.Equal(t, 0.0, StatusUnknown.GaugeValue())
}

func TestStorageCheckHealthy(t *testing.T) {
	store := &fakeStorage{
		health: &interfaces.HealthStatus{
			Status:      "healthy",
			Latency:     2 * time.Millisecond,
			Connections: 3,
		},
	}
	check := NewStorageCheck("redis", store, true, time.Second)

	result := check.Check(context.Background())

	assert.Equal(t, StatusHealthy, result.Status)
	assert.Equal(t, "3", result.Details["connections"])
	assert.True(t, check.Critical())
	assert.Equal(t, "redis", check.Name())
}

func TestStorageCheckPingFailure(t *testing.T) {
	store := &fakeStorage{pingErr: errors.New("connection refused")}
	check := NewStorageCheck("redis", store, true, time.Second)

	result := check.Check(context.Background())

	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Contains(t, result.Message, "connection refused")
}

func TestStorageCheckDegraded(t *testing.T) {
	store := &fakeStorage{
		health: &interfaces.HealthStatus{
			Status:   "degraded",
			Warnings: []string{"Connection pool contention detected"},
		},
	}
	check := NewStorageCheck("postgres", store, false, time.Second)

	result := check.Check(context.Background())

	assert.Equal(t, StatusDegraded, result.Status)
	assert.Contains(t, result.Message, "contention")
}

func TestStorageCheckHealthProbeError(t *testing.T) {
	store := &fakeStorage{healthErr: errors.New("stats unavailable")}
	check := NewStorageCheck("s3", store, false, time.Second)

	result := check.Check(context.Background())

	assert.Equal(t, StatusDegraded, result.Status)
	assert.Contains(t, result.Message, "stats unavailable")
}

func TestBasicHealthCheckTimeoutFallback(t *testing.T) {
	hm := NewHealthMonitor(nil, nil)

	// Zero timeout falls back to the monitor default
	check := NewBasicHealthCheck("probe", func(ctx context.Context) error {
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.True(t, time.Until(deadline) <= 10*time.Second)
		return nil
	}, false, 0, "deadline probe")

	result := hm.executeCheck(context.Background(), check)
	assert.Equal(t, StatusHealthy, result.Status)
}

func passingCheck(name string, critical bool) *BasicHealthCheck {
	return NewBasicHealthCheck(name, func(ctx context.Context) error {
		return nil
	}, critical, time.Second, name+" probe")
}

func failingCheck(name string, critical bool) *BasicHealthCheck {
	return NewBasicHealthCheck(name, func(ctx context.Context) error {
		return errors.New(name + " unreachable")
	}, critical, time.Second, name+" probe")
}

type fakeStorage struct {
	pingErr   error
	health    *interfaces.HealthStatus
	healthErr error
}

func (f *fakeStorage) Connect(ctx context.Context) error { return nil }
func (f *fakeStorage) Close() error                      { return nil }
func (f *fakeStorage) Ping(ctx context.Context) error    { return f.pingErr }

func (f *fakeStorage) GetInfo(ctx context.Context) (*interfaces.StorageInfo, error) {
	return &interfaces.StorageInfo{Type: "fake"}, nil
}

func (f *fakeStorage) Health(ctx context.Context) (*interfaces.HealthStatus, error) {
	return f.health, f.healthErr
}
