package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/inferloop/dpledger/pkg/errors"
	"github.com/inferloop/dpledger/pkg/models"
)

// Audit records are appended to capped streams. Events get one stream per
// scope so range reads stay local to the scope being audited; alerts share
// a single stream. Entry IDs come from the server clock at append time,
// which is also the axis XRange filters on.

// RecordEvent appends one spend event to the scope's audit stream
func (s *RedisStorage) RecordEvent(ctx context.Context, scope string, event *models.PrivacyEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.client == nil {
		return errors.NewStorageError("NOT_CONNECTED", "Redis not connected")
	}

	if scope == "" {
		return errors.NewValidationError(errors.CodeInvalidInput, "scope is required")
	}

	if event == nil {
		return errors.NewValidationError(errors.CodeInvalidInput, "event cannot be nil")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, "SERIALIZATION_FAILED", "Failed to serialize event")
	}

	values := map[string]interface{}{
		"event_id": event.ID,
		"scope":    scope,
		"epsilon":  event.Epsilon,
		"delta":    event.Delta,
		"payload":  string(payload),
	}
	if event.Model != "" {
		values["model"] = string(event.Model)
	}
	if event.Mechanism != "" {
		values["mechanism"] = event.Mechanism
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.generateEventStreamKey(scope),
		MaxLen: s.config.StreamMaxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed,
			fmt.Sprintf("Failed to record event for scope '%s'", scope))
	}

	s.incrementWriteOps()
	return nil
}

// RecordAlert appends one threshold alert to the alert stream
func (s *RedisStorage) RecordAlert(ctx context.Context, alert *models.BudgetAlert) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.client == nil {
		return errors.NewStorageError("NOT_CONNECTED", "Redis not connected")
	}

	if alert == nil {
		return errors.NewValidationError(errors.CodeInvalidInput, "alert cannot be nil")
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, "SERIALIZATION_FAILED", "Failed to serialize alert")
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.generateAlertStreamKey(),
		MaxLen: s.config.StreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"scope":     alert.Scope.String(),
			"threshold": alert.Threshold,
			"ratio":     alert.Ratio,
			"message":   alert.Message,
			"payload":   string(payload),
		},
	}).Err()
	if err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to record alert")
	}

	s.incrementWriteOps()
	return nil
}

// QueryEvents returns the events recorded for a scope within [start, end]
func (s *RedisStorage) QueryEvents(ctx context.Context, scope string, start, end time.Time) ([]*models.PrivacyEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.client == nil {
		return nil, errors.NewStorageError("NOT_CONNECTED", "Redis not connected")
	}

	msgs, err := s.client.XRange(ctx, s.generateEventStreamKey(scope),
		formatStreamTime(start), formatStreamTime(end)).Result()
	if err != nil {
		s.incrementErrorCount()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed,
			fmt.Sprintf("Failed to query events for scope '%s'", scope))
	}

	s.incrementReadOps()

	events := make([]*models.PrivacyEvent, 0, len(msgs))
	for _, msg := range msgs {
		payload, ok := msg.Values["payload"].(string)
		if !ok {
			s.logger.WithField("id", msg.ID).Warn("Skipping stream entry without payload")
			continue
		}

		var event models.PrivacyEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			s.logger.WithError(err).WithField("id", msg.ID).Warn("Skipping undecodable event")
			continue
		}

		events = append(events, &event)
	}

	return events, nil
}

// QueryAlerts returns the alerts recorded within [start, end]
func (s *RedisStorage) QueryAlerts(ctx context.Context, start, end time.Time) ([]*models.BudgetAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.client == nil {
		return nil, errors.NewStorageError("NOT_CONNECTED", "Redis not connected")
	}

	msgs, err := s.client.XRange(ctx, s.generateAlertStreamKey(),
		formatStreamTime(start), formatStreamTime(end)).Result()
	if err != nil {
		s.incrementErrorCount()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to query alerts")
	}

	s.incrementReadOps()

	alerts := make([]*models.BudgetAlert, 0, len(msgs))
	for _, msg := range msgs {
		payload, ok := msg.Values["payload"].(string)
		if !ok {
			s.logger.WithField("id", msg.ID).Warn("Skipping stream entry without payload")
			continue
		}

		var alert models.BudgetAlert
		if err := json.Unmarshal([]byte(payload), &alert); err != nil {
			s.logger.WithError(err).WithField("id", msg.ID).Warn("Skipping undecodable alert")
			continue
		}

		alerts = append(alerts, &alert)
	}

	return alerts, nil
}

// Stream key helpers

func (s *RedisStorage) generateEventStreamKey(scope string) string {
	if s.config.KeyPrefix != "" {
		return fmt.Sprintf("%s:events:%s", s.config.KeyPrefix, scope)
	}
	return fmt.Sprintf("events:%s", scope)
}

func (s *RedisStorage) generateAlertStreamKey() string {
	if s.config.KeyPrefix != "" {
		return fmt.Sprintf("%s:alerts", s.config.KeyPrefix)
	}
	return "alerts"
}

// formatStreamTime renders a stream ID bound from a wall-clock time.
// Bare millisecond IDs let the server pick sequence 0 for the start bound
// and the maximum sequence for the end bound, so both bounds stay
// inclusive.
func formatStreamTime(t time.Time) string {
	return fmt.Sprintf("%d", t.UnixMilli())
}
