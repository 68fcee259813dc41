// Package helpers provides shared fixtures for the test suites in this
// repository.
package helpers

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/dpledger/internal/ledger"
	"github.com/inferloop/dpledger/pkg/models"
)

// GetTestLogger returns a logger suitable for tests. It stays quiet unless
// tests run with -v.
func GetTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	if testing.Verbose() {
		logger.SetLevel(logrus.DebugLevel)
	}
	logger.SetFormatter(&logrus.TextFormatter{
		DisableColors:    true,
		DisableTimestamp: true,
	})
	return logger
}

// NewTestAccountant returns a bounded accountant, failing the test when the
// budget is invalid.
func NewTestAccountant(t *testing.T, name string, totalEpsilon, totalDelta float64) *ledger.Accountant {
	t.Helper()
	accountant, err := ledger.NewBoundedAccountant(name, totalEpsilon, totalDelta)
	require.NoError(t, err)
	return accountant
}

// MustSpend records a spend on the accountant, failing the test when the
// budget rejects it.
func MustSpend(t *testing.T, accountant *ledger.Accountant, epsilon, delta float64) models.PrivacyEvent {
	t.Helper()
	event, err := accountant.Spend(epsilon, delta)
	require.NoError(t, err)
	return event
}
