// Package mechanisms implements the calibration side of the supported
// noise mechanisms: deriving noise parameters from a privacy budget and
// declaring the guarantee each release spends against a ledger. Sampling
// and noise application live with the data plane that consumes these
// calibrations.
package mechanisms

import (
	"fmt"
	"math"

	"github.com/inferloop/dpledger/pkg/errors"
	"github.com/inferloop/dpledger/pkg/models"
)

// base carries the identity shared by every mechanism implementation.
type base struct {
	mechanismType models.MechanismType
	name          string
	description   string
}

func (b base) GetType() models.MechanismType {
	return b.mechanismType
}

func (b base) GetName() string {
	return b.name
}

func (b base) GetDescription() string {
	return b.description
}

func (b base) GetSupportedModels() []models.PrivacyModel {
	return models.SupportedModels(b.mechanismType)
}

func requirePositiveEpsilon(epsilon float64) error {
	if math.IsNaN(epsilon) || math.IsInf(epsilon, 0) || epsilon <= 0 {
		return errors.NewValidationError(errors.CodeInvalidEpsilon,
			fmt.Sprintf("epsilon must be positive and finite, got %v", epsilon))
	}
	return nil
}

func requireUnitDelta(delta float64) error {
	if math.IsNaN(delta) || delta <= 0 || delta >= 1 {
		return errors.NewValidationError(errors.CodeInvalidDelta,
			fmt.Sprintf("delta must be in (0, 1), got %v", delta))
	}
	return nil
}

// sensitivityOrDefault validates the sensitivity and substitutes the
// conventional unit sensitivity when none was supplied.
func sensitivityOrDefault(sensitivity float64) (float64, error) {
	if sensitivity == 0 {
		return 1.0, nil
	}
	if math.IsNaN(sensitivity) || math.IsInf(sensitivity, 0) || sensitivity < 0 {
		return 0, errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("sensitivity must be positive and finite, got %v", sensitivity))
	}
	return sensitivity, nil
}

func requireDomainSize(domainSize int) error {
	if domainSize < 2 {
		return errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("domain must contain at least two categories, got %d", domainSize))
	}
	return nil
}

func requireHashRange(hashRange int) error {
	if hashRange < 2 {
		return errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("hash range must be greater than 1, got %d", hashRange))
	}
	return nil
}
