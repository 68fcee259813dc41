package interfaces

import (
	"github.com/inferloop/dpledger/pkg/models"
)

// Mechanism defines the calibration surface a noise mechanism exposes to
// the accounting layer. Noise application happens downstream of this
// module; the ledger consumes only the declared guarantee.
type Mechanism interface {
	// GetType returns the mechanism type
	GetType() models.MechanismType

	// GetName returns a human-readable name for the mechanism
	GetName() string

	// GetDescription returns a description of the mechanism
	GetDescription() string

	// GetSupportedModels returns the privacy models the mechanism can be
	// analysed under
	GetSupportedModels() []models.PrivacyModel

	// ValidateParameters validates a calibration request
	ValidateParameters(params models.CalibrationParams) error

	// Calibrate derives noise parameters from the budget and sensitivity
	Calibrate(params models.CalibrationParams) (*models.CalibrationResult, error)

	// Guarantee returns the guarantee the mechanism spends under params,
	// suitable for passing straight to a ledger allocation.
	Guarantee(params models.CalibrationParams) (models.PrivacyGuarantee, error)
}

// MechanismFactory creates mechanism instances
type MechanismFactory interface {
	// CreateMechanism creates a new mechanism instance
	CreateMechanism(mechanismType models.MechanismType) (Mechanism, error)

	// GetAvailableMechanisms returns all registered mechanism types
	GetAvailableMechanisms() []models.MechanismType

	// RegisterMechanism registers a new mechanism type
	RegisterMechanism(mechanismType models.MechanismType, createFunc MechanismCreateFunc) error

	// IsSupported checks if a mechanism type is registered
	IsSupported(mechanismType models.MechanismType) bool
}

// MechanismCreateFunc is a function that creates a mechanism instance
type MechanismCreateFunc func() (Mechanism, error)
