package mechanisms

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/dpledger/pkg/errors"
	"github.com/inferloop/dpledger/pkg/interfaces"
	"github.com/inferloop/dpledger/pkg/models"
)

// Factory implements the MechanismFactory interface
type Factory struct {
	creators map[models.MechanismType]interfaces.MechanismCreateFunc
	mu       sync.RWMutex
	logger   *logrus.Logger
}

// NewMechanismFactory creates a factory preloaded with every built-in
// mechanism and a default logger
func NewMechanismFactory() *Factory {
	return NewFactory(nil)
}

// NewFactory creates a factory preloaded with every built-in mechanism
func NewFactory(logger *logrus.Logger) *Factory {
	if logger == nil {
		logger = logrus.New()
	}

	factory := &Factory{
		creators: make(map[models.MechanismType]interfaces.MechanismCreateFunc),
		logger:   logger,
	}

	factory.registerDefaults()

	return factory
}

// CreateMechanism creates a new mechanism instance
func (f *Factory) CreateMechanism(mechanismType models.MechanismType) (interfaces.Mechanism, error) {
	f.mu.RLock()
	createFunc, exists := f.creators[mechanismType]
	f.mu.RUnlock()

	if !exists {
		return nil, errors.NewValidationError(errors.CodeInvalidMechanism,
			fmt.Sprintf("mechanism type '%s' is not supported", mechanismType))
	}

	mechanism, err := createFunc()
	if err != nil {
		return nil, err
	}
	if mechanism == nil {
		return nil, errors.NewInternalError(fmt.Sprintf("creator for %s returned no mechanism", mechanismType))
	}

	return mechanism, nil
}

// GetAvailableMechanisms returns all registered mechanism types in
// stable order
func (f *Factory) GetAvailableMechanisms() []models.MechanismType {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]models.MechanismType, 0, len(f.creators))
	for mechanismType := range f.creators {
		types = append(types, mechanismType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	return types
}

// RegisterMechanism registers a new mechanism type. Re-registering an
// existing type replaces its creator.
func (f *Factory) RegisterMechanism(mechanismType models.MechanismType, createFunc interfaces.MechanismCreateFunc) error {
	if mechanismType == "" {
		return errors.NewValidationError(errors.CodeInvalidInput, "mechanism type cannot be empty")
	}
	if createFunc == nil {
		return errors.NewValidationError(errors.CodeInvalidInput, "mechanism create function cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.creators[mechanismType] = createFunc

	f.logger.WithFields(logrus.Fields{
		"mechanism_type": mechanismType,
	}).Debug("Registered mechanism type")

	return nil
}

// IsSupported checks if a mechanism type is registered
func (f *Factory) IsSupported(mechanismType models.MechanismType) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	_, exists := f.creators[mechanismType]
	return exists
}

func (f *Factory) registerDefaults() {
	f.RegisterMechanism(models.MechanismLaplace, func() (interfaces.Mechanism, error) {
		return NewLaplaceMechanism(), nil
	})
	f.RegisterMechanism(models.MechanismGaussian, func() (interfaces.Mechanism, error) {
		return NewGaussianMechanism(), nil
	})
	f.RegisterMechanism(models.MechanismExponential, func() (interfaces.Mechanism, error) {
		return NewExponentialMechanism(), nil
	})
	f.RegisterMechanism(models.MechanismGeometric, func() (interfaces.Mechanism, error) {
		return NewGeometricMechanism(), nil
	})
	f.RegisterMechanism(models.MechanismStaircase, func() (interfaces.Mechanism, error) {
		return NewStaircaseMechanism(), nil
	})
	f.RegisterMechanism(models.MechanismVector, func() (interfaces.Mechanism, error) {
		return NewVectorMechanism(), nil
	})
	f.RegisterMechanism(models.MechanismGRR, func() (interfaces.Mechanism, error) {
		return NewGRRMechanism(), nil
	})
	f.RegisterMechanism(models.MechanismOUE, func() (interfaces.Mechanism, error) {
		return NewOUEMechanism(), nil
	})
	f.RegisterMechanism(models.MechanismOLH, func() (interfaces.Mechanism, error) {
		return NewOLHMechanism(), nil
	})
	f.RegisterMechanism(models.MechanismRAPPOR, func() (interfaces.Mechanism, error) {
		return NewRAPPORMechanism(), nil
	})
	f.RegisterMechanism(models.MechanismUnaryRandomizer, func() (interfaces.Mechanism, error) {
		return NewUnaryRandomizerMechanism(), nil
	})
	f.RegisterMechanism(models.MechanismLocalLaplace, func() (interfaces.Mechanism, error) {
		return NewLocalLaplaceMechanism(), nil
	})
	f.RegisterMechanism(models.MechanismLocalGaussian, func() (interfaces.Mechanism, error) {
		return NewLocalGaussianMechanism(), nil
	})
	f.RegisterMechanism(models.MechanismPiecewise, func() (interfaces.Mechanism, error) {
		return NewPiecewiseMechanism(), nil
	})
	f.RegisterMechanism(models.MechanismDuchi, func() (interfaces.Mechanism, error) {
		return NewDuchiMechanism(), nil
	})
}

var (
	_ interfaces.Mechanism = (*LaplaceMechanism)(nil)
	_ interfaces.Mechanism = (*GaussianMechanism)(nil)
	_ interfaces.Mechanism = (*ExponentialMechanism)(nil)
	_ interfaces.Mechanism = (*GeometricMechanism)(nil)
	_ interfaces.Mechanism = (*StaircaseMechanism)(nil)
	_ interfaces.Mechanism = (*VectorMechanism)(nil)
	_ interfaces.Mechanism = (*GRRMechanism)(nil)
	_ interfaces.Mechanism = (*OUEMechanism)(nil)
	_ interfaces.Mechanism = (*OLHMechanism)(nil)
	_ interfaces.Mechanism = (*RAPPORMechanism)(nil)
	_ interfaces.Mechanism = (*UnaryRandomizerMechanism)(nil)
	_ interfaces.Mechanism = (*LocalLaplaceMechanism)(nil)
	_ interfaces.Mechanism = (*LocalGaussianMechanism)(nil)
	_ interfaces.Mechanism = (*PiecewiseMechanism)(nil)
	_ interfaces.Mechanism = (*DuchiMechanism)(nil)

	_ interfaces.MechanismFactory = (*Factory)(nil)
)
