package models

import (
	"fmt"
	"strings"

	"github.com/inferloop/dpledger/pkg/errors"
)

// MechanismType identifies a noise mechanism by its short name
type MechanismType string

const (
	MechanismLaplace         MechanismType = "laplace"
	MechanismGaussian        MechanismType = "gaussian"
	MechanismExponential     MechanismType = "exponential"
	MechanismGeometric       MechanismType = "geometric"
	MechanismStaircase       MechanismType = "staircase"
	MechanismVector          MechanismType = "vector"
	MechanismGRR             MechanismType = "grr"
	MechanismOUE             MechanismType = "oue"
	MechanismOLH             MechanismType = "olh"
	MechanismRAPPOR          MechanismType = "rappor"
	MechanismUnaryRandomizer MechanismType = "unary_randomizer"
	MechanismLocalLaplace    MechanismType = "local_laplace"
	MechanismLocalGaussian   MechanismType = "local_gaussian"
	MechanismPiecewise       MechanismType = "piecewise"
	MechanismDuchi           MechanismType = "duchi"
)

// MechanismTypes lists all supported mechanisms
var MechanismTypes = []MechanismType{
	MechanismLaplace,
	MechanismGaussian,
	MechanismExponential,
	MechanismGeometric,
	MechanismStaircase,
	MechanismVector,
	MechanismGRR,
	MechanismOUE,
	MechanismOLH,
	MechanismRAPPOR,
	MechanismUnaryRandomizer,
	MechanismLocalLaplace,
	MechanismLocalGaussian,
	MechanismPiecewise,
	MechanismDuchi,
}

// ParseMechanismType converts a name into a MechanismType, normalizing
// whitespace and common aliases.
func ParseMechanismType(name string) (MechanismType, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
	switch normalized {
	case "unary", "unary_encoding", "ue":
		normalized = "unary_randomizer"
	case "laplace_local":
		normalized = "local_laplace"
	case "gaussian_local":
		normalized = "local_gaussian"
	}
	m := MechanismType(normalized)
	for _, known := range MechanismTypes {
		if m == known {
			return m, nil
		}
	}
	return "", errors.NewValidationError(errors.CodeInvalidMechanism, fmt.Sprintf("unknown mechanism %q", name))
}

// mechanismDefaultModel declares the privacy model each mechanism natively
// delivers under its typical calibration.
var mechanismDefaultModel = map[MechanismType]PrivacyModel{
	MechanismLaplace:         PrivacyModelPureDP,
	MechanismGaussian:        PrivacyModelCDP,
	MechanismExponential:     PrivacyModelPureDP,
	MechanismGeometric:       PrivacyModelPureDP,
	MechanismStaircase:       PrivacyModelPureDP,
	MechanismVector:          PrivacyModelCDP,
	MechanismGRR:             PrivacyModelLDP,
	MechanismOUE:             PrivacyModelLDP,
	MechanismOLH:             PrivacyModelLDP,
	MechanismRAPPOR:          PrivacyModelLDP,
	MechanismUnaryRandomizer: PrivacyModelLDP,
	MechanismLocalLaplace:    PrivacyModelLDP,
	MechanismLocalGaussian:   PrivacyModelLDP,
	MechanismPiecewise:       PrivacyModelLDP,
	MechanismDuchi:           PrivacyModelLDP,
}

// mechanismSupportedModels declares the model families each mechanism can
// be analysed under with finer accounting.
var mechanismSupportedModels = map[MechanismType][]PrivacyModel{
	MechanismLaplace:         {PrivacyModelPureDP, PrivacyModelCDP},
	MechanismGaussian:        {PrivacyModelCDP, PrivacyModelZCDP, PrivacyModelRDP, PrivacyModelGDP},
	MechanismExponential:     {PrivacyModelPureDP, PrivacyModelCDP},
	MechanismGeometric:       {PrivacyModelPureDP, PrivacyModelCDP},
	MechanismStaircase:       {PrivacyModelPureDP, PrivacyModelCDP},
	MechanismVector:          {PrivacyModelCDP},
	MechanismGRR:             {PrivacyModelLDP},
	MechanismOUE:             {PrivacyModelLDP},
	MechanismOLH:             {PrivacyModelLDP},
	MechanismRAPPOR:          {PrivacyModelLDP},
	MechanismUnaryRandomizer: {PrivacyModelLDP},
	MechanismLocalLaplace:    {PrivacyModelLDP},
	MechanismLocalGaussian:   {PrivacyModelLDP},
	MechanismPiecewise:       {PrivacyModelLDP},
	MechanismDuchi:           {PrivacyModelLDP},
}

// MechanismDefaultModel returns the canonical privacy model delivered by
// the mechanism
func MechanismDefaultModel(mechanism MechanismType) (PrivacyModel, error) {
	model, ok := mechanismDefaultModel[mechanism]
	if !ok {
		return "", errors.NewValidationError(errors.CodeInvalidMechanism, fmt.Sprintf("unknown mechanism %q", mechanism))
	}
	return model, nil
}

// SupportedModels returns the model families a mechanism can be analysed
// under, or nil for an unknown mechanism
func SupportedModels(mechanism MechanismType) []PrivacyModel {
	supported, ok := mechanismSupportedModels[mechanism]
	if !ok {
		return nil
	}
	out := make([]PrivacyModel, len(supported))
	copy(out, supported)
	return out
}

// MechanismSupports reports whether a mechanism can be analysed under the
// target model
func MechanismSupports(mechanism MechanismType, model PrivacyModel) bool {
	for _, m := range mechanismSupportedModels[mechanism] {
		if m == model {
			return true
		}
	}
	return false
}

// EnsureSupportedModel returns a validation error when a mechanism cannot
// emit the requested privacy model
func EnsureSupportedModel(mechanism MechanismType, model PrivacyModel) error {
	if MechanismSupports(mechanism, model) {
		return nil
	}
	supported := make([]string, 0, len(mechanismSupportedModels[mechanism]))
	for _, m := range mechanismSupportedModels[mechanism] {
		supported = append(supported, string(m))
	}
	return errors.NewValidationError(errors.CodeUnsupportedModel,
		fmt.Sprintf("mechanism %q supports models [%s] but got %q",
			mechanism, strings.Join(supported, ", "), model))
}

// RegistrySnapshot returns the supported model and mechanism identifiers,
// for external tooling and documentation.
func RegistrySnapshot() map[string][]string {
	modelNames := make([]string, 0, len(PrivacyModels))
	for _, m := range PrivacyModels {
		modelNames = append(modelNames, string(m))
	}
	mechanismNames := make([]string, 0, len(MechanismTypes))
	for _, m := range MechanismTypes {
		mechanismNames = append(mechanismNames, string(m))
	}
	return map[string][]string{
		"privacy_models": modelNames,
		"mechanisms":     mechanismNames,
	}
}
