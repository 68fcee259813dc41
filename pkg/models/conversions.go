package models

import (
	"fmt"
	"math"

	"github.com/inferloop/dpledger/pkg/errors"
)

// Closed-form conversions between privacy-model families. All functions are
// pure and validate their inputs before computing; outputs are loose upper
// bounds where noted and are not re-validated.

// ZCDPToCDP converts rho-zCDP to an (epsilon, delta)-DP epsilon at the
// given delta: epsilon = rho + 2*sqrt(rho*ln(1/delta)).
func ZCDPToCDP(rho, delta float64) (float64, error) {
	if !isFiniteNonNegative(rho) {
		return 0, errors.ErrValidationRhoInvalid.WithDetails(fmt.Sprintf("rho=%v", rho))
	}
	if !isUnitOpenInterval(delta) {
		return 0, errors.ErrValidationDeltaOutOfUnit.WithDetails(fmt.Sprintf("delta=%v", delta))
	}
	return rho + 2.0*math.Sqrt(rho*math.Log(1.0/delta)), nil
}

// CDPToZCDP converts (epsilon, delta)-DP to a rho-zCDP upper bound:
// rho = (epsilon + ln(1/delta))^2 / (2*ln(1/delta)). This is loose and not
// an exact inverse of ZCDPToCDP.
func CDPToZCDP(epsilon, delta float64) (float64, error) {
	if !isFiniteNonNegative(epsilon) {
		return 0, errors.ErrValidationEpsilonInvalid.WithDetails(fmt.Sprintf("epsilon=%v", epsilon))
	}
	if !isUnitOpenInterval(delta) {
		return 0, errors.ErrValidationDeltaOutOfUnit.WithDetails(fmt.Sprintf("delta=%v", delta))
	}
	term := epsilon + math.Log(1.0/delta)
	return (term * term) / (2.0 * math.Log(1.0/delta)), nil
}

// ZCDPToRDP converts rho-zCDP to the RDP epsilon at order alpha:
// epsilon(alpha) = alpha*rho.
func ZCDPToRDP(rho, alpha float64) (float64, error) {
	if !isFiniteNonNegative(rho) {
		return 0, errors.ErrValidationRhoInvalid.WithDetails(fmt.Sprintf("rho=%v", rho))
	}
	if !isFinite(alpha) || alpha <= 1 {
		return 0, errors.ErrValidationAlphaInvalid.WithDetails(fmt.Sprintf("alpha=%v", alpha))
	}
	return alpha * rho, nil
}

// RDPToCDP converts an RDP guarantee at the given order to an
// (epsilon, delta)-DP epsilon: epsilon + ln(1/delta)/(order-1).
func RDPToCDP(order, rdpEpsilon, delta float64) (float64, error) {
	if !isFinite(order) || order <= 1 {
		return 0, errors.ErrValidationAlphaInvalid.WithDetails(fmt.Sprintf("order=%v", order))
	}
	if !isFiniteNonNegative(rdpEpsilon) {
		return 0, errors.ErrValidationEpsilonInvalid.WithDetails(fmt.Sprintf("epsilon=%v", rdpEpsilon))
	}
	if !isUnitOpenInterval(delta) {
		return 0, errors.ErrValidationDeltaOutOfUnit.WithDetails(fmt.Sprintf("delta=%v", delta))
	}
	return rdpEpsilon + math.Log(1.0/delta)/(order-1.0), nil
}

// GDPToZCDP converts mu-GDP to rho-zCDP: rho = mu^2/2.
func GDPToZCDP(mu float64) (float64, error) {
	if !isFinite(mu) || mu <= 0 {
		return 0, errors.ErrValidationMuInvalid.WithDetails(fmt.Sprintf("mu=%v", mu))
	}
	return mu * mu / 2.0, nil
}

// GDPToCDP converts mu-GDP to an (epsilon, delta)-DP epsilon at the given
// delta, bridging through zCDP.
func GDPToCDP(mu, delta float64) (float64, error) {
	rho, err := GDPToZCDP(mu)
	if err != nil {
		return 0, err
	}
	return ZCDPToCDP(rho, delta)
}

// LDPToCDP maps a local-DP epsilon to its central counterpart (epsilon, 0)
func LDPToCDP(epsilon float64) (float64, float64, error) {
	if !isFiniteNonNegative(epsilon) {
		return 0, 0, errors.ErrValidationEpsilonInvalid.WithDetails(fmt.Sprintf("epsilon=%v", epsilon))
	}
	return epsilon, 0.0, nil
}
