package models

// CalibrationParams carries the inputs a mechanism needs to derive its
// noise parameters: the budget to spend, the query sensitivity, and the
// domain geometry for categorical local mechanisms.
type CalibrationParams struct {
	Epsilon     float64 `json:"epsilon"`
	Delta       float64 `json:"delta,omitempty"`
	Sensitivity float64 `json:"sensitivity,omitempty"`
	DomainSize  int     `json:"domain_size,omitempty"`
	HashRange   int     `json:"hash_range,omitempty"`
}

// CalibrationResult is the outcome of calibrating a mechanism: the
// derived noise parameters and the guarantee the mechanism is about to
// spend against a ledger.
type CalibrationResult struct {
	Mechanism   MechanismType      `json:"mechanism"`
	Model       PrivacyModel       `json:"model"`
	NoiseParams map[string]float64 `json:"noise_params"`
	Guarantee   PrivacyGuarantee   `json:"-"`
}
