package ledger

import (
	"github.com/inferloop/dpledger/pkg/models"
)

// EventRequest describes one spend. Callers either supply a bare
// (Epsilon, Delta) pair, or one or more ModelSpec/Guarantee values for
// mechanisms that natively speak a non-CDP model. When specs or
// guarantees are present they take precedence over the bare pair.
type EventRequest struct {
	Epsilon     float64
	Delta       float64
	Description string
	Metadata    map[string]interface{}

	// Specs are privacy-model declarations to normalize into the
	// recorded CDP allocation.
	Specs []models.ModelSpec
	// Guarantees are full guarantee records. Their specs join the
	// normalization and their provenance lands in the audit reports.
	Guarantees []models.PrivacyGuarantee

	// TargetDelta is the delta used when converting zCDP/RDP/GDP specs
	// to CDP. Zero selects the conversion default.
	TargetDelta float64
	// RDPOrder overrides the order used for RDP conversions. Zero keeps
	// each spec's own order.
	RDPOrder float64

	// Model, Mechanism, and Parameters are recorded verbatim on the
	// event for bare spends. Normalized spends overwrite Model with the
	// CDP tag.
	Model      models.PrivacyModel
	Mechanism  string
	Parameters map[string]float64
}

// normalizeRequest turns a request into the (epsilon, delta) that will
// be recorded plus one audit report per supplied spec or guarantee.
//
// With specs present, each is validated and converted to its
// CDP-equivalent; the recorded allocation is the component-wise maximum
// over the conversions. This is a conservative selection across
// alternative descriptions of the same release, not a composition.
func normalizeRequest(req EventRequest) (float64, float64, []models.GuaranteeReport, error) {
	guarantees := make([]models.PrivacyGuarantee, 0, len(req.Specs)+len(req.Guarantees))
	for _, spec := range req.Specs {
		guarantees = append(guarantees, models.GuaranteeFromSpec(spec))
	}
	guarantees = append(guarantees, req.Guarantees...)

	if len(guarantees) == 0 {
		budget, err := models.NewPrivacyBudget(req.Epsilon, req.Delta)
		if err != nil {
			return 0, 0, nil, err
		}
		return budget.Epsilon, budget.Delta, nil, nil
	}

	opts := models.ConvertOptions{TargetDelta: req.TargetDelta, RDPOrder: req.RDPOrder}
	var allocation models.PrivacyBudget
	reports := make([]models.GuaranteeReport, 0, len(guarantees))
	for _, guarantee := range guarantees {
		report, err := guarantee.ToReport(opts)
		if err != nil {
			return 0, 0, nil, err
		}
		allocation = allocation.Max(*report.CDPEquivalent)
		reports = append(reports, report)
	}
	return allocation.Epsilon, allocation.Delta, reports, nil
}
