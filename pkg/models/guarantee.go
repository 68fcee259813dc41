package models

import (
	"fmt"
	"sort"
	"strings"

	"github.com/inferloop/dpledger/pkg/errors"
)

// PrivacyGuarantee pairs a model spec with provenance: the mechanism
// that produced it, free-text description and proof strings, and an
// opaque metadata map. Accountants accept guarantees wherever a bare
// (epsilon, delta) would do, so richer audit context can travel with
// the spend.
type PrivacyGuarantee struct {
	Spec        ModelSpec
	Mechanism   MechanismType
	Description string
	Proof       string
	Metadata    map[string]interface{}
}

// NewGuarantee builds and validates a guarantee for a spec/mechanism pair
func NewGuarantee(spec ModelSpec, mechanism MechanismType) (PrivacyGuarantee, error) {
	g := PrivacyGuarantee{Spec: spec, Mechanism: mechanism}
	if err := g.Validate(); err != nil {
		return PrivacyGuarantee{}, err
	}
	return g, nil
}

// GuaranteeFromSpec wraps a bare spec with no mechanism attribution
func GuaranteeFromSpec(spec ModelSpec) PrivacyGuarantee {
	return PrivacyGuarantee{Spec: spec}
}

// Model returns the privacy model of the underlying spec
func (g PrivacyGuarantee) Model() PrivacyModel {
	if g.Spec == nil {
		return ""
	}
	return g.Spec.Model()
}

// Validate checks the spec's numeric domain and, when a mechanism tag is
// present, that the mechanism supports the spec's model.
func (g PrivacyGuarantee) Validate() error {
	if g.Spec == nil {
		return errors.NewValidationError(errors.CodeInvalidModel, "guarantee has no model spec")
	}
	if err := g.Spec.Validate(); err != nil {
		return err
	}
	if g.Mechanism != "" {
		return EnsureSupportedModel(g.Mechanism, g.Spec.Model())
	}
	return nil
}

// AsCDPView converts the guarantee to its central (epsilon, delta)
// equivalent. Mechanism, description, proof, and metadata carry through
// unchanged; only the spec is rewritten.
func (g PrivacyGuarantee) AsCDPView(opts ConvertOptions) (PrivacyGuarantee, error) {
	if err := g.Validate(); err != nil {
		return PrivacyGuarantee{}, err
	}
	cdp, err := g.Spec.ToCDP(opts)
	if err != nil {
		return PrivacyGuarantee{}, err
	}
	return PrivacyGuarantee{
		Spec:        cdp,
		Mechanism:   g.Mechanism,
		Description: g.Description,
		Proof:       g.Proof,
		Metadata:    copyMetadata(g.Metadata),
	}, nil
}

// ToReport renders the guarantee as the audit sub-report attached to a
// ledger event, including the CDP-equivalent budget computed under opts.
func (g PrivacyGuarantee) ToReport(opts ConvertOptions) (GuaranteeReport, error) {
	if err := g.Validate(); err != nil {
		return GuaranteeReport{}, err
	}
	cdp, err := g.Spec.ToCDP(opts)
	if err != nil {
		return GuaranteeReport{}, err
	}
	budget := cdp.Budget()
	params := g.Spec.Params()
	return GuaranteeReport{
		Model:         g.Spec.Model(),
		Mechanism:     string(g.Mechanism),
		Description:   g.Description,
		Proof:         g.Proof,
		Parameters:    params,
		Summary:       summarizeParams(params),
		CDPEquivalent: &budget,
		Metadata:      copyMetadata(g.Metadata),
	}, nil
}

// summarizeParams renders a parameter map as "k=v, k=v" with sorted keys
func summarizeParams(params map[string]float64) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%g", k, params[k]))
	}
	return strings.Join(parts, ", ")
}

func copyMetadata(meta map[string]interface{}) map[string]interface{} {
	if meta == nil {
		return nil
	}
	out := make(map[string]interface{}, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
