package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inferloop/dpledger/pkg/models"
)

type ConvertOptions struct {
	Model        string
	Epsilon      float64
	Delta        float64
	Rho          float64
	Alpha        float64
	Mu           float64
	TargetDelta  float64
	RDPOrder     float64
	OutputFormat string
	OutputFile   string
}

func NewConvertCmd() *cobra.Command {
	opts := &ConvertOptions{}

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert a privacy guarantee to its (epsilon, delta)-DP view",
		Long: `Convert a guarantee expressed in any supported privacy model (pure DP,
local DP, CDP, zCDP, RDP, or GDP) into its central (epsilon, delta)-DP
equivalent, the common currency a ledger accounts in.`,
		Example: `  # Convert a zCDP guarantee
  dpledger-cli convert --model zcdp --rho 0.5 --target-delta 1e-6

  # Convert an RDP guarantee at order 8
  dpledger-cli convert --model rdp --alpha 8 --epsilon 0.4 --target-delta 1e-5

  # Emit JSON for scripting
  dpledger-cli convert --model gdp --mu 1.2 --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.OutputFormat = resolveFormat(cmd, opts.OutputFormat)
			opts.OutputFile = resolveOutput(cmd, opts.OutputFile)
			opts.TargetDelta = resolveTargetDelta(cmd, opts.TargetDelta)
			return runConvert(opts)
		},
	}

	// Add flags
	cmd.Flags().StringVarP(&opts.Model, "model", "m", "", "Privacy model of the input guarantee (pure_dp, ldp, cdp, zcdp, rdp, gdp)")
	cmd.Flags().Float64VarP(&opts.Epsilon, "epsilon", "e", 0, "Epsilon parameter (pure_dp, ldp, cdp, rdp)")
	cmd.Flags().Float64VarP(&opts.Delta, "delta", "d", 0, "Delta parameter (cdp)")
	cmd.Flags().Float64Var(&opts.Rho, "rho", 0, "Rho parameter (zcdp)")
	cmd.Flags().Float64Var(&opts.Alpha, "alpha", 0, "Renyi order of the input guarantee (rdp)")
	cmd.Flags().Float64Var(&opts.Mu, "mu", 0, "Mu parameter (gdp)")
	cmd.Flags().Float64Var(&opts.TargetDelta, "target-delta", 0, "Target delta for conversions that need one (default 1e-6)")
	cmd.Flags().Float64Var(&opts.RDPOrder, "rdp-order", 0, "Override the RDP order used during conversion")
	cmd.Flags().StringVar(&opts.OutputFormat, "format", "text", "Output format (text, json)")
	cmd.Flags().StringVarP(&opts.OutputFile, "output", "o", "-", "Output file (- for stdout)")

	cmd.MarkFlagRequired("model")

	return cmd
}

type ConvertResult struct {
	Model       string             `json:"model"`
	Params      map[string]float64 `json:"params"`
	TargetDelta float64            `json:"target_delta,omitempty"`
	RDPOrder    float64            `json:"rdp_order,omitempty"`
	Epsilon     float64            `json:"epsilon"`
	Delta       float64            `json:"delta"`
}

func runConvert(opts *ConvertOptions) error {
	spec, err := models.ParseModelSpec(opts.Model, map[string]float64{
		"epsilon": opts.Epsilon,
		"delta":   opts.Delta,
		"rho":     opts.Rho,
		"alpha":   opts.Alpha,
		"mu":      opts.Mu,
	})
	if err != nil {
		return err
	}

	cdp, err := spec.ToCDP(models.ConvertOptions{
		TargetDelta: opts.TargetDelta,
		RDPOrder:    opts.RDPOrder,
	})
	if err != nil {
		return err
	}

	result := &ConvertResult{
		Model:       string(spec.Model()),
		Params:      spec.Params(),
		TargetDelta: opts.TargetDelta,
		RDPOrder:    opts.RDPOrder,
		Epsilon:     cdp.Epsilon,
		Delta:       cdp.Delta,
	}

	if opts.OutputFormat == "json" {
		return writeJSON(result, opts.OutputFile)
	}
	return writeOutput([]byte(formatConvertResult(result)), opts.OutputFile)
}

func formatConvertResult(result *ConvertResult) string {
	output := fmt.Sprintf("Converted %s guarantee to the central (epsilon, delta)-DP view:\n", result.Model)
	for _, key := range sortedKeys(result.Params) {
		output += fmt.Sprintf("- %s: %g\n", key, result.Params[key])
	}
	if result.TargetDelta > 0 {
		output += fmt.Sprintf("- target delta: %g\n", result.TargetDelta)
	}
	if result.RDPOrder > 0 {
		output += fmt.Sprintf("- rdp order: %g\n", result.RDPOrder)
	}
	output += "\n"
	output += fmt.Sprintf("Epsilon: %g\n", result.Epsilon)
	output += fmt.Sprintf("Delta: %g\n", result.Delta)
	return output
}
