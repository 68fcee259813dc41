package commands

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inferloop/dpledger/internal/mechanisms"
	"github.com/inferloop/dpledger/pkg/models"
)

type CalibrateOptions struct {
	Mechanism    string
	Epsilon      float64
	Delta        float64
	Sensitivity  float64
	DomainSize   int
	HashRange    int
	TargetDelta  float64
	OutputFormat string
	OutputFile   string
}

func NewCalibrateCmd() *cobra.Command {
	opts := &CalibrateOptions{}

	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Calibrate a noise mechanism for a budget",
		Long: `Derive the noise parameters a mechanism needs to honor a privacy
budget, along with the guarantee it would spend and that guarantee's
central (epsilon, delta)-DP cost.`,
		Example: `  # Laplace noise for epsilon=1 at sensitivity 1
  dpledger-cli calibrate --mechanism laplace --epsilon 1

  # Gaussian noise under (epsilon, delta)-DP
  dpledger-cli calibrate --mechanism gaussian --epsilon 0.5 --delta 1e-6 --sensitivity 2

  # Generalized randomized response over a 16-value domain
  dpledger-cli calibrate --mechanism grr --epsilon 2 --domain-size 16`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.OutputFormat = resolveFormat(cmd, opts.OutputFormat)
			opts.OutputFile = resolveOutput(cmd, opts.OutputFile)
			opts.TargetDelta = resolveTargetDelta(cmd, opts.TargetDelta)
			return runCalibrate(opts)
		},
	}

	// Add flags
	cmd.Flags().StringVarP(&opts.Mechanism, "mechanism", "m", "", "Mechanism to calibrate (required)")
	cmd.Flags().Float64VarP(&opts.Epsilon, "epsilon", "e", 0, "Budget epsilon (required)")
	cmd.Flags().Float64VarP(&opts.Delta, "delta", "d", 0, "Budget delta, for approximate-DP mechanisms")
	cmd.Flags().Float64Var(&opts.Sensitivity, "sensitivity", 0, "Query sensitivity (default 1)")
	cmd.Flags().IntVar(&opts.DomainSize, "domain-size", 0, "Domain size, for categorical local mechanisms")
	cmd.Flags().IntVar(&opts.HashRange, "hash-range", 0, "Hash range, for local hashing mechanisms")
	cmd.Flags().Float64Var(&opts.TargetDelta, "target-delta", 0, "Target delta for the CDP cost view (default 1e-6)")
	cmd.Flags().StringVar(&opts.OutputFormat, "format", "text", "Output format (text, json)")
	cmd.Flags().StringVarP(&opts.OutputFile, "output", "o", "-", "Output file (- for stdout)")

	cmd.MarkFlagRequired("mechanism")
	cmd.MarkFlagRequired("epsilon")

	return cmd
}

type CalibrationReport struct {
	Mechanism   string             `json:"mechanism"`
	Model       string             `json:"model"`
	NoiseParams map[string]float64 `json:"noise_params"`
	CDPEpsilon  float64            `json:"cdp_epsilon"`
	CDPDelta    float64            `json:"cdp_delta"`
}

func runCalibrate(opts *CalibrateOptions) error {
	mechanismType, err := models.ParseMechanismType(opts.Mechanism)
	if err != nil {
		return err
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	factory := mechanisms.NewFactory(logger)

	mechanism, err := factory.CreateMechanism(mechanismType)
	if err != nil {
		return err
	}

	result, err := mechanism.Calibrate(models.CalibrationParams{
		Epsilon:     opts.Epsilon,
		Delta:       opts.Delta,
		Sensitivity: opts.Sensitivity,
		DomainSize:  opts.DomainSize,
		HashRange:   opts.HashRange,
	})
	if err != nil {
		return err
	}

	cdpView, err := result.Guarantee.AsCDPView(models.ConvertOptions{TargetDelta: opts.TargetDelta})
	if err != nil {
		return err
	}
	cdp, ok := cdpView.Spec.(models.CDP)
	if !ok {
		return fmt.Errorf("mechanism guarantee did not convert to a CDP view")
	}

	report := &CalibrationReport{
		Mechanism:   string(result.Mechanism),
		Model:       string(result.Model),
		NoiseParams: result.NoiseParams,
		CDPEpsilon:  cdp.Epsilon,
		CDPDelta:    cdp.Delta,
	}

	if opts.OutputFormat == "json" {
		return writeJSON(report, opts.OutputFile)
	}
	return writeOutput([]byte(formatCalibrationReport(report)), opts.OutputFile)
}

func formatCalibrationReport(report *CalibrationReport) string {
	output := fmt.Sprintf("Calibrated %s under %s:\n", report.Mechanism, report.Model)
	for _, key := range sortedKeys(report.NoiseParams) {
		output += fmt.Sprintf("- %s: %g\n", key, report.NoiseParams[key])
	}
	output += "\n"
	output += fmt.Sprintf("Ledger cost (CDP view): (epsilon=%g, delta=%g)\n", report.CDPEpsilon, report.CDPDelta)
	return output
}
