package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inferloop/dpledger/internal/ledger"
	"github.com/inferloop/dpledger/pkg/models"
)

type ComposeOptions struct {
	InputFile    string
	Method       string
	DeltaPrime   float64
	DeltaHat     float64
	K            int
	Order        float64
	TargetDelta  float64
	OutputFormat string
	OutputFile   string
}

func NewComposeCmd() *cobra.Command {
	opts := &ComposeOptions{}

	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Compose a batch of privacy events into a total cost",
		Long: `Compose the events in a JSON file under one of the supported accounting
methods and report the total (epsilon, delta) cost without recording
anything. The file holds either a bare array of events or an object with
an "events" array, in the same shape the ledger serializes.`,
		Example: `  # Basic sequential composition
  dpledger-cli compose --input events.json

  # Advanced composition with explicit slack
  dpledger-cli compose --input events.json --method advanced --delta-prime 1e-7

  # RDP accounting at order 16
  dpledger-cli compose --input events.json --method rdp --order 16 --target-delta 1e-6`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("method") && defaults.Compose.Method != "" {
				opts.Method = defaults.Compose.Method
			}
			if !cmd.Flags().Changed("delta-prime") && defaults.Compose.DeltaPrime > 0 {
				opts.DeltaPrime = defaults.Compose.DeltaPrime
			}
			opts.OutputFormat = resolveFormat(cmd, opts.OutputFormat)
			opts.OutputFile = resolveOutput(cmd, opts.OutputFile)
			return runCompose(opts)
		},
	}

	// Add flags
	cmd.Flags().StringVarP(&opts.InputFile, "input", "i", "", "Events file to compose (required)")
	cmd.Flags().StringVarP(&opts.Method, "method", "m", "basic", "Accounting method (basic, advanced, strong, rdp, zcdp, gdp, optimal)")
	cmd.Flags().Float64Var(&opts.DeltaPrime, "delta-prime", 0, "Advanced-composition slack (default 1e-6)")
	cmd.Flags().Float64Var(&opts.DeltaHat, "delta-hat", 0, "Strong/optimal-composition slack (default 1e-6)")
	cmd.Flags().IntVar(&opts.K, "k", 0, "Repetition count for strong composition (default: event count)")
	cmd.Flags().Float64Var(&opts.Order, "order", 0, "RDP order (required for the rdp method)")
	cmd.Flags().Float64Var(&opts.TargetDelta, "target-delta", 0, "Target delta (required for rdp, zcdp, and gdp)")
	cmd.Flags().StringVar(&opts.OutputFormat, "format", "text", "Output format (text, json)")
	cmd.Flags().StringVarP(&opts.OutputFile, "output", "o", "-", "Output file (- for stdout)")

	cmd.MarkFlagRequired("input")

	return cmd
}

type ComposeReport struct {
	Method  string                 `json:"method"`
	Count   int                    `json:"count"`
	Epsilon float64                `json:"epsilon"`
	Delta   float64                `json:"delta"`
	Detail  map[string]interface{} `json:"detail,omitempty"`
}

func runCompose(opts *ComposeOptions) error {
	events, err := loadEvents(opts.InputFile)
	if err != nil {
		return err
	}

	method, err := ledger.ParseAccountingMethod(opts.Method)
	if err != nil {
		return err
	}
	accountant, err := ledger.NewCDPAccountant(ledger.NewUnboundedAccountant("cli-compose"), method)
	if err != nil {
		return err
	}

	result, err := accountant.Compose(events, ledger.ComposeParams{
		DeltaPrime:  opts.DeltaPrime,
		DeltaHat:    opts.DeltaHat,
		K:           opts.K,
		Order:       opts.Order,
		TargetDelta: opts.TargetDelta,
	})
	if err != nil {
		return err
	}

	report := &ComposeReport{
		Method:  string(method),
		Count:   len(events),
		Epsilon: result.Epsilon,
		Delta:   result.Delta,
		Detail:  result.Detail,
	}

	if opts.OutputFormat == "json" {
		return writeJSON(report, opts.OutputFile)
	}
	return writeOutput([]byte(formatComposeReport(report)), opts.OutputFile)
}

// loadEvents reads a batch of privacy events from a JSON file. Both a
// bare array and an {"events": [...]} wrapper are accepted.
func loadEvents(path string) ([]models.PrivacyEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read events file: %w", err)
	}

	var events []models.PrivacyEvent
	if err := json.Unmarshal(data, &events); err == nil {
		return events, nil
	}

	var wrapper struct {
		Events []models.PrivacyEvent `json:"events"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("events file is not valid JSON: %w", err)
	}
	return wrapper.Events, nil
}

func formatComposeReport(report *ComposeReport) string {
	output := fmt.Sprintf("Composed %d events with the %s accountant:\n", report.Count, report.Method)
	output += fmt.Sprintf("- Epsilon: %g\n", report.Epsilon)
	output += fmt.Sprintf("- Delta: %g\n", report.Delta)
	if len(report.Detail) > 0 {
		output += "\nDetail:\n"
		for _, key := range sortedKeys(report.Detail) {
			output += fmt.Sprintf("- %s: %v\n", key, report.Detail[key])
		}
	}
	return output
}
