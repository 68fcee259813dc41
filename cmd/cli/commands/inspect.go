package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/inferloop/dpledger/internal/ledger"
	"github.com/inferloop/dpledger/pkg/models"
)

type InspectOptions struct {
	InputFile    string
	ShowEvents   int
	OutputFormat string
	OutputFile   string
}

func NewInspectCmd() *cobra.Command {
	opts := &InspectOptions{}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Inspect a ledger snapshot file",
		Long: `Summarize a serialized accountant snapshot: total and remaining budget,
utilization, slack, and the recorded spend history. The snapshot is
validated the same way a restore would validate it.`,
		Example: `  # Summarize a snapshot
  dpledger-cli inspect --input pipeline.json

  # Include the last 10 events
  dpledger-cli inspect --input pipeline.json --events 10

  # Machine-readable summary
  dpledger-cli inspect --input pipeline.json --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.OutputFormat = resolveFormat(cmd, opts.OutputFormat)
			opts.OutputFile = resolveOutput(cmd, opts.OutputFile)
			return runInspect(opts)
		},
	}

	// Add flags
	cmd.Flags().StringVarP(&opts.InputFile, "input", "i", "", "Snapshot file to inspect (required)")
	cmd.Flags().IntVar(&opts.ShowEvents, "events", 5, "Number of most recent events to include (0 to omit)")
	cmd.Flags().StringVar(&opts.OutputFormat, "format", "text", "Output format (text, json)")
	cmd.Flags().StringVarP(&opts.OutputFile, "output", "o", "-", "Output file (- for stdout)")

	cmd.MarkFlagRequired("input")

	return cmd
}

type LedgerSummary struct {
	Name               string                `json:"name"`
	TotalBudget        *models.PrivacyBudget `json:"total_budget,omitempty"`
	Spent              models.PrivacyBudget  `json:"spent"`
	Remaining          *models.PrivacyBudget `json:"remaining,omitempty"`
	EpsilonUtilization float64               `json:"epsilon_utilization"`
	DeltaUtilization   float64               `json:"delta_utilization"`
	Slack              float64               `json:"slack"`
	EventCount         int                   `json:"event_count"`
	EventsByModel      map[string]int        `json:"events_by_model,omitempty"`
	RecentEvents       []models.PrivacyEvent `json:"recent_events,omitempty"`
}

func runInspect(opts *InspectOptions) error {
	data, err := os.ReadFile(opts.InputFile)
	if err != nil {
		return fmt.Errorf("failed to read snapshot file: %w", err)
	}

	accountant, err := ledger.UnmarshalAccountant(data)
	if err != nil {
		return err
	}

	summary := summarizeAccountant(accountant, opts.ShowEvents)

	if opts.OutputFormat == "json" {
		return writeJSON(summary, opts.OutputFile)
	}
	return writeOutput([]byte(formatLedgerSummary(summary)), opts.OutputFile)
}

func summarizeAccountant(accountant *ledger.Accountant, showEvents int) *LedgerSummary {
	summary := &LedgerSummary{
		Name:        accountant.Name(),
		TotalBudget: accountant.TotalBudget(),
		Spent:       accountant.Spent(),
		Remaining:   accountant.Remaining(),
		Slack:       accountant.Slack(),
		EventCount:  accountant.EventCount(),
	}
	if summary.TotalBudget != nil {
		if summary.TotalBudget.Epsilon > 0 {
			summary.EpsilonUtilization = summary.Spent.Epsilon / summary.TotalBudget.Epsilon
		}
		if summary.TotalBudget.Delta > 0 {
			summary.DeltaUtilization = summary.Spent.Delta / summary.TotalBudget.Delta
		}
	}

	events := accountant.Events()
	if len(events) > 0 {
		summary.EventsByModel = make(map[string]int)
		for _, event := range events {
			model := string(event.Model)
			if model == "" {
				model = string(models.PrivacyModelCDP)
			}
			summary.EventsByModel[model]++
		}
	}
	if showEvents > 0 {
		start := len(events) - showEvents
		if start < 0 {
			start = 0
		}
		summary.RecentEvents = events[start:]
	}
	return summary
}

func formatLedgerSummary(summary *LedgerSummary) string {
	output := fmt.Sprintf("Ledger Snapshot: %s\n", summary.Name)
	output += "==================\n\n"
	if summary.TotalBudget != nil {
		output += fmt.Sprintf("- Total Budget: %s\n", summary.TotalBudget)
		output += fmt.Sprintf("- Spent: %s\n", summary.Spent)
		output += fmt.Sprintf("- Remaining: %s\n", summary.Remaining)
		output += fmt.Sprintf("- Epsilon Utilization: %.1f%%\n", summary.EpsilonUtilization*100)
		output += fmt.Sprintf("- Delta Utilization: %.1f%%\n", summary.DeltaUtilization*100)
	} else {
		output += "- Total Budget: unbounded\n"
		output += fmt.Sprintf("- Spent: %s\n", summary.Spent)
	}
	output += fmt.Sprintf("- Slack: %g\n", summary.Slack)
	output += fmt.Sprintf("- Events: %d\n", summary.EventCount)

	if len(summary.EventsByModel) > 0 {
		output += "\nEvents by Model:\n"
		for _, model := range sortedKeys(summary.EventsByModel) {
			output += fmt.Sprintf("- %s: %d\n", model, summary.EventsByModel[model])
		}
	}

	if len(summary.RecentEvents) > 0 {
		output += fmt.Sprintf("\nRecent Events (last %d):\n", len(summary.RecentEvents))
		for _, event := range summary.RecentEvents {
			line := fmt.Sprintf("- epsilon=%g delta=%g", event.Epsilon, event.Delta)
			if event.Model != "" {
				line += fmt.Sprintf(" model=%s", event.Model)
			}
			if event.Mechanism != "" {
				line += fmt.Sprintf(" mechanism=%s", event.Mechanism)
			}
			if event.Description != "" {
				line += fmt.Sprintf(" %q", event.Description)
			}
			if !event.Timestamp.IsZero() {
				line += " at " + event.Timestamp.Format(time.RFC3339)
			}
			output += line + "\n"
		}
	}
	return output
}
