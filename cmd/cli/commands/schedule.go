package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/inferloop/dpledger/internal/scheduling"
	"github.com/inferloop/dpledger/pkg/models"
)

type ScheduleOptions struct {
	Epsilon      float64
	Delta        float64
	Strategy     string
	Keys         []string
	Weights      []string
	Windows      int
	Decay        float64
	OutputFormat string
	OutputFile   string
}

func NewScheduleCmd() *cobra.Command {
	opts := &ScheduleOptions{}

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Split a privacy budget across tasks or time windows",
		Long: `Split a total privacy budget ahead of time: uniformly across named
tasks, proportionally to weights, or across a decaying series of time
windows. The plan reports each share and the residual left in the total.`,
		Example: `  # Equal shares for four tasks
  dpledger-cli schedule --epsilon 1 --delta 1e-6 --keys ingest,train,eval,report

  # Weighted shares
  dpledger-cli schedule --epsilon 2 --strategy proportional --weights train=3,eval=1

  # Eight windows, each 80% of the previous
  dpledger-cli schedule --epsilon 1 --strategy windows --windows 8 --decay 0.8`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.OutputFormat = resolveFormat(cmd, opts.OutputFormat)
			opts.OutputFile = resolveOutput(cmd, opts.OutputFile)
			return runSchedule(opts)
		},
	}

	// Add flags
	cmd.Flags().Float64VarP(&opts.Epsilon, "epsilon", "e", 0, "Total epsilon to split (required)")
	cmd.Flags().Float64VarP(&opts.Delta, "delta", "d", 0, "Total delta to split")
	cmd.Flags().StringVarP(&opts.Strategy, "strategy", "s", "uniform", "Allocation strategy (uniform, proportional, windows)")
	cmd.Flags().StringSliceVar(&opts.Keys, "keys", nil, "Task keys for uniform allocation")
	cmd.Flags().StringSliceVar(&opts.Weights, "weights", nil, "key=weight pairs for proportional allocation")
	cmd.Flags().IntVar(&opts.Windows, "windows", 0, "Number of windows for the windows strategy")
	cmd.Flags().Float64Var(&opts.Decay, "decay", 1.0, "Per-window decay factor (1.0 for equal windows)")
	cmd.Flags().StringVar(&opts.OutputFormat, "format", "text", "Output format (text, json)")
	cmd.Flags().StringVarP(&opts.OutputFile, "output", "o", "-", "Output file (- for stdout)")

	cmd.MarkFlagRequired("epsilon")

	return cmd
}

type SchedulePlan struct {
	Strategy    string                          `json:"strategy"`
	Total       models.PrivacyBudget            `json:"total"`
	Allocations map[string]models.PrivacyBudget `json:"allocations,omitempty"`
	Windows     []models.PrivacyBudget          `json:"windows,omitempty"`
	Remaining   models.PrivacyBudget            `json:"remaining"`
}

func runSchedule(opts *ScheduleOptions) error {
	scheduler, err := scheduling.NewScheduler(opts.Epsilon, opts.Delta)
	if err != nil {
		return err
	}

	plan := &SchedulePlan{
		Strategy: strings.ToLower(opts.Strategy),
		Total:    scheduler.Total(),
	}

	switch plan.Strategy {
	case "uniform":
		if len(opts.Keys) == 0 {
			return fmt.Errorf("uniform allocation requires --keys")
		}
		allocations, err := scheduler.AllocateUniform(opts.Keys)
		if err != nil {
			return err
		}
		plan.Allocations = allocations
		plan.Remaining = scheduler.RemainingAfterAllocation(allocations)

	case "proportional":
		weights, err := parseWeights(opts.Weights)
		if err != nil {
			return err
		}
		allocations, err := scheduler.AllocateProportional(weights)
		if err != nil {
			return err
		}
		plan.Allocations = allocations
		plan.Remaining = scheduler.RemainingAfterAllocation(allocations)

	case "windows":
		windows, err := scheduler.AllocateWindows(opts.Windows, opts.Decay)
		if err != nil {
			return err
		}
		plan.Windows = windows
		plan.Remaining = scheduler.RemainingAfterSeries(windows)

	default:
		return fmt.Errorf("unknown strategy %q, want uniform, proportional, or windows", opts.Strategy)
	}

	if opts.OutputFormat == "json" {
		return writeJSON(plan, opts.OutputFile)
	}
	return writeOutput([]byte(formatSchedulePlan(plan)), opts.OutputFile)
}

func parseWeights(pairs []string) (map[string]float64, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("proportional allocation requires --weights")
	}
	weights := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid weight %q, want key=value", pair)
		}
		weight, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid weight %q: %w", pair, err)
		}
		weights[key] = weight
	}
	return weights, nil
}

func formatSchedulePlan(plan *SchedulePlan) string {
	output := fmt.Sprintf("Budget plan (%s):\n", plan.Strategy)
	output += fmt.Sprintf("- Total: %s\n", plan.Total)
	if len(plan.Allocations) > 0 {
		output += "\nAllocations:\n"
		for _, key := range sortedKeys(plan.Allocations) {
			output += fmt.Sprintf("- %s: %s\n", key, plan.Allocations[key])
		}
	}
	if len(plan.Windows) > 0 {
		output += "\nWindows:\n"
		for i, window := range plan.Windows {
			output += fmt.Sprintf("- window %d: %s\n", i+1, window)
		}
	}
	output += fmt.Sprintf("\nRemaining: %s\n", plan.Remaining)
	return output
}
