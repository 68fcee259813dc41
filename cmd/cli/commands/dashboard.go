package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inferloop/dpledger/internal/observability/metrics/dashboards"
)

type DashboardOptions struct {
	Template   string
	OutputFile string
}

func NewDashboardCmd() *cobra.Command {
	opts := &DashboardOptions{}

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Export a ready-to-import Grafana dashboard",
		Long: `Render one of the bundled Grafana dashboard templates against the
service's metric names and write it as importable JSON.`,
		Example: `  # Print the budget dashboard
  dpledger-cli dashboard --template budget

  # Write the storage dashboard to a file
  dpledger-cli dashboard --template storage --output storage_dashboard.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.OutputFile = resolveOutput(cmd, opts.OutputFile)
			return runDashboard(opts)
		},
	}

	// Add flags
	cmd.Flags().StringVarP(&opts.Template, "template", "t", "budget", "Dashboard template (budget, storage)")
	cmd.Flags().StringVarP(&opts.OutputFile, "output", "o", "-", "Output file (- for stdout)")

	return cmd
}

func runDashboard(opts *DashboardOptions) error {
	dashboard, err := dashboards.CreateDashboardFromTemplate(opts.Template)
	if err != nil {
		return err
	}

	payload, err := dashboard.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to render dashboard: %w", err)
	}

	if err := writeOutput(append(payload, '\n'), opts.OutputFile); err != nil {
		return err
	}
	if opts.OutputFile != "" && opts.OutputFile != "-" {
		fmt.Printf("Dashboard written to %s\n", opts.OutputFile)
	}
	return nil
}
