package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/inferloop/dpledger/cmd/cli/commands"
	cliconfig "github.com/inferloop/dpledger/cmd/cli/config"
	"github.com/inferloop/dpledger/pkg/constants"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dpledger-cli",
		Short: "Differential privacy budget ledger CLI",
		Long: `A command-line interface for working with differential privacy budgets
offline: converting guarantees between privacy models, composing planned
spends, inspecting ledger snapshots, calibrating mechanisms, and splitting
budgets across tasks or time windows.`,
		Version: constants.AppVersion,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.dpledger.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Initialize Viper
	cobra.OnInitialize(initConfig)

	// Add commands
	rootCmd.AddCommand(commands.NewConvertCmd())
	rootCmd.AddCommand(commands.NewComposeCmd())
	rootCmd.AddCommand(commands.NewInspectCmd())
	rootCmd.AddCommand(commands.NewScheduleCmd())
	rootCmd.AddCommand(commands.NewCalibrateCmd())
	rootCmd.AddCommand(commands.NewDashboardCmd())
	rootCmd.AddCommand(commands.NewConfigCmd())

	return rootCmd
}

func initConfig() {
	cfg, err := cliconfig.Load(cfgFile)
	cobra.CheckErr(err)
	commands.SetDefaults(cfg)

	if verbose && viper.ConfigFileUsed() != "" {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
