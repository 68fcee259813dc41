package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inferloop/dpledger/cmd/cli/config"
)

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the CLI configuration file",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved CLI configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeJSON(defaults, "-")
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := file
			if path == "" {
				path = config.DefaultPath()
				if path == "" {
					return fmt.Errorf("cannot resolve home directory for config file")
				}
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config file %s already exists", path)
			}
			if err := config.Save(defaults, path); err != nil {
				return err
			}
			fmt.Printf("Config written to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Target file (default $HOME/.dpledger.yaml)")

	return cmd
}
