package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/inferloop/dpledger/cmd/cli/config"
)

// defaults holds the loaded CLI configuration. Explicit flags always win;
// these values only back-fill flags the caller left untouched.
var defaults = &config.CLIConfig{
	DefaultOutput: "-",
	DefaultFormat: "text",
}

// SetDefaults installs the loaded configuration as the fallback source
// for command flags. The root command calls this once during startup.
func SetDefaults(cfg *config.CLIConfig) {
	if cfg != nil {
		defaults = cfg
	}
}

func resolveFormat(cmd *cobra.Command, format string) string {
	if !cmd.Flags().Changed("format") && defaults.DefaultFormat != "" {
		return defaults.DefaultFormat
	}
	return format
}

func resolveOutput(cmd *cobra.Command, output string) string {
	if !cmd.Flags().Changed("output") && defaults.DefaultOutput != "" {
		return defaults.DefaultOutput
	}
	return output
}

func resolveTargetDelta(cmd *cobra.Command, targetDelta float64) float64 {
	if !cmd.Flags().Changed("target-delta") && defaults.TargetDelta > 0 {
		return defaults.TargetDelta
	}
	return targetDelta
}

// writeOutput writes rendered command output to path, or to stdout when
// path is "-" or empty.
func writeOutput(data []byte, path string) error {
	if path == "" || path == "-" {
		fmt.Print(string(data))
		return nil
	}
	return os.WriteFile(path, data, 0644)
}

// writeJSON marshals v with indentation and writes it to path.
func writeJSON(v interface{}, path string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return writeOutput(append(data, '\n'), path)
}

// sortedKeys returns the keys of a string-keyed map in sorted order, for
// stable text output.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
