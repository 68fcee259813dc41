package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/inferloop/dpledger/pkg/models"
)

// CLIConfig carries the persisted CLI defaults. Command flags always win;
// the config file only supplies fallbacks for flags the caller left at
// their built-in defaults.
type CLIConfig struct {
	ServerURL     string          `mapstructure:"server_url" json:"server_url"`
	DefaultOutput string          `mapstructure:"default_output" json:"default_output"`
	DefaultFormat string          `mapstructure:"default_format" json:"default_format"`
	TargetDelta   float64         `mapstructure:"target_delta" json:"target_delta"`
	Compose       ComposeDefaults `mapstructure:"compose" json:"compose"`
	Preferences   Preferences     `mapstructure:"preferences" json:"preferences"`
}

// ComposeDefaults seeds the compose command's accounting knobs.
type ComposeDefaults struct {
	Method     string  `mapstructure:"method" json:"method"`
	DeltaPrime float64 `mapstructure:"delta_prime" json:"delta_prime,omitempty"`
}

// Preferences holds cosmetic output settings.
type Preferences struct {
	ColorOutput bool   `mapstructure:"color_output" json:"color_output"`
	TimeZone    string `mapstructure:"timezone" json:"timezone"`
}

// Load reads the CLI config from cfgFile, or from $HOME/.dpledger.yaml
// when no file is given. A missing file is not an error; the built-in
// defaults apply. Environment variables prefixed with DPLEDGER override
// file values.
func Load(cfgFile string) (*CLIConfig, error) {
	config := &CLIConfig{
		ServerURL:     "http://localhost:8080",
		DefaultOutput: "-",
		DefaultFormat: "text",
		TargetDelta:   models.DefaultTargetDelta,
		Compose: ComposeDefaults{
			Method: "basic",
		},
		Preferences: Preferences{
			ColorOutput: true,
			TimeZone:    "UTC",
		},
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".dpledger")
	}

	viper.SetEnvPrefix("DPLEDGER")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("server_url", config.ServerURL)
	viper.SetDefault("default_output", config.DefaultOutput)
	viper.SetDefault("default_format", config.DefaultFormat)
	viper.SetDefault("target_delta", config.TargetDelta)
	viper.SetDefault("compose.method", config.Compose.Method)
	viper.SetDefault("preferences.color_output", config.Preferences.ColorOutput)
	viper.SetDefault("preferences.timezone", config.Preferences.TimeZone)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return config, nil
}

// Save writes the config back to cfgFile, defaulting to
// $HOME/.dpledger.yaml.
func Save(config *CLIConfig, cfgFile string) error {
	if cfgFile == "" {
		cfgFile = DefaultPath()
		if cfgFile == "" {
			return fmt.Errorf("cannot resolve home directory for config file")
		}
	}

	v := viper.New()
	v.Set("server_url", config.ServerURL)
	v.Set("default_output", config.DefaultOutput)
	v.Set("default_format", config.DefaultFormat)
	v.Set("target_delta", config.TargetDelta)
	v.Set("compose.method", config.Compose.Method)
	v.Set("compose.delta_prime", config.Compose.DeltaPrime)
	v.Set("preferences.color_output", config.Preferences.ColorOutput)
	v.Set("preferences.timezone", config.Preferences.TimeZone)

	return v.WriteConfigAs(cfgFile)
}

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".dpledger.yaml")
}
