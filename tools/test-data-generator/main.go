package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/dpledger/pkg/models"
)

// test-data-generator produces synthetic privacy-spend workloads. The
// output feeds `dpledger-cli compose --input` and makes a convenient
// corpus for load-testing a running server.

type Config struct {
	NumEvents    int           `json:"num_events"`
	TimeInterval time.Duration `json:"time_interval"`
	OutputFormat string        `json:"output_format"` // json, csv
	OutputFile   string        `json:"output_file"`
	Seed         int64         `json:"seed"`
	Profiles     []Profile     `json:"profiles"`
	Jitter       JitterConfig  `json:"jitter"`
}

// Profile describes one class of query in the workload. Events are drawn
// from the profiles in proportion to their weights.
type Profile struct {
	Name      string  `json:"name"`
	Mechanism string  `json:"mechanism"` // laplace, gaussian, ...
	Model     string  `json:"model"`     // pure_dp, cdp, zcdp, ...
	Epsilon   float64 `json:"epsilon"`
	Delta     float64 `json:"delta"`
	Weight    float64 `json:"weight"`
}

type JitterConfig struct {
	Enabled bool    `json:"enabled"`
	Type    string  `json:"type"`  // gaussian, uniform
	Level   float64 `json:"level"` // relative spread applied to epsilon
}

type Generator struct {
	config *Config
	logger *logrus.Logger
	rand   *rand.Rand
}

func main() {
	var (
		configFile = flag.String("config", "", "Configuration file path")
		numEvents  = flag.Int("events", 100, "Number of privacy events to generate")
		output     = flag.String("output", "test_events.json", "Output file")
		format     = flag.String("format", "json", "Output format (json/csv)")
		seed       = flag.Int64("seed", 0, "Random seed (0 seeds from the clock)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	var config *Config
	if *configFile != "" {
		var err error
		config, err = loadConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	} else {
		config = getDefaultConfig()
		config.NumEvents = *numEvents
		config.OutputFile = *output
		config.OutputFormat = *format
		config.Seed = *seed
	}

	generator := NewGenerator(config, logger)

	logger.WithFields(logrus.Fields{
		"num_events":    config.NumEvents,
		"profiles":      len(config.Profiles),
		"output_file":   config.OutputFile,
		"output_format": config.OutputFormat,
	}).Info("Starting workload generation")

	events, err := generator.Generate()
	if err != nil {
		log.Fatalf("Failed to generate events: %v", err)
	}

	if err := generator.SaveToFile(events, config.OutputFile, config.OutputFormat); err != nil {
		log.Fatalf("Failed to save events: %v", err)
	}

	logger.WithFields(logrus.Fields{
		"events_generated": len(events),
		"output_file":      config.OutputFile,
	}).Info("Workload generation completed")
}

func NewGenerator(config *Config, logger *logrus.Logger) *Generator {
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		config: config,
		logger: logger,
		rand:   rand.New(rand.NewSource(seed)),
	}
}

func (g *Generator) Generate() ([]models.PrivacyEvent, error) {
	if len(g.config.Profiles) == 0 {
		return nil, fmt.Errorf("no profiles configured")
	}
	for i, profile := range g.config.Profiles {
		if _, err := models.ParsePrivacyModel(profile.Model); err != nil {
			return nil, fmt.Errorf("profile %d (%s): %w", i, profile.Name, err)
		}
	}

	interval := g.config.TimeInterval
	if interval <= 0 {
		interval = time.Minute
	}
	now := time.Now().UTC()

	events := make([]models.PrivacyEvent, g.config.NumEvents)
	for i := range events {
		profile := g.pickProfile()
		event := models.PrivacyEvent{
			ID:          fmt.Sprintf("evt-%06d", i),
			Epsilon:     g.jitterEpsilon(profile.Epsilon),
			Delta:       profile.Delta,
			Description: profile.Name,
			Model:       models.PrivacyModel(profile.Model),
			Mechanism:   profile.Mechanism,
			Timestamp:   now.Add(-time.Duration(g.config.NumEvents-i-1) * interval),
		}
		if err := event.Validate(); err != nil {
			return nil, fmt.Errorf("event %d failed validation: %w", i, err)
		}
		events[i] = event
	}

	return events, nil
}

// pickProfile draws a profile in proportion to its weight. Profiles with
// no weight set count as weight 1.
func (g *Generator) pickProfile() Profile {
	total := 0.0
	for _, profile := range g.config.Profiles {
		total += profileWeight(profile)
	}

	target := g.rand.Float64() * total
	for _, profile := range g.config.Profiles {
		target -= profileWeight(profile)
		if target < 0 {
			return profile
		}
	}
	return g.config.Profiles[len(g.config.Profiles)-1]
}

func profileWeight(profile Profile) float64 {
	if profile.Weight <= 0 {
		return 1
	}
	return profile.Weight
}

// jitterEpsilon spreads epsilon around the profile value so corpora are
// not perfectly uniform. The factor is clamped to keep epsilon positive.
func (g *Generator) jitterEpsilon(epsilon float64) float64 {
	if !g.config.Jitter.Enabled || g.config.Jitter.Level <= 0 {
		return epsilon
	}

	var factor float64
	switch g.config.Jitter.Type {
	case "gaussian":
		factor = 1 + g.rand.NormFloat64()*g.config.Jitter.Level
	default:
		factor = 1 + (g.rand.Float64()-0.5)*g.config.Jitter.Level
	}
	if factor < 0.01 {
		factor = 0.01
	}
	return epsilon * factor
}

func (g *Generator) SaveToFile(events []models.PrivacyEvent, filename, format string) error {
	switch format {
	case "json":
		return g.saveAsJSON(events, filename)
	case "csv":
		return g.saveAsCSV(events, filename)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func (g *Generator) saveAsJSON(events []models.PrivacyEvent, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")

	// The wrapper key matches what `dpledger-cli compose --input` reads;
	// the metadata block is ignored on load.
	return encoder.Encode(map[string]interface{}{
		"metadata": map[string]interface{}{
			"generated_at": time.Now().Format(time.RFC3339),
			"generator":    "test-data-generator",
			"version":      "1.0.0",
			"event_count":  len(events),
		},
		"events": events,
	})
}

func (g *Generator) saveAsCSV(events []models.PrivacyEvent, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	_, err = file.WriteString("id,description,mechanism,model,epsilon,delta,timestamp\n")
	if err != nil {
		return err
	}

	for _, event := range events {
		line := fmt.Sprintf("%s,%s,%s,%s,%g,%g,%s\n",
			event.ID, event.Description, event.Mechanism, event.Model,
			event.Epsilon, event.Delta, event.Timestamp.Format(time.RFC3339))
		if _, err := file.WriteString(line); err != nil {
			return err
		}
	}

	return nil
}

func loadConfig(filename string) (*Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var config Config
	if err := json.NewDecoder(file).Decode(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func getDefaultConfig() *Config {
	return &Config{
		NumEvents:    100,
		TimeInterval: time.Minute,
		OutputFormat: "json",
		OutputFile:   "test_events.json",
		Profiles: []Profile{
			{
				Name:      "count query",
				Mechanism: string(models.MechanismLaplace),
				Model:     string(models.PrivacyModelPureDP),
				Epsilon:   0.1,
				Weight:    4,
			},
			{
				Name:      "mean release",
				Mechanism: string(models.MechanismGaussian),
				Model:     string(models.PrivacyModelCDP),
				Epsilon:   0.5,
				Delta:     1e-7,
				Weight:    2,
			},
			{
				Name:      "model update",
				Mechanism: string(models.MechanismGaussian),
				Model:     string(models.PrivacyModelCDP),
				Epsilon:   1.0,
				Delta:     1e-6,
				Weight:    1,
			},
		},
		Jitter: JitterConfig{
			Enabled: true,
			Type:    "uniform",
			Level:   0.2,
		},
	}
}
