package lattice

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Default d-spacing search range in Angstroms
const (
	DefaultMinD = 3.0
	DefaultMaxD = 15.0
)

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	return &Config{
		Indexing: DefaultIndexConfig(DefaultMinD, DefaultMaxD),
		Cells:    DefaultScanOptions(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		MQTT: MQTTConfig{
			PublishPrefix: "ubindex",
			ClientID:      "ubindex",
		},
	}
}

// LoadConfig loads the configuration from a YAML file.
// Fields absent from the file keep their DefaultConfig values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Validate checks the numeric bounds and sample definitions
func (c *Config) Validate() error {
	if err := c.Indexing.Validate(); err != nil {
		return fmt.Errorf("indexing: %w", err)
	}
	if c.Cells.MaxScalarError < 0 || math.IsNaN(c.Cells.MaxScalarError) {
		return fmt.Errorf("cells.maxScalarError must be >= 0: %w", ErrInvalidConfiguration)
	}
	if c.Cells.Workers < 0 {
		return fmt.Errorf("cells.workers must be >= 0: %w", ErrInvalidConfiguration)
	}

	seen := make(map[string]bool, len(c.Samples))
	for i, sc := range c.Samples {
		if sc.ID == "" {
			return fmt.Errorf("sample[%d].id is required: %w", i, ErrInvalidConfiguration)
		}
		if seen[sc.ID] {
			return fmt.Errorf("sample %q defined twice: %w", sc.ID, ErrInvalidConfiguration)
		}
		seen[sc.ID] = true
		if sc.Topic == "" && !sc.HasAPI() {
			return fmt.Errorf("sample %s needs a topic or an apiUrl: %w", sc.ID, ErrInvalidConfiguration)
		}
	}
	return nil
}
