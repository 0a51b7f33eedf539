package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// Output formats
const (
	OutputText = "text"
	OutputJSON = "json"
)

// Config holds CLI configuration. Environment variables provide the
// defaults and persistent flags override them.
type Config struct {
	ServerURL string `env:"OUTLIER_SERVER" envDefault:"http://localhost:8080"`
	StateFile string `env:"OUTLIER_STATE_FILE"`
	Output    string `env:"OUTLIER_OUTPUT" envDefault:"text"`
	Verbose   bool   `env:"OUTLIER_VERBOSE"`
}

// LoadConfig reads the CLI configuration from the environment
func LoadConfig() (*Config, error) {
	c := &Config{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if c.StateFile == "" {
		c.StateFile = defaultStateFile()
	}
	return c, nil
}

// Validate checks the values that flags may have overridden
func (c *Config) Validate() error {
	if c.Output != OutputText && c.Output != OutputJSON {
		return fmt.Errorf("invalid output format %q: must be %s or %s", c.Output, OutputText, OutputJSON)
	}
	if c.ServerURL == "" {
		return fmt.Errorf("server URL is required")
	}
	return nil
}

func defaultStateFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".outlier", "state.db")
	}
	return filepath.Join(home, ".outlier", "state.db")
}
