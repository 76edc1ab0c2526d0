package config

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// LoggingConfig defines log verbosity and formatting.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `json:"level"`
	// Pretty forces the console writer regardless of APP_ENV.
	Pretty bool `json:"pretty"`
}

// SetDefaults applies sane defaults.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
}

// Validate checks the level is known.
func (c LoggingConfig) Validate() error {
	if _, err := zerolog.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("unknown log level %s", c.Level)
	}
	return nil
}

// Apply sets the global log level. Must run before any logger is created so
// the writer selection sees the pretty override.
func (c LoggingConfig) Apply() error {
	lvl, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	if c.Pretty {
		if err := os.Setenv("APP_ENV", "dev"); err != nil {
			return err
		}
	}
	return nil
}
