package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/fieldops/rove/core/dispatch"
	"github.com/fieldops/rove/core/geo"
	"github.com/fieldops/rove/core/metrics"
	"github.com/fieldops/rove/infra/mqtt"
	"github.com/fieldops/rove/infra/store"
	"github.com/fieldops/rove/simulator"
)

type Config struct {
	Dispatch dispatch.Config `json:"dispatch"`
	Fleet    FleetConfig     `json:"fleet"`
	Storage  store.Config    `json:"storage"`
	Metrics  metrics.Config  `json:"metrics"`
	MQTT     mqtt.Config     `json:"mqtt"`
	Logging  LoggingConfig   `json:"logging"`
	// AccountsPath is the JSON file seeding the credential queues.
	AccountsPath string `json:"accounts_path"`
}

// FleetConfig sizes the worker pool and its scan area.
type FleetConfig struct {
	// GridRows*GridCols is the pool size; each worker owns one grid cell at
	// bootstrap.
	GridRows int        `json:"grid_rows"`
	GridCols int        `json:"grid_cols"`
	Bounds   geo.Bounds `json:"bounds"`
	// ScanDelaySeconds floors the travel-time denominator so a worker that
	// just finished a visit is not assumed teleport-capable.
	ScanDelaySeconds float64          `json:"scan_delay_seconds"`
	Simulator        simulator.Config `json:"simulator"`
}

// SetDefaults applies sane defaults.
func (c *FleetConfig) SetDefaults() {
	if c.GridRows == 0 {
		c.GridRows = 4
	}
	if c.GridCols == 0 {
		c.GridCols = 4
	}
	if c.ScanDelaySeconds == 0 {
		c.ScanDelaySeconds = 10
	}
	c.Simulator.SetDefaults()
}

// Validate checks mandatory fields.
func (c FleetConfig) Validate() error {
	if c.GridRows <= 0 || c.GridCols <= 0 {
		return fmt.Errorf("fleet grid %dx%d is invalid", c.GridRows, c.GridCols)
	}
	if c.Bounds.Start.Lat >= c.Bounds.End.Lat || c.Bounds.Start.Lon >= c.Bounds.End.Lon {
		return fmt.Errorf("fleet bounds must run south-west to north-east")
	}
	return nil
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides. The callback maps R_A__B to a.b, so
	// the provider splits on the dots it produces.
	if err := k.Load(env.Provider("R_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "r_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.Dispatch.SetDefaults()
	cfg.Fleet.SetDefaults()
	cfg.Storage.SetDefaults()
	cfg.Metrics.SetDefaults()
	cfg.MQTT.SetDefaults()
	cfg.Logging.SetDefaults()
	if cfg.AccountsPath == "" {
		cfg.AccountsPath = "accounts.json"
	}
	if err := cfg.Dispatch.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Fleet.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Logging.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
