package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the strata configuration file (~/.config/strata/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	PresetsFile string `yaml:"presets_file"`
	Preset      string `yaml:"preset"`

	// Benchmark defaults
	Steps   *int64 `yaml:"steps"`
	Layers  *int64 `yaml:"layers"`
	QHeads  *int64 `yaml:"q_heads"`
	KVHeads *int64 `yaml:"kv_heads"`
	HeadDim *int64 `yaml:"head_dim"`
	Seed    *int64 `yaml:"seed"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "strata", "config.yaml")
}

// applyBenchConfig applies config file defaults to bench command variables
// when the corresponding CLI flag was not explicitly set.
func applyBenchConfig(c *cli.Command, cfg Config,
	preset *string, steps, layers, qHeads, kvHeads, headDim, seed *int64,
) {
	if cfg.Preset != "" && !c.IsSet("preset") {
		*preset = cfg.Preset
	}
	if cfg.Steps != nil && !c.IsSet("steps") {
		*steps = *cfg.Steps
	}
	if cfg.Layers != nil && !c.IsSet("layers") {
		*layers = *cfg.Layers
	}
	if cfg.QHeads != nil && !c.IsSet("q-heads") {
		*qHeads = *cfg.QHeads
	}
	if cfg.KVHeads != nil && !c.IsSet("kv-heads") {
		*kvHeads = *cfg.KVHeads
	}
	if cfg.HeadDim != nil && !c.IsSet("head-dim") {
		*headDim = *cfg.HeadDim
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		*seed = *cfg.Seed
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
