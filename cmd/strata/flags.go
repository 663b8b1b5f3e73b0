package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/strata/internal/config"
	"github.com/samcharles93/strata/internal/logger"
)

var presetsFile string

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "presets-file",
			Usage:       "path to a YAML or JSON presets file extending the built-ins",
			Destination: &presetsFile,
		},
	}
}

// buildRegistry loads the preset registry, extending the defaults from the
// presets file when one is configured.
func buildRegistry(cfg Config, c *cli.Command) (*config.Registry, error) {
	path := presetsFile
	if path == "" && !c.IsSet("presets-file") {
		path = cfg.PresetsFile
	}
	if path == "" {
		return config.Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open presets file: %w", err)
	}
	defer f.Close()

	switch filepath.Ext(path) {
	case ".json":
		return config.LoadJSON(f)
	default:
		return config.LoadYAML(f)
	}
}

// buildLogger constructs the process logger from the config file settings.
func buildLogger(cfg Config) logger.Logger {
	level := logger.ParseLevel(cfg.LogLevel)
	if cfg.LogFormat == "json" {
		return logger.JSON(os.Stderr, level)
	}
	return logger.Pretty(os.Stderr, level)
}
