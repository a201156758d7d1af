package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/flate"
	"gopkg.in/yaml.v3"

	"github.com/crosspoint-reader/epubjpeg"
)

// configEnv names the environment variable consulted when --config is unset.
const configEnv = "EPUBJPEG_CONFIG"

// config holds conversion settings. Keys mirror the command-line flags.
type config struct {
	Quality      int    `yaml:"quality"`
	Workers      int    `yaml:"workers"`
	Strategy     string `yaml:"strategy"`
	Level        int    `yaml:"level"`
	MaxDimension int    `yaml:"max_dimension"`
	LogFormat    string `yaml:"log_format"`
	Verbose      bool   `yaml:"verbose"`
}

// defaultConfig returns the settings used when neither a file nor flags
// override them.
func defaultConfig() config {
	return config{
		Quality:   epubjpeg.DefaultQuality,
		Strategy:  "substitute",
		Level:     flate.DefaultCompression,
		LogFormat: "text",
	}
}

// loadConfig reads a YAML config file over the defaults. Unknown keys are
// rejected so typos do not silently fall back to defaults.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

// validate checks values the library does not check itself.
func (c config) validate() error {
	switch c.Strategy {
	case "substitute", "attribute":
	default:
		return fmt.Errorf("unknown strategy %q (want substitute or attribute)", c.Strategy)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", c.LogFormat)
	}
	return nil
}

// options converts the config into library options.
func (c config) options() epubjpeg.Options {
	opts := epubjpeg.Options{
		Quality:          c.Quality,
		Workers:          c.Workers,
		MaxDimension:     c.MaxDimension,
		CompressionLevel: c.Level,
		Rewriter:         epubjpeg.SubstitutionRewriter{},
	}
	if c.Level == flate.NoCompression {
		opts.CompressionLevel = epubjpeg.StoreLevel
	}
	if c.Strategy == "attribute" {
		opts.Rewriter = epubjpeg.AttributeRewriter{}
	}
	return opts
}
