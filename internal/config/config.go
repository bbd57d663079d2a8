package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds everything one extraction run needs.
type Config struct {
	BagFile   string        `yaml:"bag_file"`
	OutputDir string        `yaml:"output_dir"`
	Topic     string        `yaml:"image_topic"`
	Encoding  string        `yaml:"encoding"`
	Summary   bool          `yaml:"summary"`
	Logging   LoggingConfig `yaml:"logging"`
}

// LoggingConfig defines logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"console": true, "json": true}
)

// LoadFile reads YAML settings from path. The run fields can be left out of the file,
// they're usually given on the command line. An empty path yields the defaults.
func LoadFile(path string) (*Config, error) {
	var config Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	setDefaults(&config)
	return &config, nil
}

// SetArgs applies the positional arguments bag_file, output_dir, image_topic and encoding.
func (config *Config) SetArgs(args []string) error {
	if len(args) != 4 {
		return fmt.Errorf("expected 4 arguments (bag_file output_dir image_topic encoding), got %d", len(args))
	}

	config.BagFile = args[0]
	config.OutputDir = args[1]
	config.Topic = args[2]
	config.Encoding = args[3]
	return nil
}

// Validate checks that a run can start. Whether the topic names a known image kind is
// left to the extractor.
func (config *Config) Validate() error {
	if config.BagFile == "" {
		return fmt.Errorf("bag_file is required")
	}
	if config.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	if config.Topic == "" {
		return fmt.Errorf("image_topic is required")
	}
	if config.Encoding == "" {
		return fmt.Errorf("encoding is required")
	}

	if !validLogLevels[config.Logging.Level] {
		return fmt.Errorf("invalid log level '%s'. Valid levels: debug, info, warn, error", config.Logging.Level)
	}
	if !validLogFormats[config.Logging.Format] {
		return fmt.Errorf("invalid log format '%s'. Valid formats: console, json", config.Logging.Format)
	}

	return nil
}

// setDefaults applies default values for optional configuration fields
func setDefaults(config *Config) {
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "console"
	}
}
