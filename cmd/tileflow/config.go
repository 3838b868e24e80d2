package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the tileflow configuration file
// (~/.config/tileflow/config.yaml).
type Config struct {
	BundlePath string `yaml:"bundle_path"`

	// Server
	ServerAddress string `yaml:"server_address"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "tileflow", "config.yaml")
}

// applyRunConfig applies config file defaults shared by the bundle-reading
// commands when the corresponding CLI flag was not explicitly set.
func applyRunConfig(c *cli.Command, cfg Config) {
	if cfg.BundlePath != "" && !c.IsSet("bundle") {
		bundlePath = cfg.BundlePath
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyServeConfig additionally covers the server address.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	applyRunConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file
// doesn't exist.
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
