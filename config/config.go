// Package config loads and saves the daemon's own configuration: where the
// fleet document lives, which trojan binary to use for EEPROM settings,
// where to listen, and how loud to log. It is separate from the fleet YAML
// document fleet.Load/Save handle.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrorKind classifies a config.Error.
type ErrorKind int

const (
	// ConfigFormat means the file could not be read or parsed.
	ConfigFormat ErrorKind = iota
)

// Error is a structured config error.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func configFormatf(format string, args ...interface{}) *Error {
	return &Error{Kind: ConfigFormat, Msg: fmt.Sprintf(format, args...)}
}

// Config is the naomiboot daemon's own settings, distinct from the fleet
// document it points at.
type Config struct {
	// ListenAddr is a listen address, e.g. ":8080". It is loaded and saved
	// only; cmd/naomiboot does not bind it.
	ListenAddr string `yaml:"listen_addr"`
	// FleetPath is the path to the fleet YAML document (see fleet.Load).
	FleetPath string `yaml:"fleet_path"`
	// TrojanPath names a custom trojan binary to use in place of
	// settings.DefaultTrojan(). cmd/naomiboot does not read it; its bake
	// command takes --trojan instead.
	TrojanPath string `yaml:"trojan_path,omitempty"`
	// LogLevel is a logrus level name ("debug", "info", "warn", "error").
	// cmd/naomiboot does not apply it; its level comes from --verbose.
	LogLevel string `yaml:"log_level"`
}

// defaults mirror the teacher's CLI flag defaults: listen on all
// interfaces at a fixed port, info-level logging.
func defaults() Config {
	return Config{
		ListenAddr: ":19811",
		FleetPath:  "fleet.yaml",
		LogLevel:   "info",
	}
}

// Load reads a daemon config file, filling in defaults for anything the
// file leaves unset. A missing file is not an error: Load returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &cfg, nil
	}
	if err != nil {
		return nil, configFormatf("cannot read %s: %s", path, err)
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, configFormatf("invalid YAML in %s: %s", path, err)
	}
	return &cfg, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return configFormatf("cannot marshal config: %s", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return configFormatf("cannot write %s: %s", path, err)
	}
	return nil
}
