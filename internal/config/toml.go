// Package config provides configuration helpers and TOML parsing.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// FileConfig represents the TOML configuration file.
type FileConfig struct {
	Server  ServerConfig  `toml:"server"`
	Capture CaptureConfig `toml:"capture"`
	Log     LogConfig     `toml:"log"`
}

// ServerConfig maps grading-service connection settings.
type ServerConfig struct {
	BaseURL   *string `toml:"base-url"`
	TimeoutMS *int    `toml:"timeout-ms"`
}

// CaptureConfig maps capture-device settings. Command is a shell-free argv
// template; the {output} placeholder receives the destination path.
type CaptureConfig struct {
	Dir     *string   `toml:"dir"`
	Command *[]string `toml:"command"`
	Keep    *bool     `toml:"keep"`
}

// LogConfig maps log output settings.
type LogConfig struct {
	Path  *string `toml:"path"`
	Level *string `toml:"level"`
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}
