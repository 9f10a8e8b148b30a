// Package config loads checker settings from an optional YAML file and
// E2FSCK_* environment variables.
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// Config holds settings that are not worth a command-line flag
type Config struct {
	MaxRestarts        int      `mapstructure:"max_restarts"`
	PossibleBlockSizes []uint32 `mapstructure:"possible_block_sizes"`
	LogLevel           int      `mapstructure:"log_level"`
	MountTable         string   `mapstructure:"mount_table"`
	Verbose            bool     `mapstructure:"verbose"`
}

// Load reads the configuration. An explicit path must exist; otherwise
// e2fsck.yaml is looked up in the usual places and its absence is fine.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("e2fsck")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.e2fsck")
		v.AddConfigPath("/etc/e2fsck")
	}

	v.SetDefault("max_restarts", 3)
	v.SetDefault("possible_block_sizes", []uint32{1024, 2048, 4096, 8192})
	v.SetDefault("log_level", 0)
	v.SetDefault("mount_table", "/proc/mounts")
	v.SetDefault("verbose", false)

	v.SetEnvPrefix("E2FSCK")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if cfg.MaxRestarts < 1 {
		return nil, fmt.Errorf("max_restarts must be at least 1, got %d", cfg.MaxRestarts)
	}
	if len(cfg.PossibleBlockSizes) == 0 {
		return nil, fmt.Errorf("possible_block_sizes must not be empty")
	}
	return &cfg, nil
}
