package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/marmos91/govxi11/internal/logger"
	"github.com/spf13/viper"
)

// WatchConfig loads the file at configPath and calls onChange with the
// reloaded configuration every time the file is written. Reloads that fail
// to parse or validate are logged and skipped.
//
// The watch lasts for the life of the process.
func WatchConfig(configPath string, onChange func(*Config)) (*Config, error) {
	if configPath == "" {
		configPath = GetDefaultConfigPath()
	}

	v := viper.New()
	setupViper(v, configPath)
	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		next, err := decode(v)
		if err != nil {
			logger.Warn("ignoring invalid configuration change", "file", e.Name, logger.KeyError, err)
			return
		}
		logger.Info("configuration reloaded", "file", e.Name, "op", e.Op.String())
		onChange(next)
	})
	v.WatchConfig()

	return cfg, nil
}
