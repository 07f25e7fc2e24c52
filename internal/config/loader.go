package config

import (
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// ProjectConfigFile is the name of the project-level config file.
	ProjectConfigFile = "changeops.yaml"
	// UserConfigDir is the directory for user-level config.
	UserConfigDir = ".config/changeops"
	// UserConfigFile is the name of the user-level config file.
	UserConfigFile = "config.yaml"
)

// Loader handles configuration loading with layered precedence.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a new configuration loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load loads configuration with layered precedence:
//  1. Default config
//  2. User config (~/.config/changeops/config.yaml)
//  3. Project config (changeops.yaml in the current directory)
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	userConfigPath := l.userConfigPath()
	if userConfig, err := LoadFromFile(userConfigPath); err == nil {
		l.logger.Debug("loaded user config", slog.String("path", userConfigPath))
		cfg.Merge(userConfig)
	} else if !os.IsNotExist(err) {
		l.logger.Warn("failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
	}

	projectConfigPath := ProjectConfigFile
	if projectConfig, err := LoadFromFile(projectConfigPath); err == nil {
		l.logger.Debug("loaded project config", slog.String("path", projectConfigPath))
		cfg.Merge(projectConfig)
	} else if !os.IsNotExist(err) {
		l.logger.Warn("failed to load project config", slog.String("path", projectConfigPath), slog.String("error", err.Error()))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.ApplyCapabilities()
	return cfg, nil
}

// EnsureUserConfig creates the user config file with defaults if it
// doesn't already exist.
func (l *Loader) EnsureUserConfig() error {
	userConfigPath := l.userConfigPath()
	if _, err := os.Stat(userConfigPath); err == nil {
		return nil
	}

	cfg := DefaultConfig()
	if err := cfg.SaveToFile(userConfigPath); err != nil {
		return err
	}
	l.logger.Info("created default user config", slog.String("path", userConfigPath))
	return nil
}

func (l *Loader) userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}
