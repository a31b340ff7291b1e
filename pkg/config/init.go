package config

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/danghamo/haulnav/pkg/logger"
)

// Initialize loads configuration, sets up the global logger and keeps the
// log level in sync with the config file.
func Initialize() (*Config, *logger.Logger, error) {
	cfg, err := Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	loggerCfg := logger.Config{
		Level:       logger.ParseLevel(cfg.Log.Level),
		Environment: cfg.Log.Environment,
		Encoding:    cfg.Log.Encoding,
	}

	appLogger, err := logger.New(loggerCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	logger.SetGlobalLogger(appLogger)

	watching := Watch(func(next *Config) {
		level := logger.ParseLevel(next.Log.Level)
		if level != appLogger.Level() {
			appLogger.SetLevel(level)
			appLogger.Info("Log level changed", zap.String("level", string(level)))
		}
	}, func(err error) {
		appLogger.Warn("Ignoring invalid configuration change", zap.Error(err))
	})

	fields := map[string]interface{}{
		"environment":         cfg.Server.Environment,
		"server_port":         cfg.Server.Port,
		"directions_provider": cfg.Directions.Provider,
		"locale":              cfg.Navigation.Locale,
		"log_level":           cfg.Log.Level,
		"config_watch":        watching,
	}
	appLogger.WithFields(fields).Info("Configuration and logger initialized successfully")

	return cfg, appLogger, nil
}
