package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/flexlink/pkg/config"
)

// configureLogger creates a logger with the appropriate log level based on flags.
// --log-level wins over --verbose, which wins over a log_level from an explicit
// --config file. With none of them the logger is effectively silent.
func configureLogger(cmd *cobra.Command, verboseFlagName string, cfg *config.Config) (*logrus.Logger, error) {
	logLevel := logrus.PanicLevel

	logLevelStr, _ := cmd.Flags().GetString("log-level")
	configPath, _ := cmd.Flags().GetString("config")
	switch {
	case logLevelStr != "":
		switch logLevelStr {
		case "debug":
			logLevel = logrus.DebugLevel
		case "info":
			logLevel = logrus.InfoLevel
		case "warn":
			logLevel = logrus.WarnLevel
		case "error":
			logLevel = logrus.ErrorLevel
		default:
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", logLevelStr)
		}
	case verboseFlagName != "" && flagBool(cmd, verboseFlagName):
		logLevel = logrus.DebugLevel
	case configPath != "" && cfg != nil:
		return cfg.NewLogger(), nil
	}

	logger := logrus.New()
	logger.SetLevel(logLevel)
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger, nil
}

func flagBool(cmd *cobra.Command, name string) bool {
	v, _ := cmd.Flags().GetBool(name)
	return v
}

// loadConfig reads --config, or the defaults when it is not given
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}
