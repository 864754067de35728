package main

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/tuiss/pkg/config"
)

var cliLogLevels = map[string]logrus.Level{
	"debug": logrus.DebugLevel,
	"info":  logrus.InfoLevel,
	"warn":  logrus.WarnLevel,
	"error": logrus.ErrorLevel,
}

// configureLogger builds the command logger. Precedence: --log-level, then --verbose,
// then log_level from an explicit --config file. Without any of them the CLI stays silent.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	logger := cfg.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())

	if s, _ := cmd.Flags().GetString("log-level"); s != "" {
		level, ok := cliLogLevels[strings.ToLower(s)]
		if !ok {
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", s)
		}
		logger.SetLevel(level)
		return logger, nil
	}

	switch verbose, _ := cmd.Flags().GetBool("verbose"); {
	case verbose:
		logger.SetLevel(logrus.DebugLevel)
	case configPath == "":
		logger.SetLevel(logrus.PanicLevel)
	}
	return logger, nil
}
