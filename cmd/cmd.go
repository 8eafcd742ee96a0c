// Package cmd implements the linkup subcommands. It is the only place that
// wires concrete drivers, listeners and process exit.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"grimm.is/linkup/internal/brand"
	"grimm.is/linkup/internal/bringup"
	"grimm.is/linkup/internal/config"
	"grimm.is/linkup/internal/i18n"
	"grimm.is/linkup/internal/logging"
)

// Printer is the global message printer for the CLI
var Printer = i18n.NewCLIPrinter()

// DefaultConfigPath is used when -config is not given. It honours
// LINKUP_CONFIG_DIR and LINKUP_PREFIX.
func DefaultConfigPath() string {
	return filepath.Join(brand.GetConfigDir(), brand.ConfigFileName)
}

// LoadSettings reads, validates and resolves a configuration file.
func LoadSettings(path string) (*config.Settings, error) {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return cfg.Resolve()
}

// SetupLogging installs the default logger described by s.
func SetupLogging(s *config.Settings) (*logging.Logger, error) {
	level, err := logging.ParseLevel(s.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := logging.New(logging.Config{
		Level:  level,
		Output: os.Stderr,
		JSON:   s.LogJSON,
	})
	logging.SetDefault(logger)
	return logger, nil
}

// FatalMessage formats err as "linkup: <stage>: <cause>". Errors without a
// stage are reported as "linkup: <err>".
func FatalMessage(err error) string {
	var (
		se      bringup.StageError
		cfgErr  *config.ConfigError
		valErrs config.ValidationErrors
	)
	switch {
	case errors.As(err, &se):
		cause := errors.Unwrap(se)
		if cause == nil {
			cause = se
		}
		return fmt.Sprintf("%s: %s: %v", brand.BinaryName, se.Stage(), cause)
	case errors.As(err, &cfgErr):
		return fmt.Sprintf("%s: %s: %s: %v", brand.BinaryName, bringup.StageConfig, cfgErr.Field, cfgErr.Err)
	case errors.As(err, &valErrs):
		return fmt.Sprintf("%s: %s: %v", brand.BinaryName, bringup.StageConfig, valErrs)
	default:
		return fmt.Sprintf("%s: %v", brand.BinaryName, err)
	}
}
