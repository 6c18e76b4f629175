package config

import (
	"log/slog"
	"os"
)

// Environment variable names for overrides.
const (
	EnvConfig  = "DRIVESYNC_CONFIG"
	EnvStateDB = "DRIVESYNC_STATE_DB"
	EnvDevice  = "DRIVESYNC_DEVICE"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // DRIVESYNC_CONFIG: override config file path
	StateDB    string // DRIVESYNC_STATE_DB: state database override
	DeviceName string // DRIVESYNC_DEVICE: device name used in conflict copies
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides(logger *slog.Logger) EnvOverrides {
	o := EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		StateDB:    os.Getenv(EnvStateDB),
		DeviceName: os.Getenv(EnvDevice),
	}

	if logger != nil {
		logger.Debug("environment overrides read",
			slog.String("config_path", o.ConfigPath),
			slog.String("state_db", o.StateDB),
			slog.String("device_name", o.DeviceName),
		)
	}

	return o
}
