package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables that override file settings.
const (
	EnvDeviceName = "GASNODE_DEVICE_NAME"
	EnvRadioPort  = "GASNODE_RADIO_PORT"
	EnvLogDir     = "GASNODE_LOG_DIR"
	EnvLogLevel   = "GASNODE_LOG_LEVEL"
)

// ApplyEnv loads the given dotenv files (".env" when none are given) into the
// process environment and applies the GASNODE_* overrides. Missing dotenv files
// are not an error; variables already set in the environment win over the files.
func (c *Config) ApplyEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load env file: %w", err)
	}

	if v := os.Getenv(EnvDeviceName); v != "" {
		c.Device.Name = v
	}
	if v := os.Getenv(EnvRadioPort); v != "" {
		c.Radio.Port = v
	}
	if v := os.Getenv(EnvLogDir); v != "" {
		c.Log.Dir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}

	return nil
}
