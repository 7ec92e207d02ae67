package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables overriding the file configuration.
const (
	EnvRadioURL   = "CLASSRADIO_RADIO_URL"
	EnvSerialPort = "CLASSRADIO_SERIAL_PORT"
	EnvLogLevel   = "CLASSRADIO_LOG_LEVEL"
)

// LoadEnv loads the given dotenv files into the process environment. Missing
// files are skipped and variables already set are kept.
func LoadEnv(files ...string) error {
	for _, file := range files {
		err := godotenv.Load(file)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg with the CLASSRADIO_* variables that are set.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvRadioURL); v != "" {
		cfg.Radio.URL = v
	}
	if v := os.Getenv(EnvSerialPort); v != "" {
		cfg.Proxy.SerialPort = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
}
