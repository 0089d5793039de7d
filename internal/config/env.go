package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment keys that override the file.
const (
	EnvToken         = "BOT_TOKEN"
	EnvStorageDriver = "REMINDBOT_STORAGE_DRIVER"
	EnvStoragePath   = "REMINDBOT_STORAGE_PATH"
	EnvStorageDSN    = "REMINDBOT_STORAGE_DSN"
	EnvLogLevel      = "REMINDBOT_LOG_LEVEL"
)

// DefaultDotenv is loaded by LoadDotenv when no path is given.
const DefaultDotenv = "config.env"

// LoadDotenv loads KEY=VALUE pairs into the process environment. Variables that
// are already set keep their value. A missing file is not an error.
func LoadDotenv(path string) (loaded bool, err error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultDotenv
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ApplyEnv overlays non-empty environment values onto cfg.
// A nil getenv means os.Getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil {
		return
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Telegram.Token, EnvToken)
	set(&cfg.Storage.Driver, EnvStorageDriver)
	set(&cfg.Storage.Path, EnvStoragePath)
	set(&cfg.Storage.DSN, EnvStorageDSN)
	set(&cfg.Logging.Level, EnvLogLevel)
}
