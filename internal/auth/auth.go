// Package auth resolves the Google Maps API key. Priority order: explicit
// flag, GOOGLE_MAPS_API_KEY environment variable, then the config file at
// ~/.streetview-dl/config.json.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvVar is the environment variable consulted after the CLI flag.
const EnvVar = "GOOGLE_MAPS_API_KEY"

// ErrNoAPIKey means no key was found in any source; the CLI prompts
// interactively in that case.
var ErrNoAPIKey = errors.New("no Google Maps API key configured")

// configDirName keeps the original dotfile location.
const configDirName = ".streetview-dl"

// ConfigPath returns the config file location, creating the directory if
// needed.
func ConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate home directory: %w", err)
	}
	dir := filepath.Join(home, configDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return filepath.Join(dir, "config.json"), nil
}

// load reads the config file into a viper instance. A missing file is not
// an error.
func load() (*viper.Viper, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			return v, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return v, nil
}

// ResolveKey returns the API key from the highest-priority source.
func ResolveKey(flagKey string) (string, error) {
	if flagKey != "" {
		return flagKey, nil
	}
	if envKey := os.Getenv(EnvVar); envKey != "" {
		return envKey, nil
	}

	v, err := load()
	if err != nil {
		return "", err
	}
	if key := v.GetString("api_key"); key != "" {
		return key, nil
	}
	return "", ErrNoAPIKey
}

// SaveKey persists the key to the config file for future runs.
func SaveKey(key string) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	v, err := load()
	if err != nil {
		return err
	}
	v.Set("api_key", key)
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// StoredKey returns the key from the config file only, for the configure
// flow's "current key" display.
func StoredKey() (string, error) {
	v, err := load()
	if err != nil {
		return "", err
	}
	return v.GetString("api_key"), nil
}

// ValidateKey checks the basic shape of a Google API key: an "AIza" prefix
// and at least 30 characters. The length check is deliberately loose so
// future key formats are not rejected outright.
func ValidateKey(key string) bool {
	return len(key) >= 30 && strings.HasPrefix(key, "AIza")
}

// Redact shortens a key for display.
func Redact(key string) string {
	if len(key) < 12 {
		return "****"
	}
	return key[:8] + "..." + key[len(key)-4:]
}

// TelemetrySettings reports the opt-in telemetry configuration. Telemetry
// is off unless the config file enables it and provides a project key.
func TelemetrySettings() (enabled bool, projectKey string) {
	v, err := load()
	if err != nil {
		return false, ""
	}
	return v.GetBool("telemetry.enabled"), v.GetString("telemetry.api_key")
}
