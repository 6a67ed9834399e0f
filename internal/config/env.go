package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads .env files from the working directory and the user's
// config directories. Variables already present in the environment win.
func LoadEnvFiles() error {
	envPaths := []string{
		"./.env",
	}

	if home, err := os.UserHomeDir(); err == nil {
		envPaths = append(envPaths,
			filepath.Join(home, ".careminder", ".env"),
			filepath.Join(home, ".config", "careminder", ".env"),
		)
	}

	for _, path := range envPaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				return err
			}
		}
	}

	return nil
}

// GetEnvWithFallback returns the first non-empty variable among keys
func GetEnvWithFallback(keys ...string) string {
	for _, key := range keys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	return ""
}

func GetEnvDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// envAliases lets the usual vendor variable names stand in for the
// CAREMINDER_ ones
var envAliases = map[string][]string{
	"CAREMINDER_CHANNELS_TELEGRAM_BOT_TOKEN":    {"TELEGRAM_BOT_TOKEN"},
	"CAREMINDER_CHANNELS_DISCORD_TOKEN":         {"DISCORD_BOT_TOKEN", "DISCORD_TOKEN"},
	"CAREMINDER_CHANNELS_PUSH_CREDENTIALS_PATH": {"FIREBASE_CREDENTIALS_PATH", "GOOGLE_APPLICATION_CREDENTIALS"},
	"CAREMINDER_CHANNELS_HAPTIC_BROKER_URL":     {"MQTT_BROKER_URL"},
}

// ResolveEnvWithAliases reads canonicalKey, then its aliases in order
func ResolveEnvWithAliases(canonicalKey string) string {
	return GetEnvWithFallback(append([]string{canonicalKey}, envAliases[canonicalKey]...)...)
}
