package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for Careminder
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Rollover RolloverConfig `mapstructure:"rollover"`
	Channels ChannelsConfig `mapstructure:"channels"`
	Plan     PlanConfig     `mapstructure:"plan"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Address      string   `mapstructure:"address"`
	Port         int      `mapstructure:"port"`
	ReadTimeout  int      `mapstructure:"read_timeout"`
	WriteTimeout int      `mapstructure:"write_timeout"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// StorageConfig holds database settings
type StorageConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
	BadgerPath string `mapstructure:"badger_path"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AlertsConfig holds escalation and adherence settings
type AlertsConfig struct {
	EscalationGrace time.Duration `mapstructure:"escalation_grace"`
	Windows         WindowsConfig `mapstructure:"windows"`
}

// WindowsConfig holds the adherence window per care action kind
type WindowsConfig struct {
	Medication     WindowConfig `mapstructure:"medication"`
	PosturalChange WindowConfig `mapstructure:"postural_change"`
	Bathroom       WindowConfig `mapstructure:"bathroom"`
	Hydration      WindowConfig `mapstructure:"hydration"`
}

// WindowConfig is the tolerance before and after a scheduled instant
type WindowConfig struct {
	Before time.Duration `mapstructure:"before"`
	After  time.Duration `mapstructure:"after"`
}

// RolloverConfig controls the daily regeneration of recurring plans
type RolloverConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// PlanConfig points at an optional care plan file
type PlanConfig struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"`
}

// ChannelsConfig holds alert surface settings
type ChannelsConfig struct {
	Console  ConsoleConfig  `mapstructure:"console"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Discord  DiscordConfig  `mapstructure:"discord"`
	Push     PushConfig     `mapstructure:"push"`
	Tone     ToneConfig     `mapstructure:"tone"`
	Haptic   HapticConfig   `mapstructure:"haptic"`
}

// ConsoleConfig holds terminal banner settings
type ConsoleConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TelegramConfig holds Telegram bot settings
type TelegramConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	BotToken      string  `mapstructure:"bot_token"`
	ChatIDs       []int64 `mapstructure:"chat_ids"`
	RatePerMinute int     `mapstructure:"rate_per_minute"`
}

// DiscordConfig holds Discord bot settings
type DiscordConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Token     string `mapstructure:"token"`
	ChannelID string `mapstructure:"channel_id"`
}

// PushConfig holds Firebase Cloud Messaging settings
type PushConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	CredentialsPath string   `mapstructure:"credentials_path"`
	DeviceTokens    []string `mapstructure:"device_tokens"`
}

// ToneConfig holds audio tone settings
type ToneConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	PlayerCommand string `mapstructure:"player_command"`
	SampleRate    int    `mapstructure:"sample_rate"`
}

// HapticConfig holds wearable vibration settings
type HapticConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	BrokerURL       string        `mapstructure:"broker_url"`
	Topic           string        `mapstructure:"topic"`
	ClientID        string        `mapstructure:"client_id"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

// Load loads configuration from file, env, and defaults
func Load(configPath, dataDir string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if dataDir == "" {
		dataDir = getDefaultDataDir()
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	v.Set("storage.data_dir", dataDir)
	v.SetDefault("storage.sqlite_path", filepath.Join(dataDir, "careminder.db"))
	v.SetDefault("storage.badger_path", filepath.Join(dataDir, "journal"))

	if configPath == "" {
		configPath = filepath.Join(dataDir, "careminder.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Environment variables (CAREMINDER_SERVER_PORT, CAREMINDER_ALERTS_ESCALATION_GRACE, etc.)
	v.SetEnvPrefix("CAREMINDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.allow_origins", []string{"*"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("alerts.escalation_grace", "5m")
	v.SetDefault("alerts.windows.medication.before", "90m")
	v.SetDefault("alerts.windows.medication.after", "90m")
	v.SetDefault("alerts.windows.postural_change.before", "60m")
	v.SetDefault("alerts.windows.postural_change.after", "3h")
	v.SetDefault("alerts.windows.bathroom.before", "60m")
	v.SetDefault("alerts.windows.bathroom.after", "60m")
	v.SetDefault("alerts.windows.hydration.before", "60m")
	v.SetDefault("alerts.windows.hydration.after", "60m")

	v.SetDefault("rollover.enabled", true)
	v.SetDefault("rollover.schedule", "5 0 * * *")

	v.SetDefault("channels.console.enabled", true)
	v.SetDefault("channels.telegram.rate_per_minute", 20)
	v.SetDefault("channels.tone.player_command", "aplay")
	v.SetDefault("channels.tone.sample_rate", 22050)
	v.SetDefault("channels.haptic.topic", "careminder/haptic")
	v.SetDefault("channels.haptic.client_id", "careminder")
	v.SetDefault("channels.haptic.breaker_failures", 3)
	v.SetDefault("channels.haptic.breaker_timeout", "30s")
}

func getDefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "careminder")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}

	return filepath.Join(home, ".local", "share", "careminder")
}

// loadEnvOverrides applies the bare vendor variables (TELEGRAM_BOT_TOKEN, ...)
// that operators usually already have exported.
func loadEnvOverrides(cfg *Config) {
	if v := ResolveEnvWithAliases("CAREMINDER_CHANNELS_TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Channels.Telegram.BotToken = v
	}
	if v := ResolveEnvWithAliases("CAREMINDER_CHANNELS_DISCORD_TOKEN"); v != "" {
		cfg.Channels.Discord.Token = v
	}
	if v := ResolveEnvWithAliases("CAREMINDER_CHANNELS_PUSH_CREDENTIALS_PATH"); v != "" {
		cfg.Channels.Push.CredentialsPath = v
	}
	if v := ResolveEnvWithAliases("CAREMINDER_CHANNELS_HAPTIC_BROKER_URL"); v != "" {
		cfg.Channels.Haptic.BrokerURL = v
	}

	// Comma separated lists are easier to pass through the environment.
	if ids := os.Getenv("CAREMINDER_CHANNELS_TELEGRAM_CHAT_IDS"); ids != "" {
		cfg.Channels.Telegram.ChatIDs = cfg.Channels.Telegram.ChatIDs[:0]
		for _, part := range strings.Split(ids, ",") {
			if id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64); err == nil {
				cfg.Channels.Telegram.ChatIDs = append(cfg.Channels.Telegram.ChatIDs, id)
			}
		}
	}
	if tokens := os.Getenv("CAREMINDER_CHANNELS_PUSH_DEVICE_TOKENS"); tokens != "" {
		cfg.Channels.Push.DeviceTokens = strings.Split(tokens, ",")
	}
}

func validate(cfg *Config) error {
	if cfg.Alerts.EscalationGrace <= 0 {
		return fmt.Errorf("alerts.escalation_grace must be positive")
	}

	windows := map[string]WindowConfig{
		"medication":      cfg.Alerts.Windows.Medication,
		"postural_change": cfg.Alerts.Windows.PosturalChange,
		"bathroom":        cfg.Alerts.Windows.Bathroom,
		"hydration":       cfg.Alerts.Windows.Hydration,
	}
	for name, w := range windows {
		if w.Before < 0 || w.After < 0 {
			return fmt.Errorf("alerts.windows.%s must not be negative", name)
		}
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.BotToken == "" {
		return fmt.Errorf("channels.telegram.bot_token is required when telegram is enabled")
	}
	if cfg.Channels.Discord.Enabled && (cfg.Channels.Discord.Token == "" || cfg.Channels.Discord.ChannelID == "") {
		return fmt.Errorf("channels.discord.token and channel_id are required when discord is enabled")
	}
	if cfg.Channels.Push.Enabled && cfg.Channels.Push.CredentialsPath == "" {
		return fmt.Errorf("channels.push.credentials_path is required when push is enabled")
	}
	if cfg.Channels.Haptic.Enabled && cfg.Channels.Haptic.BrokerURL == "" {
		return fmt.Errorf("channels.haptic.broker_url is required when haptic is enabled")
	}

	if cfg.Rollover.Enabled && cfg.Rollover.Schedule == "" {
		return fmt.Errorf("rollover.schedule is required when rollover is enabled")
	}

	return nil
}
