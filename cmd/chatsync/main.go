package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.chatsync/config.toml.
type Config struct {
	Default ConfigDefault `toml:"default"`
	Auth    ConfigAuth    `toml:"auth"`
}

// ConfigDefault holds general client settings.
type ConfigDefault struct {
	BaseURL      string  `toml:"base_url"`
	PollInterval string  `toml:"poll_interval"`
	LogLevel     string  `toml:"log_level"`
	RateLimit    float64 `toml:"rate_limit"`
}

// ConfigAuth locates the token store. The token itself never lives in the
// config file.
type ConfigAuth struct {
	StoreDir string `toml:"store_dir"`
}

const defaultPollInterval = 10 * time.Second

// pollInterval parses the configured interval, falling back to the default.
func (c *Config) pollInterval() (time.Duration, error) {
	if c.Default.PollInterval == "" {
		return defaultPollInterval, nil
	}
	d, err := time.ParseDuration(c.Default.PollInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid poll_interval %q: %w", c.Default.PollInterval, err)
	}
	return d, nil
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.chatsync, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".chatsync")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// tokenDir is where the pebble token store lives.
func tokenDir(cfg *Config) (string, error) {
	if cfg.Auth.StoreDir != "" {
		return cfg.Auth.StoreDir, nil
	}
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "token"), nil
}

// loadConfig reads and parses the config file, then applies environment
// overrides. If the file does not exist, it starts from a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	cfg, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// envKeys maps config keys to the variables that override them.
var envKeys = map[string]string{
	"default.base_url":      "CHATSYNC_BASE_URL",
	"default.log_level":     "CHATSYNC_LOG_LEVEL",
	"default.poll_interval": "CHATSYNC_POLL_INTERVAL",
}

// applyEnv lets CHATSYNC_* variables (or a .env file) override the file.
func applyEnv(cfg *Config) error {
	for key, env := range envKeys {
		v := os.Getenv(env)
		if v == "" {
			continue
		}
		if err := setConfigValue(cfg, key, v); err != nil {
			return fmt.Errorf("%s: %w", env, err)
		}
	}
	return nil
}

// loadDotenv applies a .env file when one exists.
func loadDotenv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("cannot load %s: %w", path, err)
	}
	return nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "default.base_url").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.base_url)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		switch field {
		case "base_url":
			cfg.Default.BaseURL = value
		case "poll_interval":
			if _, err := time.ParseDuration(value); err != nil {
				return fmt.Errorf("invalid duration %q: %w", value, err)
			}
			cfg.Default.PollInterval = value
		case "log_level":
			cfg.Default.LogLevel = value
		case "rate_limit":
			rps, err := strconv.ParseFloat(value, 64)
			if err != nil || rps < 0 {
				return fmt.Errorf("rate_limit must be a non-negative number, got %q", value)
			}
			cfg.Default.RateLimit = rps
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "auth":
		switch field {
		case "store_dir":
			cfg.Auth.StoreDir = value
		default:
			return fmt.Errorf("unknown field %q in section [auth]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, auth)", section)
	}
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var rootCmd = &cobra.Command{
	Use:   "chatsync",
	Short: "Chat sync CLI",
	Long:  "Command-line client for the coaching chat API.\nSign in, list conversations, send messages and watch for updates.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := loadDotenv(".env"); err != nil {
			slog.Warn("dotenv_load_failed", "error", err)
		}
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
