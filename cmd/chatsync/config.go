package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configShowCmd.Flags().BoolVar(&configShowJSON, "json", false, "Output as JSON")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage chatsync configuration",
	Long:  "View or modify the chatsync CLI configuration stored in ~/.chatsync/config.toml.",
}

var configShowJSON bool

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the settings commands will use",
	Long: "Print every setting with the value commands will actually use and where it\n" +
		"comes from: the config file, an environment variable or the built-in default.",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		entries, err := effectiveConfig(path)
		if err != nil {
			return err
		}
		if configShowJSON {
			return printJSON(entries)
		}

		if _, err := os.Stat(path); err != nil {
			fmt.Printf("Config file: %s (not created yet)\n\n", path)
		} else {
			fmt.Printf("Config file: %s\n\n", path)
		}
		for _, e := range entries {
			fmt.Printf("  %-22s %-36s %s\n", e.Key, valueOrDefault(e.Value, "(unset)"), e.Source)
		}
		return nil
	},
}

// configEntry is one effective setting.
type configEntry struct {
	Key    string `json:"key"`
	Value  string `json:"value"`
	Source string `json:"source"`
}

// effectiveConfig resolves each setting the way loadConfig and openApp do,
// recording which layer supplied it.
func effectiveConfig(path string) ([]configEntry, error) {
	file, err := readConfigFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	var rate string
	if file.Default.RateLimit > 0 {
		rate = strconv.FormatFloat(file.Default.RateLimit, 'f', -1, 64)
	}
	entries := []configEntry{
		{Key: "default.base_url", Value: file.Default.BaseURL},
		{Key: "default.poll_interval", Value: file.Default.PollInterval},
		{Key: "default.log_level", Value: file.Default.LogLevel},
		{Key: "default.rate_limit", Value: rate},
		{Key: "auth.store_dir", Value: file.Auth.StoreDir},
	}
	defaults := map[string]string{
		"default.poll_interval": defaultPollInterval.String(),
		"default.log_level":     "info",
		"default.rate_limit":    "unlimited",
		"auth.store_dir":        filepath.Join(filepath.Dir(path), "token"),
	}

	for i := range entries {
		e := &entries[i]
		env, hasEnv := envKeys[e.Key]
		switch {
		case hasEnv && os.Getenv(env) != "":
			e.Value, e.Source = os.Getenv(env), env
		case e.Value != "":
			e.Source = "file"
		case defaults[e.Key] != "":
			e.Value, e.Source = defaults[e.Key], "default"
		default:
			e.Source = "unset"
		}
	}
	return entries, nil
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value using dot notation.\nExample: chatsync config set default.poll_interval 5s",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		path, err := configPath()
		if err != nil {
			return err
		}
		// environment overrides must not be written back
		cfg, err := readConfigFile(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Set %s = %s\n", key, value)
		return nil
	},
}
