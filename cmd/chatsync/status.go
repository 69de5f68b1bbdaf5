package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and account status",
	Long:  "Display the current configuration, whether a token is stored, and live unread counts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL:      %s\n", valueOrDefault(cfg.Default.BaseURL, "(not set)"))
		fmt.Printf("  Poll interval: %s\n", valueOrDefault(cfg.Default.PollInterval, defaultPollInterval.String()))
		fmt.Printf("  Log level:     %s\n", valueOrDefault(cfg.Default.LogLevel, "info"))
		if cfg.Default.RateLimit > 0 {
			fmt.Printf("  Rate limit:    %.1f req/s\n", cfg.Default.RateLimit)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		tokens, err := openTokenStore()
		if err != nil {
			return err
		}
		tok, err := tokens.Token(ctx)
		tokens.Close()
		if err != nil {
			return err
		}

		fmt.Println()
		fmt.Println("Auth:")
		if tok == "" {
			fmt.Println("  Token:         (not signed in)")
			return nil
		}
		fmt.Printf("  Token:         %s\n", maskToken(tok))

		if cfg.Default.BaseURL == "" {
			return nil
		}

		a, err := openApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Println()
		fmt.Println("Live status:")
		if err := a.session.RefreshConversations(ctx); err != nil {
			fmt.Printf("  Error fetching conversations: %v\n", apiError(err))
			return nil
		}
		fmt.Printf("  Conversations: %d\n", len(a.session.Conversations()))
		fmt.Printf("  Unread:        %d\n", a.session.TotalUnread())
		return nil
	},
}
