package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/edumarket/chatsync"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

// openTokenStore opens the token store without requiring a base URL.
func openTokenStore() (*chatsync.PebbleTokenStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	dir, err := tokenDir(cfg)
	if err != nil {
		return nil, err
	}
	return chatsync.OpenPebbleTokenStore(dir)
}

var loginCmd = &cobra.Command{
	Use:   "login <token>",
	Short: "Store an access token",
	Long:  "Store the bearer token used for every chat request in the local token store.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := strings.TrimSpace(args[0])
		if token == "" {
			return fmt.Errorf("token is empty")
		}
		tokens, err := openTokenStore()
		if err != nil {
			return err
		}
		defer tokens.Close()

		if err := tokens.SetToken(context.Background(), token); err != nil {
			return fmt.Errorf("failed to save token: %w", err)
		}
		fmt.Printf("Signed in with token %s\n", maskToken(token))
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		tokens, err := openTokenStore()
		if err != nil {
			return err
		}
		defer tokens.Close()

		if err := tokens.ClearToken(context.Background()); err != nil {
			return fmt.Errorf("failed to clear token: %w", err)
		}
		fmt.Println("Signed out.")
		return nil
	},
}
