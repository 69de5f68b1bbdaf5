package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/edumarket/chatsync"
	"github.com/spf13/cobra"
)

var sendJSON bool

// ============================================================================
// send
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <text...>",
	Short: "Send a text message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		text := strings.Join(args[1:], " ")

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		a, err := openApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		m, err := a.session.Send(ctx, id, text)
		if err != nil {
			if errors.Is(err, chatsync.ErrEmptyText) {
				return errors.New("message text is empty")
			}
			return apiError(err)
		}
		if sendJSON {
			return printJSON(m)
		}
		fmt.Printf("Message %d sent to conversation %d.\n", m.ID, id)
		return nil
	},
}

// ============================================================================
// read
// ============================================================================

var readCmd = &cobra.Command{
	Use:   "read <conversation-id>",
	Short: "Mark a conversation as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		a, err := openApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.session.MarkConversationRead(ctx, id); err != nil {
			return apiError(err)
		}
		fmt.Printf("Conversation %d marked as read.\n", id)
		return nil
	},
}

func init() {
	sendCmd.Flags().BoolVar(&sendJSON, "json", false, "Output the confirmed message as JSON")
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(readCmd)
}
