package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/edumarket/chatsync"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// conversations list
	conversationsUnread bool
	conversationsJSON   bool

	// conversations show
	conversationsShowJSON bool
)

// ============================================================================
// conversations (parent command)
// ============================================================================

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "Manage conversations",
	Long:    "List, inspect and start coaching conversations.",
}

// ============================================================================
// conversations list
// ============================================================================

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		a, err := openApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.session.RefreshConversations(ctx); err != nil {
			return apiError(err)
		}

		var conversations []chatsync.ConversationSummary
		for _, c := range a.session.Conversations() {
			if conversationsUnread && c.UserUnread == 0 {
				continue
			}
			conversations = append(conversations, c)
		}

		if conversationsJSON {
			return printJSON(conversations)
		}
		if len(conversations) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}
		for _, c := range conversations {
			printSummaryLine(c)
		}
		return nil
	},
}

func printSummaryLine(c chatsync.ConversationSummary) {
	unread := ""
	if c.UserUnread > 0 {
		unread = fmt.Sprintf(" (%d unread)", c.UserUnread)
	}
	preview := ""
	if c.LastMessage != nil {
		preview = " - " + previewText(*c.LastMessage)
	}
	fmt.Printf("  %d: %s%s%s  [%s]\n", c.ID, counterpartyName(c), unread, preview, relTime(c.UpdatedAt))
}

func previewText(m chatsync.Message) string {
	if m.Kind != chatsync.ContentText {
		return "[" + m.Kind.String() + "]"
	}
	body := strings.ReplaceAll(m.Body, "\n", " ")
	if r := []rune(body); len(r) > 40 {
		body = string(r[:40]) + "..."
	}
	return body
}

// ============================================================================
// conversations show
// ============================================================================

var conversationsShowCmd = &cobra.Command{
	Use:   "show <conversation-id>",
	Short: "Show a conversation's messages and mark it read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		a, err := openApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.session.Open(ctx, id); err != nil {
			return apiError(err)
		}
		messages := a.session.Messages()

		if conversationsShowJSON {
			return printJSON(messages)
		}
		if c, ok := a.session.Conversation(id); ok {
			fmt.Printf("Conversation %d with %s\n\n", id, counterpartyName(c))
		}
		if len(messages) == 0 {
			fmt.Println("No messages yet.")
			return nil
		}
		for _, m := range messages {
			printMessageLine(m)
		}
		return nil
	},
}

func printMessageLine(m chatsync.Message) {
	who := "them"
	switch m.Sender {
	case chatsync.SenderEndUser:
		who = "me"
	case chatsync.SenderSystem:
		who = "system"
	}
	body := m.Body
	if m.Kind != chatsync.ContentText {
		body = strings.TrimSpace("[" + m.Kind.String() + "] " + valueOrDefault(m.Attachment, m.Body))
	}
	fmt.Printf("  [%s] %-6s %s\n", relTime(m.CreatedAt), who, body)
}

// ============================================================================
// conversations start
// ============================================================================

var conversationsStartCmd = &cobra.Command{
	Use:   "start <coaching-id>",
	Short: "Start a conversation with a coaching",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		coachingID, err := parseID(args[0])
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		a, err := openApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		c, err := a.session.StartConversation(ctx, coachingID)
		if err != nil {
			return apiError(err)
		}
		fmt.Printf("Conversation %d with %s started.\n", c.ID, counterpartyName(*c))
		return nil
	},
}

func init() {
	conversationsListCmd.Flags().BoolVar(&conversationsUnread, "unread", false, "Show only unread conversations")
	conversationsListCmd.Flags().BoolVar(&conversationsJSON, "json", false, "Output JSON")
	conversationsShowCmd.Flags().BoolVar(&conversationsShowJSON, "json", false, "Output JSON")

	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsShowCmd)
	conversationsCmd.AddCommand(conversationsStartCmd)
	rootCmd.AddCommand(conversationsCmd)
}
