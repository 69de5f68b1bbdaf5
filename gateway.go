package chatsync

import "context"

// Gateway is the request/response surface the sync core consumes. Client is
// the HTTP implementation; tests substitute scripted fakes.
type Gateway interface {
	ListConversations(ctx context.Context) ([]ConversationSummary, error)
	GetConversation(ctx context.Context, conversationID int64) (*ConversationDetail, error)
	ListMessages(ctx context.Context, conversationID int64) ([]Message, error)
	SendMessage(ctx context.Context, conversationID int64, text, idempotencyKey string) (*Message, error)
	StartConversation(ctx context.Context, coachingID int64) (*ConversationSummary, error)
	MarkRead(ctx context.Context, conversationID int64) error
}

var _ Gateway = (*Client)(nil)
