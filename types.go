package chatsync

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrEmptyText is returned by Send when the text is blank after trimming.
	// No network call is made.
	ErrEmptyText = errors.New("message text is empty")

	// ErrUnauthorized is returned when the server answers 401. The stored
	// token has already been cleared by the time the caller sees it.
	ErrUnauthorized = errors.New("authentication expired")

	ErrSessionClosed      = errors.New("session is closed")
	ErrNoOpenConversation = errors.New("no conversation is open")
	ErrInvalidResponse    = errors.New("invalid response from server")
)

// APIError is a non-2xx response from the chat API.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Status)
}

// Is lets errors.Is(err, ErrUnauthorized) match a 401 response.
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// TransportError means no response was received at all.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "request failed: " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// SendError is returned by a failed send. Draft holds the text exactly as the
// user typed it so the composer can be refilled.
type SendError struct {
	ConversationID int64
	Draft          string
	Err            error
}

func (e *SendError) Error() string {
	return "send failed: " + e.Err.Error()
}

func (e *SendError) Unwrap() error { return e.Err }

// ============================================================================
// Enumerations
// ============================================================================

// SenderRole is who authored a message.
type SenderRole int

const (
	SenderUnknown SenderRole = iota
	SenderEndUser
	SenderCounterparty
	SenderSystem
)

func (r SenderRole) String() string {
	switch r {
	case SenderEndUser:
		return "user"
	case SenderCounterparty:
		return "coaching"
	case SenderSystem:
		return "system"
	default:
		return "unknown"
	}
}

func (r SenderRole) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// ParseSenderRole maps the wire value onto the closed set.
func ParseSenderRole(s string) SenderRole {
	switch s {
	case "user", "student":
		return SenderEndUser
	case "coaching", "coach", "tutor":
		return SenderCounterparty
	case "system":
		return SenderSystem
	default:
		return SenderUnknown
	}
}

// ContentKind is the type of a message body.
type ContentKind int

const (
	ContentUnknown ContentKind = iota
	ContentText
	ContentImage
	ContentFile
	ContentVideo
	ContentAudio
)

func (k ContentKind) String() string {
	switch k {
	case ContentText:
		return "text"
	case ContentImage:
		return "image"
	case ContentFile:
		return "file"
	case ContentVideo:
		return "video"
	case ContentAudio:
		return "audio"
	default:
		return "unknown"
	}
}

func (k ContentKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// ParseContentKind maps the wire value onto the closed set. An empty value
// is treated as text, which is what the server omits it for.
func ParseContentKind(s string) ContentKind {
	switch s {
	case "text", "":
		return ContentText
	case "image":
		return ContentImage
	case "file", "document":
		return ContentFile
	case "video":
		return ContentVideo
	case "audio", "voice":
		return ContentAudio
	default:
		return ContentUnknown
	}
}

// ============================================================================
// Data model
// ============================================================================

// Message is one entry of a conversation's log. ID is zero when the server
// sent a null or missing id; such messages are never kept.
type Message struct {
	ID             int64
	ConversationID int64
	Sender         SenderRole
	Body           string
	Kind           ContentKind
	Attachment     string
	Read           bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Valid reports whether the message has a server-assigned id.
func (m *Message) Valid() bool {
	return m != nil && m.ID != 0
}

// before is the display order: created ascending, ties by id ascending.
func (m *Message) before(o *Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

// Counterparty describes the other side of a conversation.
type Counterparty struct {
	ID     int64
	Name   string
	Avatar string
}

// ConversationSummary is the list-view record for a conversation.
type ConversationSummary struct {
	ID                 int64
	Counterparty       *Counterparty
	UserUnread         int
	CounterpartyUnread int
	LastMessage        *Message
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Valid reports whether the summary may be shown: it needs an id and a
// counterparty descriptor.
func (c *ConversationSummary) Valid() bool {
	return c != nil && c.ID != 0 && c.Counterparty != nil
}

func (c ConversationSummary) clone() ConversationSummary {
	if c.Counterparty != nil {
		cp := *c.Counterparty
		c.Counterparty = &cp
	}
	if c.LastMessage != nil {
		m := *c.LastMessage
		c.LastMessage = &m
	}
	return c
}

// ConversationDetail is a summary plus its message log as returned by
// GET conversations/{id}. Messages is nil when the server did not embed them.
type ConversationDetail struct {
	ConversationSummary
	Messages []Message
}

// PendingSend is a send that has been issued but not answered yet. It is
// never part of a MessageLog.
type PendingSend struct {
	ClientID       string
	ConversationID int64
	Text           string
	StartedAt      time.Time
}
