package chatsync

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Send posts text to conversationID. The trimmed text is transmitted; blank
// text fails with ErrEmptyText before any request. Nothing is shown in the
// log until the server confirms: the confirmed message is appended to the
// open log (when it is this conversation) and becomes the conversation's
// last_message.
//
// Every failure is a *SendError carrying the untrimmed text.
func (s *Session) Send(ctx context.Context, conversationID int64, text string) (*Message, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		s.metrics.sends.WithLabelValues("rejected").Inc()
		return nil, &SendError{ConversationID: conversationID, Draft: text, Err: ErrEmptyText}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, &SendError{ConversationID: conversationID, Draft: text, Err: ErrSessionClosed}
	}
	p := PendingSend{
		ClientID:       uuid.NewString(),
		ConversationID: conversationID,
		Text:           trimmed,
		StartedAt:      s.now(),
	}
	s.pending[p.ClientID] = p
	s.mu.Unlock()

	msg, err := s.gateway.SendMessage(ctx, conversationID, trimmed, p.ClientID)
	if err == nil && !msg.Valid() {
		err = ErrInvalidResponse
	}

	s.mu.Lock()
	delete(s.pending, p.ClientID)
	if err != nil {
		s.mu.Unlock()
		sendErr := &SendError{ConversationID: conversationID, Draft: text, Err: err}
		s.metrics.sends.WithLabelValues("error").Inc()
		s.logger.Warn("send_failed", "conversation_id", conversationID, "client_id", p.ClientID, "error", err)
		s.emit(EventMessageFailed, sendErr)
		return nil, sendErr
	}
	if s.closed {
		s.mu.Unlock()
		s.metrics.sends.WithLabelValues("ok").Inc()
		out := *msg
		return &out, nil
	}

	m := s.normalizeSent(*msg, conversationID, trimmed, p)
	var messages []Message
	if s.open != nil && s.open.ConversationID() == conversationID {
		s.open.Append(m)
		messages = s.open.Messages()
	}
	s.index.RecordMessage(m)
	conversations := s.index.List()
	s.mu.Unlock()

	s.metrics.sends.WithLabelValues("ok").Inc()
	s.logger.Info("message_sent", "conversation_id", conversationID, "message_id", m.ID)
	s.emit(EventMessageSent, m)
	if messages != nil {
		s.emit(EventMessagesUpdated, messages)
	}
	s.emit(EventConversationsUpdated, conversations)
	return &m, nil
}

// normalizeSent fills fields the send response may leave out from what was
// sent.
func (s *Session) normalizeSent(m Message, conversationID int64, text string, p PendingSend) Message {
	if m.ConversationID == 0 {
		m.ConversationID = conversationID
	}
	if m.Body == "" && m.Attachment == "" {
		m.Body = text
	}
	if m.Sender == SenderUnknown {
		m.Sender = SenderEndUser
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = p.StartedAt
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	return m
}

// PendingSends lists the unanswered sends for conversationID, oldest first.
func (s *Session) PendingSends(conversationID int64) []PendingSend {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PendingSend
	for _, p := range s.pending {
		if p.ConversationID == conversationID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// ── Draft ─────────────────────────────────────────────────

// Draft is the composer text of a conversation screen.
type Draft struct {
	mu   sync.Mutex
	text string
}

func NewDraft(text string) *Draft { return &Draft{text: text} }

func (d *Draft) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text
}

func (d *Draft) Set(text string) {
	d.mu.Lock()
	d.text = text
	d.mu.Unlock()
}

// restore puts back a failed draft unless something new was typed.
func (d *Draft) restore(text string) {
	d.mu.Lock()
	if d.text == "" {
		d.text = text
	}
	d.mu.Unlock()
}

// SendDraft sends d's text. The draft is cleared when the request is issued
// and restored exactly as typed if the send fails. A blank draft is left
// untouched.
func (s *Session) SendDraft(ctx context.Context, conversationID int64, d *Draft) (*Message, error) {
	text := d.Text()
	if strings.TrimSpace(text) == "" {
		return s.Send(ctx, conversationID, text)
	}
	d.Set("")
	msg, err := s.Send(ctx, conversationID, text)
	if err != nil {
		var se *SendError
		if errors.As(err, &se) {
			d.restore(se.Draft)
		}
		return nil, err
	}
	return msg, nil
}
