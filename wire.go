package chatsync

import (
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Wire payloads come in several shapes for the same thing: lists either bare
// or under "results", a sent message either bare or under "message", and the
// message body under either "text" or "message". Everything is normalized
// here so nothing downstream looks at wire field names.

func listItems(data []byte) ([]gjson.Result, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: malformed JSON", ErrInvalidResponse)
	}
	root := gjson.ParseBytes(data)
	if root.IsArray() {
		return root.Array(), nil
	}
	if res := root.Get("results"); res.IsArray() {
		return res.Array(), nil
	}
	return nil, fmt.Errorf("%w: expected a list", ErrInvalidResponse)
}

func decodeConversationList(data []byte) ([]ConversationSummary, error) {
	items, err := listItems(data)
	if err != nil {
		return nil, err
	}
	out := make([]ConversationSummary, 0, len(items))
	for _, it := range items {
		out = append(out, parseConversation(it))
	}
	return out, nil
}

func decodeConversationDetail(data []byte) (*ConversationDetail, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: malformed JSON", ErrInvalidResponse)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: expected a conversation", ErrInvalidResponse)
	}
	d := &ConversationDetail{ConversationSummary: parseConversation(root)}
	if msgs := root.Get("messages"); msgs.IsArray() {
		d.Messages = make([]Message, 0, len(msgs.Array()))
		for _, m := range msgs.Array() {
			d.Messages = append(d.Messages, parseMessage(m, d.ID))
		}
	}
	return d, nil
}

func decodeConversation(data []byte) (*ConversationSummary, error) {
	d, err := decodeConversationDetail(data)
	if err != nil {
		return nil, err
	}
	return &d.ConversationSummary, nil
}

func decodeMessageList(data []byte, conversationID int64) ([]Message, error) {
	items, err := listItems(data)
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(items))
	for _, it := range items {
		out = append(out, parseMessage(it, conversationID))
	}
	return out, nil
}

// decodeSentMessage accepts a bare message or one wrapped as {"message": {...}}.
// A string under "message" is the body alias, not a wrapper.
func decodeSentMessage(data []byte, conversationID int64) (*Message, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: malformed JSON", ErrInvalidResponse)
	}
	root := gjson.ParseBytes(data)
	if inner := root.Get("message"); inner.IsObject() {
		root = inner
	}
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: expected a message", ErrInvalidResponse)
	}
	m := parseMessage(root, conversationID)
	return &m, nil
}

func parseConversation(r gjson.Result) ConversationSummary {
	c := ConversationSummary{
		ID:                 wireID(r.Get("id")),
		UserUnread:         nonNegative(r.Get("user_unread_count").Int()),
		CounterpartyUnread: nonNegative(r.Get("coaching_unread_count").Int()),
		CreatedAt:          wireTime(r.Get("created_at")),
		UpdatedAt:          wireTime(r.Get("updated_at")),
	}
	if cp := r.Get("coaching"); cp.IsObject() {
		c.Counterparty = &Counterparty{
			ID:     cp.Get("id").Int(),
			Name:   firstString(cp, "name", "title", "full_name"),
			Avatar: firstString(cp, "avatar", "image", "photo"),
		}
	}
	if lm := r.Get("last_message"); lm.IsObject() {
		m := parseMessage(lm, c.ID)
		if m.Valid() {
			c.LastMessage = &m
		}
	}
	return c
}

func parseMessage(r gjson.Result, conversationID int64) Message {
	m := Message{
		ID:         wireID(r.Get("id")),
		Sender:     ParseSenderRole(r.Get("sender_type").String()),
		Body:       messageBody(r),
		Kind:       ParseContentKind(r.Get("content_type").String()),
		Attachment: firstString(r, "attachment", "file", "media_url"),
		Read:       r.Get("is_read").Bool(),
		CreatedAt:  wireTime(r.Get("created_at")),
		UpdatedAt:  wireTime(r.Get("updated_at")),
	}
	m.ConversationID = conversationRef(r.Get("conversation"))
	if m.ConversationID == 0 {
		m.ConversationID = r.Get("conversation_id").Int()
	}
	if m.ConversationID == 0 {
		m.ConversationID = conversationID
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	return m
}

// messageBody unifies the two body aliases.
func messageBody(r gjson.Result) string {
	if t := r.Get("text"); t.Type == gjson.String && t.Str != "" {
		return t.Str
	}
	if t := r.Get("message"); t.Type == gjson.String {
		return t.Str
	}
	return ""
}

// conversationRef reads "conversation" as either an id or an embedded object.
func conversationRef(r gjson.Result) int64 {
	if r.IsObject() {
		return r.Get("id").Int()
	}
	return r.Int()
}

func wireID(r gjson.Result) int64 {
	if !r.Exists() || r.Type == gjson.Null {
		return 0
	}
	return r.Int()
}

func wireTime(r gjson.Result) time.Time {
	s := strings.TrimSpace(r.String())
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func firstString(r gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := r.Get(k); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}

func nonNegative(n int64) int {
	if n < 0 {
		return 0
	}
	return int(n)
}
