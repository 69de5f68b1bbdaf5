package chatsync

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// Test Helpers
// ============================================================================

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func at(minutes int) time.Time { return t0.Add(time.Duration(minutes) * time.Minute) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func msg(id, conv int64, minute int, body string) Message {
	return Message{
		ID:             id,
		ConversationID: conv,
		Sender:         SenderEndUser,
		Body:           body,
		Kind:           ContentText,
		CreatedAt:      at(minute),
		UpdatedAt:      at(minute),
	}
}

func summary(id int64, unread int, updated int) ConversationSummary {
	return ConversationSummary{
		ID:           id,
		Counterparty: &Counterparty{ID: id * 10, Name: "Coach"},
		UserUnread:   unread,
		CreatedAt:    t0,
		UpdatedAt:    at(updated),
	}
}

func ids(msgs []Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

// fakeGateway is a scripted Gateway. Each hook may be nil; a nil hook
// returns an empty success. A non-nil gate channel blocks the list and
// message fetches until it is closed.
type fakeGateway struct {
	mu sync.Mutex

	list     func() ([]ConversationSummary, error)
	detail   func(id int64) (*ConversationDetail, error)
	messages func(id int64) ([]Message, error)
	send     func(id int64, text string) (*Message, error)
	start    func(coachingID int64) (*ConversationSummary, error)
	markRead func(id int64) error

	gate    chan struct{}
	started chan string

	calls map[string]int
	sent  []string
	keys  []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{calls: make(map[string]int)}
}

func (f *fakeGateway) record(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
	if f.started != nil {
		f.started <- name
	}
}

func (f *fakeGateway) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeGateway) wait(ctx context.Context) error {
	if f.gate == nil {
		return nil
	}
	select {
	case <-f.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeGateway) ListConversations(ctx context.Context) ([]ConversationSummary, error) {
	f.record("list")
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if f.list == nil {
		return nil, nil
	}
	return f.list()
}

func (f *fakeGateway) GetConversation(ctx context.Context, id int64) (*ConversationDetail, error) {
	f.record("detail")
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if f.detail == nil {
		return &ConversationDetail{}, nil
	}
	return f.detail(id)
}

func (f *fakeGateway) ListMessages(ctx context.Context, id int64) ([]Message, error) {
	f.record("messages")
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if f.messages == nil {
		return nil, nil
	}
	return f.messages(id)
}

func (f *fakeGateway) SendMessage(ctx context.Context, id int64, text, key string) (*Message, error) {
	f.mu.Lock()
	f.calls["send"]++
	f.sent = append(f.sent, text)
	f.keys = append(f.keys, key)
	f.mu.Unlock()
	if f.send == nil {
		return nil, ErrInvalidResponse
	}
	return f.send(id, text)
}

func (f *fakeGateway) StartConversation(ctx context.Context, coachingID int64) (*ConversationSummary, error) {
	f.mu.Lock()
	f.calls["start"]++
	f.mu.Unlock()
	if f.start == nil {
		return nil, ErrInvalidResponse
	}
	return f.start(coachingID)
}

func (f *fakeGateway) MarkRead(ctx context.Context, id int64) error {
	f.mu.Lock()
	f.calls["read"]++
	f.mu.Unlock()
	if f.markRead == nil {
		return nil
	}
	return f.markRead(id)
}

func newTestSession(t *testing.T, gw Gateway, opts ...SessionOption) *Session {
	t.Helper()
	opts = append([]SessionOption{WithPollInterval(0), WithLogger(quietLogger())}, opts...)
	s := NewSession(gw, opts...)
	t.Cleanup(func() { s.Close() })
	return s
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
