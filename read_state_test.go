package chatsync

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestReadReconciler(t *testing.T) {
	t.Run("stale record is forced to zero", func(t *testing.T) {
		r := NewReadReconciler()
		r.Mark(1, at(5))
		got := r.Reconcile(summary(1, 3, 5), r.Seq())
		if got.UserUnread != 0 {
			t.Fatalf("expected 0, got %d", got.UserUnread)
		}
		if !r.Pending(1) {
			t.Fatal("mark must stay until a newer record arrives")
		}
	})

	t.Run("newer record clears the mark", func(t *testing.T) {
		r := NewReadReconciler()
		r.Mark(1, at(5))
		got := r.Reconcile(summary(1, 2, 6), r.Seq())
		if got.UserUnread != 2 {
			t.Fatalf("expected server count 2, got %d", got.UserUnread)
		}
		if r.Pending(1) {
			t.Fatal("expected mark to be cleared")
		}
	})

	t.Run("mark keeps the later watermark", func(t *testing.T) {
		r := NewReadReconciler()
		r.Mark(1, at(8))
		r.Mark(1, at(3))
		if got := r.Reconcile(summary(1, 4, 6), r.Seq()); got.UserUnread != 0 {
			t.Fatalf("expected 0, got %d", got.UserUnread)
		}
	})

	t.Run("fetch issued after the acknowledgement clears the mark", func(t *testing.T) {
		r := NewReadReconciler()
		r.Mark(1, at(5))
		before := r.Seq()
		r.Confirm(1)

		if got := r.Reconcile(summary(1, 3, 5), before); got.UserUnread != 0 {
			t.Fatalf("fetch issued before the ack must stay hidden, got %d", got.UserUnread)
		}
		if got := r.Reconcile(summary(1, 2, 5), r.Seq()); got.UserUnread != 2 {
			t.Fatalf("expected server count 2, got %d", got.UserUnread)
		}
		if r.Pending(1) {
			t.Fatal("expected mark to be cleared")
		}
	})

	t.Run("a new read waits for its own acknowledgement", func(t *testing.T) {
		r := NewReadReconciler()
		r.Mark(1, time.Time{})
		r.Confirm(1)
		r.Mark(1, time.Time{})
		if got := r.Reconcile(summary(1, 3, 0), r.Seq()); got.UserUnread != 0 {
			t.Fatalf("expected 0, got %d", got.UserUnread)
		}
	})

	t.Run("confirm without a mark is ignored", func(t *testing.T) {
		r := NewReadReconciler()
		r.Confirm(1)
		if r.Pending(1) || r.Seq() != 0 {
			t.Fatalf("unexpected state pending=%v seq=%d", r.Pending(1), r.Seq())
		}
	})

	t.Run("unmarked records pass through", func(t *testing.T) {
		r := NewReadReconciler()
		list := r.ReconcileAll([]ConversationSummary{summary(1, 3, 0)}, r.Seq())
		if list[0].UserUnread != 3 {
			t.Fatalf("expected 3, got %d", list[0].UserUnread)
		}
	})
}

func TestSession_MarkConversationRead(t *testing.T) {
	t.Run("list fetched before the acknowledgement does not restore unread", func(t *testing.T) {
		gw := newFakeGateway()
		gw.list = func() ([]ConversationSummary, error) {
			return []ConversationSummary{summary(7, 3, 5)}, nil
		}
		s := newTestSession(t, gw)
		ctx := context.Background()

		if err := s.RefreshConversations(ctx); err != nil {
			t.Fatalf("refresh: %v", err)
		}
		if c, _ := s.Conversation(7); c.UserUnread != 3 {
			t.Fatalf("expected 3 before read, got %d", c.UserUnread)
		}

		gw.gate = make(chan struct{})
		gw.started = make(chan string, 4)
		done := make(chan error, 1)
		go func() { done <- s.RefreshConversations(ctx) }()
		<-gw.started

		if err := s.MarkConversationRead(ctx, 7); err != nil {
			t.Fatalf("mark read: %v", err)
		}
		if c, _ := s.Conversation(7); c.UserUnread != 0 {
			t.Fatalf("expected 0 after read, got %d", c.UserUnread)
		}
		close(gw.gate)
		if err := <-done; err != nil {
			t.Fatalf("refresh: %v", err)
		}
		if c, _ := s.Conversation(7); c.UserUnread != 0 {
			t.Fatalf("expected 0 after stale refresh, got %d", c.UserUnread)
		}
		if gw.count("read") != 1 {
			t.Fatalf("expected one mark-read request, got %d", gw.count("read"))
		}
	})

	t.Run("server count changes after the read at the same updated_at", func(t *testing.T) {
		unread := 3
		gw := newFakeGateway()
		gw.list = func() ([]ConversationSummary, error) {
			return []ConversationSummary{summary(7, unread, 5)}, nil
		}
		s := newTestSession(t, gw)
		ctx := context.Background()
		s.RefreshConversations(ctx)
		if err := s.MarkConversationRead(ctx, 7); err != nil {
			t.Fatalf("mark read: %v", err)
		}

		unread = 2
		if err := s.RefreshConversations(ctx); err != nil {
			t.Fatalf("refresh: %v", err)
		}
		if c, _ := s.Conversation(7); c.UserUnread != 2 {
			t.Fatalf("expected server count 2, got %d", c.UserUnread)
		}
		unread = 5
		s.RefreshConversations(ctx)
		if c, _ := s.Conversation(7); c.UserUnread != 5 {
			t.Fatalf("expected server count 5, got %d", c.UserUnread)
		}
	})

	t.Run("server count applies without timestamps", func(t *testing.T) {
		unread := 3
		gw := newFakeGateway()
		gw.list = func() ([]ConversationSummary, error) {
			c := summary(7, unread, 0)
			c.UpdatedAt = time.Time{}
			return []ConversationSummary{c}, nil
		}
		s := newTestSession(t, gw)
		ctx := context.Background()
		s.RefreshConversations(ctx)
		s.MarkConversationRead(ctx, 7)

		unread = 4
		s.RefreshConversations(ctx)
		if c, _ := s.Conversation(7); c.UserUnread != 4 {
			t.Fatalf("expected server count 4, got %d", c.UserUnread)
		}
	})

	t.Run("unacknowledged read hides a stale count", func(t *testing.T) {
		gw := newFakeGateway()
		gw.list = func() ([]ConversationSummary, error) {
			return []ConversationSummary{summary(7, 3, 5)}, nil
		}
		gw.markRead = func(int64) error { return errors.New("offline") }
		s := newTestSession(t, gw)
		ctx := context.Background()
		s.RefreshConversations(ctx)
		s.MarkConversationRead(ctx, 7)

		s.RefreshConversations(ctx)
		if c, _ := s.Conversation(7); c.UserUnread != 0 {
			t.Fatalf("expected 0 while the read is unacknowledged, got %d", c.UserUnread)
		}
	})

	t.Run("newer server activity wins", func(t *testing.T) {
		updated := 5
		gw := newFakeGateway()
		gw.list = func() ([]ConversationSummary, error) {
			return []ConversationSummary{summary(7, 3, updated)}, nil
		}
		s := newTestSession(t, gw)
		ctx := context.Background()
		s.RefreshConversations(ctx)
		s.MarkConversationRead(ctx, 7)

		updated = 9
		s.RefreshConversations(ctx)
		if c, _ := s.Conversation(7); c.UserUnread != 3 {
			t.Fatalf("expected new server count 3, got %d", c.UserUnread)
		}
	})

	t.Run("request failure keeps local state", func(t *testing.T) {
		boom := errors.New("boom")
		gw := newFakeGateway()
		gw.list = func() ([]ConversationSummary, error) {
			return []ConversationSummary{summary(7, 3, 5)}, nil
		}
		gw.markRead = func(int64) error { return boom }
		s := newTestSession(t, gw)
		ctx := context.Background()
		s.RefreshConversations(ctx)

		if err := s.MarkConversationRead(ctx, 7); !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		if n := s.TotalUnread(); n != 0 {
			t.Fatalf("expected 0 unread, got %d", n)
		}
	})

	t.Run("flags the open log", func(t *testing.T) {
		gw := newFakeGateway()
		gw.detail = func(id int64) (*ConversationDetail, error) {
			unread := msg(1, id, 0, "hi")
			return &ConversationDetail{ConversationSummary: summary(id, 1, 0), Messages: []Message{unread}}, nil
		}
		s := newTestSession(t, gw)
		ctx := context.Background()
		if err := s.Open(ctx, 7); err != nil {
			t.Fatalf("open: %v", err)
		}
		if err := s.MarkConversationRead(ctx, 7); err != nil {
			t.Fatalf("mark read: %v", err)
		}
		for _, m := range s.Messages() {
			if !m.Read {
				t.Fatalf("message %d not flagged read", m.ID)
			}
		}
	})
}
