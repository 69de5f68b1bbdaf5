package chatsync

import (
	"context"
	"errors"
	"testing"
)

func TestSession_Send(t *testing.T) {
	t.Run("confirmed message lands in log and index", func(t *testing.T) {
		gw := newFakeGateway()
		gw.detail = func(id int64) (*ConversationDetail, error) {
			return &ConversationDetail{ConversationSummary: summary(id, 0, 0), Messages: []Message{}}, nil
		}
		gw.send = func(id int64, text string) (*Message, error) {
			return decodeSentMessage([]byte(`{"id":501,"conversation":1,"text":"hi","sender_type":"user","created_at":"2026-03-01T09:05:00Z"}`), id)
		}
		s := newTestSession(t, gw)
		ctx := context.Background()
		if err := s.Open(ctx, 1); err != nil {
			t.Fatalf("open: %v", err)
		}

		var sent []Message
		s.On(EventMessageSent, func(_ string, p any) { sent = append(sent, p.(Message)) })

		m, err := s.Send(ctx, 1, "hi")
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		if m.ID != 501 || m.Body != "hi" || m.Sender != SenderEndUser {
			t.Fatalf("unexpected message %+v", m)
		}

		msgs := s.Messages()
		if len(msgs) != 1 || msgs[0].ID != 501 {
			t.Fatalf("expected exactly message 501, got %v", ids(msgs))
		}
		c, ok := s.Conversation(1)
		if !ok || c.LastMessage == nil || c.LastMessage.ID != 501 {
			t.Fatalf("expected last_message 501, got %+v", c.LastMessage)
		}
		if len(sent) != 1 {
			t.Fatalf("expected one message.sent event, got %d", len(sent))
		}
		if len(s.PendingSends(1)) != 0 {
			t.Fatal("pending send not cleared")
		}
	})

	t.Run("trims before sending", func(t *testing.T) {
		gw := newFakeGateway()
		gw.send = func(id int64, text string) (*Message, error) {
			return &Message{ID: 9, CreatedAt: at(1)}, nil
		}
		s := newTestSession(t, gw)
		m, err := s.Send(context.Background(), 1, "  hello \n")
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		if gw.sent[0] != "hello" {
			t.Fatalf("expected trimmed text on the wire, got %q", gw.sent[0])
		}
		if m.Body != "hello" || m.ConversationID != 1 {
			t.Fatalf("expected fill-ins from the request, got %+v", m)
		}
		if gw.keys[0] == "" {
			t.Fatal("expected an idempotency key")
		}
	})

	t.Run("blank text never reaches the network", func(t *testing.T) {
		gw := newFakeGateway()
		s := newTestSession(t, gw)
		_, err := s.Send(context.Background(), 1, "   ")
		if !errors.Is(err, ErrEmptyText) {
			t.Fatalf("expected ErrEmptyText, got %v", err)
		}
		if gw.count("send") != 0 {
			t.Fatal("expected no request")
		}
	})

	t.Run("response without id is a failure", func(t *testing.T) {
		gw := newFakeGateway()
		gw.detail = func(id int64) (*ConversationDetail, error) {
			return &ConversationDetail{ConversationSummary: summary(id, 0, 0), Messages: []Message{}}, nil
		}
		gw.send = func(id int64, text string) (*Message, error) {
			return decodeSentMessage([]byte(`{"id":null,"text":"hello"}`), id)
		}
		s := newTestSession(t, gw)
		ctx := context.Background()
		s.Open(ctx, 1)

		_, err := s.Send(ctx, 1, "hello")
		if !errors.Is(err, ErrInvalidResponse) {
			t.Fatalf("expected ErrInvalidResponse, got %v", err)
		}
		if n := len(s.Messages()); n != 0 {
			t.Fatalf("expected empty log, got %d messages", n)
		}
	})
}

func TestSession_SendDraft(t *testing.T) {
	t.Run("failure restores the draft", func(t *testing.T) {
		gw := newFakeGateway()
		gw.detail = func(id int64) (*ConversationDetail, error) {
			return &ConversationDetail{ConversationSummary: summary(id, 0, 0), Messages: []Message{msg(1, id, 0, "earlier")}}, nil
		}
		gw.send = func(int64, string) (*Message, error) {
			return nil, &TransportError{Op: "POST /conversations/1/send", Err: errors.New("connection reset")}
		}
		s := newTestSession(t, gw)
		ctx := context.Background()
		s.Open(ctx, 1)

		var failed *SendError
		s.On(EventMessageFailed, func(_ string, p any) { failed = p.(*SendError) })

		d := NewDraft("hello")
		_, err := s.SendDraft(ctx, 1, d)
		var se *SendError
		if !errors.As(err, &se) {
			t.Fatalf("expected SendError, got %v", err)
		}
		if d.Text() != "hello" {
			t.Fatalf("expected draft %q, got %q", "hello", d.Text())
		}
		if failed == nil || failed.Draft != "hello" {
			t.Fatalf("expected message.failed with draft, got %+v", failed)
		}
		for _, m := range s.Messages() {
			if m.Body == "" || m.Body == "hello" {
				t.Fatalf("unexpected message in log: %+v", m)
			}
		}
		if n := len(s.Messages()); n != 1 {
			t.Fatalf("expected log unchanged, got %d messages", n)
		}
	})

	t.Run("success clears the draft", func(t *testing.T) {
		gw := newFakeGateway()
		gw.send = func(id int64, text string) (*Message, error) {
			return &Message{ID: 2, ConversationID: id, Body: text, CreatedAt: at(2)}, nil
		}
		s := newTestSession(t, gw)
		d := NewDraft("hello")
		if _, err := s.SendDraft(context.Background(), 1, d); err != nil {
			t.Fatalf("send: %v", err)
		}
		if d.Text() != "" {
			t.Fatalf("expected empty draft, got %q", d.Text())
		}
	})

	t.Run("blank draft is left alone", func(t *testing.T) {
		s := newTestSession(t, newFakeGateway())
		d := NewDraft("  ")
		if _, err := s.SendDraft(context.Background(), 1, d); !errors.Is(err, ErrEmptyText) {
			t.Fatalf("expected ErrEmptyText, got %v", err)
		}
		if d.Text() != "  " {
			t.Fatalf("draft changed to %q", d.Text())
		}
	})
}

func TestSession_PendingSends(t *testing.T) {
	gw := newFakeGateway()
	s := newTestSession(t, gw)
	inFlight := make(chan []PendingSend, 1)
	gw.send = func(id int64, text string) (*Message, error) {
		inFlight <- s.PendingSends(id)
		return &Message{ID: 3, CreatedAt: at(3)}, nil
	}
	if _, err := s.Send(context.Background(), 4, "x"); err != nil {
		t.Fatalf("send: %v", err)
	}
	got := <-inFlight
	if len(got) != 1 || got[0].Text != "x" || got[0].ClientID != gw.keys[0] {
		t.Fatalf("unexpected pending sends %+v", got)
	}
	if len(s.PendingSends(4)) != 0 {
		t.Fatal("pending send not cleared")
	}
}
