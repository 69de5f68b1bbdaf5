package chatsync

import (
	"context"
	"time"
)

// MarkConversationRead zeroes the local unread count of id, flags the open
// log's messages as read when id is open, then tells the server. The local
// change survives a failed request and any stale list fetch.
func (s *Session) MarkConversationRead(ctx context.Context, id int64) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.markReadLocked(id)
	conversations := s.index.List()
	var messages []Message
	if s.open != nil && s.open.ConversationID() == id {
		messages = s.open.Messages()
	}
	s.mu.Unlock()

	s.emit(EventConversationsUpdated, conversations)
	if messages != nil {
		s.emit(EventMessagesUpdated, messages)
	}
	return s.sendMarkRead(ctx, id)
}

// sendMarkRead issues the server request and, on success, lets fetches issued
// from now on report the conversation's unread count again.
func (s *Session) sendMarkRead(ctx context.Context, id int64) error {
	if err := s.gateway.MarkRead(ctx, id); err != nil {
		s.logger.Warn("mark_read_failed", "conversation_id", id, "error", err)
		return err
	}
	s.mu.Lock()
	s.reads.Confirm(id)
	s.mu.Unlock()
	return nil
}

// markReadLocked applies a local read. Caller holds s.mu.
func (s *Session) markReadLocked(id int64) {
	var watermark time.Time
	if c, ok := s.index.Get(id); ok {
		watermark = c.UpdatedAt
		s.index.MarkReadLocally(id)
	}
	s.reads.Mark(id, watermark)
	if s.open != nil && s.open.ConversationID() == id {
		s.open.MarkAllRead()
	}
}

// ReadReconciler remembers conversations the user has read locally so a
// server record that predates the read cannot bring their unread count back.
//
// A mark is dropped, and the server's count becomes authoritative again, when
// either the server reports a strictly newer updated_at than the one held at
// read time, or the record comes from a fetch issued after the server
// acknowledged the read.
type ReadReconciler struct {
	seq   uint64
	marks map[int64]readMark
}

type readMark struct {
	watermark time.Time
	confirmed uint64 // seq at acknowledgement; 0 while unacknowledged
}

func NewReadReconciler() *ReadReconciler {
	return &ReadReconciler{marks: make(map[int64]readMark)}
}

// Seq identifies the reconciler state for a fetch issued now.
func (r *ReadReconciler) Seq() uint64 { return r.seq }

// Mark records a local read of id. watermark is the conversation's
// updated_at as held when the read happened, zero when unknown. A new mark
// waits for its own acknowledgement.
func (r *ReadReconciler) Mark(id int64, watermark time.Time) {
	if cur, ok := r.marks[id]; ok && cur.watermark.After(watermark) {
		watermark = cur.watermark
	}
	r.marks[id] = readMark{watermark: watermark}
}

// Confirm records that the server acknowledged the read of id.
func (r *ReadReconciler) Confirm(id int64) {
	m, ok := r.marks[id]
	if !ok {
		return
	}
	r.seq++
	m.confirmed = r.seq
	r.marks[id] = m
}

// Pending reports whether a local read of id still overrides the server.
func (r *ReadReconciler) Pending(id int64) bool {
	_, ok := r.marks[id]
	return ok
}

// Reconcile adjusts an incoming server summary, fetched when Seq was
// issued, before it reaches the index.
func (r *ReadReconciler) Reconcile(in ConversationSummary, issued uint64) ConversationSummary {
	m, ok := r.marks[in.ID]
	if !ok {
		return in
	}
	newer := !m.watermark.IsZero() && in.UpdatedAt.After(m.watermark)
	acked := m.confirmed != 0 && issued >= m.confirmed
	if newer || acked {
		delete(r.marks, in.ID)
		return in
	}
	in.UserUnread = 0
	return in
}

// ReconcileAll applies Reconcile to every entry of a fetched list in place.
func (r *ReadReconciler) ReconcileAll(list []ConversationSummary, issued uint64) []ConversationSummary {
	if len(r.marks) == 0 {
		return list
	}
	for i := range list {
		list[i] = r.Reconcile(list[i], issued)
	}
	return list
}
