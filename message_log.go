package chatsync

import "sort"

// MessageLog is the ordered, id-deduplicated message list of one open
// conversation. Order is recomputed on every mutation: created ascending,
// ties by id ascending.
//
// A MessageLog is not safe for concurrent use; the Session serializes access.
type MessageLog struct {
	conversationID int64
	msgs           []Message

	// rev increases on every Append; appended records the rev of each
	// appended id so a fetch issued earlier does not drop it.
	rev      uint64
	appended map[int64]uint64
}

func NewMessageLog(conversationID int64) *MessageLog {
	return &MessageLog{
		conversationID: conversationID,
		appended:       make(map[int64]uint64),
	}
}

func (l *MessageLog) ConversationID() int64 { return l.conversationID }

// Revision identifies the log state for a later ReplaceFetched call.
func (l *MessageLog) Revision() uint64 { return l.rev }

// ReplaceAll replaces the log with msgs. Invalid entries are dropped and on
// an id collision the entry with the newer UpdatedAt is kept.
func (l *MessageLog) ReplaceAll(msgs []Message) {
	l.ReplaceFetched(msgs, l.rev)
}

// ReplaceFetched is ReplaceAll for the result of a fetch issued at revision
// since: messages appended after since and missing from msgs are kept.
func (l *MessageLog) ReplaceFetched(msgs []Message, since uint64) {
	byID := make(map[int64]Message, len(msgs))
	for _, m := range msgs {
		if !m.Valid() {
			continue
		}
		if cur, ok := byID[m.ID]; ok && !m.UpdatedAt.After(cur.UpdatedAt) {
			continue
		}
		byID[m.ID] = m
	}
	for _, m := range l.msgs {
		if l.appended[m.ID] <= since {
			continue
		}
		if _, ok := byID[m.ID]; !ok {
			byID[m.ID] = m
		}
	}

	out := make([]Message, 0, len(byID))
	for _, m := range byID {
		out = append(out, m)
	}
	l.msgs = out
	for id, r := range l.appended {
		if r <= since {
			delete(l.appended, id)
		}
	}
	l.sort()
}

// Append adds a just-confirmed message. It reports false and changes nothing
// when m is invalid or its id is already present.
func (l *MessageLog) Append(m Message) bool {
	if !m.Valid() {
		return false
	}
	for _, cur := range l.msgs {
		if cur.ID == m.ID {
			return false
		}
	}
	l.rev++
	l.appended[m.ID] = l.rev
	l.msgs = append(l.msgs, m)
	l.sort()
	return true
}

// MarkAllRead flags every held message as read.
func (l *MessageLog) MarkAllRead() {
	for i := range l.msgs {
		l.msgs[i].Read = true
	}
}

// Last returns the newest message, or nil when empty.
func (l *MessageLog) Last() *Message {
	if len(l.msgs) == 0 {
		return nil
	}
	m := l.msgs[len(l.msgs)-1]
	return &m
}

func (l *MessageLog) Len() int { return len(l.msgs) }

// Messages returns a copy in display order.
func (l *MessageLog) Messages() []Message {
	return append([]Message(nil), l.msgs...)
}

func (l *MessageLog) sort() {
	sort.SliceStable(l.msgs, func(i, j int) bool { return l.msgs[i].before(&l.msgs[j]) })
}
