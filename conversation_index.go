package chatsync

// ConversationIndex is the ordered collection of conversation summaries.
// Summaries are only ever inserted or updated, never removed by a local
// action.
//
// Not safe for concurrent use; the Session serializes access.
type ConversationIndex struct {
	items []ConversationSummary

	// rev increases on every local change; touched records the rev of the
	// last local change per id so Replace can keep entries newer than the
	// fetch it applies.
	rev     uint64
	touched map[int64]uint64
}

func NewConversationIndex() *ConversationIndex {
	return &ConversationIndex{touched: make(map[int64]uint64)}
}

// Revision identifies the index state for a later Replace call.
func (x *ConversationIndex) Revision() uint64 { return x.rev }

// Replace installs a fetched list issued at revision since. Invalid entries
// are dropped. Each entry is merged with the held one by the Upsert rule and
// the held order becomes the fetched order. Entries changed locally after
// since that the fetch does not contain stay at the front.
func (x *ConversationIndex) Replace(fetched []ConversationSummary, since uint64) {
	held := make(map[int64]ConversationSummary, len(x.items))
	for _, c := range x.items {
		held[c.ID] = c
	}

	seen := make(map[int64]bool, len(fetched))
	next := make([]ConversationSummary, 0, len(fetched))
	for _, in := range fetched {
		if !in.Valid() || seen[in.ID] {
			continue
		}
		seen[in.ID] = true
		if cur, ok := held[in.ID]; ok {
			next = append(next, mergeSummary(cur, in))
		} else {
			next = append(next, in.clone())
		}
	}

	var kept []ConversationSummary
	for _, c := range x.items {
		if !seen[c.ID] && x.touched[c.ID] > since {
			kept = append(kept, c)
		}
	}
	x.items = append(kept, next...)
	for id, r := range x.touched {
		if r <= since {
			delete(x.touched, id)
		}
	}
}

// Upsert inserts c at the front when new, otherwise merges it into the held
// entry. It reports false when c is invalid.
func (x *ConversationIndex) Upsert(c ConversationSummary) bool {
	if !c.Valid() {
		return false
	}
	x.touch(c.ID)
	if i := x.find(c.ID); i >= 0 {
		x.items[i] = mergeSummary(x.items[i], c)
		return true
	}
	x.items = append([]ConversationSummary{c.clone()}, x.items...)
	return true
}

// MarkReadLocally zeroes the local unread count. Idempotent; reports whether
// the conversation is known.
func (x *ConversationIndex) MarkReadLocally(id int64) bool {
	i := x.find(id)
	if i < 0 {
		return false
	}
	x.items[i].UserUnread = 0
	return true
}

// RecordMessage advances last_message and updated_at for a message the
// client has just seen confirmed. Older messages leave the entry untouched.
func (x *ConversationIndex) RecordMessage(m Message) bool {
	i := x.find(m.ConversationID)
	if i < 0 || !m.Valid() {
		return false
	}
	x.touch(m.ConversationID)
	c := &x.items[i]
	if c.LastMessage == nil || c.LastMessage.before(&m) {
		lm := m
		c.LastMessage = &lm
	}
	if m.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = m.CreatedAt
	}
	return true
}

// Get returns a copy of the summary for id.
func (x *ConversationIndex) Get(id int64) (ConversationSummary, bool) {
	i := x.find(id)
	if i < 0 {
		return ConversationSummary{}, false
	}
	return x.items[i].clone(), true
}

// List returns copies of all summaries in display order.
func (x *ConversationIndex) List() []ConversationSummary {
	out := make([]ConversationSummary, len(x.items))
	for i, c := range x.items {
		out[i] = c.clone()
	}
	return out
}

func (x *ConversationIndex) Len() int { return len(x.items) }

// TotalUnread sums the local unread counts.
func (x *ConversationIndex) TotalUnread() int {
	n := 0
	for _, c := range x.items {
		n += c.UserUnread
	}
	return n
}

func (x *ConversationIndex) find(id int64) int {
	for i := range x.items {
		if x.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (x *ConversationIndex) touch(id int64) {
	x.rev++
	x.touched[id] = x.rev
}

// mergeSummary combines a held summary with an incoming server record.
// The unread count is the server's; local reads are applied before a record
// gets here. last_message is the newer of the two and updated_at never moves
// backwards.
func mergeSummary(cur, in ConversationSummary) ConversationSummary {
	out := in.clone()
	if !in.UpdatedAt.After(cur.UpdatedAt) {
		out.UpdatedAt = cur.UpdatedAt
	}
	if out.Counterparty == nil && cur.Counterparty != nil {
		cp := *cur.Counterparty
		out.Counterparty = &cp
	}
	if cur.LastMessage != nil && (out.LastMessage == nil || out.LastMessage.before(cur.LastMessage)) {
		lm := *cur.LastMessage
		out.LastMessage = &lm
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = cur.CreatedAt
	}
	return out
}
