package chatsync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ============================================================================
// Events
// ============================================================================

const (
	EventConversationsUpdated = "conversations.updated" // payload: []ConversationSummary
	EventMessagesUpdated      = "messages.updated"      // payload: []Message
	EventSyncError            = "sync.error"            // payload: *SyncError
	EventMessageSent          = "message.sent"          // payload: Message
	EventMessageFailed        = "message.failed"        // payload: *SendError
	EventAuthExpired          = "auth.expired"          // payload: nil
)

// SyncError is the payload of EventSyncError.
type SyncError struct {
	Resource string
	Err      error
}

func (e *SyncError) Error() string { return e.Resource + ": " + e.Err.Error() }
func (e *SyncError) Unwrap() error { return e.Err }

// EventHandler receives session events. Handlers run synchronously on the
// goroutine that caused the event and must not call back into the Session
// for long operations.
type EventHandler func(event string, payload any)

type emitter struct {
	mu        sync.RWMutex
	listeners map[string][]EventHandler
}

// On registers handler for event.
func (e *emitter) On(event string, handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[event] = append(e.listeners[event], handler)
}

func (e *emitter) emit(event string, payload any) {
	e.mu.RLock()
	handlers := e.listeners[event]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() { recover() }() // a broken handler must not break sync
			h(event, payload)
		}()
	}
}

func (e *emitter) removeAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = make(map[string][]EventHandler)
}

// ============================================================================
// Session
// ============================================================================

// Session is the chat cache for one signed-in user: the conversation index,
// at most one open message log, and the commands that keep them in sync.
// Create it at sign-in and Close it at sign-out.
//
// All cache mutation happens under one mutex that is never held across a
// network call, so results are applied in completion order.
type Session struct {
	emitter
	gateway      Gateway
	scheduler    *SyncScheduler
	metrics      *Metrics
	logger       *slog.Logger
	pollInterval time.Duration
	fetchTimeout time.Duration
	now          func() time.Time

	mu      sync.Mutex
	closed  bool
	index   *ConversationIndex
	reads   *ReadReconciler
	open    *MessageLog
	pending map[string]PendingSend
}

type SessionOption func(*Session)

// WithPollInterval sets the polling period. Zero disables the timer.
func WithPollInterval(d time.Duration) SessionOption {
	return func(s *Session) { s.pollInterval = d }
}

// WithFetchTimeout bounds each timer-driven fetch.
func WithFetchTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.fetchTimeout = d }
}

func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

const DefaultPollInterval = 10 * time.Second

// NewSession creates an empty cache on top of gateway. If gateway is a
// *Client, its auth-expiry hook is wired to EventAuthExpired.
func NewSession(gateway Gateway, opts ...SessionOption) *Session {
	s := &Session{
		emitter:      emitter{listeners: make(map[string][]EventHandler)},
		gateway:      gateway,
		metrics:      newMetrics(),
		logger:       slog.Default(),
		pollInterval: DefaultPollInterval,
		fetchTimeout: DefaultTimeout,
		now:          time.Now,
		index:        NewConversationIndex(),
		reads:        NewReadReconciler(),
		pending:      make(map[string]PendingSend),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.scheduler = NewSyncScheduler(s.pollInterval, s.metrics, s.logger)
	if c, ok := gateway.(*Client); ok {
		c.OnAuthExpired(func() { s.emit(EventAuthExpired, nil) })
	}
	return s
}

// Metrics exposes the session's collectors for registration.
func (s *Session) Metrics() *Metrics { return s.metrics }

// Scheduler exposes fetch state for callers that show a spinner.
func (s *Session) Scheduler() *SyncScheduler { return s.scheduler }

// Close tears the session down: polling stops, the open log is released and
// every later command fails with ErrSessionClosed. Safe to call twice and
// from an event handler; a poll already running is discarded when it lands.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.open = nil
	s.mu.Unlock()

	s.scheduler.Stop()
	s.removeAll()
	return nil
}

// ── Polling ───────────────────────────────────────────────

// StartPolling starts the repeating refresh of the conversation list and,
// when one is open, of the open message log.
func (s *Session) StartPolling() error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	s.scheduler.Start(s.pollTick)
	return nil
}

// StopPolling cancels the timer. Fetches already in flight still complete.
func (s *Session) StopPolling() {
	s.scheduler.Stop()
}

func (s *Session) pollTick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.fetchTimeout)
	defer cancel()
	if err := s.Refresh(ctx); err != nil {
		s.logger.Debug("poll_tick_failed", "error", err)
	}
}

// ── Refresh ───────────────────────────────────────────────

// Refresh fetches the conversation list and the open message log as two
// independent tasks and returns the first error. A failure of one does not
// stop the other.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	hasOpen := s.open != nil
	s.mu.Unlock()

	var g errgroup.Group
	g.Go(func() error { return s.RefreshConversations(ctx) })
	if hasOpen {
		g.Go(func() error {
			err := s.RefreshMessages(ctx)
			if errors.Is(err, ErrNoOpenConversation) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// RefreshConversations fetches the conversation list. A trigger arriving
// while a list fetch is in flight is dropped and returns nil. On failure the
// held list is left as it was.
func (s *Session) RefreshConversations(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	_, err := s.scheduler.Run(ctx, resourceConversations, s.fetchConversations)
	return err
}

func (s *Session) fetchConversations(ctx context.Context) error {
	s.mu.Lock()
	since, issued := s.index.Revision(), s.reads.Seq()
	s.mu.Unlock()

	list, err := s.gateway.ListConversations(ctx)
	if err != nil {
		s.fetchFailed(resourceConversations, err)
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.metrics.fetches.WithLabelValues(resourceConversations, "discarded").Inc()
		return nil
	}
	s.index.Replace(s.reads.ReconcileAll(list, issued), since)
	snapshot := s.index.List()
	s.mu.Unlock()

	s.metrics.fetches.WithLabelValues(resourceConversations, "ok").Inc()
	s.logger.Debug("conversations_refreshed", "count", len(snapshot))
	s.emit(EventConversationsUpdated, snapshot)
	return nil
}

// RefreshMessages fetches the message log of the open conversation.
func (s *Session) RefreshMessages(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	log := s.open
	s.mu.Unlock()
	if log == nil {
		return ErrNoOpenConversation
	}
	_, err := s.scheduler.Run(ctx, messagesResource(log.ConversationID()), func(ctx context.Context) error {
		return s.fetchMessages(ctx, log, false)
	})
	return err
}

// fetchMessages loads log's conversation. With detail set it uses
// GET conversations/{id} and falls back to the messages endpoint when the
// detail has none embedded. A result for a log that is no longer open is
// discarded.
func (s *Session) fetchMessages(ctx context.Context, log *MessageLog, detail bool) error {
	id := log.ConversationID()
	s.mu.Lock()
	since, issued := log.Revision(), s.reads.Seq()
	s.mu.Unlock()

	var (
		summary *ConversationSummary
		msgs    []Message
		err     error
	)
	if detail {
		var d *ConversationDetail
		if d, err = s.gateway.GetConversation(ctx, id); err == nil {
			summary, msgs = &d.ConversationSummary, d.Messages
			if msgs == nil {
				msgs, err = s.gateway.ListMessages(ctx, id)
			}
		}
	} else {
		msgs, err = s.gateway.ListMessages(ctx, id)
	}

	s.mu.Lock()
	if s.open != log {
		s.mu.Unlock()
		s.metrics.fetches.WithLabelValues(resourceMessages, "discarded").Inc()
		s.logger.Debug("messages_fetch_discarded", "conversation_id", id)
		return nil
	}
	if err != nil {
		s.mu.Unlock()
		s.fetchFailed(messagesResource(id), err)
		return err
	}
	read := s.reads.Pending(id)
	if summary != nil && summary.Valid() {
		s.index.Upsert(s.reads.Reconcile(*summary, issued))
	}
	log.ReplaceFetched(msgs, since)
	if last := log.Last(); last != nil {
		s.index.RecordMessage(*last)
	}
	if read {
		log.MarkAllRead()
	}
	messages := log.Messages()
	conversations := s.index.List()
	s.mu.Unlock()

	s.metrics.fetches.WithLabelValues(resourceMessages, "ok").Inc()
	s.logger.Debug("messages_refreshed", "conversation_id", id, "count", len(messages))
	s.emit(EventMessagesUpdated, messages)
	s.emit(EventConversationsUpdated, conversations)
	return nil
}

func (s *Session) fetchFailed(resource string, err error) {
	s.metrics.fetches.WithLabelValues(resourceLabel(resource), "error").Inc()
	s.logger.Warn("fetch_failed", "resource", resource, "error", err)
	s.emit(EventSyncError, &SyncError{Resource: resource, Err: err})
}

// ── Open / close ──────────────────────────────────────────

// Open materializes the message log of conversationID, replacing any open
// one. The conversation is marked read locally at once and on the server
// concurrently with the initial fetch. The returned error is the fetch's;
// a failed mark-read request is reported through EventSyncError.
func (s *Session) Open(ctx context.Context, conversationID int64) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	log := NewMessageLog(conversationID)
	s.open = log
	s.markReadLocked(conversationID)
	conversations := s.index.List()
	s.mu.Unlock()
	s.emit(EventConversationsUpdated, conversations)

	var g errgroup.Group
	g.Go(func() error {
		if err := s.sendMarkRead(ctx, conversationID); err != nil {
			s.emit(EventSyncError, &SyncError{Resource: "read", Err: err})
		}
		return nil
	})
	g.Go(func() error {
		_, err := s.scheduler.Run(ctx, messagesResource(conversationID), func(ctx context.Context) error {
			return s.fetchMessages(ctx, log, true)
		})
		return err
	})
	return g.Wait()
}

// CloseConversation releases the open message log. Any in-flight fetch for
// it is discarded when it lands. The conversation list is then refreshed
// once; its error is returned.
func (s *Session) CloseConversation(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.open = nil
	s.mu.Unlock()
	return s.RefreshConversations(ctx)
}

// StartConversation opens a conversation with a coaching on the server and
// puts its summary at the front of the index.
func (s *Session) StartConversation(ctx context.Context, coachingID int64) (*ConversationSummary, error) {
	s.mu.Lock()
	closed, issued := s.closed, s.reads.Seq()
	s.mu.Unlock()
	if closed {
		return nil, ErrSessionClosed
	}

	c, err := s.gateway.StartConversation(ctx, coachingID)
	if err != nil {
		s.logger.Warn("start_conversation_failed", "coaching_id", coachingID, "error", err)
		return nil, err
	}
	if !c.Valid() {
		return nil, ErrInvalidResponse
	}

	s.mu.Lock()
	s.index.Upsert(s.reads.Reconcile(*c, issued))
	out, _ := s.index.Get(c.ID)
	conversations := s.index.List()
	s.mu.Unlock()

	s.emit(EventConversationsUpdated, conversations)
	return &out, nil
}

// ── Snapshots ─────────────────────────────────────────────

// Conversations returns a copy of the index in display order.
func (s *Session) Conversations() []ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.List()
}

// Conversation returns a copy of one summary.
func (s *Session) Conversation(id int64) (ConversationSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Get(id)
}

// OpenConversation returns the id of the open conversation.
func (s *Session) OpenConversation() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open == nil {
		return 0, false
	}
	return s.open.ConversationID(), true
}

// Messages returns a copy of the open message log, or nil.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open == nil {
		return nil
	}
	return s.open.Messages()
}

// TotalUnread is the badge count across all conversations.
func (s *Session) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.TotalUnread()
}
