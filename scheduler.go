package chatsync

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// FetchState is the per-resource state of the scheduler.
type FetchState int

const (
	Idle FetchState = iota
	Fetching
)

func (s FetchState) String() string {
	if s == Fetching {
		return "fetching"
	}
	return "idle"
}

func messagesResource(conversationID int64) string {
	return resourceMessages + ":" + strconv.FormatInt(conversationID, 10)
}

// SyncScheduler enforces at most one in-flight fetch per resource and owns
// the polling timer. A trigger that arrives while its resource is Fetching
// is dropped, not queued.
type SyncScheduler struct {
	interval time.Duration
	metrics  *Metrics
	logger   *slog.Logger

	mu       sync.Mutex
	states   map[string]FetchState
	stopCh   chan struct{}
	loopDone chan struct{}
}

func NewSyncScheduler(interval time.Duration, metrics *Metrics, logger *slog.Logger) *SyncScheduler {
	if metrics == nil {
		metrics = newMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncScheduler{
		interval: interval,
		metrics:  metrics,
		logger:   logger,
		states:   make(map[string]FetchState),
	}
}

// State returns the current state of resource.
func (s *SyncScheduler) State(resource string) FetchState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[resource]
}

// Run executes fetch for resource unless one is already in flight. It
// reports whether fetch ran; a coalesced trigger returns (false, nil).
func (s *SyncScheduler) Run(ctx context.Context, resource string, fetch func(context.Context) error) (bool, error) {
	label := resourceLabel(resource)

	s.mu.Lock()
	if s.states[resource] == Fetching {
		s.mu.Unlock()
		s.metrics.coalesced.WithLabelValues(label).Inc()
		s.logger.Debug("fetch_coalesced", "resource", resource)
		return false, nil
	}
	s.states[resource] = Fetching
	s.mu.Unlock()

	s.metrics.inFlight.WithLabelValues(label).Inc()
	defer func() {
		s.metrics.inFlight.WithLabelValues(label).Dec()
		s.mu.Lock()
		delete(s.states, resource)
		s.mu.Unlock()
	}()

	return true, fetch(ctx)
}

// Start begins calling tick every interval until Stop. Calling Start while
// running is a no-op. tick runs on the timer goroutine and may call Stop.
func (s *SyncScheduler) Start(tick func()) {
	s.mu.Lock()
	if s.stopCh != nil || s.interval <= 0 {
		s.mu.Unlock()
		return
	}
	stopCh := make(chan struct{})
	done := make(chan struct{})
	s.stopCh, s.loopDone = stopCh, done
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
			}
			select {
			case <-stopCh:
				return
			default:
				tick()
			}
		}
	}()
}

// Stop cancels the timer. It does not wait: a tick already running finishes
// on its own and no further tick starts.
func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	stopCh := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()
	if stopCh != nil {
		close(stopCh)
	}
}

// Wait blocks until the timer goroutine of the last Start has exited. It
// must not be called from tick.
func (s *SyncScheduler) Wait() {
	s.mu.Lock()
	done := s.loopDone
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Running reports whether the timer is active.
func (s *SyncScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCh != nil
}
