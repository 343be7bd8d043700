package chatsync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle state of one polling session.
type SessionState int

const (
	StateIdle SessionState = iota
	StatePolling
	StateResolved
	StateTimedOut
	StateCancelled
	StateFailed
)

// String returns the state name for logs and metrics labels.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateResolved:
		return "resolved"
	case StateTimedOut:
		return "timed_out"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can occur from s.
func (s SessionState) Terminal() bool {
	switch s {
	case StateResolved, StateTimedOut, StateCancelled, StateFailed:
		return true
	default:
		return false
	}
}

// Outcome is what a finished session delivers on Done. TimedOut carries no
// error: the expected reply simply never arrived within the bound, and the
// caller decides whether to offer a retry.
type Outcome struct {
	State    SessionState
	Messages []Message
	Err      error
}

// Default polling policy. Roughly fifteen attempts before giving up; both
// values are knobs, not correctness requirements.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultAwaitTimeout = 30 * time.Second
)

// AwaiterConfig holds awaiter construction parameters. Zero durations select
// the defaults.
type AwaiterConfig struct {
	Interval time.Duration
	MaxWait  time.Duration
	Metrics  *MetricsCollector
	Logger   Logger
	Debug    *DebugConfig
}

// Awaiter observes a conversation's read endpoint after a write that
// triggers asynchronous server-side work, until the expected reply appears
// or a bound elapses. At most one session is active per conversation;
// starting another supersedes (cancels) the previous one, so two stale
// polling loops can never race to deliver results for the same conversation.
type Awaiter struct {
	fetch    FetchFunc
	interval time.Duration
	maxWait  time.Duration
	metrics  *MetricsCollector
	logger   Logger
	debug    *DebugConfig

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewAwaiter constructs an Awaiter polling through fetch.
func NewAwaiter(fetch FetchFunc, cfg AwaiterConfig) *Awaiter {
	a := &Awaiter{
		fetch:    fetch,
		interval: cfg.Interval,
		maxWait:  cfg.MaxWait,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		debug:    cfg.Debug,
		sessions: make(map[string]*Session),
	}

	if a.interval <= 0 {
		a.interval = DefaultPollInterval
	}
	if a.maxWait <= 0 {
		a.maxWait = DefaultAwaitTimeout
	}

	return a
}

// Start begins a bounded polling session for conversationID and returns
// immediately after arming the first timer. baseline is the set of items
// known before the triggering write; only items outside it count as new.
// A nil expect defaults to AssistantReply.
//
// Any session already active for the conversation is cancelled before the
// new one is registered: latest supersedes earliest, strictly.
func (a *Awaiter) Start(ctx context.Context, conversationID string, baseline []Message, expect MessagePredicate) *Session {
	if expect == nil {
		expect = AssistantReply
	}
	if ctx == nil {
		ctx = context.Background()
	}

	base := make(map[string]struct{}, len(baseline))
	for _, m := range baseline {
		base[m.ID] = struct{}{}
	}

	s := &Session{
		id:             uuid.NewString(),
		conversationID: conversationID,
		baseline:       base,
		expect:         expect,
		started:        time.Now(),
		ctx:            ctx,
		aw:             a,
		state:          StatePolling,
		done:           make(chan Outcome, 1),
	}

	for {
		a.mu.Lock()
		prev := a.sessions[conversationID]
		if prev == nil {
			a.sessions[conversationID] = s
			a.mu.Unlock()
			break
		}
		delete(a.sessions, conversationID)
		a.mu.Unlock()

		// Cancelled outside the map lock; prev can no longer deliver once
		// its state flips, and it was already detached above.
		prev.cancel(false)
	}

	s.mu.Lock()
	s.timer = time.AfterFunc(a.interval, s.tick)
	s.mu.Unlock()

	a.metrics.RecordSessionStart()
	if a.debug.on() && a.logger != nil {
		a.logger.Debug("Await session started", "sessionID", s.id, "conversationID", conversationID, "interval", a.interval, "maxWait", a.maxWait)
	}

	return s
}

// Cancel cancels the active session for conversationID, if any, and reports
// whether there was one.
func (a *Awaiter) Cancel(conversationID string) bool {
	a.mu.Lock()
	s := a.sessions[conversationID]
	delete(a.sessions, conversationID)
	a.mu.Unlock()

	if s == nil {
		return false
	}
	s.cancel(false)
	return true
}

// Active returns the currently polling session for conversationID.
func (a *Awaiter) Active(conversationID string) (*Session, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[conversationID]
	return s, ok
}

func (a *Awaiter) unregister(s *Session) {
	a.mu.Lock()
	if a.sessions[s.conversationID] == s {
		delete(a.sessions, s.conversationID)
	}
	a.mu.Unlock()
}

// Session is one bounded polling attempt for one conversation. Callers
// receive the terminal Outcome from Done; a cancelled session closes Done
// without sending, so `outcome, ok := <-s.Done()` reports cancellation as
// ok == false.
type Session struct {
	id             string
	conversationID string
	baseline       map[string]struct{}
	expect         MessagePredicate
	started        time.Time
	ctx            context.Context
	aw             *Awaiter

	mu    sync.Mutex
	state SessionState
	timer *time.Timer
	done  chan Outcome
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// ConversationID returns the conversation this session observes.
func (s *Session) ConversationID() string { return s.conversationID }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done returns the channel the terminal outcome is delivered on.
func (s *Session) Done() <-chan Outcome { return s.done }

// Cancel transitions a polling session to Cancelled and clears its timer.
// Terminal sessions are left untouched. The cancelled session never
// notifies its success path.
func (s *Session) Cancel() {
	s.cancel(true)
}

func (s *Session) cancel(unregister bool) {
	s.mu.Lock()
	if s.state != StatePolling {
		s.mu.Unlock()
		return
	}
	s.state = StateCancelled
	s.stopTimerLocked()
	close(s.done)
	s.mu.Unlock()

	if unregister {
		s.aw.unregister(s)
	}
	s.aw.metrics.RecordSessionEnd(StateCancelled)
	if s.aw.debug.on() && s.aw.logger != nil {
		s.aw.logger.Debug("Await session cancelled", "sessionID", s.id, "conversationID", s.conversationID)
	}
}

// tick runs on each timer fire: fetch the current list, look for a new item
// matching the predicate, and either resolve, time out, fail, or re-arm.
func (s *Session) tick() {
	s.mu.Lock()
	if s.state != StatePolling {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	messages, err := s.aw.fetch(s.ctx, s.conversationID)
	s.aw.metrics.RecordPoll(err == nil)
	if s.aw.debug.on() && s.aw.debug.LogPolls && s.aw.logger != nil {
		s.aw.logger.Debug("Poll completed", "sessionID", s.id, "conversationID", s.conversationID, "messages", len(messages), "error", err)
	}

	s.mu.Lock()
	if s.state != StatePolling {
		// Cancelled or superseded while the fetch was out; its result
		// belongs to nobody.
		s.mu.Unlock()
		return
	}

	if err != nil {
		s.finishLocked(StateFailed, Outcome{
			State: StateFailed,
			Err: &ClientError{
				Type:      ErrorTypePoll,
				Message:   "poll fetch failed",
				Cause:     err,
				Path:      s.conversationID,
				Timestamp: time.Now(),
			},
		})
		return
	}

	for _, m := range messages {
		if _, seen := s.baseline[m.ID]; seen {
			continue
		}
		if s.expect(m) {
			s.finishLocked(StateResolved, Outcome{State: StateResolved, Messages: messages})
			return
		}
	}

	if time.Since(s.started) >= s.aw.maxWait {
		s.finishLocked(StateTimedOut, Outcome{State: StateTimedOut, Messages: messages})
		return
	}

	s.timer = time.AfterFunc(s.aw.interval, s.tick)
	s.mu.Unlock()
}

// finishLocked performs a terminal transition. Called with s.mu held; it
// releases the lock, delivers the outcome and unregisters the session.
func (s *Session) finishLocked(state SessionState, outcome Outcome) {
	s.state = state
	s.stopTimerLocked()
	s.done <- outcome
	close(s.done)
	s.mu.Unlock()

	s.aw.unregister(s)
	s.aw.metrics.RecordSessionEnd(state)
	if s.aw.debug.on() && s.aw.logger != nil {
		s.aw.logger.Debug("Await session finished", "sessionID", s.id, "conversationID", s.conversationID, "state", state.String())
	}
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
