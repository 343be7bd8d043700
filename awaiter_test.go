package chatsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// scriptedFetch returns baseline-only lists until reply() flips true, then
// appends the assistant message. Counts every poll.
type scriptedFetch struct {
	mu       sync.Mutex
	calls    int
	messages []Message
	err      error
}

func (f *scriptedFetch) fetch(ctx context.Context, conversationID string) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]Message, len(f.messages))
	copy(out, f.messages)
	return out, nil
}

func (f *scriptedFetch) setMessages(msgs []Message) {
	f.mu.Lock()
	f.messages = msgs
	f.mu.Unlock()
}

func (f *scriptedFetch) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var (
	userMsg      = Message{ID: "m1", Role: RoleUser, Text: "hello"}
	assistantMsg = Message{ID: "m2", Role: RoleAssistant, Text: "hi there"}
)

func TestSessionResolvesOnNewAssistantMessage(t *testing.T) {
	fetch := &scriptedFetch{messages: []Message{userMsg}}
	aw := NewAwaiter(fetch.fetch, AwaiterConfig{Interval: 20 * time.Millisecond, MaxWait: 500 * time.Millisecond})

	s := aw.Start(context.Background(), "c1", []Message{userMsg}, nil)

	// First poll sees only the baseline; the reply appears before the second.
	time.Sleep(30 * time.Millisecond)
	fetch.setMessages([]Message{userMsg, assistantMsg})

	select {
	case outcome, ok := <-s.Done():
		if !ok {
			t.Fatal("session was cancelled, expected resolution")
		}
		if outcome.State != StateResolved {
			t.Fatalf("State = %v, want %v", outcome.State, StateResolved)
		}
		if len(outcome.Messages) != 2 {
			t.Errorf("resolution must deliver the full updated list, got %d messages", len(outcome.Messages))
		}
	case <-time.After(time.Second):
		t.Fatal("session did not resolve")
	}

	if got := s.State(); got != StateResolved {
		t.Errorf("State() = %v, want %v", got, StateResolved)
	}

	// No timer may remain armed after a terminal transition.
	settled := fetch.count()
	time.Sleep(80 * time.Millisecond)
	if got := fetch.count(); got != settled {
		t.Errorf("poll fired after resolution: %d -> %d", settled, got)
	}
}

func TestSessionIgnoresBaselineAndNonMatchingItems(t *testing.T) {
	// A restated user item outside the baseline must not resolve the session.
	other := Message{ID: "m3", Role: RoleUser, Text: "echoed"}
	fetch := &scriptedFetch{messages: []Message{userMsg, other}}
	aw := NewAwaiter(fetch.fetch, AwaiterConfig{Interval: 20 * time.Millisecond, MaxWait: 90 * time.Millisecond})

	s := aw.Start(context.Background(), "c1", []Message{userMsg}, nil)

	outcome, ok := <-s.Done()
	if !ok {
		t.Fatal("session was cancelled unexpectedly")
	}
	if outcome.State != StateTimedOut {
		t.Errorf("State = %v, want %v (non-matching novelty must not resolve)", outcome.State, StateTimedOut)
	}
}

func TestSessionTimesOutWithinOneInterval(t *testing.T) {
	fetch := &scriptedFetch{messages: []Message{userMsg}}
	interval := 20 * time.Millisecond
	maxWait := 100 * time.Millisecond
	aw := NewAwaiter(fetch.fetch, AwaiterConfig{Interval: interval, MaxWait: maxWait})

	start := time.Now()
	s := aw.Start(context.Background(), "c1", []Message{userMsg}, nil)

	outcome, ok := <-s.Done()
	elapsed := time.Since(start)
	if !ok {
		t.Fatal("session was cancelled, expected timeout")
	}
	if outcome.State != StateTimedOut {
		t.Fatalf("State = %v, want %v", outcome.State, StateTimedOut)
	}
	if outcome.Err != nil {
		t.Errorf("timeout is not an error, got %v", outcome.Err)
	}
	if elapsed < maxWait {
		t.Errorf("timed out after %v, before maxWait %v", elapsed, maxWait)
	}
	if elapsed > maxWait+interval+50*time.Millisecond {
		t.Errorf("timed out after %v, more than one interval past maxWait %v", elapsed, maxWait)
	}

	settled := fetch.count()
	time.Sleep(3 * interval)
	if got := fetch.count(); got != settled {
		t.Errorf("poll fired after timeout: %d -> %d", settled, got)
	}
}

func TestStartSupersedesActiveSession(t *testing.T) {
	fetch := &scriptedFetch{messages: []Message{userMsg}}
	aw := NewAwaiter(fetch.fetch, AwaiterConfig{Interval: 20 * time.Millisecond, MaxWait: 500 * time.Millisecond})

	first := aw.Start(context.Background(), "c1", []Message{userMsg}, nil)

	// The reply is already visible; the first session would resolve on its
	// next tick if it were allowed to live.
	fetch.setMessages([]Message{userMsg, assistantMsg})
	second := aw.Start(context.Background(), "c1", []Message{userMsg}, nil)

	if _, ok := <-first.Done(); ok {
		t.Error("superseded session must close Done without an outcome")
	}
	if got := first.State(); got != StateCancelled {
		t.Errorf("first session State() = %v, want %v", got, StateCancelled)
	}

	outcome, ok := <-second.Done()
	if !ok || outcome.State != StateResolved {
		t.Fatalf("second session outcome = (%+v, %v), want resolution", outcome, ok)
	}

	if active, found := aw.Active("c1"); found {
		t.Errorf("no session should remain active, found %s", active.ID())
	}
}

func TestCancelStopsPollingSilently(t *testing.T) {
	fetch := &scriptedFetch{messages: []Message{userMsg}}
	aw := NewAwaiter(fetch.fetch, AwaiterConfig{Interval: 20 * time.Millisecond, MaxWait: time.Second})

	s := aw.Start(context.Background(), "c1", []Message{userMsg}, nil)
	time.Sleep(30 * time.Millisecond)
	s.Cancel()

	if _, ok := <-s.Done(); ok {
		t.Error("cancelled session must not deliver an outcome")
	}
	if got := s.State(); got != StateCancelled {
		t.Errorf("State() = %v, want %v", got, StateCancelled)
	}

	settled := fetch.count()
	time.Sleep(80 * time.Millisecond)
	if got := fetch.count(); got != settled {
		t.Errorf("poll fired after cancel: %d -> %d", settled, got)
	}

	// Cancelling twice is harmless.
	s.Cancel()
}

func TestAwaiterCancelByConversation(t *testing.T) {
	fetch := &scriptedFetch{messages: []Message{userMsg}}
	aw := NewAwaiter(fetch.fetch, AwaiterConfig{Interval: 20 * time.Millisecond, MaxWait: time.Second})

	s := aw.Start(context.Background(), "c1", []Message{userMsg}, nil)

	if !aw.Cancel("c1") {
		t.Error("Cancel should report an active session")
	}
	if aw.Cancel("c1") {
		t.Error("Cancel should report no session the second time")
	}
	if got := s.State(); got != StateCancelled {
		t.Errorf("State() = %v, want %v", got, StateCancelled)
	}
}

func TestSessionFailsOnPollError(t *testing.T) {
	cause := errors.New("read endpoint down")
	fetch := &scriptedFetch{err: cause}
	aw := NewAwaiter(fetch.fetch, AwaiterConfig{Interval: 20 * time.Millisecond, MaxWait: time.Second})

	s := aw.Start(context.Background(), "c1", nil, nil)

	outcome, ok := <-s.Done()
	if !ok {
		t.Fatal("failed session must deliver an outcome")
	}
	if outcome.State != StateFailed {
		t.Fatalf("State = %v, want %v", outcome.State, StateFailed)
	}

	var clientErr *ClientError
	if !errors.As(outcome.Err, &clientErr) || clientErr.Type != ErrorTypePoll {
		t.Errorf("Err = %v, want a %s ClientError", outcome.Err, ErrorTypePoll)
	}
	if !errors.Is(outcome.Err, cause) {
		t.Errorf("Err should wrap the fetch failure, got %v", outcome.Err)
	}

	// A single poll, no silent retrying.
	settled := fetch.count()
	time.Sleep(80 * time.Millisecond)
	if got := fetch.count(); got != settled || settled != 1 {
		t.Errorf("polls = %d then %d, want exactly 1", settled, got)
	}
}

func TestSessionStateMachineScenario(t *testing.T) {
	// Scaled rendition of the reference scenario: baseline [A(user)],
	// poll 1 returns [A], poll 2 returns [A, B(assistant)] and resolves
	// with the full set; nothing fires afterwards.
	fetch := &scriptedFetch{messages: []Message{userMsg}}
	interval := 25 * time.Millisecond
	aw := NewAwaiter(fetch.fetch, AwaiterConfig{Interval: interval, MaxWait: 125 * time.Millisecond})

	s := aw.Start(context.Background(), "c1", []Message{userMsg}, nil)
	if got := s.State(); got != StatePolling {
		t.Fatalf("State() right after Start = %v, want %v", got, StatePolling)
	}

	time.Sleep(interval + interval/2) // poll 1 has happened, poll 2 has not
	fetch.setMessages([]Message{userMsg, assistantMsg})

	outcome, ok := <-s.Done()
	if !ok || outcome.State != StateResolved {
		t.Fatalf("outcome = (%+v, %v), want resolution", outcome, ok)
	}
	if len(outcome.Messages) != 2 || outcome.Messages[1].ID != assistantMsg.ID {
		t.Errorf("Messages = %+v, want full updated list ending in %s", outcome.Messages, assistantMsg.ID)
	}
	if got := fetch.count(); got != 2 {
		t.Errorf("polls = %d, want 2", got)
	}
}

func TestSessionsForDifferentConversationsAreIndependent(t *testing.T) {
	fetch := &scriptedFetch{messages: []Message{userMsg, assistantMsg}}
	aw := NewAwaiter(fetch.fetch, AwaiterConfig{Interval: 15 * time.Millisecond, MaxWait: time.Second})

	s1 := aw.Start(context.Background(), "c1", []Message{userMsg}, nil)
	s2 := aw.Start(context.Background(), "c2", []Message{userMsg}, nil)

	o1, ok1 := <-s1.Done()
	o2, ok2 := <-s2.Done()
	if !ok1 || o1.State != StateResolved {
		t.Errorf("c1 outcome = (%+v, %v), want resolution", o1, ok1)
	}
	if !ok2 || o2.State != StateResolved {
		t.Errorf("c2 outcome = (%+v, %v), want resolution", o2, ok2)
	}
}

func TestSessionStateStrings(t *testing.T) {
	tests := []struct {
		state SessionState
		want  string
	}{
		{StateIdle, "idle"},
		{StatePolling, "polling"},
		{StateResolved, "resolved"},
		{StateTimedOut, "timed_out"},
		{StateCancelled, "cancelled"},
		{StateFailed, "failed"},
		{SessionState(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String(%d) = %q, want %q", tt.state, got, tt.want)
		}
	}

	if StatePolling.Terminal() {
		t.Error("polling must not be terminal")
	}
	for _, s := range []SessionState{StateResolved, StateTimedOut, StateCancelled, StateFailed} {
		if !s.Terminal() {
			t.Errorf("%v must be terminal", s)
		}
	}
}

func TestConcurrentStartsLeaveOneActiveSession(t *testing.T) {
	fetch := &scriptedFetch{messages: []Message{userMsg}}
	aw := NewAwaiter(fetch.fetch, AwaiterConfig{Interval: 20 * time.Millisecond, MaxWait: time.Second})

	var wg sync.WaitGroup
	var cancelled int32
	sessions := make([]*Session, 6)
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := aw.Start(context.Background(), "c1", []Message{userMsg}, nil)
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	for _, s := range sessions {
		if s.State() == StateCancelled {
			atomic.AddInt32(&cancelled, 1)
		}
	}
	if got := int(cancelled); got != len(sessions)-1 {
		t.Errorf("%d sessions cancelled, want %d (exactly one survivor)", got, len(sessions)-1)
	}

	if _, found := aw.Active("c1"); !found {
		t.Error("one session should remain active")
	}
	aw.Cancel("c1")
}
