// Package view tracks what a connected client is looking at: its
// conversation list or a single thread.
package view

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/courier/internal/hub"
	"github.com/matheus3301/courier/internal/store"
)

// State is the client view state.
type State string

const (
	ListView   State = "LIST_VIEW"
	ThreadView State = "THREAD_VIEW"
)

// validTransitions defines allowed state transitions. THREAD_VIEW to
// THREAD_VIEW switches conversations.
var validTransitions = map[State][]State{
	ListView:   {ThreadView},
	ThreadView: {ThreadView, ListView},
}

// Messenger is the part of messaging.Service a session drives.
type Messenger interface {
	Conversation(ctx context.Context, conversationID, userID string) (*store.Conversation, error)
	MarkRead(ctx context.Context, conversationID, readerID string) (int, error)
	ListMessages(ctx context.Context, conversationID string) ([]store.Message, error)
	ListConversationSummaries(ctx context.Context, userID string) ([]store.Summary, error)
	SubscribeToConversation(conversationID string, handler hub.MessageHandler) (*hub.Subscription, error)
	SubscribeToUserSummaries(userID string, handler hub.SummaryHandler) (*hub.Subscription, error)
	Unsubscribe(sub *hub.Subscription)
}

// Listener receives everything a session wants rendered. Methods may be
// called from hub delivery goroutines concurrently with session calls.
type Listener interface {
	StateChanged(change Change) error
	Summaries(summaries []store.Summary) error
	SummaryChanged(evt hub.SummaryChanged) error
	Thread(conversationID string, messages []store.Message) error
	MessageAppended(evt hub.MessageAppended) error
}

// Change describes a state transition.
type Change struct {
	From           State
	To             State
	ConversationID string
}

// Session is the per-client view state machine.
type Session struct {
	userID string
	svc    Messenger
	out    Listener

	mu             sync.Mutex
	state          State
	conversationID string
	lastSeq        int64
	listSub        *hub.Subscription
	threadSub      *hub.Subscription
	closed         bool
}

// NewSession starts a session for userID in LIST_VIEW: it subscribes to the
// user's summaries and emits the current list.
func NewSession(ctx context.Context, userID string, svc Messenger, out Listener) (*Session, error) {
	s := &Session{userID: userID, svc: svc, out: out, state: ListView}

	sub, err := svc.SubscribeToUserSummaries(userID, s.onSummary)
	if err != nil {
		return nil, err
	}
	s.listSub = sub

	if err := s.emitList(ctx); err != nil {
		svc.Unsubscribe(sub)
		return nil, err
	}
	return s, nil
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConversationID returns the open conversation, or "" in LIST_VIEW.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Open selects conversationID. Entering the thread marks it read for the
// session user.
func (s *Session) Open(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("session closed")
	}
	if err := s.check(ThreadView); err != nil {
		return err
	}
	if _, err := s.svc.Conversation(ctx, conversationID, s.userID); err != nil {
		return err
	}

	// Subscribe before reading so nothing appended in between is missed.
	sub, err := s.svc.SubscribeToConversation(conversationID, s.onMessage)
	if err != nil {
		return err
	}
	if _, err := s.svc.MarkRead(ctx, conversationID, s.userID); err != nil {
		s.svc.Unsubscribe(sub)
		return err
	}
	msgs, err := s.svc.ListMessages(ctx, conversationID)
	if err != nil {
		s.svc.Unsubscribe(sub)
		return err
	}

	if s.threadSub != nil {
		s.svc.Unsubscribe(s.threadSub)
	}
	from := s.state
	s.threadSub = sub
	s.state = ThreadView
	s.conversationID = conversationID
	s.lastSeq = 0
	if n := len(msgs); n > 0 {
		s.lastSeq = msgs[n-1].ID
	}

	if err := s.out.StateChanged(Change{From: from, To: ThreadView, ConversationID: conversationID}); err != nil {
		return err
	}
	return s.out.Thread(conversationID, msgs)
}

// Back returns to the conversation list.
func (s *Session) Back(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("session closed")
	}
	if err := s.check(ListView); err != nil {
		return err
	}
	if s.threadSub != nil {
		s.svc.Unsubscribe(s.threadSub)
		s.threadSub = nil
	}
	s.state = ListView
	s.conversationID = ""
	s.lastSeq = 0

	if err := s.out.StateChanged(Change{From: ThreadView, To: ListView}); err != nil {
		return err
	}
	return s.emitList(ctx)
}

// Close releases the session's subscriptions. It is safe to call twice.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.threadSub != nil {
		s.svc.Unsubscribe(s.threadSub)
		s.threadSub = nil
	}
	if s.listSub != nil {
		s.svc.Unsubscribe(s.listSub)
		s.listSub = nil
	}
}

func (s *Session) check(to State) error {
	if !slices.Contains(validTransitions[s.state], to) {
		return fmt.Errorf("invalid transition from %s to %s", s.state, to)
	}
	return nil
}

func (s *Session) emitList(ctx context.Context) error {
	sums, err := s.svc.ListConversationSummaries(ctx, s.userID)
	if err != nil {
		return err
	}
	return s.out.Summaries(sums)
}

func (s *Session) onMessage(evt hub.MessageAppended) error {
	s.mu.Lock()
	live := !s.closed && s.state == ThreadView && s.conversationID == evt.ConversationID
	// The snapshot sent by Open already has everything up to lastSeq.
	if live && evt.Message.ID <= s.lastSeq {
		live = false
	}
	if live {
		s.lastSeq = evt.Message.ID
	}
	s.mu.Unlock()
	if !live {
		return nil
	}
	return s.out.MessageAppended(evt)
}

func (s *Session) onSummary(evt hub.SummaryChanged) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil
	}
	return s.out.SummaryChanged(evt)
}
