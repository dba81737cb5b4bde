// Package messaging is the public face of the conversation messaging
// service: it validates callers, serializes writes per conversation, retries
// transient store failures and publishes live updates after each write.
package messaging

import (
	"context"
	"time"

	"github.com/matheus3301/courier/internal/convid"
	"github.com/matheus3301/courier/internal/hub"
	"github.com/matheus3301/courier/internal/index"
	"github.com/matheus3301/courier/internal/lock"
	"github.com/matheus3301/courier/internal/store"
	"go.uber.org/zap"
)

// Store is the message store as used by the service.
type Store interface {
	CreateConversation(ctx context.Context, id, a, b string) (*store.Conversation, bool, error)
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	Append(ctx context.Context, conversationID, senderID, content string) (*store.Message, error)
	ListMessagesPage(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]store.Message, error)
	MarkRead(ctx context.Context, conversationID, readerID string) (int, error)
	ConversationCount(ctx context.Context) (int64, error)
	MessageCount(ctx context.Context) (int64, error)
}

// Options tunes timeouts and retries.
type Options struct {
	StoreTimeout   time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
}

// DefaultOptions returns the service defaults.
func DefaultOptions() Options {
	return Options{
		StoreTimeout:   2 * time.Second,
		RetryAttempts:  3,
		RetryBaseDelay: 50 * time.Millisecond,
	}
}

// Service implements the messaging operations.
type Service struct {
	store  Store
	index  *index.Index
	hub    *hub.Hub
	locks  *lock.Keyed
	opts   Options
	logger *zap.Logger
}

// Stats is a point-in-time snapshot of service activity.
type Stats struct {
	Conversations int64
	Messages      int64
	Hub           hub.Stats
}

// New creates the service.
func New(st Store, idx *index.Index, h *hub.Hub, opts Options, logger *zap.Logger) *Service {
	def := DefaultOptions()
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = def.StoreTimeout
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = def.RetryAttempts
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = def.RetryBaseDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  st,
		index:  idx,
		hub:    h,
		locks:  lock.NewKeyed(),
		opts:   opts,
		logger: logger,
	}
}

// CreateOrGetConversation returns the conversation between userA and userB,
// creating it on first use.
func (s *Service) CreateOrGetConversation(ctx context.Context, userA, userB string) (*store.Conversation, error) {
	const op = "createOrGetConversation"
	if convid.Normalize(userA) == "" {
		return nil, newError(KindUnauthenticated, op, nil)
	}
	id, err := convid.Derive(userA, userB)
	if err != nil {
		return nil, classify(op, err)
	}
	a, b, err := convid.Split(id)
	if err != nil {
		return nil, classify(op, err)
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	conv, created, err := s.create(ctx, op, id, a, b)
	if err != nil {
		return nil, err
	}
	if created {
		s.logger.Info("conversation created", zap.String("conversation", id))
		s.publishSummaries(ctx, id, a, b)
	}
	return conv, nil
}

// SendMessage appends content from senderID. The conversation is created
// if it does not exist yet and senderID is one of the two participants
// encoded in conversationID.
func (s *Service) SendMessage(ctx context.Context, conversationID, senderID, content string) (*store.Message, error) {
	const op = "sendMessage"
	sender := convid.Normalize(senderID)
	if sender == "" {
		return nil, newError(KindUnauthenticated, op, nil)
	}
	a, b, err := convid.Split(conversationID)
	if err != nil {
		return nil, classify(op, err)
	}
	if sender != a && sender != b {
		return nil, newError(KindForbidden, op, store.ErrNotParticipant)
	}

	unlock := s.locks.Lock(conversationID)
	defer unlock()

	var msg *store.Message
	err = s.retry(ctx, op, func(ctx context.Context) error {
		var err error
		msg, err = s.store.Append(ctx, conversationID, sender, content)
		return err
	})
	if KindOf(err) == KindNotFound {
		if _, _, cerr := s.create(ctx, op, conversationID, a, b); cerr != nil {
			return nil, cerr
		}
		err = s.retry(ctx, op, func(ctx context.Context) error {
			var err error
			msg, err = s.store.Append(ctx, conversationID, sender, content)
			return err
		})
	}
	if err != nil {
		return nil, err
	}

	// Still under the conversation lock, so subscribers see appends in order.
	s.index.Invalidate(ctx, conversationID, a, b)
	s.hub.PublishMessage(hub.MessageAppended{ConversationID: conversationID, Message: *msg})
	s.publishSummaries(ctx, conversationID, a, b)

	s.logger.Debug("message appended",
		zap.String("conversation", conversationID),
		zap.Int64("seq", msg.ID))
	return msg, nil
}

// MarkRead marks every message readerID did not send as read and returns
// how many changed.
func (s *Service) MarkRead(ctx context.Context, conversationID, readerID string) (int, error) {
	const op = "markRead"
	reader := convid.Normalize(readerID)
	if reader == "" {
		return 0, newError(KindUnauthenticated, op, nil)
	}
	if _, _, err := convid.Split(conversationID); err != nil {
		return 0, classify(op, err)
	}

	unlock := s.locks.Lock(conversationID)
	defer unlock()

	var n int
	err := s.retry(ctx, op, func(ctx context.Context) error {
		var err error
		n, err = s.store.MarkRead(ctx, conversationID, reader)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.index.Invalidate(ctx, conversationID, reader)
	if n > 0 {
		s.publishSummaries(ctx, conversationID, reader)
	}
	return n, nil
}

// ListMessages returns the conversation's messages, oldest first.
func (s *Service) ListMessages(ctx context.Context, conversationID string) ([]store.Message, error) {
	return s.ListMessagesAfter(ctx, conversationID, 0, 0)
}

// ListMessagesAfter returns up to limit messages with a sequence number
// above afterSeq. Reconnecting subscribers use it to catch up.
func (s *Service) ListMessagesAfter(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]store.Message, error) {
	const op = "listMessages"
	if _, _, err := convid.Split(conversationID); err != nil {
		return nil, classify(op, err)
	}
	var msgs []store.Message
	err := s.retry(ctx, op, func(ctx context.Context) error {
		var err error
		msgs, err = s.store.ListMessagesPage(ctx, conversationID, afterSeq, limit)
		return err
	})
	return msgs, err
}

// ListConversationSummaries returns userID's conversations, most recently
// active first.
func (s *Service) ListConversationSummaries(ctx context.Context, userID string) ([]store.Summary, error) {
	const op = "listConversationSummaries"
	user := convid.Normalize(userID)
	if user == "" {
		return nil, newError(KindUnauthenticated, op, nil)
	}
	var sums []store.Summary
	err := s.retry(ctx, op, func(ctx context.Context) error {
		var err error
		sums, err = s.index.Summaries(ctx, user)
		return err
	})
	return sums, err
}

// Conversation returns conversationID if userID takes part in it.
func (s *Service) Conversation(ctx context.Context, conversationID, userID string) (*store.Conversation, error) {
	const op = "getConversation"
	user := convid.Normalize(userID)
	if user == "" {
		return nil, newError(KindUnauthenticated, op, nil)
	}
	if _, _, err := convid.Split(conversationID); err != nil {
		return nil, classify(op, err)
	}
	var conv *store.Conversation
	err := s.retry(ctx, op, func(ctx context.Context) error {
		var err error
		conv, err = s.store.GetConversation(ctx, conversationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(user) {
		return nil, newError(KindForbidden, op, store.ErrNotParticipant)
	}
	return conv, nil
}

// SubscribeToConversation delivers live MessageAppended events.
func (s *Service) SubscribeToConversation(conversationID string, handler hub.MessageHandler) (*hub.Subscription, error) {
	if _, _, err := convid.Split(conversationID); err != nil {
		return nil, classify("subscribeToConversation", err)
	}
	return s.hub.SubscribeConversation(conversationID, handler), nil
}

// SubscribeToUserSummaries delivers live SummaryChanged events for userID.
func (s *Service) SubscribeToUserSummaries(userID string, handler hub.SummaryHandler) (*hub.Subscription, error) {
	user := convid.Normalize(userID)
	if user == "" {
		return nil, newError(KindUnauthenticated, "subscribeToUserSummaries", nil)
	}
	return s.hub.SubscribeUserSummaries(user, handler), nil
}

// Unsubscribe stops a subscription returned by one of the Subscribe methods.
func (s *Service) Unsubscribe(sub *hub.Subscription) {
	s.hub.Unsubscribe(sub)
}

// Stats reports store counts and hub counters.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	const op = "stats"
	st := &Stats{Hub: s.hub.Stats()}
	err := s.retry(ctx, op, func(ctx context.Context) error {
		var err error
		if st.Conversations, err = s.store.ConversationCount(ctx); err != nil {
			return err
		}
		st.Messages, err = s.store.MessageCount(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Service) create(ctx context.Context, op, id, a, b string) (*store.Conversation, bool, error) {
	var (
		conv    *store.Conversation
		created bool
	)
	err := s.retry(ctx, op, func(ctx context.Context) error {
		var err error
		conv, created, err = s.store.CreateConversation(ctx, id, a, b)
		return err
	})
	return conv, created, err
}

// publishSummaries recomputes the summaries of conversationID for users and
// pushes them to their list subscribers. The write already succeeded, so
// failures here are logged and left to the next list reconciliation.
func (s *Service) publishSummaries(ctx context.Context, conversationID string, users ...string) {
	for _, u := range users {
		sum, err := s.index.Refresh(ctx, conversationID, u)
		if err != nil {
			s.logger.Warn("summary refresh failed",
				zap.String("conversation", conversationID),
				zap.String("user", u),
				zap.Error(err))
			continue
		}
		s.hub.PublishSummary(hub.SummaryChanged{UserID: u, Summary: *sum})
	}
}

// retry runs fn with a per-attempt store timeout, retrying Unavailable
// failures with exponential backoff.
func (s *Service) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	delay := s.opts.RetryBaseDelay
	for attempt := 1; ; attempt++ {
		actx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
		err := classify(op, fn(actx))
		cancel()
		if err == nil {
			return nil
		}
		if KindOf(err) != KindUnavailable || attempt >= s.opts.RetryAttempts || ctx.Err() != nil {
			return err
		}
		s.logger.Warn("transient store failure, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))

		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return classify(op, ctx.Err())
		}
		delay *= 2
	}
}
