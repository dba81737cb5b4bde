package api

import (
	"context"
	"time"

	"github.com/matheus3301/courier/internal/hub"
	"github.com/matheus3301/courier/internal/identity"
	"github.com/matheus3301/courier/internal/messaging"
	"github.com/matheus3301/courier/internal/status"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// streamBuffer is how many events a watch stream holds while the client is
// slow. Beyond it the hub starts dropping for that subscriber.
const streamBuffer = 64

// Server implements MessagingServer on top of messaging.Service.
type Server struct {
	svc       *messaging.Service
	ids       identity.Provider
	dir       *identity.Directory
	machine   *status.Machine
	startedAt time.Time
	logger    *zap.Logger
}

// NewServer creates the gRPC service implementation.
func NewServer(svc *messaging.Service, ids identity.Provider, dir *identity.Directory, machine *status.Machine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		svc:       svc,
		ids:       ids,
		dir:       dir,
		machine:   machine,
		startedAt: time.Now(),
		logger:    logger,
	}
}

func (s *Server) caller(ctx context.Context) (string, error) {
	id, ok := s.ids.UserID(ctx)
	if !ok {
		return "", grpcstatus.Errorf(codes.Unauthenticated, "missing %s metadata", identity.MetadataKey)
	}
	return id, nil
}

func (s *Server) CreateConversation(ctx context.Context, req *CreateConversationRequest) (*ConversationResponse, error) {
	me, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	conv, err := s.svc.CreateOrGetConversation(ctx, me, req.PeerID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ConversationResponse{Conversation: ConversationFrom(conv)}, nil
}

func (s *Server) SendMessage(ctx context.Context, req *SendMessageRequest) (*SendMessageResponse, error) {
	me, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	msg, err := s.svc.SendMessage(ctx, req.ConversationID, me, req.Content)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SendMessageResponse{Message: MessageFrom(*msg)}, nil
}

func (s *Server) MarkRead(ctx context.Context, req *MarkReadRequest) (*MarkReadResponse, error) {
	me, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	n, err := s.svc.MarkRead(ctx, req.ConversationID, me)
	if err != nil {
		return nil, toStatus(err)
	}
	return &MarkReadResponse{Marked: n}, nil
}

func (s *Server) ListMessages(ctx context.Context, req *ListMessagesRequest) (*ListMessagesResponse, error) {
	me, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.svc.Conversation(ctx, req.ConversationID, me); err != nil {
		return nil, toStatus(err)
	}
	msgs, err := s.svc.ListMessagesAfter(ctx, req.ConversationID, req.AfterSeq, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListMessagesResponse{
		Messages: MessagesFrom(msgs),
		HasMore:  req.Limit > 0 && len(msgs) == req.Limit,
	}, nil
}

func (s *Server) ListConversations(ctx context.Context, _ *ListConversationsRequest) (*ListConversationsResponse, error) {
	me, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	sums, err := s.svc.ListConversationSummaries(ctx, me)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListConversationsResponse{Summaries: SummariesFrom(sums, s.dir)}, nil
}

func (s *Server) GetStatus(ctx context.Context, _ *GetStatusRequest) (*GetStatusResponse, error) {
	resp := &GetStatusResponse{
		Status:   string(status.Booting),
		UptimeMs: time.Since(s.startedAt).Milliseconds(),
	}
	if s.machine != nil {
		state, _, reason := s.machine.Snapshot()
		resp.Status = string(state)
		resp.StatusMessage = reason
	}

	st, err := s.svc.Stats(ctx)
	if err != nil {
		// Status must stay answerable while the store is struggling.
		s.logger.Warn("status counts unavailable", zap.Error(err))
		return resp, nil
	}
	resp.Conversations = st.Conversations
	resp.Messages = st.Messages
	resp.Subscriptions = st.Hub.Subscriptions
	resp.Published = st.Hub.Published
	resp.Dropped = st.Hub.Dropped
	return resp, nil
}

func (s *Server) WatchConversation(req *WatchConversationRequest, stream EventStream) error {
	ctx := stream.Context()
	me, err := s.caller(ctx)
	if err != nil {
		return err
	}
	if _, err := s.svc.Conversation(ctx, req.ConversationID, me); err != nil {
		return toStatus(err)
	}

	events := make(chan *EventEnvelope, streamBuffer)
	sub, err := s.svc.SubscribeToConversation(req.ConversationID, func(e hub.MessageAppended) error {
		select {
		case events <- messageEnvelope(e):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		return toStatus(err)
	}
	defer s.svc.Unsubscribe(sub)

	// Subscribed first, so the replay and the live stream overlap instead of
	// leaving a gap. lastSeq drops the overlap.
	lastSeq := req.AfterSeq
	if req.Replay {
		msgs, err := s.svc.ListMessagesAfter(ctx, req.ConversationID, req.AfterSeq, 0)
		if err != nil {
			return toStatus(err)
		}
		for _, m := range msgs {
			if err := stream.Send(messageEnvelope(hub.MessageAppended{ConversationID: m.ConversationID, Message: m})); err != nil {
				return err
			}
			lastSeq = m.ID
		}
	}

	s.logger.Debug("conversation watch started",
		zap.String("user", me),
		zap.String("conversation", req.ConversationID),
		zap.String("subscription", sub.ID()))

	for {
		select {
		case e := <-events:
			if e.Message.ID <= lastSeq {
				continue
			}
			lastSeq = e.Message.ID
			if err := stream.Send(e); err != nil {
				return err
			}
		case <-sub.Done():
			return grpcstatus.Error(codes.Unavailable, "subscription closed")
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Server) WatchSummaries(_ *WatchSummariesRequest, stream EventStream) error {
	ctx := stream.Context()
	me, err := s.caller(ctx)
	if err != nil {
		return err
	}

	events := make(chan *EventEnvelope, streamBuffer)
	sub, err := s.svc.SubscribeToUserSummaries(me, func(e hub.SummaryChanged) error {
		select {
		case events <- summaryEnvelope(e, s.dir):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		return toStatus(err)
	}
	defer s.svc.Unsubscribe(sub)

	for {
		select {
		case e := <-events:
			if err := stream.Send(e); err != nil {
				return err
			}
		case <-sub.Done():
			return grpcstatus.Error(codes.Unavailable, "subscription closed")
		case <-ctx.Done():
			return nil
		}
	}
}
