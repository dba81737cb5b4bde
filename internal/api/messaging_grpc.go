package api

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "courier.v1.Messaging"

const (
	methodCreateConversation = "/" + ServiceName + "/CreateConversation"
	methodSendMessage        = "/" + ServiceName + "/SendMessage"
	methodMarkRead           = "/" + ServiceName + "/MarkRead"
	methodListMessages       = "/" + ServiceName + "/ListMessages"
	methodListConversations  = "/" + ServiceName + "/ListConversations"
	methodGetStatus          = "/" + ServiceName + "/GetStatus"
	methodWatchConversation  = "/" + ServiceName + "/WatchConversation"
	methodWatchSummaries     = "/" + ServiceName + "/WatchSummaries"
)

// MessagingServer is the server API for the Messaging service.
type MessagingServer interface {
	CreateConversation(context.Context, *CreateConversationRequest) (*ConversationResponse, error)
	SendMessage(context.Context, *SendMessageRequest) (*SendMessageResponse, error)
	MarkRead(context.Context, *MarkReadRequest) (*MarkReadResponse, error)
	ListMessages(context.Context, *ListMessagesRequest) (*ListMessagesResponse, error)
	ListConversations(context.Context, *ListConversationsRequest) (*ListConversationsResponse, error)
	GetStatus(context.Context, *GetStatusRequest) (*GetStatusResponse, error)
	WatchConversation(*WatchConversationRequest, EventStream) error
	WatchSummaries(*WatchSummariesRequest, EventStream) error
}

// EventStream is the server side of a watch call.
type EventStream interface {
	Send(*EventEnvelope) error
	Context() context.Context
}

type eventStream struct {
	grpc.ServerStream
}

func (s *eventStream) Send(e *EventEnvelope) error { return s.SendMsg(e) }

// ServiceDesc describes the Messaging service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MessagingServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateConversation", MessagingServer.CreateConversation),
		unary("SendMessage", MessagingServer.SendMessage),
		unary("MarkRead", MessagingServer.MarkRead),
		unary("ListMessages", MessagingServer.ListMessages),
		unary("ListConversations", MessagingServer.ListConversations),
		unary("GetStatus", MessagingServer.GetStatus),
	},
	Streams: []grpc.StreamDesc{
		serverStream("WatchConversation", MessagingServer.WatchConversation),
		serverStream("WatchSummaries", MessagingServer.WatchSummaries),
	},
	Metadata: "courier/v1/messaging",
}

// RegisterMessagingServer registers srv with s.
func RegisterMessagingServer(s grpc.ServiceRegistrar, srv MessagingServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unary[Req, Resp any](name string, call func(MessagingServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(MessagingServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(MessagingServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func serverStream[Req any](name string, call func(MessagingServer, *Req, EventStream) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName: name,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(Req)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return call(srv.(MessagingServer), in, &eventStream{stream})
		},
		ServerStreams: true,
	}
}

// MessagingClient is the client API for the Messaging service. The
// connection must use the json content-subtype.
type MessagingClient struct {
	cc grpc.ClientConnInterface
}

// NewMessagingClient wraps cc.
func NewMessagingClient(cc grpc.ClientConnInterface) *MessagingClient {
	return &MessagingClient{cc: cc}
}

func (c *MessagingClient) CreateConversation(ctx context.Context, in *CreateConversationRequest, opts ...grpc.CallOption) (*ConversationResponse, error) {
	out := new(ConversationResponse)
	if err := c.cc.Invoke(ctx, methodCreateConversation, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MessagingClient) SendMessage(ctx context.Context, in *SendMessageRequest, opts ...grpc.CallOption) (*SendMessageResponse, error) {
	out := new(SendMessageResponse)
	if err := c.cc.Invoke(ctx, methodSendMessage, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MessagingClient) MarkRead(ctx context.Context, in *MarkReadRequest, opts ...grpc.CallOption) (*MarkReadResponse, error) {
	out := new(MarkReadResponse)
	if err := c.cc.Invoke(ctx, methodMarkRead, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MessagingClient) ListMessages(ctx context.Context, in *ListMessagesRequest, opts ...grpc.CallOption) (*ListMessagesResponse, error) {
	out := new(ListMessagesResponse)
	if err := c.cc.Invoke(ctx, methodListMessages, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MessagingClient) ListConversations(ctx context.Context, in *ListConversationsRequest, opts ...grpc.CallOption) (*ListConversationsResponse, error) {
	out := new(ListConversationsResponse)
	if err := c.cc.Invoke(ctx, methodListConversations, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MessagingClient) GetStatus(ctx context.Context, in *GetStatusRequest, opts ...grpc.CallOption) (*GetStatusResponse, error) {
	out := new(GetStatusResponse)
	if err := c.cc.Invoke(ctx, methodGetStatus, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MessagingClient) WatchConversation(ctx context.Context, in *WatchConversationRequest, opts ...grpc.CallOption) (*EventReceiver, error) {
	return c.watch(ctx, &ServiceDesc.Streams[0], methodWatchConversation, in, opts)
}

func (c *MessagingClient) WatchSummaries(ctx context.Context, in *WatchSummariesRequest, opts ...grpc.CallOption) (*EventReceiver, error) {
	return c.watch(ctx, &ServiceDesc.Streams[1], methodWatchSummaries, in, opts)
}

func (c *MessagingClient) watch(ctx context.Context, desc *grpc.StreamDesc, method string, in any, opts []grpc.CallOption) (*EventReceiver, error) {
	stream, err := c.cc.NewStream(ctx, desc, method, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventReceiver{stream: stream}, nil
}

// EventReceiver is the client side of a watch call.
type EventReceiver struct {
	stream grpc.ClientStream
}

// Recv blocks for the next event. It returns io.EOF when the server ends
// the stream.
func (r *EventReceiver) Recv() (*EventEnvelope, error) {
	e := new(EventEnvelope)
	if err := r.stream.RecvMsg(e); err != nil {
		return nil, err
	}
	return e, nil
}
