package client

import (
	"context"
	"fmt"

	"github.com/matheus3301/courier/internal/api"
	"github.com/matheus3301/courier/internal/identity"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client wraps the gRPC connection to the daemon.
type Client struct {
	conn      *grpc.ClientConn
	Messaging *api.MessagingClient
}

// New dials the daemon's Unix domain socket. Every call carries userID as
// the caller identity; an empty userID makes anonymous calls.
func New(socketPath, userID string) (*Client, error) {
	return Dial("unix://"+socketPath, userID)
}

// Dial connects to any gRPC target, such as "localhost:7070".
func Dial(target, userID string) (*Client, error) {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(api.CodecName)),
	}
	if userID != "" {
		opts = append(opts,
			grpc.WithUnaryInterceptor(func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, callOpts ...grpc.CallOption) error {
				return invoker(identity.Outgoing(ctx, userID), method, req, reply, cc, callOpts...)
			}),
			grpc.WithStreamInterceptor(func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, callOpts ...grpc.CallOption) (grpc.ClientStream, error) {
				return streamer(identity.Outgoing(ctx, userID), desc, cc, method, callOpts...)
			}),
		)
	}

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{
		conn:      conn,
		Messaging: api.NewMessagingClient(conn),
	}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
