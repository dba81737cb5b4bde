package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/matheus3301/courier/internal/api"
	"github.com/matheus3301/courier/internal/config"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// Server manages the gRPC server lifecycle for the daemon.
type Server struct {
	grpcServer *grpc.Server
	listeners  []net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer creates a gRPC server bound to the daemon's Unix domain socket
// and, when configured, a TCP address.
func NewServer(l Layout, cfg *config.Config, logger *zap.Logger, messagingSvc *api.Server) (*Server, error) {
	socketPath := l.Socket

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	unixLis, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}

	// Set socket permissions to 0600.
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = unixLis.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	listeners := []net.Listener{unixLis}

	if cfg.GRPCTCP != "" {
		tcpLis, err := net.Listen("tcp", cfg.GRPCTCP)
		if err != nil {
			_ = unixLis.Close()
			return nil, fmt.Errorf("listen tcp: %w", err)
		}
		listeners = append(listeners, tcpLis)
	}

	srv := grpc.NewServer()
	api.RegisterMessagingServer(srv, messagingSvc)

	return &Server{
		grpcServer: srv,
		listeners:  listeners,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// Start serves gRPC requests on every listener. Blocks until stopped.
func (s *Server) Start() error {
	errc := make(chan error, len(s.listeners))
	for _, lis := range s.listeners {
		lis := lis
		s.logger.Info("gRPC server starting", zap.String("addr", lis.Addr().String()))
		go func() { errc <- s.grpcServer.Serve(lis) }()
	}
	var errs []error
	for range s.listeners {
		if err := <-errc; err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stop performs a graceful shutdown and removes the socket file. Open watch
// streams are cancelled if they outlive ctx.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("gRPC server stopping")
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpcServer.Stop()
		<-done
	}
	_ = os.Remove(s.socketPath)
}
