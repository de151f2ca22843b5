package admin

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/jeeves-cluster-organization/uspagent/internal/logging"
)

// GracefulServer wraps a gRPC server bound to a Unix domain socket with
// graceful-shutdown support (adapted from the teacher's GracefulServer,
// coreengine/grpc/server.go, which binds TCP — the admin surface is
// local-only, so spec §6's admin_socket_path is a filesystem path, not a
// network address).
type GracefulServer struct {
	grpcServer *grpc.Server
	socketPath string
	logger     logging.Logger

	shutdownMu sync.Mutex
	isShutdown bool
}

// NewGracefulServer creates a GracefulServer serving srv at socketPath.
func NewGracefulServer(srv AdminServiceServer, socketPath string, logger logging.Logger) *GracefulServer {
	if logger == nil {
		logger = logging.Nop()
	}
	grpcServer := grpc.NewServer(serverOptions(logger)...)
	RegisterAdminServiceServer(grpcServer, srv)
	return &GracefulServer{
		grpcServer: grpcServer,
		socketPath: socketPath,
		logger:     logger,
	}
}

// Start listens on the Unix socket and blocks until ctx is cancelled,
// then performs a graceful stop.
func (s *GracefulServer) Start(ctx context.Context) error {
	// A prior unclean shutdown can leave the socket file behind; Listen
	// on an existing path otherwise fails with "address already in use".
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("admin: remove stale socket %q: %w", s.socketPath, err)
	}

	lis, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("admin: listen on %q: %w", s.socketPath, err)
	}

	s.logger.Info("admin server started", "socket", s.socketPath)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("admin server shutdown initiated", "reason", ctx.Err().Error())
		s.GracefulStop()
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("admin: serve: %w", err)
		}
		return nil
	}
}

// GracefulStop stops accepting new connections and waits for in-flight
// requests to finish.
func (s *GracefulServer) GracefulStop() {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	if s.isShutdown {
		return
	}
	s.isShutdown = true
	s.grpcServer.GracefulStop()
	s.logger.Info("admin server stopped")
}

// ShutdownWithTimeout performs a graceful stop, forcing an immediate
// stop if it does not complete within timeout.
func (s *GracefulServer) ShutdownWithTimeout(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("admin server shutdown timeout, forcing stop", "timeout_ms", timeout.Milliseconds())
		s.shutdownMu.Lock()
		s.isShutdown = true
		s.shutdownMu.Unlock()
		s.grpcServer.Stop()
	}
}

// GetGRPCServer returns the underlying grpc.Server, for tests that want
// to dial it directly (e.g. via bufconn).
func (s *GracefulServer) GetGRPCServer() *grpc.Server {
	return s.grpcServer
}
