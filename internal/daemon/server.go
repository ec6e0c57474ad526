package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/matheus3301/wppdash/internal/api"
	"github.com/matheus3301/wppdash/internal/bus"
	"github.com/matheus3301/wppdash/internal/session"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// WhatsAppService is the health service name that reports SERVING only
// while the WhatsApp connection is up.
const WhatsAppService = "wppdash.WhatsApp"

// Server manages the control socket of a session daemon. It serves the
// standard gRPC health protocol so local tools can probe the daemon.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
	unsub      func()
}

// NewServer creates a gRPC server bound to the session's Unix domain socket.
func NewServer(p Params, b *bus.Bus, logger *zap.Logger) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = session.SocketPath(p.SessionName)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}

	// Set socket permissions to 0600.
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(WhatsAppService, healthpb.HealthCheckResponse_NOT_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	s := &Server{
		grpcServer: srv,
		health:     hs,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}
	s.unsub = b.Handle("session.", s.onSession)
	return s, nil
}

func (s *Server) onSession(evt bus.Event) {
	switch evt.Kind {
	case bus.SessionConnected:
		s.health.SetServingStatus(WhatsAppService, healthpb.HealthCheckResponse_SERVING)
	case bus.SessionDisconnected, bus.SessionLoggedOut:
		s.health.SetServingStatus(WhatsAppService, healthpb.HealthCheckResponse_NOT_SERVING)
	}
}

// Start begins serving gRPC requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("control socket starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(_ context.Context) {
	s.logger.Info("control socket stopping")
	s.unsub()
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	_ = os.Remove(s.socketPath)
}

// HTTPServer serves the dashboard API and websocket.
type HTTPServer struct {
	srv      *http.Server
	listener net.Listener
	logger   *zap.Logger
}

// NewHTTPServer binds the configured listen address.
func NewHTTPServer(p Params, apiSrv *api.Server, logger *zap.Logger) (*HTTPServer, error) {
	listener, err := net.Listen("tcp", p.config().HTTP.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen http: %w", err)
	}
	return &HTTPServer{
		srv: &http.Server{
			Handler:           apiSrv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: listener,
		logger:   logger,
	}, nil
}

// Addr returns the bound address.
func (h *HTTPServer) Addr() string {
	return h.listener.Addr().String()
}

// Start serves until Stop. Blocks.
func (h *HTTPServer) Start() error {
	h.logger.Info("http server starting", zap.String("addr", h.Addr()))
	err := h.srv.Serve(h.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts down gracefully within ctx.
func (h *HTTPServer) Stop(ctx context.Context) {
	h.logger.Info("http server stopping")
	if err := h.srv.Shutdown(ctx); err != nil {
		h.logger.Warn("http shutdown", zap.Error(err))
	}
}
