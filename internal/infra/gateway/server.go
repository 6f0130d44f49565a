package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"salesmcp/internal/domain"
	"salesmcp/internal/infra/telemetry"
	"salesmcp/internal/infra/tools"
)

// NewMCPServer creates the MCP server and binds every registry tool to it.
func NewMCPServer(info domain.ServerInfo, registry *tools.Registry, logger *zap.Logger) *mcp.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := mcp.NewServer(&mcp.Implementation{
		Name:    info.Name,
		Version: info.Version,
	}, &mcp.ServerOptions{
		Logger: telemetry.SlogLogger(logger, "mcp"),
	})
	registry.Bind(server)
	return server
}

// HTTPServer serves a dispatcher at the configured path.
type HTTPServer struct {
	cfg        domain.HTTPConfig
	dispatcher *Dispatcher
	handler    http.Handler
	logger     *zap.Logger
}

func NewHTTPServer(cfg domain.HTTPConfig, dispatcher *Dispatcher, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	path := cfg.Path
	if path == "" {
		path = domain.DefaultHTTPPath
	}
	cfg.Path = path

	mux := http.NewServeMux()
	mux.Handle(path, corsMiddleware(cfg.AllowedOrigins, dispatcher))
	return &HTTPServer{
		cfg:        cfg,
		dispatcher: dispatcher,
		handler:    mux,
		logger:     logger.Named("http"),
	}
}

// Handler exposes the routed handler for tests and embedding.
func (s *HTTPServer) Handler() http.Handler {
	return s.handler
}

// Run listens until ctx is done, then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = s.dispatcher.Mode().DefaultListenAddress()
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve is Run on an existing listener.
func (s *HTTPServer) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("mcp endpoint listening",
			zap.String("addr", listener.Addr().String()),
			zap.String("path", s.cfg.Path),
			telemetry.ModeField(string(s.dispatcher.Mode())),
		)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err, ok := <-errChan:
		if ok {
			return fmt.Errorf("mcp endpoint failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = domain.DefaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	// SSE streams never finish on their own, so close sessions before waiting
	// on in-flight requests.
	_ = s.dispatcher.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("graceful shutdown timed out", zap.Error(err))
		_ = server.Close()
		return nil
	}
	s.logger.Info("mcp endpoint stopped")
	return nil
}
