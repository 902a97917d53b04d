package clusterserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"connectrpc.com/connect"
)

// ServerConfig configures the cluster RPC server.
type ServerConfig struct {
	// Addr is the listen address of the KeyService.
	Addr string

	// Secret is the shared cluster secret that authenticates peers.
	Secret []byte

	// TLS enables mutual TLS. Nil serves plain http.
	TLS *tls.Config

	Logger *slog.Logger
}

// Server serves the KeyService to the other nodes.
type Server struct {
	cfg      ServerConfig
	http     *http.Server
	listener net.Listener
	logger   *slog.Logger
}

// NewServer creates a cluster server for handler.
func NewServer(cfg ServerConfig, handler *Handler) (*Server, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("clusterserver: cluster secret is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	path, h := NewKeyServiceHandler(handler, connect.WithInterceptors(ServerInterceptors(cfg.Secret, cfg.Logger)...))
	mux := http.NewServeMux()
	mux.Handle(path, h)

	return &Server{
		cfg: cfg,
		http: &http.Server{
			Handler:           mux,
			TLSConfig:         cfg.TLS,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: cfg.Logger,
	}, nil
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("clusterserver: listen %s: %w", s.cfg.Addr, err)
	}
	if s.cfg.TLS != nil {
		ln = tls.NewListener(ln, s.cfg.TLS)
	}
	s.listener = ln

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("cluster server stopped", "error", err)
		}
	}()
	s.logger.Info("cluster server listening", "addr", ln.Addr().String(), "tls", s.cfg.TLS != nil)
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
