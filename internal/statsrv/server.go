package statsrv

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	http3 "github.com/quic-go/quic-go/http3"
)

// Server publishes a stats handler over HTTP/3. It holds no socket until
// Serve is called, so one Server can be served several times in sequence.
type Server struct {
	addr    string
	tlsCfg  *tls.Config
	handler http.Handler
	logger  *slog.Logger
	grace   time.Duration
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger logs the listener lifecycle to logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithShutdownGrace bounds how long Serve waits for open requests once its
// context is done. The default is one second.
func WithShutdownGrace(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.grace = d
		}
	}
}

// NewServer creates a server for h on the UDP address addr. A port of 0
// picks a free port; the bound address is reported by Serve.
func NewServer(addr string, tlsCfg *tls.Config, h http.Handler, opts ...ServerOption) *Server {
	s := &Server{
		addr:    addr,
		tlsCfg:  tlsCfg,
		handler: h,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		grace:   time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve listens on the server address and serves until ctx is done or the
// listener fails. ready, if non-nil, is called with the bound address once
// the socket is open. Cancelling ctx is a clean shutdown and returns nil.
func (s *Server) Serve(ctx context.Context, ready func(addr net.Addr)) error {
	pc, err := net.ListenPacket("udp", s.addr)
	if err != nil {
		return fmt.Errorf("stats server: listen %s: %w", s.addr, err)
	}
	defer pc.Close()

	srv := &http3.Server{TLSConfig: s.tlsCfg, Handler: s.handler}
	served := make(chan error, 1)
	go func() { served <- srv.Serve(pc) }()

	bound := pc.LocalAddr()
	s.logger.Info("stats server listening", "addr", bound.String())
	if ready != nil {
		ready(bound)
	}

	select {
	case err := <-served:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("stats server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("stats server shutdown timed out", "err", err)
		_ = srv.Close()
	}
	select {
	case <-served:
	case <-shutdownCtx.Done():
	}
	s.logger.Info("stats server stopped", "addr", bound.String())
	return nil
}
