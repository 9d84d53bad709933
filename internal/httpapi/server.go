package httpapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	logx "scanwatch/pkg/logx"
)

// Server serves a handler until its context is canceled.
type Server struct {
	addr string
	srv  *http.Server
	log  logx.Logger

	ready chan net.Addr
}

func NewServer(addr string, h http.Handler, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{
		addr: addr,
		srv: &http.Server{
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		log:   log.With(logx.String("comp", "httpapi")),
		ready: make(chan net.Addr, 1),
	}
}

// Ready yields the bound address once listening.
func (s *Server) Ready() <-chan net.Addr { return s.ready }

// Run listens and serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", s.addr)
	}
	s.log.Info("http api listening", logx.String("addr", ln.Addr().String()))
	select {
	case s.ready <- ln.Addr():
	default:
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "serve")
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutCtx); err != nil {
		s.log.Warn("http api shutdown", logx.Err(err))
		_ = s.srv.Close()
	}
	<-errCh
	s.log.Info("http api stopped")
	return nil
}
