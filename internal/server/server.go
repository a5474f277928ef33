package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/iamgatling/mxxc/internal/config"
	"go.uber.org/zap"
)

// Server runs the relay's HTTP surface.
type Server struct {
	srv             *http.Server
	shutdownTimeout time.Duration
	logger          *zap.SugaredLogger
}

func New(cfg config.HTTPConfig, handler http.Handler, logger *zap.SugaredLogger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:        cfg.Addr(),
			Handler:     handler,
			ReadTimeout: cfg.ReadTimeout,
			// No WriteTimeout: it would cut long-lived websocket connections.
			IdleTimeout: time.Minute,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          logger,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	shutdown := make(chan error, 1)

	go func() {
		<-ctx.Done()

		timeout := s.shutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		s.logger.Infow("shutting down", "addr", ln.Addr().String())
		shutdown <- s.srv.Shutdown(shutdownCtx)
	}()

	s.logger.Infow("server has started", "addr", ln.Addr().String())

	err := s.srv.Serve(ln)
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	if err := <-shutdown; err != nil {
		return err
	}

	s.logger.Infow("server has stopped", "addr", ln.Addr().String())
	return nil
}
