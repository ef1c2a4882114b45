// Package server constructs and starts the groupchat HTTP service with
// helpers that apply production defaults.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// CreateServer creates and configures an HTTP server with the specified port and handler.
// It sets reasonable timeout values for production use.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// HTTPServer returns an http.Server bound to the configured port.
func (s *Server) HTTPServer() *http.Server {
	return CreateServer(s.cfg.Port, s.Routes())
}

// StartHub runs the hub in a separate goroutine. Call it before serving.
func (s *Server) StartHub() {
	go s.hub.Run()
	s.logger.Info("hub started and ready to manage WebSocket connections")
}

// StartServer listens until the server is shut down. A graceful shutdown
// is not reported as an error.
func (s *Server) StartServer(server *http.Server) error {
	s.logger.Info("server listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting HTTP requests, then closes every client and
// waits for the hub within the configured timeout.
func (s *Server) Shutdown(server *http.Server) error {
	s.logger.Info("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := server.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		errs = append(errs, err)
	}
	if err := s.hub.Shutdown(s.cfg.ShutdownTimeout); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		s.logger.Info("shutdown completed")
	}
	return errors.Join(errs...)
}
