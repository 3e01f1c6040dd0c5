package control

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/core-tools/hsu-couchbar/pkg/errors"
	"github.com/core-tools/hsu-couchbar/pkg/logging"
)

type ServerOptions struct {
	Address string
}

// Server hosts the control API
type Server struct {
	options    ServerOptions
	httpServer *http.Server
	listener   net.Listener
	logger     logging.Logger
}

func NewServer(options ServerOptions, handler http.Handler, logger logging.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", options.Address)
	if err != nil {
		return nil, errors.NewNetworkError("failed to listen", err).WithContext("address", options.Address)
	}

	return &Server{
		options: options,
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: listener,
		logger:   logger,
	}, nil
}

// Addr is the bound address, useful when listening on port 0
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) URL() string {
	return "http://" + s.Addr()
}

func (s *Server) Start() {
	s.logger.Infof("Control server listening, address: %s", s.Addr())
	go func() {
		if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("Control server failed: %v", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Infof("Shutting down control server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		// Followers keep connections open; close them forcefully
		_ = s.httpServer.Close()
		return errors.NewTimeoutError("control server shutdown incomplete", err)
	}
	s.logger.Infof("Control server stopped")
	return nil
}
