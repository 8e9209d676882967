package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/five82/nvpipe/internal/logging"
)

// Server exposes /metrics over HTTP.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Listen binds addr and prepares a server for m. Use ":0" for a random
// port.
func Listen(addr string, m *Metrics) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &Server{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:  ln,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Run serves until Shutdown.
func (s *Server) Run() {
	logging.L("metrics").Info("serving metrics", "addr", s.Addr())
	if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.L("metrics").Error("metrics server stopped", "error", err)
	}
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
