package lifecycle

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"
)

const readHeaderTimeout = 10 * time.Second

// HTTPService adapts an http.Handler to Service.
type HTTPService struct {
	srv      *http.Server
	maxConns int
	logger   zerolog.Logger

	mu   sync.Mutex
	addr net.Addr
}

// NewHTTPService returns a Service serving handler on addr. A positive
// maxConns caps simultaneously accepted connections.
func NewHTTPService(addr string, handler http.Handler, maxConns int, logger zerolog.Logger) *HTTPService {
	return &HTTPService{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		maxConns: maxConns,
		logger:   logger.With().Str("component", "http").Logger(),
	}
}

// Start listens and serves until Stop is called.
func (s *HTTPService) Start(ctx context.Context) error {
	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", s.srv.Addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	if s.maxConns > 0 {
		ln = netutil.LimitListener(ln, s.maxConns)
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Int("max_conns", s.maxConns).Msg("HTTP server listening")

	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Stop gracefully shuts the server down.
func (s *HTTPService) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Addr returns the bound address, or nil before Start has listened.
func (s *HTTPService) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addr
}
