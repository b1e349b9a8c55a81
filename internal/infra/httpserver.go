package infra

import (
	"context"
	"net/http"
	"time"
)

// HTTPServer bundles an http.Server with the service logger so startup and
// shutdown leave a trace in the logs.
type HTTPServer struct {
	server *http.Server
	logger Logger
}

// NewHTTPServer builds the server with the configured timeouts.
func NewHTTPServer(cfg *Config, logger Logger, handler http.Handler) *HTTPServer {
	return &HTTPServer{
		server: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           handler,
			ReadTimeout:       cfg.HTTPReadTimeout,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      cfg.HTTPWriteTimeout,
			IdleTimeout:       cfg.HTTPIdleTimeout,
		},
		logger: logger,
	}
}

// Start listens and serves until Shutdown is called or the listener fails.
func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("http server listening")
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("http server shutting down")
	return s.server.Shutdown(ctx)
}
