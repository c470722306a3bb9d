package infra

import (
	"context"
	"net/http"
	"time"
)

// HTTPServer is the API's http.Server with the configured timeouts
// applied. The write timeout must stay well above typical reconciliation
// latency: run reads may probe the GPU host before responding.
type HTTPServer struct {
	srv *http.Server
}

// NewHTTPServer builds a server listening on cfg.Port.
func NewHTTPServer(cfg *Config, handler http.Handler) *HTTPServer {
	return &HTTPServer{srv: &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
	}}
}

// Start blocks serving requests until Shutdown is called or the listener
// fails. Returns http.ErrServerClosed after a clean shutdown.
func (s *HTTPServer) Start() error {
	return s.srv.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
