// File: internal/proxy/proxy.go
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/elazarl/goproxy"
	"go.uber.org/zap"

	"github.com/xkilldash9x/guardian-cli/internal/config"
	"github.com/xkilldash9x/guardian-cli/internal/guard"
)

// Server is the network-tier navigation guard, for browsers on the machine
// the watcher cannot attach to. It applies the same routing decision as the
// in-browser interceptor, but only to plain-HTTP document fetches; TLS
// traffic passes through opaque, which keeps the guard strictly best effort.
type Server struct {
	cfg    config.ProxyConfig
	nav    *guard.NavGuard
	logger *zap.Logger

	srv *http.Server
}

// NewServer builds the proxy around a shared navigation guard, so approvals
// granted by the confirmation page hold across both tiers.
func NewServer(cfg config.ProxyConfig, nav *guard.NavGuard, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:    cfg,
		nav:    nav,
		logger: logger.Named("proxy"),
	}

	p := goproxy.NewProxyHttpServer()
	p.OnRequest().DoFunc(s.onRequest)

	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           p,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) onRequest(r *http.Request, _ *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	if r.Method != http.MethodGet || !isDocumentFetch(r) {
		return r, nil
	}
	target := r.URL.String()
	if s.nav.Evaluate(target) == guard.RouteAllow {
		return r, nil
	}

	s.logger.Info("Proxy rerouting navigation through confirmation page.",
		zap.String("host", r.URL.Host))
	resp := goproxy.NewResponse(r, "text/html", http.StatusFound, "")
	resp.Header.Set("Location", s.nav.ConfirmURL(target))
	return r, resp
}

// isDocumentFetch filters the request stream down to top-level page loads:
// subresource fetches carry different Accept values and must never be
// rerouted, or pages would break in confusing ways.
func isDocumentFetch(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "text/html") {
		return true
	}
	// Sec-Fetch-Mode is authoritative where present.
	return r.Header.Get("Sec-Fetch-Mode") == "navigate"
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Navigation proxy listening.", zap.String("addr", s.cfg.ListenAddr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("proxy: serving: %w", err)
	}
	return nil
}

// Shutdown drains the proxy.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the proxy handler for in-process tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }
