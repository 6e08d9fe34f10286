package proxy

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/xkilldash9x/guardian-cli/internal/config"
	"github.com/xkilldash9x/guardian-cli/internal/guard"
)

func newTestProxy(t *testing.T) (*Server, *guard.NavGuard) {
	t.Helper()
	nav := guard.NewNavGuard([]string{"q", "search_query", "p"}, "http://127.0.0.1:7877", zap.NewNop())
	return NewServer(config.ProxyConfig{ListenAddr: "127.0.0.1:7878"}, nav, zap.NewNop()), nav
}

func proxyGet(t *testing.T, s *Server, target string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestProxyReroutesCandidateNavigation(t *testing.T) {
	s, _ := newTestProxy(t)

	dest := "http://search.example.com/search?q=dangerous+things"
	w := proxyGet(t, s, dest, map[string]string{"Accept": "text/html,application/xhtml+xml"})

	assert.Equal(t, http.StatusFound, w.Code)
	loc := w.Header().Get("Location")
	assert.Contains(t, loc, "http://127.0.0.1:7877/confirm?url=")
	assert.Contains(t, loc, url.QueryEscape(dest))
}

func TestProxyPassesApprovedNavigation(t *testing.T) {
	s, nav := newTestProxy(t)

	dest := "http://search.example.com/search?q=harmless"
	nav.Approve(dest)
	w := proxyGet(t, s, dest, map[string]string{"Accept": "text/html"})

	// The proxy forwards the request upstream; the recorder sees whatever
	// the round trip produced, but never the confirmation redirect.
	assert.NotEqual(t, http.StatusFound, w.Code)
}

func TestProxyIgnoresSubresources(t *testing.T) {
	s, _ := newTestProxy(t)

	w := proxyGet(t, s, "http://search.example.com/search?q=dangerous", map[string]string{
		"Accept":         "image/avif,image/webp",
		"Sec-Fetch-Mode": "no-cors",
	})
	assert.NotEqual(t, http.StatusFound, w.Code)
}
