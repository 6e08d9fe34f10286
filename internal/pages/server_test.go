package pages

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/guardian-cli/internal/config"
	"github.com/xkilldash9x/guardian-cli/internal/guard"
)

type staticChecker struct{ bad bool }

func (c staticChecker) CheckText(context.Context, string) bool { return c.bad }

type captureAudit struct {
	mu      sync.Mutex
	queries []string
	sources []string
}

func (a *captureAudit) Record(_ context.Context, query, source string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queries = append(a.queries, query)
	a.sources = append(a.sources, source)
}

func newTestServer(t *testing.T, checker Checker, audit guard.AuditSink) (*Server, *guard.NavGuard) {
	t.Helper()
	cfg := config.PagesConfig{ListenAddr: "127.0.0.1:7877"}
	nav := guard.NewNavGuard([]string{"q", "search_query", "p"}, "http://127.0.0.1:7877", zap.NewNop())
	srv, err := NewServer(cfg, nav, checker, audit, zap.NewNop())
	require.NoError(t, err)
	return srv, nav
}

func get(t *testing.T, srv *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestBlockedPage(t *testing.T) {
	srv, _ := newTestServer(t, staticChecker{}, nil)
	w := get(t, srv, "/blocked")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "blocked")
}

func TestConfirmAllowsCleanQuery(t *testing.T) {
	srv, nav := newTestServer(t, staticChecker{bad: false}, nil)

	dest := "https://www.google.com/search?q=science+homework"
	w := get(t, srv, strings.TrimPrefix(nav.ConfirmURL(dest), "http://127.0.0.1:7877"))

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, dest, w.Header().Get("Location"))
	// The confirmation pre-approves the destination so the interceptors
	// let the follow-up navigation straight through at every tier.
	assert.Equal(t, guard.RouteAllow, nav.Evaluate(dest))
	assert.Equal(t, guard.RouteAllow, nav.Evaluate(dest))
}

func TestConfirmInterdictsBadQuery(t *testing.T) {
	audit := &captureAudit{}
	srv, _ := newTestServer(t, staticChecker{bad: true}, audit)

	w := get(t, srv, "/confirm?url=https%3A%2F%2Fwww.google.com%2Fsearch%3Fq%3Dsomething+nasty")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "blocked")
	assert.Equal(t, []string{"something nasty"}, audit.queries)
	assert.Equal(t, []string{"navigation"}, audit.sources)
}

func TestConfirmPassesDestinationsWithoutQuery(t *testing.T) {
	srv, nav := newTestServer(t, staticChecker{bad: true}, nil)

	dest := "https://example.com/plain-page"
	w := get(t, srv, "/confirm?url=https%3A%2F%2Fexample.com%2Fplain-page")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, dest, w.Header().Get("Location"))
	assert.Equal(t, guard.RouteAllow, nav.Evaluate(dest))
}

func TestConfirmWithoutURLLandsOnBlocked(t *testing.T) {
	srv, _ := newTestServer(t, staticChecker{}, nil)
	w := get(t, srv, "/confirm")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/blocked", w.Header().Get("Location"))
}
