// File: internal/guard/navguard.go
package guard

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Route is the navigation interceptor's decision for one outbound
// top-level navigation.
type Route int

const (
	// RouteAllow lets the navigation proceed unexamined.
	RouteAllow Route = iota
	// RouteConfirm sends the navigation through the transitional
	// confirmation page, which classifies the extracted query before
	// completing or interdicting it.
	RouteConfirm
)

// approvalTTL bounds how long a cleared destination stays approved. The
// window must outlive every tier a single navigation can cross: a
// supervised browser routed through the proxy evaluates the same address
// at the network tier and again at the CDP tier, and both must pass on
// one approval.
const approvalTTL = 30 * time.Second

// NavGuard decides the fate of outbound top-level navigations: it extracts
// a candidate search term from the destination address and routes candidate
// navigations through the confirmation page. Navigations issued by the
// confirmation page itself are pre-approved and pass untouched, so the
// check can never loop.
type NavGuard struct {
	params     []string
	selfPrefix string
	logger     *zap.Logger

	mu       sync.Mutex
	approved map[string]time.Time
	now      func() time.Time
}

// NewNavGuard builds a guard. params is the ordered list of query-parameter
// names to inspect (first match wins); selfPrefix is the base URL of the local
// pages server, whose own addresses are never intercepted.
func NewNavGuard(params []string, selfPrefix string, logger *zap.Logger) *NavGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NavGuard{
		params:     params,
		selfPrefix: strings.TrimRight(selfPrefix, "/"),
		logger:     logger.Named("navguard"),
		approved:   make(map[string]time.Time),
		now:        time.Now,
	}
}

// ExtractQuery pulls a candidate search term out of a destination address.
// A scheme the parser cannot handle, or an address carrying none of the
// known parameters, yields no candidate and the navigation proceeds
// unexamined.
func (g *NavGuard) ExtractQuery(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	values := u.Query()
	for _, p := range g.params {
		if v := values.Get(p); strings.TrimSpace(v) != "" {
			return v, true
		}
	}
	return "", false
}

// Approve registers a destination the confirmation page has already
// cleared, valid until the TTL lapses. The approval is deliberately not
// consumed on use: one navigation may be evaluated by several tiers, and
// each must honor the same clearance.
func (g *NavGuard) Approve(rawURL string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	for u, deadline := range g.approved {
		if !now.Before(deadline) {
			delete(g.approved, u)
		}
	}
	g.approved[rawURL] = now.Add(approvalTTL)
}

// Evaluate decides the route for one top-level navigation.
func (g *NavGuard) Evaluate(rawURL string) Route {
	// The interceptor must never examine its own pages.
	if g.selfPrefix != "" && strings.HasPrefix(rawURL, g.selfPrefix) {
		return RouteAllow
	}
	if g.hasApproval(rawURL) {
		return RouteAllow
	}
	query, ok := g.ExtractQuery(rawURL)
	if !ok {
		return RouteAllow
	}
	g.logger.Debug("Routing navigation through confirmation page.",
		zap.String("query", query))
	return RouteConfirm
}

// ConfirmURL builds the confirmation-page address for a destination.
func (g *NavGuard) ConfirmURL(rawURL string) string {
	return g.selfPrefix + "/confirm?url=" + url.QueryEscape(rawURL)
}

// hasApproval reports whether a live approval covers the destination,
// dropping it once expired.
func (g *NavGuard) hasApproval(rawURL string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	deadline, ok := g.approved[rawURL]
	if !ok {
		return false
	}
	if !g.now().Before(deadline) {
		delete(g.approved, rawURL)
		return false
	}
	return true
}
