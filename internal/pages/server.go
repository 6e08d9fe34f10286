// File: internal/pages/server.go
package pages

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xkilldash9x/guardian-cli/internal/config"
	"github.com/xkilldash9x/guardian-cli/internal/guard"
)

//go:embed templates/*.html
var templateFS embed.FS

// Checker answers whether a candidate search term is disallowed. The oracle
// client satisfies it.
type Checker interface {
	CheckText(ctx context.Context, text string) bool
}

// Server hosts the two local pages the enforcement layers navigate to: the
// interdiction page a blocked tab lands on, and the transitional
// confirmation page outbound search navigations are routed through.
type Server struct {
	cfg     config.PagesConfig
	nav     *guard.NavGuard
	checker Checker
	audit   guard.AuditSink
	logger  *zap.Logger

	srv *http.Server
}

// NewServer wires the routes. audit may be nil.
func NewServer(cfg config.PagesConfig, nav *guard.NavGuard, checker Checker, audit guard.AuditSink, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:     cfg,
		nav:     nav,
		checker: checker,
		audit:   audit,
		logger:  logger.Named("pages"),
	}

	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("pages: parsing templates: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())
	router.SetHTMLTemplate(tmpl)

	router.GET("/blocked", s.handleBlocked)
	router.GET("/confirm", s.handleConfirm)

	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// BaseURL is the address prefix of this server, used for navigation
// self-loop immunity and for building the interdiction target.
func (s *Server) BaseURL() string { return "http://" + s.cfg.ListenAddr }

// BlockedURL is the interdiction page address.
func (s *Server) BlockedURL() string { return s.BaseURL() + "/blocked" }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Pages server listening.", zap.String("addr", s.cfg.ListenAddr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("pages: serving: %w", err)
	}
	return nil
}

// Shutdown drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the router for in-process tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) handleBlocked(c *gin.Context) {
	c.HTML(http.StatusOK, "blocked.html", gin.H{})
}

// handleConfirm is the transitional hop every candidate navigation takes.
// It re-extracts the search term from the original destination, classifies
// it, and either sends the tab onward (pre-approving the destination so the
// interceptor lets it through) or lands it on the interdiction page. The
// classifier's fail-open posture applies here too: an unreachable oracle
// lets the navigation complete.
func (s *Server) handleConfirm(c *gin.Context) {
	dest := c.Query("url")
	if dest == "" {
		c.Redirect(http.StatusFound, "/blocked")
		return
	}

	query, ok := s.nav.ExtractQuery(dest)
	if !ok {
		s.approveAndRedirect(c, dest)
		return
	}

	if s.checker.CheckText(c.Request.Context(), query) {
		s.logger.Warn("Navigation interdicted.", zap.String("query", query))
		if s.audit != nil {
			s.audit.Record(c.Request.Context(), query, "navigation")
		}
		c.HTML(http.StatusOK, "blocked.html", gin.H{})
		return
	}

	s.approveAndRedirect(c, dest)
}

func (s *Server) approveAndRedirect(c *gin.Context, dest string) {
	s.nav.Approve(dest)
	c.Redirect(http.StatusFound, dest)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("Request served.",
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}
