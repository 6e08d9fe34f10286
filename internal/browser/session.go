// File: internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/guardian-cli/internal/browser/shim"
	"github.com/xkilldash9x/guardian-cli/internal/guard"
)

// bindingName is the callback the in-page script reports through.
const bindingName = "guardian_surface_event"

// shimEvent is the wire format of every in-page report.
type shimEvent struct {
	Kind     string              `json:"kind"`
	ID       string              `json:"id"`
	Text     string              `json:"text"`
	Elements []guard.ElementInfo `json:"elements"`
}

// Session attaches the engine to one browser tab: it injects the in-page
// script into every new document, receives its reports, feeds them to the
// pipeline, and intercepts outbound top-level navigations.
type Session struct {
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	registry *guard.Registry
	pipeline *guard.Pipeline
	nav      *guard.NavGuard

	// topFrame identifies the tab's top-level frame; the document pattern
	// also pauses iframe loads, which must pass through untouched.
	frameMu  sync.Mutex
	topFrame cdp.FrameID

	// wg tracks interception goroutines; every paused request must be
	// resolved or the tab hangs.
	wg sync.WaitGroup
}

// NewSession creates the tab under the manager's allocator.
func NewSession(allocatorCtx context.Context, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := chromedp.NewContext(allocatorCtx)
	return &Session{
		logger: logger.Named("session"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Context exposes the tab context for bridge operations.
func (s *Session) Context() context.Context { return s.ctx }

// Bridge returns the page-operation implementation bound to this tab.
func (s *Session) Bridge() guard.PageBridge { return &pageBridge{session: s} }

// Start wires the tab: binding, persistent script injection, navigation
// interception, and the event listener. The collaborators must be fully
// constructed before Start; reports can arrive immediately after.
func (s *Session) Start(registry *guard.Registry, pipeline *guard.Pipeline, nav *guard.NavGuard) error {
	s.registry = registry
	s.pipeline = pipeline
	s.nav = nav

	script, err := shim.GetGuardShim()
	if err != nil {
		return fmt.Errorf("session: loading guard script: %w", err)
	}

	chromedp.ListenTarget(s.ctx, s.eventListener)

	err = chromedp.Run(s.ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := page.Enable().Do(ctx); err != nil {
				return fmt.Errorf("enabling page domain: %w", err)
			}
			if err := runtime.AddBinding(bindingName).Do(ctx); err != nil {
				return fmt.Errorf("exposing report callback: %w", err)
			}
			if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
				return fmt.Errorf("injecting guard script persistently: %w", err)
			}
			// Pause only top-level document fetches; subresources flow free.
			patterns := []*fetch.RequestPattern{{
				ResourceType: network.ResourceTypeDocument,
				RequestStage: fetch.RequestStageRequest,
			}}
			if err := fetch.Enable().WithPatterns(patterns).Do(ctx); err != nil {
				return fmt.Errorf("enabling navigation interception: %w", err)
			}
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return fmt.Errorf("resolving top-level frame: %w", err)
			}
			s.setTopFrame(tree.Frame.ID)
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("session: instrumenting tab: %w", err)
	}

	s.logger.Info("Tab attached and instrumented.")
	return nil
}

// Navigate points the tab at a starting address.
func (s *Session) Navigate(url string) error {
	return chromedp.Run(s.ctx, chromedp.Navigate(url))
}

// Close tears the tab down and waits for interception goroutines.
func (s *Session) Close() {
	s.cancel()
	s.wg.Wait()
}

// eventListener dispatches CDP events off the tab's event stream. Handlers
// that issue CDP commands of their own must run in separate goroutines, or
// the stream deadlocks.
func (s *Session) eventListener(ev interface{}) {
	switch ev := ev.(type) {
	case *runtime.EventBindingCalled:
		if ev.Name == bindingName {
			s.handleShimReport(ev.Payload)
		}
	case *fetch.EventRequestPaused:
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.resolvePausedRequest(ev)
		}()
	case *page.EventFrameNavigated:
		if ev.Frame.ParentID == "" {
			s.setTopFrame(ev.Frame.ID)
			s.handleTopNavigation(ev.Frame.URL)
		}
	}
}

func (s *Session) setTopFrame(id cdp.FrameID) {
	s.frameMu.Lock()
	s.topFrame = id
	s.frameMu.Unlock()
}

// isTopFrame reports whether a paused request belongs to the tab's
// top-level frame.
func (s *Session) isTopFrame(id cdp.FrameID) bool {
	s.frameMu.Lock()
	defer s.frameMu.Unlock()
	return id == s.topFrame
}

func (s *Session) handleShimReport(payload string) {
	var event shimEvent
	if err := json.UnmarshalFromString(payload, &event); err != nil {
		s.logger.Warn("Discarding malformed in-page report.", zap.Error(err))
		return
	}

	switch event.Kind {
	case "attached":
		for _, info := range event.Elements {
			s.registry.Observe(info)
		}
	case "input":
		if surface := s.registry.Surface(event.ID); surface != nil {
			s.pipeline.OnInput(s.ctx, surface, event.Text)
		}
	case "submit":
		if surface := s.registry.Surface(event.ID); surface != nil {
			// The in-page veto already fired synchronously from the pushed
			// verdict; this re-checks the exact submitted text.
			s.pipeline.OnSubmit(s.ctx, surface, event.Text)
		}
	case "control_click":
		s.logger.Info("Send-control click cancelled while blocked.",
			zap.String("control", event.ID))
	default:
		s.logger.Debug("Unknown in-page report kind.", zap.String("kind", event.Kind))
	}
}

// resolvePausedRequest decides one intercepted top-level navigation. Every
// paused request must be continued or fulfilled exactly once.
func (s *Session) resolvePausedRequest(ev *fetch.EventRequestPaused) {
	c := chromedp.FromContext(s.ctx)
	ectx := cdp.WithExecutor(s.ctx, c.Target)

	target := ev.Request.URL
	if !s.shouldReroute(ev.FrameID, target) {
		if err := fetch.ContinueRequest(ev.RequestID).Do(ectx); err != nil {
			s.logger.Debug("Failed to continue navigation.", zap.Error(err))
		}
		return
	}

	confirm := s.nav.ConfirmURL(target)
	s.logger.Info("Rerouting navigation through confirmation page.",
		zap.String("url", target))
	err := fetch.FulfillRequest(ev.RequestID, 302).
		WithResponseHeaders([]*fetch.HeaderEntry{{Name: "Location", Value: confirm}}).
		Do(ectx)
	if err != nil {
		s.logger.Warn("Failed to reroute navigation; letting it through.", zap.Error(err))
		if err := fetch.ContinueRequest(ev.RequestID).Do(ectx); err != nil {
			s.logger.Debug("Failed to continue navigation after reroute failure.", zap.Error(err))
		}
	}
}

// shouldReroute decides whether a paused document fetch goes through the
// confirmation page. Only the top-level frame is examined; iframe document
// loads match the same fetch pattern but always pass.
func (s *Session) shouldReroute(frameID cdp.FrameID, target string) bool {
	if s.nav == nil || !s.isTopFrame(frameID) {
		return false
	}
	return s.nav.Evaluate(target) == guard.RouteConfirm
}

// handleTopNavigation resets per-document state: the markers stamped into
// the old document are meaningless in the new one.
func (s *Session) handleTopNavigation(url string) {
	for _, id := range s.registry.SurfaceIDs() {
		s.pipeline.Forget(id)
	}
	s.registry.Reset()
	s.logger.Debug("Top-level navigation; page state reset.", zap.String("url", url))
}
