// File: internal/guard/enforcer.go
package guard

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/guardian-cli/internal/config"
)

// AuditSink records a blocked attempt. Implementations are fire-and-forget:
// delivery failure never blocks or alters enforcement.
type AuditSink interface {
	Record(ctx context.Context, query, source string)
}

// Controller applies the configured enforcement layers when a surface's
// verdict transitions to BLOCKED. The layers are independent so that a
// page's own scripts cannot trivially undo all of them at once, and every
// mutating step is individually fault-isolated.
type Controller struct {
	cfg      config.EnforcementConfig
	bridge   PageBridge
	registry *Registry
	stores   []Scrubber
	audit    AuditSink
	logger   *zap.Logger

	// blockedURL is the interdiction page the tab is sent to.
	blockedURL string
}

var _ Enforcer = (*Controller)(nil)

// NewController wires the enforcement layers together. audit may be nil.
func NewController(
	cfg config.EnforcementConfig,
	bridge PageBridge,
	registry *Registry,
	stores []Scrubber,
	audit AuditSink,
	blockedURL string,
	logger *zap.Logger,
) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:        cfg,
		bridge:     bridge,
		registry:   registry,
		stores:     stores,
		audit:      audit,
		blockedURL: blockedURL,
		logger:     logger.Named("enforcer"),
	}
}

// OnBlocked applies the enforcement layers in order: veto state first (so
// the in-page event cancellation engages before anything slow runs), then
// passive control disabling, then the content scrub, and only after the
// scrub has committed, the redirect. If the redirect is somehow prevented,
// the sensitive text is already gone from the field.
func (c *Controller) OnBlocked(ctx context.Context, s *Surface, trigger Trigger) {
	log := c.logger.With(zap.String("surface", s.ID()))

	// 1. Event veto: push the blocked flag into the page. Key presses and
	// send-control clicks are cancelled in-page against this flag, before
	// any of the page's own handlers run.
	if err := c.bridge.PushVerdict(ctx, s.ID(), true); err != nil {
		log.Warn("Failed to push blocked state into page.", zap.Error(err))
	}

	// 2. Passive: disable every recognized send-control.
	if c.cfg.DisableControls {
		if err := c.bridge.SetControlsDisabled(ctx, c.registry.ControlIDs(), true); err != nil {
			log.Warn("Failed to disable send controls.", zap.Error(err))
		}
	}

	// 3. Content scrub: clear the field (with synthetic notifications for
	// framework-mirrored state), then optionally sweep storage tiers for
	// autosaved drafts.
	if c.cfg.ScrubField {
		if err := c.bridge.ClearSurface(ctx, s.ID()); err != nil {
			log.Warn("Failed to clear surface content.", zap.Error(err))
		}
	}
	if c.cfg.BroadScrub {
		removed := ScrubStores(ctx, c.stores, c.cfg.DraftWords, log)
		if removed > 0 {
			log.Info("Scrubbed draft entries from client-side storage.", zap.Int("removed", removed))
		}
	}

	if c.audit != nil {
		c.audit.Record(ctx, s.Text(), "surface")
	}

	// 4. Redirect, after a short settle delay so the scrub's side effects
	// commit before the page unloads.
	if c.cfg.Redirect {
		c.settle(ctx)
		if err := c.bridge.Navigate(ctx, c.blockedURL); err != nil {
			log.Warn("Failed to redirect to interdiction page.", zap.Error(err))
		}
	}
}

// OnClean lifts surface-local enforcement once a surface's verdict returns
// to CLEAN. Controls stay disabled while any other surface is still blocked.
func (c *Controller) OnClean(ctx context.Context, s *Surface) {
	if err := c.bridge.PushVerdict(ctx, s.ID(), false); err != nil {
		c.logger.Debug("Failed to clear blocked state in page.", zap.Error(err))
	}
	if c.cfg.DisableControls && !c.registry.AnyBlocked() {
		if err := c.bridge.SetControlsDisabled(ctx, c.registry.ControlIDs(), false); err != nil {
			c.logger.Debug("Failed to re-enable send controls.", zap.Error(err))
		}
	}
}

func (c *Controller) settle(ctx context.Context) {
	if c.cfg.SettleDelay <= 0 {
		return
	}
	select {
	case <-time.After(c.cfg.SettleDelay):
	case <-ctx.Done():
	}
}
