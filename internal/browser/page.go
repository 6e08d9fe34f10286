// File: internal/browser/page.go
package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/guardian-cli/internal/guard"
)

// pageBridge implements guard.PageBridge against the session's tab by
// calling into the injected window.__guardian API. Every call is guarded:
// on a document where the script has not landed yet the operations are
// no-ops rather than errors.
type pageBridge struct {
	session *Session
}

var _ guard.PageBridge = (*pageBridge)(nil)

func (b *pageBridge) Scan(ctx context.Context) ([]guard.ElementInfo, error) {
	var infos []guard.ElementInfo
	expr := "window.__guardian ? window.__guardian.scan() : []"
	if err := b.run(ctx, chromedp.Evaluate(expr, &infos)); err != nil {
		return nil, fmt.Errorf("scanning page: %w", err)
	}
	return infos, nil
}

func (b *pageBridge) PushVerdict(ctx context.Context, surfaceID string, blocked bool) error {
	expr := fmt.Sprintf("window.__guardian && window.__guardian.setBlocked(%s, %t)",
		quote(surfaceID), blocked)
	if err := b.run(ctx, chromedp.Evaluate(expr, nil)); err != nil {
		return fmt.Errorf("pushing verdict: %w", err)
	}
	return nil
}

func (b *pageBridge) SetControlsDisabled(ctx context.Context, ids []string, disabled bool) error {
	if len(ids) == 0 {
		return nil
	}
	encoded, err := json.MarshalToString(ids)
	if err != nil {
		return fmt.Errorf("encoding control ids: %w", err)
	}
	expr := fmt.Sprintf("window.__guardian && window.__guardian.setControlsDisabled(%s, %t)",
		encoded, disabled)
	if err := b.run(ctx, chromedp.Evaluate(expr, nil)); err != nil {
		return fmt.Errorf("toggling controls: %w", err)
	}
	return nil
}

func (b *pageBridge) ClearSurface(ctx context.Context, surfaceID string) error {
	expr := fmt.Sprintf("window.__guardian && window.__guardian.clearSurface(%s)",
		quote(surfaceID))
	if err := b.run(ctx, chromedp.Evaluate(expr, nil)); err != nil {
		return fmt.Errorf("clearing surface: %w", err)
	}
	return nil
}

func (b *pageBridge) Navigate(ctx context.Context, url string) error {
	if err := b.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigating: %w", err)
	}
	return nil
}

// run executes actions in the tab context while honoring the caller's
// cancellation.
func (b *pageBridge) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return chromedp.Run(b.session.ctx, actions...)
}

// quote produces a JS string literal.
func quote(s string) string {
	out, err := json.MarshalToString(s)
	if err != nil {
		return `""`
	}
	return out
}
