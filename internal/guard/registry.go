// File: internal/guard/registry.go
package guard

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// PageBridge is the minimal set of page operations the engine needs. The
// CDP session implements it against a live tab; tests implement it in
// memory. Every method is best effort: a structural DOM failure is reported
// as an error and recovered by the caller, never propagated to the
// supervised user.
type PageBridge interface {
	// Scan asks the page to enumerate qualifying descendants of the
	// document, stamping an idempotency marker on any element not already
	// instrumented and attaching input listeners to it. It returns
	// descriptions of every instrumented element, previously marked ones
	// included, so the registry can reconcile.
	Scan(ctx context.Context) ([]ElementInfo, error)
	// PushVerdict propagates a surface's blocked state into the page so the
	// in-page event veto engages without a round trip.
	PushVerdict(ctx context.Context, surfaceID string, blocked bool) error
	// SetControlsDisabled disables (or re-enables) every recognized
	// send-control on the page.
	SetControlsDisabled(ctx context.Context, ids []string, disabled bool) error
	// ClearSurface empties a surface's value and emits synthetic
	// input/change notifications so framework-mirrored state clears too.
	ClearSurface(ctx context.Context, surfaceID string) error
	// Navigate replaces the current page.
	Navigate(ctx context.Context, url string) error
}

// Registry tracks, for one page, every monitored text-entry surface and
// every recognized send-control, keeping attachment idempotent while the
// host page inserts, removes and replaces subtrees arbitrarily.
type Registry struct {
	matcher ControlMatcher
	logger  *zap.Logger

	mu       sync.RWMutex
	surfaces map[string]*Surface
	controls map[string]ElementInfo
}

// NewRegistry creates an empty registry using the given send-control matcher.
func NewRegistry(matcher ControlMatcher, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		matcher:  matcher,
		logger:   logger.Named("registry"),
		surfaces: make(map[string]*Surface),
		controls: make(map[string]ElementInfo),
	}
}

// Observe ingests one element description, typically delivered by the page
// when a mutation batch attached new nodes. It is idempotent: an element
// already tracked under the same marker is returned as-is. The returned
// surface is nil when the element is not a text surface.
func (r *Registry) Observe(info ElementInfo) *Surface {
	if info.ID == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if IsTextSurface(info) {
		if s, ok := r.surfaces[info.ID]; ok {
			return s
		}
		s := NewSurface(info)
		r.surfaces[info.ID] = s
		r.logger.Debug("Monitoring new text surface.",
			zap.String("surface", info.ID), zap.String("node", info.NodeName))
		return s
	}

	if r.matcher != nil && r.matcher.Match(info) {
		if _, ok := r.controls[info.ID]; !ok {
			r.controls[info.ID] = info
			r.logger.Debug("Recognized send control.",
				zap.String("control", info.ID), zap.String("label", info.Label))
		}
	}
	return nil
}

// Scan synchronously enumerates the page's qualifying elements through the
// bridge and observes each. Calling it twice over an unchanged document is
// free of side effects: the page-side idempotency marker prevents double
// instrumentation and Observe deduplicates by marker.
func (r *Registry) Scan(ctx context.Context, bridge PageBridge) (int, error) {
	infos, err := bridge.Scan(ctx)
	if err != nil {
		return 0, err
	}
	added := 0
	for _, info := range infos {
		before := r.Len()
		r.Observe(info)
		if r.Len() > before {
			added++
		}
	}
	return added, nil
}

// Surface returns the tracked surface for a marker, or nil.
func (r *Registry) Surface(id string) *Surface {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.surfaces[id]
}

// SurfaceIDs returns the markers of every tracked text surface.
func (r *Registry) SurfaceIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.surfaces))
	for id := range r.surfaces {
		ids = append(ids, id)
	}
	return ids
}

// ControlIDs returns the markers of every recognized send-control.
func (r *Registry) ControlIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.controls))
	for id := range r.controls {
		ids = append(ids, id)
	}
	return ids
}

// AnyBlocked reports whether any monitored surface currently holds a
// BLOCKED verdict. Send-controls stay disabled while this is true.
func (r *Registry) AnyBlocked() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.surfaces {
		if s.Verdict() == VerdictBlocked {
			return true
		}
	}
	return false
}

// Drop forgets an element that left the document. Detection is best effort;
// listeners on a detached element are inert, so dropping late is harmless.
func (r *Registry) Drop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.surfaces, id)
	delete(r.controls, id)
}

// Reset clears all tracked state, used when the page navigates away and the
// markers become meaningless.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.surfaces = make(map[string]*Surface)
	r.controls = make(map[string]ElementInfo)
}

// Len returns the combined count of tracked surfaces and controls.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.surfaces) + len(r.controls)
}
