package guard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeBridge is an in-memory PageBridge for tests. It records every call so
// ordering assertions can be made against it.
type fakeBridge struct {
	scanResult []ElementInfo
	scanErr    error
	navErr     error

	calls    []string
	verdicts map[string]bool
	disabled bool
	cleared  []string
	navs     []string
}

func newFakeBridge(infos ...ElementInfo) *fakeBridge {
	return &fakeBridge{scanResult: infos, verdicts: make(map[string]bool)}
}

func (b *fakeBridge) Scan(context.Context) ([]ElementInfo, error) {
	b.calls = append(b.calls, "scan")
	return b.scanResult, b.scanErr
}

func (b *fakeBridge) PushVerdict(_ context.Context, surfaceID string, blocked bool) error {
	b.calls = append(b.calls, "pushVerdict")
	b.verdicts[surfaceID] = blocked
	return nil
}

func (b *fakeBridge) SetControlsDisabled(_ context.Context, _ []string, disabled bool) error {
	b.calls = append(b.calls, "setControlsDisabled")
	b.disabled = disabled
	return nil
}

func (b *fakeBridge) ClearSurface(_ context.Context, surfaceID string) error {
	b.calls = append(b.calls, "clearSurface")
	b.cleared = append(b.cleared, surfaceID)
	return nil
}

func (b *fakeBridge) Navigate(_ context.Context, url string) error {
	b.calls = append(b.calls, "navigate")
	b.navs = append(b.navs, url)
	return b.navErr
}

func TestRegistryObserveIdempotent(t *testing.T) {
	r := NewRegistry(NewSendControlMatcher([]string{"send"}), zap.NewNop())

	info := ElementInfo{ID: "s1", NodeName: "TEXTAREA"}
	first := r.Observe(info)
	require.NotNil(t, first)

	// Re-observing the same marker must hand back the same surface, not a
	// replacement that would lose verdict state.
	second := r.Observe(info)
	assert.Same(t, first, second)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryClassifiesControls(t *testing.T) {
	r := NewRegistry(NewSendControlMatcher([]string{"send"}), zap.NewNop())

	s := r.Observe(ElementInfo{ID: "c1", NodeName: "BUTTON", Label: "Send"})
	assert.Nil(t, s, "a send control is not a text surface")
	assert.ElementsMatch(t, []string{"c1"}, r.ControlIDs())

	ignored := r.Observe(ElementInfo{ID: "x1", NodeName: "BUTTON", Label: "Cancel"})
	assert.Nil(t, ignored)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryScanReconciles(t *testing.T) {
	bridge := newFakeBridge(
		ElementInfo{ID: "s1", NodeName: "TEXTAREA"},
		ElementInfo{ID: "c1", NodeName: "BUTTON", Label: "Post"},
		ElementInfo{ID: "x1", NodeName: "DIV"},
	)
	r := NewRegistry(NewSendControlMatcher([]string{"post"}), zap.NewNop())

	added, err := r.Scan(context.Background(), bridge)
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	// A second scan over the unchanged document tracks nothing new.
	added, err = r.Scan(context.Background(), bridge)
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.Equal(t, 2, r.Len())
}

func TestRegistryAnyBlocked(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	s1 := r.Observe(ElementInfo{ID: "s1", NodeName: "TEXTAREA"})
	s2 := r.Observe(ElementInfo{ID: "s2", NodeName: "TEXTAREA"})

	assert.False(t, r.AnyBlocked())
	s1.setVerdict(VerdictBlocked)
	assert.True(t, r.AnyBlocked())

	s1.setVerdict(VerdictClean)
	s2.setVerdict(VerdictClean)
	assert.False(t, r.AnyBlocked())
}

func TestRegistryDropAndReset(t *testing.T) {
	r := NewRegistry(NewSendControlMatcher([]string{"send"}), zap.NewNop())
	r.Observe(ElementInfo{ID: "s1", NodeName: "TEXTAREA"})
	r.Observe(ElementInfo{ID: "c1", NodeName: "BUTTON", Label: "Send"})

	r.Drop("s1")
	assert.Nil(t, r.Surface("s1"))
	assert.Equal(t, 1, r.Len())

	r.Reset()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.ControlIDs())
}
