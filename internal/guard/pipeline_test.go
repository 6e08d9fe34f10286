package guard

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -- Mocks and Test Helpers --

// countingClassifier counts calls and records the last text it saw.
type countingClassifier struct {
	mu      sync.Mutex
	calls   int
	last    string
	verdict Verdict
}

func (c *countingClassifier) Classify(_ context.Context, text string) Verdict {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.last = text
	return c.verdict
}

func (c *countingClassifier) snapshot() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls, c.last
}

// gatedClassifier blocks each call until the test releases it, which lets a
// test control response arrival order independently of issue order.
type gatedClassifier struct {
	mu    sync.Mutex
	gates map[string]chan Verdict
}

func newGatedClassifier() *gatedClassifier {
	return &gatedClassifier{gates: make(map[string]chan Verdict)}
}

func (c *gatedClassifier) gate(text string) chan Verdict {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.gates[text]
	if !ok {
		ch = make(chan Verdict, 1)
		c.gates[text] = ch
	}
	return ch
}

func (c *gatedClassifier) Classify(_ context.Context, text string) Verdict {
	return <-c.gate(text)
}

// recordingEnforcer counts transitions.
type recordingEnforcer struct {
	blocked atomic.Int64
	cleaned atomic.Int64
}

func (e *recordingEnforcer) OnBlocked(context.Context, *Surface, Trigger) { e.blocked.Add(1) }
func (e *recordingEnforcer) OnClean(context.Context, *Surface)            { e.cleaned.Add(1) }

func testSurface(id string) *Surface {
	return NewSurface(ElementInfo{ID: id, NodeName: "TEXTAREA"})
}

// -- Test Cases --

// TestDebounceCoalescing verifies that a burst of input events within the
// quiet window produces exactly one classification request, for the text
// present at the end of the window.
func TestDebounceCoalescing(t *testing.T) {
	classifier := &countingClassifier{verdict: VerdictClean}
	p := NewPipeline(PipelineConfig{DebounceWindow: 150 * time.Millisecond, MinLength: 3}, classifier, nil, zap.NewNop())
	defer p.Close()

	s := testSurface("s1")
	texts := []string{"h", "he", "hel", "hell", "hello"}
	for _, text := range texts {
		p.OnInput(context.Background(), s, text)
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		calls, _ := classifier.snapshot()
		return calls == 1
	}, time.Second, 10*time.Millisecond, "burst should coalesce into one request")

	// Window re-opens afterwards; a fresh event yields a fresh request.
	time.Sleep(200 * time.Millisecond)
	calls, last := classifier.snapshot()
	assert.Equal(t, 1, calls)
	assert.Equal(t, "hello", last, "request should carry the final text of the window")
}

// TestStaleResponseRejection is the single most important invariant of the
// engine: a response belonging to an older request must never overwrite a
// verdict derived from a request issued later, regardless of arrival order.
func TestStaleResponseRejection(t *testing.T) {
	classifier := newGatedClassifier()
	enforcer := &recordingEnforcer{}
	p := NewPipeline(PipelineConfig{DebounceWindow: time.Hour, MinLength: 1}, classifier, enforcer, zap.NewNop())

	s := testSurface("s1")
	ctx := context.Background()

	// R1 for "aaa", then R2 for "aaab". Submission issues immediately,
	// bypassing the (deliberately huge) debounce window.
	p.OnSubmit(ctx, s, "aaa")
	p.OnSubmit(ctx, s, "aaab")

	// R2's response arrives first and sets CLEAN.
	classifier.gate("aaab") <- VerdictClean
	require.Eventually(t, func() bool {
		return p.Verdict(s) == VerdictClean
	}, time.Second, 5*time.Millisecond)

	// R1's response straggles in BLOCKED. It reflects stale text and must
	// be discarded without touching the verdict or firing enforcement.
	classifier.gate("aaa") <- VerdictBlocked
	p.Close()

	assert.Equal(t, VerdictClean, p.Verdict(s), "stale response must not overwrite a newer verdict")
	assert.Equal(t, int64(0), enforcer.blocked.Load(), "stale response must not trigger enforcement")
}

// TestSubmitVetoOnBlockedSurface verifies the Enter fast path: a surface
// whose last verdict is BLOCKED vetoes the submission synchronously, even
// while a re-check of that exact text is still in flight.
func TestSubmitVetoOnBlockedSurface(t *testing.T) {
	classifier := newGatedClassifier()
	p := NewPipeline(PipelineConfig{DebounceWindow: time.Hour, MinLength: 1}, classifier, nil, zap.NewNop())

	s := testSurface("s1")
	ctx := context.Background()

	p.OnSubmit(ctx, s, "nasty words")
	classifier.gate("nasty words") <- VerdictBlocked
	require.Eventually(t, func() bool {
		return p.Verdict(s) == VerdictBlocked
	}, time.Second, 5*time.Millisecond)

	// The second submission's classification never completes inside this
	// test; the veto decision must not wait for it.
	veto := p.OnSubmit(ctx, s, "nasty words again")
	assert.True(t, veto, "blocked surface must veto submission synchronously")

	// Release the straggler so Close can drain.
	classifier.gate("nasty words again") <- VerdictBlocked
	p.Close()
}

// TestSubmitAllowedWhileUnknown verifies that an unclassified surface does
// not veto: the system degrades toward unobstructed use, never toward a hang.
func TestSubmitAllowedWhileUnknown(t *testing.T) {
	classifier := newGatedClassifier()
	p := NewPipeline(PipelineConfig{DebounceWindow: time.Hour, MinLength: 1}, classifier, nil, zap.NewNop())

	s := testSurface("s1")
	veto := p.OnSubmit(context.Background(), s, "hello there")
	assert.False(t, veto)

	classifier.gate("hello there") <- VerdictClean
	p.Close()
	assert.Equal(t, VerdictClean, s.Verdict())
}

// TestBlockedFiresOncePerTransition verifies that re-classification of
// unchanged blocked text does not re-trigger destructive enforcement.
func TestBlockedFiresOncePerTransition(t *testing.T) {
	classifier := &countingClassifier{verdict: VerdictBlocked}
	enforcer := &recordingEnforcer{}
	p := NewPipeline(PipelineConfig{DebounceWindow: time.Hour, MinLength: 1}, classifier, enforcer, zap.NewNop())

	s := testSurface("s1")
	ctx := context.Background()

	p.OnSubmit(ctx, s, "bad text")
	require.Eventually(t, func() bool {
		return p.Verdict(s) == VerdictBlocked
	}, time.Second, 5*time.Millisecond)

	// Same text re-checked twice more while already blocked.
	p.OnSubmit(ctx, s, "bad text")
	p.OnSubmit(ctx, s, "bad text")
	p.Close()

	assert.Equal(t, int64(1), enforcer.blocked.Load(), "enforcement fires once per transition into BLOCKED")
}

// TestCleanTransitionNotifiesEnforcer verifies the blocked -> clean edge
// lifts enforcement exactly once.
func TestCleanTransitionNotifiesEnforcer(t *testing.T) {
	classifier := newGatedClassifier()
	enforcer := &recordingEnforcer{}
	p := NewPipeline(PipelineConfig{DebounceWindow: time.Hour, MinLength: 1}, classifier, enforcer, zap.NewNop())

	s := testSurface("s1")
	ctx := context.Background()

	p.OnSubmit(ctx, s, "bad text")
	classifier.gate("bad text") <- VerdictBlocked
	require.Eventually(t, func() bool {
		return p.Verdict(s) == VerdictBlocked
	}, time.Second, 5*time.Millisecond)

	p.OnSubmit(ctx, s, "fine text")
	classifier.gate("fine text") <- VerdictClean
	require.Eventually(t, func() bool {
		return p.Verdict(s) == VerdictClean
	}, time.Second, 5*time.Millisecond)
	p.Close()

	assert.Equal(t, int64(1), enforcer.blocked.Load())
	assert.Equal(t, int64(1), enforcer.cleaned.Load())
}

// TestShortTextShortCircuits verifies that trivially short text resolves
// clean without an oracle round trip.
func TestShortTextShortCircuits(t *testing.T) {
	classifier := &countingClassifier{verdict: VerdictBlocked}
	p := NewPipeline(PipelineConfig{DebounceWindow: 20 * time.Millisecond, MinLength: 3}, classifier, nil, zap.NewNop())

	s := testSurface("s1")
	p.OnInput(context.Background(), s, "hi")
	time.Sleep(100 * time.Millisecond)
	p.Close()

	calls, _ := classifier.snapshot()
	assert.Equal(t, 0, calls, "short text must never reach the oracle")
	assert.Equal(t, VerdictClean, s.Verdict())
}

// TestMinLengthCountsRunes verifies the minimum is measured in runes, so
// two CJK characters short-circuit even though they span six bytes.
func TestMinLengthCountsRunes(t *testing.T) {
	classifier := &countingClassifier{verdict: VerdictBlocked}
	p := NewPipeline(PipelineConfig{DebounceWindow: 20 * time.Millisecond, MinLength: 3}, classifier, nil, zap.NewNop())

	s := testSurface("s1")
	p.OnInput(context.Background(), s, "日本")
	time.Sleep(100 * time.Millisecond)
	p.Close()

	calls, _ := classifier.snapshot()
	assert.Equal(t, 0, calls, "two runes are below the minimum regardless of byte width")
	assert.Equal(t, VerdictClean, s.Verdict())
}

// TestForgetDropsState verifies that a surface that left the document stops
// consuming pipeline state and pending timers.
func TestForgetDropsState(t *testing.T) {
	classifier := &countingClassifier{verdict: VerdictClean}
	p := NewPipeline(PipelineConfig{DebounceWindow: 50 * time.Millisecond, MinLength: 1}, classifier, nil, zap.NewNop())

	s := testSurface("gone")
	p.OnInput(context.Background(), s, "about to vanish")
	p.Forget(s.ID())

	time.Sleep(120 * time.Millisecond)
	p.Close()

	calls, _ := classifier.snapshot()
	assert.Equal(t, 0, calls, "a forgotten surface must not flush its window")
}
