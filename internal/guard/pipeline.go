// File: internal/guard/pipeline.go
package guard

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Classifier produces a verdict for a text sample. Implementations never
// fail: transport problems degrade to VerdictClean (fail open), so the
// pipeline has no error path of its own.
type Classifier interface {
	Classify(ctx context.Context, text string) Verdict
}

// ClassifierFunc adapts a plain function to the Classifier interface.
type ClassifierFunc func(ctx context.Context, text string) Verdict

func (f ClassifierFunc) Classify(ctx context.Context, text string) Verdict {
	return f(ctx, text)
}

// Enforcer receives verdict transitions for a surface. OnBlocked fires
// exactly once per transition into VerdictBlocked; re-classification of
// unchanged blocked text does not re-trigger it.
type Enforcer interface {
	OnBlocked(ctx context.Context, s *Surface, trigger Trigger)
	OnClean(ctx context.Context, s *Surface)
}

// PipelineConfig tunes the per-surface verdict pipeline.
type PipelineConfig struct {
	// DebounceWindow is the quiet period that must elapse after the last
	// input event before a classification request is issued.
	DebounceWindow time.Duration
	// MinLength is the minimum trimmed rune count worth classifying;
	// anything shorter short-circuits to clean without a round trip.
	MinLength int
}

// Pipeline turns the raw input-event stream of each surface into a
// debounced, race-safe stream of verdicts.
//
// Per surface the state machine is IDLE -> PENDING -> (CLEAN|BLOCKED) -> IDLE,
// re-entered on every input event. Each issued classification request carries
// a per-surface sequence number; a response whose sequence number is lower
// than the highest issued one is discarded, so a stale response can never
// overwrite a verdict derived from newer text.
type Pipeline struct {
	cfg        PipelineConfig
	classifier Classifier
	enforcer   Enforcer
	logger     *zap.Logger

	mu     sync.Mutex
	states map[string]*surfaceState
	closed bool

	// wg tracks in-flight classification goroutines for a clean shutdown.
	wg sync.WaitGroup
}

type surfaceState struct {
	surface *Surface
	timer   *time.Timer
	pending string
	// issued is the sequence number of the most recently issued request.
	issued uint64
	// verdict is the pipeline's view; mirrored onto the Surface.
	verdict Verdict
}

// NewPipeline builds a pipeline. The enforcer may be nil, in which case
// verdicts are tracked but nothing fires.
func NewPipeline(cfg PipelineConfig, classifier Classifier, enforcer Enforcer, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = 500 * time.Millisecond
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = 3
	}
	return &Pipeline{
		cfg:        cfg,
		classifier: classifier,
		enforcer:   enforcer,
		logger:     logger.Named("pipeline"),
		states:     make(map[string]*surfaceState),
	}
}

// OnInput records a text mutation on a surface and (re)starts its debounce
// window. Events arriving within the window coalesce into one request for
// the text present when the window closes.
func (p *Pipeline) OnInput(ctx context.Context, s *Surface, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	st := p.state(s)
	st.pending = text
	s.setText(text)

	if st.timer != nil {
		st.timer.Stop()
	}
	id := s.ID()
	st.timer = time.AfterFunc(p.cfg.DebounceWindow, func() {
		p.flush(ctx, id)
	})
}

// OnSubmit handles an Enter-style submission attempt. It is not debounced:
// any pending window is cancelled, a classification for the submitted text
// is issued immediately, and the decision whether to veto the submission is
// taken synchronously from the surface's current verdict. A surface whose
// last verdict is BLOCKED therefore vetoes the event even if a re-check of
// that exact text is still in flight.
func (p *Pipeline) OnSubmit(ctx context.Context, s *Surface, text string) (veto bool) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}

	st := p.state(s)
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	st.pending = text
	s.setText(text)
	veto = st.verdict == VerdictBlocked
	p.issueLocked(ctx, st, text)
	p.mu.Unlock()

	if veto {
		p.logger.Info("Submission vetoed for blocked surface.", zap.String("surface", s.ID()))
	}
	return veto
}

// Verdict returns the pipeline's current verdict for a surface.
func (p *Pipeline) Verdict(s *Surface) Verdict {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.states[s.ID()]; ok {
		return st.verdict
	}
	return VerdictUnknown
}

// Forget drops all pipeline state for a surface that left the document.
func (p *Pipeline) Forget(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.states[id]; ok {
		if st.timer != nil {
			st.timer.Stop()
		}
		delete(p.states, id)
	}
}

// Close stops all timers and waits for in-flight classifications to drain.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closed = true
	for _, st := range p.states {
		if st.timer != nil {
			st.timer.Stop()
		}
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// state returns (creating if needed) the runtime state for a surface.
// Caller must hold p.mu.
func (p *Pipeline) state(s *Surface) *surfaceState {
	st, ok := p.states[s.ID()]
	if !ok {
		st = &surfaceState{surface: s, verdict: VerdictUnknown}
		p.states[s.ID()] = st
	}
	return st
}

// flush closes a debounce window: it issues one classification request for
// the text accumulated during the window.
func (p *Pipeline) flush(ctx context.Context, id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	st, ok := p.states[id]
	if !ok {
		return
	}
	st.timer = nil
	p.issueLocked(ctx, st, st.pending)
}

// issueLocked allocates the next sequence number for the surface and starts
// the asynchronous classification. Caller must hold p.mu.
func (p *Pipeline) issueLocked(ctx context.Context, st *surfaceState, text string) {
	st.issued++
	seq := st.issued

	// Empty or trivially short text never goes to the oracle; it resolves
	// clean through the same delivery path so sequencing stays uniform.
	if utf8.RuneCountInString(strings.TrimSpace(text)) < p.cfg.MinLength {
		p.deliverLocked(ctx, st, seq, VerdictClean)
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		v := p.classifier.Classify(ctx, text)
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			return
		}
		p.deliverLocked(ctx, st, seq, v)
	}()
}

// deliverLocked reconciles an arriving response against the surface's
// highest issued sequence number and applies the verdict transition.
// Caller must hold p.mu.
func (p *Pipeline) deliverLocked(ctx context.Context, st *surfaceState, seq uint64, v Verdict) {
	if seq < st.issued {
		// The user kept typing and a newer request was issued; this
		// response reflects stale text.
		p.logger.Debug("Discarding stale classification response.",
			zap.String("surface", st.surface.ID()),
			zap.Uint64("seq", seq),
			zap.Uint64("issued", st.issued))
		return
	}

	prev := st.verdict
	st.verdict = v
	st.surface.setVerdict(v)

	if p.enforcer == nil || prev == v {
		return
	}
	switch {
	case v == VerdictBlocked:
		p.logger.Warn("Surface content blocked.", zap.String("surface", st.surface.ID()))
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.enforcer.OnBlocked(ctx, st.surface, TriggerInput)
		}()
	case prev == VerdictBlocked && v == VerdictClean:
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.enforcer.OnClean(ctx, st.surface)
		}()
	}
}
