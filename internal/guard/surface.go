// File: internal/guard/surface.go
package guard

import (
	"strings"
	"sync"
)

// Verdict is the classification outcome for a surface or a navigation candidate.
type Verdict int

const (
	// VerdictUnknown means no classification has completed yet.
	VerdictUnknown Verdict = iota
	// VerdictClean means the most recent classification allowed the content.
	VerdictClean
	// VerdictBlocked means the most recent classification disallowed the content.
	VerdictBlocked
)

func (v Verdict) String() string {
	switch v {
	case VerdictClean:
		return "clean"
	case VerdictBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Trigger identifies the event that produced a verdict transition.
type Trigger int

const (
	// TriggerInput is a debounced text mutation (keystroke, paste, programmatic change).
	TriggerInput Trigger = iota
	// TriggerSubmit is an Enter-style submission attempt or a send-control click.
	TriggerSubmit
)

// ElementInfo is the semantic description of one DOM element, as reported by
// the in-page observation script. It deliberately carries no live DOM handle;
// the ID is the stable marker the script stamped onto the element.
type ElementInfo struct {
	ID       string            `json:"id"`
	NodeName string            `json:"nodeName"`
	Attrs    map[string]string `json:"attrs"`
	Label    string            `json:"label"`
}

// Attr returns the named attribute, or "" when absent.
func (e ElementInfo) Attr(name string) string {
	if e.Attrs == nil {
		return ""
	}
	return e.Attrs[name]
}

// Surface is one monitored text-entry element. Its verdict always reflects
// the most recently issued classification request for its current text;
// stale responses never overwrite it (see Pipeline).
type Surface struct {
	info ElementInfo

	mu      sync.Mutex
	text    string
	verdict Verdict
}

// NewSurface creates a surface for a freshly attached element.
func NewSurface(info ElementInfo) *Surface {
	return &Surface{info: info}
}

// ID returns the stable element marker.
func (s *Surface) ID() string { return s.info.ID }

// Info returns the element description captured at attach time.
func (s *Surface) Info() ElementInfo { return s.info }

// Text returns the last observed content of the surface.
func (s *Surface) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

// Verdict returns the current verdict.
func (s *Surface) Verdict() Verdict {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verdict
}

func (s *Surface) setText(text string) {
	s.mu.Lock()
	s.text = text
	s.mu.Unlock()
}

func (s *Surface) setVerdict(v Verdict) {
	s.mu.Lock()
	s.verdict = v
	s.mu.Unlock()
}

// IsTextSurface reports whether the described element qualifies as a
// monitored text-entry surface: text areas, single-line text inputs and
// editable regions.
func IsTextSurface(info ElementInfo) bool {
	switch strings.ToUpper(info.NodeName) {
	case "TEXTAREA":
		return true
	case "INPUT":
		switch strings.ToLower(info.Attr("type")) {
		case "", "text", "search":
			return true
		}
		return false
	}
	// contenteditable can be "true" or "" (empty implies true).
	if val, ok := info.Attrs["contenteditable"]; ok {
		val = strings.TrimSpace(strings.ToLower(val))
		return val == "true" || val == ""
	}
	return false
}
