// File: internal/guard/heuristic.go
package guard

import "strings"

// ControlMatcher decides whether an element is a send-control. It is a
// best-effort heuristic and may both under- and over-match; it is kept
// injectable so page-specific policies can replace it without touching
// the registry or the enforcement controller.
type ControlMatcher interface {
	Match(info ElementInfo) bool
}

// ControlMatcherFunc adapts a plain function to the ControlMatcher interface.
type ControlMatcherFunc func(info ElementInfo) bool

func (f ControlMatcherFunc) Match(info ElementInfo) bool { return f(info) }

// structuralMarkers are attribute values commonly used by messaging UIs to
// tag their send affordance when the visible label is just an icon.
var structuralMarkers = []string{
	"send", "tweetbutton", "tweetbuttoninline", "dm-composer-send",
}

// SendControlMatcher matches elements whose visible label, value or
// aria-style semantics contain one of a fixed vocabulary of action words,
// or that carry a known structural send marker.
type SendControlMatcher struct {
	words []string
}

// NewSendControlMatcher builds the default matcher from the configured
// action-word vocabulary.
func NewSendControlMatcher(words []string) *SendControlMatcher {
	lowered := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			lowered = append(lowered, w)
		}
	}
	return &SendControlMatcher{words: lowered}
}

// Match implements ControlMatcher.
func (m *SendControlMatcher) Match(info ElementInfo) bool {
	if !isControlShape(info) {
		return false
	}

	haystack := strings.ToLower(strings.Join([]string{
		info.Label,
		info.Attr("value"),
		info.Attr("aria-label"),
		info.Attr("title"),
	}, " "))
	for _, w := range m.words {
		if strings.Contains(haystack, w) {
			return true
		}
	}

	// Structural fallback for icon-only buttons.
	structural := strings.ToLower(info.Attr("data-testid") + " " + info.Attr("data-icon"))
	for _, marker := range structuralMarkers {
		if structural != "" && strings.Contains(structural, marker) {
			return true
		}
	}
	return false
}

// isControlShape limits matching to elements that can plausibly submit:
// buttons, submit inputs and ARIA buttons.
func isControlShape(info ElementInfo) bool {
	switch strings.ToUpper(info.NodeName) {
	case "BUTTON":
		return true
	case "INPUT":
		t := strings.ToLower(info.Attr("type"))
		return t == "submit" || t == "button" || t == "image"
	}
	return strings.EqualFold(info.Attr("role"), "button")
}
