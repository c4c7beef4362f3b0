// Package feedback signals "this just changed" on the live page: transient
// highlights with a timed revert and short-lived notices.
package feedback

import (
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/florenceegi/livepage/internal/page"
	"github.com/jonboulle/clockwork"
	"golang.org/x/net/html"
)

// DefaultHighlightDuration is how long a highlight stays applied.
const DefaultHighlightDuration = 300 * time.Millisecond

// Property is one inline CSS declaration.
type Property struct {
	Name  string
	Value string
}

// Style is an ordered set of inline CSS declarations.
type Style []Property

// Highlight styles per kind of change.
var (
	PriceStyle = Style{
		{"background-color", "#fef3c7"},
		{"font-weight", "bold"},
		{"color", "#d97706"},
	}
	StatsStyle = Style{
		{"transition", "all 0.3s ease"},
		{"transform", "scale(1.05)"},
		{"text-shadow", "0 0 8px rgba(34, 197, 94, 0.6)"},
	}
	StructureStyle = Style{
		{"background-color", "#dcfce7"},
		{"font-weight", "bold"},
	}
	ButtonStyle = Style{
		{"transition", "all 0.3s ease"},
		{"transform", "scale(1.05)"},
	}
)

type savedValue struct {
	value   string
	present bool
}

type flash struct {
	gen   uint64
	saved map[string]savedValue
	timer clockwork.Timer
}

// Highlighter applies a style to a node and restores the previous inline
// values once the duration elapses. Re-flashing a node that is still lit
// extends the highlight and keeps the original values for the revert.
type Highlighter struct {
	doc      *page.Document
	clock    clockwork.Clock
	duration time.Duration

	mu      sync.Mutex
	gen     uint64
	pending map[*html.Node]*flash
}

// NewHighlighter creates a Highlighter bound to a document.
func NewHighlighter(doc *page.Document, clock clockwork.Clock, duration time.Duration) *Highlighter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if duration <= 0 {
		duration = DefaultHighlightDuration
	}
	return &Highlighter{
		doc:      doc,
		clock:    clock,
		duration: duration,
		pending:  make(map[*html.Node]*flash),
	}
}

// Flash highlights n. The caller must be inside Document.Do.
func (h *Highlighter) Flash(n *html.Node, style Style) {
	if n == nil || n.Type != html.ElementNode {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	props := parseStyle(attr(n, "style"))

	f, lit := h.pending[n]
	if !lit {
		f = &flash{saved: make(map[string]savedValue)}
		h.pending[n] = f
	} else if f.timer != nil {
		f.timer.Stop()
	}

	for _, p := range style {
		if _, ok := f.saved[p.Name]; !ok {
			v, present := lookup(props, p.Name)
			f.saved[p.Name] = savedValue{value: v, present: present}
		}
		props = set(props, p.Name, p.Value)
	}
	setStyle(n, props)

	h.gen++
	f.gen = h.gen
	gen := f.gen
	f.timer = h.clock.AfterFunc(h.duration, func() {
		h.doc.Do(func(*goquery.Document) {
			h.revert(n, gen)
		})
	})
}

func (h *Highlighter) revert(n *html.Node, gen uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, ok := h.pending[n]
	if !ok || f.gen != gen {
		return
	}
	delete(h.pending, n)

	props := parseStyle(attr(n, "style"))
	for name, saved := range f.saved {
		if saved.present {
			props = set(props, name, saved.value)
		} else {
			props = remove(props, name)
		}
	}
	setStyle(n, props)
}

func parseStyle(s string) Style {
	var out Style
	for _, decl := range strings.Split(s, ";") {
		name, value, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(strings.ToLower(name))
		if name == "" {
			continue
		}
		out = append(out, Property{Name: name, Value: strings.TrimSpace(value)})
	}
	return out
}

func (s Style) String() string {
	parts := make([]string, 0, len(s))
	for _, p := range s {
		parts = append(parts, p.Name+": "+p.Value)
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "; ") + ";"
}

func lookup(s Style, name string) (string, bool) {
	for _, p := range s {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

func set(s Style, name, value string) Style {
	for i := range s {
		if s[i].Name == name {
			s[i].Value = value
			return s
		}
	}
	return append(s, Property{Name: name, Value: value})
}

func remove(s Style, name string) Style {
	out := s[:0]
	for _, p := range s {
		if p.Name != name {
			out = append(out, p)
		}
	}
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func setStyle(n *html.Node, s Style) {
	value := s.String()
	for i, a := range n.Attr {
		if a.Key != "style" {
			continue
		}
		if value == "" {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
		} else {
			n.Attr[i].Val = value
		}
		return
	}
	if value != "" {
		n.Attr = append(n.Attr, html.Attribute{Key: "style", Val: value})
	}
}
