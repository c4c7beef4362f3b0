package reconcile

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/florenceegi/livepage/internal/feedback"
	"github.com/florenceegi/livepage/internal/format"
	"github.com/florenceegi/livepage/internal/page"
	"github.com/florenceegi/livepage/internal/store"
	"golang.org/x/net/html"
)

// Markup contract for structural subsections.
const (
	selActivatorName    = "[data-activator-name]"
	selActivatorAvatar  = "img.activator-avatar"
	selPlaceholder      = `[data-activation-status="available"]`
	selPriceSection     = "[data-price-section]"
	selReserveButton    = ".reserve-button"
	selReservationCount = "[data-reservation-count]"
	selCollectionInfo   = "[data-collection-info]"
	selCreatorInfo      = "[data-creator-info]"

	attrButtonState     = "data-button-state"
	priceSectionClass   = "border-green-500/30"
	counterLabelClass   = "text-gray-300"
	buttonStateOutbid   = "outbid"
	legacyReserveLabelA = "Prenota"
	legacyReserveLabelB = "Reserve"
)

// outbidClassSwaps maps the reserve palette to the outbid palette.
var outbidClassSwaps = map[string]string{
	"from-purple-500":       "from-amber-500",
	"to-purple-600":         "to-orange-600",
	"hover:from-purple-600": "hover:from-amber-600",
	"hover:to-purple-700":   "hover:to-orange-700",
}

// StructureReconciler applies reservation lifecycle changes to one display
// replica of an entity. Each concern owns a disjoint subsection: activator,
// reserve button, reservation counter.
type StructureReconciler struct {
	highlighter *feedback.Highlighter
	formatter   *format.Formatter
	fragments   *fragments
}

// NewStructureReconciler creates a StructureReconciler.
func NewStructureReconciler(h *feedback.Highlighter, f *format.Formatter) *StructureReconciler {
	if f == nil {
		f = format.Default
	}
	return &StructureReconciler{
		highlighter: h,
		formatter:   f,
		fragments:   newFragments(f),
	}
}

// Apply applies changes to el and returns the number of subsections touched.
// The caller must be inside Document.Do.
func (s *StructureReconciler) Apply(el *html.Node, changes *store.StructureChanges) int {
	if el == nil || changes == nil {
		return 0
	}
	sel := page.Select(el)

	touched := 0
	if changes.Activator != nil && s.applyActivator(sel, changes.Activator) {
		touched++
	}
	if s.applyButton(sel, changes.ButtonState) {
		touched++
	}
	if s.applyCounter(sel, changes.ReservationCount) {
		touched++
	}
	return touched
}

// applyActivator updates the activator name in place, replaces a
// placeholder subsection, or appends a new row to the price section.
func (s *StructureReconciler) applyActivator(sel *goquery.Selection, a *store.Activator) bool {
	if names := sel.Find(selActivatorName); names.Length() > 0 {
		names.Each(func(_ int, n *goquery.Selection) {
			n.SetText(a.Name)
			s.flash(n.Get(0), feedback.StructureStyle)
		})
		if a.AvatarURL != "" {
			sel.Find(selActivatorAvatar).SetAttr("src", a.AvatarURL).SetAttr("alt", a.Name)
		}
		return true
	}

	if placeholder := sel.Find(selPlaceholder).First(); placeholder.Length() > 0 {
		nodes, err := s.fragments.Activated(a)
		if err != nil {
			slog.Warn("structure_render_failed", "part", "activated", "error", err)
			return false
		}
		placeholder.ReplaceWithNodes(nodes...)
		s.flashAll(nodes, feedback.StructureStyle)
		return true
	}

	section := priceSection(sel)
	if section.Length() == 0 {
		slog.Debug("structure_no_activator_anchor")
		return false
	}
	nodes, err := s.fragments.ActivatorSection(a)
	if err != nil {
		slog.Warn("structure_render_failed", "part", "activator_section", "error", err)
		return false
	}
	section.AppendNodes(nodes...)
	s.flashAll(nodes, feedback.StructureStyle)
	return true
}

// priceSection locates the box holding the price display.
func priceSection(sel *goquery.Selection) *goquery.Selection {
	if section := sel.Find(selPriceSection).First(); section.Length() > 0 {
		return section
	}
	if section := sel.Find("div").FilterFunction(func(_ int, d *goquery.Selection) bool {
		return d.HasClass(priceSectionClass)
	}).First(); section.Length() > 0 {
		return section
	}
	return sel.Find(selPriceDisplay).First().Parent()
}

// applyButton moves reserve buttons forward to the outbid variant. Buttons
// already marked outbid are left alone and nothing ever moves them back.
func (s *StructureReconciler) applyButton(sel *goquery.Selection, state store.ButtonState) bool {
	if state != store.ButtonOutbid {
		return false
	}

	buttons := sel.Find(selReserveButton)
	if buttons.Length() == 0 {
		reserve := s.formatter.Label(format.LabelReserve)
		buttons = sel.Find("button").FilterFunction(func(_ int, b *goquery.Selection) bool {
			text := b.Text()
			return strings.Contains(text, reserve) ||
				strings.Contains(text, legacyReserveLabelA) ||
				strings.Contains(text, legacyReserveLabelB)
		})
	}

	updated := false
	buttons.Each(func(_ int, b *goquery.Selection) {
		if b.AttrOr(attrButtonState, "") == buttonStateOutbid {
			return
		}
		nodes, err := s.fragments.OutbidButton()
		if err != nil {
			slog.Warn("structure_render_failed", "part", "button", "error", err)
			return
		}
		b.Empty()
		b.AppendNodes(nodes...)
		b.SetAttr("class", swapClasses(b.AttrOr("class", ""), outbidClassSwaps))
		b.SetAttr(attrButtonState, buttonStateOutbid)
		s.flash(b.Get(0), feedback.ButtonStyle)
		updated = true
	})
	return updated
}

func swapClasses(class string, swaps map[string]string) string {
	tokens := strings.Fields(class)
	for i, t := range tokens {
		if r, ok := swaps[t]; ok {
			tokens[i] = r
		}
	}
	return strings.Join(tokens, " ")
}

// applyCounter re-renders the reservation counter. An authoritative count
// wins over incrementing the displayed one. A missing counter is created
// only for a count of at least one.
func (s *StructureReconciler) applyCounter(sel *goquery.Selection, count *int) bool {
	if existing := sel.Find(selReservationCount).First(); existing.Length() > 0 {
		label := existing.Find("." + counterLabelClass).First()
		if label.Length() == 0 {
			label = existing
		}

		n := leadingInt(label.Text()) + 1
		if count != nil {
			n = *count
		}
		label.SetText(s.formatter.Reservations(n))
		s.flash(label.Get(0), feedback.StructureStyle)
		return true
	}

	if count == nil || *count < 1 {
		return false
	}

	anchor := sel.Find(selCollectionInfo).First()
	if anchor.Length() == 0 {
		anchor = sel.Find(selCreatorInfo).First()
	}
	if anchor.Length() == 0 {
		slog.Debug("structure_no_counter_anchor", "count", *count)
		return false
	}

	nodes, err := s.fragments.Counter(*count)
	if err != nil {
		slog.Warn("structure_render_failed", "part", "counter", "error", err)
		return false
	}
	anchor.AfterNodes(nodes...)
	s.flashAll(nodes, feedback.StructureStyle)
	return true
}

// leadingInt parses the first run of digits in s, 0 when there is none.
func leadingInt(s string) int {
	start := strings.IndexFunc(s, func(r rune) bool { return r >= '0' && r <= '9' })
	if start < 0 {
		return 0
	}
	end := start
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(s[start:end])
	if err != nil {
		return 0
	}
	return n
}

func (s *StructureReconciler) flash(n *html.Node, style feedback.Style) {
	if s.highlighter != nil {
		s.highlighter.Flash(n, style)
	}
}

func (s *StructureReconciler) flashAll(nodes []*html.Node, style feedback.Style) {
	for _, n := range nodes {
		if n.Type == html.ElementNode {
			s.flash(n, style)
		}
	}
}
