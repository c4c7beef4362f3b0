package page

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/florenceegi/livepage/internal/store"
	"golang.org/x/net/html"
)

// Markup contract attributes.
const (
	AttrEntityID       = "data-egi-id"
	AttrEntityIDAlt    = "data-entity-id"
	AttrRole           = "data-role"
	AttrStatsScope     = "data-stats-scope"
	AttrCollectionID   = "data-collection-id"
	scopeValueGlobal   = "global"
	scopeValueCollects = "collection"
)

// Legacy stats container markers. The first three id prefixes and the
// mobile container class are always global.
var (
	globalContainerPrefixes = []string{
		"globalStatsContainer_",
		"heroBannerStatsContainer_",
		"mobileStatsContainer_",
	}
	collectionContainerPrefix = "collectionStatsContainer_"
	mobileContainerClass      = "mobile-stats-container"
)

const (
	entitySelector    = "[data-egi-id], [data-entity-id]"
	containerSelector = `[data-stats-scope], [id^="globalStatsContainer_"], [id^="heroBannerStatsContainer_"], [id^="mobileStatsContainer_"], [id^="collectionStatsContainer_"], .mobile-stats-container`
)

// Role separates display targets from interactive controls that share the
// entity tag for event delegation.
type Role int

// Element roles.
const (
	RoleDisplay Role = iota
	RoleControl
)

func (r Role) String() string {
	if r == RoleControl {
		return "control"
	}
	return "display"
}

// Element is one DOM replica of an entity.
type Element struct {
	Node     *html.Node
	EntityID store.EntityID
	Role     Role
}

// Selection returns a goquery selection rooted at the element.
func (e *Element) Selection() *goquery.Selection {
	return Select(e.Node)
}

// Registry indexes entity elements and stats containers. It is built once
// per page load and rebuilt only on Refresh.
type Registry struct {
	mu         sync.RWMutex
	entities   map[store.EntityID][]*Element
	ids        []store.EntityID
	containers map[store.StatsScope][]*html.Node
	scopes     []store.StatsScope
	loose      map[store.StatsField][]*html.Node
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entities:   make(map[store.EntityID][]*Element),
		containers: make(map[store.StatsScope][]*html.Node),
		loose:      make(map[store.StatsField][]*html.Node),
	}
}

// Refresh rescans the document.
func (r *Registry) Refresh(doc *goquery.Document) {
	entities := make(map[store.EntityID][]*Element)
	var ids []store.EntityID

	doc.Find(entitySelector).Each(func(_ int, sel *goquery.Selection) {
		id, ok := ParseEntityID(sel)
		if !ok {
			slog.Debug("registry_invalid_entity_id", "html", truncate(OuterHTML(sel.Get(0)), 80))
			return
		}
		if _, seen := entities[id]; !seen {
			ids = append(ids, id)
		}
		entities[id] = append(entities[id], &Element{
			Node:     sel.Get(0),
			EntityID: id,
			Role:     roleOf(sel),
		})
	})

	containers := make(map[store.StatsScope][]*html.Node)
	var scopes []store.StatsScope

	doc.Find(containerSelector).Each(func(_ int, sel *goquery.Selection) {
		scope, ok := ScopeOf(sel.Get(0))
		if !ok {
			slog.Debug("registry_invalid_stats_scope", "id", sel.AttrOr("id", ""))
			return
		}
		if _, seen := containers[scope]; !seen {
			scopes = append(scopes, scope)
		}
		containers[scope] = append(containers[scope], sel.Get(0))
	})

	// Site-wide stat elements outside every container follow the global scope.
	loose := make(map[store.StatsField][]*html.Node)
	for _, field := range store.AllStatsFields {
		generic := field.GenericSelector()
		if generic == "" {
			continue
		}
		doc.Find(generic).Each(func(_ int, sel *goquery.Selection) {
			if ContainerOf(sel.Get(0)) == nil {
				loose[field] = append(loose[field], sel.Get(0))
			}
		})
	}
	if _, seen := containers[store.GlobalScope]; !seen && len(loose) > 0 {
		scopes = append(scopes, store.GlobalScope)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	sort.Slice(scopes, func(i, j int) bool { return scopes[i].CollectionID < scopes[j].CollectionID })

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities = entities
	r.ids = ids
	r.containers = containers
	r.scopes = scopes
	r.loose = loose
}

// Entities returns every entity id present on the page, ascending.
func (r *Registry) Entities() []store.EntityID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]store.EntityID(nil), r.ids...)
}

// Displays returns the display replicas of an entity in document order.
func (r *Registry) Displays(id store.EntityID) []*Element {
	return r.withRole(id, RoleDisplay)
}

// Controls returns the interactive controls tagged with an entity.
func (r *Registry) Controls(id store.EntityID) []*Element {
	return r.withRole(id, RoleControl)
}

// Primary returns the first display replica, or nil when the entity is not
// rendered on this page.
func (r *Registry) Primary(id store.EntityID) *Element {
	displays := r.Displays(id)
	if len(displays) == 0 {
		return nil
	}
	return displays[0]
}

func (r *Registry) withRole(id store.EntityID, role Role) []*Element {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Element
	for _, el := range r.entities[id] {
		if el.Role == role {
			out = append(out, el)
		}
	}
	return out
}

// Scopes returns the distinct stats scopes present on the page, global first.
func (r *Registry) Scopes() []store.StatsScope {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]store.StatsScope(nil), r.scopes...)
}

// Containers returns the stats containers tagged with exactly this scope.
func (r *Registry) Containers(scope store.StatsScope) []*html.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*html.Node(nil), r.containers[scope]...)
}

// LooseStats returns the site-wide elements showing field that sit outside
// every stats container. They are updated with the global scope.
func (r *Registry) LooseStats(field store.StatsField) []*html.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*html.Node(nil), r.loose[field]...)
}

// ParseEntityID reads the entity id attribute of a selection.
func ParseEntityID(sel *goquery.Selection) (store.EntityID, bool) {
	raw, ok := sel.Attr(AttrEntityID)
	if !ok {
		raw, ok = sel.Attr(AttrEntityIDAlt)
	}
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return store.EntityID(n), true
}

// roleOf prefers the explicit role attribute and falls back to the tag name.
func roleOf(sel *goquery.Selection) Role {
	switch strings.ToLower(sel.AttrOr(AttrRole, "")) {
	case "control":
		return RoleControl
	case "display":
		return RoleDisplay
	}
	if goquery.NodeName(sel) == "button" {
		return RoleControl
	}
	return RoleDisplay
}

// ScopeOf returns the stats scope a container node is tagged with.
func ScopeOf(n *html.Node) (store.StatsScope, bool) {
	sel := Select(n)

	switch sel.AttrOr(AttrStatsScope, "") {
	case scopeValueGlobal:
		return store.GlobalScope, true
	case scopeValueCollects:
		return collectionScope(sel.AttrOr(AttrCollectionID, ""))
	}

	id := sel.AttrOr("id", "")
	for _, prefix := range globalContainerPrefixes {
		if strings.HasPrefix(id, prefix) {
			return store.GlobalScope, true
		}
	}
	if strings.HasPrefix(id, collectionContainerPrefix) {
		if raw, ok := sel.Attr(AttrCollectionID); ok {
			return collectionScope(raw)
		}
		return collectionScope(strings.TrimPrefix(id, collectionContainerPrefix))
	}
	if sel.HasClass(mobileContainerClass) {
		return store.GlobalScope, true
	}

	return store.StatsScope{}, false
}

func collectionScope(raw string) (store.StatsScope, bool) {
	n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || n == 0 {
		return store.StatsScope{}, false
	}
	return store.CollectionScope(n), true
}

// IsContainer reports whether n carries a stats scope marker.
func IsContainer(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	_, ok := ScopeOf(n)
	return ok
}

// ContainerOf returns the nearest stats container enclosing n, excluding n.
func ContainerOf(n *html.Node) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if IsContainer(p) {
			return p
		}
	}
	return nil
}

// truncate shortens a string for logging.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
