package page

// Viewport decides whether an element is currently on screen.
type Viewport interface {
	Visible(el *Element) bool
}

// ViewportFunc adapts a function to Viewport.
type ViewportFunc func(el *Element) bool

// Visible implements Viewport.
func (f ViewportFunc) Visible(el *Element) bool {
	return f(el)
}

// AlwaysVisible treats every element as on screen. Headless clients have no
// scroll position, so this is the default.
type AlwaysVisible struct{}

// Visible implements Viewport.
func (AlwaysVisible) Visible(*Element) bool {
	return true
}
