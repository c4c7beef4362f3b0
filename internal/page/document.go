// Package page holds the live page document and locates the elements the
// reconcilers update.
package page

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Document is the in-memory page. All reads and writes go through Do, which
// serialises access the way a browser main thread would.
type Document struct {
	mu       sync.Mutex
	doc      *goquery.Document
	url      *url.URL
	registry *Registry
}

// Parse reads a server-rendered page and builds its registry.
func Parse(r io.Reader, pageURL string) (*Document, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page url: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	d := &Document{
		doc:      doc,
		url:      u,
		registry: NewRegistry(),
	}
	d.registry.Refresh(doc)
	return d, nil
}

// ParseString is Parse for an in-memory page.
func ParseString(s, pageURL string) (*Document, error) {
	return Parse(strings.NewReader(s), pageURL)
}

// Do runs fn with exclusive access to the document.
func (d *Document) Do(fn func(doc *goquery.Document)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.doc)
}

// Registry returns the element registry built from the current document.
func (d *Document) Registry() *Registry {
	return d.registry
}

// Path returns the URL path of the page.
func (d *Document) Path() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url.Path
}

// URL returns the page URL.
func (d *Document) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url.String()
}

// Replace swaps in a freshly loaded page and refreshes the registry.
func (d *Document) Replace(r io.Reader) error {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return fmt.Errorf("failed to parse page: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.doc = doc
	d.registry.Refresh(doc)
	return nil
}

// HTML renders the current document.
func (d *Document) HTML() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Html()
}

// Select wraps a node for goquery traversal. Parent links are preserved, so
// Closest and Parent still reach the rest of the document.
func Select(n *html.Node) *goquery.Selection {
	return goquery.NewDocumentFromNode(n).Selection
}

// Text returns the trimmed text content of a node.
func Text(n *html.Node) string {
	return strings.TrimSpace(Select(n).Text())
}

// OuterHTML renders a single node.
func OuterHTML(n *html.Node) string {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return ""
	}
	return buf.String()
}
