package feedback

import (
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/florenceegi/livepage/internal/page"
	"github.com/florenceegi/livepage/internal/store"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DefaultNoticeDuration is how long a notice stays in the page.
const DefaultNoticeDuration = 3 * time.Second

// NoticeClass marks notice elements in the page.
const NoticeClass = "realtime-notice"

// Notifier raises a transient user-facing notice.
type Notifier interface {
	// Notify must be called inside Document.Do.
	Notify(doc *goquery.Document, kind, message string)
}

// Notices appends toast-like elements to the page body and removes them
// after a fixed duration. Every notice is also handed to the optional sink.
type Notices struct {
	doc      *page.Document
	clock    clockwork.Clock
	duration time.Duration
	sink     func(store.Notice)
}

// NewNotices creates a Notifier bound to a document. sink may be nil.
func NewNotices(doc *page.Document, clock clockwork.Clock, duration time.Duration, sink func(store.Notice)) *Notices {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if duration <= 0 {
		duration = DefaultNoticeDuration
	}
	return &Notices{
		doc:      doc,
		clock:    clock,
		duration: duration,
		sink:     sink,
	}
}

// Notify implements Notifier.
func (n *Notices) Notify(doc *goquery.Document, kind, message string) {
	notice := store.Notice{
		ID:        "realtime-notice-" + uuid.NewString(),
		Message:   message,
		Kind:      kind,
		CreatedAt: n.clock.Now(),
	}

	node := &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
		Attr: []html.Attribute{
			{Key: "id", Val: notice.ID},
			{Key: "class", Val: NoticeClass + " " + NoticeClass + "--" + kind},
			{Key: "role", Val: "status"},
			{Key: "data-notice-kind", Val: kind},
		},
	}
	node.AppendChild(&html.Node{Type: html.TextNode, Data: message})

	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	body.AppendNodes(node)

	n.clock.AfterFunc(n.duration, func() {
		n.doc.Do(func(*goquery.Document) {
			if node.Parent != nil {
				node.Parent.RemoveChild(node)
			}
		})
	})

	if n.sink != nil {
		n.sink(notice)
	}
}
