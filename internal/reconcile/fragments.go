package reconcile

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"unicode"

	"github.com/florenceegi/livepage/internal/format"
	"github.com/florenceegi/livepage/internal/store"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const fragmentTemplates = `
{{define "avatar"}}{{if .AvatarURL}}<img src="{{.AvatarURL}}" alt="{{.Name}}" class="object-cover w-4 h-4 border rounded-full shadow-sm border-green-400/30 activator-avatar">{{else}}<span class="flex items-center justify-center w-4 h-4 text-white rounded-full activator-avatar activator-initials {{if .Privileged}}bg-green-500{{else}}bg-gray-600{{end}}">{{.Initials}}</span>{{end}}{{end}}

{{define "activated"}}<div class="flex items-center gap-2 mb-1 text-sm" data-activation-status="activated">{{template "avatar" .}}<span class="font-semibold text-green-300 truncate" data-activator-name="">{{.Name}}</span><span class="text-xs text-gray-400" data-role-badge="">({{.RoleLabel}})</span></div>{{end}}

{{define "activator-section"}}<div class="flex items-center gap-2 pt-2 border-t border-green-500/20" data-activator-section="true">{{template "avatar" .}}<span class="text-xs text-green-200 truncate">{{.RoleLabel}}: <span class="font-semibold" data-activator-name="">{{.Name}}</span></span></div>{{end}}

{{define "counter"}}<div class="flex items-center gap-2 p-2 mb-2 border rounded-lg border-gray-700/50 bg-gray-800/50" data-reservation-count="true"><div class="flex-1 min-w-0"><span class="text-xs font-medium text-gray-300">{{.Label}}</span></div></div>{{end}}

{{define "outbid-button"}}<span class="mr-2 button-icon" aria-hidden="true">&#8599;</span>{{.Label}}{{end}}
`

// fragments renders the markup the structure reconciler inserts. Every
// fragment goes through html/template escaping and a bluemonday allow-list
// before it is parsed into nodes.
type fragments struct {
	tmpl      *template.Template
	policy    *bluemonday.Policy
	formatter *format.Formatter
}

func newFragments(f *format.Formatter) *fragments {
	policy := bluemonday.NewPolicy()
	policy.AllowElements("div", "span", "img")
	policy.AllowAttrs("class", "aria-hidden").Globally()
	policy.AllowDataAttributes()
	policy.AllowAttrs("src", "alt").OnElements("img")
	policy.AllowURLSchemes("http", "https")
	policy.AllowRelativeURLs(true)

	return &fragments{
		tmpl:      template.Must(template.New("fragments").Parse(fragmentTemplates)),
		policy:    policy,
		formatter: f,
	}
}

type activatorView struct {
	Name       string
	AvatarURL  string
	Initials   string
	Privileged bool
	RoleLabel  string
}

func (f *fragments) activatorView(a *store.Activator) activatorView {
	return activatorView{
		Name:       a.Name,
		AvatarURL:  a.AvatarURL,
		Initials:   initials(a.Name),
		Privileged: a.IsPrivilegedRole,
		RoleLabel:  f.formatter.Label(format.LabelActivator),
	}
}

// Activated renders the subsection that replaces a "not yet activated"
// placeholder.
func (f *fragments) Activated(a *store.Activator) ([]*html.Node, error) {
	return f.render("activated", f.activatorView(a))
}

// ActivatorSection renders the activator row appended to a price section.
func (f *fragments) ActivatorSection(a *store.Activator) ([]*html.Node, error) {
	return f.render("activator-section", f.activatorView(a))
}

// Counter renders a reservation counter subsection.
func (f *fragments) Counter(n int) ([]*html.Node, error) {
	return f.render("counter", struct{ Label string }{f.formatter.Reservations(n)})
}

// OutbidButton renders the inner content of an outbid reserve button.
func (f *fragments) OutbidButton() ([]*html.Node, error) {
	return f.render("outbid-button", struct{ Label string }{f.formatter.Label(format.LabelOutbid)})
}

func (f *fragments) render(name string, data any) ([]*html.Node, error) {
	var buf bytes.Buffer
	if err := f.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", name, err)
	}

	clean := f.policy.SanitizeReader(&buf)

	nodes, err := html.ParseFragment(clean, &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nodes, nil
}

// initials returns up to two uppercase initials of a display name.
func initials(name string) string {
	var out []rune
	for _, word := range strings.Fields(name) {
		for _, r := range word {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				out = append(out, unicode.ToUpper(r))
				break
			}
		}
		if len(out) == 2 {
			break
		}
	}
	if len(out) == 0 {
		return "?"
	}
	return string(out)
}
