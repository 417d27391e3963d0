package mdview

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// AlertKind is the type of a GitHub-style alert block.
type AlertKind string

const (
	AlertNote      AlertKind = "note"
	AlertTip       AlertKind = "tip"
	AlertImportant AlertKind = "important"
	AlertWarning   AlertKind = "warning"
	AlertCaution   AlertKind = "caution"
)

var alertMarkerRe = regexp.MustCompile(`(?i)^\[!(note|tip|important|warning|caution)\]$`)

// Octicon path data for each alert icon.
var alertIcons = map[AlertKind]struct{ name, path string }{
	AlertNote: {
		name: "info",
		path: "M0 8a8 8 0 1 1 16 0A8 8 0 0 1 0 8Zm8-6.5a6.5 6.5 0 1 0 0 13 6.5 6.5 0 0 0 0-13ZM6.5 7.75A.75.75 0 0 1 7.25 7h1a.75.75 0 0 1 .75.75v2.75h.25a.75.75 0 0 1 0 1.5h-2a.75.75 0 0 1 0-1.5h.25v-2h-.25a.75.75 0 0 1-.75-.75ZM8 6a1 1 0 1 1 0-2 1 1 0 0 1 0 2Z",
	},
	AlertTip: {
		name: "light-bulb",
		path: "M8 1.5c-2.363 0-4 1.69-4 3.75 0 .984.424 1.625.984 2.304l.214.253c.223.264.47.556.673.848.284.411.537.896.621 1.49a.75.75 0 0 1-1.484.211c-.04-.282-.163-.547-.37-.847a8.456 8.456 0 0 0-.542-.68c-.084-.1-.173-.205-.268-.32C3.201 7.75 2.5 6.766 2.5 5.25 2.5 2.31 4.863 0 8 0s5.5 2.31 5.5 5.25c0 1.516-.701 2.5-1.328 3.259-.095.115-.184.22-.268.319-.207.245-.383.453-.541.681-.208.3-.33.565-.37.847a.751.751 0 0 1-1.485-.212c.084-.593.337-1.078.621-1.489.203-.292.45-.584.673-.848.075-.088.147-.173.213-.253.561-.679.985-1.32.985-2.304 0-2.06-1.637-3.75-4-3.75ZM5.75 12h4.5a.75.75 0 0 1 0 1.5h-4.5a.75.75 0 0 1 0-1.5ZM6 15.25a.75.75 0 0 1 .75-.75h2.5a.75.75 0 0 1 0 1.5h-2.5a.75.75 0 0 1-.75-.75Z",
	},
	AlertImportant: {
		name: "report",
		path: "M0 1.75C0 .784.784 0 1.75 0h12.5C15.216 0 16 .784 16 1.75v9.5A1.75 1.75 0 0 1 14.25 13H8.06l-2.573 2.573A1.458 1.458 0 0 1 3 14.543V13H1.75A1.75 1.75 0 0 1 0 11.25Zm1.75-.25a.25.25 0 0 0-.25.25v9.5c0 .138.112.25.25.25h2a.75.75 0 0 1 .75.75v2.19l2.72-2.72a.749.749 0 0 1 .53-.22h6.5a.25.25 0 0 0 .25-.25v-9.5a.25.25 0 0 0-.25-.25Zm7 2.25v2.5a.75.75 0 0 1-1.5 0v-2.5a.75.75 0 0 1 1.5 0ZM9 9a1 1 0 1 1-2 0 1 1 0 0 1 2 0Z",
	},
	AlertWarning: {
		name: "alert",
		path: "M6.457 1.047c.659-1.234 2.427-1.234 3.086 0l6.082 11.378A1.75 1.75 0 0 1 14.082 15H1.918a1.75 1.75 0 0 1-1.543-2.575Zm1.763.707a.25.25 0 0 0-.44 0L1.698 13.132a.25.25 0 0 0 .22.368h12.164a.25.25 0 0 0 .22-.368Zm.53 3.996v2.5a.75.75 0 0 1-1.5 0v-2.5a.75.75 0 0 1 1.5 0ZM9 11a1 1 0 1 1-2 0 1 1 0 0 1 2 0Z",
	},
	AlertCaution: {
		name: "stop",
		path: "M4.47.22A.749.749 0 0 1 5 0h6c.199 0 .389.079.53.22l4.25 4.25c.141.14.22.331.22.53v6a.749.749 0 0 1-.22.53l-4.25 4.25A.749.749 0 0 1 11 16H5a.749.749 0 0 1-.53-.22L.22 11.53A.749.749 0 0 1 0 11V5c0-.199.079-.389.22-.53Zm.84 1.28L1.5 5.31v5.38l3.81 3.81h5.38l3.81-3.81V5.31L10.69 1.5ZM8 4a.75.75 0 0 1 .75.75v3.5a.75.75 0 0 1-1.5 0v-3.5A.75.75 0 0 1 8 4Zm0 8a1 1 0 1 1 0-2 1 1 0 0 1 0 2Z",
	},
}

// Title returns the capitalized kind name shown in the alert header.
func (k AlertKind) Title() string {
	if k == "" {
		return ""
	}
	return strings.ToUpper(string(k[:1])) + string(k[1:])
}

// synthesizeAlerts replaces marked blockquotes with GitHub alert containers.
func synthesizeAlerts(s *goquery.Selection) {
	s.Find("blockquote").Each(func(_ int, bq *goquery.Selection) {
		m, ok := matchAlert(bq.Get(0))
		if !ok {
			return
		}
		bq.ReplaceWithNodes(buildAlert(m))
	})
}

// alertMatch records where the marker line ends inside the first paragraph.
type alertMatch struct {
	kind      AlertKind
	para      *html.Node // First paragraph of the blockquote
	remainder string     // Text after the marker's newline
	next      *html.Node // First node after the marker line, nil if none
}

// matchAlert checks the first line of the blockquote's first paragraph.
// The line ends at the first newline of the leading text node or at a <br>.
// Any other inline node on the marker line disqualifies the block.
func matchAlert(quote *html.Node) (alertMatch, bool) {
	para := firstElementChild(quote)
	if para == nil || para.DataAtom != atom.P {
		return alertMatch{}, false
	}

	text := para.FirstChild
	if text == nil || text.Type != html.TextNode {
		return alertMatch{}, false
	}

	line, remainder, found := strings.Cut(text.Data, "\n")
	next := text.NextSibling
	if !found && next != nil {
		if next.Type != html.ElementNode || next.DataAtom != atom.Br {
			return alertMatch{}, false
		}
		next = next.NextSibling
	}

	sub := alertMarkerRe.FindStringSubmatch(strings.TrimSpace(line))
	if sub == nil {
		return alertMatch{}, false
	}

	return alertMatch{
		kind:      AlertKind(strings.ToLower(sub[1])),
		para:      para,
		remainder: remainder,
		next:      next,
	}, true
}

// buildAlert moves the blockquote's content into a new alert container.
func buildAlert(m alertMatch) *html.Node {
	div := newElement(atom.Div, classAttr("markdown-alert markdown-alert-"+string(m.kind)))
	div.AppendChild(alertTitle(m.kind))

	rest := newElement(atom.P)
	if m.remainder != "" {
		rest.AppendChild(&html.Node{Type: html.TextNode, Data: m.remainder})
	}
	moveSiblings(m.next, rest)
	if !blank(rest) {
		div.AppendChild(rest)
	}

	moveSiblings(m.para.NextSibling, div)
	return div
}

func alertTitle(kind AlertKind) *html.Node {
	icon := alertIcons[kind]

	svg := &html.Node{
		Type:      html.ElementNode,
		Data:      "svg",
		Namespace: "svg",
		Attr: []html.Attribute{
			{Key: "class", Val: "octicon octicon-" + icon.name + " mr-2"},
			{Key: "viewBox", Val: "0 0 16 16"},
			{Key: "version", Val: "1.1"},
			{Key: "width", Val: "16"},
			{Key: "height", Val: "16"},
			{Key: "aria-hidden", Val: "true"},
		},
	}
	svg.AppendChild(&html.Node{
		Type:      html.ElementNode,
		Data:      "path",
		Namespace: "svg",
		Attr:      []html.Attribute{{Key: "d", Val: icon.path}},
	})

	title := newElement(atom.P, classAttr("markdown-alert-title"))
	title.AppendChild(svg)
	title.AppendChild(&html.Node{Type: html.TextNode, Data: kind.Title()})
	return title
}

func classAttr(v string) html.Attribute {
	return html.Attribute{Key: "class", Val: v}
}

// moveSiblings reparents from and every sibling after it under dst.
func moveSiblings(from, dst *html.Node) {
	for n := from; n != nil; {
		next := n.NextSibling
		n.Parent.RemoveChild(n)
		dst.AppendChild(n)
		n = next
	}
}

func firstElementChild(n *html.Node) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

// blank reports whether n has no elements and only whitespace text.
func blank(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.TextNode || strings.TrimSpace(c.Data) != "" {
			return false
		}
	}
	return true
}
