package mdview

import (
	"bytes"
	"fmt"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// StylesheetID is the id of the <link> element holding the active theme.
// The client script swaps its href when the theme changes.
const StylesheetID = "md-stylesheet"

// Page describes a complete HTML document wrapped around a rendered fragment.
type Page struct {
	Title       string
	Theme       string   // href of the theme stylesheet, may be empty
	Stylesheets []string // additional stylesheets, e.g. highlighting
	Styles      []string // inline <style> contents
	Scripts     []string // deferred scripts
	Body        string   // rendered HTML fragment
}

// Render serializes the page as a standalone HTML5 document.
func (p Page) Render() string {
	doc := &html.Node{Type: html.DocumentNode}
	doc.AppendChild(&html.Node{Type: html.DoctypeNode, Data: "html"})

	root := newElement(atom.Html)
	doc.AppendChild(root)

	head := newElement(atom.Head)
	root.AppendChild(head)
	head.AppendChild(newElement(atom.Meta, html.Attribute{Key: "charset", Val: "utf-8"}))

	title := newElement(atom.Title)
	title.AppendChild(&html.Node{Type: html.TextNode, Data: p.Title})
	head.AppendChild(title)

	if p.Theme != "" {
		head.AppendChild(newElement(atom.Link,
			html.Attribute{Key: "id", Val: StylesheetID},
			html.Attribute{Key: "rel", Val: "stylesheet"},
			html.Attribute{Key: "href", Val: p.Theme},
		))
	}
	for _, href := range p.Stylesheets {
		head.AppendChild(newElement(atom.Link,
			html.Attribute{Key: "rel", Val: "stylesheet"},
			html.Attribute{Key: "href", Val: href},
		))
	}
	for _, css := range p.Styles {
		style := newElement(atom.Style)
		style.AppendChild(&html.Node{Type: html.TextNode, Data: css})
		head.AppendChild(style)
	}
	for _, src := range p.Scripts {
		head.AppendChild(newElement(atom.Script,
			html.Attribute{Key: "src", Val: src},
			html.Attribute{Key: "defer", Val: ""},
		))
	}

	body := parseFragment(p.Body)
	body.Attr = []html.Attribute{
		{Key: "class", Val: "markdown-body"},
		{Key: "id", Val: "body"},
	}
	root.AppendChild(body)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		panic(fmt.Errorf("%w: render page: %v", ErrCompile, err))
	}
	return buf.String()
}

func newElement(a atom.Atom, attrs ...html.Attribute) *html.Node {
	return &html.Node{Type: html.ElementNode, Data: a.String(), DataAtom: a, Attr: attrs}
}
