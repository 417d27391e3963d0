package mdview

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// RoutePrefix is the query route internal document links are rewritten to.
const RoutePrefix = "/?path="

// schemeRe matches a URL scheme such as "https:" or "mailto:".
var schemeRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.\-]*:`)

// PostProcess parses an HTML fragment, applies the alert, task-list and link
// passes and serializes the result. baseDir is the slash-separated directory
// of the source document.
func PostProcess(fragment, baseDir string) string {
	root := parseFragment(fragment)
	doc := goquery.NewDocumentFromNode(root)

	// Alerts first: they depend on the blockquote's original paragraphs.
	synthesizeAlerts(doc.Selection)
	classTaskLists(doc.Selection)
	rewriteLinks(doc.Selection, baseDir)

	return renderChildren(root)
}

// parseFragment parses fragment in a <body> context and returns a detached
// <body> element holding the resulting nodes.
func parseFragment(fragment string) *html.Node {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}

	nodes, err := html.ParseFragment(strings.NewReader(fragment), body)
	if err != nil {
		// Only reader errors are reported, and a strings.Reader has none.
		panic(fmt.Errorf("%w: parse fragment: %v", ErrCompile, err))
	}
	for _, n := range nodes {
		body.AppendChild(n)
	}
	return body
}

func renderChildren(n *html.Node) string {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			panic(fmt.Errorf("%w: render fragment: %v", ErrCompile, err))
		}
	}
	return buf.String()
}

// classTaskLists adds the GitHub task-list classes that the GFM grammar
// leaves out.
func classTaskLists(s *goquery.Selection) {
	s.Find(`li input[type="checkbox"]`).Each(func(_ int, box *goquery.Selection) {
		box.AddClass("task-list-item-checkbox")

		item := box.Closest("li")
		item.AddClass("task-list-item")

		if list := item.Parent(); list.Is("ul, ol") {
			list.AddClass("contains-task-list")
		}
	})
}

// rewriteLinks points relative .md links at the viewer's document route.
func rewriteLinks(s *goquery.Selection, baseDir string) {
	s.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if target, ok := InternalLink(href, baseDir); ok {
			a.SetAttr("href", target)
		}
	})
}

// InternalLink reports whether href refers to another local markdown
// document and, if so, returns the viewer route for it. Hrefs that already
// use the route are left alone.
func InternalLink(href, baseDir string) (string, bool) {
	switch {
	case !strings.HasSuffix(href, ".md"):
		return "", false
	case strings.HasPrefix(href, RoutePrefix):
		return "", false
	case strings.HasPrefix(href, "//"), schemeRe.MatchString(href):
		return "", false
	}

	// The renderer percent-encodes hrefs; undo that before escaping for
	// the query string.
	target := href
	if unescaped, err := url.PathUnescape(href); err == nil {
		target = unescaped
	}
	if !strings.HasPrefix(target, "/") {
		if baseDir == "" {
			baseDir = "."
		}
		target = path.Join(baseDir, target)
	}

	escaped := strings.ReplaceAll(url.QueryEscape(target), "%2F", "/")
	return RoutePrefix + escaped, true
}
