package mdview

import (
	"bytes"
	"fmt"
	"path"
	"path/filepath"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

// DefaultHighlightStyle is the chroma style used when none is configured.
const DefaultHighlightStyle = "github"

// Options configures a Converter. It is fixed at construction time.
type Options struct {
	// Highlight enables server-side syntax highlighting of fenced code blocks.
	Highlight bool
	// HighlightStyle names the chroma style used for HighlightCSS.
	HighlightStyle string
}

// Converter turns markdown into post-processed HTML fragments.
// A Converter is safe for concurrent use.
type Converter struct {
	md   goldmark.Markdown
	opts Options
}

// NewConverter creates a Converter using GitHub Flavored Markdown with raw
// HTML passthrough.
func NewConverter(opts Options) *Converter {
	if opts.HighlightStyle == "" {
		opts.HighlightStyle = DefaultHighlightStyle
	}

	extensions := []goldmark.Extender{
		extension.GFM, // Tables, strikethrough, autolinks, task lists
	}
	if opts.Highlight {
		extensions = append(extensions, highlighting.NewHighlighting(
			highlighting.WithStyle(opts.HighlightStyle),
			highlighting.WithFormatOptions(
				chromahtml.WithClasses(true), // Styled by /assets/highlight.css
			),
		))
	}

	md := goldmark.New(
		goldmark.WithExtensions(extensions...),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithUnsafe(), // Raw HTML blocks and inline tags pass through
		),
	)

	return &Converter{md: md, opts: opts}
}

// Compile converts markdown to an HTML fragment without post-processing.
func (c *Converter) Compile(src []byte) string {
	var buf bytes.Buffer
	if err := c.md.Convert(src, &buf); err != nil {
		panic(fmt.Errorf("%w: %v", ErrCompile, err))
	}
	return buf.String()
}

// Render compiles src and runs the post-processing passes. docPath is the
// path of the document being rendered; relative .md links are resolved
// against its directory.
func (c *Converter) Render(src []byte, docPath string) string {
	return PostProcess(c.Compile(src), path.Dir(filepath.ToSlash(docPath)))
}

// HighlightCSS returns the stylesheet matching the classes emitted for
// highlighted code blocks.
func (c *Converter) HighlightCSS() (string, error) {
	formatter := chromahtml.New(chromahtml.WithClasses(true))

	var buf bytes.Buffer
	if err := formatter.WriteCSS(&buf, styles.Get(c.opts.HighlightStyle)); err != nil {
		return "", fmt.Errorf("failed to generate highlight css: %w", err)
	}
	return buf.String(), nil
}

// HighlightEnabled reports whether fenced code is highlighted server-side.
func (c *Converter) HighlightEnabled() bool {
	return c.opts.Highlight
}
