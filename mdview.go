// Package mdview renders markdown documents to GitHub-styled HTML fragments
// and standalone pages for live viewing in a browser.
package mdview

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Document is a markdown file together with its most recent rendering.
type Document struct {
	Path         string // As requested: relative to the server root, or absolute
	LastModified time.Time
	Raw          []byte
	HTML         string
}

// ResolvePath maps a requested document path onto the filesystem.
// Absolute paths are used as-is, anything else is taken relative to root.
func ResolvePath(root, docPath string) string {
	p := filepath.FromSlash(docPath)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, p)
}

// WithinRoot reports whether docPath resolves to root or a location below
// it. Symlinks are not followed.
func WithinRoot(root, docPath string) bool {
	base, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	target, err := filepath.Abs(ResolvePath(root, docPath))
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// LoadDocument reads, compiles and post-processes the document at docPath.
func (c *Converter) LoadDocument(root, docPath string) (*Document, error) {
	if docPath == "" {
		return nil, ErrEmptyPath
	}

	file := ResolvePath(root, docPath)
	info, err := os.Stat(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDocumentNotFound, docPath, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrDocumentNotFound, docPath)
	}

	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", docPath, err)
	}

	return &Document{
		Path:         docPath,
		LastModified: info.ModTime(),
		Raw:          raw,
		HTML:         c.Render(raw, docPath),
	}, nil
}
