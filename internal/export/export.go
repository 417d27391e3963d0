// Package export writes rendered documents to standalone HTML files.
package export

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/livetemplate/mdview"
)

// filenameLayout yields names like html-export-24-05-31-13-45-09.html.
// Two exports in the same second overwrite each other.
const filenameLayout = "06-01-02-15-04-05"

// Filename returns the export filename for t.
func Filename(t time.Time) string {
	return "html-export-" + t.Format(filenameLayout) + ".html"
}

// Exporter writes pages to disk.
type Exporter struct {
	// DefaultDir receives exports when no target is given. It is created
	// on first use.
	DefaultDir string
	// Now returns the time used for filenames.
	Now func() time.Time
}

// New creates an Exporter writing to defaultDir by default.
func New(defaultDir string) *Exporter {
	return &Exporter{DefaultDir: defaultDir, Now: time.Now}
}

// Target resolves where an export is written. An empty target means a
// timestamped file in DefaultDir, an existing directory gets a timestamped
// file inside it, and anything else is used as the file path.
func (e *Exporter) Target(target string) (string, error) {
	if target == "" {
		if err := os.MkdirAll(e.DefaultDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create export dir: %w", err)
		}
		return filepath.Join(e.DefaultDir, Filename(e.Now())), nil
	}

	if info, err := os.Stat(target); err == nil && info.IsDir() {
		return filepath.Join(target, Filename(e.Now())), nil
	}
	return target, nil
}

// Write renders page and saves it, returning the path written. An empty
// body still produces a page.
func (e *Exporter) Write(page mdview.Page, target string) (string, error) {
	path, err := e.Target(target)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, []byte(page.Render()), 0644); err != nil {
		return "", fmt.Errorf("failed to write export: %w", err)
	}
	return path, nil
}

// FileURL returns a file:// URL for a path on disk, so exported pages can
// reference stylesheets without a running server.
func FileURL(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	p = filepath.ToSlash(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return (&url.URL{Scheme: "file", Path: p}).String()
}
