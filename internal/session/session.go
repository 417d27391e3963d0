// Package session holds the per-connection state of a live viewing session:
// the bound document, its last rendering and the theme cursor.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/livetemplate/mdview"
	"github.com/livetemplate/mdview/internal/export"
	"github.com/livetemplate/mdview/internal/logging"
	"github.com/livetemplate/mdview/internal/theme"
)

// ErrNoRedirectTarget is returned by Redirect when no path is given.
var ErrNoRedirectTarget = errors.New("invalid redirect link, no body")

// State is the lifecycle state of a session.
type State int

const (
	Connecting State = iota
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options configures a new Session.
type Options struct {
	Root      string // Directory relative document paths resolve against
	DocPath   string // Document bound at creation, restored by RedirectToDefault
	Theme     string // Initial theme identifier; falls back to the first theme
	Converter *mdview.Converter
	Themes    *theme.Registry
	Exporter  *export.Exporter
}

// Session is the state of one viewing connection. It is not safe for
// concurrent use; the connection's event loop owns it.
type Session struct {
	id          string
	root        string
	defaultPath string
	state       State
	cursor      int
	doc         *mdview.Document

	converter *mdview.Converter
	themes    *theme.Registry
	exporter  *export.Exporter
	log       zerolog.Logger
}

// New creates a session bound to opts.DocPath. If the document cannot be
// loaded yet the session starts empty and picks it up on a later Poll.
func New(opts Options) *Session {
	id := uuid.NewString()
	s := &Session{
		id:          id,
		root:        opts.Root,
		defaultPath: opts.DocPath,
		state:       Connecting,
		converter:   opts.Converter,
		themes:      opts.Themes,
		exporter:    opts.Exporter,
		log:         logging.For("session").With().Str("session", id).Logger(),
	}

	if i := s.themes.IndexOf(opts.Theme); i >= 0 {
		s.cursor = i
	}

	doc, err := s.converter.LoadDocument(s.root, opts.DocPath)
	if err != nil {
		s.log.Debug().Err(err).Str("path", opts.DocPath).Msg("initial load failed")
		doc = &mdview.Document{Path: opts.DocPath}
	}
	s.doc = doc
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// State returns the lifecycle state.
func (s *Session) State() State { return s.state }

// Activate moves a connecting session to Active. It has no effect on a
// closed session.
func (s *Session) Activate() {
	if s.state == Connecting {
		s.state = Active
	}
}

// Close moves the session to its terminal state.
func (s *Session) Close() {
	s.state = Closed
}

// Path returns the path of the bound document.
func (s *Session) Path() string { return s.doc.Path }

// HTML returns the most recent rendering of the bound document.
func (s *Session) HTML() string { return s.doc.HTML }

// Poll re-renders the bound document when its modification time differs
// from the one last observed. It reports whether the HTML changed.
func (s *Session) Poll() (string, bool, error) {
	info, err := os.Stat(mdview.ResolvePath(s.root, s.doc.Path))
	if err != nil {
		return "", false, err
	}
	if info.ModTime().Equal(s.doc.LastModified) {
		return "", false, nil
	}

	doc, err := s.converter.LoadDocument(s.root, s.doc.Path)
	if err != nil {
		return "", false, err
	}
	s.doc = doc
	return doc.HTML, true, nil
}

// Redirect binds the session to another document and returns its HTML.
// The document is read unconditionally. If it cannot be loaded the
// previous binding is kept. Only the creation document may live outside
// the root.
func (s *Session) Redirect(docPath string) (string, error) {
	if docPath == "" {
		return "", ErrNoRedirectTarget
	}
	if docPath != s.defaultPath && !mdview.WithinRoot(s.root, docPath) {
		return "", fmt.Errorf("%w: %s", mdview.ErrOutsideRoot, docPath)
	}

	doc, err := s.converter.LoadDocument(s.root, docPath)
	if err != nil {
		return "", err
	}
	s.doc = doc
	return doc.HTML, nil
}

// RedirectToDefault rebinds the document the session was created with.
func (s *Session) RedirectToDefault() (string, error) {
	return s.Redirect(s.defaultPath)
}

// NextTheme advances the cursor, wrapping to the first theme.
func (s *Session) NextTheme() (string, error) {
	themes := s.themes.Snapshot()
	if len(themes) == 0 {
		return "", theme.ErrNoThemes
	}
	s.cursor = (s.cursor%len(themes) + 1) % len(themes)
	return themes[s.cursor], nil
}

// PreviousTheme moves the cursor back, wrapping from the first theme to
// the last.
func (s *Session) PreviousTheme() (string, error) {
	themes := s.themes.Snapshot()
	if len(themes) == 0 {
		return "", theme.ErrNoThemes
	}
	c := s.cursor % len(themes)
	if c == 0 {
		c = len(themes)
	}
	s.cursor = c - 1
	return themes[s.cursor], nil
}

// CurrentTheme returns the theme under the cursor.
func (s *Session) CurrentTheme() (string, error) {
	themes := s.themes.Snapshot()
	if len(themes) == 0 {
		return "", theme.ErrNoThemes
	}
	return themes[s.cursor%len(themes)], nil
}

// Export writes the last rendering as a standalone page linking the current
// theme. target may be empty, a directory or a file path.
func (s *Session) Export(target string) (string, error) {
	page := mdview.Page{
		Title: filepath.Base(s.doc.Path),
		Body:  s.doc.HTML,
	}

	if id, err := s.CurrentTheme(); err == nil {
		if p, err := s.themes.Path(id); err == nil {
			page.Theme = export.FileURL(p)
		}
	}

	if s.converter.HighlightEnabled() {
		if css, err := s.converter.HighlightCSS(); err == nil {
			page.Styles = append(page.Styles, css)
		}
	}

	path, err := s.exporter.Write(page, target)
	if err != nil {
		return "", err
	}
	s.log.Info().Str("file", path).Msg("exported html")
	return path, nil
}
