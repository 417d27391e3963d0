// Package server serves the cold-start page and runs one live session per
// WebSocket connection.
package server

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/livetemplate/mdview"
	"github.com/livetemplate/mdview/internal/assets"
	"github.com/livetemplate/mdview/internal/config"
	"github.com/livetemplate/mdview/internal/export"
	"github.com/livetemplate/mdview/internal/logging"
	"github.com/livetemplate/mdview/internal/session"
	"github.com/livetemplate/mdview/internal/theme"
)

const (
	clientScriptPath = "/assets/mdview.js"
	highlightCSSPath = "/assets/highlight.css"
)

// Server is the mdview HTTP server.
type Server struct {
	root       string
	defaultDoc string
	cfg        *config.Config
	themes     *theme.Registry
	converter  *mdview.Converter
	exporter   *export.Exporter

	highlightCSS string
	router       chi.Router
	log          zerolog.Logger

	ctx         context.Context
	cancel      context.CancelFunc
	limiterDone <-chan struct{}

	mu       sync.RWMutex
	closed   bool
	sessions map[string]*session.Session
	wg       sync.WaitGroup
}

// New creates a server for documents under root. defaultDoc is served
// when a request names no document.
func New(root, defaultDoc string, cfg *config.Config, themes *theme.Registry) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		root:       root,
		defaultDoc: defaultDoc,
		cfg:        cfg,
		themes:     themes,
		converter: mdview.NewConverter(mdview.Options{
			Highlight:      cfg.Render.IsHighlightEnabled(),
			HighlightStyle: cfg.Render.GetHighlightStyle(),
		}),
		exporter: export.New(cfg.Export.GetDir()),
		log:      logging.For("server"),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session.Session),
	}

	if s.converter.HighlightEnabled() {
		css, err := s.converter.HighlightCSS()
		if err != nil {
			s.log.Warn().Err(err).Msg("highlight stylesheet unavailable")
		}
		s.highlightCSS = css
	}

	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeadersMiddleware())
	r.Use(s.accessLog)

	// Established sockets are long-lived and exempt from rate limiting.
	r.Get("/ws", s.serveWebSocket)

	limit, done := RateLimitMiddleware(s.ctx,
		s.cfg.Server.GetRateLimitRPS(), s.cfg.Server.GetRateLimitBurst(), 0)
	s.limiterDone = done

	r.Group(func(r chi.Router) {
		r.Use(limit)
		r.Use(compressionMiddleware)

		r.Get("/", s.serveIndex)
		r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = io.WriteString(w, "ok")
		})
		r.Get("/assets/*", s.serveAsset)
		r.Get(theme.URLPrefix+"*", s.serveTheme)
		r.Handle("/*", http.FileServer(http.Dir(s.root)))
	})

	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Msg("request")
	})
}

// initialTheme picks the theme a new page or session starts with: the
// requested one if known (identifier or bare filename), else the configured
// default, else the first theme.
func (s *Server) initialTheme(requested string) string {
	for _, candidate := range []string{requested, s.cfg.Themes.Default} {
		if candidate == "" {
			continue
		}
		if s.themes.IndexOf(candidate) >= 0 {
			return candidate
		}
		if id := theme.ID(candidate); s.themes.IndexOf(id) >= 0 {
			return id
		}
	}
	first, err := s.themes.At(0)
	if err != nil {
		return ""
	}
	return first
}

func (s *Server) newSession(docPath, themeID string) *session.Session {
	return session.New(session.Options{
		Root:      s.root,
		DocPath:   docPath,
		Theme:     themeID,
		Converter: s.converter,
		Themes:    s.themes,
		Exporter:  s.exporter,
	})
}

// documentAllowed reports whether a client may view docPath: anything
// under the root, plus the document the server was started with.
func (s *Server) documentAllowed(docPath string) bool {
	return docPath == s.defaultDoc || mdview.WithinRoot(s.root, docPath)
}

// serveIndex renders the full page for a cold start.
func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	docPath := r.URL.Query().Get("path")
	if docPath == "" {
		docPath = s.defaultDoc
	}

	if !s.documentAllowed(docPath) {
		s.log.Warn().Str("path", docPath).Msg("refused document outside root")
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}

	doc, err := s.converter.LoadDocument(s.root, docPath)
	if err != nil {
		s.log.Debug().Err(err).Str("path", docPath).Msg("cold start failed")
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}

	page := mdview.Page{
		Title:   filepath.Base(doc.Path),
		Theme:   s.initialTheme(r.URL.Query().Get("css")),
		Scripts: []string{clientScriptPath},
		Body:    doc.HTML,
	}
	if s.highlightCSS != "" {
		page.Stylesheets = append(page.Stylesheets, highlightCSSPath)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = io.WriteString(w, page.Render())
}

func (s *Server) serveAsset(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case clientScriptPath:
		js, err := assets.GetClientJS()
		if err != nil {
			http.Error(w, "asset not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/javascript")
		_, _ = w.Write(js)
	case highlightCSSPath:
		if s.highlightCSS == "" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		_, _ = io.WriteString(w, s.highlightCSS)
	default:
		http.NotFound(w, r)
	}
}

// serveTheme serves a stylesheet from the registry. Only identifiers in
// the current set resolve, so paths cannot escape the theme directory.
func (s *Server) serveTheme(w http.ResponseWriter, r *http.Request) {
	p, err := s.themes.Path(r.URL.Path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, p)
}

// acquire tracks a connection for Close. It fails once the server is closing.
func (s *Server) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) register(sess *session.Session) {
	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	n := len(s.sessions)
	s.mu.Unlock()
	s.log.Debug().Str("session", sess.ID()).Int("sessions", n).Msg("session registered")
}

func (s *Server) unregister(sess *session.Session) {
	s.mu.Lock()
	delete(s.sessions, sess.ID())
	n := len(s.sessions)
	s.mu.Unlock()
	s.log.Debug().Str("session", sess.ID()).Int("sessions", n).Msg("session unregistered")
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close ends every session and waits for their loops to exit. The theme
// registry is owned by the caller and left open.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	<-s.limiterDone
}
