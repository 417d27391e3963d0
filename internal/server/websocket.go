package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/livetemplate/mdview/internal/logging"
	"github.com/livetemplate/mdview/internal/session"
)

const writeTimeout = 10 * time.Second

// Sessions read and write local files, so only pages served by this
// server may open one. Non-browser clients send no Origin and are allowed.
var upgrader = websocket.Upgrader{
	CheckOrigin: sameOrigin,
}

func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if !strings.EqualFold(u.Host, r.Host) {
		log := logging.For("ws")
		log.Warn().Str("origin", origin).Str("host", r.Host).Msg("rejected cross-origin session")
		return false
	}
	return true
}

// serveWebSocket runs one live viewing session. The session is created and
// subscribed to theme changes before the upgrade so no change made after
// the client dials is missed.
func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.acquire() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()

	if !sameOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	docPath := r.URL.Query().Get("path")
	if docPath == "" {
		docPath = s.defaultDoc
	}
	if !s.documentAllowed(docPath) {
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}

	sess := s.newSession(docPath, s.initialTheme(r.URL.Query().Get("css")))
	log := logging.For("ws").With().Str("session", sess.ID()).Logger()

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	changes, err := s.themes.Subscribe(ctx)
	if err != nil {
		log.Error().Err(err).Msg("theme subscription failed")
		http.Error(w, "theme subscription failed", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("failed to upgrade connection")
		return
	}
	defer conn.Close()

	sess.Activate()
	s.register(sess)
	defer func() {
		sess.Close()
		s.unregister(sess)
	}()

	log.Info().Str("path", sess.Path()).Str("remote", conn.RemoteAddr().String()).Msg("client connected")
	s.runSession(ctx, conn, sess, changes, log)
	log.Info().Msg("client disconnected")
}

// readFrames forwards text frames from conn until it fails.
func readFrames(ctx context.Context, conn *websocket.Conn, frames chan<- []byte, errs chan<- error, log zerolog.Logger) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			errs <- err
			return
		}
		if kind != websocket.TextMessage {
			log.Debug().Int("kind", kind).Msg("ignoring non-text frame")
			continue
		}
		select {
		case frames <- data:
		case <-ctx.Done():
			return
		}
	}
}

// runSession is the per-connection event loop. It owns sess; every other
// goroutine talks to it through channels.
func (s *Server) runSession(ctx context.Context, conn *websocket.Conn, sess *session.Session, changes <-chan *message.Message, log zerolog.Logger) {
	frames := make(chan []byte)
	readErr := make(chan error, 1)
	go readFrames(ctx, conn, frames, readErr, log)

	ticker := time.NewTicker(s.cfg.Document.GetPollInterval())
	defer ticker.Stop()

	for {
		var out *ServerMessage

		select {
		case <-ctx.Done():
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
			return

		case err := <-readErr:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Warn().Err(err).Msg("unexpected close")
			}
			return

		case change, ok := <-changes:
			if !ok {
				return
			}
			change.Ack()
			out = &ServerMessage{Type: MsgCssUpdate}

		case <-ticker.C:
			html, changed, err := sess.Poll()
			if err != nil {
				log.Debug().Err(err).Str("path", sess.Path()).Msg("poll failed")
				continue
			}
			if !changed {
				continue
			}
			out = &ServerMessage{Type: MsgHtmlUpdate, Body: html}

		case data := <-frames:
			cmd, err := ParseCommand(data)
			if err != nil {
				log.Warn().Err(err).Msg("ignoring malformed message")
				continue
			}
			reply := s.dispatch(sess, cmd, log)
			out = &reply
		}

		if err := send(conn, *out); err != nil {
			log.Debug().Err(err).Msg("send failed")
			return
		}
	}
}

// dispatch applies cmd to sess and returns the single reply.
func (s *Server) dispatch(sess *session.Session, cmd Command, log zerolog.Logger) ServerMessage {
	switch c := cmd.(type) {
	case NextTheme:
		id, err := sess.NextTheme()
		if err != nil {
			return errorMessage(err)
		}
		return ServerMessage{Type: MsgCssChange, Body: id}

	case PreviousTheme:
		id, err := sess.PreviousTheme()
		if err != nil {
			return errorMessage(err)
		}
		return ServerMessage{Type: MsgCssChange, Body: id}

	case ExportHTML:
		if _, err := sess.Export(c.Path); err != nil {
			log.Warn().Err(err).Msg("export failed")
			return errorMessage(err)
		}
		return ServerMessage{Type: MsgSuccess}

	case Redirect:
		html, err := sess.Redirect(c.Path)
		if err != nil {
			log.Warn().Err(err).Str("path", c.Path).Msg("redirect failed")
			return errorMessage(err)
		}
		log.Debug().Str("path", sess.Path()).Msg("redirected")
		return ServerMessage{Type: MsgHtmlUpdate, Body: html}

	case RedirectDefault:
		html, err := sess.RedirectToDefault()
		if err != nil {
			return errorMessage(err)
		}
		return ServerMessage{Type: MsgHtmlUpdate, Body: html}

	default:
		return errorMessage(errors.New("unsupported command"))
	}
}

func send(conn *websocket.Conn, msg ServerMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}
