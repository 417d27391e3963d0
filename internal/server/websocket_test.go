package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsTestClient is a helper for protocol testing
type wsTestClient struct {
	conn    *websocket.Conn
	t       *testing.T
	timeout time.Duration
}

// dial opens a session socket. query may be nil.
func (e *testEnv) dial(query url.Values) *wsTestClient {
	e.t.Helper()

	wsURL := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"
	if len(query) > 0 {
		wsURL += "?" + query.Encode()
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(e.t, err, "failed to connect to WebSocket")

	c := &wsTestClient{conn: conn, t: e.t, timeout: 2 * time.Second}
	e.t.Cleanup(c.close)
	return c
}

// send writes a client message; body is omitted when nil.
func (c *wsTestClient) send(msgType string, body *string) {
	c.t.Helper()
	data, err := json.Marshal(ClientMessage{Type: msgType, Body: body})
	require.NoError(c.t, err)
	c.sendRaw(websocket.TextMessage, data)
}

func (c *wsTestClient) sendRaw(kind int, data []byte) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(kind, data), "failed to send message")
}

func (c *wsTestClient) receive() (ServerMessage, error) {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	var msg ServerMessage
	err := c.conn.ReadJSON(&msg)
	return msg, err
}

// expect receives one message and checks its type.
func (c *wsTestClient) expect(want MessageType) ServerMessage {
	c.t.Helper()
	msg, err := c.receive()
	require.NoError(c.t, err)
	require.Equal(c.t, want, msg.Type, "body: %s", msg.Body)
	return msg
}

// expectSilence asserts nothing arrives within d. The connection cannot be
// read from afterwards.
func (c *wsTestClient) expectSilence(d time.Duration) {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(d))
	var msg ServerMessage
	err := c.conn.ReadJSON(&msg)
	require.Error(c.t, err, "unexpected message %s", msg.Type)
}

func (c *wsTestClient) close() {
	c.conn.Close()
}

func strPtr(s string) *string { return &s }

func (e *testEnv) waitForSessions(n int) {
	e.t.Helper()
	require.Eventually(e.t, func() bool { return e.srv.SessionCount() == n },
		2*time.Second, 10*time.Millisecond, "want %d sessions", n)
}

func TestThemeCycling(t *testing.T) {
	e := newTestEnv(t, withThemes("style1.css", "style2.css", "style3.css"))
	c := e.dial(nil)

	for _, want := range []string{"/css/style2.css", "/css/style3.css", "/css/style1.css"} {
		c.send("ChangeCssNext", nil)
		assert.Equal(t, want, c.expect(MsgCssChange).Body)
	}

	c.send("ChangeCssPrev", nil)
	assert.Equal(t, "/css/style3.css", c.expect(MsgCssChange).Body)
}

func TestThemeCursorStartsAtRequestedTheme(t *testing.T) {
	e := newTestEnv(t, withThemes("a.css", "b.css", "c.css"))
	c := e.dial(url.Values{"css": {"/css/b.css"}})

	c.send("ChangeCssNext", nil)
	assert.Equal(t, "/css/c.css", c.expect(MsgCssChange).Body)
}

func TestThemeCommandsWithoutThemes(t *testing.T) {
	e := newTestEnv(t)
	c := e.dial(nil)

	c.send("ChangeCssNext", nil)
	assert.Equal(t, "no css files provided", c.expect(MsgError).Body)

	c.send("ChangeCssPrev", nil)
	assert.Equal(t, "no css files provided", c.expect(MsgError).Body)
}

func TestRedirectRepliesImmediately(t *testing.T) {
	e := newTestEnv(t)
	e.write("docs/guide.md", "# Guide\n")
	c := e.dial(url.Values{"path": {"README.md"}})

	c.send("Redirect", strPtr("docs/guide.md"))
	msg := c.expect(MsgHtmlUpdate)
	assert.Contains(t, msg.Body, `<h1 id="guide">Guide</h1>`)

	c.send("RedirectDefault", nil)
	msg = c.expect(MsgHtmlUpdate)
	assert.Contains(t, msg.Body, `<h1 id="readme">Readme</h1>`)
}

func TestRedirectErrorsKeepSession(t *testing.T) {
	e := newTestEnv(t, withThemes("a.css", "b.css"))
	c := e.dial(nil)

	c.send("Redirect", nil)
	assert.Equal(t, "invalid redirect link, no body", c.expect(MsgError).Body)

	c.send("Redirect", strPtr("missing.md"))
	assert.Contains(t, c.expect(MsgError).Body, "missing.md")

	// Still bound to README.md and still answering.
	c.send("ChangeCssNext", nil)
	c.expect(MsgCssChange)
	c.send("RedirectDefault", nil)
	assert.Contains(t, c.expect(MsgHtmlUpdate).Body, "Readme")
}

func TestRedirectFollowsRenderedLinks(t *testing.T) {
	e := newTestEnv(t)
	e.write("docs/my doc.md", "# Spaced\n")
	e.write("docs/café.md", "# Accented\n")
	e.write("docs/index.md", "[a](<my doc.md>) [b](café.md)\n")
	c := e.dial(nil)

	c.send("Redirect", strPtr("docs/index.md"))
	html := c.expect(MsgHtmlUpdate).Body

	for _, want := range []string{"Spaced", "Accented"} {
		// Mirror the client: take the path query value of the first
		// remaining internal link.
		start := strings.Index(html, `href="/?`)
		require.GreaterOrEqual(t, start, 0, "no internal link left in %s", html)
		rest := html[start+len(`href="/?`):]
		html = rest
		query, err := url.ParseQuery(rest[:strings.Index(rest, `"`)])
		require.NoError(t, err)

		c.send("Redirect", strPtr(query.Get("path")))
		assert.Contains(t, c.expect(MsgHtmlUpdate).Body, want)
	}
}

func TestCrossOriginSessionRefused(t *testing.T) {
	e := newTestEnv(t)
	wsURL := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, e.srv.SessionCount())

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {e.ts.URL}})
	require.NoError(t, err, "same origin is allowed")
	conn.Close()
}

func TestDocumentsConfinedToRoot(t *testing.T) {
	e := newTestEnv(t)
	secret := filepath.Join(t.TempDir(), "secret.md")
	require.NoError(t, os.WriteFile(secret, []byte("API_KEY=hunter2\n"), 0644))

	c := e.dial(nil)
	c.send("Redirect", strPtr(secret))
	assert.Contains(t, c.expect(MsgError).Body, "outside root")
	c.send("Redirect", strPtr("../"+filepath.Base(secret)))
	c.expect(MsgError)

	assert.Equal(t, http.StatusNotFound, e.get("/?path="+url.QueryEscape(secret)).Code)

	wsURL := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws?" + url.Values{"path": {secret}}.Encode()
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMalformedMessagesIgnored(t *testing.T) {
	e := newTestEnv(t, withThemes("a.css", "b.css"))
	c := e.dial(nil)

	c.sendRaw(websocket.TextMessage, []byte(`not json`))
	c.sendRaw(websocket.TextMessage, []byte(`{"type":"Reload"}`))
	c.sendRaw(websocket.BinaryMessage, []byte{0x01, 0x02})

	c.send("ChangeCssNext", nil)
	msg := c.expect(MsgCssChange)
	assert.Equal(t, "/css/b.css", msg.Body, "the first reply answers the first valid command")
}

func TestExportCommand(t *testing.T) {
	e := newTestEnv(t, withThemes("dark.css"))
	c := e.dial(nil)

	target := t.TempDir()
	c.send("ExportHtml", strPtr(target))
	c.expect(MsgSuccess)

	matches, err := filepath.Glob(filepath.Join(target, "html-export-*.html"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "file://"+filepath.ToSlash(filepath.Join(e.themeDir, "dark.css")))
	assert.Contains(t, string(data), "Readme")

	c.send("ExportHtml", nil)
	c.expect(MsgSuccess)
	matches, err = filepath.Glob(filepath.Join(e.exportDir, "html-export-*.html"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestExportCommandFailure(t *testing.T) {
	e := newTestEnv(t)
	c := e.dial(nil)

	c.send("ExportHtml", strPtr(filepath.Join(e.root, "no", "such", "dir", "out.html")))
	c.expect(MsgError)

	c.send("RedirectDefault", nil)
	c.expect(MsgHtmlUpdate)
}

func TestPollPushesUpdatesToEverySession(t *testing.T) {
	e := newTestEnv(t, withPollInterval(50*time.Millisecond))
	a := e.dial(url.Values{"path": {"README.md"}})
	b := e.dial(url.Values{"path": {"README.md"}})
	e.waitForSessions(2)

	e.touch("README.md", "# Changed\n")

	for _, c := range []*wsTestClient{a, b} {
		msg := c.expect(MsgHtmlUpdate)
		assert.Contains(t, msg.Body, `<h1 id="changed">Changed</h1>`)
	}
	for _, c := range []*wsTestClient{a, b} {
		c.expectSilence(300 * time.Millisecond)
	}
}

func TestPollSurvivesMissingDocument(t *testing.T) {
	e := newTestEnv(t, withPollInterval(50*time.Millisecond))
	c := e.dial(nil)
	e.waitForSessions(1)

	require.NoError(t, os.Remove(filepath.Join(e.root, "README.md")))
	time.Sleep(150 * time.Millisecond)
	e.touch("README.md", "# Back\n")

	assert.Contains(t, c.expect(MsgHtmlUpdate).Body, "Back")
}

func TestThemeRescanPushesCssUpdate(t *testing.T) {
	e := newTestEnv(t, withThemes("a.css"))
	a := e.dial(nil)
	b := e.dial(nil)
	e.waitForSessions(2)

	e.writeTheme("b.css")
	require.NoError(t, e.themes.Rescan())

	for _, c := range []*wsTestClient{a, b} {
		msg := c.expect(MsgCssUpdate)
		assert.Empty(t, msg.Body)
	}

	// The refreshed list is visible to the next command.
	a.send("ChangeCssNext", nil)
	assert.Equal(t, "/css/b.css", a.expect(MsgCssChange).Body)
}

func TestSessionLifecycle(t *testing.T) {
	e := newTestEnv(t)
	c := e.dial(nil)
	e.waitForSessions(1)

	c.close()
	e.waitForSessions(0)
}

func TestServerCloseEndsSessions(t *testing.T) {
	e := newTestEnv(t)
	c := e.dial(nil)
	e.waitForSessions(1)

	done := make(chan struct{})
	go func() {
		e.srv.Close()
		close(done)
	}()

	_, err := c.receive()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.Equal(t, 0, e.srv.SessionCount())

	// New sessions are refused once closing.
	wsURL := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"
	_, _, err = websocket.DefaultDialer.Dial(wsURL, nil)
	assert.Error(t, err)
}
