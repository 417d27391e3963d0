package export

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livetemplate/mdview"
)

var fixedTime = time.Date(2024, time.May, 31, 13, 45, 9, 0, time.Local)

func newExporter(dir string) *Exporter {
	e := New(dir)
	e.Now = func() time.Time { return fixedTime }
	return e
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "html-export-24-05-31-13-45-09.html", Filename(fixedTime))
}

func TestTarget(t *testing.T) {
	root := t.TempDir()
	defaultDir := filepath.Join(root, "config", "mdview")
	e := newExporter(defaultDir)

	t.Run("default dir is created", func(t *testing.T) {
		got, err := e.Target("")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(defaultDir, "html-export-24-05-31-13-45-09.html"), got)
		assert.DirExists(t, defaultDir)
	})

	t.Run("existing directory", func(t *testing.T) {
		got, err := e.Target(root)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "html-export-24-05-31-13-45-09.html"), got)
	})

	t.Run("file path", func(t *testing.T) {
		want := filepath.Join(root, "out.html")
		got, err := e.Target(want)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})
}

func TestWrite(t *testing.T) {
	dir := t.TempDir()
	e := newExporter(dir)

	page := mdview.Page{
		Title: "README.md",
		Theme: "file:///themes/dark.css",
		Body:  "<h1>Hello</h1>",
	}

	path, err := e.Write(page, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "html-export-24-05-31-13-45-09.html"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `href="file:///themes/dark.css"`)
	assert.Contains(t, string(data), "<h1>Hello</h1>")

	// Same second: the second export replaces the first.
	page.Body = "<h1>Again</h1>"
	again, err := e.Write(page, "")
	require.NoError(t, err)
	assert.Equal(t, path, again)

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<h1>Again</h1>")
}

func TestWriteEmptyBody(t *testing.T) {
	e := newExporter(t.TempDir())

	path, err := e.Write(mdview.Page{Title: "empty.md", Body: "  "}, "")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<title>empty.md</title>")
}

func TestWriteErrors(t *testing.T) {
	e := newExporter(t.TempDir())

	_, err := e.Write(mdview.Page{Body: "<p>x</p>"}, filepath.Join(t.TempDir(), "missing", "out.html"))
	assert.Error(t, err)
}

func TestFileURL(t *testing.T) {
	dir := t.TempDir()
	got := FileURL(filepath.Join(dir, "my theme.css"))

	assert.Contains(t, got, "file:///")
	assert.Contains(t, got, "my%20theme.css")
}
