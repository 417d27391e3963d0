// Package theme keeps the list of stylesheets available to viewing sessions
// and tells subscribers when the list changes.
package theme

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"

	"github.com/livetemplate/mdview/internal/logging"
)

// URLPrefix is the route stylesheets are served under. Theme identifiers
// are URLPrefix followed by the stylesheet's filename.
const URLPrefix = "/css/"

const changedTopic = "themes.changed"

var (
	// ErrNoThemes is returned when a theme is requested from an empty set.
	ErrNoThemes = errors.New("no css files provided")

	// ErrUnknownTheme is returned for identifiers outside the current set.
	ErrUnknownTheme = errors.New("unknown theme")
)

// Options configures a Registry.
type Options struct {
	// Ignore holds doublestar patterns matched against stylesheet filenames.
	Ignore []string
}

// Registry holds the sorted stylesheet identifiers found in a directory.
// Readers get cloned snapshots; only Rescan replaces the list.
type Registry struct {
	dir    string
	ignore []string
	log    zerolog.Logger

	mu     sync.RWMutex
	themes []string

	pubsub *gochannel.GoChannel

	watchMu sync.Mutex
	watcher *Watcher
}

// ID returns the identifier for a stylesheet filename.
func ID(filename string) string {
	return URLPrefix + filename
}

// New creates a Registry and performs the initial scan of dir.
func New(dir string, opts Options) (*Registry, error) {
	r := &Registry{
		dir:    dir,
		ignore: opts.Ignore,
		log:    logging.For("theme"),
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 16,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
	}

	themes, err := r.scan()
	if err != nil {
		_ = r.pubsub.Close()
		return nil, err
	}
	r.themes = themes

	r.log.Debug().Str("dir", dir).Int("count", len(themes)).Msg("loaded themes")
	return r, nil
}

// scan reads the directory without recursing and returns the identifiers of
// regular .css files that are not ignored.
func (r *Registry) scan() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read theme dir: %w", err)
	}

	// os.ReadDir returns entries sorted by filename.
	var themes []string
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) != ".css" || r.ignored(name) {
			continue
		}
		if !e.Type().IsRegular() {
			// Follow symlinks; skip directories and anything else.
			info, err := os.Stat(filepath.Join(r.dir, name))
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
		}
		themes = append(themes, ID(name))
	}
	return themes, nil
}

func (r *Registry) ignored(name string) bool {
	for _, pattern := range r.ignore {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// Rescan re-reads the directory, replaces the stored list and notifies all
// subscribers. On error the previous list is kept.
func (r *Registry) Rescan() error {
	themes, err := r.scan()
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.themes = themes
	r.mu.Unlock()

	r.notify()
	return nil
}

func (r *Registry) notify() {
	msg := message.NewMessage(watermill.NewUUID(), nil)
	if err := r.pubsub.Publish(changedTopic, msg); err != nil {
		r.log.Warn().Err(err).Msg("failed to publish theme change")
	}
}

// Subscribe returns a channel receiving one message per change. Callers must
// Ack every message. The channel is closed when ctx is done or the registry
// is closed.
func (r *Registry) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return r.pubsub.Subscribe(ctx, changedTopic)
}

// Snapshot returns a copy of the current identifiers.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.themes)
}

// Len returns the number of themes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.themes)
}

// At returns the identifier at position i modulo the current length.
func (r *Registry) At(i int) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.themes) == 0 {
		return "", ErrNoThemes
	}
	i %= len(r.themes)
	if i < 0 {
		i += len(r.themes)
	}
	return r.themes[i], nil
}

// IndexOf returns the position of id in the current list, or -1.
func (r *Registry) IndexOf(id string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Index(r.themes, id)
}

// Path resolves an identifier to the stylesheet on disk.
func (r *Registry) Path(id string) (string, error) {
	if r.IndexOf(id) < 0 {
		return "", fmt.Errorf("%w: %s", ErrUnknownTheme, id)
	}
	return filepath.Join(r.dir, strings.TrimPrefix(id, URLPrefix)), nil
}

// Close stops watching and ends all subscriptions. It is safe to call more
// than once.
func (r *Registry) Close() error {
	var errs []error
	r.watchMu.Lock()
	if r.watcher != nil {
		errs = append(errs, r.watcher.Stop())
	}
	r.watchMu.Unlock()
	errs = append(errs, r.pubsub.Close())
	return errors.Join(errs...)
}
