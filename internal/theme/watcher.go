package theme

import (
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// rescanRetryDelay spaces retries when the directory is briefly unreadable,
// e.g. while an editor replaces a file.
const rescanRetryDelay = 50 * time.Millisecond

// Watcher watches a theme directory and calls onChange for every event
// that may alter its listing.
type Watcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	onChange func()
	log      zerolog.Logger
	done     chan struct{}
	exited   chan struct{}
	stopOnce sync.Once
	stopErr  error
}

// errAlreadyWatching is returned by Registry.Watch when a watcher is running.
var errAlreadyWatching = errors.New("theme dir already watched")

// NewWatcher creates a watcher for dir. It does not recurse.
func NewWatcher(dir string, onChange func(), log zerolog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := fsWatcher.Add(dir); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	return &Watcher{
		watcher:  fsWatcher,
		dir:      dir,
		onChange: onChange,
		log:      log,
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}, nil
}

// Start begins watching for changes.
func (w *Watcher) Start() {
	go func() {
		defer close(w.exited)
		for {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}

				// Attribute-only changes never alter the listing.
				if event.Op == fsnotify.Chmod {
					continue
				}

				w.log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("theme dir changed")
				w.onChange()

			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.log.Warn().Err(err).Str("dir", w.dir).Msg("watch error")

			case <-w.done:
				return
			}
		}
	}()
}

// Stop stops the watcher and waits for its goroutine to exit. Later calls
// return the first call's result.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
		w.stopErr = w.watcher.Close()
		<-w.exited
	})
	return w.stopErr
}

// Watch installs a filesystem watcher on the theme directory. Changes
// trigger a rescan followed by a notification to subscribers.
func (r *Registry) Watch() error {
	r.watchMu.Lock()
	defer r.watchMu.Unlock()
	if r.watcher != nil {
		return errAlreadyWatching
	}

	w, err := NewWatcher(r.dir, r.rescanWithRetry, r.log)
	if err != nil {
		return err
	}
	r.watcher = w
	w.Start()
	return nil
}

func (r *Registry) rescanWithRetry() {
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(rescanRetryDelay), 3)
	if err := backoff.Retry(r.Rescan, policy); err != nil {
		r.log.Warn().Err(err).Str("dir", r.dir).Msg("theme rescan failed, keeping previous themes")
	}
}
