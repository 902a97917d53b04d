package confloader

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long a watched file must stay quiet before its
// callbacks run.
const DefaultSettle = 200 * time.Millisecond

// Watcher calls back when a watched configuration file changes. Bursts of
// events on one file, such as an editor's truncate then write, produce one
// callback.
type Watcher struct {
	fs     *fsnotify.Watcher
	logger *slog.Logger
	settle time.Duration

	mu        sync.Mutex
	files     map[string]struct{}
	callbacks []func(string)

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger sets the logger of the watcher.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = logger }
}

// WithSettle sets how long a file must stay quiet before callbacks run.
func WithSettle(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.settle = d }
}

// NewWatcher creates a watcher with no files.
func NewWatcher(opts ...WatcherOption) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fs:     fw,
		logger: slog.Default(),
		settle: DefaultSettle,
		files:  make(map[string]struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.settle <= 0 {
		w.settle = DefaultSettle
	}
	return w, nil
}

// Watch adds path. Its directory is watched so that files replaced by
// rename, as Kubernetes does with mounted ConfigMaps, keep being followed.
func (w *Watcher) Watch(path string) error {
	path = filepath.Clean(path)
	if err := w.fs.Add(filepath.Dir(path)); err != nil {
		return err
	}
	w.mu.Lock()
	w.files[path] = struct{}{}
	w.mu.Unlock()
	w.logger.Debug("watching configuration file", "path", path)
	return nil
}

// OnChange registers fn, called with the path of a changed file. Callbacks
// run on the watcher goroutine, one at a time.
func (w *Watcher) OnChange(fn func(path string)) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, fn)
	w.mu.Unlock()
}

// Start dispatches changes until Stop is called.
func (w *Watcher) Start() {
	pending := make(map[string]time.Time)
	tick := time.NewTicker(w.settle / 2)
	defer tick.Stop()

	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if name := filepath.Clean(ev.Name); w.watched(name) {
				pending[name] = time.Now()
			}

		case now := <-tick.C:
			for name, at := range pending {
				if now.Sub(at) >= w.settle {
					delete(pending, name)
					w.notify(name)
				}
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("configuration watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

// StartAsync runs Start in a goroutine.
func (w *Watcher) StartAsync() { go w.Start() }

// Stop ends Start and releases the watch. It may be called more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fs.Close()
	})
	return err
}

func (w *Watcher) watched(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.files[name]
	return ok
}

func (w *Watcher) notify(name string) {
	w.mu.Lock()
	callbacks := append([]func(string){}, w.callbacks...)
	w.mu.Unlock()

	w.logger.Debug("configuration file changed", "path", name)
	for _, fn := range callbacks {
		fn(name)
	}
}
