package hooks

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultWatchInterval is the polling interval used when none is given.
const DefaultWatchInterval = 2 * time.Second

// Watcher reloads a registry when its document changes on disk.
//
// It polls the file's modification time and size instead of subscribing to
// filesystem notifications, so it behaves the same on every platform and
// survives editors that replace files by rename.
type Watcher struct {
	registry *Registry
	interval time.Duration
	log      *logrus.Entry

	mu      sync.Mutex
	exists  bool
	modTime time.Time
	size    int64
}

// NewWatcher creates a watcher for registry's loaded document.
func NewWatcher(registry *Registry, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	w := &Watcher{
		registry: registry,
		interval: interval,
		log:      discardLogger(),
	}
	w.mu.Lock()
	w.exists, w.modTime, w.size = w.stat()
	w.mu.Unlock()
	return w
}

// WithLogger sets the logger used for reload results.
func (w *Watcher) WithLogger(log *logrus.Entry) *Watcher {
	if log != nil {
		w.log = log
	}
	return w
}

// Run polls until ctx is done. It always returns nil so it can run inside an
// errgroup next to the gateway.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Check()
		}
	}
}

// Check polls once and reloads if the document changed. It reports whether a
// reload happened.
func (w *Watcher) Check() bool {
	w.mu.Lock()
	exists, modTime, size := w.stat()
	changed := exists != w.exists || !modTime.Equal(w.modTime) || size != w.size
	w.exists, w.modTime, w.size = exists, modTime, size
	w.mu.Unlock()

	if !changed {
		return false
	}

	path := w.registry.Path()
	if err := w.registry.Reload(); err != nil {
		w.log.WithField("path", path).WithError(err).Warn("hook document reload failed")
		return false
	}
	w.log.WithField("path", path).Info("hook document reloaded")
	return true
}

func (w *Watcher) stat() (bool, time.Time, int64) {
	path := w.registry.Path()
	if path == "" {
		return false, time.Time{}, 0
	}
	info, err := os.Stat(path)
	if err != nil {
		return false, time.Time{}, 0
	}
	return true, info.ModTime(), info.Size()
}
