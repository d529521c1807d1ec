package config

import (
	"context"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher reloads the configuration file whenever it changes on disk
// and hands the new value to a callback. It uses fsnotify for push
// notification of the config file itself; this is distinct from the
// file integrity monitor, which polls by design.
type Watcher struct {
	path string
	log  *logrus.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	onReload func(*DaemonConfig)

	stop chan struct{}
	done chan struct{}
}

// NewWatcher creates a Watcher for the config file at path.
func NewWatcher(path string, log *logrus.Logger, onReload func(*DaemonConfig)) (*Watcher, error) {
	if log == nil {
		log = logrus.New()
	}
	if onReload == nil {
		onReload = func(*DaemonConfig) {}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}

	return &Watcher{
		path:     path,
		log:      log,
		watcher:  fw,
		onReload: onReload,
	}, nil
}

// Start launches the background watch loop. Idempotent.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.stop != nil {
		w.mu.Unlock()
		return
	}
	stop, done := make(chan struct{}), make(chan struct{})
	w.stop, w.done = stop, done
	w.mu.Unlock()

	go w.run(ctx, stop, done)
}

// Stop terminates the watch loop and releases the underlying
// fsnotify handle. Idempotent.
func (w *Watcher) Stop() {
	w.mu.Lock()
	stop, done := w.stop, w.done
	w.stop = nil
	w.done = nil
	w.mu.Unlock()

	if stop == nil {
		w.watcher.Close()
		return
	}
	close(stop)
	<-done
	w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("config watcher error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.WithError(err).WithField("path", w.path).Warn("failed to reload configuration, keeping previous values")
		return
	}
	w.log.WithField("path", w.path).Info("configuration reloaded")
	w.onReload(cfg)
}
