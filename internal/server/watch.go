package server

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const reloadDebounce = 500 * time.Millisecond

// configWatcher calls reload once changes to a config file settle.
type configWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	reload  func()
	logger  zerolog.Logger
	done    chan struct{}
}

// newConfigWatcher watches the file's directory, since editors often
// replace the file instead of writing it in place.
func newConfigWatcher(path string, reload func(), logger zerolog.Logger) (*configWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, err
	}

	w := &configWatcher{
		watcher: watcher,
		path:    abs,
		reload:  reload,
		logger:  logger.With().Str("component", "config-watcher").Logger(),
		done:    make(chan struct{}),
	}
	go w.loop()

	w.logger.Info().Str("file", abs).Msg("watching config for changes")
	return w, nil
}

func (w *configWatcher) loop() {
	defer close(w.done)

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, w.reload)
			mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("watcher error")
		}
	}
}

// Close stops watching and waits for the loop to exit.
func (w *configWatcher) Close() {
	w.watcher.Close()
	<-w.done
}
