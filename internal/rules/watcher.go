package rules

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const defaultReloadDelay = 150 * time.Millisecond

// Watcher reloads an Engine whenever its rules file is written, created or replaced.
// Editors that save by rename are covered by watching the parent directory.
type Watcher struct {
	engine   *Engine
	watcher  *fsnotify.Watcher
	delay    time.Duration
	logger   zerolog.Logger
	onReload func(err error)

	done      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once
}

// Watch starts watching engine's rules file. onReload may be nil.
func Watch(engine *Engine, delay time.Duration, logger zerolog.Logger, onReload func(err error)) (*Watcher, error) {
	if delay <= 0 {
		delay = defaultReloadDelay
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(engine.Path())); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w := &Watcher{
		engine:   engine,
		watcher:  fsw,
		delay:    delay,
		logger:   logger.With().Str("component", "rules").Str("path", engine.Path()).Logger(),
		onReload: onReload,
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	go w.watchLoop()
	return w, nil
}

func (w *Watcher) watchLoop() {
	defer close(w.loopDone)

	target := filepath.Clean(w.engine.Path())
	var pending <-chan time.Time

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				pending = time.After(w.delay)
			}
		case <-pending:
			pending = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("rules watcher error")
		}
	}
}

func (w *Watcher) reload() {
	err := w.engine.Reload()
	if err != nil {
		w.logger.Error().Err(err).Msg("rules reload failed, keeping previous rules")
	} else {
		w.logger.Info().Int("rules", w.engine.Len()).Msg("rules reloaded")
	}
	if w.onReload != nil {
		w.onReload(err)
	}
}

func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		<-w.loopDone
	})
	return err
}
