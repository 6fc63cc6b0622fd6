package behavior

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const debounceDelay = 100 * time.Millisecond

// Watcher reloads the source when manifests change on disk. Events are
// debounced per path so editors that write in bursts trigger one reload.
type Watcher struct {
	watcher *fsnotify.Watcher
	source  *Source
	log     zerolog.Logger
	stopCh  chan struct{}

	mu       sync.Mutex
	debounce map[string]*time.Timer
}

// NewWatcher creates a watcher over the source's directory.
func NewWatcher(source *Source, log zerolog.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:  w,
		source:   source,
		log:      log.With().Str("component", "behavior-watcher").Logger(),
		stopCh:   make(chan struct{}),
		debounce: make(map[string]*time.Timer),
	}, nil
}

// Start begins watching for manifest changes.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.source.dir); err != nil {
		return err
	}
	go w.run()
	return nil
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !isManifest(event.Name) {
				continue
			}
			w.handleEvent(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("behavior watcher error")
		}
	}
}

func (w *Watcher) handleEvent(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.debounce[path]; ok {
		timer.Stop()
	}
	w.debounce[path] = time.AfterFunc(debounceDelay, func() {
		if err := w.source.Reload(); err != nil {
			w.log.Error().Err(err).Msg("behavior reload failed")
		}
		w.mu.Lock()
		delete(w.debounce, path)
		w.mu.Unlock()
	})
}

// Stop stops the watcher and cancels pending reloads.
func (w *Watcher) Stop() {
	close(w.stopCh)

	w.mu.Lock()
	for _, timer := range w.debounce {
		timer.Stop()
	}
	w.mu.Unlock()

	w.watcher.Close()
}
