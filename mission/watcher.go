package mission

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const eventChannelBuffer = 64

// ChangeEvent reports that a mission file was created or modified.
type ChangeEvent struct {
	// Path is the absolute path of the changed mission file.
	Path string
}

// Watcher watches a mission registry directory and emits debounced change
// events, so a long-running process can recompute a mission when its file
// is edited. Deletes and unrelated file types are ignored.
type Watcher struct {
	dir      string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	events chan ChangeEvent

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	closed  bool
}

// NewWatcher creates a watcher over the registry directory.
func NewWatcher(dir string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		watcher:  fsw,
		logger:   logger,
		events:   make(chan ChangeEvent, eventChannelBuffer),
		pending:  make(map[string]struct{}),
	}, nil
}

// Events returns the debounced change event channel. Closed when Run
// returns.
func (w *Watcher) Events() <-chan ChangeEvent { return w.events }

// Run processes filesystem events until the context is canceled.
func (w *Watcher) Run(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		w.closed = true
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		close(w.events)
	}()
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			ext := filepath.Ext(ev.Name)
			if ext != ".yaml" && ext != ".yml" {
				continue
			}
			w.schedule(ev.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("mission watcher error", slog.String("error", err.Error()))
		}
	}
}

// schedule records a changed path and (re)arms the debounce timer, so a
// burst of writes to the same file produces one event.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	defer w.mu.Unlock()

	// Sends stay under the lock so the channel cannot be closed mid-flush;
	// they are non-blocking, so holding it is safe.
	for p := range w.pending {
		select {
		case w.events <- ChangeEvent{Path: p}:
		default:
			w.logger.Warn("dropping mission change event, channel full", slog.String("path", p))
		}
	}
	w.pending = make(map[string]struct{})
}
