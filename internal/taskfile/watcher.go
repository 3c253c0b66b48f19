package taskfile

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"jordanella.com/autoclick-vision/internal/logging"
)

// DefaultDebounce coalesces the burst of events an editor save produces
const DefaultDebounce = 200 * time.Millisecond

// Watcher reloads a task file whenever it changes on disk
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *logging.Logger

	onChange func(*Task)
	onError  func(error)

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	current *Task
}

// NewWatcher loads path once and prepares to watch it
func NewWatcher(path string, logger *logging.Logger) (*Watcher, error) {
	if logger == nil {
		logger = logging.NewLogger("TaskWatcher")
	}

	task, err := Load(path)
	if err != nil {
		return nil, err
	}

	return &Watcher{
		path:     filepath.Clean(path),
		debounce: DefaultDebounce,
		logger:   logger,
		current:  task,
	}, nil
}

// OnChange sets the callback for successful reloads
func (w *Watcher) OnChange(fn func(*Task)) *Watcher {
	w.onChange = fn
	return w
}

// OnError sets the callback for reloads that fail to parse
func (w *Watcher) OnError(fn func(error)) *Watcher {
	w.onError = fn
	return w
}

// WithDebounce overrides the debounce window
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// Current returns the most recently loaded task
func (w *Watcher) Current() *Task {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Start begins watching. The parent directory is watched so that editors
// which replace the file on save are picked up.
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	w.watcher = watcher
	w.ctx, w.cancel = context.WithCancel(context.Background())

	w.wg.Add(1)
	go w.loop()

	w.logger.Info(fmt.Sprintf("Watching task file %s", w.path))
	return nil
}

// Stop ends watching and waits for the loop to exit
func (w *Watcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	w.watcher.Close()
	w.wg.Wait()
	w.cancel = nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.logger.Debug(fmt.Sprintf("fsnotify event=%s file=%s", event.Op, event.Name))
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("fsnotify error", err)
		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	task, err := Load(w.path)
	if err != nil {
		w.logger.Warn(fmt.Sprintf("Reload of %s failed: %v", w.path, err))
		if w.onError != nil {
			w.onError(err)
		}
		return
	}

	w.mu.Lock()
	w.current = task
	w.mu.Unlock()

	w.logger.Info(fmt.Sprintf("Reloaded task %s", task.Spec.Name))
	if w.onChange != nil {
		w.onChange(task)
	}
}
