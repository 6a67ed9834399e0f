package plan

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher re-applies a plan file whenever it changes on disk
type Watcher struct {
	path     string
	target   Scheduler
	logger   *zap.Logger
	debounce time.Duration

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	timer   *time.Timer
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	applied chan *Result
}

// NewWatcher creates a stopped watcher for path
func NewWatcher(path string, target Scheduler, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		target:   target,
		logger:   logger,
		debounce: defaultDebounce,
	}
}

// WithDebounce sets how long to wait for writes to settle before reloading
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// Applied returns a channel that receives the result of every reload. Must be
// called before Start.
func (w *Watcher) Applied() <-chan *Result {
	if w.applied == nil {
		w.applied = make(chan *Result, 8)
	}
	return w.applied
}

// Start watches the plan's directory. Editors often replace files by rename,
// so the directory is watched rather than the file itself.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}

	w.watcher = fw
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.run()

	w.logger.Info("Watching care plan", zap.String("path", w.path))
	return nil
}

// Stop ends the watch and waits for the event loop to exit
func (w *Watcher) Stop() error {
	if w.watcher == nil {
		return nil
	}
	w.cancel()
	err := w.watcher.Close()
	<-w.done

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return err
}

func (w *Watcher) run() {
	defer close(w.done)

	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Care plan watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	if w.ctx.Err() != nil {
		return
	}

	f, err := Load(w.path)
	if err != nil {
		w.logger.Error("Care plan reload failed", zap.String("path", w.path), zap.Error(err))
		return
	}

	res := Apply(w.ctx, f, w.target)
	if err := res.Err(); err != nil {
		w.logger.Warn("Care plan partially applied", zap.Int("applied", res.Applied), zap.Error(err))
	} else {
		w.logger.Info("Care plan reloaded", zap.Int("applied", res.Applied))
	}

	if w.applied != nil {
		select {
		case w.applied <- res:
		default:
		}
	}
}
