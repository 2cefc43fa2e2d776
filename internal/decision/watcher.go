package decision

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// RuleWatcher reloads the rule kernel when .gl files under the rules
// directory change, so decision policy can be tuned without a restart.
// The permission gate's feature table is deliberately NOT watched: tier
// gating is immutable for the process lifetime.
type RuleWatcher struct {
	watcher  *fsnotify.Watcher
	kernel   *RuleKernel
	rulesDir string
	logger   *zap.Logger

	mu       sync.Mutex
	lastLoad map[string]time.Time
	debounce time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewRuleWatcher creates a watcher over rulesDir feeding kernel.
func NewRuleWatcher(rulesDir string, kernel *RuleKernel, logger *zap.Logger) (*RuleWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuleWatcher{
		watcher:  watcher,
		kernel:   kernel,
		rulesDir: rulesDir,
		logger:   logger.Named("rulewatch"),
		lastLoad: make(map[string]time.Time),
		debounce: 500 * time.Millisecond, // editors fire bursts of writes
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the loop exits when ctx is done
// or Stop is called.
func (w *RuleWatcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.rulesDir); err != nil {
		return err
	}

	go w.loop(ctx)
	return nil
}

func (w *RuleWatcher) loop(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".gl") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !w.shouldReload(event.Name) {
				continue
			}
			if err := w.kernel.LoadDir(w.rulesDir); err != nil {
				w.logger.Warn("rule reload failed; keeping previous rules",
					zap.String("file", event.Name),
					zap.Error(err))
				continue
			}
			w.logger.Info("decision rules reloaded", zap.String("file", event.Name))
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("rule watcher error", zap.Error(err))
		}
	}
}

// shouldReload applies per-file debouncing.
func (w *RuleWatcher) shouldReload(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	if last, ok := w.lastLoad[path]; ok && now.Sub(last) < w.debounce {
		return false
	}
	w.lastLoad[path] = now
	return true
}

// Stop shuts the watcher down and waits for the loop to exit.
func (w *RuleWatcher) Stop() {
	close(w.stopCh)
	w.watcher.Close()
	<-w.doneCh
}
