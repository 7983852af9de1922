package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agentcore/agentcore/internal/policy"
	"github.com/agentcore/agentcore/pkg/core"
)

// defaultRuleWatchDebounce matches the teacher's skills.Manager debounce
// default: editors tend to emit several fsnotify events per save.
const defaultRuleWatchDebounce = 250 * time.Millisecond

// RuleWatcher holds the active policy ruleset parsed from a rules.yaml
// file and keeps it current as the file changes, so an approved
// "remember: Always" decision (spec §4.4) takes effect for the next
// Decide call without a daemon restart.
//
// Grounded on the teacher's internal/skills/manager.go StartWatching /
// watchLoop: an fsnotify.Watcher on the containing directory, a debounced
// refresh (time.AfterFunc) triggered on Create/Write/Remove/Rename, and a
// cancel-then-Wait shutdown. Swapped here for a single-file ruleset
// instead of a directory of skill manifests, and the refresh itself calls
// policy.LoadRuleSet rather than a skills-specific discovery pass.
type RuleWatcher struct {
	path     string
	logger   *slog.Logger
	debounce time.Duration

	current atomic.Pointer[core.RuleSet]

	watchMu     sync.Mutex
	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

// NewRuleWatcher loads path once synchronously so Current is immediately
// usable, then returns a RuleWatcher ready to have Start called on it.
func NewRuleWatcher(path string, logger *slog.Logger) (*RuleWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rs, err := policy.LoadRuleSet(path)
	if err != nil {
		return nil, err
	}
	w := &RuleWatcher{path: path, logger: logger, debounce: defaultRuleWatchDebounce}
	w.current.Store(&rs)
	return w, nil
}

// Current returns the most recently loaded RuleSet. Safe for concurrent
// use by any number of Decide callers.
func (w *RuleWatcher) Current() core.RuleSet {
	return *w.current.Load()
}

// Start watches path's directory for changes and reloads the ruleset on
// each debounced event. A failed reload logs a warning and leaves Current
// unchanged, so a transient parse error (e.g. a half-written save) never
// blanks out an in-flight policy decision.
func (w *RuleWatcher) Start(ctx context.Context) error {
	w.watchMu.Lock()
	if w.watcher != nil {
		w.watchMu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.watchMu.Unlock()
		return err
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		_ = watcher.Close()
		w.watchMu.Unlock()
		return err
	}
	w.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	w.watchCancel = cancel
	w.watchMu.Unlock()

	w.watchWg.Add(1)
	go w.watchLoop(watchCtx)
	return nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *RuleWatcher) Close() error {
	w.watchMu.Lock()
	if w.watchCancel != nil {
		w.watchCancel()
		w.watchCancel = nil
	}
	watcher := w.watcher
	w.watcher = nil
	w.watchMu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	w.watchWg.Wait()
	return nil
}

func (w *RuleWatcher) watchLoop(ctx context.Context) {
	defer w.watchWg.Done()
	w.watchMu.Lock()
	watcher := w.watcher
	w.watchMu.Unlock()
	if watcher == nil {
		return
	}

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, w.reload)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("rules watch error", "error", err)
		}
	}
}

func (w *RuleWatcher) reload() {
	rs, err := policy.LoadRuleSet(w.path)
	if err != nil {
		w.logger.Warn("rules reload failed, keeping previous ruleset", "path", w.path, "error", err)
		return
	}
	w.current.Store(&rs)
	w.logger.Info("rules reloaded", "path", w.path, "rules", len(rs.Rules))
}
