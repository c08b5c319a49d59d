package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// AlertRules are the tunable alerting thresholds. They live in a file so
// operators can tighten SLAs without a deploy; the watcher reloads them
// on write.
type AlertRules struct {
	// SLAMinutes maps ticket priority to the first-response SLA.
	SLAMinutes map[string]int `json:"slaMinutes"`
	// DefaultLowStockThreshold applies to products that carry none.
	DefaultLowStockThreshold int `json:"defaultLowStockThreshold"`
	// DelayAlertStatuses are shipping statuses that trigger a delay email.
	DelayAlertStatuses []string `json:"delayAlertStatuses"`
}

func DefaultAlertRules() AlertRules {
	return AlertRules{
		SLAMinutes: map[string]int{
			"urgent": 60,
			"high":   240,
			"medium": 480,
			"low":    1440,
		},
		DefaultLowStockThreshold: 10,
		DelayAlertStatuses:       []string{"exception", "delayed", "failed_attempt"},
	}
}

// SLAFor returns the first-response SLA for a priority, falling back to
// the low-priority threshold for unknown values.
func (r AlertRules) SLAFor(priority string) int {
	if minutes, ok := r.SLAMinutes[priority]; ok && minutes > 0 {
		return minutes
	}
	return r.SLAMinutes["low"]
}

func (r AlertRules) IsDelayStatus(status string) bool {
	for _, candidate := range r.DelayAlertStatuses {
		if candidate == status {
			return true
		}
	}
	return false
}

// RulesWatcher serves the current AlertRules and hot-reloads them when
// the backing file changes. With no file configured it serves defaults.
type RulesWatcher struct {
	mu      sync.RWMutex
	rules   AlertRules
	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

func NewRulesWatcher(path string) (*RulesWatcher, error) {
	w := &RulesWatcher{
		rules: DefaultAlertRules(),
		path:  path,
		done:  make(chan struct{}),
	}
	if path == "" {
		return w, nil
	}
	if err := w.reload(); err != nil {
		return nil, err
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory, not the file: editors and config pushers
	// replace the file via rename, which drops a file-level watch.
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		_ = fsWatcher.Close()
		return nil, err
	}
	w.watcher = fsWatcher
	go w.run()
	return w, nil
}

func (w *RulesWatcher) Rules() AlertRules {
	w.mu.RLock()
	defer w.mu.RUnlock()
	rules := w.rules
	// Shallow copy is not enough for the map.
	sla := make(map[string]int, len(rules.SLAMinutes))
	for k, v := range rules.SLAMinutes {
		sla[k] = v
	}
	rules.SLAMinutes = sla
	return rules
}

func (w *RulesWatcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		if w.watcher != nil {
			err = w.watcher.Close()
		}
	})
	return err
}

func (w *RulesWatcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := w.reload(); err != nil {
				log.Printf("config: alert rules reload failed, keeping previous rules: %v", err)
			} else {
				log.Printf("config: alert rules reloaded from %s", w.path)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("config: alert rules watcher error: %v", err)
		}
	}
}

func (w *RulesWatcher) reload() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return err
	}
	rules := DefaultAlertRules()
	if err := json.Unmarshal(data, &rules); err != nil {
		return err
	}
	if rules.DefaultLowStockThreshold <= 0 {
		rules.DefaultLowStockThreshold = DefaultAlertRules().DefaultLowStockThreshold
	}
	w.mu.Lock()
	w.rules = rules
	w.mu.Unlock()
	return nil
}
