package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultAlertRules(t *testing.T) {
	rules := DefaultAlertRules()
	if rules.SLAFor("urgent") != 60 {
		t.Fatalf("urgent sla = %d", rules.SLAFor("urgent"))
	}
	if rules.SLAFor("high") != 240 {
		t.Fatalf("high sla = %d", rules.SLAFor("high"))
	}
	if rules.SLAFor("unknown") != 1440 {
		t.Fatalf("unknown priority should fall back to low, got %d", rules.SLAFor("unknown"))
	}
	if !rules.IsDelayStatus("exception") || rules.IsDelayStatus("delivered") {
		t.Fatalf("unexpected delay status classification")
	}
}

func TestRulesWatcherWithoutFileServesDefaults(t *testing.T) {
	w, err := NewRulesWatcher("")
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Close()
	if w.Rules().DefaultLowStockThreshold != 10 {
		t.Fatalf("expected default threshold")
	}
}

func TestRulesWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alert-rules.json")
	if err := os.WriteFile(path, []byte(`{"slaMinutes":{"urgent":30},"defaultLowStockThreshold":5}`), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	w, err := NewRulesWatcher(path)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Close()
	if got := w.Rules().SLAFor("urgent"); got != 30 {
		t.Fatalf("initial urgent sla = %d", got)
	}
	if got := w.Rules().DefaultLowStockThreshold; got != 5 {
		t.Fatalf("initial threshold = %d", got)
	}

	if err := os.WriteFile(path, []byte(`{"slaMinutes":{"urgent":15},"defaultLowStockThreshold":20}`), 0o644); err != nil {
		t.Fatalf("rewrite rules: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.Rules().SLAFor("urgent") == 15 && w.Rules().DefaultLowStockThreshold == 20 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("rules were not reloaded, still %+v", w.Rules())
}

func TestRulesWatcherRejectsMissingFile(t *testing.T) {
	if _, err := NewRulesWatcher(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatalf("expected error for missing rules file")
	}
}
