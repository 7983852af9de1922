package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testRulesV1 = `
max_auto_approvals: 3
rules:
  - effect: allow
    pattern: "Read(**)"
`

const testRulesV2 = `
max_auto_approvals: 3
rules:
  - effect: allow
    pattern: "Read(**)"
  - effect: ask
    pattern: "Shell(**)"
`

func TestNewRuleWatcherLoadsInitialRuleSet(t *testing.T) {
	path := writeRules(t, testRulesV1)
	w, err := NewRuleWatcher(path, slog.Default())
	if err != nil {
		t.Fatalf("NewRuleWatcher: %v", err)
	}
	rs := w.Current()
	if len(rs.Rules) != 1 {
		t.Fatalf("want 1 rule, got %d", len(rs.Rules))
	}
	if rs.MaxAutoApprovals != 3 {
		t.Fatalf("want max_auto_approvals=3, got %d", rs.MaxAutoApprovals)
	}
}

func TestRuleWatcherReloadsOnFileChange(t *testing.T) {
	path := writeRules(t, testRulesV1)
	w, err := NewRuleWatcher(path, slog.Default())
	if err != nil {
		t.Fatalf("NewRuleWatcher: %v", err)
	}
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte(testRulesV2), 0o644); err != nil {
		t.Fatalf("rewrite rules file: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(w.Current().Rules) == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("want reloaded ruleset with 2 rules, got %d", len(w.Current().Rules))
}

func TestRuleWatcherKeepsPreviousRuleSetOnParseError(t *testing.T) {
	path := writeRules(t, testRulesV1)
	w, err := NewRuleWatcher(path, slog.Default())
	if err != nil {
		t.Fatalf("NewRuleWatcher: %v", err)
	}
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("not: [valid: yaml"), 0o644); err != nil {
		t.Fatalf("rewrite rules file: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	rs := w.Current()
	if len(rs.Rules) != 1 {
		t.Fatalf("want previous ruleset retained (1 rule), got %d", len(rs.Rules))
	}
}

func writeRules(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write rules file: %v", err)
	}
	return path
}
