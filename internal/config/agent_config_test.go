package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAgentConfigAppliesDefaultsForUnsetFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	if err := os.WriteFile(path, []byte(`
turn:
  max_turns: 20
gateway:
  port: 9999
`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadAgentConfig(path)
	if err != nil {
		t.Fatalf("LoadAgentConfig: %v", err)
	}
	if cfg.Turn.MaxTurns != 20 {
		t.Fatalf("want overridden max_turns=20, got %d", cfg.Turn.MaxTurns)
	}
	if cfg.Turn.ToolTimeoutMS != 120_000 {
		t.Fatalf("want default tool_timeout_ms=120000, got %d", cfg.Turn.ToolTimeoutMS)
	}
	if cfg.AgentGateway.Port != 9999 {
		t.Fatalf("want overridden gateway.port=9999, got %d", cfg.AgentGateway.Port)
	}
	if cfg.AgentGateway.Bind != "127.0.0.1" {
		t.Fatalf("want default gateway.bind, got %q", cfg.AgentGateway.Bind)
	}
	if cfg.Daemon.SocketPath == "" {
		t.Fatal("want a non-empty default daemon.socket_path")
	}
}

func TestTurnConfigToTurnConfigFallsBackToDefaults(t *testing.T) {
	tc := TurnConfig{MaxTurns: 5}
	got := tc.ToTurnConfig()
	if got.MaxIterations != 5 {
		t.Fatalf("want MaxIterations=5, got %d", got.MaxIterations)
	}
	if got.ToolTimeout != 120*time.Second {
		t.Fatalf("want default ToolTimeout, got %v", got.ToolTimeout)
	}
	if got.ParkTTL != 15*time.Minute {
		t.Fatalf("want default ParkTTL, got %v", got.ParkTTL)
	}
}

func TestSessionLimitsToStoreConfigFallsBackToDefaults(t *testing.T) {
	sl := SessionLimits{MaxSessions: 8}
	got := sl.ToStoreConfig()
	if got.MaxSessions != 8 {
		t.Fatalf("want MaxSessions=8, got %d", got.MaxSessions)
	}
	if got.IdleTTL != 30*time.Minute {
		t.Fatalf("want default IdleTTL, got %v", got.IdleTTL)
	}
}

func TestLoadAgentConfigResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	includedPath := filepath.Join(dir, "turn.yaml")
	if err := os.WriteFile(includedPath, []byte("turn:\n  max_turns: 7\n"), 0o644); err != nil {
		t.Fatalf("write included file: %v", err)
	}
	mainPath := filepath.Join(dir, "agent.yaml")
	if err := os.WriteFile(mainPath, []byte("$include: turn.yaml\n"), 0o644); err != nil {
		t.Fatalf("write main file: %v", err)
	}

	cfg, err := LoadAgentConfig(mainPath)
	if err != nil {
		t.Fatalf("LoadAgentConfig: %v", err)
	}
	if cfg.Turn.MaxTurns != 7 {
		t.Fatalf("want included max_turns=7, got %d", cfg.Turn.MaxTurns)
	}
}
