package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentcore/agentcore/internal/sessionstore"
	"github.com/agentcore/agentcore/internal/turn"
)

// AgentConfig is the daemon's configuration surface (spec §6): turn
// execution bounds, session lifecycle TTLs, and the two transports'
// listen settings. Decoded with the same `$include`/env-expanding
// LoadRaw this package already provides, so a deployment can still
// split a large config across included files the way the teacher's own
// multi-file nexus config does, narrowed to the fields SPEC_FULL.md
// names instead of the teacher's full channel/LLM/plugin surface.
type AgentConfig struct {
	Turn          TurnConfig     `yaml:"turn"`
	Session       SessionLimits  `yaml:"session"`
	AgentGateway  GatewayNetwork `yaml:"gateway"`
	Daemon        DaemonNetwork  `yaml:"daemon"`
	Backends      BackendsConfig `yaml:"backends"`
	RulesPath     string         `yaml:"rules_path"`
	TranscriptDir string         `yaml:"transcript_dir"`
}

// BackendsConfig names the reference backend adapters this daemon wires
// into its internal/backend.Registry (spec §3's "model@backend" target
// selection, DOMAIN STACK's three reference adapters). Any provider
// section left at its zero value is simply not registered; a daemon
// that only talks to Anthropic need not fill in OpenAI or Bedrock.
type BackendsConfig struct {
	Anthropic AnthropicBackendConfig `yaml:"anthropic"`
	OpenAI    OpenAIBackendConfig    `yaml:"openai"`
	Bedrock   BedrockBackendConfig   `yaml:"bedrock"`
}

type AnthropicBackendConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
	MaxTokens    int64  `yaml:"max_tokens"`
}

type OpenAIBackendConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	MaxTokens    int    `yaml:"max_tokens"`
}

type BedrockBackendConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	DefaultModel    string `yaml:"default_model"`
	MaxTokens       int32  `yaml:"max_tokens"`
}

// TurnConfig mirrors turn.Config's fields in their documented
// millisecond wire units.
type TurnConfig struct {
	MaxTurns       int `yaml:"max_turns"`
	ToolTimeoutMS  int `yaml:"tool_timeout_ms"`
	ShellTimeoutMS int `yaml:"shell_timeout_ms"`
	ParkTTLMS      int `yaml:"park_ttl_ms"`
	MaxAutoApprove int `yaml:"max_auto_approve"`
}

// ToTurnConfig converts the wire-unit TurnConfig into turn.Config,
// falling back to turn.DefaultConfig()'s values for any zero field so a
// partial config file only overrides what it names.
func (t TurnConfig) ToTurnConfig() turn.Config {
	d := turn.DefaultConfig()
	cfg := d
	if t.MaxTurns > 0 {
		cfg.MaxIterations = t.MaxTurns
	}
	if t.ToolTimeoutMS > 0 {
		cfg.ToolTimeout = time.Duration(t.ToolTimeoutMS) * time.Millisecond
	}
	if t.ShellTimeoutMS > 0 {
		cfg.ShellTimeout = time.Duration(t.ShellTimeoutMS) * time.Millisecond
	}
	if t.ParkTTLMS > 0 {
		cfg.ParkTTL = time.Duration(t.ParkTTLMS) * time.Millisecond
	}
	if t.MaxAutoApprove > 0 {
		cfg.MaxAutoApprove = t.MaxAutoApprove
	}
	return cfg
}

// SessionLimits mirrors sessionstore.Config's fields in wire units.
type SessionLimits struct {
	MaxSessions      int `yaml:"max_sessions"`
	IdleSessionTTLMS int `yaml:"idle_session_ttl_ms"`
	ParkTTLMS        int `yaml:"park_ttl_ms"`
}

// ToStoreConfig converts SessionLimits into sessionstore.Config, the
// same zero-means-default rule as ToTurnConfig.
func (s SessionLimits) ToStoreConfig() sessionstore.Config {
	d := sessionstore.DefaultConfig()
	cfg := d
	if s.MaxSessions > 0 {
		cfg.MaxSessions = s.MaxSessions
	}
	if s.IdleSessionTTLMS > 0 {
		cfg.IdleTTL = time.Duration(s.IdleSessionTTLMS) * time.Millisecond
	}
	if s.ParkTTLMS > 0 {
		cfg.ParkTTL = time.Duration(s.ParkTTLMS) * time.Millisecond
	}
	return cfg
}

// GatewayNetwork configures the external websocket transport
// (internal/wsgateway).
type GatewayNetwork struct {
	Bind         string `yaml:"bind"`
	Port         int    `yaml:"port"`
	EventBuffer  int    `yaml:"event_buffer"`
	ClientBuffer int    `yaml:"client_buffer"`
	Token        string `yaml:"token"`
	JWTSecret    string `yaml:"jwt_secret"`
	JWTExpiryMS  int    `yaml:"jwt_expiry_ms"`
}

// DaemonNetwork configures the local, unauthenticated socket transport
// (internal/agentd.SocketServer).
type DaemonNetwork struct {
	SocketPath string `yaml:"socket_path"`
}

// DefaultAgentConfig returns the spec's documented defaults for every
// field an operator's config file is allowed to leave unset.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Turn: TurnConfig{
			MaxTurns:       12,
			ToolTimeoutMS:  120_000,
			ShellTimeoutMS: 600_000,
			ParkTTLMS:      900_000,
		},
		Session: SessionLimits{
			MaxSessions:      64,
			IdleSessionTTLMS: 1_800_000,
			ParkTTLMS:        900_000,
		},
		AgentGateway: GatewayNetwork{
			Bind:         "127.0.0.1",
			Port:         18789,
			EventBuffer:  1024,
			ClientBuffer: 256,
		},
		Daemon: DaemonNetwork{
			SocketPath: "/tmp/agentcored.sock",
		},
		RulesPath:     "rules.yaml",
		TranscriptDir: "./data/transcripts",
	}
}

// LoadAgentConfig reads path (resolving $include directives and
// expanding environment variables via LoadRaw) into an AgentConfig
// seeded with DefaultAgentConfig's values.
func LoadAgentConfig(path string) (AgentConfig, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return AgentConfig{}, err
	}
	cfg := DefaultAgentConfig()
	data, err := yaml.Marshal(raw)
	if err != nil {
		return AgentConfig{}, fmt.Errorf("config: re-marshal raw config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return AgentConfig{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}
