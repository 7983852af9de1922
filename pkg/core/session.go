package core

import "time"

// PermissionMode supplies the Policy Engine's fallback decision when no Rule
// matches a tool invocation.
type PermissionMode string

const (
	ModeDefault           PermissionMode = "default"
	ModeAcceptEdits       PermissionMode = "acceptEdits"
	ModeBypassPermissions PermissionMode = "bypassPermissions"
)

// Effect is one of the three outcomes the Policy Engine can return for a
// tool invocation.
type Effect string

const (
	Allow Effect = "allow"
	Ask   Effect = "ask"
	Deny  Effect = "deny"
)

// Decision is the Policy Engine's verdict for one tool call, including the
// rule (or built-in) that produced it.
type Decision struct {
	Effect Effect
	Reason string
}

// MatchKind distinguishes the three pattern shapes a Rule's ToolPattern can
// take.
type MatchKind int

const (
	MatchAny MatchKind = iota
	MatchPrefix
	MatchExact
)

// ToolPattern is a compiled match target: a bare tool name, a name with a
// single argument-glob (Bash(git:*)), an exact argument match
// (Bash(literal)), or a dotted external-tool-server pattern (jira.*).
type ToolPattern struct {
	ToolName string
	Dotted   bool // Name.* — matches any externally namespaced tool under ToolName
	Kind     MatchKind
	Arg      string // prefix (without trailing *) or exact literal, per Kind
}

// Rule is one pattern-effect pair in a policy's rule set. Source records
// where the rule came from (e.g. "rules.yaml:12") for Decision.Reason.
type Rule struct {
	Effect  Effect
	Pattern ToolPattern
	Source  string
}

// RuleSet is an ordered list of Rules plus the rate-limit knob described in
// SPEC_FULL.md's supplemented "approval rate-limiting per session" feature.
type RuleSet struct {
	Rules []Rule

	// MaxAutoApprovals bounds how many Ask-turned-Allow resumes with
	// remember:Session may be auto-applied before the engine forces a
	// fresh Ask regardless of the remembered rule. Zero means unlimited.
	MaxAutoApprovals int
}

// Session is the daemon's in-memory record of one conversation. Identified
// by an opaque, cryptographically random id (a UUIDv4 rendered as a
// string). A Session has at most one active Turn at a time.
type Session struct {
	ID         string
	ProjectDir string
	Persona    string
	Mode       PermissionMode
	Rules      RuleSet
	History    []Message

	// Target is the `model@backend` string chosen at session-open time
	// (spec §4.3), e.g. "claude-opus-4-20250514@anthropic". It is fixed
	// for the session's lifetime; switching models means opening a new
	// session.
	Target string

	CreatedAt    time.Time
	LastActivity time.Time

	Usage Usage
}

// Touch refreshes the session's idle-timeout clock.
func (s *Session) Touch() {
	s.LastActivity = time.Now()
}

// IdleFor reports how long the session has been idle as of now.
func (s *Session) IdleFor() time.Duration {
	return time.Since(s.LastActivity)
}
