package policy

import (
	"fmt"
	"strings"

	"github.com/agentcore/agentcore/pkg/core"
)

// ParsePattern compiles a rule-file pattern string into a core.ToolPattern.
// Accepted shapes:
//
//	Name              -> MatchAny
//	Name(prefix:*)    -> MatchPrefix, Arg="prefix:"
//	Name(literal)     -> MatchExact, Arg="literal"
//	Name.*            -> Dotted, MatchAny (externally namespaced tool server)
func ParsePattern(s string) (core.ToolPattern, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return core.ToolPattern{}, fmt.Errorf("policy: empty pattern")
	}

	if strings.HasSuffix(s, ".*") {
		return core.ToolPattern{ToolName: strings.TrimSuffix(s, ".*"), Dotted: true, Kind: core.MatchAny}, nil
	}

	open := strings.IndexByte(s, '(')
	if open < 0 {
		return core.ToolPattern{ToolName: s, Kind: core.MatchAny}, nil
	}
	if !strings.HasSuffix(s, ")") {
		return core.ToolPattern{}, fmt.Errorf("policy: unterminated pattern %q", s)
	}
	name := s[:open]
	inner := s[open+1 : len(s)-1]
	if name == "" || inner == "" {
		return core.ToolPattern{}, fmt.Errorf("policy: malformed pattern %q", s)
	}

	if strings.HasSuffix(inner, ":*") {
		return core.ToolPattern{ToolName: name, Kind: core.MatchPrefix, Arg: inner[:len(inner)-1]}, nil
	}
	return core.ToolPattern{ToolName: name, Kind: core.MatchExact, Arg: inner}, nil
}

// matches reports whether the pattern matches a call to toolName whose
// first argument string (when arguments are present) is firstArg.
func matches(p core.ToolPattern, toolName, firstArg string) bool {
	if p.Dotted {
		return strings.HasPrefix(toolName, p.ToolName+".")
	}
	if toolName != p.ToolName {
		return false
	}
	switch p.Kind {
	case core.MatchAny:
		return true
	case core.MatchPrefix:
		return strings.HasPrefix(firstArg, p.Arg)
	case core.MatchExact:
		return firstArg == p.Arg
	default:
		return false
	}
}
