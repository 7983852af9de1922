// Package policy implements the Policy Engine: a pure decision function
// mapping (tool, args, mode, rules) to Allow/Ask/Deny, plus the built-in
// protections and compiled-pattern matching it relies on.
package policy

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentcore/agentcore/pkg/core"
)

// ReadOnlyTools declares the side-effect-free tool set used by ModeDefault's
// fallback. Callers building a Tool Registry populate this from each tool
// descriptor's own declaration; this default list covers the common core
// tools named in spec.md's scenarios.
var ReadOnlyTools = map[string]bool{
	"Read": true,
	"Glob": true,
	"Grep": true,
	"Ls":   true,
}

// FileMutationTools declares tools that edit files but do not run arbitrary
// commands or reach the network; ModeAcceptEdits allows these.
var FileMutationTools = map[string]bool{
	"Write": true,
	"Edit":  true,
}

// builtinShellNames are denied outright regardless of rules or mode, per
// spec §4.1 step 2: "shell invocations whose first token resolves ... to
// curl or wget return Deny(built-in)".
var builtinShellNames = map[string]bool{"curl": true, "wget": true}

// shellAliases strips a conventional alias/path prefix before comparing
// against builtinShellNames, e.g. "/usr/bin/curl" or "command curl".
func firstShellToken(command string) string {
	fields := strings.Fields(strings.TrimSpace(command))
	if len(fields) == 0 {
		return ""
	}
	tok := fields[0]
	if tok == "command" && len(fields) > 1 {
		tok = fields[1]
	}
	tok = strings.TrimPrefix(tok, `\`)
	return filepath.Base(tok)
}

// firstArgString extracts the conventional "first argument" string used by
// prefix/exact pattern matching. Tool arguments are a JSON value; this
// engine treats a handful of canonical keys (the ones core tools actually
// use) as the positional argument, falling back to a bare JSON string.
func firstArgString(args json.RawMessage) string {
	if len(args) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(args, &s) == nil {
		return s
	}
	var obj map[string]json.RawMessage
	if json.Unmarshal(args, &obj) != nil {
		return ""
	}
	for _, key := range []string{"command", "query", "pattern", "path", "url"} {
		if raw, ok := obj[key]; ok {
			var v string
			if json.Unmarshal(raw, &v) == nil {
				return v
			}
		}
	}
	return ""
}

// pathArgs extracts every string-valued "path"-ish argument for the escape
// check in step 2.
func pathArgs(args json.RawMessage) []string {
	var obj map[string]json.RawMessage
	if json.Unmarshal(args, &obj) != nil {
		return nil
	}
	var out []string
	for _, key := range []string{"path", "file_path", "dir"} {
		if raw, ok := obj[key]; ok {
			var v string
			if json.Unmarshal(raw, &v) == nil && v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

// Decide is the Policy Engine's pure decision function. Identical inputs
// always yield identical outputs (spec §4.1, testable property 4).
func Decide(toolName string, args json.RawMessage, mode core.PermissionMode, rules core.RuleSet, projectRoot string) core.Decision {
	firstArg := firstArgString(args)

	// Step 1: evaluate rules in declared order.
	for _, rule := range rules.Rules {
		if matches(rule.Pattern, toolName, firstArg) {
			return core.Decision{Effect: rule.Effect, Reason: rule.Source}
		}
	}

	// Step 2: built-in protections.
	if toolName == "Bash" && builtinShellNames[firstShellToken(firstArg)] {
		return core.Decision{Effect: core.Deny, Reason: "built-in"}
	}
	if projectRoot != "" {
		for _, p := range pathArgs(args) {
			if escapesRoot(p, projectRoot) {
				return core.Decision{Effect: core.Deny, Reason: "escape"}
			}
		}
	}

	// Step 3: mode default.
	switch mode {
	case core.ModeBypassPermissions:
		return core.Decision{Effect: core.Allow, Reason: "mode:bypassPermissions"}
	case core.ModeAcceptEdits:
		if ReadOnlyTools[toolName] || FileMutationTools[toolName] {
			return core.Decision{Effect: core.Allow, Reason: "mode:acceptEdits"}
		}
		return core.Decision{Effect: core.Ask, Reason: "mode:acceptEdits"}
	default: // ModeDefault, and the zero value
		if ReadOnlyTools[toolName] {
			return core.Decision{Effect: core.Allow, Reason: "mode:default"}
		}
		return core.Decision{Effect: core.Ask, Reason: "mode:default"}
	}
}

// escapesRoot reports whether path, resolved for symlinks and relative to
// root, lands outside root.
func escapesRoot(path, root string) bool {
	if path == "" {
		return false
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// Path does not exist yet (e.g. a Write target); fall back to the
		// lexical join so new-file writes are still checked.
		resolved = filepath.Clean(abs)
	}
	rootResolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		rootResolved = filepath.Clean(root)
	}
	rel, err := filepath.Rel(rootResolved, resolved)
	if err != nil {
		return true
	}
	return rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}
