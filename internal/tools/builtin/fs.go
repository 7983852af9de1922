// Package builtin provides the small reference tool set the daemon wires
// into every session's Tool Registry: Read, Glob, Write, and Bash. Richer
// tool implementations (patch/edit/search backends) are out of scope per
// spec §1 and are left as an external collaborator satisfying
// tools.Tool.
package builtin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/agentcore/agentcore/internal/tools"
)

// ReadTool reads a file's contents relative to the session's project root.
type ReadTool struct{}

func (ReadTool) Name() string     { return "Read" }
func (ReadTool) ReadOnly() bool   { return true }
func (ReadTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"path": {"type": "string"}},
		"required": ["path"]
	}`)
}

func (ReadTool) Execute(ectx tools.ExecContext, args json.RawMessage) (tools.Result, error) {
	var in struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return tools.Result{}, fmt.Errorf("Read: invalid arguments: %w", err)
	}
	full := in.Path
	if !filepath.IsAbs(full) {
		full = filepath.Join(ectx.ProjectRoot, full)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return tools.Result{}, err
	}
	return tools.Result{Content: string(data)}, nil
}

// GlobTool lists files under the project root matching a pattern.
type GlobTool struct{}

func (GlobTool) Name() string   { return "Glob" }
func (GlobTool) ReadOnly() bool { return true }
func (GlobTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"pattern": {"type": "string"}},
		"required": ["pattern"]
	}`)
}

func (GlobTool) Execute(ectx tools.ExecContext, args json.RawMessage) (tools.Result, error) {
	var in struct {
		Pattern string `json:"pattern"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return tools.Result{}, fmt.Errorf("Glob: invalid arguments: %w", err)
	}
	pattern := in.Pattern
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(ectx.ProjectRoot, pattern)
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return tools.Result{}, err
	}
	payload, err := json.Marshal(matches)
	if err != nil {
		return tools.Result{}, err
	}
	return tools.Result{Content: string(payload), Structured: matches}, nil
}

// WriteTool creates or overwrites a file under the project root.
type WriteTool struct{}

func (WriteTool) Name() string   { return "Write" }
func (WriteTool) ReadOnly() bool { return false }
func (WriteTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string"},
			"content": {"type": "string"}
		},
		"required": ["path", "content"]
	}`)
}

func (WriteTool) Execute(ectx tools.ExecContext, args json.RawMessage) (tools.Result, error) {
	var in struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return tools.Result{}, fmt.Errorf("Write: invalid arguments: %w", err)
	}
	full := in.Path
	if !filepath.IsAbs(full) {
		full = filepath.Join(ectx.ProjectRoot, full)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return tools.Result{}, err
	}
	if err := os.WriteFile(full, []byte(in.Content), 0o644); err != nil {
		return tools.Result{}, err
	}
	return tools.Result{Content: fmt.Sprintf("wrote %d bytes to %s", len(in.Content), in.Path)}, nil
}
