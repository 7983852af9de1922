// Package tools implements the Tool Registry: a name-to-descriptor map of
// {schema, execute} values, read-only after session start, with argument
// validation against each tool's JSON-schema descriptor (spec §4.2).
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ExecContext bears everything a Tool.Execute needs and nothing it may
// retain past return: the session's project root, a cancellation signal,
// and a deadline (spec §4.2 execution contract).
type ExecContext struct {
	ProjectRoot string
	Context     context.Context
}

// Result is a tool's execution outcome before it is folded into a
// core.ToolResult by the turn runner.
type Result struct {
	Content    string
	Structured any
}

// Tool is the polymorphic unit the registry maps names to. Tools are
// values satisfying this interface; identity is never coupled to a static
// compile-time discriminant so that externally namespaced tools (an MCP-
// style tool server) can be registered dynamically (spec §9 "Polymorphism").
type Tool interface {
	Name() string
	Schema() json.RawMessage
	// ReadOnly declares the tool side-effect-free for the Policy Engine's
	// ModeDefault fallback.
	ReadOnly() bool
	Execute(ectx ExecContext, args json.RawMessage) (Result, error)
}

// Registry is the read-only-after-start name -> Tool map.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register compiles the tool's schema and adds it to the registry. Register
// is intended to run during session start, before any turn dispatches; the
// registry is not safe for concurrent Register calls racing Execute/Get,
// mirroring the teacher's read-mostly ToolRegistry.
func (r *Registry) Register(t Tool) error {
	compiled, err := compileSchema(t.Name(), t.Schema())
	if err != nil {
		return fmt.Errorf("tools: compile schema for %s: %w", t.Name(), err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	if compiled != nil {
		r.schemas[t.Name()] = compiled
	} else {
		delete(r.schemas, t.Name())
	}
	return nil
}

func compileSchema(name string, schema json.RawMessage) (*jsonschema.Schema, error) {
	if len(schema) == 0 {
		return nil, nil
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name+".schema.json", bytesReader(schema)); err != nil {
		return nil, err
	}
	return c.Compile(name + ".schema.json")
}

// Get returns the tool registered under name, if any.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns every registered tool name, for schema export to the model.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	return names
}

// ErrSchemaViolation is returned by Validate when arguments fail the tool's
// declared JSON schema (spec §4.3: "malformed tool arguments").
var ErrSchemaViolation = fmt.Errorf("tools: arguments do not satisfy schema")

// Validate checks args against the tool's compiled schema, if one was
// supplied at Register time. A tool with no schema accepts any arguments.
func (r *Registry) Validate(name string, args json.RawMessage) error {
	r.mu.RLock()
	schema, ok := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	var decoded any
	if len(args) == 0 {
		args = []byte("{}")
	}
	if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	return nil
}
